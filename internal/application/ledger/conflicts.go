package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgerlink/backend/internal/domain/ledger"
	"github.com/ledgerlink/backend/internal/infrastructure/telemetry"
)

// ---------------------------------------------------------------------------
// Conflict Service
// ---------------------------------------------------------------------------

// ConflictService exposes captured divergences and applies resolution
// decisions. Resolving never touches the remote ledger directly: use_local
// leaves the local baseline stale on purpose so the next push re-asserts
// the local version through the normal pipeline.
type ConflictService struct {
	conflicts ledger.ConflictRepository
	states    ledger.SyncStateRepository
	audits    ledger.AuditRepository
	local     ledger.LocalStore
	logger    *zap.Logger
}

// NewConflictService wires a conflict service.
func NewConflictService(conflicts ledger.ConflictRepository, states ledger.SyncStateRepository, audits ledger.AuditRepository, local ledger.LocalStore, logger *zap.Logger) *ConflictService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConflictService{
		conflicts: conflicts,
		states:    states,
		audits:    audits,
		local:     local,
		logger:    logger,
	}
}

// List pages through a tenant's conflicts, newest first.
func (s *ConflictService) List(ctx context.Context, tenantID uuid.UUID, filter ledger.ConflictFilter) ([]ledger.ConflictRecord, int64, error) {
	return s.conflicts.List(ctx, tenantID, filter)
}

// Get loads one conflict with both captured documents.
func (s *ConflictService) Get(ctx context.Context, tenantID, conflictID uuid.UUID) (*ledger.ConflictRecord, error) {
	return s.conflicts.FindByID(ctx, tenantID, conflictID)
}

// Resolve applies a resolution decision and unfreezes the record.
//
//	use_remote  the captured remote version overwrites the local record
//	use_local   the local version stands; the next push re-asserts it
//	skip        both versions stand; the divergence becomes the baseline
func (s *ConflictService) Resolve(ctx context.Context, tenantID, conflictID uuid.UUID, resolution ledger.Resolution, resolvedBy string) (*ledger.ConflictRecord, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "conflict", "resolve")
	defer span.End()
	telemetry.SetAttributes(span,
		telemetry.SpanAttrConflictID, conflictID.String(),
		telemetry.SpanAttrResolution, resolution.String(),
	)

	if !resolution.IsValid() {
		return nil, fmt.Errorf("%w: %q", ledger.ErrInvalidResolution, resolution)
	}

	conflict, err := s.conflicts.FindByID(ctx, tenantID, conflictID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if !conflict.Open() {
		return nil, ledger.ErrConflictResolved
	}

	state, err := s.states.FindByLocalID(ctx, tenantID, conflict.EntityType, conflict.LocalID)
	if err != nil {
		return nil, err
	}

	switch resolution {
	case ledger.ResolutionUseRemote:
		if err := s.applyRemoteVersion(ctx, tenantID, conflict, state); err != nil {
			return nil, err
		}

	case ledger.ResolutionUseLocal:
		// The local baseline stays where the conflict froze it, so the
		// classifier sees LOCAL_ONLY on the next push and re-asserts the
		// local version.
		if err := state.ResolveWith(state.LastLocalFingerprint, conflict.RemoteFingerprint, conflict.CorrelationID); err != nil {
			return nil, err
		}

	case ledger.ResolutionSkip:
		// Both sides stand as they are; the captured versions become the
		// new baseline.
		if err := state.ResolveWith(conflict.LocalFingerprint, conflict.RemoteFingerprint, conflict.CorrelationID); err != nil {
			return nil, err
		}
	}

	if err := conflict.Resolve(resolution, resolvedBy); err != nil {
		return nil, err
	}
	if err := s.states.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("ledger: unfreezing state: %w", err)
	}
	if err := s.conflicts.Save(ctx, conflict); err != nil {
		return nil, fmt.Errorf("ledger: closing conflict: %w", err)
	}

	entry := ledger.NewAuditEntry(tenantID, conflict.CorrelationID, conflict.EntityType, ledger.DirectionBoth, ledger.AuditActionResolve).
		WithLocal(conflict.LocalID).
		WithRemote(conflict.RemoteID).
		WithClass(ledger.ChangeBoth).
		WithDetail(fmt.Sprintf("resolved as %s by %s", resolution, resolvedBy))
	if err := s.audits.Append(ctx, entry); err != nil {
		s.logger.Warn("Failed to append resolution audit entry",
			zap.String("conflict_id", conflictID.String()),
			zap.Error(err),
		)
	}

	s.logger.Info("Conflict resolved",
		zap.String("conflict_id", conflictID.String()),
		zap.String("tenant_id", tenantID.String()),
		zap.String("entity_type", conflict.EntityType.String()),
		zap.String("resolution", resolution.String()),
		zap.String("resolved_by", resolvedBy),
	)
	return conflict, nil
}

// applyRemoteVersion overwrites the local record with the captured remote
// document and rebaselines on what the record actually stores afterwards.
func (s *ConflictService) applyRemoteVersion(ctx context.Context, tenantID uuid.UUID, conflict *ledger.ConflictRecord, state *ledger.SyncState) error {
	if err := s.local.ApplyPatch(ctx, tenantID, conflict.EntityType, conflict.LocalID, conflict.RemoteDocument); err != nil {
		return fmt.Errorf("ledger: applying remote version: %w", err)
	}

	localRec, err := s.local.GetRecord(ctx, tenantID, conflict.EntityType, conflict.LocalID)
	if err != nil {
		return err
	}
	localFp, err := ledger.Fingerprint(localRec.Document)
	if err != nil {
		return err
	}

	return state.ResolveWith(localFp, conflict.RemoteFingerprint, conflict.CorrelationID)
}
