package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgerlink/backend/internal/domain/ledger"
	"github.com/ledgerlink/backend/internal/infrastructure/telemetry"
)

// ---------------------------------------------------------------------------
// Pipeline Wiring
// ---------------------------------------------------------------------------

// ErrInvalidConfig rejects missing ports or non-positive tunables.
var ErrInvalidConfig = errors.New("ledger: invalid pipeline configuration")

// Deps bundles the ports the pipelines and the orchestrator work against.
// Archiver and Metrics are optional; everything else is required.
type Deps struct {
	States      ledger.SyncStateRepository
	Conflicts   ledger.ConflictRepository
	Checkpoints ledger.CheckpointRepository
	Audits      ledger.AuditRepository
	Runs        ledger.SyncRunRepository
	Connections ledger.ConnectionRepository
	Local       ledger.LocalStore
	Remote      ledger.RemoteLedger
	// Tokens is required by the orchestrator's credential precondition;
	// the pipelines never touch it
	Tokens   ledger.TokenProvider
	Archiver ledger.ConflictArchiver
	Metrics  *telemetry.SyncMetrics
	Logger   *zap.Logger
}

// Validate checks that every required port is wired.
func (d Deps) Validate() error {
	if d.States == nil || d.Conflicts == nil || d.Checkpoints == nil || d.Audits == nil ||
		d.Runs == nil || d.Connections == nil || d.Local == nil || d.Remote == nil {
		return ErrInvalidConfig
	}
	return nil
}

func (d Deps) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

// PipelineConfig holds the tunables shared by the pull and push pipelines.
type PipelineConfig struct {
	// PageSize is the fixed page size for remote listings and push batches
	PageSize int
	// Workers is the number of records processed concurrently per batch
	Workers int
	// Retry bounds per-request retries against the remote ledger
	Retry RetryPolicy
}

// DefaultPipelineConfig returns the default pipeline tuning.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		PageSize: 100,
		Workers:  4,
		Retry:    DefaultRetryPolicy(),
	}
}

// Validate validates the configuration.
func (c *PipelineConfig) Validate() error {
	if c.PageSize <= 0 {
		return ErrInvalidConfig
	}
	if c.Workers <= 0 {
		return ErrInvalidConfig
	}
	if c.Retry.MaxAttempts <= 0 || c.Retry.BaseDelay <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// ---------------------------------------------------------------------------
// Shared Pipeline Plumbing
// ---------------------------------------------------------------------------

// recordResult carries one record's outcome out of a pool worker. fatal is
// non-nil only for failures that must abort the whole run.
type recordResult struct {
	counters ledger.RunCounters
	fatal    error
	// updatedAt is the remote modification time of the record, used by the
	// pull cursor bookkeeping
	updatedAt time.Time
	// holdCursor pins the pull watermark at or before this record. A record
	// behind the watermark is invisible to later pulls, so anything that was
	// not fully settled must stay in front of it.
	holdCursor bool
}

// pipelineBase holds what both pipelines share: ports, tuning, per-entity
// write serialization and the failure bookkeeping.
type pipelineBase struct {
	deps   Deps
	cfg    PipelineConfig
	locks  *keyedMutex
	logger *zap.Logger
}

func newPipelineBase(deps Deps, cfg PipelineConfig) (pipelineBase, error) {
	if err := deps.Validate(); err != nil {
		return pipelineBase{}, err
	}
	if err := cfg.Validate(); err != nil {
		return pipelineBase{}, err
	}
	return pipelineBase{
		deps:   deps,
		cfg:    cfg,
		locks:  newKeyedMutex(),
		logger: deps.logger(),
	}, nil
}

// audit appends one trail entry. Append failures are logged, never fatal;
// losing a trail entry must not fail the record it describes.
func (b *pipelineBase) audit(ctx context.Context, entry *ledger.AuditEntry) {
	if err := b.deps.Audits.Append(ctx, entry); err != nil {
		b.logger.Warn("Failed to append audit entry",
			zap.String("run_id", entry.RunID.String()),
			zap.String("entity_type", entry.EntityType.String()),
			zap.Error(err),
		)
	}
	b.deps.Metrics.RecordOutcome(ctx, entry.TenantID, entry.EntityType.String(), entry.Direction.String(), entry.Action.String())
}

// fail folds a per-record error into counters and the audit trail. Missing
// dependencies count as skips, fatal errors additionally abort the run,
// everything else is a terminal failure for this record only.
func (b *pipelineBase) fail(ctx context.Context, run *ledger.SyncRun, direction ledger.Direction, entityType ledger.EntityType, localID *uuid.UUID, remoteID string, res *recordResult, err error) {
	class := ledger.ClassifyError(err)
	res.holdCursor = true

	action := ledger.AuditActionError
	if class == ledger.ErrorClassDependency {
		action = ledger.AuditActionSkip
		res.counters.Skipped = 1
	} else {
		res.counters.Failed = 1
	}
	if class == ledger.ErrorClassFatal {
		res.fatal = err
	}

	entry := ledger.NewAuditEntry(run.TenantID, run.ID, entityType, direction, action).
		WithRemote(remoteID).
		WithDetail(err.Error()).
		AsDryRun(run.Options.DryRun)
	if localID != nil {
		entry = entry.WithLocal(*localID)
	}
	b.audit(ctx, entry)

	b.logger.Warn("Record sync failed",
		zap.String("run_id", run.ID.String()),
		zap.String("entity_type", entityType.String()),
		zap.String("remote_id", remoteID),
		zap.String("error_class", class.String()),
		zap.Error(err),
	)
}

// captureConflict freezes a diverged record: the payload pair is archived,
// a conflict row is opened and the state stops accepting rebaselines until
// someone resolves it. At most one open conflict exists per record.
func (b *pipelineBase) captureConflict(ctx context.Context, run *ledger.SyncRun, direction ledger.Direction, entityType ledger.EntityType, state *ledger.SyncState, localDoc, remoteDoc ledger.Document, localFp, remoteFp string, res *recordResult) {
	res.counters.Conflicts = 1
	res.holdCursor = true

	entry := ledger.NewAuditEntry(run.TenantID, run.ID, entityType, direction, ledger.AuditActionConflict).
		WithLocal(state.LocalID).
		WithRemote(state.RemoteID).
		WithClass(ledger.ChangeBoth).
		AsDryRun(run.Options.DryRun)

	if run.Options.DryRun {
		b.audit(ctx, entry.WithDetail("would freeze record for manual resolution"))
		return
	}

	existing, err := b.deps.Conflicts.FindOpenByRecord(ctx, run.TenantID, entityType, state.LocalID)
	if err != nil {
		res.counters.Conflicts = 0
		b.fail(ctx, run, direction, entityType, &state.LocalID, state.RemoteID, res, err)
		return
	}
	if existing != nil {
		if state.Status != ledger.SyncStatusConflict {
			state.MarkConflict(run.ID)
			if serr := b.deps.States.Save(ctx, state); serr != nil {
				b.logger.Error("Failed to freeze conflicted state",
					zap.String("run_id", run.ID.String()),
					zap.String("local_id", state.LocalID.String()),
					zap.Error(serr),
				)
			}
		}
		b.audit(ctx, entry.WithDetail("conflict already open"))
		return
	}

	conflict := ledger.NewConflictRecord(run.TenantID, entityType, state.LocalID, state.RemoteID, localDoc, remoteDoc, localFp, remoteFp, state.Baseline(), run.ID)

	if b.deps.Archiver != nil {
		key, aerr := b.deps.Archiver.ArchiveConflict(ctx, conflict)
		if aerr != nil {
			b.logger.Warn("Conflict archive failed",
				zap.String("run_id", run.ID.String()),
				zap.String("conflict_id", conflict.ID.String()),
				zap.Error(aerr),
			)
		} else {
			conflict.SetArchiveKey(key)
		}
	}

	if err := b.deps.Conflicts.Save(ctx, conflict); err != nil {
		res.counters.Conflicts = 0
		b.fail(ctx, run, direction, entityType, &state.LocalID, state.RemoteID, res, err)
		return
	}

	state.MarkConflict(run.ID)
	if err := b.deps.States.Save(ctx, state); err != nil {
		b.logger.Error("Failed to freeze conflicted state",
			zap.String("run_id", run.ID.String()),
			zap.String("local_id", state.LocalID.String()),
			zap.Error(err),
		)
	}

	b.audit(ctx, entry)
	b.deps.Metrics.RecordConflict(ctx, run.TenantID, entityType.String())
	b.logger.Info("Conflict captured",
		zap.String("run_id", run.ID.String()),
		zap.String("entity_type", entityType.String()),
		zap.String("local_id", state.LocalID.String()),
		zap.String("remote_id", state.RemoteID),
	)
}

// rebaselineConvergent refreshes the baseline when both sides changed into
// identical content. Neither record is written; only the state moves.
func (b *pipelineBase) rebaselineConvergent(ctx context.Context, run *ledger.SyncRun, direction ledger.Direction, entityType ledger.EntityType, state *ledger.SyncState, localFp, remoteFp string, res *recordResult) {
	entry := ledger.NewAuditEntry(run.TenantID, run.ID, entityType, direction, ledger.AuditActionSkip).
		WithLocal(state.LocalID).
		WithRemote(state.RemoteID).
		WithClass(ledger.ChangeBoth).
		WithDetail("convergent edit, baseline refreshed").
		AsDryRun(run.Options.DryRun)

	res.counters.Skipped = 1
	if run.Options.DryRun {
		b.audit(ctx, entry)
		return
	}

	origin := ledger.OriginRemote
	if direction == ledger.DirectionPush {
		origin = ledger.OriginLocal
	}
	if err := state.Rebaseline(localFp, remoteFp, origin, run.ID); err != nil {
		res.counters.Skipped = 0
		b.fail(ctx, run, direction, entityType, &state.LocalID, state.RemoteID, res, err)
		return
	}
	if err := b.deps.States.Save(ctx, state); err != nil {
		res.counters.Skipped = 0
		b.fail(ctx, run, direction, entityType, &state.LocalID, state.RemoteID, res, err)
		return
	}
	b.audit(ctx, entry)
}

// saveProgress persists live counters so status polling reflects progress.
// Save failures are logged and retried implicitly on the next batch.
func (b *pipelineBase) saveProgress(ctx context.Context, run *ledger.SyncRun, batch ledger.RunCounters) {
	run.Accumulate(batch)
	if err := b.deps.Runs.Save(ctx, run); err != nil {
		b.logger.Warn("Failed to persist run progress",
			zap.String("run_id", run.ID.String()),
			zap.Error(err),
		)
	}
}

// ---------------------------------------------------------------------------
// Keyed Mutex
// ---------------------------------------------------------------------------

// keyedMutex serializes work per key so pool workers never write the same
// record from two goroutines at once.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

// lock acquires the key and returns its release function.
func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// entityKey identifies one record for write serialization.
func entityKey(entityType ledger.EntityType, id string) string {
	return fmt.Sprintf("%s:%s", entityType, id)
}
