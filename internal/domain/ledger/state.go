package ledger

import (
	"time"

	"github.com/google/uuid"
)

// SyncState links one local record to its remote twin and stores the
// fingerprints both sides had after their last successful sync. It is the
// baseline the classifier works against.
//
// Rows are never deleted. A record that stops syncing keeps its state so the
// linkage and the audit trail stay reconstructible.
type SyncState struct {
	// ID is the unique identifier of the state row
	ID uuid.UUID
	// TenantID is the tenant this state belongs to
	TenantID uuid.UUID
	// EntityType is the kind of record being tracked
	EntityType EntityType
	// LocalID is the local record identifier
	LocalID uuid.UUID
	// RemoteID is the identifier assigned by the remote ledger, empty until linked
	RemoteID string
	// LastLocalFingerprint is the local document fingerprint at the last sync
	LastLocalFingerprint string
	// LastRemoteFingerprint is the remote document fingerprint at the last sync
	LastRemoteFingerprint string
	// LastSyncedAt is when the record last completed a sync in either direction
	LastSyncedAt *time.Time
	// LastLocalModifiedAt mirrors the local record's modification time at the last sync
	LastLocalModifiedAt *time.Time
	// LastRemoteModifiedAt mirrors the remote record's modification time at the last sync
	LastRemoteModifiedAt *time.Time
	// Origin records which side authored the change captured by the baseline
	Origin Origin
	// CorrelationID is the run that last touched this state
	CorrelationID uuid.UUID
	// Status freezes the record while a conflict awaits resolution
	Status SyncStatus
	// CreatedAt is when this state row was created
	CreatedAt time.Time
	// UpdatedAt is when this state row was last updated
	UpdatedAt time.Time
}

// NewSyncState creates the state row for a record entering sync for the
// first time. The baseline stays empty until the first Rebaseline.
func NewSyncState(tenantID uuid.UUID, entityType EntityType, localID uuid.UUID) *SyncState {
	now := time.Now().UTC()
	return &SyncState{
		ID:         uuid.New(),
		TenantID:   tenantID,
		EntityType: entityType,
		LocalID:    localID,
		Status:     SyncStatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Baseline returns the stored fingerprint pair, or nil when the record has
// never completed a sync.
func (s *SyncState) Baseline() *Baseline {
	if s == nil {
		return nil
	}
	if s.LastLocalFingerprint == "" && s.LastRemoteFingerprint == "" {
		return nil
	}
	return &Baseline{Local: s.LastLocalFingerprint, Remote: s.LastRemoteFingerprint}
}

// Linked reports whether the record has been assigned a remote id.
func (s *SyncState) Linked() bool {
	return s.RemoteID != ""
}

// Link records the remote id the ledger assigned to this record.
func (s *SyncState) Link(remoteID string) {
	s.RemoteID = remoteID
	s.UpdatedAt = time.Now().UTC()
}

// Rebaseline stores a new fingerprint pair after a successful sync. It
// refuses to advance the baseline of a conflicted record; conflicts are only
// cleared through ResolveWith.
func (s *SyncState) Rebaseline(localFingerprint, remoteFingerprint string, origin Origin, correlationID uuid.UUID) error {
	if s.Status == SyncStatusConflict {
		return ErrStateConflicted
	}
	now := time.Now().UTC()
	s.LastLocalFingerprint = localFingerprint
	s.LastRemoteFingerprint = remoteFingerprint
	s.Origin = origin
	s.CorrelationID = correlationID
	s.LastSyncedAt = &now
	s.UpdatedAt = now
	return nil
}

// TouchModified mirrors the modification timestamps both sides reported at
// sync time. Nil leaves the stored value untouched.
func (s *SyncState) TouchModified(localModifiedAt, remoteModifiedAt *time.Time) {
	if localModifiedAt != nil {
		t := localModifiedAt.UTC()
		s.LastLocalModifiedAt = &t
	}
	if remoteModifiedAt != nil {
		t := remoteModifiedAt.UTC()
		s.LastRemoteModifiedAt = &t
	}
}

// MarkConflict freezes the record until a resolution is applied. Marking an
// already conflicted record is a no-op so repeated runs do not thrash.
func (s *SyncState) MarkConflict(correlationID uuid.UUID) {
	if s.Status == SyncStatusConflict {
		return
	}
	s.Status = SyncStatusConflict
	s.CorrelationID = correlationID
	s.UpdatedAt = time.Now().UTC()
}

// ResolveWith clears the conflict and installs the baseline chosen by the
// resolution. It is the only path from CONFLICT back to ACTIVE.
func (s *SyncState) ResolveWith(localFingerprint, remoteFingerprint string, correlationID uuid.UUID) error {
	if s.Status != SyncStatusConflict {
		return ErrConflictResolved
	}
	now := time.Now().UTC()
	s.Status = SyncStatusActive
	s.LastLocalFingerprint = localFingerprint
	s.LastRemoteFingerprint = remoteFingerprint
	s.Origin = OriginResolution
	s.CorrelationID = correlationID
	s.LastSyncedAt = &now
	s.UpdatedAt = now
	return nil
}
