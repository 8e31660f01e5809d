package ledger

import (
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// ConflictStatus
// ---------------------------------------------------------------------------

// ConflictStatus is the lifecycle status of a ConflictRecord.
type ConflictStatus string

const (
	// ConflictStatusOpen indicates the conflict awaits a decision
	ConflictStatusOpen ConflictStatus = "OPEN"
	// ConflictStatusResolved indicates a decision has been applied
	ConflictStatusResolved ConflictStatus = "RESOLVED"
)

// String returns the string representation of ConflictStatus
func (s ConflictStatus) String() string {
	return string(s)
}

// ---------------------------------------------------------------------------
// ConflictRecord
// ---------------------------------------------------------------------------

// ConflictRecord captures both versions of a record that drifted on both
// sides since its baseline. The engine never picks a winner on its own; the
// record stays frozen until a human applies a Resolution.
type ConflictRecord struct {
	// ID is the unique identifier of the conflict
	ID uuid.UUID
	// TenantID is the tenant this conflict belongs to
	TenantID uuid.UUID
	// EntityType is the kind of record that diverged
	EntityType EntityType
	// LocalID is the local record identifier
	LocalID uuid.UUID
	// RemoteID is the remote ledger identifier
	RemoteID string
	// LocalDocument is the local version at detection time
	LocalDocument Document
	// RemoteDocument is the remote version at detection time
	RemoteDocument Document
	// LocalFingerprint is the fingerprint of LocalDocument
	LocalFingerprint string
	// RemoteFingerprint is the fingerprint of RemoteDocument
	RemoteFingerprint string
	// BaselineLocalFingerprint is the local baseline both sides drifted from
	BaselineLocalFingerprint string
	// BaselineRemoteFingerprint is the remote baseline both sides drifted from
	BaselineRemoteFingerprint string
	// CorrelationID is the run that detected the divergence
	CorrelationID uuid.UUID
	// Status is OPEN until a resolution is applied
	Status ConflictStatus
	// Resolution is the decision that closed the conflict, empty while open
	Resolution Resolution
	// ResolvedBy identifies who applied the resolution
	ResolvedBy string
	// ResolvedAt is when the resolution was applied
	ResolvedAt *time.Time
	// ArchiveKey is the object storage key of the archived payload pair
	ArchiveKey string
	// DetectedAt is when the divergence was first observed
	DetectedAt time.Time
	// CreatedAt is when this record was created
	CreatedAt time.Time
	// UpdatedAt is when this record was last updated
	UpdatedAt time.Time
}

// NewConflictRecord captures a fresh divergence. Documents are cloned so
// later pipeline work cannot mutate the captured versions.
func NewConflictRecord(tenantID uuid.UUID, entityType EntityType, localID uuid.UUID, remoteID string, local, remote Document, localFp, remoteFp string, baseline *Baseline, correlationID uuid.UUID) *ConflictRecord {
	now := time.Now().UTC()
	c := &ConflictRecord{
		ID:                uuid.New(),
		TenantID:          tenantID,
		EntityType:        entityType,
		LocalID:           localID,
		RemoteID:          remoteID,
		LocalDocument:     local.Clone(),
		RemoteDocument:    remote.Clone(),
		LocalFingerprint:  localFp,
		RemoteFingerprint: remoteFp,
		CorrelationID:     correlationID,
		Status:            ConflictStatusOpen,
		DetectedAt:        now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if baseline != nil {
		c.BaselineLocalFingerprint = baseline.Local
		c.BaselineRemoteFingerprint = baseline.Remote
	}
	return c
}

// Open reports whether the conflict still awaits a decision.
func (c *ConflictRecord) Open() bool {
	return c.Status == ConflictStatusOpen
}

// Resolve closes the conflict with the given decision. Resolving twice is an
// error; the first decision stands.
func (c *ConflictRecord) Resolve(resolution Resolution, resolvedBy string) error {
	if !resolution.IsValid() {
		return ErrInvalidResolution
	}
	if c.Status == ConflictStatusResolved {
		return ErrConflictResolved
	}
	now := time.Now().UTC()
	c.Status = ConflictStatusResolved
	c.Resolution = resolution
	c.ResolvedBy = resolvedBy
	c.ResolvedAt = &now
	c.UpdatedAt = now
	return nil
}

// SetArchiveKey records where the payload pair was archived.
func (c *ConflictRecord) SetArchiveKey(key string) {
	c.ArchiveKey = key
	c.UpdatedAt = time.Now().UTC()
}
