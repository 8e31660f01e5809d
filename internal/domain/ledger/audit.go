package ledger

import (
	"time"

	"github.com/google/uuid"
)

// AuditEntry is one line of the per-record sync trail. Every record a run
// touches leaves exactly one entry per attempt, including skips and dry
// runs, so operators can reconstruct what a run did and why.
type AuditEntry struct {
	// ID is the unique identifier of the entry
	ID uuid.UUID
	// TenantID is the tenant this entry belongs to
	TenantID uuid.UUID
	// RunID is the run (correlation id) that produced the entry
	RunID uuid.UUID
	// EntityType is the kind of record touched
	EntityType EntityType
	// LocalID is the local record, nil when the record only exists remotely
	LocalID *uuid.UUID
	// RemoteID is the remote record, empty when the record only exists locally
	RemoteID string
	// Direction is the pipeline that produced the entry
	Direction Direction
	// Action is the outcome
	Action AuditAction
	// Class is the classifier decision that led to the action
	Class ChangeClass
	// Detail is a short human-readable explanation, e.g. the skip reason
	Detail string
	// DryRun marks entries produced without writing either side
	DryRun bool
	// CreatedAt is when the entry was recorded
	CreatedAt time.Time
}

// NewAuditEntry records one per-record outcome.
func NewAuditEntry(tenantID, runID uuid.UUID, entityType EntityType, direction Direction, action AuditAction) *AuditEntry {
	return &AuditEntry{
		ID:         uuid.New(),
		TenantID:   tenantID,
		RunID:      runID,
		EntityType: entityType,
		Direction:  direction,
		Action:     action,
		CreatedAt:  time.Now().UTC(),
	}
}

// WithLocal attaches the local record id.
func (e *AuditEntry) WithLocal(localID uuid.UUID) *AuditEntry {
	id := localID
	e.LocalID = &id
	return e
}

// WithRemote attaches the remote record id.
func (e *AuditEntry) WithRemote(remoteID string) *AuditEntry {
	e.RemoteID = remoteID
	return e
}

// WithClass attaches the classifier decision.
func (e *AuditEntry) WithClass(class ChangeClass) *AuditEntry {
	e.Class = class
	return e
}

// WithDetail attaches a short explanation.
func (e *AuditEntry) WithDetail(detail string) *AuditEntry {
	e.Detail = detail
	return e
}

// AsDryRun marks the entry as produced by a dry run.
func (e *AuditEntry) AsDryRun(dryRun bool) *AuditEntry {
	e.DryRun = dryRun
	return e
}
