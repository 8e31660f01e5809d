package ledger

import (
	"context"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Repository Interfaces
// ---------------------------------------------------------------------------

// SyncStateRepository persists the per-record baselines. No Delete exists on
// purpose; state rows outlive the records they track.
type SyncStateRepository interface {
	// FindByLocalID loads the state for a local record, ErrStateNotFound when absent
	FindByLocalID(ctx context.Context, tenantID uuid.UUID, entityType EntityType, localID uuid.UUID) (*SyncState, error)
	// FindByRemoteID loads the state linked to a remote id, ErrStateNotFound when absent
	FindByRemoteID(ctx context.Context, tenantID uuid.UUID, entityType EntityType, remoteID string) (*SyncState, error)
	// ListByStatus pages through states in a given status
	ListByStatus(ctx context.Context, tenantID uuid.UUID, status SyncStatus, page, pageSize int) ([]SyncState, int64, error)
	// Save inserts or updates a state row
	Save(ctx context.Context, state *SyncState) error
}

// ConflictFilter narrows a conflict listing.
type ConflictFilter struct {
	// EntityType limits to one record kind, nil for all
	EntityType *EntityType
	// Status limits to OPEN or RESOLVED, nil for all
	Status *ConflictStatus
	// Page is the 1-based page
	Page int
	// PageSize is the page size
	PageSize int
}

// ConflictRepository persists captured divergences.
type ConflictRepository interface {
	// FindByID loads one conflict, ErrConflictNotFound when absent
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*ConflictRecord, error)
	// FindOpenByRecord loads the open conflict for a record, nil when none.
	// At most one open conflict exists per record.
	FindOpenByRecord(ctx context.Context, tenantID uuid.UUID, entityType EntityType, localID uuid.UUID) (*ConflictRecord, error)
	// List pages through conflicts matching the filter, newest first
	List(ctx context.Context, tenantID uuid.UUID, filter ConflictFilter) ([]ConflictRecord, int64, error)
	// Save inserts or updates a conflict
	Save(ctx context.Context, conflict *ConflictRecord) error
}

// RunFilter narrows a run listing.
type RunFilter struct {
	// Status limits to one lifecycle status, nil for all
	Status *RunStatus
	// Page is the 1-based page
	Page int
	// PageSize is the page size
	PageSize int
}

// SyncRunRepository persists runs and their live counters.
type SyncRunRepository interface {
	// FindByID loads one run, ErrRunNotFound when absent
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*SyncRun, error)
	// List pages through runs matching the filter, newest first
	List(ctx context.Context, tenantID uuid.UUID, filter RunFilter) ([]SyncRun, int64, error)
	// Save inserts or updates a run
	Save(ctx context.Context, run *SyncRun) error
}

// AuditRepository persists the per-record trail.
type AuditRepository interface {
	// Append stores one entry
	Append(ctx context.Context, entry *AuditEntry) error
	// ListByRun pages through the trail of one run, oldest first
	ListByRun(ctx context.Context, tenantID, runID uuid.UUID, page, pageSize int) ([]AuditEntry, int64, error)
}

// CheckpointRepository persists pull progress.
type CheckpointRepository interface {
	// Find loads the checkpoint for a tenant and entity type, nil when none
	Find(ctx context.Context, tenantID uuid.UUID, entityType EntityType) (*Checkpoint, error)
	// Save inserts or updates a checkpoint
	Save(ctx context.Context, checkpoint *Checkpoint) error
	// Clear removes the checkpoint after a completed pull
	Clear(ctx context.Context, tenantID uuid.UUID, entityType EntityType) error
}

// ConnectionRepository persists ledger connections, one per tenant.
type ConnectionRepository interface {
	// FindByTenant loads the tenant's connection, ErrConnectionNotFound when absent
	FindByTenant(ctx context.Context, tenantID uuid.UUID) (*Connection, error)
	// ListScheduled loads every connection with background sync enabled
	ListScheduled(ctx context.Context) ([]Connection, error)
	// Save inserts or updates a connection
	Save(ctx context.Context, connection *Connection) error
	// Delete removes the connection and its sealed credentials
	Delete(ctx context.Context, tenantID uuid.UUID) error
}
