package ledger

import (
	"time"

	"github.com/google/uuid"
)

// Checkpoint persists pull progress after every page so an interrupted pull
// resumes where it stopped instead of replaying from page one. The page is
// the unit of progress: no per-record position is kept, and replaying a
// partially processed page is safe because applying an unchanged record is
// a fingerprint no-op. One checkpoint exists per tenant and entity type; a
// completed pull clears it.
type Checkpoint struct {
	// ID is the unique identifier of the checkpoint
	ID uuid.UUID
	// TenantID is the tenant this checkpoint belongs to
	TenantID uuid.UUID
	// EntityType is the record kind the paged listing covers
	EntityType EntityType
	// RunID is the run that wrote the checkpoint
	RunID uuid.UUID
	// PageSize is the page size the listing was started with
	PageSize int
	// NextPage is the first page that has not been fully processed
	NextPage int
	// ModifiedSince is the watermark the listing was started with. A resumed
	// pull must reuse it; re-reading "now" would skip records.
	ModifiedSince *time.Time
	// CreatedAt is when the checkpoint was created
	CreatedAt time.Time
	// UpdatedAt is when the checkpoint last advanced
	UpdatedAt time.Time
}

// NewCheckpoint starts tracking a paged pull at page one.
func NewCheckpoint(tenantID uuid.UUID, entityType EntityType, runID uuid.UUID, pageSize int, modifiedSince *time.Time) *Checkpoint {
	now := time.Now().UTC()
	cp := &Checkpoint{
		ID:         uuid.New(),
		TenantID:   tenantID,
		EntityType: entityType,
		RunID:      runID,
		PageSize:   pageSize,
		NextPage:   1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if modifiedSince != nil {
		t := modifiedSince.UTC()
		cp.ModifiedSince = &t
	}
	return cp
}

// Advance records that every page before nextPage has been fully processed.
func (c *Checkpoint) Advance(nextPage int, runID uuid.UUID) {
	c.NextPage = nextPage
	c.RunID = runID
	c.UpdatedAt = time.Now().UTC()
}
