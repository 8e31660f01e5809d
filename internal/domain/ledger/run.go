package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunCounters aggregates per-record outcomes across a run. Counters move
// while the run executes so status polling reflects live progress.
type RunCounters struct {
	// Processed is the number of records the run looked at
	Processed int
	// Succeeded is the number of records synced without incident
	Succeeded int
	// Failed is the number of records that hit a terminal error
	Failed int
	// Conflicts is the number of divergences captured
	Conflicts int
	// Skipped is the number of records deliberately left untouched
	Skipped int
}

// Add accumulates another counter set into this one.
func (c *RunCounters) Add(other RunCounters) {
	c.Processed += other.Processed
	c.Succeeded += other.Succeeded
	c.Failed += other.Failed
	c.Conflicts += other.Conflicts
	c.Skipped += other.Skipped
}

// Clean reports whether the run saw zero failures and zero conflicts.
func (c RunCounters) Clean() bool {
	return c.Failed == 0 && c.Conflicts == 0
}

// RunOptions carries the caller-supplied knobs for one run.
type RunOptions struct {
	// DryRun classifies and merges but writes nothing to either side
	DryRun bool
	// ForceRefresh treats every record as a push candidate regardless of drift
	ForceRefresh bool
	// ModifiedSince narrows both pull and candidate selection to newer records
	ModifiedSince *time.Time
	// SpecificIDs restricts the push to the given local records
	SpecificIDs []uuid.UUID
	// TriggeredBy identifies the initiator, "api" or "scheduler"
	TriggeredBy string
}

// SyncRun is one orchestrated execution of the engine. Its ID doubles as the
// correlation id stamped on every state change, conflict and audit entry the
// run produces.
type SyncRun struct {
	// ID is the run identifier and correlation id
	ID uuid.UUID
	// TenantID is the tenant this run belongs to
	TenantID uuid.UUID
	// Direction is PULL, PUSH or BOTH
	Direction Direction
	// EntityTypes are the record kinds this run covers, in dependency order
	EntityTypes []EntityType
	// Status is the run lifecycle status
	Status RunStatus
	// Phase names the step currently executing, e.g. "PULL:CONTACT"
	Phase string
	// Options are the knobs the run was started with
	Options RunOptions
	// Counters aggregate per-record outcomes
	Counters RunCounters
	// Degraded records a batch-level failure that aborted one entity type
	// without aborting the run, e.g. an exhausted page listing
	Degraded bool
	// ErrorMessage carries the fatal error when Status is ERROR
	ErrorMessage string
	// StartedAt is when execution began
	StartedAt *time.Time
	// FinishedAt is when execution reached a terminal status
	FinishedAt *time.Time
	// CreatedAt is when the run was accepted
	CreatedAt time.Time
	// UpdatedAt is when the run was last updated
	UpdatedAt time.Time
}

// NewSyncRun validates and accepts a run request. Entity types are
// normalized into dependency order; an empty list means all types.
func NewSyncRun(tenantID uuid.UUID, direction Direction, entityTypes []EntityType, opts RunOptions) (*SyncRun, error) {
	if !direction.IsValid() {
		return nil, fmt.Errorf("%w: direction %q", ErrEntityUnsupported, direction)
	}
	ordered, err := normalizeEntityTypes(entityTypes)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &SyncRun{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Direction:   direction,
		EntityTypes: ordered,
		Status:      RunStatusPending,
		Phase:       "PENDING",
		Options:     opts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func normalizeEntityTypes(entityTypes []EntityType) ([]EntityType, error) {
	if len(entityTypes) == 0 {
		return EntityTypesInDependencyOrder(), nil
	}
	requested := make(map[EntityType]bool, len(entityTypes))
	for _, t := range entityTypes {
		if !t.IsValid() {
			return nil, fmt.Errorf("%w: %q", ErrEntityUnsupported, t)
		}
		requested[t] = true
	}
	ordered := make([]EntityType, 0, len(requested))
	for _, t := range EntityTypesInDependencyOrder() {
		if requested[t] {
			ordered = append(ordered, t)
		}
	}
	return ordered, nil
}

// Start moves the run from PENDING to RUNNING.
func (r *SyncRun) Start() error {
	if r.Status != RunStatusPending {
		return fmt.Errorf("ledger: run %s cannot start from status %s", r.ID, r.Status)
	}
	now := time.Now().UTC()
	r.Status = RunStatusRunning
	r.StartedAt = &now
	r.UpdatedAt = now
	return nil
}

// SetPhase names the step currently executing.
func (r *SyncRun) SetPhase(direction Direction, entityType EntityType) {
	r.Phase = fmt.Sprintf("%s:%s", direction, entityType)
	r.UpdatedAt = time.Now().UTC()
}

// Accumulate folds a batch result into the run counters.
func (r *SyncRun) Accumulate(counters RunCounters) {
	r.Counters.Add(counters)
	r.UpdatedAt = time.Now().UTC()
}

// MarkDegraded flags a batch-level failure. The run keeps going but can no
// longer finish as a SUCCESS.
func (r *SyncRun) MarkDegraded() {
	r.Degraded = true
	r.UpdatedAt = time.Now().UTC()
}

// Finish settles the terminal status. A fatal error wins over everything,
// cancellation and any failed or conflicted record demote the run to
// PARTIAL_SUCCESS, and only a clean run is a SUCCESS.
func (r *SyncRun) Finish(canceled bool, fatal error) {
	now := time.Now().UTC()
	r.FinishedAt = &now
	r.UpdatedAt = now
	r.Phase = "DONE"

	switch {
	case fatal != nil:
		r.Status = RunStatusError
		r.ErrorMessage = fatal.Error()
	case canceled:
		r.Status = RunStatusPartial
		r.ErrorMessage = "sync canceled"
	case r.Counters.Clean() && !r.Degraded:
		r.Status = RunStatusSuccess
	default:
		r.Status = RunStatusPartial
	}
}
