package ledger

import "errors"

// ---------------------------------------------------------------------------
// Ledger Sync Errors
// ---------------------------------------------------------------------------

var (
	// Engine errors
	ErrSyncInProgress    = errors.New("ledger: sync already in progress for entity type")
	ErrRunNotFound       = errors.New("ledger: sync run not found")
	ErrRunNotCancellable = errors.New("ledger: sync run is not running")
	ErrEntityUnsupported = errors.New("ledger: unsupported entity type")
	ErrStateNotFound     = errors.New("ledger: sync state not found")
	ErrStateConflicted   = errors.New("ledger: sync state is in conflict and cannot be re-baselined")

	// Conflict errors
	ErrConflictNotFound  = errors.New("ledger: conflict not found")
	ErrConflictResolved  = errors.New("ledger: conflict already resolved")
	ErrInvalidResolution = errors.New("ledger: invalid conflict resolution")

	// Connection errors
	ErrConnectionNotFound = errors.New("ledger: connection not configured")
	ErrUnauthenticated    = errors.New("ledger: no valid access token")

	// Record errors
	ErrDependencyMissing = errors.New("ledger: referenced record has not been synced yet")
	ErrRemoteGone        = errors.New("ledger: remote record no longer exists")
	ErrMalformedDocument = errors.New("ledger: malformed document")
)

// ---------------------------------------------------------------------------
// EntityType
// ---------------------------------------------------------------------------

// EntityType identifies a kind of syncable business record.
type EntityType string

const (
	// EntityTypeContact represents customers and suppliers
	EntityTypeContact EntityType = "CONTACT"
	// EntityTypeInvoice represents sales invoices
	EntityTypeInvoice EntityType = "INVOICE"
	// EntityTypePayment represents payments applied to invoices
	EntityTypePayment EntityType = "PAYMENT"
)

// IsValid returns true if the entity type is valid
func (t EntityType) IsValid() bool {
	switch t {
	case EntityTypeContact, EntityTypeInvoice, EntityTypePayment:
		return true
	default:
		return false
	}
}

// String returns the string representation of EntityType
func (t EntityType) String() string {
	return string(t)
}

// EntityTypesInDependencyOrder returns all entity types ordered so that a
// type is listed before every type that references it. Contacts come first
// because invoices reference contacts and payments reference invoices.
func EntityTypesInDependencyOrder() []EntityType {
	return []EntityType{EntityTypeContact, EntityTypeInvoice, EntityTypePayment}
}

// ---------------------------------------------------------------------------
// Direction
// ---------------------------------------------------------------------------

// Direction represents which way a sync run moves data.
type Direction string

const (
	// DirectionPull imports remote ledger changes into local records
	DirectionPull Direction = "PULL"
	// DirectionPush exports local changes to the remote ledger
	DirectionPush Direction = "PUSH"
	// DirectionBoth pulls first, then pushes
	DirectionBoth Direction = "BOTH"
)

// IsValid returns true if the direction is valid
func (d Direction) IsValid() bool {
	switch d {
	case DirectionPull, DirectionPush, DirectionBoth:
		return true
	default:
		return false
	}
}

// String returns the string representation of Direction
func (d Direction) String() string {
	return string(d)
}

// ---------------------------------------------------------------------------
// ChangeClass
// ---------------------------------------------------------------------------

// ChangeClass is the outcome of comparing both sides of a record against
// its stored baseline.
type ChangeClass string

const (
	// ChangeFirstSync indicates the record has no baseline yet
	ChangeFirstSync ChangeClass = "FIRST_SYNC"
	// ChangeNone indicates neither side drifted from the baseline
	ChangeNone ChangeClass = "NO_CHANGE"
	// ChangeLocalOnly indicates only the local side drifted
	ChangeLocalOnly ChangeClass = "LOCAL_ONLY"
	// ChangeRemoteOnly indicates only the remote side drifted
	ChangeRemoteOnly ChangeClass = "REMOTE_ONLY"
	// ChangeBoth indicates both sides drifted independently
	ChangeBoth ChangeClass = "BOTH_CHANGED"
)

// String returns the string representation of ChangeClass
func (c ChangeClass) String() string {
	return string(c)
}

// ---------------------------------------------------------------------------
// SyncStatus
// ---------------------------------------------------------------------------

// SyncStatus is the lifecycle status of a SyncState row.
type SyncStatus string

const (
	// SyncStatusActive indicates the record syncs normally
	SyncStatusActive SyncStatus = "ACTIVE"
	// SyncStatusConflict indicates the record is frozen pending resolution
	SyncStatusConflict SyncStatus = "CONFLICT"
)

// IsValid returns true if the status is valid
func (s SyncStatus) IsValid() bool {
	switch s {
	case SyncStatusActive, SyncStatusConflict:
		return true
	default:
		return false
	}
}

// String returns the string representation of SyncStatus
func (s SyncStatus) String() string {
	return string(s)
}

// ---------------------------------------------------------------------------
// Origin
// ---------------------------------------------------------------------------

// Origin records which side authored the change captured by the last baseline.
type Origin string

const (
	// OriginLocal indicates the last synced change came from local records
	OriginLocal Origin = "LOCAL"
	// OriginRemote indicates the last synced change came from the remote ledger
	OriginRemote Origin = "REMOTE"
	// OriginResolution indicates the baseline was set by conflict resolution
	OriginResolution Origin = "RESOLUTION"
)

// String returns the string representation of Origin
func (o Origin) String() string {
	return string(o)
}

// ---------------------------------------------------------------------------
// RunStatus
// ---------------------------------------------------------------------------

// RunStatus is the lifecycle status of a SyncRun.
type RunStatus string

const (
	// RunStatusPending indicates the run is accepted but not started
	RunStatusPending RunStatus = "PENDING"
	// RunStatusRunning indicates the run is executing
	RunStatusRunning RunStatus = "RUNNING"
	// RunStatusSuccess indicates every record synced with zero conflicts and errors
	RunStatusSuccess RunStatus = "SUCCESS"
	// RunStatusPartial indicates the run finished but some records failed,
	// conflicted, or the run was canceled mid-flight
	RunStatusPartial RunStatus = "PARTIAL_SUCCESS"
	// RunStatusError indicates a fatal precondition stopped the run outright
	RunStatusError RunStatus = "ERROR"
)

// IsValid returns true if the run status is valid
func (s RunStatus) IsValid() bool {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusSuccess, RunStatusPartial, RunStatusError:
		return true
	default:
		return false
	}
}

// IsTerminal returns true once the run can no longer change
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSuccess, RunStatusPartial, RunStatusError:
		return true
	default:
		return false
	}
}

// String returns the string representation of RunStatus
func (s RunStatus) String() string {
	return string(s)
}

// ---------------------------------------------------------------------------
// Resolution
// ---------------------------------------------------------------------------

// Resolution is a human decision applied to a conflict.
type Resolution string

const (
	// ResolutionUseLocal keeps the local version and re-asserts it on the next push
	ResolutionUseLocal Resolution = "USE_LOCAL"
	// ResolutionUseRemote overwrites the local record with the remote version
	ResolutionUseRemote Resolution = "USE_REMOTE"
	// ResolutionSkip accepts the divergence as the new baseline
	ResolutionSkip Resolution = "SKIP"
)

// IsValid returns true if the resolution is valid
func (r Resolution) IsValid() bool {
	switch r {
	case ResolutionUseLocal, ResolutionUseRemote, ResolutionSkip:
		return true
	default:
		return false
	}
}

// String returns the string representation of Resolution
func (r Resolution) String() string {
	return string(r)
}

// ---------------------------------------------------------------------------
// AuditAction
// ---------------------------------------------------------------------------

// AuditAction is the per-record outcome recorded in the audit trail.
type AuditAction string

const (
	// AuditActionCreate indicates a record was created on one side
	AuditActionCreate AuditAction = "CREATE"
	// AuditActionUpdate indicates a record was updated on one side
	AuditActionUpdate AuditAction = "UPDATE"
	// AuditActionSkip indicates a record was deliberately left untouched
	AuditActionSkip AuditAction = "SKIP"
	// AuditActionConflict indicates a divergence was captured
	AuditActionConflict AuditAction = "CONFLICT"
	// AuditActionResolve indicates a conflict decision was applied
	AuditActionResolve AuditAction = "RESOLVE"
	// AuditActionError indicates the record failed with a terminal error
	AuditActionError AuditAction = "ERROR"
)

// String returns the string representation of AuditAction
func (a AuditAction) String() string {
	return string(a)
}
