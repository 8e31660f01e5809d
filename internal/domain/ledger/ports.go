package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Remote Ledger Port
// ---------------------------------------------------------------------------

// RemoteRecord is one record as the remote ledger holds it, already decoded
// into the shared document projection.
type RemoteRecord struct {
	// RemoteID is the identifier the ledger assigned
	RemoteID string
	// Document is the projected field map
	Document Document
	// UpdatedAt is the ledger-side modification time
	UpdatedAt time.Time
}

// RemotePage is one page of a remote listing.
type RemotePage struct {
	// Records are the page contents in ledger order
	Records []RemoteRecord
	// Page is the 1-based page number that was fetched
	Page int
	// HasMore indicates another page follows
	HasMore bool
}

// ListQuery narrows a remote listing.
type ListQuery struct {
	// Page is the 1-based page to fetch
	Page int
	// PageSize is the fixed page size of the run
	PageSize int
	// ModifiedSince limits the listing to records modified after the watermark
	ModifiedSince *time.Time
}

// RemoteLedger is the port to the external accounting ledger. Adapters
// translate wire payloads into documents at this boundary and surface
// failures as RemoteError so pipelines can tell retryable from terminal.
type RemoteLedger interface {
	// ListEntities fetches one page of records of the given type
	ListEntities(ctx context.Context, tenantID uuid.UUID, entityType EntityType, query ListQuery) (*RemotePage, error)
	// GetEntity fetches a single record by its remote id
	GetEntity(ctx context.Context, tenantID uuid.UUID, entityType EntityType, remoteID string) (*RemoteRecord, error)
	// CreateEntity creates a record and returns the ledger's stored version,
	// including every field the ledger computed
	CreateEntity(ctx context.Context, tenantID uuid.UUID, entityType EntityType, body Document) (*RemoteRecord, error)
	// UpdateEntity updates a record and returns the ledger's stored version
	UpdateEntity(ctx context.Context, tenantID uuid.UUID, entityType EntityType, remoteID string, body Document) (*RemoteRecord, error)
}

// ---------------------------------------------------------------------------
// Token Provider Port
// ---------------------------------------------------------------------------

// TokenProvider supplies valid access tokens for the remote ledger,
// refreshing behind the scenes when the cached token expires.
type TokenProvider interface {
	// AccessToken returns a token valid for at least a short grace period
	AccessToken(ctx context.Context, tenantID uuid.UUID) (string, error)
	// Invalidate drops the cached token after the ledger rejected it
	Invalidate(tenantID uuid.UUID)
}

// ---------------------------------------------------------------------------
// Local Store Port
// ---------------------------------------------------------------------------

// LocalRecord is one local business record projected into the shared
// document form. Reference fields are resolved into the remote id space
// during projection so both sides fingerprint identically.
type LocalRecord struct {
	// LocalID is the local identifier
	LocalID uuid.UUID
	// Document is the projected field map
	Document Document
	// UpdatedAt is the local modification time
	UpdatedAt time.Time
}

// LocalRef is a cheap listing entry, enough to drive candidate selection
// without projecting the whole record.
type LocalRef struct {
	// LocalID is the local identifier
	LocalID uuid.UUID
	// UpdatedAt is the local modification time
	UpdatedAt time.Time
}

// LocalQuery narrows a local listing.
type LocalQuery struct {
	// IDs restricts the listing to the given records
	IDs []uuid.UUID
	// ModifiedSince limits the listing to records modified after the watermark
	ModifiedSince *time.Time
}

// LocalStore is the port over local business records. The persistence layer
// implements it by projecting rows into documents and applying patches back,
// which keeps the engine independent of the concrete schemas.
//
// Projection resolves references through the sync states: an invoice
// document carries the remote id of its contact. GetRecord returns
// ErrDependencyMissing when a referenced record has not been synced, which
// is what lets pipelines skip exactly the records that are not ready.
type LocalStore interface {
	// GetRecord projects one record, ErrStateNotFound when it does not exist
	GetRecord(ctx context.Context, tenantID uuid.UUID, entityType EntityType, localID uuid.UUID) (*LocalRecord, error)
	// ListRefs lists records matching the query, oldest first
	ListRefs(ctx context.Context, tenantID uuid.UUID, entityType EntityType, query LocalQuery) ([]LocalRef, error)
	// ApplyPatch writes the given fields onto an existing record. Callers
	// control the field set; pulls pass ownership-filtered patches.
	ApplyPatch(ctx context.Context, tenantID uuid.UUID, entityType EntityType, localID uuid.UUID, patch Document) error
	// CreateFromRemote materializes a new local record from a full remote
	// document and returns its local id
	CreateFromRemote(ctx context.Context, tenantID uuid.UUID, entityType EntityType, doc Document) (uuid.UUID, error)
}

// ---------------------------------------------------------------------------
// Run Locker Port
// ---------------------------------------------------------------------------

// RunLocker serializes runs per tenant and entity type. Implementations
// range from an in-process map to a Redis SET NX for multi-instance
// deployments.
type RunLocker interface {
	// TryLock acquires the key if free, returning false when already held
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Unlock releases the key
	Unlock(ctx context.Context, key string) error
}

// RunLockKey builds the lock key guarding one entity type of one tenant.
func RunLockKey(tenantID uuid.UUID, entityType EntityType) string {
	return fmt.Sprintf("ledger:sync:%s:%s", tenantID, entityType)
}

// ---------------------------------------------------------------------------
// Conflict Archiver Port
// ---------------------------------------------------------------------------

// ConflictArchiver stores the full payload pair of a detected conflict in
// object storage for later inspection. Archiving is best effort; a failed
// archive never fails the sync.
type ConflictArchiver interface {
	// ArchiveConflict stores both documents and returns the object key
	ArchiveConflict(ctx context.Context, conflict *ConflictRecord) (string, error)
}

// ---------------------------------------------------------------------------
// Secret Sealer Port
// ---------------------------------------------------------------------------

// SecretSealer encrypts connection credentials at rest. Sealed bytes are
// opaque to the domain; key handling lives in the infrastructure layer.
type SecretSealer interface {
	// Seal encrypts the plaintext
	Seal(plaintext []byte) ([]byte, error)
	// Open decrypts bytes produced by Seal
	Open(sealed []byte) ([]byte, error)
}
