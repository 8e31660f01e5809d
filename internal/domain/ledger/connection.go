package ledger

import (
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// ConnectionStatus
// ---------------------------------------------------------------------------

// ConnectionStatus is the health of a tenant's ledger connection.
type ConnectionStatus string

const (
	// ConnectionStatusConnected indicates credentials work
	ConnectionStatusConnected ConnectionStatus = "CONNECTED"
	// ConnectionStatusDisconnected indicates the tenant unlinked the ledger
	ConnectionStatusDisconnected ConnectionStatus = "DISCONNECTED"
	// ConnectionStatusError indicates the last credential exchange failed
	ConnectionStatusError ConnectionStatus = "ERROR"
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	return string(s)
}

// ---------------------------------------------------------------------------
// Connection
// ---------------------------------------------------------------------------

// Connection holds a tenant's remote ledger credentials, per-entity pull
// cursors and the background sync schedule. Secrets are sealed before they
// reach this struct; the domain never sees plaintext credentials.
type Connection struct {
	// ID is the unique identifier of the connection
	ID uuid.UUID
	// TenantID is the tenant this connection belongs to, one connection per tenant
	TenantID uuid.UUID
	// Provider names the ledger vendor, e.g. "standardledger"
	Provider string
	// BaseURL is the root of the ledger's REST API
	BaseURL string
	// ClientID is the OAuth2 client identifier
	ClientID string
	// SealedClientSecret is the encrypted OAuth2 client secret
	SealedClientSecret []byte
	// SealedSigningKey is the encrypted PEM private key used to sign the
	// client assertion during the token exchange
	SealedSigningKey []byte
	// LedgerTenantID is the organisation identifier on the ledger side
	LedgerTenantID string
	// Status is the connection health
	Status ConnectionStatus
	// Cursors are per-entity watermarks; pulls list records modified after them
	Cursors map[EntityType]time.Time
	// ScheduleEnabled turns the background sync trigger on
	ScheduleEnabled bool
	// ScheduleInterval is how often the background trigger starts a run
	ScheduleInterval time.Duration
	// LastSyncedAt is when the last run finished for this tenant
	LastSyncedAt *time.Time
	// CreatedAt is when the connection was created
	CreatedAt time.Time
	// UpdatedAt is when the connection was last updated
	UpdatedAt time.Time
}

// NewConnection links a tenant to a remote ledger.
func NewConnection(tenantID uuid.UUID, provider, baseURL, clientID string) *Connection {
	now := time.Now().UTC()
	return &Connection{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Provider:  provider,
		BaseURL:   baseURL,
		ClientID:  clientID,
		Status:    ConnectionStatusConnected,
		Cursors:   make(map[EntityType]time.Time),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CursorFor returns the pull watermark for an entity type, nil when the
// type has never completed a pull.
func (c *Connection) CursorFor(entityType EntityType) *time.Time {
	if c.Cursors == nil {
		return nil
	}
	cursor, ok := c.Cursors[entityType]
	if !ok {
		return nil
	}
	t := cursor
	return &t
}

// AdvanceCursor moves the pull watermark forward. It never moves backwards;
// an older watermark would only cause harmless re-reads, a newer one from a
// failed run would skip records.
func (c *Connection) AdvanceCursor(entityType EntityType, watermark time.Time) {
	if c.Cursors == nil {
		c.Cursors = make(map[EntityType]time.Time)
	}
	watermark = watermark.UTC()
	if current, ok := c.Cursors[entityType]; ok && !watermark.After(current) {
		return
	}
	c.Cursors[entityType] = watermark
	c.UpdatedAt = time.Now().UTC()
}

// MarkSynced records a finished run.
func (c *Connection) MarkSynced(at time.Time) {
	t := at.UTC()
	c.LastSyncedAt = &t
	c.UpdatedAt = t
}

// SetStatus updates the connection health.
func (c *Connection) SetStatus(status ConnectionStatus) {
	c.Status = status
	c.UpdatedAt = time.Now().UTC()
}

// DueForScheduledSync reports whether the background trigger should start a
// run for this connection now.
func (c *Connection) DueForScheduledSync(now time.Time) bool {
	if !c.ScheduleEnabled || c.ScheduleInterval <= 0 {
		return false
	}
	if c.Status != ConnectionStatusConnected {
		return false
	}
	if c.LastSyncedAt == nil {
		return true
	}
	return now.Sub(*c.LastSyncedAt) >= c.ScheduleInterval
}
