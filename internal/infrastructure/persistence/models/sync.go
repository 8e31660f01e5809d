package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerlink/backend/internal/domain/ledger"
)

// marshalDocument serializes a document for jsonb storage. Decimals are
// rendered as quoted strings by their marshaler, which survives the round
// trip without precision loss.
func marshalDocument(doc ledger.Document) string {
	if doc == nil {
		return "{}"
	}
	bytes, err := json.Marshal(doc)
	if err != nil {
		return "{}"
	}
	return string(bytes)
}

// unmarshalDocument restores a stored document. Values come back as JSON
// scalars (decimals as strings); consumers coerce where they need types.
func unmarshalDocument(raw string) ledger.Document {
	doc := ledger.Document{}
	if raw == "" {
		return doc
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return ledger.Document{}
	}
	return doc
}

// ---------------------------------------------------------------------------
// SyncState
// ---------------------------------------------------------------------------

// SyncStateModel is the persistence model for the SyncState domain entity.
type SyncStateModel struct {
	ID                    uuid.UUID         `gorm:"type:uuid;primary_key"`
	TenantID              uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex:idx_sync_state_record,priority:1;index:idx_sync_state_remote,priority:1"`
	EntityType            ledger.EntityType `gorm:"type:varchar(20);not null;uniqueIndex:idx_sync_state_record,priority:2;index:idx_sync_state_remote,priority:2"`
	LocalID               uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex:idx_sync_state_record,priority:3"`
	RemoteID              string            `gorm:"type:varchar(100);index:idx_sync_state_remote,priority:3"`
	LastLocalFingerprint  string            `gorm:"type:char(64)"`
	LastRemoteFingerprint string            `gorm:"type:char(64)"`
	LastSyncedAt          *time.Time
	LastLocalModifiedAt   *time.Time
	LastRemoteModifiedAt  *time.Time
	Origin                ledger.Origin     `gorm:"type:varchar(20)"`
	CorrelationID         uuid.UUID         `gorm:"type:uuid"`
	Status                ledger.SyncStatus `gorm:"type:varchar(20);not null;default:'ACTIVE';index"`
	CreatedAt             time.Time         `gorm:"not null"`
	UpdatedAt             time.Time         `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SyncStateModel) TableName() string {
	return "sync_states"
}

// ToDomain converts the persistence model to a domain SyncState entity.
func (m *SyncStateModel) ToDomain() *ledger.SyncState {
	return &ledger.SyncState{
		ID:                    m.ID,
		TenantID:              m.TenantID,
		EntityType:            m.EntityType,
		LocalID:               m.LocalID,
		RemoteID:              m.RemoteID,
		LastLocalFingerprint:  m.LastLocalFingerprint,
		LastRemoteFingerprint: m.LastRemoteFingerprint,
		LastSyncedAt:          m.LastSyncedAt,
		LastLocalModifiedAt:   m.LastLocalModifiedAt,
		LastRemoteModifiedAt:  m.LastRemoteModifiedAt,
		Origin:                m.Origin,
		CorrelationID:         m.CorrelationID,
		Status:                m.Status,
		CreatedAt:             m.CreatedAt,
		UpdatedAt:             m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from a domain SyncState entity.
func (m *SyncStateModel) FromDomain(s *ledger.SyncState) {
	m.ID = s.ID
	m.TenantID = s.TenantID
	m.EntityType = s.EntityType
	m.LocalID = s.LocalID
	m.RemoteID = s.RemoteID
	m.LastLocalFingerprint = s.LastLocalFingerprint
	m.LastRemoteFingerprint = s.LastRemoteFingerprint
	m.LastSyncedAt = s.LastSyncedAt
	m.LastLocalModifiedAt = s.LastLocalModifiedAt
	m.LastRemoteModifiedAt = s.LastRemoteModifiedAt
	m.Origin = s.Origin
	m.CorrelationID = s.CorrelationID
	m.Status = s.Status
	m.CreatedAt = s.CreatedAt
	m.UpdatedAt = s.UpdatedAt
}

// SyncStateModelFromDomain creates a new persistence model from a domain SyncState entity.
func SyncStateModelFromDomain(s *ledger.SyncState) *SyncStateModel {
	m := &SyncStateModel{}
	m.FromDomain(s)
	return m
}

// ---------------------------------------------------------------------------
// ConflictRecord
// ---------------------------------------------------------------------------

// SyncConflictModel is the persistence model for the ConflictRecord domain entity.
type SyncConflictModel struct {
	ID                        uuid.UUID             `gorm:"type:uuid;primary_key"`
	TenantID                  uuid.UUID             `gorm:"type:uuid;not null;index:idx_sync_conflict_record,priority:1;index:idx_sync_conflict_status,priority:1"`
	EntityType                ledger.EntityType     `gorm:"type:varchar(20);not null;index:idx_sync_conflict_record,priority:2"`
	LocalID                   uuid.UUID             `gorm:"type:uuid;not null;index:idx_sync_conflict_record,priority:3"`
	RemoteID                  string                `gorm:"type:varchar(100)"`
	LocalDocument             string                `gorm:"type:jsonb;not null"`
	RemoteDocument            string                `gorm:"type:jsonb;not null"`
	LocalFingerprint          string                `gorm:"type:char(64);not null"`
	RemoteFingerprint         string                `gorm:"type:char(64);not null"`
	BaselineLocalFingerprint  string                `gorm:"type:char(64)"`
	BaselineRemoteFingerprint string                `gorm:"type:char(64)"`
	CorrelationID             uuid.UUID             `gorm:"type:uuid;not null;index"`
	Status                    ledger.ConflictStatus `gorm:"type:varchar(20);not null;default:'OPEN';index:idx_sync_conflict_status,priority:2"`
	Resolution                ledger.Resolution     `gorm:"type:varchar(20)"`
	ResolvedBy                string                `gorm:"type:varchar(200)"`
	ResolvedAt                *time.Time
	ArchiveKey                string    `gorm:"type:varchar(500)"`
	DetectedAt                time.Time `gorm:"not null;index"`
	CreatedAt                 time.Time `gorm:"not null"`
	UpdatedAt                 time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SyncConflictModel) TableName() string {
	return "sync_conflicts"
}

// ToDomain converts the persistence model to a domain ConflictRecord entity.
func (m *SyncConflictModel) ToDomain() *ledger.ConflictRecord {
	return &ledger.ConflictRecord{
		ID:                        m.ID,
		TenantID:                  m.TenantID,
		EntityType:                m.EntityType,
		LocalID:                   m.LocalID,
		RemoteID:                  m.RemoteID,
		LocalDocument:             unmarshalDocument(m.LocalDocument),
		RemoteDocument:            unmarshalDocument(m.RemoteDocument),
		LocalFingerprint:          m.LocalFingerprint,
		RemoteFingerprint:         m.RemoteFingerprint,
		BaselineLocalFingerprint:  m.BaselineLocalFingerprint,
		BaselineRemoteFingerprint: m.BaselineRemoteFingerprint,
		CorrelationID:             m.CorrelationID,
		Status:                    m.Status,
		Resolution:                m.Resolution,
		ResolvedBy:                m.ResolvedBy,
		ResolvedAt:                m.ResolvedAt,
		ArchiveKey:                m.ArchiveKey,
		DetectedAt:                m.DetectedAt,
		CreatedAt:                 m.CreatedAt,
		UpdatedAt:                 m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from a domain ConflictRecord entity.
func (m *SyncConflictModel) FromDomain(c *ledger.ConflictRecord) {
	m.ID = c.ID
	m.TenantID = c.TenantID
	m.EntityType = c.EntityType
	m.LocalID = c.LocalID
	m.RemoteID = c.RemoteID
	m.LocalDocument = marshalDocument(c.LocalDocument)
	m.RemoteDocument = marshalDocument(c.RemoteDocument)
	m.LocalFingerprint = c.LocalFingerprint
	m.RemoteFingerprint = c.RemoteFingerprint
	m.BaselineLocalFingerprint = c.BaselineLocalFingerprint
	m.BaselineRemoteFingerprint = c.BaselineRemoteFingerprint
	m.CorrelationID = c.CorrelationID
	m.Status = c.Status
	m.Resolution = c.Resolution
	m.ResolvedBy = c.ResolvedBy
	m.ResolvedAt = c.ResolvedAt
	m.ArchiveKey = c.ArchiveKey
	m.DetectedAt = c.DetectedAt
	m.CreatedAt = c.CreatedAt
	m.UpdatedAt = c.UpdatedAt
}

// SyncConflictModelFromDomain creates a new persistence model from a domain ConflictRecord entity.
func SyncConflictModelFromDomain(c *ledger.ConflictRecord) *SyncConflictModel {
	m := &SyncConflictModel{}
	m.FromDomain(c)
	return m
}

// ---------------------------------------------------------------------------
// SyncRun
// ---------------------------------------------------------------------------

// SyncRunModel is the persistence model for the SyncRun domain entity.
type SyncRunModel struct {
	ID           uuid.UUID        `gorm:"type:uuid;primary_key"`
	TenantID     uuid.UUID        `gorm:"type:uuid;not null;index:idx_sync_run_tenant_created,priority:1;index:idx_sync_run_tenant_status,priority:1"`
	Direction    ledger.Direction `gorm:"type:varchar(10);not null"`
	EntityTypes  string           `gorm:"type:jsonb;not null;column:entity_types"`
	Status       ledger.RunStatus `gorm:"type:varchar(20);not null;index:idx_sync_run_tenant_status,priority:2"`
	Phase        string           `gorm:"type:varchar(40);not null"`
	DryRun       bool             `gorm:"not null;default:false"`
	ForceRefresh bool             `gorm:"not null;default:false"`
	ModifiedSince *time.Time
	SpecificIDs  string `gorm:"type:jsonb;column:specific_ids"`
	TriggeredBy  string `gorm:"type:varchar(20)"`
	Processed    int    `gorm:"not null;default:0"`
	Succeeded    int    `gorm:"not null;default:0"`
	Failed       int    `gorm:"not null;default:0"`
	Conflicts    int    `gorm:"not null;default:0"`
	Skipped      int    `gorm:"not null;default:0"`
	Degraded     bool   `gorm:"not null;default:false"`
	ErrorMessage string `gorm:"type:text"`
	StartedAt    *time.Time
	FinishedAt   *time.Time
	CreatedAt    time.Time `gorm:"not null;index:idx_sync_run_tenant_created,priority:2,sort:desc"`
	UpdatedAt    time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SyncRunModel) TableName() string {
	return "sync_runs"
}

// ToDomain converts the persistence model to a domain SyncRun entity.
func (m *SyncRunModel) ToDomain() *ledger.SyncRun {
	run := &ledger.SyncRun{
		ID:          m.ID,
		TenantID:    m.TenantID,
		Direction:   m.Direction,
		EntityTypes: make([]ledger.EntityType, 0),
		Status:      m.Status,
		Phase:       m.Phase,
		Options: ledger.RunOptions{
			DryRun:        m.DryRun,
			ForceRefresh:  m.ForceRefresh,
			ModifiedSince: m.ModifiedSince,
			TriggeredBy:   m.TriggeredBy,
		},
		Counters: ledger.RunCounters{
			Processed: m.Processed,
			Succeeded: m.Succeeded,
			Failed:    m.Failed,
			Conflicts: m.Conflicts,
			Skipped:   m.Skipped,
		},
		Degraded:     m.Degraded,
		ErrorMessage: m.ErrorMessage,
		StartedAt:    m.StartedAt,
		FinishedAt:   m.FinishedAt,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}

	if m.EntityTypes != "" {
		var types []ledger.EntityType
		if err := json.Unmarshal([]byte(m.EntityTypes), &types); err == nil {
			run.EntityTypes = types
		}
	}
	if m.SpecificIDs != "" {
		var ids []uuid.UUID
		if err := json.Unmarshal([]byte(m.SpecificIDs), &ids); err == nil && len(ids) > 0 {
			run.Options.SpecificIDs = ids
		}
	}
	return run
}

// FromDomain populates the persistence model from a domain SyncRun entity.
func (m *SyncRunModel) FromDomain(r *ledger.SyncRun) {
	m.ID = r.ID
	m.TenantID = r.TenantID
	m.Direction = r.Direction
	m.Status = r.Status
	m.Phase = r.Phase
	m.DryRun = r.Options.DryRun
	m.ForceRefresh = r.Options.ForceRefresh
	m.ModifiedSince = r.Options.ModifiedSince
	m.TriggeredBy = r.Options.TriggeredBy
	m.Processed = r.Counters.Processed
	m.Succeeded = r.Counters.Succeeded
	m.Failed = r.Counters.Failed
	m.Conflicts = r.Counters.Conflicts
	m.Skipped = r.Counters.Skipped
	m.Degraded = r.Degraded
	m.ErrorMessage = r.ErrorMessage
	m.StartedAt = r.StartedAt
	m.FinishedAt = r.FinishedAt
	m.CreatedAt = r.CreatedAt
	m.UpdatedAt = r.UpdatedAt

	if bytes, err := json.Marshal(r.EntityTypes); err == nil {
		m.EntityTypes = string(bytes)
	} else {
		m.EntityTypes = "[]"
	}
	if len(r.Options.SpecificIDs) > 0 {
		if bytes, err := json.Marshal(r.Options.SpecificIDs); err == nil {
			m.SpecificIDs = string(bytes)
		}
	} else {
		m.SpecificIDs = "[]"
	}
}

// SyncRunModelFromDomain creates a new persistence model from a domain SyncRun entity.
func SyncRunModelFromDomain(r *ledger.SyncRun) *SyncRunModel {
	m := &SyncRunModel{}
	m.FromDomain(r)
	return m
}

// ---------------------------------------------------------------------------
// AuditEntry
// ---------------------------------------------------------------------------

// SyncAuditModel is the persistence model for the AuditEntry domain entity.
// Entries are append-only; nothing updates them after the insert.
type SyncAuditModel struct {
	ID         uuid.UUID          `gorm:"type:uuid;primary_key"`
	TenantID   uuid.UUID          `gorm:"type:uuid;not null;index:idx_sync_audit_run,priority:1"`
	RunID      uuid.UUID          `gorm:"type:uuid;not null;index:idx_sync_audit_run,priority:2"`
	EntityType ledger.EntityType  `gorm:"type:varchar(20);not null"`
	LocalID    *uuid.UUID         `gorm:"type:uuid"`
	RemoteID   string             `gorm:"type:varchar(100)"`
	Direction  ledger.Direction   `gorm:"type:varchar(10);not null"`
	Action     ledger.AuditAction `gorm:"type:varchar(20);not null"`
	Class      ledger.ChangeClass `gorm:"type:varchar(20)"`
	Detail     string             `gorm:"type:text"`
	DryRun     bool               `gorm:"not null;default:false"`
	CreatedAt  time.Time          `gorm:"not null;index:idx_sync_audit_run,priority:3"`
}

// TableName returns the table name for GORM
func (SyncAuditModel) TableName() string {
	return "sync_audit_entries"
}

// ToDomain converts the persistence model to a domain AuditEntry entity.
func (m *SyncAuditModel) ToDomain() *ledger.AuditEntry {
	return &ledger.AuditEntry{
		ID:         m.ID,
		TenantID:   m.TenantID,
		RunID:      m.RunID,
		EntityType: m.EntityType,
		LocalID:    m.LocalID,
		RemoteID:   m.RemoteID,
		Direction:  m.Direction,
		Action:     m.Action,
		Class:      m.Class,
		Detail:     m.Detail,
		DryRun:     m.DryRun,
		CreatedAt:  m.CreatedAt,
	}
}

// FromDomain populates the persistence model from a domain AuditEntry entity.
func (m *SyncAuditModel) FromDomain(e *ledger.AuditEntry) {
	m.ID = e.ID
	m.TenantID = e.TenantID
	m.RunID = e.RunID
	m.EntityType = e.EntityType
	m.LocalID = e.LocalID
	m.RemoteID = e.RemoteID
	m.Direction = e.Direction
	m.Action = e.Action
	m.Class = e.Class
	m.Detail = e.Detail
	m.DryRun = e.DryRun
	m.CreatedAt = e.CreatedAt
}

// SyncAuditModelFromDomain creates a new persistence model from a domain AuditEntry entity.
func SyncAuditModelFromDomain(e *ledger.AuditEntry) *SyncAuditModel {
	m := &SyncAuditModel{}
	m.FromDomain(e)
	return m
}

// ---------------------------------------------------------------------------
// Checkpoint
// ---------------------------------------------------------------------------

// SyncCheckpointModel is the persistence model for the Checkpoint domain entity.
type SyncCheckpointModel struct {
	ID            uuid.UUID         `gorm:"type:uuid;primary_key"`
	TenantID      uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex:idx_sync_checkpoint_scope,priority:1"`
	EntityType    ledger.EntityType `gorm:"type:varchar(20);not null;uniqueIndex:idx_sync_checkpoint_scope,priority:2"`
	RunID         uuid.UUID         `gorm:"type:uuid;not null"`
	PageSize      int               `gorm:"not null"`
	NextPage      int               `gorm:"not null"`
	ModifiedSince *time.Time
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SyncCheckpointModel) TableName() string {
	return "sync_checkpoints"
}

// ToDomain converts the persistence model to a domain Checkpoint entity.
func (m *SyncCheckpointModel) ToDomain() *ledger.Checkpoint {
	return &ledger.Checkpoint{
		ID:            m.ID,
		TenantID:      m.TenantID,
		EntityType:    m.EntityType,
		RunID:         m.RunID,
		PageSize:      m.PageSize,
		NextPage:      m.NextPage,
		ModifiedSince: m.ModifiedSince,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from a domain Checkpoint entity.
func (m *SyncCheckpointModel) FromDomain(c *ledger.Checkpoint) {
	m.ID = c.ID
	m.TenantID = c.TenantID
	m.EntityType = c.EntityType
	m.RunID = c.RunID
	m.PageSize = c.PageSize
	m.NextPage = c.NextPage
	m.ModifiedSince = c.ModifiedSince
	m.CreatedAt = c.CreatedAt
	m.UpdatedAt = c.UpdatedAt
}

// SyncCheckpointModelFromDomain creates a new persistence model from a domain Checkpoint entity.
func SyncCheckpointModelFromDomain(c *ledger.Checkpoint) *SyncCheckpointModel {
	m := &SyncCheckpointModel{}
	m.FromDomain(c)
	return m
}

// ---------------------------------------------------------------------------
// Connection
// ---------------------------------------------------------------------------

// LedgerConnectionModel is the persistence model for the Connection domain entity.
type LedgerConnectionModel struct {
	ID                 uuid.UUID               `gorm:"type:uuid;primary_key"`
	TenantID           uuid.UUID               `gorm:"type:uuid;not null;uniqueIndex"`
	Provider           string                  `gorm:"type:varchar(50);not null"`
	BaseURL            string                  `gorm:"type:varchar(500);not null"`
	ClientID           string                  `gorm:"type:varchar(200);not null"`
	SealedClientSecret []byte                  `gorm:"type:bytea"`
	SealedSigningKey   []byte                  `gorm:"type:bytea"`
	LedgerTenantID     string                  `gorm:"type:varchar(100)"`
	Status             ledger.ConnectionStatus `gorm:"type:varchar(20);not null;default:'CONNECTED'"`
	Cursors            string                  `gorm:"type:jsonb"`
	ScheduleEnabled    bool                    `gorm:"not null;default:false;index"`
	ScheduleIntervalNS int64                   `gorm:"column:schedule_interval_ns;not null;default:0"`
	LastSyncedAt       *time.Time
	CreatedAt          time.Time `gorm:"not null"`
	UpdatedAt          time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (LedgerConnectionModel) TableName() string {
	return "ledger_connections"
}

// ToDomain converts the persistence model to a domain Connection entity.
func (m *LedgerConnectionModel) ToDomain() *ledger.Connection {
	conn := &ledger.Connection{
		ID:                 m.ID,
		TenantID:           m.TenantID,
		Provider:           m.Provider,
		BaseURL:            m.BaseURL,
		ClientID:           m.ClientID,
		SealedClientSecret: m.SealedClientSecret,
		SealedSigningKey:   m.SealedSigningKey,
		LedgerTenantID:     m.LedgerTenantID,
		Status:             m.Status,
		Cursors:            make(map[ledger.EntityType]time.Time),
		ScheduleEnabled:    m.ScheduleEnabled,
		ScheduleInterval:   time.Duration(m.ScheduleIntervalNS),
		LastSyncedAt:       m.LastSyncedAt,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}

	if m.Cursors != "" {
		var cursors map[ledger.EntityType]time.Time
		if err := json.Unmarshal([]byte(m.Cursors), &cursors); err == nil {
			conn.Cursors = cursors
		}
	}
	return conn
}

// FromDomain populates the persistence model from a domain Connection entity.
func (m *LedgerConnectionModel) FromDomain(c *ledger.Connection) {
	m.ID = c.ID
	m.TenantID = c.TenantID
	m.Provider = c.Provider
	m.BaseURL = c.BaseURL
	m.ClientID = c.ClientID
	m.SealedClientSecret = c.SealedClientSecret
	m.SealedSigningKey = c.SealedSigningKey
	m.LedgerTenantID = c.LedgerTenantID
	m.Status = c.Status
	m.ScheduleEnabled = c.ScheduleEnabled
	m.ScheduleIntervalNS = int64(c.ScheduleInterval)
	m.LastSyncedAt = c.LastSyncedAt
	m.CreatedAt = c.CreatedAt
	m.UpdatedAt = c.UpdatedAt

	if len(c.Cursors) > 0 {
		if bytes, err := json.Marshal(c.Cursors); err == nil {
			m.Cursors = string(bytes)
		}
	} else {
		m.Cursors = "{}"
	}
}

// LedgerConnectionModelFromDomain creates a new persistence model from a domain Connection entity.
func LedgerConnectionModelFromDomain(c *ledger.Connection) *LedgerConnectionModel {
	m := &LedgerConnectionModel{}
	m.FromDomain(c)
	return m
}
