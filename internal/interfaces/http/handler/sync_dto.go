package handler

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerlink/backend/internal/domain/ledger"
)

// Direction literals at the API boundary.
const (
	directionPull = "pull"
	directionPush = "push"
	directionBoth = "both"
)

// Resolution literals at the API boundary.
const (
	resolutionUseLocal  = "use_local"
	resolutionUseRemote = "use_remote"
	resolutionSkip      = "skip"
)

// parseDirection maps an API direction literal onto the domain value.
func parseDirection(s string) (ledger.Direction, error) {
	switch s {
	case directionPull:
		return ledger.DirectionPull, nil
	case directionPush:
		return ledger.DirectionPush, nil
	case directionBoth:
		return ledger.DirectionBoth, nil
	default:
		return "", fmt.Errorf("direction must be %q, %q or %q", directionPull, directionPush, directionBoth)
	}
}

// formatDirection maps a domain direction onto its API literal.
func formatDirection(d ledger.Direction) string {
	return strings.ToLower(d.String())
}

// parseResolution maps an API resolution literal onto the domain value.
func parseResolution(s string) (ledger.Resolution, error) {
	switch s {
	case resolutionUseLocal:
		return ledger.ResolutionUseLocal, nil
	case resolutionUseRemote:
		return ledger.ResolutionUseRemote, nil
	case resolutionSkip:
		return ledger.ResolutionSkip, nil
	default:
		return "", fmt.Errorf("resolution must be %q, %q or %q", resolutionUseLocal, resolutionUseRemote, resolutionSkip)
	}
}

// parseEntityTypes maps API entity type names onto domain values.
func parseEntityTypes(names []string) ([]ledger.EntityType, error) {
	if len(names) == 0 {
		return nil, nil
	}
	types := make([]ledger.EntityType, 0, len(names))
	for _, name := range names {
		entityType := ledger.EntityType(strings.ToUpper(name))
		if !entityType.IsValid() {
			return nil, fmt.Errorf("unknown entity type %q", name)
		}
		types = append(types, entityType)
	}
	return types, nil
}

// StartSyncRequest represents a request to start a sync run
// @Description Request body for starting a sync run
type StartSyncRequest struct {
	Direction   string           `json:"direction" binding:"required,oneof=pull push both" example:"both"`
	EntityTypes []string         `json:"entity_types" example:"contact,invoice"`
	Options     SyncRunOptionsIn `json:"options"`
}

// SyncRunOptionsIn represents run options in a start request
// @Description Run options
type SyncRunOptionsIn struct {
	DryRun        bool       `json:"dry_run" example:"false"`
	ForceRefresh  bool       `json:"force_refresh" example:"false"`
	ModifiedSince *time.Time `json:"modified_since" example:"2026-01-01T00:00:00Z"`
	SpecificIDs   []string   `json:"specific_ids"`
}

func (r StartSyncRequest) toCommand() (commandOut struct {
	direction   ledger.Direction
	entityTypes []ledger.EntityType
	options     ledger.RunOptions
}, err error) {
	commandOut.direction, err = parseDirection(r.Direction)
	if err != nil {
		return commandOut, err
	}
	commandOut.entityTypes, err = parseEntityTypes(r.EntityTypes)
	if err != nil {
		return commandOut, err
	}

	commandOut.options = ledger.RunOptions{
		DryRun:        r.Options.DryRun,
		ForceRefresh:  r.Options.ForceRefresh,
		ModifiedSince: r.Options.ModifiedSince,
		TriggeredBy:   "api",
	}
	for _, raw := range r.Options.SpecificIDs {
		id, parseErr := uuid.Parse(raw)
		if parseErr != nil {
			return commandOut, fmt.Errorf("invalid record id %q", raw)
		}
		commandOut.options.SpecificIDs = append(commandOut.options.SpecificIDs, id)
	}
	return commandOut, nil
}

// SyncRunResponse represents a sync run snapshot
// @Description Sync run status snapshot
type SyncRunResponse struct {
	ID           string              `json:"id"`
	Direction    string              `json:"direction" example:"both"`
	EntityTypes  []string            `json:"entity_types" example:"contact,invoice,payment"`
	Status       string              `json:"status" example:"RUNNING"`
	Phase        string              `json:"phase" example:"PULL:CONTACT"`
	DryRun       bool                `json:"dry_run"`
	TriggeredBy  string              `json:"triggered_by" example:"api"`
	Degraded     bool                `json:"degraded"`
	ErrorMessage string              `json:"error_message,omitempty"`
	Counters     SyncCountersPayload `json:"counters"`
	StartedAt    *time.Time          `json:"started_at,omitempty"`
	FinishedAt   *time.Time          `json:"finished_at,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
}

// SyncCountersPayload aggregates per-record outcomes
// @Description Per-record outcome counters
type SyncCountersPayload struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Conflicts int `json:"conflicts"`
	Skipped   int `json:"skipped"`
}

func toSyncRunResponse(run *ledger.SyncRun) SyncRunResponse {
	entityTypes := make([]string, len(run.EntityTypes))
	for i, entityType := range run.EntityTypes {
		entityTypes[i] = strings.ToLower(entityType.String())
	}
	return SyncRunResponse{
		ID:           run.ID.String(),
		Direction:    formatDirection(run.Direction),
		EntityTypes:  entityTypes,
		Status:       run.Status.String(),
		Phase:        run.Phase,
		DryRun:       run.Options.DryRun,
		TriggeredBy:  run.Options.TriggeredBy,
		Degraded:     run.Degraded,
		ErrorMessage: run.ErrorMessage,
		Counters: SyncCountersPayload{
			Processed: run.Counters.Processed,
			Succeeded: run.Counters.Succeeded,
			Failed:    run.Counters.Failed,
			Conflicts: run.Counters.Conflicts,
			Skipped:   run.Counters.Skipped,
		},
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		CreatedAt:  run.CreatedAt,
	}
}

// AuditEntryResponse represents one per-record outcome
// @Description One audit trail entry of a sync run
type AuditEntryResponse struct {
	ID         string    `json:"id"`
	EntityType string    `json:"entity_type" example:"invoice"`
	LocalID    *string   `json:"local_id,omitempty"`
	RemoteID   string    `json:"remote_id,omitempty"`
	Direction  string    `json:"direction" example:"pull"`
	Action     string    `json:"action" example:"UPDATE"`
	Class      string    `json:"class,omitempty" example:"REMOTE_ONLY"`
	Detail     string    `json:"detail,omitempty"`
	DryRun     bool      `json:"dry_run"`
	CreatedAt  time.Time `json:"created_at"`
}

func toAuditEntryResponse(entry *ledger.AuditEntry) AuditEntryResponse {
	resp := AuditEntryResponse{
		ID:         entry.ID.String(),
		EntityType: strings.ToLower(entry.EntityType.String()),
		RemoteID:   entry.RemoteID,
		Direction:  formatDirection(entry.Direction),
		Action:     string(entry.Action),
		Class:      string(entry.Class),
		Detail:     entry.Detail,
		DryRun:     entry.DryRun,
		CreatedAt:  entry.CreatedAt,
	}
	if entry.LocalID != nil {
		localID := entry.LocalID.String()
		resp.LocalID = &localID
	}
	return resp
}

// ConflictResponse represents a captured divergence
// @Description A detected conflict with both document versions
type ConflictResponse struct {
	ID             string          `json:"id"`
	EntityType     string          `json:"entity_type" example:"invoice"`
	LocalID        string          `json:"local_id"`
	RemoteID       string          `json:"remote_id"`
	Status         string          `json:"status" example:"OPEN"`
	Resolution     string          `json:"resolution,omitempty" example:"use_remote"`
	ResolvedBy     string          `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty"`
	LocalDocument  ledger.Document `json:"local_document,omitempty"`
	RemoteDocument ledger.Document `json:"remote_document,omitempty"`
	CorrelationID  string          `json:"correlation_id"`
	ArchiveKey     string          `json:"archive_key,omitempty"`
	DetectedAt     time.Time       `json:"detected_at"`
}

func toConflictResponse(conflict *ledger.ConflictRecord, includeDocuments bool) ConflictResponse {
	resp := ConflictResponse{
		ID:            conflict.ID.String(),
		EntityType:    strings.ToLower(conflict.EntityType.String()),
		LocalID:       conflict.LocalID.String(),
		RemoteID:      conflict.RemoteID,
		Status:        conflict.Status.String(),
		ResolvedBy:    conflict.ResolvedBy,
		ResolvedAt:    conflict.ResolvedAt,
		CorrelationID: conflict.CorrelationID.String(),
		ArchiveKey:    conflict.ArchiveKey,
		DetectedAt:    conflict.DetectedAt,
	}
	if conflict.Resolution != "" {
		resp.Resolution = strings.ToLower(conflict.Resolution.String())
	}
	if includeDocuments {
		resp.LocalDocument = conflict.LocalDocument
		resp.RemoteDocument = conflict.RemoteDocument
	}
	return resp
}

// ConnectionResponse represents a tenant's ledger connection
// @Description Ledger connection status. Credentials are never echoed back.
type ConnectionResponse struct {
	Provider         string     `json:"provider" example:"standardledger"`
	BaseURL          string     `json:"base_url"`
	ClientID         string     `json:"client_id"`
	LedgerTenantID   string     `json:"ledger_tenant_id"`
	Status           string     `json:"status" example:"CONNECTED"`
	ScheduleEnabled  bool       `json:"schedule_enabled"`
	ScheduleInterval string     `json:"schedule_interval,omitempty" example:"15m"`
	LastSyncedAt     *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func toConnectionResponse(conn *ledger.Connection) ConnectionResponse {
	resp := ConnectionResponse{
		Provider:        conn.Provider,
		BaseURL:         conn.BaseURL,
		ClientID:        conn.ClientID,
		LedgerTenantID:  conn.LedgerTenantID,
		Status:          conn.Status.String(),
		ScheduleEnabled: conn.ScheduleEnabled,
		LastSyncedAt:    conn.LastSyncedAt,
		CreatedAt:       conn.CreatedAt,
		UpdatedAt:       conn.UpdatedAt,
	}
	if conn.ScheduleInterval > 0 {
		resp.ScheduleInterval = conn.ScheduleInterval.String()
	}
	return resp
}
