package handler

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerlink/backend/internal/domain/ledger"
)

func TestParseDirection(t *testing.T) {
	tests := []struct {
		input    string
		expected ledger.Direction
		wantErr  bool
	}{
		{"pull", ledger.DirectionPull, false},
		{"push", ledger.DirectionPush, false},
		{"both", ledger.DirectionBoth, false},
		{"PULL", "", true},
		{"sideways", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseDirection(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestFormatDirection(t *testing.T) {
	assert.Equal(t, "pull", formatDirection(ledger.DirectionPull))
	assert.Equal(t, "push", formatDirection(ledger.DirectionPush))
	assert.Equal(t, "both", formatDirection(ledger.DirectionBoth))
}

func TestParseResolution(t *testing.T) {
	tests := []struct {
		input    string
		expected ledger.Resolution
		wantErr  bool
	}{
		{"use_local", ledger.ResolutionUseLocal, false},
		{"use_remote", ledger.ResolutionUseRemote, false},
		{"skip", ledger.ResolutionSkip, false},
		{"USE_LOCAL", "", true},
		{"merge", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseResolution(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParseEntityTypes(t *testing.T) {
	t.Run("empty means all", func(t *testing.T) {
		got, err := parseEntityTypes(nil)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("case insensitive", func(t *testing.T) {
		got, err := parseEntityTypes([]string{"contact", "Invoice", "PAYMENT"})
		require.NoError(t, err)
		assert.Equal(t, []ledger.EntityType{
			ledger.EntityTypeContact,
			ledger.EntityTypeInvoice,
			ledger.EntityTypePayment,
		}, got)
	})

	t.Run("unknown type rejected", func(t *testing.T) {
		_, err := parseEntityTypes([]string{"contact", "purchase_order"})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "purchase_order")
	})
}

func TestStartSyncRequestToCommand(t *testing.T) {
	recordID := uuid.New()
	since := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	t.Run("full request", func(t *testing.T) {
		req := StartSyncRequest{
			Direction:   "both",
			EntityTypes: []string{"invoice"},
			Options: SyncRunOptionsIn{
				DryRun:        true,
				ForceRefresh:  true,
				ModifiedSince: &since,
				SpecificIDs:   []string{recordID.String()},
			},
		}

		cmd, err := req.toCommand()
		require.NoError(t, err)
		assert.Equal(t, ledger.DirectionBoth, cmd.direction)
		assert.Equal(t, []ledger.EntityType{ledger.EntityTypeInvoice}, cmd.entityTypes)
		assert.True(t, cmd.options.DryRun)
		assert.True(t, cmd.options.ForceRefresh)
		require.NotNil(t, cmd.options.ModifiedSince)
		assert.Equal(t, since, *cmd.options.ModifiedSince)
		assert.Equal(t, []uuid.UUID{recordID}, cmd.options.SpecificIDs)
		assert.Equal(t, "api", cmd.options.TriggeredBy)
	})

	t.Run("invalid record id", func(t *testing.T) {
		req := StartSyncRequest{
			Direction: "push",
			Options:   SyncRunOptionsIn{SpecificIDs: []string{"not-a-uuid"}},
		}
		_, err := req.toCommand()
		assert.Error(t, err)
	})

	t.Run("invalid direction", func(t *testing.T) {
		req := StartSyncRequest{Direction: "upward"}
		_, err := req.toCommand()
		assert.Error(t, err)
	})
}

func TestToSyncRunResponse(t *testing.T) {
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	run := &ledger.SyncRun{
		ID:          uuid.New(),
		Direction:   ledger.DirectionPull,
		EntityTypes: []ledger.EntityType{ledger.EntityTypeContact, ledger.EntityTypeInvoice},
		Status:      ledger.RunStatusRunning,
		Phase:       "PULL:INVOICE",
		Options:     ledger.RunOptions{DryRun: true, TriggeredBy: "scheduler"},
		Counters:    ledger.RunCounters{Processed: 10, Succeeded: 7, Failed: 1, Conflicts: 1, Skipped: 1},
		StartedAt:   &started,
		CreatedAt:   started,
	}

	resp := toSyncRunResponse(run)

	assert.Equal(t, run.ID.String(), resp.ID)
	assert.Equal(t, "pull", resp.Direction)
	assert.Equal(t, []string{"contact", "invoice"}, resp.EntityTypes)
	assert.Equal(t, "RUNNING", resp.Status)
	assert.Equal(t, "PULL:INVOICE", resp.Phase)
	assert.True(t, resp.DryRun)
	assert.Equal(t, "scheduler", resp.TriggeredBy)
	assert.Equal(t, 10, resp.Counters.Processed)
	assert.Equal(t, 7, resp.Counters.Succeeded)
	require.NotNil(t, resp.StartedAt)
	assert.Nil(t, resp.FinishedAt)
}

func TestToConflictResponse(t *testing.T) {
	resolvedAt := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	conflict := &ledger.ConflictRecord{
		ID:             uuid.New(),
		EntityType:     ledger.EntityTypeInvoice,
		LocalID:        uuid.New(),
		RemoteID:       "rem-42",
		LocalDocument:  ledger.Document{"total": "100.00"},
		RemoteDocument: ledger.Document{"total": "110.00"},
		CorrelationID:  uuid.New(),
		Status:         ledger.ConflictStatusResolved,
		Resolution:     ledger.ResolutionUseRemote,
		ResolvedBy:     "ops@example.com",
		ResolvedAt:     &resolvedAt,
		DetectedAt:     resolvedAt.Add(-time.Hour),
	}

	t.Run("list shape omits documents", func(t *testing.T) {
		resp := toConflictResponse(conflict, false)
		assert.Nil(t, resp.LocalDocument)
		assert.Nil(t, resp.RemoteDocument)
		assert.Equal(t, "invoice", resp.EntityType)
		assert.Equal(t, "use_remote", resp.Resolution)
		assert.Equal(t, "RESOLVED", resp.Status)
	})

	t.Run("detail shape carries documents", func(t *testing.T) {
		resp := toConflictResponse(conflict, true)
		assert.Equal(t, conflict.LocalDocument, resp.LocalDocument)
		assert.Equal(t, conflict.RemoteDocument, resp.RemoteDocument)
	})

	t.Run("open conflict has no resolution", func(t *testing.T) {
		open := *conflict
		open.Status = ledger.ConflictStatusOpen
		open.Resolution = ""
		open.ResolvedBy = ""
		open.ResolvedAt = nil

		resp := toConflictResponse(&open, false)
		assert.Empty(t, resp.Resolution)
		assert.Nil(t, resp.ResolvedAt)
	})
}

func TestToConnectionResponseNeverEchoesSecrets(t *testing.T) {
	conn := &ledger.Connection{
		ID:                 uuid.New(),
		TenantID:           uuid.New(),
		Provider:           "standardledger",
		BaseURL:            "https://ledger.example.com",
		ClientID:           "client-abc",
		SealedClientSecret: []byte("sealed-secret-bytes"),
		SealedSigningKey:   []byte("sealed-signing-key"),
		LedgerTenantID:     "org-77",
		Status:             ledger.ConnectionStatusConnected,
		ScheduleEnabled:    true,
		ScheduleInterval:   15 * time.Minute,
		CreatedAt:          time.Now().UTC(),
		UpdatedAt:          time.Now().UTC(),
	}

	resp := toConnectionResponse(conn)
	assert.Equal(t, "standardledger", resp.Provider)
	assert.Equal(t, "CONNECTED", resp.Status)
	assert.Equal(t, "15m0s", resp.ScheduleInterval)

	payload, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.NotContains(t, string(payload), "sealed-secret-bytes")
	assert.NotContains(t, string(payload), "sealed-signing-key")
	assert.NotContains(t, string(payload), "secret")
}
