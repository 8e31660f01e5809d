package ledger

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// SyncRun Tests
// ---------------------------------------------------------------------------

func TestNewSyncRun(t *testing.T) {
	tenantID := uuid.New()

	t.Run("Empty entity list means all types in dependency order", func(t *testing.T) {
		run, err := NewSyncRun(tenantID, DirectionBoth, nil, RunOptions{TriggeredBy: "api"})
		require.NoError(t, err)
		assert.Equal(t, []EntityType{EntityTypeContact, EntityTypeInvoice, EntityTypePayment}, run.EntityTypes)
		assert.Equal(t, RunStatusPending, run.Status)
		assert.Equal(t, "PENDING", run.Phase)
	})

	t.Run("Requested types are re-sorted into dependency order", func(t *testing.T) {
		run, err := NewSyncRun(tenantID, DirectionPull, []EntityType{EntityTypePayment, EntityTypeContact}, RunOptions{})
		require.NoError(t, err)
		assert.Equal(t, []EntityType{EntityTypeContact, EntityTypePayment}, run.EntityTypes)
	})

	t.Run("Duplicates collapse", func(t *testing.T) {
		run, err := NewSyncRun(tenantID, DirectionPush, []EntityType{EntityTypeInvoice, EntityTypeInvoice}, RunOptions{})
		require.NoError(t, err)
		assert.Equal(t, []EntityType{EntityTypeInvoice}, run.EntityTypes)
	})

	t.Run("Invalid direction rejected", func(t *testing.T) {
		_, err := NewSyncRun(tenantID, Direction("SIDEWAYS"), nil, RunOptions{})
		assert.Error(t, err)
	})

	t.Run("Invalid entity type rejected", func(t *testing.T) {
		_, err := NewSyncRun(tenantID, DirectionPull, []EntityType{EntityType("EXPENSE")}, RunOptions{})
		assert.ErrorIs(t, err, ErrEntityUnsupported)
	})
}

func TestSyncRun_Lifecycle(t *testing.T) {
	t.Run("Start moves pending to running", func(t *testing.T) {
		run, err := NewSyncRun(uuid.New(), DirectionPull, nil, RunOptions{})
		require.NoError(t, err)

		require.NoError(t, run.Start())
		assert.Equal(t, RunStatusRunning, run.Status)
		require.NotNil(t, run.StartedAt)

		assert.Error(t, run.Start(), "double start rejected")
	})

	t.Run("Phase tracks the executing step", func(t *testing.T) {
		run, err := NewSyncRun(uuid.New(), DirectionBoth, nil, RunOptions{})
		require.NoError(t, err)
		run.SetPhase(DirectionPull, EntityTypeInvoice)
		assert.Equal(t, "PULL:INVOICE", run.Phase)
	})
}

func TestSyncRun_Finish(t *testing.T) {
	newRunning := func(t *testing.T, counters RunCounters) *SyncRun {
		t.Helper()
		run, err := NewSyncRun(uuid.New(), DirectionBoth, nil, RunOptions{})
		require.NoError(t, err)
		require.NoError(t, run.Start())
		run.Accumulate(counters)
		return run
	}

	t.Run("Clean run succeeds", func(t *testing.T) {
		run := newRunning(t, RunCounters{Processed: 10, Succeeded: 8, Skipped: 2})
		run.Finish(false, nil)
		assert.Equal(t, RunStatusSuccess, run.Status)
		require.NotNil(t, run.FinishedAt)
		assert.Equal(t, "DONE", run.Phase)
	})

	t.Run("Any failed record demotes to partial", func(t *testing.T) {
		run := newRunning(t, RunCounters{Processed: 10, Succeeded: 9, Failed: 1})
		run.Finish(false, nil)
		assert.Equal(t, RunStatusPartial, run.Status)
	})

	t.Run("Any conflict demotes to partial", func(t *testing.T) {
		run := newRunning(t, RunCounters{Processed: 10, Succeeded: 9, Conflicts: 1})
		run.Finish(false, nil)
		assert.Equal(t, RunStatusPartial, run.Status)
	})

	t.Run("Batch-level failure demotes to partial even when counters are clean", func(t *testing.T) {
		run := newRunning(t, RunCounters{Processed: 10, Succeeded: 10})
		run.MarkDegraded()
		run.Finish(false, nil)
		assert.Equal(t, RunStatusPartial, run.Status)
	})

	t.Run("Cancellation demotes to partial even when clean", func(t *testing.T) {
		run := newRunning(t, RunCounters{Processed: 3, Succeeded: 3})
		run.Finish(true, nil)
		assert.Equal(t, RunStatusPartial, run.Status)
		assert.Equal(t, "sync canceled", run.ErrorMessage)
	})

	t.Run("Fatal precondition wins over everything", func(t *testing.T) {
		run := newRunning(t, RunCounters{Processed: 3, Succeeded: 3})
		run.Finish(true, errors.New("no valid access token"))
		assert.Equal(t, RunStatusError, run.Status)
		assert.Equal(t, "no valid access token", run.ErrorMessage)
	})
}

func TestRunCounters(t *testing.T) {
	a := RunCounters{Processed: 5, Succeeded: 3, Failed: 1, Conflicts: 1}
	b := RunCounters{Processed: 2, Succeeded: 2, Skipped: 1}

	a.Add(b)
	assert.Equal(t, RunCounters{Processed: 7, Succeeded: 5, Failed: 1, Conflicts: 1, Skipped: 1}, a)
	assert.False(t, a.Clean())
	assert.True(t, b.Clean())
}
