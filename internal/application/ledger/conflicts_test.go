package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerlink/backend/internal/domain/ledger"
)

func newConflictService(env *testEnv) *ConflictService {
	return NewConflictService(env.conflicts, env.states, env.audits, env.local, nil)
}

// captureContactConflict drives a real pull into a divergence: the contact
// was renamed on both sides since its baseline.
func captureContactConflict(t *testing.T, env *testEnv) (ledger.ConflictRecord, uuid.UUID) {
	t.Helper()
	base := contactDoc("Acme Industries", "ap@acme.example")
	localID, _ := seedSynced(t, env, ledger.EntityTypeContact, "C-001", base)
	env.local.set(ledger.EntityTypeContact, localID, withField(base, "name", "Acme (local)"))
	env.remote.setDoc(ledger.EntityTypeContact, "C-001", withField(base, "name", "Acme (remote)"), time.Now().UTC())

	run := startedRun(t, env.tenantID, ledger.DirectionPull, ledger.RunOptions{})
	require.NoError(t, newPull(t, env).Run(context.Background(), run, env.conn, ledger.EntityTypeContact))

	conflicts, _, err := env.conflicts.List(context.Background(), env.tenantID, ledger.ConflictFilter{Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	require.Equal(t, ledger.ConflictStatusOpen, conflicts[0].Status)
	return conflicts[0], localID
}

func TestConflictService_ResolveUseRemote(t *testing.T) {
	env := newTestEnv(t)
	conflict, localID := captureContactConflict(t, env)
	svc := newConflictService(env)

	resolved, err := svc.Resolve(context.Background(), env.tenantID, conflict.ID, ledger.ResolutionUseRemote, "controller@example.com")
	require.NoError(t, err)
	assert.Equal(t, ledger.ConflictStatusResolved, resolved.Status)
	assert.Equal(t, ledger.ResolutionUseRemote, resolved.Resolution)
	assert.Equal(t, "controller@example.com", resolved.ResolvedBy)
	assert.NotNil(t, resolved.ResolvedAt)

	// The captured remote version overwrote the local record, locally-owned
	// name included.
	localDoc := env.local.doc(ledger.EntityTypeContact, localID)
	assert.Equal(t, "Acme (remote)", localDoc["name"])

	state, err := env.states.FindByLocalID(context.Background(), env.tenantID, ledger.EntityTypeContact, localID)
	require.NoError(t, err)
	assert.Equal(t, ledger.SyncStatusActive, state.Status)
	assert.Equal(t, ledger.OriginResolution, state.Origin)
	assert.Equal(t, conflict.RemoteFingerprint, state.LastLocalFingerprint)
	assert.Equal(t, conflict.RemoteFingerprint, state.LastRemoteFingerprint)

	resolves := env.audits.byAction(conflict.CorrelationID, ledger.AuditActionResolve)
	require.Len(t, resolves, 1)
	assert.Equal(t, "resolved as USE_REMOTE by controller@example.com", resolves[0].Detail)

	// Both sides agree now, so the next push finds no candidate.
	push := newPush(t, env)
	run := startedRun(t, env.tenantID, ledger.DirectionPush, ledger.RunOptions{})
	require.NoError(t, push.Run(context.Background(), run, env.conn, ledger.EntityTypeContact))
	assert.Equal(t, ledger.RunCounters{}, run.Counters)
	assert.Equal(t, 0, env.remote.updateCount())

	// The decision is final.
	_, err = svc.Resolve(context.Background(), env.tenantID, conflict.ID, ledger.ResolutionSkip, "controller@example.com")
	require.ErrorIs(t, err, ledger.ErrConflictResolved)
}

func TestConflictService_ResolveUseLocalReassertsOnPush(t *testing.T) {
	env := newTestEnv(t)
	conflict, localID := captureContactConflict(t, env)
	svc := newConflictService(env)

	_, err := svc.Resolve(context.Background(), env.tenantID, conflict.ID, ledger.ResolutionUseLocal, "controller@example.com")
	require.NoError(t, err)

	// The local baseline stays at the pre-conflict fingerprint, so the
	// local edit still reads as LOCAL_ONLY.
	state, err := env.states.FindByLocalID(context.Background(), env.tenantID, ledger.EntityTypeContact, localID)
	require.NoError(t, err)
	assert.Equal(t, ledger.SyncStatusActive, state.Status)
	assert.Equal(t, conflict.BaselineLocalFingerprint, state.LastLocalFingerprint)
	assert.Equal(t, conflict.RemoteFingerprint, state.LastRemoteFingerprint)

	push := newPush(t, env)
	run := startedRun(t, env.tenantID, ledger.DirectionPush, ledger.RunOptions{})
	require.NoError(t, push.Run(context.Background(), run, env.conn, ledger.EntityTypeContact))

	assert.Equal(t, ledger.RunCounters{Processed: 1, Succeeded: 1}, run.Counters)
	assert.Equal(t, 1, env.remote.updateCount())
	remoteDoc := env.remote.doc(ledger.EntityTypeContact, "C-001")
	assert.Equal(t, "Acme (local)", remoteDoc["name"])
}

func TestConflictService_ResolveSkipAcceptsDivergence(t *testing.T) {
	env := newTestEnv(t)
	conflict, localID := captureContactConflict(t, env)
	svc := newConflictService(env)

	_, err := svc.Resolve(context.Background(), env.tenantID, conflict.ID, ledger.ResolutionSkip, "controller@example.com")
	require.NoError(t, err)

	state, err := env.states.FindByLocalID(context.Background(), env.tenantID, ledger.EntityTypeContact, localID)
	require.NoError(t, err)
	assert.Equal(t, conflict.LocalFingerprint, state.LastLocalFingerprint)
	assert.Equal(t, conflict.RemoteFingerprint, state.LastRemoteFingerprint)

	// The divergence is the baseline now: the pull sees no drift and the
	// push finds no candidate.
	pull := newPull(t, env)
	pullRun := startedRun(t, env.tenantID, ledger.DirectionPull, ledger.RunOptions{ForceRefresh: true})
	require.NoError(t, pull.Run(context.Background(), pullRun, env.conn, ledger.EntityTypeContact))
	assert.Equal(t, ledger.RunCounters{Processed: 1, Skipped: 1}, pullRun.Counters)

	push := newPush(t, env)
	pushRun := startedRun(t, env.tenantID, ledger.DirectionPush, ledger.RunOptions{})
	require.NoError(t, push.Run(context.Background(), pushRun, env.conn, ledger.EntityTypeContact))
	assert.Equal(t, ledger.RunCounters{}, pushRun.Counters)

	// Each side keeps its own version.
	assert.Equal(t, "Acme (local)", env.local.doc(ledger.EntityTypeContact, localID)["name"])
	assert.Equal(t, "Acme (remote)", env.remote.doc(ledger.EntityTypeContact, "C-001")["name"])
}

func TestConflictService_ResolutionGuards(t *testing.T) {
	env := newTestEnv(t)
	conflict, _ := captureContactConflict(t, env)
	svc := newConflictService(env)

	_, err := svc.Resolve(context.Background(), env.tenantID, conflict.ID, ledger.Resolution("MERGE_BOTH"), "controller@example.com")
	require.ErrorIs(t, err, ledger.ErrInvalidResolution)

	_, err = svc.Resolve(context.Background(), env.tenantID, uuid.New(), ledger.ResolutionSkip, "controller@example.com")
	require.ErrorIs(t, err, ledger.ErrConflictNotFound)

	got, err := svc.Get(context.Background(), env.tenantID, conflict.ID)
	require.NoError(t, err)
	assert.Equal(t, conflict.ID, got.ID)
	assert.Equal(t, ledger.ConflictStatusOpen, got.Status)

	open := ledger.ConflictStatusOpen
	listed, total, err := svc.List(context.Background(), env.tenantID, ledger.ConflictFilter{Status: &open, Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Len(t, listed, 1)
}
