package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerlink/backend/internal/domain/ledger"
)

func TestPullPipeline_FirstSyncCreatesLocalRecords(t *testing.T) {
	env := newTestEnv(t)
	base := time.Now().UTC().Add(-2 * time.Hour)
	env.remote.seed(ledger.EntityTypeContact, "C-001", contactDoc("Acme Industries", "ap@acme.example"), base)
	env.remote.seed(ledger.EntityTypeContact, "C-002", contactDoc("Blue Harbor BV", "finance@blueharbor.example"), base.Add(time.Hour))

	run := startedRun(t, env.tenantID, ledger.DirectionPull, ledger.RunOptions{})
	pull := newPull(t, env)

	require.NoError(t, pull.Run(context.Background(), run, env.conn, ledger.EntityTypeContact))

	assert.Equal(t, ledger.RunCounters{Processed: 2, Succeeded: 2}, run.Counters)
	assert.Equal(t, 2, env.local.createCount())

	for _, remoteID := range []string{"C-001", "C-002"} {
		state, err := env.states.FindByRemoteID(context.Background(), env.tenantID, ledger.EntityTypeContact, remoteID)
		require.NoError(t, err)
		assert.True(t, state.Linked())
		assert.Equal(t, ledger.SyncStatusActive, state.Status)
		assert.Equal(t, run.ID, state.CorrelationID)
		assert.Equal(t, ledger.OriginRemote, state.Origin)
		assert.NotEmpty(t, state.LastLocalFingerprint)
		// The local record was materialized from the remote document, so
		// both sides fingerprint identically.
		assert.Equal(t, state.LastRemoteFingerprint, state.LastLocalFingerprint)
	}

	creates := env.audits.byAction(run.ID, ledger.AuditActionCreate)
	require.Len(t, creates, 2)
	for _, e := range creates {
		assert.Equal(t, ledger.DirectionPull, e.Direction)
		assert.Equal(t, ledger.ChangeFirstSync, e.Class)
		assert.NotNil(t, e.LocalID)
		assert.False(t, e.DryRun)
	}

	// A completed pull clears its checkpoint and advances the cursor to the
	// newest modification it saw.
	cp, err := env.checkpoints.Find(context.Background(), env.tenantID, ledger.EntityTypeContact)
	require.NoError(t, err)
	assert.Nil(t, cp)
	assert.Equal(t, 1, env.checkpoints.clearCount())

	conn, err := env.connections.FindByTenant(context.Background(), env.tenantID)
	require.NoError(t, err)
	cursor := conn.CursorFor(ledger.EntityTypeContact)
	require.NotNil(t, cursor)
	assert.True(t, cursor.Equal(base.Add(time.Hour)))
}

func TestPullPipeline_SecondRunSkipsCleanRecords(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now().UTC()
	env.remote.seed(ledger.EntityTypeContact, "C-001", contactDoc("Acme Industries", "ap@acme.example"), now)
	env.remote.seed(ledger.EntityTypeContact, "C-002", contactDoc("Blue Harbor BV", "finance@blueharbor.example"), now)
	pull := newPull(t, env)

	first := startedRun(t, env.tenantID, ledger.DirectionPull, ledger.RunOptions{})
	require.NoError(t, pull.Run(context.Background(), first, env.conn, ledger.EntityTypeContact))
	savesAfterFirst := env.states.saveCount()

	second := startedRun(t, env.tenantID, ledger.DirectionPull, ledger.RunOptions{ForceRefresh: true})
	require.NoError(t, pull.Run(context.Background(), second, env.conn, ledger.EntityTypeContact))

	assert.Equal(t, ledger.RunCounters{Processed: 2, Skipped: 2}, second.Counters)
	assert.Equal(t, savesAfterFirst, env.states.saveCount())
	assert.Equal(t, 0, env.local.patchCount())
	assert.Equal(t, 2, env.local.createCount())

	skips := env.audits.byAction(second.ID, ledger.AuditActionSkip)
	require.Len(t, skips, 2)
	for _, e := range skips {
		assert.Equal(t, ledger.ChangeNone, e.Class)
		assert.Equal(t, "no drift", e.Detail)
	}
}

func TestPullPipeline_AppliesRemoteOwnedFieldsOnly(t *testing.T) {
	env := newTestEnv(t)
	doc := contactDoc("Acme Industries", "ap@acme.example")
	localID, _ := seedSynced(t, env, ledger.EntityTypeContact, "C-001", doc)

	// A human edits the ledger: the balance moves and, through whatever
	// integration, a locally-owned field drifts too.
	remoteEdited := withField(doc, "outstanding_balance", decimal.RequireFromString("150.25"))
	remoteEdited["name"] = "Acme Industries Ltd"
	env.remote.setDoc(ledger.EntityTypeContact, "C-001", remoteEdited, time.Now().UTC())

	run := startedRun(t, env.tenantID, ledger.DirectionPull, ledger.RunOptions{})
	pull := newPull(t, env)
	require.NoError(t, pull.Run(context.Background(), run, env.conn, ledger.EntityTypeContact))

	assert.Equal(t, ledger.RunCounters{Processed: 1, Succeeded: 1}, run.Counters)

	localDoc := env.local.doc(ledger.EntityTypeContact, localID)
	bal, ok := localDoc["outstanding_balance"].(decimal.Decimal)
	require.True(t, ok)
	assert.True(t, bal.Equal(decimal.RequireFromString("150.25")))
	// The locally-owned name is never overwritten by a pull.
	assert.Equal(t, "Acme Industries", localDoc["name"])

	state, err := env.states.FindByRemoteID(context.Background(), env.tenantID, ledger.EntityTypeContact, "C-001")
	require.NoError(t, err)
	remoteFp, err := ledger.Fingerprint(remoteEdited)
	require.NoError(t, err)
	localFp, err := ledger.Fingerprint(localDoc)
	require.NoError(t, err)
	assert.Equal(t, remoteFp, state.LastRemoteFingerprint)
	assert.Equal(t, localFp, state.LastLocalFingerprint)

	// The remote drift in the name is accepted as baseline, so the next
	// pull sees no change at all.
	again := startedRun(t, env.tenantID, ledger.DirectionPull, ledger.RunOptions{ForceRefresh: true})
	require.NoError(t, pull.Run(context.Background(), again, env.conn, ledger.EntityTypeContact))
	assert.Equal(t, ledger.RunCounters{Processed: 1, Skipped: 1}, again.Counters)
}

func TestPullPipeline_LocalAheadIsLeftForPush(t *testing.T) {
	env := newTestEnv(t)
	doc := contactDoc("Acme Industries", "ap@acme.example")
	localID, seeded := seedSynced(t, env, ledger.EntityTypeContact, "C-001", doc)

	env.local.set(ledger.EntityTypeContact, localID, withField(doc, "phone", "+31 6 9999 0000"))

	run := startedRun(t, env.tenantID, ledger.DirectionPull, ledger.RunOptions{ForceRefresh: true})
	pull := newPull(t, env)
	require.NoError(t, pull.Run(context.Background(), run, env.conn, ledger.EntityTypeContact))

	assert.Equal(t, ledger.RunCounters{Processed: 1, Skipped: 1}, run.Counters)
	assert.Equal(t, 0, env.local.patchCount())

	state, err := env.states.FindByLocalID(context.Background(), env.tenantID, ledger.EntityTypeContact, localID)
	require.NoError(t, err)
	assert.Equal(t, seeded.LastLocalFingerprint, state.LastLocalFingerprint)

	skips := env.audits.byAction(run.ID, ledger.AuditActionSkip)
	require.Len(t, skips, 1)
	assert.Equal(t, ledger.ChangeLocalOnly, skips[0].Class)
	assert.Equal(t, "local ahead, push re-asserts it", skips[0].Detail)
}

func TestPullPipeline_BothChangedCapturesConflict(t *testing.T) {
	env := newTestEnv(t)
	base := contactDoc("Acme Industries", "ap@acme.example")
	localID, seeded := seedSynced(t, env, ledger.EntityTypeContact, "C-001", base)

	localEdit := withField(base, "name", "Acme Industries (finance)")
	remoteEdit := withField(base, "name", "Acme Industries Ltd")
	env.local.set(ledger.EntityTypeContact, localID, localEdit)
	env.remote.setDoc(ledger.EntityTypeContact, "C-001", remoteEdit, time.Now().UTC())

	run := startedRun(t, env.tenantID, ledger.DirectionPull, ledger.RunOptions{})
	pull := newPull(t, env)
	require.NoError(t, pull.Run(context.Background(), run, env.conn, ledger.EntityTypeContact))

	assert.Equal(t, ledger.RunCounters{Processed: 1, Conflicts: 1}, run.Counters)
	// Neither side was written.
	assert.Equal(t, 0, env.local.patchCount())
	assert.Equal(t, 0, env.remote.updateCount())

	conflicts, total, err := env.conflicts.List(context.Background(), env.tenantID, ledger.ConflictFilter{Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	conflict := conflicts[0]
	assert.Equal(t, ledger.ConflictStatusOpen, conflict.Status)
	assert.Equal(t, localID, conflict.LocalID)
	assert.Equal(t, "C-001", conflict.RemoteID)
	assert.Equal(t, run.ID, conflict.CorrelationID)
	assert.Equal(t, seeded.LastLocalFingerprint, conflict.BaselineLocalFingerprint)
	assert.Equal(t, "Acme Industries (finance)", conflict.LocalDocument["name"])
	assert.Equal(t, "Acme Industries Ltd", conflict.RemoteDocument["name"])
	require.Len(t, env.archiver.archived(), 1)
	assert.Equal(t, env.archiver.archived()[0], conflict.ArchiveKey)

	state, err := env.states.FindByLocalID(context.Background(), env.tenantID, ledger.EntityTypeContact, localID)
	require.NoError(t, err)
	assert.Equal(t, ledger.SyncStatusConflict, state.Status)
	// The baseline stays frozen until someone resolves.
	assert.Equal(t, seeded.LastLocalFingerprint, state.LastLocalFingerprint)

	// The frozen record is skipped on every later run, and no second
	// conflict opens for it.
	again := startedRun(t, env.tenantID, ledger.DirectionPull, ledger.RunOptions{})
	require.NoError(t, pull.Run(context.Background(), again, env.conn, ledger.EntityTypeContact))
	assert.Equal(t, ledger.RunCounters{Processed: 1, Skipped: 1}, again.Counters)
	assert.Equal(t, 1, env.conflicts.len())

	skips := env.audits.byAction(again.ID, ledger.AuditActionSkip)
	require.Len(t, skips, 1)
	assert.Equal(t, "conflict pending resolution", skips[0].Detail)
}

func TestPullPipeline_ArchiveFailureDoesNotBlockConflict(t *testing.T) {
	env := newTestEnv(t)
	env.archiver.err = errors.New("object storage unavailable")
	base := contactDoc("Acme Industries", "ap@acme.example")
	localID, _ := seedSynced(t, env, ledger.EntityTypeContact, "C-001", base)

	env.local.set(ledger.EntityTypeContact, localID, withField(base, "name", "Acme (local)"))
	env.remote.setDoc(ledger.EntityTypeContact, "C-001", withField(base, "name", "Acme (remote)"), time.Now().UTC())

	run := startedRun(t, env.tenantID, ledger.DirectionPull, ledger.RunOptions{})
	pull := newPull(t, env)
	require.NoError(t, pull.Run(context.Background(), run, env.conn, ledger.EntityTypeContact))

	assert.Equal(t, ledger.RunCounters{Processed: 1, Conflicts: 1}, run.Counters)
	conflicts, _, err := env.conflicts.List(context.Background(), env.tenantID, ledger.ConflictFilter{Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Empty(t, conflicts[0].ArchiveKey)
}

func TestPullPipeline_ConvergentEditRefreshesBaseline(t *testing.T) {
	env := newTestEnv(t)
	base := contactDoc("Acme Industries", "ap@acme.example")
	localID, _ := seedSynced(t, env, ledger.EntityTypeContact, "C-001", base)

	// Both sides were edited to the identical value.
	edited := withField(base, "city", "Rotterdam")
	env.local.set(ledger.EntityTypeContact, localID, edited)
	env.remote.setDoc(ledger.EntityTypeContact, "C-001", edited, time.Now().UTC())

	run := startedRun(t, env.tenantID, ledger.DirectionPull, ledger.RunOptions{})
	pull := newPull(t, env)
	require.NoError(t, pull.Run(context.Background(), run, env.conn, ledger.EntityTypeContact))

	assert.Equal(t, ledger.RunCounters{Processed: 1, Skipped: 1}, run.Counters)
	assert.Equal(t, 0, env.conflicts.len())
	assert.Equal(t, 0, env.local.patchCount())

	editedFp, err := ledger.Fingerprint(edited)
	require.NoError(t, err)
	state, err := env.states.FindByLocalID(context.Background(), env.tenantID, ledger.EntityTypeContact, localID)
	require.NoError(t, err)
	assert.Equal(t, ledger.SyncStatusActive, state.Status)
	assert.Equal(t, editedFp, state.LastLocalFingerprint)
	assert.Equal(t, editedFp, state.LastRemoteFingerprint)

	skips := env.audits.byAction(run.ID, ledger.AuditActionSkip)
	require.Len(t, skips, 1)
	assert.Equal(t, "convergent edit, baseline refreshed", skips[0].Detail)
}

func TestPullPipeline_DependencyMissingSkipsRecord(t *testing.T) {
	env := newTestEnv(t)
	env.remote.seed(ledger.EntityTypeInvoice, "I-100", invoiceDoc("C-404", "INV-0001"), time.Now().UTC())

	// The referenced contact has not been synced, so the projection layer
	// cannot materialize the invoice yet.
	env.local.CreateFromRemoteFunc = func(context.Context, uuid.UUID, ledger.EntityType, ledger.Document) (uuid.UUID, error) {
		return uuid.Nil, fmt.Errorf("%w: contact C-404", ledger.ErrDependencyMissing)
	}

	run := startedRun(t, env.tenantID, ledger.DirectionPull, ledger.RunOptions{})
	pull := newPull(t, env)
	require.NoError(t, pull.Run(context.Background(), run, env.conn, ledger.EntityTypeInvoice))

	assert.Equal(t, ledger.RunCounters{Processed: 1, Skipped: 1}, run.Counters)

	skips := env.audits.byAction(run.ID, ledger.AuditActionSkip)
	require.Len(t, skips, 1)
	assert.Contains(t, skips[0].Detail, "C-404")
	assert.Equal(t, "I-100", skips[0].RemoteID)
}

func TestPullPipeline_DependencySkipKeepsCursorBehindRecord(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now().UTC().Truncate(time.Second)
	env.remote.seed(ledger.EntityTypeInvoice, "I-100", invoiceDoc("C-404", "INV-0001"), now)

	env.local.CreateFromRemoteFunc = func(context.Context, uuid.UUID, ledger.EntityType, ledger.Document) (uuid.UUID, error) {
		return uuid.Nil, fmt.Errorf("%w: contact C-404", ledger.ErrDependencyMissing)
	}

	pull := newPull(t, env)
	first := startedRun(t, env.tenantID, ledger.DirectionPull, ledger.RunOptions{})
	require.NoError(t, pull.Run(context.Background(), first, env.conn, ledger.EntityTypeInvoice))
	assert.Equal(t, ledger.RunCounters{Processed: 1, Skipped: 1}, first.Counters)

	// The skipped invoice stays in front of the watermark; advancing past it
	// would orphan it until the remote touches it again.
	conn, err := env.connections.FindByTenant(context.Background(), env.tenantID)
	require.NoError(t, err)
	assert.Nil(t, conn.CursorFor(ledger.EntityTypeInvoice))

	// The missing contact arrives, and the next ordinary run picks the
	// invoice up without the remote having changed it.
	env.local.CreateFromRemoteFunc = nil
	second := startedRun(t, env.tenantID, ledger.DirectionPull, ledger.RunOptions{})
	require.NoError(t, pull.Run(context.Background(), second, env.conn, ledger.EntityTypeInvoice))

	assert.Equal(t, ledger.RunCounters{Processed: 1, Succeeded: 1}, second.Counters)
	assert.Equal(t, 1, env.local.createCount())

	conn, err = env.connections.FindByTenant(context.Background(), env.tenantID)
	require.NoError(t, err)
	cursor := conn.CursorFor(ledger.EntityTypeInvoice)
	require.NotNil(t, cursor)
	assert.True(t, cursor.Equal(now))
}

func TestPullPipeline_CursorStopsBeforeFailedRecord(t *testing.T) {
	env := newTestEnv(t)
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	env.remote.seed(ledger.EntityTypeContact, "C-001", contactDoc("Clean Contact", "ok@example.com"), base)
	bad := contactDoc("Broken Contact", "bad@example.com")
	// Binary floats are malformed by contract.
	bad["outstanding_balance"] = 12.5
	env.remote.seed(ledger.EntityTypeContact, "C-002", bad, base.Add(10*time.Minute))

	run := startedRun(t, env.tenantID, ledger.DirectionPull, ledger.RunOptions{})
	pull := newPull(t, env)
	require.NoError(t, pull.Run(context.Background(), run, env.conn, ledger.EntityTypeContact))
	assert.Equal(t, ledger.RunCounters{Processed: 2, Succeeded: 1, Failed: 1}, run.Counters)

	// The cursor moves up to the clean record but stops short of the failed
	// one, so the next listing still returns it.
	conn, err := env.connections.FindByTenant(context.Background(), env.tenantID)
	require.NoError(t, err)
	cursor := conn.CursorFor(ledger.EntityTypeContact)
	require.NotNil(t, cursor)
	assert.True(t, cursor.Equal(base))

	env.remote.setDoc(ledger.EntityTypeContact, "C-002", contactDoc("Broken Contact", "bad@example.com"), base.Add(20*time.Minute))
	second := startedRun(t, env.tenantID, ledger.DirectionPull, ledger.RunOptions{})
	require.NoError(t, pull.Run(context.Background(), second, env.conn, ledger.EntityTypeContact))

	assert.Equal(t, ledger.RunCounters{Processed: 1, Succeeded: 1}, second.Counters)
	assert.Equal(t, 2, env.local.createCount())
}

func TestPullPipeline_IsolatesPerRecordFailures(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now().UTC()
	for i := 0; i < 10; i++ {
		doc := contactDoc(fmt.Sprintf("Contact %d", i), fmt.Sprintf("c%d@example.com", i))
		if i == 3 {
			// Binary floats are malformed by contract.
			doc["outstanding_balance"] = 12.5
		}
		env.remote.seed(ledger.EntityTypeContact, fmt.Sprintf("C-%03d", i), doc, now)
	}

	run := startedRun(t, env.tenantID, ledger.DirectionPull, ledger.RunOptions{})
	pull := newPull(t, env)
	require.NoError(t, pull.Run(context.Background(), run, env.conn, ledger.EntityTypeContact))

	assert.Equal(t, ledger.RunCounters{Processed: 10, Succeeded: 9, Failed: 1}, run.Counters)
	assert.Equal(t, 9, env.local.createCount())

	failures := env.audits.byAction(run.ID, ledger.AuditActionError)
	require.Len(t, failures, 1)
	assert.Equal(t, "C-003", failures[0].RemoteID)
	assert.Contains(t, failures[0].Detail, "binary float")
}

func TestPullPipeline_CancellationResumesWithoutReplay(t *testing.T) {
	env := newTestEnv(t)
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	var records []ledger.RemoteRecord
	for i := 0; i < 4; i++ {
		records = append(records, ledger.RemoteRecord{
			RemoteID:  fmt.Sprintf("C-%03d", i+1),
			Document:  contactDoc(fmt.Sprintf("Contact %d", i+1), fmt.Sprintf("c%d@example.com", i+1)),
			UpdatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	pageFor := func(query ledger.ListQuery) *ledger.RemotePage {
		start := (query.Page - 1) * query.PageSize
		end := start + query.PageSize
		if end > len(records) {
			end = len(records)
		}
		return &ledger.RemotePage{Records: records[start:end], Page: query.Page, HasMore: end < len(records)}
	}

	ctx, cancel := context.WithCancel(context.Background())
	env.remote.ListEntitiesFunc = func(_ context.Context, _ uuid.UUID, _ ledger.EntityType, query ledger.ListQuery) (*ledger.RemotePage, error) {
		// Cancel mid-run; the pipeline notices at the next page boundary.
		cancel()
		return pageFor(query), nil
	}

	pull := newPull(t, env)
	first := startedRun(t, env.tenantID, ledger.DirectionPull, ledger.RunOptions{})
	err := pull.Run(ctx, first, env.conn, ledger.EntityTypeContact)
	require.ErrorIs(t, err, context.Canceled)

	// The finished page stays durable: both records synced, the checkpoint
	// points at page two, the cursor has not moved.
	assert.Equal(t, ledger.RunCounters{Processed: 2, Succeeded: 2}, first.Counters)
	cp, err := env.checkpoints.Find(context.Background(), env.tenantID, ledger.EntityTypeContact)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, 2, cp.NextPage)
	assert.Equal(t, 0, env.checkpoints.clearCount())
	conn, err := env.connections.FindByTenant(context.Background(), env.tenantID)
	require.NoError(t, err)
	assert.Nil(t, conn.CursorFor(ledger.EntityTypeContact))

	// The next run resumes at page two instead of replaying page one.
	env.remote.ListEntitiesFunc = func(_ context.Context, _ uuid.UUID, _ ledger.EntityType, query ledger.ListQuery) (*ledger.RemotePage, error) {
		return pageFor(query), nil
	}
	second := startedRun(t, env.tenantID, ledger.DirectionPull, ledger.RunOptions{})
	require.NoError(t, pull.Run(context.Background(), second, env.conn, ledger.EntityTypeContact))

	assert.Equal(t, ledger.RunCounters{Processed: 2, Succeeded: 2}, second.Counters)
	queries := env.remote.queries()
	require.Len(t, queries, 2)
	assert.Equal(t, 1, queries[0].Page)
	assert.Equal(t, 2, queries[1].Page)

	// Every record was created exactly once.
	assert.Equal(t, 4, env.local.createCount())
	assert.Equal(t, 4, env.states.len())
	assert.Equal(t, 1, env.checkpoints.clearCount())

	conn, err = env.connections.FindByTenant(context.Background(), env.tenantID)
	require.NoError(t, err)
	cursor := conn.CursorFor(ledger.EntityTypeContact)
	require.NotNil(t, cursor)
	assert.True(t, cursor.Equal(records[3].UpdatedAt))
}

func TestPullPipeline_ResumeReusesOriginalWatermark(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now().UTC()
	watermark := now.Add(-24 * time.Hour)

	// A newer cursor exists, but the interrupted listing must keep the
	// watermark it started with or it would skip records.
	env.conn.AdvanceCursor(ledger.EntityTypeContact, now.Add(-time.Hour))
	require.NoError(t, env.connections.Save(context.Background(), env.conn))

	interrupted := ledger.NewCheckpoint(env.tenantID, ledger.EntityTypeContact, uuid.New(), 2, &watermark)
	interrupted.Advance(3, interrupted.RunID)
	require.NoError(t, env.checkpoints.Save(context.Background(), interrupted))

	for i := 0; i < 6; i++ {
		env.remote.seed(ledger.EntityTypeContact, fmt.Sprintf("C-%03d", i+1),
			contactDoc(fmt.Sprintf("Contact %d", i+1), fmt.Sprintf("c%d@example.com", i+1)), now.Add(-time.Minute))
	}

	run := startedRun(t, env.tenantID, ledger.DirectionPull, ledger.RunOptions{})
	pull := newPull(t, env)
	require.NoError(t, pull.Run(context.Background(), run, env.conn, ledger.EntityTypeContact))

	queries := env.remote.queries()
	require.NotEmpty(t, queries)
	assert.Equal(t, 3, queries[0].Page)
	require.NotNil(t, queries[0].ModifiedSince)
	assert.True(t, queries[0].ModifiedSince.Equal(watermark))

	// Only the third page was left to process.
	assert.Equal(t, ledger.RunCounters{Processed: 2, Succeeded: 2}, run.Counters)
	cp, err := env.checkpoints.Find(context.Background(), env.tenantID, ledger.EntityTypeContact)
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestPullPipeline_DryRunWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now().UTC()

	// One brand-new remote record, one with remote-owned drift, one clean.
	env.remote.seed(ledger.EntityTypeContact, "C-NEW", contactDoc("Fresh Contact", "new@example.com"), now)
	updDoc := contactDoc("Updated Contact", "upd@example.com")
	updID, _ := seedSynced(t, env, ledger.EntityTypeContact, "C-UPD", updDoc)
	env.remote.setDoc(ledger.EntityTypeContact, "C-UPD", withField(updDoc, "outstanding_balance", decimal.RequireFromString("10")), now)
	seedSynced(t, env, ledger.EntityTypeContact, "C-SAME", contactDoc("Same Contact", "same@example.com"))

	// An interrupted real pull left a checkpoint; a dry run must neither
	// consume nor advance it.
	leftover := ledger.NewCheckpoint(env.tenantID, ledger.EntityTypeContact, uuid.New(), 2, nil)
	leftover.Advance(5, leftover.RunID)
	require.NoError(t, env.checkpoints.Save(context.Background(), leftover))

	statesBefore := env.states.saveCount()
	pagesBefore := len(env.checkpoints.savedNextPages())

	run := startedRun(t, env.tenantID, ledger.DirectionPull, ledger.RunOptions{DryRun: true})
	pull := newPull(t, env)
	require.NoError(t, pull.Run(context.Background(), run, env.conn, ledger.EntityTypeContact))

	assert.Equal(t, ledger.RunCounters{Processed: 3, Succeeded: 2, Skipped: 1}, run.Counters)

	// Nothing was written anywhere.
	assert.Equal(t, 0, env.local.createCount())
	assert.Equal(t, 0, env.local.patchCount())
	assert.Equal(t, statesBefore, env.states.saveCount())
	assert.Equal(t, pagesBefore, len(env.checkpoints.savedNextPages()))
	assert.Equal(t, 0, env.checkpoints.clearCount())

	queries := env.remote.queries()
	require.NotEmpty(t, queries)
	assert.Equal(t, 1, queries[0].Page)
	cp, err := env.checkpoints.Find(context.Background(), env.tenantID, ledger.EntityTypeContact)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, 5, cp.NextPage)

	conn, err := env.connections.FindByTenant(context.Background(), env.tenantID)
	require.NoError(t, err)
	assert.Nil(t, conn.CursorFor(ledger.EntityTypeContact))

	// The trail still explains what would have happened.
	entries := env.audits.forRun(run.ID)
	require.Len(t, entries, 3)
	for _, e := range entries {
		assert.True(t, e.DryRun)
	}
	localDoc := env.local.doc(ledger.EntityTypeContact, updID)
	assert.Equal(t, "Updated Contact", localDoc["name"])
}

func TestPullPipeline_DryRunCountersMatchRealRun(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now().UTC()
	env.remote.seed(ledger.EntityTypeContact, "C-NEW", contactDoc("Fresh Contact", "new@example.com"), now)
	updDoc := contactDoc("Updated Contact", "upd@example.com")
	seedSynced(t, env, ledger.EntityTypeContact, "C-UPD", updDoc)
	env.remote.setDoc(ledger.EntityTypeContact, "C-UPD", withField(updDoc, "outstanding_balance", decimal.RequireFromString("10")), now)
	seedSynced(t, env, ledger.EntityTypeContact, "C-SAME", contactDoc("Same Contact", "same@example.com"))

	pull := newPull(t, env)

	dry := startedRun(t, env.tenantID, ledger.DirectionPull, ledger.RunOptions{DryRun: true})
	require.NoError(t, pull.Run(context.Background(), dry, env.conn, ledger.EntityTypeContact))

	wet := startedRun(t, env.tenantID, ledger.DirectionPull, ledger.RunOptions{})
	require.NoError(t, pull.Run(context.Background(), wet, env.conn, ledger.EntityTypeContact))

	// The dry run predicted exactly what the real run then did.
	assert.Equal(t, wet.Counters, dry.Counters)
}

func TestPullPipeline_RetriesTransientListFailures(t *testing.T) {
	env := newTestEnv(t)
	doc := contactDoc("Acme Industries", "ap@acme.example")
	now := time.Now().UTC()

	attempts := 0
	env.remote.ListEntitiesFunc = func(_ context.Context, _ uuid.UUID, _ ledger.EntityType, query ledger.ListQuery) (*ledger.RemotePage, error) {
		attempts++
		if attempts < 3 {
			return nil, &ledger.RemoteError{StatusCode: 503, Message: "maintenance window"}
		}
		return &ledger.RemotePage{
			Records: []ledger.RemoteRecord{{RemoteID: "C-001", Document: doc, UpdatedAt: now}},
			Page:    query.Page,
		}, nil
	}

	run := startedRun(t, env.tenantID, ledger.DirectionPull, ledger.RunOptions{})
	pull := newPull(t, env)
	require.NoError(t, pull.Run(context.Background(), run, env.conn, ledger.EntityTypeContact))

	assert.Equal(t, 3, attempts)
	assert.Equal(t, ledger.RunCounters{Processed: 1, Succeeded: 1}, run.Counters)
}

func TestPullPipeline_ExhaustedListingFailsRun(t *testing.T) {
	env := newTestEnv(t)
	attempts := 0
	env.remote.ListEntitiesFunc = func(context.Context, uuid.UUID, ledger.EntityType, ledger.ListQuery) (*ledger.RemotePage, error) {
		attempts++
		return nil, &ledger.RemoteError{StatusCode: 500, Message: "internal error"}
	}

	run := startedRun(t, env.tenantID, ledger.DirectionPull, ledger.RunOptions{})
	pull := newPull(t, env)
	err := pull.Run(context.Background(), run, env.conn, ledger.EntityTypeContact)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "page 1")
	assert.Equal(t, 3, attempts)
	assert.Equal(t, ledger.RunCounters{}, run.Counters)

	var remoteErr *ledger.RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, 500, remoteErr.StatusCode)
}
