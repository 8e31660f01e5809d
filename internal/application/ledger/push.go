package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ledgerlink/backend/internal/domain/ledger"
)

// ---------------------------------------------------------------------------
// Push Pipeline
// ---------------------------------------------------------------------------

// PushPipeline exports local changes to the remote ledger. Candidates are
// records without a remote counterpart and records whose current fingerprint
// drifted from the baseline; force-refresh and explicit id lists widen the
// set. Every candidate is re-read from the ledger right before writing so a
// concurrent remote edit surfaces as a conflict instead of being clobbered.
type PushPipeline struct {
	pipelineBase
}

// NewPushPipeline wires a push pipeline.
func NewPushPipeline(deps Deps, cfg PipelineConfig) (*PushPipeline, error) {
	base, err := newPipelineBase(deps, cfg)
	if err != nil {
		return nil, err
	}
	return &PushPipeline{pipelineBase: base}, nil
}

// Run pushes one entity type in page-sized batches. Per-record failures are
// absorbed into the run counters; only fatal preconditions, listing failures
// and cancellation surface as errors.
func (p *PushPipeline) Run(ctx context.Context, run *ledger.SyncRun, conn *ledger.Connection, entityType ledger.EntityType) error {
	_ = conn

	query := ledger.LocalQuery{
		IDs:           run.Options.SpecificIDs,
		ModifiedSince: run.Options.ModifiedSince,
	}
	refs, err := p.deps.Local.ListRefs(ctx, run.TenantID, entityType, query)
	if err != nil {
		return fmt.Errorf("ledger: listing local %s records: %w", entityType, err)
	}

	for start := 0; start < len(refs); start += p.cfg.PageSize {
		// Cancellation lands on batch boundaries so every finished batch
		// stays applied.
		if err := ctx.Err(); err != nil {
			return err
		}
		end := start + p.cfg.PageSize
		if end > len(refs) {
			end = len(refs)
		}

		batch, fatal := p.processBatch(ctx, run, entityType, refs[start:end])
		p.saveProgress(ctx, run, batch)
		if fatal != nil {
			return fatal
		}
	}

	p.logger.Info("Push finished",
		zap.String("run_id", run.ID.String()),
		zap.String("entity_type", entityType.String()),
		zap.Int("examined", len(refs)),
		zap.Bool("dry_run", run.Options.DryRun),
	)
	return nil
}

// processBatch fans one batch out over the worker pool and folds the
// per-record outcomes back together.
func (p *PushPipeline) processBatch(ctx context.Context, run *ledger.SyncRun, entityType ledger.EntityType, refs []ledger.LocalRef) (ledger.RunCounters, error) {
	if len(refs) == 0 {
		return ledger.RunCounters{}, nil
	}

	workers := p.cfg.Workers
	if workers > len(refs) {
		workers = len(refs)
	}

	jobs := make(chan ledger.LocalRef)
	results := make(chan recordResult, len(refs))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ref := range jobs {
				results <- p.processRecord(ctx, run, entityType, ref)
			}
		}()
	}

	for _, ref := range refs {
		jobs <- ref
	}
	close(jobs)
	wg.Wait()
	close(results)

	var counters ledger.RunCounters
	var fatal error
	for res := range results {
		counters.Add(res.counters)
		if res.fatal != nil && fatal == nil {
			fatal = res.fatal
		}
	}
	return counters, fatal
}

// processRecord pushes one local record if it is a candidate. Records whose
// fingerprint still matches the baseline are not candidates and leave no
// trace unless the run forces them.
func (p *PushPipeline) processRecord(ctx context.Context, run *ledger.SyncRun, entityType ledger.EntityType, ref ledger.LocalRef) recordResult {
	res := recordResult{counters: ledger.RunCounters{Processed: 1}}

	unlock := p.locks.lock(entityKey(entityType, ref.LocalID.String()))
	defer unlock()

	state, err := p.deps.States.FindByLocalID(ctx, run.TenantID, entityType, ref.LocalID)
	hasState := err == nil
	if err != nil && !errors.Is(err, ledger.ErrStateNotFound) {
		p.fail(ctx, run, ledger.DirectionPush, entityType, &ref.LocalID, "", &res, err)
		return res
	}

	if hasState && state.Status == ledger.SyncStatusConflict {
		res.counters.Skipped = 1
		p.audit(ctx, ledger.NewAuditEntry(run.TenantID, run.ID, entityType, ledger.DirectionPush, ledger.AuditActionSkip).
			WithLocal(ref.LocalID).
			WithRemote(state.RemoteID).
			WithDetail("conflict pending resolution").
			AsDryRun(run.Options.DryRun))
		return res
	}

	localRec, err := p.deps.Local.GetRecord(ctx, run.TenantID, entityType, ref.LocalID)
	if err != nil {
		p.fail(ctx, run, ledger.DirectionPush, entityType, &ref.LocalID, "", &res, err)
		return res
	}

	localFp, err := ledger.Fingerprint(localRec.Document)
	if err != nil {
		p.fail(ctx, run, ledger.DirectionPush, entityType, &ref.LocalID, "", &res, err)
		return res
	}

	if !hasState || !state.Linked() {
		p.create(ctx, run, entityType, state, localRec, &res)
		return res
	}

	// Unchanged records are not candidates unless something forces them.
	if localFp == state.LastLocalFingerprint && !run.Options.ForceRefresh && len(run.Options.SpecificIDs) == 0 {
		return recordResult{}
	}

	remoteRec, err := p.getRemote(ctx, run, entityType, state.RemoteID)
	if err != nil {
		var rerr *ledger.RemoteError
		if errors.As(err, &rerr) && rerr.StatusCode == 404 {
			err = fmt.Errorf("%w: %s %s", ledger.ErrRemoteGone, entityType, state.RemoteID)
		}
		p.fail(ctx, run, ledger.DirectionPush, entityType, &state.LocalID, state.RemoteID, &res, err)
		return res
	}

	remoteFp, err := ledger.Fingerprint(remoteRec.Document)
	if err != nil {
		p.fail(ctx, run, ledger.DirectionPush, entityType, &state.LocalID, state.RemoteID, &res, err)
		return res
	}

	class := ledger.Classify(localFp, remoteFp, state.Baseline())
	switch class {
	case ledger.ChangeNone:
		if run.Options.ForceRefresh {
			p.update(ctx, run, entityType, class, state, localRec, &res)
			return res
		}
		res.counters.Skipped = 1
		p.audit(ctx, ledger.NewAuditEntry(run.TenantID, run.ID, entityType, ledger.DirectionPush, ledger.AuditActionSkip).
			WithLocal(state.LocalID).
			WithRemote(state.RemoteID).
			WithClass(class).
			WithDetail("no drift").
			AsDryRun(run.Options.DryRun))

	case ledger.ChangeRemoteOnly:
		res.counters.Skipped = 1
		p.audit(ctx, ledger.NewAuditEntry(run.TenantID, run.ID, entityType, ledger.DirectionPush, ledger.AuditActionSkip).
			WithLocal(state.LocalID).
			WithRemote(state.RemoteID).
			WithClass(class).
			WithDetail("remote ahead, pull applies it").
			AsDryRun(run.Options.DryRun))

	case ledger.ChangeLocalOnly, ledger.ChangeFirstSync:
		p.update(ctx, run, entityType, class, state, localRec, &res)

	case ledger.ChangeBoth:
		if ledger.Convergent(localFp, remoteFp) {
			p.rebaselineConvergent(ctx, run, ledger.DirectionPush, entityType, state, localFp, remoteFp, &res)
		} else {
			p.captureConflict(ctx, run, ledger.DirectionPush, entityType, state, localRec.Document, remoteRec.Document, localFp, remoteFp, &res)
		}
	}
	return res
}

// create pushes a record the ledger has never seen. The returned remote id
// is linked and persisted before anything else so a later failure cannot
// leave the next run re-creating the record.
func (p *PushPipeline) create(ctx context.Context, run *ledger.SyncRun, entityType ledger.EntityType, state *ledger.SyncState, localRec *ledger.LocalRecord, res *recordResult) {
	entry := ledger.NewAuditEntry(run.TenantID, run.ID, entityType, ledger.DirectionPush, ledger.AuditActionCreate).
		WithLocal(localRec.LocalID).
		WithClass(ledger.ChangeFirstSync).
		AsDryRun(run.Options.DryRun)

	body, err := ledger.MergeLocalIntoRemote(entityType, localRec.Document)
	if err != nil {
		p.fail(ctx, run, ledger.DirectionPush, entityType, &localRec.LocalID, "", res, err)
		return
	}

	if run.Options.DryRun {
		res.counters.Succeeded = 1
		p.audit(ctx, entry.WithDetail("would create remote record"))
		return
	}

	var created *ledger.RemoteRecord
	err = withRetry(ctx, p.cfg.Retry, func() error {
		var cerr error
		created, cerr = p.deps.Remote.CreateEntity(ctx, run.TenantID, entityType, body)
		return cerr
	})
	if err != nil {
		p.fail(ctx, run, ledger.DirectionPush, entityType, &localRec.LocalID, "", res, err)
		return
	}

	if state == nil {
		state = ledger.NewSyncState(run.TenantID, entityType, localRec.LocalID)
	}
	state.Link(created.RemoteID)
	if err := p.deps.States.Save(ctx, state); err != nil {
		p.fail(ctx, run, ledger.DirectionPush, entityType, &localRec.LocalID, created.RemoteID, res, err)
		return
	}

	if err := p.rebaseline(ctx, run, entityType, state, created); err != nil {
		p.fail(ctx, run, ledger.DirectionPush, entityType, &localRec.LocalID, created.RemoteID, res, err)
		return
	}

	res.counters.Succeeded = 1
	p.audit(ctx, entry.WithRemote(created.RemoteID))
}

// update pushes the full local body. Remote-owned computed fields never
// travel; the ledger recomputes them and the response brings them back.
func (p *PushPipeline) update(ctx context.Context, run *ledger.SyncRun, entityType ledger.EntityType, class ledger.ChangeClass, state *ledger.SyncState, localRec *ledger.LocalRecord, res *recordResult) {
	entry := ledger.NewAuditEntry(run.TenantID, run.ID, entityType, ledger.DirectionPush, ledger.AuditActionUpdate).
		WithLocal(state.LocalID).
		WithRemote(state.RemoteID).
		WithClass(class).
		AsDryRun(run.Options.DryRun)

	body, err := ledger.MergeLocalIntoRemote(entityType, localRec.Document)
	if err != nil {
		p.fail(ctx, run, ledger.DirectionPush, entityType, &state.LocalID, state.RemoteID, res, err)
		return
	}

	if run.Options.DryRun {
		res.counters.Succeeded = 1
		p.audit(ctx, entry.WithDetail("would update remote record"))
		return
	}

	var updated *ledger.RemoteRecord
	err = withRetry(ctx, p.cfg.Retry, func() error {
		var uerr error
		updated, uerr = p.deps.Remote.UpdateEntity(ctx, run.TenantID, entityType, state.RemoteID, body)
		return uerr
	})
	if err != nil {
		p.fail(ctx, run, ledger.DirectionPush, entityType, &state.LocalID, state.RemoteID, res, err)
		return
	}

	if err := p.rebaseline(ctx, run, entityType, state, updated); err != nil {
		p.fail(ctx, run, ledger.DirectionPush, entityType, &state.LocalID, state.RemoteID, res, err)
		return
	}

	res.counters.Succeeded = 1
	p.audit(ctx, entry)
}

// rebaseline folds the ledger's stored version back in: computed fields land
// on the local record and both fingerprints are taken from what each side
// now actually holds, so the next run classifies this record as NO_CHANGE.
func (p *PushPipeline) rebaseline(ctx context.Context, run *ledger.SyncRun, entityType ledger.EntityType, state *ledger.SyncState, stored *ledger.RemoteRecord) error {
	remoteFp, err := ledger.Fingerprint(stored.Document)
	if err != nil {
		return err
	}

	patch, err := ledger.MergeRemoteIntoLocal(entityType, stored.Document)
	if err != nil {
		return err
	}
	if len(patch) > 0 {
		if err := p.deps.Local.ApplyPatch(ctx, run.TenantID, entityType, state.LocalID, patch); err != nil {
			return err
		}
	}

	localRec, err := p.deps.Local.GetRecord(ctx, run.TenantID, entityType, state.LocalID)
	if err != nil {
		return err
	}
	localFp, err := ledger.Fingerprint(localRec.Document)
	if err != nil {
		return err
	}

	if err := state.Rebaseline(localFp, remoteFp, ledger.OriginLocal, run.ID); err != nil {
		return err
	}
	state.TouchModified(&localRec.UpdatedAt, &stored.UpdatedAt)
	return p.deps.States.Save(ctx, state)
}

func (p *PushPipeline) getRemote(ctx context.Context, run *ledger.SyncRun, entityType ledger.EntityType, remoteID string) (*ledger.RemoteRecord, error) {
	var rec *ledger.RemoteRecord
	err := withRetry(ctx, p.cfg.Retry, func() error {
		var gerr error
		rec, gerr = p.deps.Remote.GetEntity(ctx, run.TenantID, entityType, remoteID)
		return gerr
	})
	return rec, err
}
