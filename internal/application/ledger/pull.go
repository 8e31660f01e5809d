package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ledgerlink/backend/internal/domain/ledger"
)

// ---------------------------------------------------------------------------
// Pull Pipeline
// ---------------------------------------------------------------------------

// PullPipeline imports remote ledger changes into local records, one entity
// type at a time. Progress is checkpointed after every fully processed page
// so an interrupted pull resumes where it stopped, reusing the original
// watermark instead of re-reading "now".
type PullPipeline struct {
	pipelineBase
}

// NewPullPipeline wires a pull pipeline.
func NewPullPipeline(deps Deps, cfg PipelineConfig) (*PullPipeline, error) {
	base, err := newPipelineBase(deps, cfg)
	if err != nil {
		return nil, err
	}
	return &PullPipeline{pipelineBase: base}, nil
}

// Run pulls one entity type. Per-record failures are absorbed into the run
// counters; only fatal preconditions, page listing exhaustion and
// cancellation surface as errors.
func (p *PullPipeline) Run(ctx context.Context, run *ledger.SyncRun, conn *ledger.Connection, entityType ledger.EntityType) error {
	checkpoint, err := p.resumePoint(ctx, run, conn, entityType)
	if err != nil {
		return err
	}

	page := checkpoint.NextPage
	var bound cursorBound

	for {
		// Cancellation lands on page boundaries so completed pages stay
		// checkpointed and durable.
		if err := ctx.Err(); err != nil {
			return err
		}

		query := ledger.ListQuery{
			Page:          page,
			PageSize:      checkpoint.PageSize,
			ModifiedSince: checkpoint.ModifiedSince,
		}
		var remotePage *ledger.RemotePage
		err := withRetry(ctx, p.cfg.Retry, func() error {
			var lerr error
			remotePage, lerr = p.deps.Remote.ListEntities(ctx, run.TenantID, entityType, query)
			return lerr
		})
		if err != nil {
			return fmt.Errorf("ledger: listing remote %s page %d: %w", entityType, page, err)
		}
		p.deps.Metrics.RecordPage(ctx, run.TenantID, entityType.String())

		batch, fatal := p.processPage(ctx, run, entityType, remotePage.Records, &bound)
		p.saveProgress(ctx, run, batch)
		if fatal != nil {
			return fatal
		}

		page++
		if !run.Options.DryRun {
			checkpoint.Advance(page, run.ID)
			if err := p.deps.Checkpoints.Save(ctx, checkpoint); err != nil {
				p.logger.Warn("Failed to save pull checkpoint",
					zap.String("run_id", run.ID.String()),
					zap.String("entity_type", entityType.String()),
					zap.Int("next_page", page),
					zap.Error(err),
				)
			}
		}

		if !remotePage.HasMore {
			break
		}
	}

	if !run.Options.DryRun {
		if err := p.deps.Checkpoints.Clear(ctx, run.TenantID, entityType); err != nil {
			p.logger.Warn("Failed to clear pull checkpoint",
				zap.String("run_id", run.ID.String()),
				zap.String("entity_type", entityType.String()),
				zap.Error(err),
			)
		}
		if watermark, ok := bound.watermark(); ok {
			conn.AdvanceCursor(entityType, watermark)
			if err := p.deps.Connections.Save(ctx, conn); err != nil {
				p.logger.Warn("Failed to advance pull cursor",
					zap.String("run_id", run.ID.String()),
					zap.String("entity_type", entityType.String()),
					zap.Error(err),
				)
			}
		}
	}

	p.logger.Info("Pull finished",
		zap.String("run_id", run.ID.String()),
		zap.String("entity_type", entityType.String()),
		zap.Int("pages", page-checkpoint.NextPage+1),
		zap.Bool("dry_run", run.Options.DryRun),
	)
	return nil
}

// resumePoint loads the checkpoint left by an interrupted pull, or starts a
// fresh one at page one. Dry runs get an unsaved throwaway so they never
// consume or advance real progress.
func (p *PullPipeline) resumePoint(ctx context.Context, run *ledger.SyncRun, conn *ledger.Connection, entityType ledger.EntityType) (*ledger.Checkpoint, error) {
	if !run.Options.DryRun {
		existing, err := p.deps.Checkpoints.Find(ctx, run.TenantID, entityType)
		if err != nil {
			return nil, fmt.Errorf("ledger: loading pull checkpoint: %w", err)
		}
		if existing != nil {
			p.logger.Info("Resuming interrupted pull",
				zap.String("run_id", run.ID.String()),
				zap.String("entity_type", entityType.String()),
				zap.Int("next_page", existing.NextPage),
			)
			return existing, nil
		}
	}

	var watermark *time.Time
	switch {
	case run.Options.ForceRefresh:
		watermark = nil
	case run.Options.ModifiedSince != nil:
		watermark = run.Options.ModifiedSince
	default:
		watermark = conn.CursorFor(entityType)
	}

	checkpoint := ledger.NewCheckpoint(run.TenantID, entityType, run.ID, p.cfg.PageSize, watermark)
	if !run.Options.DryRun {
		if err := p.deps.Checkpoints.Save(ctx, checkpoint); err != nil {
			return nil, fmt.Errorf("ledger: saving pull checkpoint: %w", err)
		}
	}
	return checkpoint, nil
}

// cursorBound narrows how far the pull watermark may move after a run.
// Settled records push it forward; an unsettled one (failed, dependency
// skipped or conflict frozen) pins it, because anything at or behind the
// watermark is invisible to later pulls.
type cursorBound struct {
	newestSettled time.Time
	oldestHeld    time.Time
	held          bool
}

func (cb *cursorBound) observe(res recordResult) {
	if res.holdCursor {
		if !cb.held || res.updatedAt.Before(cb.oldestHeld) {
			cb.oldestHeld = res.updatedAt
		}
		cb.held = true
		return
	}
	if res.updatedAt.After(cb.newestSettled) {
		cb.newestSettled = res.updatedAt
	}
}

// watermark returns the highest safe cursor value, if any. Listing is
// strictly after the watermark, so it must stay below every held record.
func (cb *cursorBound) watermark() (time.Time, bool) {
	if cb.newestSettled.IsZero() {
		return time.Time{}, false
	}
	if cb.held && !cb.newestSettled.Before(cb.oldestHeld) {
		return time.Time{}, false
	}
	return cb.newestSettled, true
}

// processPage fans one page out over the worker pool and folds the
// per-record outcomes back together.
func (p *PullPipeline) processPage(ctx context.Context, run *ledger.SyncRun, entityType ledger.EntityType, records []ledger.RemoteRecord, bound *cursorBound) (ledger.RunCounters, error) {
	if len(records) == 0 {
		return ledger.RunCounters{}, nil
	}

	workers := p.cfg.Workers
	if workers > len(records) {
		workers = len(records)
	}

	jobs := make(chan ledger.RemoteRecord)
	results := make(chan recordResult, len(records))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range jobs {
				res := p.processRecord(ctx, run, entityType, rec)
				res.updatedAt = rec.UpdatedAt
				results <- res
			}
		}()
	}

	for _, rec := range records {
		jobs <- rec
	}
	close(jobs)
	wg.Wait()
	close(results)

	var counters ledger.RunCounters
	var fatal error
	for res := range results {
		counters.Add(res.counters)
		bound.observe(res)
		if res.fatal != nil && fatal == nil {
			fatal = res.fatal
		}
	}
	return counters, fatal
}

// processRecord classifies one remote record against its baseline and acts
// on the outcome. Every path leaves exactly one audit entry.
func (p *PullPipeline) processRecord(ctx context.Context, run *ledger.SyncRun, entityType ledger.EntityType, rec ledger.RemoteRecord) recordResult {
	res := recordResult{counters: ledger.RunCounters{Processed: 1}}

	unlock := p.locks.lock(entityKey(entityType, rec.RemoteID))
	defer unlock()

	remoteFp, err := ledger.Fingerprint(rec.Document)
	if err != nil {
		p.fail(ctx, run, ledger.DirectionPull, entityType, nil, rec.RemoteID, &res, err)
		return res
	}

	state, err := p.deps.States.FindByRemoteID(ctx, run.TenantID, entityType, rec.RemoteID)
	switch {
	case errors.Is(err, ledger.ErrStateNotFound):
		p.firstSync(ctx, run, entityType, rec, remoteFp, &res)
		return res
	case err != nil:
		p.fail(ctx, run, ledger.DirectionPull, entityType, nil, rec.RemoteID, &res, err)
		return res
	}

	if state.Status == ledger.SyncStatusConflict {
		res.counters.Skipped = 1
		res.holdCursor = true
		p.audit(ctx, ledger.NewAuditEntry(run.TenantID, run.ID, entityType, ledger.DirectionPull, ledger.AuditActionSkip).
			WithLocal(state.LocalID).
			WithRemote(rec.RemoteID).
			WithDetail("conflict pending resolution").
			AsDryRun(run.Options.DryRun))
		return res
	}

	localRec, err := p.deps.Local.GetRecord(ctx, run.TenantID, entityType, state.LocalID)
	if err != nil {
		p.fail(ctx, run, ledger.DirectionPull, entityType, &state.LocalID, rec.RemoteID, &res, err)
		return res
	}

	localFp, err := ledger.Fingerprint(localRec.Document)
	if err != nil {
		p.fail(ctx, run, ledger.DirectionPull, entityType, &state.LocalID, rec.RemoteID, &res, err)
		return res
	}

	class := ledger.Classify(localFp, remoteFp, state.Baseline())
	switch class {
	case ledger.ChangeNone:
		res.counters.Skipped = 1
		p.audit(ctx, ledger.NewAuditEntry(run.TenantID, run.ID, entityType, ledger.DirectionPull, ledger.AuditActionSkip).
			WithLocal(state.LocalID).
			WithRemote(rec.RemoteID).
			WithClass(class).
			WithDetail("no drift").
			AsDryRun(run.Options.DryRun))

	case ledger.ChangeLocalOnly:
		res.counters.Skipped = 1
		p.audit(ctx, ledger.NewAuditEntry(run.TenantID, run.ID, entityType, ledger.DirectionPull, ledger.AuditActionSkip).
			WithLocal(state.LocalID).
			WithRemote(rec.RemoteID).
			WithClass(class).
			WithDetail("local ahead, push re-asserts it").
			AsDryRun(run.Options.DryRun))

	case ledger.ChangeRemoteOnly, ledger.ChangeFirstSync:
		p.applyRemote(ctx, run, entityType, class, state, rec, remoteFp, &res)

	case ledger.ChangeBoth:
		if ledger.Convergent(localFp, remoteFp) {
			p.rebaselineConvergent(ctx, run, ledger.DirectionPull, entityType, state, localFp, remoteFp, &res)
		} else {
			p.captureConflict(ctx, run, ledger.DirectionPull, entityType, state, localRec.Document, rec.Document, localFp, remoteFp, &res)
		}
	}
	return res
}

// firstSync materializes a remote record that has never been seen locally.
// A referenced record that is not synced yet surfaces as a dependency skip;
// the next run picks the record up again.
func (p *PullPipeline) firstSync(ctx context.Context, run *ledger.SyncRun, entityType ledger.EntityType, rec ledger.RemoteRecord, remoteFp string, res *recordResult) {
	entry := ledger.NewAuditEntry(run.TenantID, run.ID, entityType, ledger.DirectionPull, ledger.AuditActionCreate).
		WithRemote(rec.RemoteID).
		WithClass(ledger.ChangeFirstSync).
		AsDryRun(run.Options.DryRun)

	if run.Options.DryRun {
		res.counters.Succeeded = 1
		p.audit(ctx, entry.WithDetail("would create local record"))
		return
	}

	localID, err := p.deps.Local.CreateFromRemote(ctx, run.TenantID, entityType, rec.Document)
	if err != nil {
		p.fail(ctx, run, ledger.DirectionPull, entityType, nil, rec.RemoteID, res, err)
		return
	}

	localRec, err := p.deps.Local.GetRecord(ctx, run.TenantID, entityType, localID)
	if err != nil {
		p.fail(ctx, run, ledger.DirectionPull, entityType, &localID, rec.RemoteID, res, err)
		return
	}
	localFp, err := ledger.Fingerprint(localRec.Document)
	if err != nil {
		p.fail(ctx, run, ledger.DirectionPull, entityType, &localID, rec.RemoteID, res, err)
		return
	}

	state := ledger.NewSyncState(run.TenantID, entityType, localID)
	state.Link(rec.RemoteID)
	if err := state.Rebaseline(localFp, remoteFp, ledger.OriginRemote, run.ID); err != nil {
		p.fail(ctx, run, ledger.DirectionPull, entityType, &localID, rec.RemoteID, res, err)
		return
	}
	state.TouchModified(&localRec.UpdatedAt, &rec.UpdatedAt)
	if err := p.deps.States.Save(ctx, state); err != nil {
		p.fail(ctx, run, ledger.DirectionPull, entityType, &localID, rec.RemoteID, res, err)
		return
	}

	res.counters.Succeeded = 1
	p.audit(ctx, entry.WithLocal(localID))
}

// applyRemote writes the remote-owned fields onto the local record and
// refreshes the baseline. Remote drift inside locally-owned fields is
// accepted as baseline, not copied; the next local edit re-asserts those
// fields through the push.
func (p *PullPipeline) applyRemote(ctx context.Context, run *ledger.SyncRun, entityType ledger.EntityType, class ledger.ChangeClass, state *ledger.SyncState, rec ledger.RemoteRecord, remoteFp string, res *recordResult) {
	entry := ledger.NewAuditEntry(run.TenantID, run.ID, entityType, ledger.DirectionPull, ledger.AuditActionUpdate).
		WithLocal(state.LocalID).
		WithRemote(rec.RemoteID).
		WithClass(class).
		AsDryRun(run.Options.DryRun)

	if run.Options.DryRun {
		res.counters.Succeeded = 1
		p.audit(ctx, entry.WithDetail("would apply remote-owned fields"))
		return
	}

	patch, err := ledger.MergeRemoteIntoLocal(entityType, rec.Document)
	if err != nil {
		p.fail(ctx, run, ledger.DirectionPull, entityType, &state.LocalID, rec.RemoteID, res, err)
		return
	}
	if len(patch) > 0 {
		if err := p.deps.Local.ApplyPatch(ctx, run.TenantID, entityType, state.LocalID, patch); err != nil {
			p.fail(ctx, run, ledger.DirectionPull, entityType, &state.LocalID, rec.RemoteID, res, err)
			return
		}
	}

	localRec, err := p.deps.Local.GetRecord(ctx, run.TenantID, entityType, state.LocalID)
	if err != nil {
		p.fail(ctx, run, ledger.DirectionPull, entityType, &state.LocalID, rec.RemoteID, res, err)
		return
	}
	localFp, err := ledger.Fingerprint(localRec.Document)
	if err != nil {
		p.fail(ctx, run, ledger.DirectionPull, entityType, &state.LocalID, rec.RemoteID, res, err)
		return
	}

	if err := state.Rebaseline(localFp, remoteFp, ledger.OriginRemote, run.ID); err != nil {
		p.fail(ctx, run, ledger.DirectionPull, entityType, &state.LocalID, rec.RemoteID, res, err)
		return
	}
	state.TouchModified(&localRec.UpdatedAt, &rec.UpdatedAt)
	if err := p.deps.States.Save(ctx, state); err != nil {
		p.fail(ctx, run, ledger.DirectionPull, entityType, &state.LocalID, rec.RemoteID, res, err)
		return
	}

	res.counters.Succeeded = 1
	p.audit(ctx, entry)
}
