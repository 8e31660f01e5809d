// Package ledger orchestrates the reconciliation engine: it owns run
// lifecycles and drives the pull and push pipelines over the domain ports.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgerlink/backend/internal/domain/ledger"
	"github.com/ledgerlink/backend/internal/infrastructure/telemetry"
)

// ---------------------------------------------------------------------------
// Orchestrator Config
// ---------------------------------------------------------------------------

// OrchestratorConfig holds run execution tuning.
type OrchestratorConfig struct {
	// RunTimeout is the maximum wall-clock time of one run
	RunTimeout time.Duration
	// LockTTL bounds how long a crashed instance can hold its run locks
	LockTTL time.Duration
}

// DefaultOrchestratorConfig returns the default orchestrator tuning.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		RunTimeout: 15 * time.Minute,
		LockTTL:    30 * time.Minute,
	}
}

// Validate validates the configuration.
func (c *OrchestratorConfig) Validate() error {
	if c.RunTimeout <= 0 {
		return ErrInvalidConfig
	}
	if c.LockTTL < c.RunTimeout {
		return ErrInvalidConfig
	}
	return nil
}

// ---------------------------------------------------------------------------
// Orchestrator
// ---------------------------------------------------------------------------

// StartCommand is one sync request.
type StartCommand struct {
	// Direction is PULL, PUSH or BOTH
	Direction ledger.Direction
	// EntityTypes are the record kinds to cover, empty for all
	EntityTypes []ledger.EntityType
	// Options are the run knobs
	Options ledger.RunOptions
}

// Orchestrator accepts sync requests, enforces one run per tenant and
// entity type, and executes accepted runs asynchronously: pull first, then
// push, entity types in dependency order. Pipelines are injected so tests
// drive the orchestration against fakes.
type Orchestrator struct {
	deps   Deps
	cfg    OrchestratorConfig
	locker ledger.RunLocker
	pull   *PullPipeline
	push   *PushPipeline
	logger *zap.Logger

	mu     sync.Mutex
	active map[uuid.UUID]context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator wires an orchestrator.
func NewOrchestrator(deps Deps, locker ledger.RunLocker, pull *PullPipeline, push *PushPipeline, cfg OrchestratorConfig) (*Orchestrator, error) {
	if err := deps.Validate(); err != nil {
		return nil, err
	}
	if locker == nil || pull == nil || push == nil || deps.Tokens == nil {
		return nil, ErrInvalidConfig
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Orchestrator{
		deps:   deps,
		cfg:    cfg,
		locker: locker,
		pull:   pull,
		push:   push,
		logger: deps.logger(),
		active: make(map[uuid.UUID]context.CancelFunc),
	}, nil
}

// StartSync validates and accepts a run, then executes it in the
// background. A tenant whose credentials cannot be exchanged is rejected
// with ErrUnauthenticated; ErrSyncInProgress is returned when another run
// already holds any of the requested entity types for this tenant.
func (o *Orchestrator) StartSync(ctx context.Context, tenantID uuid.UUID, cmd StartCommand) (*ledger.SyncRun, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "sync", "start_run")
	defer span.End()
	telemetry.SetAttributes(span,
		telemetry.SpanAttrDirection, cmd.Direction.String(),
		telemetry.SpanAttrDryRun, cmd.Options.DryRun,
	)

	conn, err := o.deps.Connections.FindByTenant(ctx, tenantID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	// Dead credentials fail the request up front, before any lock is held
	// or run row exists.
	if _, err := o.deps.Tokens.AccessToken(ctx, tenantID); err != nil {
		err = fmt.Errorf("%w: %v", ledger.ErrUnauthenticated, err)
		telemetry.RecordError(span, err)
		return nil, err
	}

	run, err := ledger.NewSyncRun(tenantID, cmd.Direction, cmd.EntityTypes, cmd.Options)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.SetAttribute(span, telemetry.SpanAttrRunID, run.ID.String())

	held := make([]string, 0, len(run.EntityTypes))
	for _, t := range run.EntityTypes {
		key := ledger.RunLockKey(tenantID, t)
		ok, lockErr := o.locker.TryLock(ctx, key, o.cfg.LockTTL)
		if lockErr != nil {
			o.releaseLocks(held)
			return nil, fmt.Errorf("ledger: acquiring run lock: %w", lockErr)
		}
		if !ok {
			o.releaseLocks(held)
			return nil, ledger.ErrSyncInProgress
		}
		held = append(held, key)
	}

	if err := o.deps.Runs.Save(ctx, run); err != nil {
		o.releaseLocks(held)
		return nil, fmt.Errorf("ledger: accepting run: %w", err)
	}

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.RunTimeout)
	o.mu.Lock()
	o.active[run.ID] = cancel
	o.mu.Unlock()

	// The caller gets a snapshot; the goroutine owns the live run.
	accepted := *run

	o.wg.Add(1)
	go o.execute(runCtx, run, conn, held)

	o.logger.Info("Sync run accepted",
		zap.String("run_id", run.ID.String()),
		zap.String("tenant_id", tenantID.String()),
		zap.String("direction", run.Direction.String()),
		zap.Bool("dry_run", run.Options.DryRun),
	)
	return &accepted, nil
}

// execute drives one accepted run to a terminal status.
func (o *Orchestrator) execute(ctx context.Context, run *ledger.SyncRun, conn *ledger.Connection, lockKeys []string) {
	defer o.wg.Done()
	defer func() {
		o.mu.Lock()
		delete(o.active, run.ID)
		o.mu.Unlock()
		o.releaseLocks(lockKeys)
	}()

	ctx, span := telemetry.StartServiceSpan(ctx, "sync", "execute_run")
	defer span.End()
	telemetry.SetAttributes(span,
		telemetry.SpanAttrRunID, run.ID.String(),
		telemetry.SpanAttrDirection, run.Direction.String(),
	)

	started := time.Now()

	if err := run.Start(); err != nil {
		o.logger.Error("Run refused to start", zap.String("run_id", run.ID.String()), zap.Error(err))
		return
	}
	if err := o.deps.Runs.Save(ctx, run); err != nil {
		o.logger.Warn("Failed to persist running status", zap.String("run_id", run.ID.String()), zap.Error(err))
	}

	var fatal error
	canceled := false

phases:
	for _, direction := range []ledger.Direction{ledger.DirectionPull, ledger.DirectionPush} {
		if run.Direction != ledger.DirectionBoth && run.Direction != direction {
			continue
		}
		for _, entityType := range run.EntityTypes {
			if ctx.Err() != nil {
				canceled = true
				break phases
			}

			run.SetPhase(direction, entityType)
			if err := o.deps.Runs.Save(ctx, run); err != nil {
				o.logger.Warn("Failed to persist run phase", zap.String("run_id", run.ID.String()), zap.Error(err))
			}

			var err error
			if direction == ledger.DirectionPull {
				err = o.pull.Run(ctx, run, conn, entityType)
			} else {
				err = o.push.Run(ctx, run, conn, entityType)
			}

			switch {
			case err == nil:
			case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
				canceled = true
				break phases
			case ledger.ClassifyError(err) == ledger.ErrorClassFatal:
				fatal = err
				break phases
			default:
				// A batch-level failure stops this entity type only; the run
				// carries on degraded.
				run.MarkDegraded()
				o.logger.Error("Sync batch failed",
					zap.String("run_id", run.ID.String()),
					zap.String("direction", direction.String()),
					zap.String("entity_type", entityType.String()),
					zap.Error(err),
				)
			}
		}
	}

	// Final bookkeeping survives run cancellation.
	finishCtx, cancelFinish := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancelFinish()

	run.Finish(canceled, fatal)
	if fatal != nil {
		telemetry.RecordError(span, fatal)
	}
	telemetry.SetAttribute(span, telemetry.SpanAttrRunStatus, run.Status.String())
	if err := o.deps.Runs.Save(finishCtx, run); err != nil {
		o.logger.Error("Failed to persist finished run", zap.String("run_id", run.ID.String()), zap.Error(err))
	}

	if !run.Options.DryRun && fatal == nil {
		conn.MarkSynced(time.Now().UTC())
		if err := o.deps.Connections.Save(finishCtx, conn); err != nil {
			o.logger.Warn("Failed to persist connection sync time", zap.String("run_id", run.ID.String()), zap.Error(err))
		}
	}

	o.deps.Metrics.RecordRunFinished(finishCtx, run.TenantID, run.Direction.String(), run.Status.String(), time.Since(started))
	o.logger.Info("Sync run finished",
		zap.String("run_id", run.ID.String()),
		zap.String("tenant_id", run.TenantID.String()),
		zap.String("status", run.Status.String()),
		zap.Int("processed", run.Counters.Processed),
		zap.Int("succeeded", run.Counters.Succeeded),
		zap.Int("failed", run.Counters.Failed),
		zap.Int("conflicts", run.Counters.Conflicts),
		zap.Int("skipped", run.Counters.Skipped),
		zap.Duration("duration", time.Since(started)),
	)
}

func (o *Orchestrator) releaseLocks(keys []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, key := range keys {
		if err := o.locker.Unlock(ctx, key); err != nil {
			o.logger.Warn("Failed to release run lock", zap.String("key", key), zap.Error(err))
		}
	}
}

// CancelRun cancels a run owned by this instance. The run drains to a batch
// boundary and finishes as PARTIAL_SUCCESS.
func (o *Orchestrator) CancelRun(ctx context.Context, tenantID, runID uuid.UUID) error {
	run, err := o.deps.Runs.FindByID(ctx, tenantID, runID)
	if err != nil {
		return err
	}
	if run.Status.IsTerminal() {
		return ledger.ErrRunNotCancellable
	}

	o.mu.Lock()
	cancel, ok := o.active[runID]
	o.mu.Unlock()
	if !ok {
		return ledger.ErrRunNotCancellable
	}

	cancel()
	o.logger.Info("Sync run cancellation requested",
		zap.String("run_id", runID.String()),
		zap.String("tenant_id", tenantID.String()),
	)
	return nil
}

// GetRun loads one run with its live counters.
func (o *Orchestrator) GetRun(ctx context.Context, tenantID, runID uuid.UUID) (*ledger.SyncRun, error) {
	return o.deps.Runs.FindByID(ctx, tenantID, runID)
}

// ListRuns pages through a tenant's runs, newest first.
func (o *Orchestrator) ListRuns(ctx context.Context, tenantID uuid.UUID, filter ledger.RunFilter) ([]ledger.SyncRun, int64, error) {
	return o.deps.Runs.List(ctx, tenantID, filter)
}

// ListRunAudit pages through the per-record trail of one run, oldest first.
func (o *Orchestrator) ListRunAudit(ctx context.Context, tenantID, runID uuid.UUID, page, pageSize int) ([]ledger.AuditEntry, int64, error) {
	if _, err := o.deps.Runs.FindByID(ctx, tenantID, runID); err != nil {
		return nil, 0, err
	}
	return o.deps.Audits.ListByRun(ctx, tenantID, runID, page, pageSize)
}

// Shutdown cancels every active run and waits for them to drain.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	for _, cancel := range o.active {
		cancel()
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.logger.Info("Sync orchestrator stopped gracefully")
		return nil
	case <-ctx.Done():
		o.logger.Warn("Sync orchestrator stop timed out")
		return ctx.Err()
	}
}
