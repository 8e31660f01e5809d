// Package scheduler triggers background sync runs for connected tenants.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appledger "github.com/ledgerlink/backend/internal/application/ledger"
	"github.com/ledgerlink/backend/internal/domain/ledger"
)

// ---------------------------------------------------------------------------
// Run Starter
// ---------------------------------------------------------------------------

// RunStarter accepts sync runs. Implemented by the orchestrator; an
// interface here so trigger tests run against a fake.
type RunStarter interface {
	StartSync(ctx context.Context, tenantID uuid.UUID, cmd appledger.StartCommand) (*ledger.SyncRun, error)
}

// ---------------------------------------------------------------------------
// SyncTriggerConfig
// ---------------------------------------------------------------------------

// SyncTriggerConfig holds configuration for the background sync trigger
type SyncTriggerConfig struct {
	// CheckInterval is how often to check which connections are due
	CheckInterval time.Duration
}

// DefaultSyncTriggerConfig returns default configuration
func DefaultSyncTriggerConfig() SyncTriggerConfig {
	return SyncTriggerConfig{
		CheckInterval: time.Minute,
	}
}

// ---------------------------------------------------------------------------
// SyncTrigger
// ---------------------------------------------------------------------------

// SyncTrigger periodically starts a bidirectional run for every connection
// whose schedule has come due. Due-ness lives on the connection itself;
// the trigger only walks the scheduled set and asks.
type SyncTrigger struct {
	config      SyncTriggerConfig
	starter     RunStarter
	connections ledger.ConnectionRepository
	logger      *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewSyncTrigger creates a new background sync trigger
func NewSyncTrigger(
	config SyncTriggerConfig,
	starter RunStarter,
	connections ledger.ConnectionRepository,
	logger *zap.Logger,
) *SyncTrigger {
	if config.CheckInterval <= 0 {
		config.CheckInterval = DefaultSyncTriggerConfig().CheckInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncTrigger{
		config:      config,
		starter:     starter,
		connections: connections,
		logger:      logger,
	}
}

// Start starts the trigger loop
func (t *SyncTrigger) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.isRunning {
		t.mu.Unlock()
		return nil
	}
	t.isRunning = true
	t.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	t.wg.Add(1)
	go t.runLoop(ctx)

	t.logger.Info("Sync trigger started",
		zap.Duration("check_interval", t.config.CheckInterval),
	)
	return nil
}

// Stop stops the trigger loop and waits for the current check to finish
func (t *SyncTrigger) Stop(ctx context.Context) error {
	t.mu.Lock()
	if !t.isRunning {
		t.mu.Unlock()
		return nil
	}
	t.isRunning = false
	t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.logger.Info("Sync trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runLoop periodically checks for due connections
func (t *SyncTrigger) runLoop(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.config.CheckInterval)
	defer ticker.Stop()

	// Run immediately on start
	t.checkAndTrigger(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.checkAndTrigger(ctx)
		}
	}
}

// checkAndTrigger starts a run for every connection that is due
func (t *SyncTrigger) checkAndTrigger(ctx context.Context) {
	connections, err := t.connections.ListScheduled(ctx)
	if err != nil {
		t.logger.Error("Failed to list scheduled connections", zap.Error(err))
		return
	}
	if len(connections) == 0 {
		return
	}

	now := time.Now().UTC()
	for i := range connections {
		conn := &connections[i]
		if !conn.DueForScheduledSync(now) {
			continue
		}

		run, err := t.starter.StartSync(ctx, conn.TenantID, appledger.StartCommand{
			Direction: ledger.DirectionBoth,
			Options:   ledger.RunOptions{TriggeredBy: "scheduler"},
		})
		if err != nil {
			if errors.Is(err, ledger.ErrSyncInProgress) {
				// A manual run beat us to it. The schedule catches up on
				// the next check.
				t.logger.Debug("Scheduled sync skipped, run already in flight",
					zap.String("tenant_id", conn.TenantID.String()),
				)
				continue
			}
			t.logger.Error("Failed to start scheduled sync",
				zap.String("tenant_id", conn.TenantID.String()),
				zap.Error(err),
			)
			continue
		}

		t.logger.Info("Scheduled sync started",
			zap.String("tenant_id", conn.TenantID.String()),
			zap.String("run_id", run.ID.String()),
		)
	}
}
