package telemetry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SyncMetrics tracks reconciliation activity: runs, per-record outcomes,
// conflicts, page fetches and remote API traffic. All record methods are
// safe on a nil receiver so callers never have to branch on whether
// metrics are configured.
type SyncMetrics struct {
	meter metric.Meter

	// Counter metrics (monotonically increasing)
	runsTotal           *Counter
	recordsTotal        *Counter
	conflictsTotal      *Counter
	pagesTotal          *Counter
	remoteRequestsTotal *Counter

	// Histogram metrics
	runDuration *Histogram
}

// NewSyncMetrics creates a new SyncMetrics instance.
func NewSyncMetrics(meter metric.Meter) (*SyncMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}

	sm := &SyncMetrics{meter: meter}

	var err error

	sm.runsTotal, err = NewCounter(
		meter,
		"ledgerlink_sync_runs_total",
		"Total number of finished sync runs",
		"{runs}",
	)
	if err != nil {
		return nil, err
	}

	sm.recordsTotal, err = NewCounter(
		meter,
		"ledgerlink_sync_records_total",
		"Total number of per-record outcomes",
		"{records}",
	)
	if err != nil {
		return nil, err
	}

	sm.conflictsTotal, err = NewCounter(
		meter,
		"ledgerlink_sync_conflicts_total",
		"Total number of divergences captured",
		"{conflicts}",
	)
	if err != nil {
		return nil, err
	}

	sm.pagesTotal, err = NewCounter(
		meter,
		"ledgerlink_sync_pages_total",
		"Total number of remote pages fetched",
		"{pages}",
	)
	if err != nil {
		return nil, err
	}

	sm.remoteRequestsTotal, err = NewCounter(
		meter,
		"ledgerlink_remote_requests_total",
		"Total number of requests sent to the remote ledger",
		"{requests}",
	)
	if err != nil {
		return nil, err
	}

	sm.runDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "ledgerlink_sync_run_duration_seconds",
		Description: "Wall-clock duration of finished sync runs",
		Unit:        "s",
		Boundaries:  []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
	})
	if err != nil {
		return nil, err
	}

	return sm, nil
}

// =============================================================================
// Run Metrics
// =============================================================================

// RecordRunFinished records a run reaching a terminal status.
func (sm *SyncMetrics) RecordRunFinished(ctx context.Context, tenantID uuid.UUID, direction, status string, duration time.Duration) {
	if sm == nil {
		return
	}
	attrs := []attribute.KeyValue{
		AttrTenantID.String(tenantID.String()),
		AttrSyncDirection.String(direction),
		AttrRunStatus.String(status),
	}
	sm.runsTotal.Inc(ctx, attrs...)
	sm.runDuration.RecordDuration(ctx, duration, attrs...)
}

// =============================================================================
// Record Metrics
// =============================================================================

// RecordOutcome records one per-record pipeline outcome.
func (sm *SyncMetrics) RecordOutcome(ctx context.Context, tenantID uuid.UUID, entityType, direction, action string) {
	if sm == nil {
		return
	}
	sm.recordsTotal.Inc(ctx,
		AttrTenantID.String(tenantID.String()),
		AttrEntityType.String(entityType),
		AttrSyncDirection.String(direction),
		AttrSyncAction.String(action),
	)
}

// RecordConflict records a captured divergence.
func (sm *SyncMetrics) RecordConflict(ctx context.Context, tenantID uuid.UUID, entityType string) {
	if sm == nil {
		return
	}
	sm.conflictsTotal.Inc(ctx,
		AttrTenantID.String(tenantID.String()),
		AttrEntityType.String(entityType),
	)
}

// RecordPage records one remote page fetch.
func (sm *SyncMetrics) RecordPage(ctx context.Context, tenantID uuid.UUID, entityType string) {
	if sm == nil {
		return
	}
	sm.pagesTotal.Inc(ctx,
		AttrTenantID.String(tenantID.String()),
		AttrEntityType.String(entityType),
	)
}

// =============================================================================
// Remote API Metrics
// =============================================================================

// RecordRemoteRequest records one request to the remote ledger API.
// statusCode is 0 for transport-level failures.
func (sm *SyncMetrics) RecordRemoteRequest(ctx context.Context, method string, statusCode int) {
	if sm == nil {
		return
	}
	sm.remoteRequestsTotal.Inc(ctx,
		AttrHTTPMethod.String(method),
		AttrHTTPStatusCode.Int(statusCode),
	)
}

// =============================================================================
// Attribute Key Constants
// =============================================================================

// Sync metrics attribute keys not already defined in metrics.go
var (
	AttrEntityType    = attribute.Key("entity_type")
	AttrSyncDirection = attribute.Key("sync_direction")
	AttrSyncAction    = attribute.Key("sync_action")
	AttrRunStatus     = attribute.Key("run_status")
)

// =============================================================================
// Errors
// =============================================================================

// ErrMeterNil is returned when a metrics constructor receives a nil meter.
var ErrMeterNil = &MetricsError{Op: "NewSyncMetrics", Err: "meter cannot be nil"}

// MetricsError represents a metrics-related error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}
