package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newRecordedDBMetrics(t *testing.T, cfg DBMetricsConfig) (*DBMetrics, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	metrics, err := NewDBMetrics(provider.Meter("test"), cfg, zap.NewNop())
	require.NoError(t, err)
	return metrics, reader
}

func collectedMetricNames(t *testing.T, reader *sdkmetric.ManualReader) map[string]bool {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	names := map[string]bool{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			names[m.Name] = true
		}
	}
	return names
}

func TestDefaultDBMetricsConfig(t *testing.T) {
	cfg := DefaultDBMetricsConfig()

	assert.True(t, cfg.Enabled)
	assert.Equal(t, 200*time.Millisecond, cfg.SlowQueryThreshold)
	assert.Equal(t, 15*time.Second, cfg.PoolStatsInterval)
}

func TestNewDBMetrics_AppliesDefaults(t *testing.T) {
	metrics, _ := newRecordedDBMetrics(t, DBMetricsConfig{Enabled: true})

	assert.Equal(t, 200*time.Millisecond, metrics.config.SlowQueryThreshold)
	assert.Equal(t, 15*time.Second, metrics.config.PoolStatsInterval)
}

func TestDBMetrics_RecordQuery(t *testing.T) {
	metrics, reader := newRecordedDBMetrics(t, DBMetricsConfig{
		Enabled:            true,
		SlowQueryThreshold: 100 * time.Millisecond,
	})
	ctx := context.Background()

	metrics.RecordQuery(ctx, "select", "sync_runs", 5*time.Millisecond, nil)

	names := collectedMetricNames(t, reader)
	assert.True(t, names["db_query_total"])
	assert.True(t, names["db_query_duration_seconds"])
	assert.False(t, names["db_slow_query_total"], "fast query must not count as slow")
}

func TestDBMetrics_RecordQuery_Slow(t *testing.T) {
	metrics, reader := newRecordedDBMetrics(t, DBMetricsConfig{
		Enabled:            true,
		SlowQueryThreshold: 100 * time.Millisecond,
	})

	metrics.RecordQuery(context.Background(), "SELECT", "sync_states", 250*time.Millisecond, nil)

	names := collectedMetricNames(t, reader)
	assert.True(t, names["db_slow_query_total"])
}

func TestDBMetrics_PoolStats(t *testing.T) {
	metrics, reader := newRecordedDBMetrics(t, DBMetricsConfig{Enabled: true})

	mockDB, _, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	metrics.SetSQLDB(mockDB)
	metrics.samplePool(context.Background())

	names := collectedMetricNames(t, reader)
	assert.True(t, names["db_pool_connections"])
	assert.True(t, names["db_pool_connections_max"])
}

func TestDBMetrics_StopIsIdempotent(t *testing.T) {
	metrics, _ := newRecordedDBMetrics(t, DBMetricsConfig{Enabled: true})

	metrics.Stop()
	metrics.Stop()
}

func TestDBMetricsPlugin_Initialize(t *testing.T) {
	metrics, reader := newRecordedDBMetrics(t, DBMetricsConfig{Enabled: true})

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, gormDB.Use(NewDBMetricsPlugin(metrics, zap.NewNop())))

	mock.ExpectQuery("SELECT count").WillReturnRows(
		sqlmock.NewRows([]string{"count"}).AddRow(3),
	)

	var count int64
	require.NoError(t, gormDB.Table("sync_conflicts").Count(&count).Error)
	assert.Equal(t, int64(3), count)

	names := collectedMetricNames(t, reader)
	assert.True(t, names["db_query_total"], "plugin callbacks must record queries")
}

func TestDBMetricsPlugin_DoubleRegistrationFails(t *testing.T) {
	metrics, _ := newRecordedDBMetrics(t, DBMetricsConfig{Enabled: true})

	mockDB, _, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, gormDB.Use(NewDBMetricsPlugin(metrics, zap.NewNop())))
	// GORM rejects duplicate callback names
	assert.Error(t, NewDBMetricsPlugin(metrics, zap.NewNop()).Initialize(gormDB))
}

func TestRegisterDBMetrics_Disabled(t *testing.T) {
	metrics, err := RegisterDBMetrics(nil, nil, DBMetricsConfig{Enabled: false}, zap.NewNop())

	require.NoError(t, err)
	assert.Nil(t, metrics)
}

func TestDetectOperationType(t *testing.T) {
	tests := []struct {
		sql      string
		expected string
	}{
		{"SELECT * FROM sync_states", "SELECT"},
		{"  select id from sync_runs", "SELECT"},
		{"INSERT INTO sync_audit_events VALUES (1)", "INSERT"},
		{"update sync_conflicts set status = 'resolved'", "UPDATE"},
		{"DELETE FROM sync_checkpoints WHERE id = 1", "DELETE"},
		{"TRUNCATE sync_states", "OTHER"},
		{"", "OTHER"},
	}

	for _, tt := range tests {
		t.Run(tt.expected+"/"+tt.sql, func(t *testing.T) {
			assert.Equal(t, tt.expected, detectOperationType(tt.sql))
		})
	}
}
