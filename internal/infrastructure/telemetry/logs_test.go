package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLoggerProvider_Disabled(t *testing.T) {
	lp, err := NewLoggerProvider(context.Background(), LogsConfig{Enabled: false}, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.False(t, lp.IsEnabled())
	assert.False(t, lp.GetConfig().Enabled)
	assert.NoError(t, lp.ForceFlush(context.Background()))
	assert.NoError(t, lp.Shutdown(context.Background()))
}

func TestNewZapOTELCore_WithoutProvider(t *testing.T) {
	core := NewZapOTELCore(ZapBridgeConfig{ServiceName: "ledgerlink"})
	assert.False(t, core.Enabled(zapcore.ErrorLevel))
}

func TestNewZapOTELCore_DisabledProvider(t *testing.T) {
	lp, err := NewLoggerProvider(context.Background(), LogsConfig{Enabled: false}, zaptest.NewLogger(t))
	require.NoError(t, err)

	core := NewZapOTELCore(ZapBridgeConfig{ServiceName: "ledgerlink", LoggerProvider: lp})
	assert.False(t, core.Enabled(zapcore.ErrorLevel))
}

func TestLevelFilterCore_ClampsLevel(t *testing.T) {
	inner, recorded := observer.New(zapcore.DebugLevel)
	logger := zap.New(&levelFilterCore{Core: inner, minLevel: zapcore.WarnLevel})

	logger.Debug("cursor advanced")
	logger.Info("page fetched")
	logger.Warn("remote throttled")
	logger.Error("push rejected")

	entries := recorded.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "remote throttled", entries[0].Message)
	assert.Equal(t, "push rejected", entries[1].Message)
}

func TestLevelFilterCore_WithKeepsFilter(t *testing.T) {
	inner, recorded := observer.New(zapcore.DebugLevel)
	core := &levelFilterCore{Core: inner, minLevel: zapcore.WarnLevel}

	logger := zap.New(core).With(zap.String("run_id", "run-42"))
	logger.Info("page fetched")
	logger.Warn("remote throttled")

	entries := recorded.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "run-42", entries[0].ContextMap()["run_id"])
}

func TestNewBridgedLogger_FansOut(t *testing.T) {
	local, localRecorded := observer.New(zapcore.InfoLevel)
	remote, remoteRecorded := observer.New(zapcore.InfoLevel)

	logger := NewBridgedLogger(local, remote)
	logger.Info("sync run completed", zap.String("run_id", "run-42"))

	require.Equal(t, 1, localRecorded.Len())
	require.Equal(t, 1, remoteRecorded.Len())
	assert.Equal(t, "run-42", remoteRecorded.All()[0].ContextMap()["run_id"])
}

func TestCreateBridgedLoggerFromConfig(t *testing.T) {
	lp, err := NewLoggerProvider(context.Background(), LogsConfig{Enabled: false}, zaptest.NewLogger(t))
	require.NoError(t, err)

	logger, err := CreateBridgedLoggerFromConfig(&BaseLoggerConfig{
		Level:  "info",
		Format: "json",
		Output: "stderr",
	}, lp, "ledgerlink")
	require.NoError(t, err)
	require.NotNil(t, logger)

	// Base level applies to the combined logger
	assert.Nil(t, logger.Check(zap.DebugLevel, "cursor advanced"))
	assert.NotNil(t, logger.Check(zap.InfoLevel, "page fetched"))
}

func TestParseLogLevel(t *testing.T) {
	cases := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"fatal", zapcore.FatalLevel},
		{"", zapcore.InfoLevel},
		{"verbose", zapcore.InfoLevel},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, parseLogLevel(tc.in), tc.in)
	}
}
