package logger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

const defaultSlowQueryThreshold = 200 * time.Millisecond

// GormLogger routes GORM's log output through zap so sync-state queries show
// up in the same stream as the rest of the engine. Record-not-found errors
// are suppressed by default; the repositories translate those into domain
// sentinels and logging them would be noise.
type GormLogger struct {
	l             *zap.Logger
	level         gormlogger.LogLevel
	slowThreshold time.Duration
	logNotFound   bool
}

// GormLoggerOption configures a GormLogger.
type GormLoggerOption func(*GormLogger)

// WithSlowThreshold overrides the slow query threshold.
func WithSlowThreshold(threshold time.Duration) GormLoggerOption {
	return func(g *GormLogger) {
		g.slowThreshold = threshold
	}
}

// WithRecordNotFoundLogging re-enables logging of record-not-found errors.
func WithRecordNotFoundLogging() GormLoggerOption {
	return func(g *GormLogger) {
		g.logNotFound = true
	}
}

// NewGormLogger wraps zapLogger for use as gorm.Config.Logger.
func NewGormLogger(zapLogger *zap.Logger, level gormlogger.LogLevel, opts ...GormLoggerOption) *GormLogger {
	g := &GormLogger{
		l:             zapLogger.Named("gorm"),
		level:         level,
		slowThreshold: defaultSlowQueryThreshold,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// LogMode implements gormlogger.Interface.
func (g *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *g
	clone.level = level
	return &clone
}

// Info implements gormlogger.Interface.
func (g *GormLogger) Info(_ context.Context, msg string, args ...any) {
	if g.level >= gormlogger.Info {
		g.l.Sugar().Infof(msg, args...)
	}
}

// Warn implements gormlogger.Interface.
func (g *GormLogger) Warn(_ context.Context, msg string, args ...any) {
	if g.level >= gormlogger.Warn {
		g.l.Sugar().Warnf(msg, args...)
	}
}

// Error implements gormlogger.Interface.
func (g *GormLogger) Error(_ context.Context, msg string, args ...any) {
	if g.level >= gormlogger.Error {
		g.l.Sugar().Errorf(msg, args...)
	}
}

// Trace implements gormlogger.Interface. Each completed statement is logged
// once: errors at error level, statements over the slow threshold at warn,
// everything else at debug when the level allows it.
func (g *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.Int64("rows", rows),
		zap.String("sql", sql),
	}
	if requestID := GetRequestID(ctx); requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}

	switch {
	case err != nil && g.level >= gormlogger.Error:
		if !g.logNotFound && errors.Is(err, gormlogger.ErrRecordNotFound) {
			return
		}
		g.l.Error("SQL Error", append(fields, zap.Error(err))...)

	case g.slowThreshold != 0 && elapsed > g.slowThreshold && g.level >= gormlogger.Warn:
		g.l.Warn(fmt.Sprintf("SLOW SQL >= %v", g.slowThreshold), fields...)

	case g.level >= gormlogger.Info:
		g.l.Debug("SQL Query", fields...)
	}
}

// MapGormLogLevel maps the service log level onto GORM's.
func MapGormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "warn":
		return gormlogger.Warn
	case "info", "debug":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}
