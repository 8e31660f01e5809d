package logger

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const ginLoggerKey = "logger"

// RequestLogger logs every HTTP request and plants a request-scoped logger
// in both the gin context and the request context. The scoped logger carries
// request_id, method, path, and the trace IDs when a span is active, so a
// sync run started over HTTP is correlated end to end.
func RequestLogger(l *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		requestID, _ := c.Get("request_id")
		requestIDStr, _ := requestID.(string)

		ctx := c.Request.Context()
		scoped := WithTraceContext(ctx, l.With(
			zap.String("method", c.Request.Method),
			zap.String("path", path),
		))
		ctx, scoped = WithRequestID(ctx, scoped, requestIDStr)

		c.Set(ginLoggerKey, scoped)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		fields := []zap.Field{
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("user_agent", c.Request.UserAgent()),
			zap.Int("body_size", c.Writer.Size()),
		}
		if query != "" {
			fields = append(fields, zap.String("query", query))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.Strings("errors", c.Errors.Errors()))
		}

		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			scoped.Error("HTTP Request", fields...)
		case status >= http.StatusBadRequest:
			scoped.Warn("HTTP Request", fields...)
		default:
			scoped.Info("HTTP Request", fields...)
		}
	}
}

// Recovery converts a handler panic into a 500 and logs the stack. It must
// sit outside RequestLogger so a panicking request still gets a log line.
func Recovery(l *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				requestID, _ := c.Get("request_id")
				requestIDStr, _ := requestID.(string)

				l.Error("Panic recovered",
					zap.String("request_id", requestIDStr),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.Any("error", r),
					zap.Stack("stacktrace"),
				)

				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

// FromGin returns the request-scoped logger planted by RequestLogger, or a
// no-op logger when the middleware did not run.
func FromGin(c *gin.Context) *zap.Logger {
	if v, exists := c.Get(ginLoggerKey); exists {
		if l, ok := v.(*zap.Logger); ok {
			return l
		}
	}
	return zap.NewNop()
}
