package middleware

import (
	"time"

	"cdr.dev/slog/v3"
	"github.com/gin-gonic/gin"
)

// Logger logs one line per request. Server errors log at error level.
func Logger(logger slog.Logger) gin.HandlerFunc {
	logger = logger.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		status := c.Writer.Status()
		fields := []slog.Field{
			slog.F("method", c.Request.Method),
			slog.F("path", path),
			slog.F("status", status),
			slog.F("latency", time.Since(start)),
			slog.F("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, slog.F("errors", c.Errors.String()))
		}

		ctx := c.Request.Context()
		log := logger.With(fields...)
		switch {
		case status >= 500:
			log.Error(ctx, "request")
		case status >= 400:
			log.Warn(ctx, "request")
		default:
			log.Debug(ctx, "request")
		}
	}
}
