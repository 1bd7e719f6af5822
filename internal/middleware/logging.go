// Package middleware provides Echo middleware for logging, metrics and tracing.
package middleware

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/trace"

	"api-gateway/internal/route"
)

// RequestLogger returns an Echo middleware that logs each request with slog.
// Liveness probes are logged at debug level.
func RequestLogger(logger *slog.Logger, table *route.Table) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()
			kind := table.Classify(req.URL.Path)

			attrs := []any{
				"method", req.Method,
				"path", req.URL.Path,
				"route", kind.String(),
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
			}
			if sc := trace.SpanContextFromContext(req.Context()); sc.IsValid() {
				attrs = append(attrs, "trace_id", sc.TraceID().String())
			}

			level := slog.LevelInfo
			if kind == route.KindLiveness {
				level = slog.LevelDebug
			}
			logger.Log(req.Context(), level, "request", attrs...)

			return err
		}
	}
}
