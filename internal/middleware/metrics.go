package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"api-gateway/internal/metrics"
	"api-gateway/internal/route"
)

// MetricsMiddleware returns an Echo middleware that records Prometheus metrics
// for each inbound request. The route label is the route kind, which keeps
// cardinality bounded no matter what paths clients send.
func MetricsMiddleware(m *metrics.Metrics, table *route.Table) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()

			err := next(c)

			// An *echo.HTTPError has not been written yet; the central error
			// handler does that after the middleware chain returns.
			statusCode := c.Response().Status
			if err != nil {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					statusCode = he.Code
				}
			}

			status := strconv.Itoa(statusCode)
			method := metrics.NormalizeMethod(c.Request().Method)
			kind := routeLabel(table.Classify(c.Request().URL.Path))
			duration := time.Since(start).Seconds()

			m.RequestsTotal.WithLabelValues(method, status, kind).Inc()
			m.RequestDuration.WithLabelValues(method, status, kind).Observe(duration)

			return err
		}
	}
}

func routeLabel(k route.Kind) string {
	if k == route.KindNone {
		return "other"
	}
	return k.String()
}
