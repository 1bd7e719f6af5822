package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"api-gateway/internal/config"
	"api-gateway/internal/metrics"
	"api-gateway/internal/route"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
// The proxy prefix is mounted both bare and as a wildcard so "/api" reaches
// the upstream root. Any only covers the methods echo knows; the not-found
// routes on the same paths catch the rest (PURGE, MKCOL, ...) so every method
// is forwarded instead of answered with 405.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, table *route.Table, m *metrics.Metrics, proxy *ProxyHandler, health *HealthHandler) {
	e.Match([]string{http.MethodGet, http.MethodHead}, table.HealthPath(), health.Health)
	e.GET(config.DefaultStatusPath, health.Status)

	prefix := table.Proxy().Prefix
	e.Any(prefix, proxy.Handle)
	e.Any(prefix+"/*", proxy.Handle)
	e.RouteNotFound(prefix, proxy.Handle)
	e.RouteNotFound(prefix+"/*", proxy.Handle)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}
}
