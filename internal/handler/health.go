package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"api-gateway/internal/config"
)

// ServiceName identifies this gateway in liveness responses.
const ServiceName = "api-gateway"

// Version is a string type for dependency injection of the build version.
type Version string

// BreakerReporter exposes the upstream circuit breaker state.
type BreakerReporter interface {
	BreakerState() string
}

// liveness is the fixed body served on the health route.
type liveness struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
	breaker BreakerReporter
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version, br BreakerReporter) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v, breaker: br}
}

// Health answers liveness probes. It never touches the upstream.
func (h *HealthHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, liveness{Status: "healthy", Service: ServiceName})
}

// Status returns gateway status information.
func (h *HealthHandler) Status(c echo.Context) error {
	breaker := "disabled"
	if h.breaker != nil {
		breaker = h.breaker.BreakerState()
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status":       "ok",
		"service":      ServiceName,
		"version":      string(h.version),
		"upstream_url": h.cfg.Upstream.BaseURL,
		"breaker":      breaker,
	})
}
