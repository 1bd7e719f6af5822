// Package handler contains the gateway's HTTP handlers and route wiring.
package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"api-gateway/internal/metrics"
	"api-gateway/internal/model"
	"api-gateway/internal/service"
)

// gatewayError is the only body clients see when forwarding fails.
var gatewayError = map[string]string{"error": "Gateway error"}

// ProxyHandler forwards requests under the proxy prefix to the upstream.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewProxyHandler creates a ProxyHandler. The metrics parameter may be nil.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger, m *metrics.Metrics) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
		metrics: m,
	}
}

// Handle proxies the request to the upstream and streams the response back.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	pr := &model.ProxyRequest{
		Ctx:           req.Context(),
		Method:        req.Method,
		Path:          req.URL.EscapedPath(),
		RawQuery:      req.URL.RawQuery,
		Header:        req.Header,
		Body:          req.Body,
		ContentLength: req.ContentLength,
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Upstream headers replace any the middleware chain already set (CORS).
	for key, vals := range resp.Header {
		c.Response().Header()[key] = vals
	}
	c.Response().WriteHeader(resp.StatusCode)

	// Stream the upstream body directly to the client. If io.Copy fails
	// mid-stream (e.g. client disconnect, network error), the HTTP status
	// code has already been sent, so the client receives a truncated
	// response with the original status. We log the error for observability.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"path", req.URL.Path,
		)
	}
	return nil
}

// mapError turns every forwarding failure into the same 502 body, except a
// departed client, which gets nothing.
func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	kind := service.FailureTransport
	var fe *service.ForwardError
	if errors.As(err, &fe) {
		kind = fe.Kind
	}
	if h.metrics != nil {
		h.metrics.UpstreamFailures.WithLabelValues(kind.String()).Inc()
	}

	req := c.Request()
	if kind == service.FailureClientGone {
		h.logger.Debug("client disconnected before upstream responded",
			"method", req.Method,
			"path", req.URL.Path,
		)
		return nil
	}

	h.logger.Error("proxy error",
		"err", err,
		"kind", kind.String(),
		"method", req.Method,
		"path", req.URL.Path,
	)
	return c.JSON(http.StatusBadGateway, gatewayError)
}
