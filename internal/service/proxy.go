// Package service implements the core proxy forwarding logic.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"api-gateway/internal/client"
	"api-gateway/internal/model"
	"api-gateway/internal/route"
)

// FailureKind classifies why a forward produced no upstream response.
type FailureKind int

const (
	// FailureTransport covers refused, reset, DNS and protocol errors.
	FailureTransport FailureKind = iota
	// FailureTimeout means the configured upstream deadline expired.
	FailureTimeout
	// FailureCircuitOpen means the breaker refused the call.
	FailureCircuitOpen
	// FailureClientGone means the inbound client went away first.
	FailureClientGone
)

func (k FailureKind) String() string {
	switch k {
	case FailureTimeout:
		return "timeout"
	case FailureCircuitOpen:
		return "circuit_open"
	case FailureClientGone:
		return "client_gone"
	default:
		return "transport"
	}
}

// ForwardError is returned by Forward when no upstream response is available.
type ForwardError struct {
	Kind FailureKind
	Err  error
}

func (e *ForwardError) Error() string {
	return fmt.Sprintf("forward to upstream (%s): %v", e.Kind, e.Err)
}

func (e *ForwardError) Unwrap() error { return e.Err }

// hopByHopHeaders are re-derived on every hop and never forwarded (RFC 9110 §7.6.1).
var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// ProxyService handles the forwarding logic for proxy requests.
type ProxyService struct {
	client *client.UpstreamClient
	rule   route.Rule
	logger *slog.Logger
}

// NewProxyService creates a ProxyService forwarding through the table's proxy rule.
func NewProxyService(c *client.UpstreamClient, table *route.Table, logger *slog.Logger) *ProxyService {
	return &ProxyService{
		client: c,
		rule:   table.Proxy(),
		logger: logger.With("component", "proxy_service"),
	}
}

// Forward sends a ProxyRequest to the upstream and returns the response.
// The caller is responsible for closing the response body.
//
// Any upstream status, 5xx included, is a successful forward. Transport-level
// failures come back as *ForwardError.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	upstreamURL := s.buildUpstreamURL(pr.Path, pr.RawQuery)
	header := prepareRequestHeaders(pr.Header)

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"path", pr.Path,
		"upstream_url", upstreamURL,
	)

	resp, err := s.client.DoStream(pr.Ctx, pr.Method, upstreamURL, header, pr.Body, pr.ContentLength)
	if err != nil {
		return nil, &ForwardError{Kind: classify(pr.Ctx, err), Err: err}
	}

	resp.Header = filterResponseHeaders(resp.Header)
	return resp, nil
}

// buildUpstreamURL joins the target with the rewritten path, keeping the
// inbound escaping and raw query exactly as received.
func (s *ProxyService) buildUpstreamURL(escapedPath, rawQuery string) string {
	u := *s.rule.Target
	p := s.rule.UpstreamPath(escapedPath)
	if unescaped, err := url.PathUnescape(p); err == nil {
		u.Path = unescaped
		u.RawPath = p
	} else {
		u.Path = p
		u.RawPath = ""
	}
	u.RawQuery = rawQuery
	u.Fragment = ""
	return u.String()
}

// prepareRequestHeaders copies the inbound headers minus hop-by-hop ones.
// Host is not carried over; the outbound request takes the upstream's
// authority from its URL.
func prepareRequestHeaders(src http.Header) http.Header {
	dst := src.Clone()
	if dst == nil {
		dst = make(http.Header)
	}
	removeHopByHop(dst)
	dst.Del("Host")

	// Keep net/http from inventing a User-Agent the client never sent.
	if _, ok := dst["User-Agent"]; !ok {
		dst["User-Agent"] = []string{""}
	}
	return dst
}

// filterResponseHeaders copies the upstream headers minus hop-by-hop ones.
func filterResponseHeaders(src http.Header) http.Header {
	dst := src.Clone()
	if dst == nil {
		return make(http.Header)
	}
	removeHopByHop(dst)
	return dst
}

// removeHopByHop deletes the fixed hop-by-hop set plus any header named in Connection.
func removeHopByHop(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

func classify(ctx context.Context, err error) FailureKind {
	if errors.Is(err, client.ErrCircuitOpen) {
		return FailureCircuitOpen
	}
	if ctx != nil && ctx.Err() != nil {
		return FailureClientGone
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}
	return FailureTransport
}
