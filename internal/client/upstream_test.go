package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"api-gateway/internal/config"
	"api-gateway/internal/metrics"
)

func testConfig() *config.Config {
	return &config.Config{
		Upstream: config.UpstreamConfig{
			TimeoutSeconds:  10,
			IdleConnections: 10,
		},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestUpstreamClient_DoStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	c := NewUpstreamClient(testConfig(), discardLogger(), nil)

	resp, err := c.DoStream(context.Background(), http.MethodGet, srv.URL+"/test", http.Header{}, nil, 0)
	if err != nil {
		t.Fatalf("DoStream() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(body) != `{"status":"ok"}` {
		t.Errorf("body = %q, want %q", string(body), `{"status":"ok"}`)
	}
}

func TestUpstreamClient_DoStream_Body(t *testing.T) {
	var gotBody string
	var gotLength int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotLength = r.ContentLength
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewUpstreamClient(testConfig(), discardLogger(), nil)

	payload := `{"item":"Widget"}`
	resp, err := c.DoStream(context.Background(), http.MethodPost, srv.URL+"/orders",
		http.Header{"Content-Type": {"application/json"}}, strings.NewReader(payload), int64(len(payload)))
	if err != nil {
		t.Fatalf("DoStream() error = %v", err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	if gotBody != payload {
		t.Errorf("upstream body = %q, want %q", gotBody, payload)
	}
	if gotLength != int64(len(payload)) {
		t.Errorf("upstream ContentLength = %d, want %d", gotLength, len(payload))
	}
}

func TestUpstreamClient_DoesNotFollowRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/moved" {
			t.Error("redirect was followed")
		}
		http.Redirect(w, r, "/moved", http.StatusFound)
	}))
	defer srv.Close()

	c := NewUpstreamClient(testConfig(), discardLogger(), nil)

	resp, err := c.DoStream(context.Background(), http.MethodGet, srv.URL+"/old", http.Header{}, nil, 0)
	if err != nil {
		t.Fatalf("DoStream() error = %v", err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusFound)
	}
	if loc := resp.Header.Get("Location"); loc != "/moved" {
		t.Errorf("Location = %q, want %q", loc, "/moved")
	}
}

func TestUpstreamClient_KeepsCompressedBody(t *testing.T) {
	compressed := []byte{0x1f, 0x8b, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ae := r.Header.Get("Accept-Encoding"); ae != "" {
			t.Errorf("transport injected Accept-Encoding = %q", ae)
		}
		w.Header().Set("Content-Encoding", "gzip")
		_, _ = w.Write(compressed)
	}))
	defer srv.Close()

	c := NewUpstreamClient(testConfig(), discardLogger(), nil)

	resp, err := c.DoStream(context.Background(), http.MethodGet, srv.URL+"/", http.Header{}, nil, 0)
	if err != nil {
		t.Fatalf("DoStream() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != string(compressed) {
		t.Errorf("body = %x, want untouched %x", body, compressed)
	}
	if resp.Header.Get("Content-Encoding") != "gzip" {
		t.Errorf("Content-Encoding = %q, want gzip", resp.Header.Get("Content-Encoding"))
	}
}

func TestUpstreamClient_DoStream_Error(t *testing.T) {
	cfg := testConfig()
	cfg.Upstream.TimeoutSeconds = 1
	c := NewUpstreamClient(cfg, discardLogger(), nil)

	_, err := c.DoStream(context.Background(), http.MethodGet, "http://127.0.0.1:1/nonexistent", http.Header{}, nil, 0)
	if err == nil {
		t.Fatal("DoStream() expected error for unreachable host, got nil")
	}
}

func TestUpstreamClient_DoStream_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Simulate a slow upstream; the request should be canceled before this completes.
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewUpstreamClient(testConfig(), discardLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	_, err := c.DoStream(ctx, http.MethodGet, srv.URL+"/slow", http.Header{}, nil, 0)
	if err == nil {
		t.Fatal("DoStream() expected error for canceled context, got nil")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled in chain", err)
	}
}

func TestUpstreamClient_Breaker(t *testing.T) {
	cfg := testConfig()
	cfg.Upstream.TimeoutSeconds = 1
	cfg.Breaker = config.BreakerConfig{Enabled: true, FailureThreshold: 2, OpenSeconds: 60}
	m := metrics.New()
	c := NewUpstreamClient(cfg, discardLogger(), m)

	if got := c.BreakerState(); got != "closed" {
		t.Fatalf("BreakerState() = %q, want closed", got)
	}

	for i := range 2 {
		_, err := c.DoStream(context.Background(), http.MethodGet, "http://127.0.0.1:1/", http.Header{}, nil, 0)
		if err == nil {
			t.Fatalf("call %d: expected transport error", i)
		}
		if errors.Is(err, ErrCircuitOpen) {
			t.Fatalf("call %d: breaker opened too early", i)
		}
	}

	_, err := c.DoStream(context.Background(), http.MethodGet, "http://127.0.0.1:1/", http.Header{}, nil, 0)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("error = %v, want ErrCircuitOpen", err)
	}
	if got := c.BreakerState(); got != "open" {
		t.Errorf("BreakerState() = %q, want open", got)
	}
}

func TestUpstreamClient_BreakerIgnoresStatusCodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Breaker = config.BreakerConfig{Enabled: true, FailureThreshold: 1, OpenSeconds: 60}
	c := NewUpstreamClient(cfg, discardLogger(), nil)

	for range 3 {
		resp, err := c.DoStream(context.Background(), http.MethodGet, srv.URL, http.Header{}, nil, 0)
		if err != nil {
			t.Fatalf("DoStream() error = %v; 5xx responses must not trip the breaker", err)
		}
		_ = resp.Body.Close()
	}
	if got := c.BreakerState(); got != "closed" {
		t.Errorf("BreakerState() = %q, want closed", got)
	}
}

func TestUpstreamClient_BreakerDisabled(t *testing.T) {
	c := NewUpstreamClient(testConfig(), discardLogger(), nil)
	if got := c.BreakerState(); got != "disabled" {
		t.Errorf("BreakerState() = %q, want disabled", got)
	}
}

func TestUpstreamClient_RecordsMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	m := metrics.New()
	c := NewUpstreamClient(testConfig(), discardLogger(), m)

	resp, err := c.DoStream(context.Background(), http.MethodGet, srv.URL, http.Header{}, nil, 0)
	if err != nil {
		t.Fatalf("DoStream() error = %v", err)
	}
	_ = resp.Body.Close()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() != "api_gateway_upstream_responses_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == "status_code" && lp.GetValue() == "418" {
					return
				}
			}
		}
	}
	t.Error("expected api_gateway_upstream_responses_total with status_code=418")
}
