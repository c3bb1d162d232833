package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"vidvault/internal/api"
	"vidvault/internal/observability/metrics"
	"vidvault/internal/storage"
)

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	store, err := storage.NewStorage(t.TempDir() + "/data.json")
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}
	handler := api.NewHandler(api.HandlerConfig{
		Store:      store,
		Metrics:    metrics.NewRecorder(),
		StagingDir: t.TempDir(),
		MediaDir:   t.TempDir(),
	})
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewRecorder()
	}
	srv, err := New(handler, cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv
}

func TestServerRoutesHealthz(t *testing.T) {
	srv := newTestServer(t, Config{Addr: "127.0.0.1:0"})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode health payload: %v", err)
	}
	if payload.Status != "ok" {
		t.Fatalf("expected ok status, got %q", payload.Status)
	}
}

func TestServerSetsRequestIDAndSecurityHeaders(t *testing.T) {
	srv := newTestServer(t, Config{Addr: "127.0.0.1:0"})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected a generated request id header")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("expected nosniff header, got %q", rec.Header().Get("X-Content-Type-Options"))
	}
	if rec.Header().Get("Content-Security-Policy") == "" {
		t.Fatal("expected a content security policy header")
	}
}

func TestServerPreservesClientRequestID(t *testing.T) {
	srv := newTestServer(t, Config{Addr: "127.0.0.1:0"})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "client-supplied")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-Id"); got != "client-supplied" {
		t.Fatalf("expected client request id to round-trip, got %q", got)
	}
}

func TestServerGlobalRateLimit(t *testing.T) {
	srv := newTestServer(t, Config{
		Addr:      "127.0.0.1:0",
		RateLimit: RateLimitConfig{GlobalRPS: 0.001, GlobalBurst: 1},
	})

	first := httptest.NewRecorder()
	srv.Handler().ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("first request should pass, got %d", first.Code)
	}

	second := httptest.NewRecorder()
	srv.Handler().ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request should be limited, got %d", second.Code)
	}
}

func TestServerUploadRateLimitPerIP(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{UploadLimit: 1, UploadWindow: time.Minute})

	allowed, _, err := rl.AllowUpload(context.Background(), "10.0.0.1")
	if err != nil || !allowed {
		t.Fatalf("first upload should pass: allowed=%v err=%v", allowed, err)
	}
	allowed, retryAfter, err := rl.AllowUpload(context.Background(), "10.0.0.1")
	if err != nil {
		t.Fatalf("limiter error: %v", err)
	}
	if allowed {
		t.Fatal("second upload from the same IP should be limited")
	}
	if retryAfter <= 0 {
		t.Fatalf("expected a retry hint, got %v", retryAfter)
	}

	allowed, _, err = rl.AllowUpload(context.Background(), "10.0.0.2")
	if err != nil || !allowed {
		t.Fatalf("different IP should pass: allowed=%v err=%v", allowed, err)
	}
}

func TestServerUnknownStreamPathIs404(t *testing.T) {
	srv := newTestServer(t, Config{Addr: "127.0.0.1:0"})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream/missing-video", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown video, got %d", rec.Code)
	}
}

func TestServerMetricsEndpoint(t *testing.T) {
	recorder := metrics.NewRecorder()
	srv := newTestServer(t, Config{Addr: "127.0.0.1:0", Metrics: recorder})

	warmup := httptest.NewRecorder()
	srv.Handler().ServeHTTP(warmup, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from metrics endpoint, got %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("expected exposition output")
	}
}

func TestExtractClientIPPrefersForwardedHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "192.0.2.10:4242"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := extractClientIP(req); got != "203.0.113.7" {
		t.Fatalf("expected forwarded address, got %q", got)
	}

	req.Header.Del("X-Forwarded-For")
	if got := extractClientIP(req); got != "192.0.2.10" {
		t.Fatalf("expected remote address host, got %q", got)
	}
}
