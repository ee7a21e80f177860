package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"healthcare-mcp/internal/cache"
	"healthcare-mcp/internal/config"
	"healthcare-mcp/internal/mcpserver/tools"
	"healthcare-mcp/internal/storage"
	"healthcare-mcp/internal/upstream"
	"healthcare-mcp/internal/usage"
)

func newTestServer(t *testing.T) (*Server, *usage.Ledger) {
	t.Helper()
	registry := storage.NewRegistry(nil)
	dir := t.TempDir()

	store := cache.New(registry, filepath.Join(dir, "cache.db"), time.Hour, nil)
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("cache init: %v", err)
	}
	ledger := usage.New(registry, filepath.Join(dir, "usage.db"), nil)
	if err := ledger.Init(context.Background()); err != nil {
		t.Fatalf("ledger init: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
		ledger.Close()
	})

	adapters := tools.NewAdapters(tools.Dependencies{
		Cache:     store,
		Ledger:    ledger,
		HTTP:      upstream.NewClient(time.Second, nil),
		Config:    config.Config{},
		SessionID: "server-session",
	})
	return New(nil, adapters, store, ledger, "server-session", 60), ledger
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body struct {
		Status   string            `json:"status"`
		Services map[string]string `json:"services"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Services["cache"] != "ok" || body.Services["usage"] != "ok" {
		t.Fatalf("body = %+v", body)
	}
}

func TestCallToolUnknownName(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/mcp/call-tool", "application/json",
		strings.NewReader(`{"name": "no_such_tool", "arguments": {}}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "error" || body["error_code"] != "TOOL_NOT_FOUND" {
		t.Fatalf("body = %+v", body)
	}
}

func TestCallToolDispatch(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	// Missing both code and description produces a well-formed tool error.
	resp, err := http.Post(ts.URL+"/mcp/call-tool", "application/json",
		strings.NewReader(`{"name": "lookup_icd_code", "arguments": {}}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "error" || body["error_message"] == "" {
		t.Fatalf("body = %+v", body)
	}
}

func TestUsageStatsSessionHeader(t *testing.T) {
	srv, ledger := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx := context.Background()
	ledger.Record(ctx, "caller-1", "pubmed_search", 3)
	ledger.Record(ctx, "caller-2", "pubmed_search", 9)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/usage_stats", nil)
	req.Header.Set("X-Session-ID", "caller-1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Status string             `json:"status"`
		Usage  usage.MonthlyUsage `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "success" || body.Usage.TotalAPICalls != 3 {
		t.Fatalf("body = %+v", body)
	}
	if body.Usage.SessionID != "caller-1" {
		t.Fatalf("session = %s", body.Usage.SessionID)
	}
}

func TestAllUsageStats(t *testing.T) {
	srv, ledger := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx := context.Background()
	ledger.Record(ctx, "caller-1", "toolA", 1)
	ledger.Record(ctx, "caller-2", "toolB", 2)

	resp, err := http.Get(ts.URL + "/api/all_usage_stats")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Status string             `json:"status"`
		Usage  usage.OverallStats `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Usage.TotalAPICalls != 3 || body.Usage.TotalUniqueSessions != 2 {
		t.Fatalf("body = %+v", body)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	handler := rateLimit(2, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
}

func TestRateLimitPerClient(t *testing.T) {
	handler := rateLimit(1, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	first := httptest.NewRequest(http.MethodGet, "/", nil)
	first.Header.Set("X-Forwarded-For", "10.0.0.1")
	second := httptest.NewRequest(http.MethodGet, "/", nil)
	second.Header.Set("X-Forwarded-For", "10.0.0.2")

	rec := httptest.NewRecorder()
	handler(rec, first)
	if rec.Code != http.StatusOK {
		t.Fatalf("first client status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler(rec, second)
	if rec.Code != http.StatusOK {
		t.Fatalf("second client should have its own bucket, got %d", rec.Code)
	}
}
