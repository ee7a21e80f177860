package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	apperrors "healthcare-mcp/internal/errors"
)

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != userAgent {
			t.Errorf("User-Agent = %q", got)
		}
		if got := r.URL.Query().Get("search"); got != "pacemaker" {
			t.Errorf("search param = %q", got)
		}
		w.Write([]byte(`{"results": [{"device_name": "Pacemaker X"}]}`))
	}))
	defer srv.Close()

	c := NewClient(0, nil)
	var out struct {
		Results []map[string]any `json:"results"`
	}
	params := url.Values{"search": {"pacemaker"}}
	if err := c.GetJSON(context.Background(), srv.URL, params, &out); err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	if len(out.Results) != 1 || out.Results[0]["device_name"] != "Pacemaker X" {
		t.Fatalf("decoded %+v", out)
	}
}

func TestGetJSONUpstreamStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down for maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(0, nil)
	var out map[string]any
	err := c.GetJSON(context.Background(), srv.URL, nil, &out)
	var herr *apperrors.HealthMCPError
	if !errors.As(err, &herr) || herr.Code != apperrors.CodeUpstreamUnavailable {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestGetJSONMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	c := NewClient(0, nil)
	var out map[string]any
	var herr *apperrors.HealthMCPError
	if err := c.GetJSON(context.Background(), srv.URL, nil, &out); !errors.As(err, &herr) {
		t.Fatalf("expected typed error, got %v", err)
	}
}

func TestGetJSONContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	c := NewClient(0, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var out map[string]any
	err := c.GetJSON(ctx, srv.URL, nil, &out)
	var herr *apperrors.HealthMCPError
	if !errors.As(err, &herr) || herr.Code != apperrors.CodeTimeout {
		t.Fatalf("expected timeout error, got %v", err)
	}
}
