package errors

import (
	"fmt"
	"testing"
)

func TestToToolErrorWrapsUnknown(t *testing.T) {
	err := ToToolError(fmt.Errorf("boom: api_key=secret123"))
	if err.Code != CodeInternalError {
		t.Fatalf("expected internal error code, got %s", err.Code)
	}
	if err.Details["cause"] == "boom: api_key=secret123" {
		t.Fatalf("expected scrubbed cause, got %v", err.Details["cause"])
	}
}

func TestToToolErrorPassesThrough(t *testing.T) {
	orig := NewTimeout("upstream took too long")
	if got := ToToolError(orig); got != orig {
		t.Fatalf("expected same error back, got %v", got)
	}
}

func TestNewInvalidInput(t *testing.T) {
	e := NewInvalidInput("bad", "hint", map[string]any{"field": "x"})
	if e.Code != CodeInvalidInput {
		t.Fatalf("expected %s, got %s", CodeInvalidInput, e.Code)
	}
}

func TestNewUpstreamUnavailableScrubsCause(t *testing.T) {
	e := NewUpstreamUnavailable("openfda", fmt.Errorf("GET https://api.fda.gov/device/event.json?api_key=abc123&limit=10: 500"))
	if e.Details["cause"] == "" {
		t.Fatalf("expected cause detail")
	}
	if got := fmt.Sprint(e.Details["cause"]); got != "" && containsSecret(got) {
		t.Fatalf("cause not scrubbed: %s", got)
	}
}

func containsSecret(s string) bool {
	for i := 0; i+6 <= len(s); i++ {
		if s[i:i+6] == "abc123" {
			return true
		}
	}
	return false
}
