package logging

import "testing"

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	if _, err := NewLogger("shout"); err == nil {
		t.Fatalf("expected error for unknown log level")
	}
}

func TestNewLoggerDefaultsToInfo(t *testing.T) {
	l, err := NewLogger("")
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	if l == nil {
		t.Fatalf("expected logger")
	}
}
