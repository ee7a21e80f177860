package cache

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"healthcare-mcp/internal/storage"
)

func newTestStore(t *testing.T, defaultTTL time.Duration) *Store {
	t.Helper()
	registry := storage.NewRegistry(nil)
	s := New(registry, filepath.Join(t.TempDir(), "cache.db"), defaultTTL, nil)
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return s
}

func TestRoundTrip(t *testing.T) {
	s := newTestStore(t, time.Hour)
	ctx := context.Background()

	values := map[string]any{
		"string": "hello",
		"number": 42.5,
		"bool":   true,
		"null":   nil,
		"nested": map[string]any{
			"list":  []any{"a", 2.0, false},
			"inner": map[string]any{"k": "v"},
		},
	}

	for name, want := range values {
		if ok := s.Set(ctx, name, want, 0); !ok {
			t.Fatalf("Set(%s) = false", name)
		}
		var got any
		if ok := s.Get(ctx, name, &got); !ok {
			t.Fatalf("Get(%s) = miss", name)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("Get(%s) = %#v, want %#v", name, got, want)
		}
	}
}

func TestRoundTripStruct(t *testing.T) {
	type article struct {
		ID      string   `json:"id"`
		Title   string   `json:"title"`
		Authors []string `json:"authors"`
	}
	s := newTestStore(t, time.Hour)
	ctx := context.Background()

	want := article{ID: "12345", Title: "On caching", Authors: []string{"A", "B"}}
	if !s.Set(ctx, "article", want, 0) {
		t.Fatalf("Set() = false")
	}
	var got article
	if !s.Get(ctx, "article", &got) {
		t.Fatalf("Get() = miss")
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Get() = %#v, want %#v", got, want)
	}
}

func TestExpiration(t *testing.T) {
	s := newTestStore(t, time.Hour)
	ctx := context.Background()

	if !s.Set(ctx, "short", "v", time.Second) {
		t.Fatalf("Set() = false")
	}
	var got string
	if !s.Get(ctx, "short", &got) {
		t.Fatalf("expected hit before expiry")
	}

	time.Sleep(1500 * time.Millisecond)
	if s.Get(ctx, "short", &got) {
		t.Fatalf("expected miss after expiry")
	}
}

func TestSetOverwrites(t *testing.T) {
	s := newTestStore(t, time.Hour)
	ctx := context.Background()

	s.Set(ctx, "k", "first", 0)
	s.Set(ctx, "k", "second", 0)

	var got string
	if !s.Get(ctx, "k", &got) {
		t.Fatalf("Get() = miss")
	}
	if got != "second" {
		t.Fatalf("Get() = %q, want second", got)
	}

	st := s.Stats(ctx)
	if st.TotalEntries != 1 {
		t.Fatalf("expected 1 entry after overwrite, got %d", st.TotalEntries)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	s := newTestStore(t, time.Hour)
	ctx := context.Background()

	if s.Delete(ctx, "absent") {
		t.Fatalf("Delete(absent) = true")
	}

	s.Set(ctx, "present", "v", 0)
	if !s.Delete(ctx, "present") {
		t.Fatalf("Delete(present) = false")
	}
	var got string
	if s.Get(ctx, "present", &got) {
		t.Fatalf("expected miss after delete")
	}
	if s.Delete(ctx, "present") {
		t.Fatalf("second Delete(present) = true")
	}
}

func TestClearExpiredCount(t *testing.T) {
	s := newTestStore(t, time.Hour)
	ctx := context.Background()

	s.Set(ctx, "a", 1, time.Second)
	s.Set(ctx, "b", 2, time.Second)
	s.Set(ctx, "c", 3, 30*time.Second)

	time.Sleep(1500 * time.Millisecond)

	if n := s.ClearExpired(ctx); n != 2 {
		t.Fatalf("ClearExpired() = %d, want 2", n)
	}
	var got int
	if !s.Get(ctx, "c", &got) || got != 3 {
		t.Fatalf("expected long-lived entry to survive, got %d (hit=%v)", got, true)
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t, time.Hour)
	ctx := context.Background()

	s.Set(ctx, "live", "v", time.Hour)
	s.Set(ctx, "dead", "v", time.Second)
	time.Sleep(1500 * time.Millisecond)

	st := s.Stats(ctx)
	if st.Err != "" {
		t.Fatalf("Stats() error = %s", st.Err)
	}
	if st.TotalEntries != 2 || st.ExpiredEntries != 1 || st.ValidEntries != 1 {
		t.Fatalf("Stats() = %+v", st)
	}
	if st.AverageTTLSeconds <= 0 {
		t.Fatalf("expected positive average ttl, got %f", st.AverageTTLSeconds)
	}
}

func TestCorruptPayloadReadsAsMiss(t *testing.T) {
	s := newTestStore(t, time.Hour)
	ctx := context.Background()

	// Write a non-JSON payload directly, bypassing Set.
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO cache (key, data, expires_at, created_at) VALUES (?, ?, ?, ?)",
		"corrupt", "{not json", nowEpoch()+3600, nowEpoch())
	if err != nil {
		t.Fatalf("insert corrupt row: %v", err)
	}

	var got map[string]any
	if s.Get(ctx, "corrupt", &got) {
		t.Fatalf("expected corrupt payload to read as miss")
	}
}
