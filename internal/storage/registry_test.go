package storage

import (
	"path/filepath"
	"sync"
	"testing"
)

func TestAcquireReturnsSameHandle(t *testing.T) {
	r := NewRegistry(nil)
	defer r.ReleaseAll()

	path := filepath.Join(t.TempDir(), "test.db")
	db1, err := r.Acquire(path)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	db2, err := r.Acquire(path)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if db1 != db2 {
		t.Fatalf("expected the same handle for the same path")
	}
}

func TestAcquireConcurrentSingleHandle(t *testing.T) {
	r := NewRegistry(nil)
	defer r.ReleaseAll()

	path := filepath.Join(t.TempDir(), "concurrent.db")
	const workers = 16

	var wg sync.WaitGroup
	handles := make([]any, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			db, err := r.Acquire(path)
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			handles[i] = db
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if handles[i] != handles[0] {
			t.Fatalf("worker %d got a different handle", i)
		}
	}
}

func TestDifferentPathsDifferentHandles(t *testing.T) {
	r := NewRegistry(nil)
	defer r.ReleaseAll()

	dir := t.TempDir()
	db1, err := r.Acquire(filepath.Join(dir, "a.db"))
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	db2, err := r.Acquire(filepath.Join(dir, "b.db"))
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if db1 == db2 {
		t.Fatalf("expected distinct handles for distinct paths")
	}
}

func TestReleaseIdempotent(t *testing.T) {
	r := NewRegistry(nil)

	path := filepath.Join(t.TempDir(), "release.db")
	if _, err := r.Acquire(path); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := r.Release(path); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if err := r.Release(path); err != nil {
		t.Fatalf("second Release() error = %v", err)
	}
	if err := r.ReleaseAll(); err != nil {
		t.Fatalf("ReleaseAll() error = %v", err)
	}
}

func TestAcquireRejectsEmptyPath(t *testing.T) {
	r := NewRegistry(nil)
	if _, err := r.Acquire(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
