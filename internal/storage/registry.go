// healthcare-mcp: MCP server for healthcare data lookup
// SPDX-License-Identifier: MIT
//
// Per-path SQLite connection registry shared by the cache and usage stores.

package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Registry hands out one long-lived database handle per backing file path.
// Creation is double-checked under a per-path mutex so concurrent first
// access never opens duplicate handles; handles for different paths never
// serialize against each other.
type Registry struct {
	logger *zap.Logger

	mu    sync.RWMutex
	conns map[string]*sql.DB
	locks map[string]*sync.Mutex
}

func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger: logger,
		conns:  make(map[string]*sql.DB),
		locks:  make(map[string]*sync.Mutex),
	}
}

// Acquire returns the pooled handle for path, opening it on first use.
func (r *Registry) Acquire(path string) (*sql.DB, error) {
	if path == "" {
		return nil, errors.New("storage: path is required")
	}

	r.mu.RLock()
	db, ok := r.conns[path]
	r.mu.RUnlock()
	if ok {
		return db, nil
	}

	lock := r.pathLock(path)
	lock.Lock()
	defer lock.Unlock()

	// Re-check under the path lock: another caller may have won the race.
	r.mu.RLock()
	db, ok = r.conns[path]
	r.mu.RUnlock()
	if ok {
		return db, nil
	}

	db, err := r.open(path)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.conns[path] = db
	r.mu.Unlock()
	return db, nil
}

func (r *Registry) open(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("storage: create directory for %s: %w", path, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}

	// Single shared connection per file; database/sql serializes access so
	// concurrent writers never see SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA foreign_keys=ON;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			if closeErr := db.Close(); closeErr != nil {
				return nil, fmt.Errorf("storage: apply %q on %s: %w (close error: %w)", pragma, path, err, closeErr)
			}
			return nil, fmt.Errorf("storage: apply %q on %s: %w", pragma, path, err)
		}
	}

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("storage: ping %s: %w (close error: %w)", path, err, closeErr)
		}
		return nil, fmt.Errorf("storage: ping %s: %w", path, err)
	}

	r.logger.Debug("opened database connection", zap.String("path", path))
	return db, nil
}

// Release closes and evicts the pooled handle for path. Safe to call when
// no handle is pooled.
func (r *Registry) Release(path string) error {
	lock := r.pathLock(path)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	db, ok := r.conns[path]
	if ok {
		delete(r.conns, path)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}
	if err := db.Close(); err != nil {
		return fmt.Errorf("storage: close %s: %w", path, err)
	}
	r.logger.Debug("closed database connection", zap.String("path", path))
	return nil
}

// ReleaseAll closes every pooled handle. Called once at shutdown; idempotent.
func (r *Registry) ReleaseAll() error {
	r.mu.RLock()
	paths := make([]string, 0, len(r.conns))
	for p := range r.conns {
		paths = append(paths, p)
	}
	r.mu.RUnlock()

	var errs []error
	for _, p := range paths {
		if err := r.Release(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) pathLock(path string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[path]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[path] = lock
	}
	return lock
}
