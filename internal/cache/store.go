// healthcare-mcp: MCP server for healthcare data lookup
// SPDX-License-Identifier: MIT
//
// SQLite-backed response cache with per-entry TTL.

package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"healthcare-mcp/internal/storage"
	"go.uber.org/zap"
)

const reapQueueSize = 64

// Store is a durable key-value cache with per-entry expiration. It is
// advisory: every storage fault is logged and surfaced as a miss or a
// false return, never as an error to the caller.
type Store struct {
	registry   *storage.Registry
	path       string
	defaultTTL time.Duration
	logger     *zap.Logger

	db       *sql.DB
	disabled bool

	reap chan string
	done chan struct{}
	wg   sync.WaitGroup
}

// Stats describes the current row population of the cache table.
type Stats struct {
	TotalEntries      int     `json:"total_entries"`
	ExpiredEntries    int     `json:"expired_entries"`
	ValidEntries      int     `json:"valid_entries"`
	AverageTTLSeconds float64 `json:"average_ttl_seconds"`
	Err               string  `json:"error,omitempty"`
}

func New(registry *storage.Registry, path string, defaultTTL time.Duration, logger *zap.Logger) *Store {
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		registry:   registry,
		path:       path,
		defaultTTL: defaultTTL,
		logger:     logger,
		reap:       make(chan string, reapQueueSize),
		done:       make(chan struct{}),
	}
}

// Init acquires the pooled connection, creates the schema, clears rows that
// expired while the process was down, and starts the reaper.
func (s *Store) Init(ctx context.Context) error {
	db, err := s.registry.Acquire(s.path)
	if err != nil {
		return err
	}
	s.db = db

	const schema = `
CREATE TABLE IF NOT EXISTS cache (
    key TEXT PRIMARY KEY,
    data TEXT NOT NULL,
    expires_at REAL NOT NULL,
    created_at REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_expires_at ON cache(expires_at);`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return err
	}

	deleted := s.ClearExpired(ctx)
	s.logger.Info("cache store initialized",
		zap.String("path", s.path),
		zap.Int("expired_cleared", deleted))

	s.wg.Add(1)
	go s.reaper()
	return nil
}

// Disable turns the store into a pass-through: every Get misses and
// every Set is dropped. Must be called before the store is shared.
func (s *Store) Disable() {
	s.disabled = true
}

// Get returns the live value for key decoded into dest. Missing rows,
// expired rows, corrupt payloads and storage faults all read as a miss.
// An expired row is queued for background deletion; the read never waits.
func (s *Store) Get(ctx context.Context, key string, dest any) bool {
	if s.disabled {
		return false
	}
	var data string
	var expiresAt float64
	err := s.db.QueryRowContext(ctx,
		"SELECT data, expires_at FROM cache WHERE key = ?", key).Scan(&data, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false
	}
	if err != nil {
		s.logger.Error("cache get failed", zap.String("key", key), zap.Error(err))
		return false
	}

	if expiresAt < nowEpoch() {
		select {
		case s.reap <- key:
		default: // queue full; the row will go in the next ClearExpired pass
		}
		return false
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		s.logger.Error("cache payload corrupt", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// Set stores value under key with the given TTL (the store default when
// ttl <= 0). Existing rows are replaced. Returns false on serialization
// or storage failure.
func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) bool {
	if s.disabled {
		return false
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	data, err := json.Marshal(value)
	if err != nil {
		s.logger.Error("cache serialize failed", zap.String("key", key), zap.Error(err))
		return false
	}

	createdAt := nowEpoch()
	expiresAt := createdAt + ttl.Seconds()
	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO cache (key, data, expires_at, created_at) VALUES (?, ?, ?, ?)",
		key, string(data), expiresAt, createdAt)
	if err != nil {
		s.logger.Error("cache set failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// Delete removes key and reports whether a row was present.
func (s *Store) Delete(ctx context.Context, key string) bool {
	res, err := s.db.ExecContext(ctx, "DELETE FROM cache WHERE key = ?", key)
	if err != nil {
		s.logger.Error("cache delete failed", zap.String("key", key), zap.Error(err))
		return false
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false
	}
	return n > 0
}

// ClearExpired bulk-deletes every expired row and returns the count.
func (s *Store) ClearExpired(ctx context.Context) int {
	res, err := s.db.ExecContext(ctx, "DELETE FROM cache WHERE expires_at < ?", nowEpoch())
	if err != nil {
		s.logger.Error("cache clear expired failed", zap.Error(err))
		return 0
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	s.logger.Debug("cleared expired cache entries", zap.Int64("count", n))
	return int(n)
}

// Stats computes counts over the current row state, including rows that are
// logically expired but not yet swept.
func (s *Store) Stats(ctx context.Context) Stats {
	var st Stats
	now := nowEpoch()

	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cache").Scan(&st.TotalEntries)
	if err == nil {
		err = s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM cache WHERE expires_at < ?", now).Scan(&st.ExpiredEntries)
	}
	if err == nil {
		var avg sql.NullFloat64
		err = s.db.QueryRowContext(ctx,
			"SELECT AVG(expires_at - created_at) FROM cache").Scan(&avg)
		if avg.Valid {
			st.AverageTTLSeconds = avg.Float64
		}
	}
	if err != nil {
		s.logger.Error("cache stats failed", zap.Error(err))
		return Stats{Err: err.Error()}
	}
	st.ValidEntries = st.TotalEntries - st.ExpiredEntries
	return st
}

// Close stops the reaper and releases the pooled connection for this path.
func (s *Store) Close() error {
	close(s.done)
	s.wg.Wait()
	return s.registry.Release(s.path)
}

// reaper physically deletes rows whose expiry was observed on the read
// path. Deletions race harmlessly with Set on the same key.
func (s *Store) reaper() {
	defer s.wg.Done()
	for {
		select {
		case key := <-s.reap:
			if _, err := s.db.Exec(
				"DELETE FROM cache WHERE key = ? AND expires_at < ?", key, nowEpoch()); err != nil {
				s.logger.Error("cache reap failed", zap.String("key", key), zap.Error(err))
			}
		case <-s.done:
			return
		}
	}
}

func nowEpoch() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
