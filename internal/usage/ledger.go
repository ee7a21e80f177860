// healthcare-mcp: MCP server for healthcare data lookup
// SPDX-License-Identifier: MIT
//
// Append-only anonymous usage ledger with aggregate queries.

package usage

import (
	"context"
	"database/sql"
	"time"

	"healthcare-mcp/internal/storage"
	"go.uber.org/zap"
)

// Ledger records one row per tool invocation and answers aggregate
// queries over them. Rows are never updated; retention pruning is the
// only delete path.
type Ledger struct {
	registry *storage.Registry
	path     string
	logger   *zap.Logger

	db *sql.DB
}

// MonthlyUsage aggregates one session's calls over a calendar month.
// Day keys are YYYY-MM-DD in UTC.
type MonthlyUsage struct {
	SessionID     string         `json:"session_id"`
	Month         int            `json:"month"`
	Year          int            `json:"year"`
	TotalAPICalls int            `json:"total_api_calls"`
	ToolUsage     map[string]int `json:"tool_usage"`
	DailyUsage    map[string]int `json:"daily_usage"`
	Err           string         `json:"error,omitempty"`
}

// OverallStats aggregates across all sessions. Month keys are YYYY-MM
// in UTC, limited to the most recent twelve months on record.
type OverallStats struct {
	TotalAPICalls       int            `json:"total_api_calls"`
	TotalUniqueSessions int            `json:"total_unique_sessions"`
	ToolUsage           map[string]int `json:"tool_usage"`
	MonthlyUsage        map[string]int `json:"monthly_usage"`
	Err                 string         `json:"error,omitempty"`
}

func New(registry *storage.Registry, path string, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{registry: registry, path: path, logger: logger}
}

// Init acquires the pooled connection and creates the schema.
func (l *Ledger) Init(ctx context.Context) error {
	db, err := l.registry.Acquire(l.path)
	if err != nil {
		return err
	}
	l.db = db

	const schema = `
CREATE TABLE IF NOT EXISTS usage (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    tool TEXT NOT NULL,
    timestamp REAL NOT NULL,
    api_calls INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_usage_session_ts ON usage(session_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_usage_tool ON usage(tool);`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return err
	}

	l.logger.Info("usage ledger initialized", zap.String("path", l.path))
	return nil
}

// Record appends one event for sessionID and tool. Calls below 1 count
// as 1. Empty identifiers are rejected without a write. Repeat calls
// append fresh rows; aggregation happens at query time.
func (l *Ledger) Record(ctx context.Context, sessionID, tool string, calls int) bool {
	if sessionID == "" || tool == "" {
		return false
	}
	if calls < 1 {
		calls = 1
	}
	_, err := l.db.ExecContext(ctx,
		"INSERT INTO usage (session_id, tool, timestamp, api_calls) VALUES (?, ?, ?, ?)",
		sessionID, tool, nowEpoch(), calls)
	if err != nil {
		l.logger.Error("usage record failed",
			zap.String("tool", tool), zap.Error(err))
		return false
	}
	return true
}

// MonthlyUsage sums one session's calls over the given calendar month,
// by tool and by UTC day. Out-of-range month or year silently falls
// back to the current one. Storage faults yield a zeroed result with
// Err set rather than an error.
func (l *Ledger) MonthlyUsage(ctx context.Context, sessionID string, month, year int) MonthlyUsage {
	now := time.Now().UTC()
	if month < 1 || month > 12 {
		month = int(now.Month())
	}
	if year < 2000 || year > 2100 {
		year = now.Year()
	}

	out := MonthlyUsage{
		SessionID:  sessionID,
		Month:      month,
		Year:       year,
		ToolUsage:  map[string]int{},
		DailyUsage: map[string]int{},
	}

	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	startEpoch := float64(start.Unix())
	endEpoch := float64(end.Unix())

	err := l.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(api_calls), 0) FROM usage WHERE session_id = ? AND timestamp >= ? AND timestamp < ?",
		sessionID, startEpoch, endEpoch).Scan(&out.TotalAPICalls)
	if err == nil {
		err = l.sumGrouped(ctx, out.ToolUsage,
			"SELECT tool, SUM(api_calls) FROM usage WHERE session_id = ? AND timestamp >= ? AND timestamp < ? GROUP BY tool",
			sessionID, startEpoch, endEpoch)
	}
	if err == nil {
		err = l.sumGrouped(ctx, out.DailyUsage,
			"SELECT strftime('%Y-%m-%d', timestamp, 'unixepoch'), SUM(api_calls) FROM usage WHERE session_id = ? AND timestamp >= ? AND timestamp < ? GROUP BY 1",
			sessionID, startEpoch, endEpoch)
	}
	if err != nil {
		l.logger.Error("monthly usage query failed",
			zap.String("session_id", sessionID), zap.Error(err))
		return MonthlyUsage{
			SessionID: sessionID, Month: month, Year: year,
			ToolUsage: map[string]int{}, DailyUsage: map[string]int{},
			Err: err.Error(),
		}
	}
	return out
}

// UsageStats aggregates across all sessions. The monthly breakdown is
// capped at the twelve most recent months present in the ledger.
func (l *Ledger) UsageStats(ctx context.Context) OverallStats {
	out := OverallStats{
		ToolUsage:    map[string]int{},
		MonthlyUsage: map[string]int{},
	}

	err := l.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(api_calls), 0), COUNT(DISTINCT session_id) FROM usage").
		Scan(&out.TotalAPICalls, &out.TotalUniqueSessions)
	if err == nil {
		err = l.sumGrouped(ctx, out.ToolUsage,
			"SELECT tool, SUM(api_calls) FROM usage GROUP BY tool")
	}
	if err == nil {
		err = l.sumGrouped(ctx, out.MonthlyUsage,
			"SELECT strftime('%Y-%m', timestamp, 'unixepoch') AS month, SUM(api_calls) FROM usage GROUP BY month ORDER BY month DESC LIMIT 12")
	}
	if err != nil {
		l.logger.Error("usage stats query failed", zap.Error(err))
		return OverallStats{
			ToolUsage: map[string]int{}, MonthlyUsage: map[string]int{},
			Err: err.Error(),
		}
	}
	return out
}

// CleanupOldData deletes rows older than days. Days below 30 are
// clamped to 30 so a bad argument cannot mass-delete recent history.
func (l *Ledger) CleanupOldData(ctx context.Context, days int) int {
	if days < 30 {
		days = 30
	}
	cutoff := nowEpoch() - float64(days)*86400

	res, err := l.db.ExecContext(ctx, "DELETE FROM usage WHERE timestamp < ?", cutoff)
	if err != nil {
		l.logger.Error("usage cleanup failed", zap.Error(err))
		return 0
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	if n > 0 {
		l.logger.Info("pruned old usage rows",
			zap.Int64("deleted", n), zap.Int("retention_days", days))
	}
	return int(n)
}

// Close releases the pooled connection for this path.
func (l *Ledger) Close() error {
	return l.registry.Release(l.path)
}

func (l *Ledger) sumGrouped(ctx context.Context, dest map[string]int, query string, args ...any) error {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var sum int
		if err := rows.Scan(&key, &sum); err != nil {
			return err
		}
		dest[key] = sum
	}
	return rows.Err()
}

func nowEpoch() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
