package usage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"healthcare-mcp/internal/storage"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	registry := storage.NewRegistry(nil)
	l := New(registry, filepath.Join(t.TempDir(), "usage.db"), nil)
	require.NoError(t, l.Init(context.Background()))
	t.Cleanup(func() { require.NoError(t, l.Close()) })
	return l
}

func TestRecordRejectsEmptyIdentifiers(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	require.False(t, l.Record(ctx, "", "toolA", 1))
	require.False(t, l.Record(ctx, "s1", "", 1))

	stats := l.UsageStats(ctx)
	require.Equal(t, 0, stats.TotalAPICalls, "rejected records must not write rows")
}

func TestMonthlyUsageAggregation(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	require.True(t, l.Record(ctx, "s1", "toolA", 1))
	require.True(t, l.Record(ctx, "s1", "toolB", 2))
	require.True(t, l.Record(ctx, "s1", "toolA", 3))

	now := time.Now().UTC()
	got := l.MonthlyUsage(ctx, "s1", int(now.Month()), now.Year())

	require.Empty(t, got.Err)
	require.Equal(t, 6, got.TotalAPICalls)
	require.Equal(t, map[string]int{"toolA": 4, "toolB": 2}, got.ToolUsage)
	require.Equal(t, map[string]int{now.Format("2006-01-02"): 6}, got.DailyUsage)
}

func TestMonthlyUsageScopedToSessionAndWindow(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	require.True(t, l.Record(ctx, "s1", "toolA", 5))
	require.True(t, l.Record(ctx, "s2", "toolA", 7))

	now := time.Now().UTC()
	got := l.MonthlyUsage(ctx, "s1", int(now.Month()), now.Year())
	require.Equal(t, 5, got.TotalAPICalls, "other sessions must not leak in")

	// An empty month a year back.
	past := now.AddDate(-1, 0, 0)
	empty := l.MonthlyUsage(ctx, "s1", int(past.Month()), past.Year())
	require.Equal(t, 0, empty.TotalAPICalls)
	require.Empty(t, empty.ToolUsage)
}

func TestMonthlyUsageClampsOutOfRangeDate(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	require.True(t, l.Record(ctx, "s1", "toolA", 2))

	now := time.Now().UTC()
	got := l.MonthlyUsage(ctx, "s1", 13, 1999)
	require.Equal(t, int(now.Month()), got.Month)
	require.Equal(t, now.Year(), got.Year)
	require.Equal(t, 2, got.TotalAPICalls)
}

func TestUsageStats(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	require.True(t, l.Record(ctx, "s1", "toolA", 1))
	require.True(t, l.Record(ctx, "s2", "toolA", 2))
	require.True(t, l.Record(ctx, "s2", "toolB", 4))

	got := l.UsageStats(ctx)
	require.Empty(t, got.Err)
	require.Equal(t, 7, got.TotalAPICalls)
	require.Equal(t, 2, got.TotalUniqueSessions)
	require.Equal(t, map[string]int{"toolA": 3, "toolB": 4}, got.ToolUsage)

	month := time.Now().UTC().Format("2006-01")
	require.Equal(t, map[string]int{month: 7}, got.MonthlyUsage)
}

func TestCleanupOldDataRetentionFloor(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	require.True(t, l.Record(ctx, "s1", "toolA", 1))
	require.True(t, l.Record(ctx, "s1", "toolA", 1))

	// Age one row past the 30-day floor, the other just inside it.
	old := nowEpoch() - 40*86400
	recent := nowEpoch() - 10*86400
	_, err := l.db.ExecContext(ctx,
		"UPDATE usage SET timestamp = ? WHERE id = (SELECT MIN(id) FROM usage)", old)
	require.NoError(t, err)
	_, err = l.db.ExecContext(ctx,
		"UPDATE usage SET timestamp = ? WHERE id = (SELECT MAX(id) FROM usage)", recent)
	require.NoError(t, err)

	// days=1 clamps to 30: the 10-day-old row must survive.
	require.Equal(t, 1, l.CleanupOldData(ctx, 1))

	stats := l.UsageStats(ctx)
	require.Equal(t, 1, stats.TotalAPICalls)
}
