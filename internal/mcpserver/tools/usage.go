package tools

import (
	"context"
	"time"

	"healthcare-mcp/internal/usage"
)

type UsageStatsInput struct {
	Month int `json:"month,omitempty" jsonschema:"calendar month 1-12, defaults to current"`
	Year  int `json:"year,omitempty" jsonschema:"four-digit year, defaults to current"`
}

type UsageStatsOutput struct {
	Status string             `json:"status"`
	Usage  usage.MonthlyUsage `json:"usage"`
}

// UsageStats reports this connection's own recorded tool usage for a
// calendar month.
type UsageStats struct {
	deps Dependencies
}

func NewUsageStats(deps Dependencies) *UsageStats { return &UsageStats{deps: deps.withDefaults()} }

func (t *UsageStats) Name() string { return "get_usage_stats" }

func (t *UsageStats) Description() string {
	return "Get anonymized usage statistics for the current session"
}

func (t *UsageStats) Invoke(ctx context.Context, args map[string]any) (any, error) {
	var input UsageStatsInput
	if err := decodeArgs(args, &input); err != nil {
		return nil, err
	}
	return t.Get(ctx, input), nil
}

func (t *UsageStats) Get(ctx context.Context, input UsageStatsInput) UsageStatsOutput {
	month, year := input.Month, input.Year
	if month == 0 && year == 0 {
		now := time.Now().UTC()
		month, year = int(now.Month()), now.Year()
	}
	result := t.deps.Ledger.MonthlyUsage(ctx, t.deps.SessionID, month, year)
	status := "success"
	if result.Err != "" {
		status = "error"
	}
	return UsageStatsOutput{Status: status, Usage: result}
}

type AllUsageStatsInput struct{}

type AllUsageStatsOutput struct {
	Status string             `json:"status"`
	Usage  usage.OverallStats `json:"usage"`
}

// AllUsageStats reports aggregate usage across every recorded session.
type AllUsageStats struct {
	deps Dependencies
}

func NewAllUsageStats(deps Dependencies) *AllUsageStats {
	return &AllUsageStats{deps: deps.withDefaults()}
}

func (t *AllUsageStats) Name() string { return "get_all_usage_stats" }

func (t *AllUsageStats) Description() string {
	return "Get anonymized usage statistics across all sessions"
}

func (t *AllUsageStats) Invoke(ctx context.Context, args map[string]any) (any, error) {
	return t.Get(ctx), nil
}

func (t *AllUsageStats) Get(ctx context.Context) AllUsageStatsOutput {
	result := t.deps.Ledger.UsageStats(ctx)
	status := "success"
	if result.Err != "" {
		status = "error"
	}
	return AllUsageStatsOutput{Status: status, Usage: result}
}
