package tools

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"healthcare-mcp/internal/cache"
	"healthcare-mcp/internal/config"
	"healthcare-mcp/internal/upstream"
	"healthcare-mcp/internal/usage"
)

type Dependencies struct {
	Cache     *cache.Store
	Ledger    *usage.Ledger
	HTTP      *upstream.Client
	Logger    *zap.Logger
	Config    config.Config
	SessionID string
}

// Adapter is the transport-neutral face of a tool. The MCP server calls
// the typed handlers directly; the HTTP facade dispatches by name over
// this interface.
type Adapter interface {
	Name() string
	Description() string
	Invoke(ctx context.Context, args map[string]any) (any, error)
}

// withDefaults fills optional dependencies so adapters can be
// constructed directly without nil checks on every log call.
func (d Dependencies) withDefaults() Dependencies {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return d
}

// NewAdapters builds every tool adapter against the shared dependencies.
func NewAdapters(deps Dependencies) []Adapter {
	return []Adapter{
		NewFDADeviceLookup(deps),
		NewPubMedSearch(deps),
		NewClinicalTrialsSearch(deps),
		NewICDLookup(deps),
		NewHealthTopics(deps),
		NewUsageStats(deps),
		NewAllUsageStats(deps),
	}
}

// Register adds every tool to the MCP server with typed inputs and
// outputs, and returns the adapters for reuse by the HTTP facade.
func Register(server *mcp.Server, deps Dependencies) []Adapter {
	fda := NewFDADeviceLookup(deps)
	pubmed := NewPubMedSearch(deps)
	trials := NewClinicalTrialsSearch(deps)
	icd := NewICDLookup(deps)
	topics := NewHealthTopics(deps)
	stats := NewUsageStats(deps)
	allStats := NewAllUsageStats(deps)

	mcp.AddTool(server, &mcp.Tool{Name: fda.Name(), Description: fda.Description()}, func(ctx context.Context, req *mcp.CallToolRequest, input FDADeviceInput) (*mcp.CallToolResult, FDADeviceOutput, error) {
		return nil, fda.Lookup(ctx, input), nil
	})

	mcp.AddTool(server, &mcp.Tool{Name: pubmed.Name(), Description: pubmed.Description()}, func(ctx context.Context, req *mcp.CallToolRequest, input PubMedInput) (*mcp.CallToolResult, PubMedOutput, error) {
		return nil, pubmed.Search(ctx, input), nil
	})

	mcp.AddTool(server, &mcp.Tool{Name: trials.Name(), Description: trials.Description()}, func(ctx context.Context, req *mcp.CallToolRequest, input ClinicalTrialsInput) (*mcp.CallToolResult, ClinicalTrialsOutput, error) {
		return nil, trials.Search(ctx, input), nil
	})

	mcp.AddTool(server, &mcp.Tool{Name: icd.Name(), Description: icd.Description()}, func(ctx context.Context, req *mcp.CallToolRequest, input ICDLookupInput) (*mcp.CallToolResult, ICDLookupOutput, error) {
		return nil, icd.Lookup(ctx, input), nil
	})

	mcp.AddTool(server, &mcp.Tool{Name: topics.Name(), Description: topics.Description()}, func(ctx context.Context, req *mcp.CallToolRequest, input HealthTopicsInput) (*mcp.CallToolResult, HealthTopicsOutput, error) {
		return nil, topics.Get(ctx, input), nil
	})

	mcp.AddTool(server, &mcp.Tool{Name: stats.Name(), Description: stats.Description()}, func(ctx context.Context, req *mcp.CallToolRequest, input UsageStatsInput) (*mcp.CallToolResult, UsageStatsOutput, error) {
		return nil, stats.Get(ctx, input), nil
	})

	mcp.AddTool(server, &mcp.Tool{Name: allStats.Name(), Description: allStats.Description()}, func(ctx context.Context, req *mcp.CallToolRequest, input AllUsageStatsInput) (*mcp.CallToolResult, AllUsageStatsOutput, error) {
		return nil, allStats.Get(ctx), nil
	})

	return []Adapter{fda, pubmed, trials, icd, topics, stats, allStats}
}

// recordUsage appends a ledger row without blocking the response. The
// ledger swallows its own failures, so there is nothing to check here.
func (d Dependencies) recordUsage(tool string) {
	if d.Ledger == nil {
		return
	}
	go d.Ledger.Record(context.Background(), d.SessionID, tool, 1)
}

// decodeArgs maps loosely-typed facade arguments onto a typed input.
func decodeArgs(args map[string]any, dest any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

func clampMax(n, def int) int {
	if n < 1 {
		return def
	}
	if n > 100 {
		return 100
	}
	return n
}
