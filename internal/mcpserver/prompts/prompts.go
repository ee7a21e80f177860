package prompts

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"healthcare-mcp/internal/mcpserver/tools"
)

// RegisterAll registers all prompts with the MCP server.
func RegisterAll(server *mcp.Server, deps tools.Dependencies) {
	server.AddPrompt(&mcp.Prompt{Name: "/healthcare.usage_review", Title: "Usage review", Description: "Checklist with current-month usage summary"}, promptUsageReview(deps))
	server.AddPrompt(&mcp.Prompt{Name: "/healthcare.research_workflow", Title: "Medical research workflow", Description: "Step-by-step literature and trials search guidance"}, promptResearchWorkflow(deps))
	server.AddPrompt(&mcp.Prompt{Name: "/healthcare.device_safety_review", Title: "Device safety review", Description: "Investigate a medical device's safety record"}, promptDeviceSafetyReview(deps))
}

func promptUsageReview(deps tools.Dependencies) mcp.PromptHandler {
	return func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		var summaryText string
		var checklist strings.Builder
		checklist.WriteString("### 🩺 Usage Review\n")
		checklist.WriteString("- [ ] Run `get_usage_stats` for the current month\n")
		checklist.WriteString("- [ ] Compare per-tool call counts against expectations\n")
		checklist.WriteString("- [ ] Check `get_all_usage_stats` for cross-session totals\n")
		checklist.WriteString("- [ ] Review daily breakdown for unusual spikes\n\n")

		stats := deps.Ledger.UsageStats(ctx)
		if stats.Err == "" {
			checklist.WriteString(fmt.Sprintf("**Total API calls**: %d across %d sessions\n\n", stats.TotalAPICalls, stats.TotalUniqueSessions))
			if len(stats.ToolUsage) > 0 {
				checklist.WriteString("Calls by tool:\n")
				for tool, calls := range stats.ToolUsage {
					checklist.WriteString(fmt.Sprintf("- %s: %d\n", tool, calls))
				}
				checklist.WriteString("\n")
			}
			b, _ := json.MarshalIndent(stats, "", "  ")
			summaryText = fmt.Sprintf("```json\n%s\n```", string(b))
		} else {
			summaryText = fmt.Sprintf("⚠️ Unable to fetch usage stats: %s", stats.Err)
		}

		messages := []*mcp.PromptMessage{
			{Role: mcp.Role("system"), Content: &mcp.TextContent{Text: "You are a concise operations assistant for a healthcare data gateway. Provide checklists and actionable next steps."}},
			{Role: mcp.Role("assistant"), Content: &mcp.TextContent{Text: checklist.String() + summaryText}},
		}
		return &mcp.GetPromptResult{Description: "Usage review", Messages: messages}, nil
	}
}

func promptResearchWorkflow(deps tools.Dependencies) mcp.PromptHandler {
	return func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		var b strings.Builder
		b.WriteString("### 🔬 Medical Research Workflow\n")
		b.WriteString("1) Anchor terminology\n")
		b.WriteString("```json\n{")
		b.WriteString("\n  \"description\": \"<condition>\"")
		b.WriteString("\n}\n```\nRun: `lookup_icd_code`\n\n")
		b.WriteString("2) Search recent literature\n")
		b.WriteString("```json\n{\n  \"query\": \"<condition or intervention>\",\n  \"max_results\": 10,\n  \"date_range\": \"5\"\n}\n```\nRun: `pubmed_search`\n\n")
		b.WriteString("3) Find active trials\n")
		b.WriteString("```json\n{\n  \"condition\": \"<condition>\",\n  \"status\": \"recruiting\"\n}\n```\nRun: `clinical_trials_search`\n\n")
		b.WriteString("4) Gather consumer guidance\n")
		b.WriteString("```json\n{\n  \"topic\": \"<condition>\"\n}\n```\nRun: `health_topics`\n\n")
		b.WriteString("Notes:\n- Narrow `date_range` for fast-moving fields.\n- Follow `abstract_url` links for full abstracts; DOIs resolve via doi.org.\n")
		messages := []*mcp.PromptMessage{
			{Role: mcp.Role("system"), Content: &mcp.TextContent{Text: "You are a concise medical research assistant. Provide step-by-step guidance. Results are informational, not medical advice."}},
			{Role: mcp.Role("assistant"), Content: &mcp.TextContent{Text: b.String()}},
		}
		return &mcp.GetPromptResult{Description: "Medical research workflow", Messages: messages}, nil
	}
}

func promptDeviceSafetyReview(deps tools.Dependencies) mcp.PromptHandler {
	return func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		device := ""
		if req != nil && req.Params != nil && req.Params.Arguments != nil {
			device = strings.TrimSpace(req.Params.Arguments["device"])
		}

		if device == "" {
			msg := "### 🛡️ Device Safety Review\n- Provide `device` argument (e.g. pacemaker).\n- Example: get_prompt /healthcare.device_safety_review arguments:{\"device\":\"insulin pump\"}\n"
			messages := []*mcp.PromptMessage{
				{Role: mcp.Role("assistant"), Content: &mcp.TextContent{Text: msg}},
			}
			return &mcp.GetPromptResult{Description: "Provide device argument", Messages: messages}, nil
		}

		var b strings.Builder
		b.WriteString("### 🛡️ Device Safety Review\n")
		b.WriteString(fmt.Sprintf("**Target device**: %s\n\n", device))
		b.WriteString("1) Pull recent adverse events\n")
		b.WriteString(fmt.Sprintf("Run: `fda_device_lookup` with `{\"searchType\":\"adverse_events\",\"deviceName\":%q,\"dateRange\":90}`\n\n", device))
		b.WriteString("2) Check open recalls\n")
		b.WriteString(fmt.Sprintf("Run: `fda_device_lookup` with `{\"searchType\":\"recalls\",\"deviceName\":%q}`\n\n", device))
		b.WriteString("3) If events look elevated, consider:\n")
		b.WriteString(fmt.Sprintf("- `fda_device_lookup` with `{\"searchType\":\"safety_signals\",\"deviceName\":%q,\"dateRange\":180}` for trend analysis\n", device))
		b.WriteString("- `pubmed_search` to cross-check findings against the literature\n\n")
		b.WriteString("Notes:\n- Results flagged `demo_mode: true` are placeholders served while openFDA is unreachable; do not cite them.\n")

		messages := []*mcp.PromptMessage{
			{Role: mcp.Role("system"), Content: &mcp.TextContent{Text: "You are a concise medical device safety assistant. Suggest next tools to run."}},
			{Role: mcp.Role("assistant"), Content: &mcp.TextContent{Text: b.String()}},
		}
		return &mcp.GetPromptResult{Description: "Device safety review", Messages: messages}, nil
	}
}
