package resources

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"healthcare-mcp/internal/mcpserver/tools"
)

// RegisterAll registers resources with the MCP server. Currently a no-op placeholder.
func RegisterAll(server *mcp.Server, deps tools.Dependencies) {
	// no resources yet
}
