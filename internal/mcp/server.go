package mcp

import (
	"context"
	"log/slog"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dohr-michael/dbtpilot/internal/skills"
	"github.com/dohr-michael/dbtpilot/internal/toolexec"
)

// Version is reported to MCP clients.
const Version = "0.1.0"

// NewMCPServer creates an MCP server exposing the tools of set. If filter is
// non-empty, only tools matching it (by tool name or skill name) are exposed.
// Only tools declared with a ToolSpec can be described and are exposed.
func NewMCPServer(set toolexec.ToolSet, reg *skills.Registry, filter string) *mcpsdk.Server {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    "dbtpilot",
		Version: Version,
	}, nil)

	for _, name := range set.Names() {
		if filter != "" && !matchesFilter(reg, name, filter) {
			continue
		}
		ft, ok := set[name].(*toolexec.FuncTool)
		if !ok {
			slog.Debug("mcp tool skipped: no spec", "tool", name)
			continue
		}

		invokable := ft
		toolName := name
		server.AddTool(toolSpecToMCPTool(ft.Spec()), func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			args := string(req.Params.Arguments)
			if args == "" || args == "null" {
				args = "{}"
			}
			result, err := invokable.InvokableRun(ctx, args)
			if err != nil {
				slog.Debug("mcp tool error", "tool", toolName, "error", err)
				return &mcpsdk.CallToolResult{
					IsError: true,
					Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
				}, nil
			}
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: result}},
			}, nil
		})

		slog.Debug("mcp tool registered", "tool", name)
	}

	return server
}

// matchesFilter checks if a tool name matches the filter. The filter can be
// a tool name or a skill name (exposing every tool of that skill).
func matchesFilter(reg *skills.Registry, toolName, filter string) bool {
	if toolName == filter {
		return true
	}
	if reg == nil {
		return false
	}
	s, ok := reg.Get(filter)
	if !ok {
		if filter != reg.Router().Name {
			return false
		}
		s = reg.Router()
	}
	for _, t := range s.Tools {
		if t == toolName {
			return true
		}
	}
	return false
}
