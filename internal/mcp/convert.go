// Package mcp exposes the dbt tools of dbtpilot over the Model Context Protocol.
package mcp

import (
	"sort"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dohr-michael/dbtpilot/internal/toolexec"
)

// toolSpecToMCPTool converts a toolexec.ToolSpec to an mcp.Tool with JSON Schema.
func toolSpecToMCPTool(spec toolexec.ToolSpec) *mcpsdk.Tool {
	props := make(map[string]any, len(spec.Parameters))
	var required []string

	for name, p := range spec.Parameters {
		props[name] = paramSchema(p)
		if p.Required {
			required = append(required, name)
		}
	}
	sort.Strings(required)

	inputSchema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		inputSchema["required"] = required
	}

	desc := spec.Description
	if spec.Dangerous {
		desc += " This tool changes dbt Cloud state."
	}
	return &mcpsdk.Tool{
		Name:        spec.Name,
		Description: desc,
		InputSchema: inputSchema,
	}
}

func paramSchema(p toolexec.ParamSpec) map[string]any {
	prop := map[string]any{"type": p.Type}
	if p.Description != "" {
		prop["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		prop["enum"] = p.Enum
	}
	if p.Items != nil {
		prop["items"] = paramSchema(*p.Items)
	}
	if len(p.Properties) > 0 {
		nested := make(map[string]any, len(p.Properties))
		for name, sub := range p.Properties {
			nested[name] = paramSchema(sub)
		}
		prop["properties"] = nested
	}
	return prop
}
