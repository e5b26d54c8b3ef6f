package mcp

import (
	"context"
	"encoding/json"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dohr-michael/dbtpilot/internal/skills"
	"github.com/dohr-michael/dbtpilot/internal/toolexec"
)

func TestToolSpecToMCPTool(t *testing.T) {
	spec := toolexec.ToolSpec{
		Name:        "list_runs",
		Description: "List job runs.",
		Parameters: map[string]toolexec.ParamSpec{
			"job_id": {Type: "integer", Description: "Job to filter on", Required: true},
			"status": {Type: "string", Description: "Run status", Required: true, Enum: []string{"success", "error"}},
			"limit":  {Type: "integer", Description: "Max runs"},
			"tags":   {Type: "array", Items: &toolexec.ParamSpec{Type: "string"}},
		},
	}

	mcpTool := toolSpecToMCPTool(spec)
	if mcpTool.Name != "list_runs" || mcpTool.Description != "List job runs." {
		t.Errorf("tool = %+v", mcpTool)
	}

	schemaBytes, err := json.Marshal(mcpTool.InputSchema)
	if err != nil {
		t.Fatalf("marshal InputSchema: %v", err)
	}
	var schema struct {
		Type       string                    `json:"type"`
		Properties map[string]map[string]any `json:"properties"`
		Required   []string                  `json:"required"`
	}
	if err := json.Unmarshal(schemaBytes, &schema); err != nil {
		t.Fatalf("unmarshal InputSchema: %v", err)
	}
	if schema.Type != "object" || len(schema.Properties) != 4 {
		t.Errorf("schema = %+v", schema)
	}
	if len(schema.Required) != 2 || schema.Required[0] != "job_id" || schema.Required[1] != "status" {
		t.Errorf("required = %v, want [job_id status]", schema.Required)
	}
	if enum, _ := schema.Properties["status"]["enum"].([]any); len(enum) != 2 {
		t.Errorf("status enum = %v", schema.Properties["status"]["enum"])
	}
	if items, _ := schema.Properties["tags"]["items"].(map[string]any); items["type"] != "string" {
		t.Errorf("tags items = %v", schema.Properties["tags"]["items"])
	}
}

func TestToolSpecToMCPTool_Dangerous(t *testing.T) {
	mcpTool := toolSpecToMCPTool(toolexec.ToolSpec{Name: "cancel_run", Description: "Cancel a run.", Dangerous: true})

	schemaBytes, _ := json.Marshal(mcpTool.InputSchema)
	var schema map[string]any
	if err := json.Unmarshal(schemaBytes, &schema); err != nil {
		t.Fatalf("unmarshal InputSchema: %v", err)
	}
	if _, ok := schema["required"]; ok {
		t.Error("schema should not have required field when no params are required")
	}
	if mcpTool.Description == "Cancel a run." {
		t.Error("dangerous tool description should carry a warning")
	}
}

func testSet(t *testing.T) toolexec.ToolSet {
	t.Helper()
	echo := func(name string) *toolexec.FuncTool {
		return toolexec.NewFuncTool(toolexec.ToolSpec{Name: name, Description: name}, func(context.Context, toolexec.Args) (any, error) {
			return name + " ok", nil
		})
	}
	set, err := toolexec.NewToolSet(context.Background(),
		echo("list_accounts"), echo("list_jobs"), echo("dbt_hub_package_search"))
	if err != nil {
		t.Fatalf("NewToolSet: %v", err)
	}
	return set
}

func TestMatchesFilter(t *testing.T) {
	reg, err := skills.NewBuiltinRegistry()
	if err != nil {
		t.Fatalf("NewBuiltinRegistry: %v", err)
	}

	if !matchesFilter(reg, "list_jobs", "list_jobs") {
		t.Error("direct tool name should match")
	}
	if !matchesFilter(reg, "list_jobs", skills.AdminAPI) {
		t.Error("admin skill should expose list_jobs")
	}
	if matchesFilter(reg, "list_jobs", skills.Packages) {
		t.Error("packages skill should not expose list_jobs")
	}
	if !matchesFilter(reg, "list_accounts", skills.RouterName) {
		t.Error("router filter should expose list_accounts")
	}
	if matchesFilter(nil, "list_jobs", "other") {
		t.Error("unknown filter should not match")
	}
}

func TestMCPServerCallsTools(t *testing.T) {
	reg, err := skills.NewBuiltinRegistry()
	if err != nil {
		t.Fatalf("NewBuiltinRegistry: %v", err)
	}
	server := NewMCPServer(testSet(t), reg, skills.Packages)

	ctx := context.Background()
	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()
	if _, err := server.Connect(ctx, serverTransport, nil); err != nil {
		t.Fatalf("server connect: %v", err)
	}
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test", Version: "0"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	defer cs.Close()

	list, err := cs.ListTools(ctx, nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(list.Tools) != 1 || list.Tools[0].Name != "dbt_hub_package_search" {
		t.Fatalf("tools = %v", list.Tools)
	}

	res, err := cs.CallTool(ctx, &mcpsdk.CallToolParams{Name: "dbt_hub_package_search", Arguments: map[string]any{}})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.IsError || len(res.Content) != 1 {
		t.Fatalf("result = %+v", res)
	}
	if text, ok := res.Content[0].(*mcpsdk.TextContent); !ok || text.Text != "dbt_hub_package_search ok" {
		t.Errorf("content = %+v", res.Content[0])
	}
}
