package dbtcloud

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/tool/bingsearch"
	duckduckgo "github.com/cloudwego/eino-ext/components/tool/duckduckgo/v2"
	"github.com/cloudwego/eino-ext/components/tool/googlesearch"
	"github.com/cloudwego/eino/components/tool"

	"github.com/dohr-michael/dbtpilot/internal/config"
	"github.com/dohr-michael/dbtpilot/internal/toolexec"
)

// DocsDomains are the sites documentation answers are drawn from.
var DocsDomains = []string{"docs.getdbt.com", "getdbt.com", "discourse.getdbt.com", "blog.getdbt.com"}

const searchTimeout = 15 * time.Second

// NewSearchEngine builds the web search backend selected by cfg.
func NewSearchEngine(ctx context.Context, cfg config.SearchConfig) (tool.InvokableTool, error) {
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}

	switch strings.ToLower(cfg.Provider) {
	case "", "duckduckgo":
		return duckduckgo.NewTextSearchTool(ctx, &duckduckgo.Config{
			ToolName:   "web_search",
			ToolDesc:   "Search the web using DuckDuckGo.",
			MaxResults: maxResults,
			Timeout:    searchTimeout,
		})
	case "google":
		if cfg.GoogleAPIKey == "" || cfg.GoogleEngineID == "" {
			return nil, fmt.Errorf("google search needs search.google_api_key and search.google_engine_id")
		}
		return googlesearch.NewTool(ctx, &googlesearch.Config{
			APIKey:         cfg.GoogleAPIKey,
			SearchEngineID: cfg.GoogleEngineID,
			Num:            maxResults,
			ToolName:       "web_search",
			ToolDesc:       "Search the web using Google.",
		})
	case "bing":
		if cfg.BingAPIKey == "" {
			return nil, fmt.Errorf("bing search needs search.bing_api_key")
		}
		return bingsearch.NewTool(ctx, &bingsearch.Config{
			APIKey:     cfg.BingAPIKey,
			MaxResults: maxResults,
			Timeout:    searchTimeout,
			ToolName:   "web_search",
			ToolDesc:   "Search the web using Bing.",
		})
	default:
		return nil, fmt.Errorf("unknown search provider: %s", cfg.Provider)
	}
}

// siteQuery restricts a query to the documentation domains.
func siteQuery(query string) string {
	sites := make([]string, len(DocsDomains))
	for i, d := range DocsDomains {
		sites[i] = "site:" + d
	}
	return fmt.Sprintf("%s (%s)", strings.TrimSpace(query), strings.Join(sites, " OR "))
}

// DocsTool exposes engine as dbt_docs_search_tool, scoped to dbt's sites.
func DocsTool(engine tool.InvokableTool) *toolexec.FuncTool {
	return toolexec.NewFuncTool(toolexec.ToolSpec{
		Name: "dbt_docs_search_tool",
		Description: "Search dbt's documentation. Answers come from docs.getdbt.com, getdbt.com, " +
			"discourse.getdbt.com and blog.getdbt.com.",
		Parameters: map[string]toolexec.ParamSpec{
			"query": {Type: "string", Description: "The question or keywords to search for.", Required: true},
		},
	}, func(ctx context.Context, args toolexec.Args) (any, error) {
		in, err := json.Marshal(map[string]string{"query": siteQuery(args.String("query"))})
		if err != nil {
			return nil, err
		}
		out, err := engine.InvokableRun(ctx, string(in))
		if err != nil {
			return nil, fmt.Errorf("docs search: %w", err)
		}
		return out, nil
	})
}
