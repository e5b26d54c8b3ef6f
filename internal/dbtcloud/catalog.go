package dbtcloud

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"

	"github.com/dohr-michael/dbtpilot/internal/skills"
	"github.com/dohr-michael/dbtpilot/internal/toolexec"
)

// Catalog gathers every dbt tool the assistants can be given.
type Catalog struct {
	Client *Client
	Hub    *Hub
	// Docs is the web search backend; nil leaves dbt_docs_search_tool out.
	Docs tool.InvokableTool
}

// Tools returns the full tool set.
func (c Catalog) Tools(ctx context.Context) (toolexec.ToolSet, error) {
	var all []tool.InvokableTool
	add := func(fts []*toolexec.FuncTool) {
		for _, ft := range fts {
			all = append(all, ft)
		}
	}
	if c.Client != nil {
		add(AdminTools(c.Client))
		add(DiscoveryTools(c.Client))
		add(SemanticTools(c.Client))
	}
	if c.Hub != nil {
		add([]*toolexec.FuncTool{HubTool(c.Hub)})
	}
	if c.Docs != nil {
		add([]*toolexec.FuncTool{DocsTool(c.Docs)})
	}
	return toolexec.NewToolSet(ctx, all...)
}

// SkillToolSets binds each skill, router included, to the tools it names.
// Dangerous tools are guarded by perms. A skill naming a tool missing from
// all is an error.
func SkillToolSets(all toolexec.ToolSet, reg *skills.Registry, perms *toolexec.Permissions) (map[string]toolexec.ToolSet, error) {
	out := make(map[string]toolexec.ToolSet)
	bind := func(s *skills.Skill) error {
		set, missing := all.Subset(s.Tools)
		if len(missing) > 0 {
			return fmt.Errorf("skill %s: unknown tools %s", s.Name, strings.Join(missing, ", "))
		}
		out[s.Name] = toolexec.GuardAll(set, perms)
		return nil
	}

	if err := bind(reg.Router()); err != nil {
		return nil, err
	}
	for _, s := range reg.All() {
		if err := bind(s); err != nil {
			return nil, err
		}
	}
	return out, nil
}
