package toolexec

import (
	"context"
	"fmt"
	"sort"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// ToolSet indexes invocable tools by name.
type ToolSet map[string]tool.InvokableTool

// NewToolSet indexes tools by the name their Info reports.
func NewToolSet(ctx context.Context, tools ...tool.InvokableTool) (ToolSet, error) {
	set := make(ToolSet, len(tools))
	for _, t := range tools {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("tool info: %w", err)
		}
		if _, dup := set[info.Name]; dup {
			return nil, fmt.Errorf("tool %q registered twice", info.Name)
		}
		set[info.Name] = t
	}
	return set, nil
}

// Names returns the tool names sorted alphabetically.
func (s ToolSet) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether the set holds a tool with that name.
func (s ToolSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Infos returns the tool descriptions sorted by name.
func (s ToolSet) Infos(ctx context.Context) ([]*schema.ToolInfo, error) {
	infos := make([]*schema.ToolInfo, 0, len(s))
	for _, name := range s.Names() {
		info, err := s[name].Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("tool %s info: %w", name, err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Subset returns the tools named in names. Missing names are reported.
func (s ToolSet) Subset(names []string) (ToolSet, []string) {
	out := make(ToolSet, len(names))
	var missing []string
	for _, name := range names {
		t, ok := s[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		out[name] = t
	}
	return out, missing
}
