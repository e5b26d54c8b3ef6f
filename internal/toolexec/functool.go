package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// Args are decoded, validated tool arguments.
type Args map[string]any

// String returns a string argument or "".
func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return s
}

// Int returns an integer argument.
func (a Args) Int(name string) (int64, bool) {
	f, ok := a[name].(float64)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

// Bool returns a boolean argument.
func (a Args) Bool(name string) (bool, bool) {
	b, ok := a[name].(bool)
	return b, ok
}

// Strings returns a string array argument; non-string items are skipped.
func (a Args) Strings(name string) []string {
	items, _ := a[name].([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Handler implements a FuncTool.
type Handler func(ctx context.Context, args Args) (any, error)

// FuncTool adapts a spec and a handler to Eino's tool.InvokableTool.
type FuncTool struct {
	spec    ToolSpec
	handler Handler
}

// NewFuncTool creates a tool from a spec and its handler.
func NewFuncTool(spec ToolSpec, handler Handler) *FuncTool {
	return &FuncTool{spec: spec, handler: handler}
}

// Spec returns the tool declaration.
func (t *FuncTool) Spec() ToolSpec { return t.spec }

// Info returns the tool info for Eino registration.
func (t *FuncTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return t.spec.Info(), nil
}

// InvokableRun decodes and validates the arguments, calls the handler and
// renders its result: strings verbatim, anything else as JSON.
func (t *FuncTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	args := Args{}
	if raw := strings.TrimSpace(argumentsInJSON); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return "", fmt.Errorf("%s: invalid arguments: %w", t.spec.Name, err)
		}
	}
	if err := t.spec.Validate(args); err != nil {
		return "", fmt.Errorf("%s: %w", t.spec.Name, err)
	}

	result, err := t.handler(ctx, args)
	if err != nil {
		return "", err
	}
	return render(result)
}

func render(v any) (string, error) {
	switch r := v.(type) {
	case nil:
		return "", nil
	case string:
		return r, nil
	case []byte:
		return string(r), nil
	case json.RawMessage:
		return string(r), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(data), nil
}

var _ tool.InvokableTool = (*FuncTool)(nil)
