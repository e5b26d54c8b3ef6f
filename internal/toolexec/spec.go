package toolexec

import (
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/cloudwego/eino/schema"
)

// ToolSpec declares a tool's name, description and parameters.
type ToolSpec struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Parameters  map[string]ParamSpec `json:"parameters"`
	// Dangerous marks tools that mutate remote state.
	Dangerous bool `json:"dangerous"`
}

// ParamSpec describes a single tool parameter.
type ParamSpec struct {
	Type        string               `json:"type"` // "string", "number", "boolean", "integer", "array", "object"
	Description string               `json:"description"`
	Required    bool                 `json:"required"`
	Enum        []string             `json:"enum,omitempty"`
	Items       *ParamSpec           `json:"items,omitempty"`
	Properties  map[string]ParamSpec `json:"properties,omitempty"`
}

// Info converts the spec to an Eino ToolInfo.
func (s *ToolSpec) Info() *schema.ToolInfo {
	info := &schema.ToolInfo{
		Name: s.Name,
		Desc: s.Description,
	}
	if len(s.Parameters) > 0 {
		info.ParamsOneOf = schema.NewParamsOneOfByParams(paramInfos(s.Parameters))
	}
	return info
}

func paramInfos(params map[string]ParamSpec) map[string]*schema.ParameterInfo {
	out := make(map[string]*schema.ParameterInfo, len(params))
	for name, p := range params {
		out[name] = p.info()
	}
	return out
}

func (p ParamSpec) info() *schema.ParameterInfo {
	pi := &schema.ParameterInfo{
		Type:     dataType(p.Type),
		Desc:     p.Description,
		Required: p.Required,
		Enum:     p.Enum,
	}
	if p.Items != nil {
		pi.ElemInfo = p.Items.info()
	}
	if len(p.Properties) > 0 {
		pi.SubParams = paramInfos(p.Properties)
	}
	return pi
}

// dataType maps string type names to Eino DataType constants.
func dataType(t string) schema.DataType {
	switch t {
	case "number":
		return schema.Number
	case "integer":
		return schema.Integer
	case "boolean":
		return schema.Boolean
	case "array":
		return schema.Array
	case "object":
		return schema.Object
	default:
		return schema.String
	}
}

// Validate checks decoded JSON arguments against the declared parameters:
// required presence, primitive types and enum membership. Unknown
// arguments are rejected so the caller learns about typos.
func (s *ToolSpec) Validate(args map[string]any) error {
	names := make([]string, 0, len(s.Parameters))
	for name := range s.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		p := s.Parameters[name]
		v, ok := args[name]
		if !ok || v == nil {
			if p.Required {
				return fmt.Errorf("missing required argument %q", name)
			}
			continue
		}
		if err := p.check(name, v); err != nil {
			return err
		}
	}
	for name := range args {
		if _, ok := s.Parameters[name]; !ok {
			return fmt.Errorf("unknown argument %q", name)
		}
	}
	return nil
}

func (p ParamSpec) check(name string, v any) error {
	switch p.Type {
	case "string":
		str, ok := v.(string)
		if !ok {
			return fmt.Errorf("argument %q must be a string", name)
		}
		if len(p.Enum) > 0 && !slices.Contains(p.Enum, str) {
			return fmt.Errorf("argument %q must be one of %v, got %q", name, p.Enum, str)
		}
	case "number":
		if _, ok := v.(float64); !ok {
			return fmt.Errorf("argument %q must be a number", name)
		}
	case "integer":
		f, ok := v.(float64)
		if !ok || f != math.Trunc(f) {
			return fmt.Errorf("argument %q must be an integer", name)
		}
	case "boolean":
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("argument %q must be a boolean", name)
		}
	case "array":
		items, ok := v.([]any)
		if !ok {
			return fmt.Errorf("argument %q must be an array", name)
		}
		if p.Items != nil {
			for i, item := range items {
				if err := p.Items.check(fmt.Sprintf("%s[%d]", name, i), item); err != nil {
					return err
				}
			}
		}
	case "object":
		if _, ok := v.(map[string]any); !ok {
			return fmt.Errorf("argument %q must be an object", name)
		}
	}
	return nil
}
