package skills

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"
)

// Skill is a delegated assistant definition.
type Skill struct {
	// Name is the dialog stack identifier (e.g. "retrieve_packages").
	Name string `json:"name" yaml:"name"`
	// Title is how the hand-off message addresses the assistant.
	Title string `json:"title" yaml:"title"`
	// DelegationTool is the router action that enters the skill. Empty
	// for the router itself.
	DelegationTool string `json:"delegation_tool,omitempty" yaml:"delegation_tool,omitempty"`
	// Description is shown to the router model for the delegation action.
	Description string `json:"description" yaml:"description"`
	// RequestHint describes the delegation action's "request" argument.
	RequestHint string `json:"request_hint,omitempty" yaml:"request_hint,omitempty"`
	// Instruction is the system prompt template. It may reference {time}
	// and {account_info}.
	Instruction string `json:"instruction" yaml:"instruction"`
	// Tools lists the tool names bound to the skill.
	Tools []string `json:"tools,omitempty" yaml:"tools,omitempty"`
	// Model optionally selects a configured model provider by name.
	Model    string            `json:"model,omitempty" yaml:"model,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// IsRouter reports whether the definition describes the top-level router.
func (s *Skill) IsRouter() bool {
	return s.DelegationTool == ""
}

// Validate checks the definition for consistency.
func (s *Skill) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("skill name is required")
	}
	if strings.ContainsAny(s.Name, " \t\n") {
		return fmt.Errorf("skill %q: name must not contain whitespace", s.Name)
	}
	if s.Title == "" {
		return fmt.Errorf("skill %q: title is required", s.Name)
	}
	if s.Instruction == "" {
		return fmt.Errorf("skill %q: instruction is required", s.Name)
	}
	if s.DelegationTool == CancelToolName {
		return fmt.Errorf("skill %q: delegation tool cannot be %s", s.Name, CancelToolName)
	}
	if !s.IsRouter() && s.Description == "" {
		return fmt.Errorf("skill %q: description is required for delegation", s.Name)
	}
	return nil
}

// String returns a human-readable representation of the skill.
func (s *Skill) String() string {
	if s.IsRouter() {
		return fmt.Sprintf("%s (router, %d tools)", s.Name, len(s.Tools))
	}
	return fmt.Sprintf("%s via %s (%d tools)", s.Name, s.DelegationTool, len(s.Tools))
}

// LoadFile reads a skill definition. The format follows the extension:
// .jsonc/.json or .yaml/.yml.
func LoadFile(path string) (*Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read skill %s: %w", path, err)
	}

	var s Skill
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("parse skill %s: %w", path, err)
		}
	case ".jsonc", ".json":
		std, err := hujson.Standardize(data)
		if err != nil {
			return nil, fmt.Errorf("parse skill %s: %w", path, err)
		}
		if err := json.Unmarshal(std, &s); err != nil {
			return nil, fmt.Errorf("parse skill %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("skill %s: unsupported extension", path)
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("validate skill %s: %w", path, err)
	}
	return &s, nil
}
