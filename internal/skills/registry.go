package skills

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cloudwego/eino/schema"
)

// ErrFrozen is returned when mutating a registry after Freeze.
var ErrFrozen = errors.New("skill registry is frozen")

// Registry holds the router definition and the delegated skills.
type Registry struct {
	mu          sync.RWMutex
	router      *Skill
	skills      map[string]*Skill
	delegations map[string]string // delegation tool -> skill name
	frozen      bool
}

// NewRegistry creates a registry around the router definition.
func NewRegistry(router *Skill) (*Registry, error) {
	if router == nil {
		return nil, fmt.Errorf("router definition is required")
	}
	if !router.IsRouter() {
		return nil, fmt.Errorf("router %q must not declare a delegation tool", router.Name)
	}
	if err := router.Validate(); err != nil {
		return nil, err
	}
	return &Registry{
		router:      router,
		skills:      make(map[string]*Skill),
		delegations: make(map[string]string),
	}, nil
}

// Register adds a delegated skill.
func (r *Registry) Register(skill *Skill) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkWritable(skill); err != nil {
		return err
	}
	if _, exists := r.skills[skill.Name]; exists {
		return fmt.Errorf("skill %q already registered", skill.Name)
	}
	if owner, exists := r.delegations[skill.DelegationTool]; exists {
		return fmt.Errorf("skill %q: delegation tool %q already used by %q", skill.Name, skill.DelegationTool, owner)
	}
	r.skills[skill.Name] = skill
	r.delegations[skill.DelegationTool] = skill.Name
	return nil
}

// Replace registers skill, overriding any definition with the same name.
// A router definition replaces the router.
func (r *Registry) Replace(skill *Skill) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if skill.IsRouter() {
		if r.frozen {
			return ErrFrozen
		}
		if err := skill.Validate(); err != nil {
			return err
		}
		r.router = skill
		return nil
	}
	if err := r.checkWritable(skill); err != nil {
		return err
	}
	if owner, exists := r.delegations[skill.DelegationTool]; exists && owner != skill.Name {
		return fmt.Errorf("skill %q: delegation tool %q already used by %q", skill.Name, skill.DelegationTool, owner)
	}
	if prev, exists := r.skills[skill.Name]; exists {
		delete(r.delegations, prev.DelegationTool)
	}
	r.skills[skill.Name] = skill
	r.delegations[skill.DelegationTool] = skill.Name
	return nil
}

func (r *Registry) checkWritable(skill *Skill) error {
	if r.frozen {
		return ErrFrozen
	}
	if err := skill.Validate(); err != nil {
		return err
	}
	if skill.IsRouter() {
		return fmt.Errorf("skill %q: delegation tool is required", skill.Name)
	}
	if skill.Name == r.router.Name {
		return fmt.Errorf("skill %q collides with the router name", skill.Name)
	}
	return nil
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Router returns the router definition.
func (r *Registry) Router() *Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.router
}

// Get returns the skill with the given stack name.
func (r *Registry) Get(name string) (*Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.skills[name]
	return s, ok
}

// Has reports whether name is a registered skill.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// SkillForDelegation maps a delegation action name to its skill.
func (r *Registry) SkillForDelegation(toolName string) (*Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.delegations[toolName]
	if !ok {
		return nil, false
	}
	return r.skills[name], true
}

// IsDelegation reports whether toolName is a delegation action.
func (r *Registry) IsDelegation(toolName string) bool {
	_, ok := r.SkillForDelegation(toolName)
	return ok
}

// All returns all delegated skills sorted by name.
func (r *Registry) All() []*Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Skill, 0, len(r.skills))
	for _, s := range r.skills {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result
}

// Names returns all delegated skill names sorted alphabetically.
func (r *Registry) Names() []string {
	all := r.All()
	names := make([]string, len(all))
	for i, s := range all {
		names[i] = s.Name
	}
	return names
}

// DelegationTools returns the router's transfer actions, one per skill,
// sorted by skill name.
func (r *Registry) DelegationTools() []*schema.ToolInfo {
	all := r.All()
	infos := make([]*schema.ToolInfo, len(all))
	for i, s := range all {
		infos[i] = DelegationToolInfo(s)
	}
	return infos
}

// LoadDir loads every *.jsonc, *.json, *.yaml and *.yml file below dir.
// Definitions replace built-ins of the same name. Invalid files are
// logged and skipped.
func (r *Registry) LoadDir(dir string) (int, error) {
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			slog.Debug("skills directory not found, skipping", "dir", dir)
			return 0, nil
		}
		return 0, fmt.Errorf("stat skills dir %s: %w", dir, err)
	}

	pattern := filepath.Join(dir, "**", "*.{jsonc,json,yaml,yml}")
	paths, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return 0, fmt.Errorf("glob skills dir %s: %w", dir, err)
	}
	sort.Strings(paths)

	loaded := 0
	for _, path := range paths {
		skill, err := LoadFile(path)
		if err != nil {
			slog.Warn("failed to load skill", "path", path, "error", err)
			continue
		}
		if err := r.Replace(skill); err != nil {
			slog.Warn("failed to register skill", "name", skill.Name, "path", path, "error", err)
			continue
		}
		slog.Debug("skill loaded", "name", skill.Name, "path", path)
		loaded++
	}
	return loaded, nil
}
