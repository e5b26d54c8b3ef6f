package models

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/cloudwego/eino/components/model"

	"github.com/dohr-michael/dbtpilot/internal/config"
	"github.com/dohr-michael/dbtpilot/internal/skills"
)

// envFallbacks picks a provider from well-known API key variables when the
// config declares none. The first variable set wins.
var envFallbacks = []struct {
	env    string
	name   string
	config config.ProviderConfig
}{
	{"OPENAI_API_KEY", "openai", config.ProviderConfig{Driver: "openai", Model: defaultOpenAIModel, MaxTokens: defaultMaxTokens}},
	{"ANTHROPIC_API_KEY", "anthropic", config.ProviderConfig{Driver: "anthropic", Model: defaultAnthropicModel, MaxTokens: defaultMaxTokens}},
	{"GEMINI_API_KEY", "gemini", config.ProviderConfig{Driver: "gemini", Model: defaultGeminiModel, MaxTokens: defaultMaxTokens}},
}

// ProviderEntry holds a lazily-initialized model instance.
type ProviderEntry struct {
	Config config.ProviderConfig
	model  model.ToolCallingChatModel
	once   sync.Once
	err    error
}

// Registry manages named model providers with lazy initialization.
type Registry struct {
	mu          sync.RWMutex
	providers   map[string]*ProviderEntry
	defaultName string
	// skillModels maps a skill name to a provider name.
	skillModels map[string]string
	create      func(context.Context, config.ProviderConfig) (model.ToolCallingChatModel, error)
}

// NewRegistry creates a model registry from config. skillModels overrides
// the provider used by individual skills.
func NewRegistry(cfg config.ModelsConfig, skillModels map[string]string) *Registry {
	r := &Registry{
		providers:   make(map[string]*ProviderEntry),
		defaultName: cfg.Default,
		skillModels: skillModels,
		create:      CreateModel,
	}

	for name, provCfg := range cfg.Providers {
		r.providers[name] = &ProviderEntry{Config: provCfg}
	}

	if len(r.providers) == 0 {
		for _, fb := range envFallbacks {
			if os.Getenv(fb.env) != "" {
				r.providers[fb.name] = &ProviderEntry{Config: fb.config}
				r.defaultName = fb.name
				break
			}
		}
	}

	if r.defaultName == "" && len(r.providers) == 1 {
		for name := range r.providers {
			r.defaultName = name
		}
	}

	return r
}

// Get returns the named model, initializing it lazily.
func (r *Registry) Get(ctx context.Context, name string) (model.ToolCallingChatModel, error) {
	r.mu.RLock()
	entry, ok := r.providers[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("model provider %q not found", name)
	}

	entry.once.Do(func() {
		entry.model, entry.err = r.create(ctx, entry.Config)
	})

	return entry.model, entry.err
}

// Default returns the default model.
func (r *Registry) Default(ctx context.Context) (model.ToolCallingChatModel, error) {
	if r.defaultName == "" {
		return nil, fmt.Errorf("no default model configured")
	}
	return r.Get(ctx, r.defaultName)
}

// DefaultName returns the name of the default provider.
func (r *Registry) DefaultName() string {
	return r.defaultName
}

// Names returns the configured provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ProviderFor returns the provider name serving a skill: the agent-level
// mapping first, then the skill's own model field, then the default.
func (r *Registry) ProviderFor(skill *skills.Skill) string {
	if name, ok := r.skillModels[skill.Name]; ok && name != "" {
		return name
	}
	if skill.Model != "" {
		return skill.Model
	}
	return r.defaultName
}

// ForSkill returns the model serving a skill.
func (r *Registry) ForSkill(ctx context.Context, skill *skills.Skill) (model.ToolCallingChatModel, error) {
	name := r.ProviderFor(skill)
	if name == "" {
		return nil, fmt.Errorf("skill %s: no default model configured", skill.Name)
	}
	m, err := r.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("skill %s: %w", skill.Name, err)
	}
	return m, nil
}

// Picker adapts ForSkill to the per-skill selector used when building
// responders.
func (r *Registry) Picker(ctx context.Context) func(*skills.Skill) (model.ToolCallingChatModel, error) {
	return func(skill *skills.Skill) (model.ToolCallingChatModel, error) {
		return r.ForSkill(ctx, skill)
	}
}
