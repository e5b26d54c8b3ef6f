// Package config loads the dbtpilot configuration from $DBTPILOT_PATH.
package config

import "time"

// Config is the root configuration for dbtpilot.
type Config struct {
	Gateway  GatewayConfig  `json:"gateway"`
	Models   ModelsConfig   `json:"models"`
	Events   EventsConfig   `json:"events"`
	Agent    AgentConfig    `json:"agent"`
	Sessions SessionsConfig `json:"sessions"`
	Dbt      DbtConfig      `json:"dbt"`
	Search   SearchConfig   `json:"search"`
	Tools    ToolsConfig    `json:"tools"`
}

// GatewayConfig holds the HTTP API settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// ModelsConfig holds model provider configuration.
type ModelsConfig struct {
	Default   string                    `json:"default"`
	Providers map[string]ProviderConfig `json:"providers"`
}

// ProviderConfig configures a single LLM provider.
type ProviderConfig struct {
	Driver    string         `json:"driver"` // "anthropic", "openai", "mistral", "ollama", "gemini"
	Model     string         `json:"model"`
	BaseURL   string         `json:"base_url,omitempty"`
	Auth      AuthConfig     `json:"auth"`
	MaxTokens int            `json:"max_tokens,omitempty"`
	Timeout   Duration       `json:"timeout,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
}

// AuthConfig configures API key resolution.
type AuthConfig struct {
	APIKey string `json:"api_key,omitempty"` // direct key, ${VAR}, ${{ .Env.VAR }} or ENC[age:...]
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	BufferSize int    `json:"buffer_size"`
	LogLevel   string `json:"log_level"`
	// Persist writes every event to $DBTPILOT_PATH/logs as JSONL.
	Persist bool `json:"persist"`
}

// AgentConfig holds orchestrator settings.
type AgentConfig struct {
	MaxSteps int `json:"max_steps"`
	// SkillsDir holds JSONC/YAML skill definitions overriding the built-ins.
	SkillsDir string `json:"skills_dir"`
	// Models maps a skill name to a provider name.
	Models map[string]string `json:"models,omitempty"`
}

// SessionsConfig selects the session store.
type SessionsConfig struct {
	Backend string `json:"backend"` // "file" or "sqlite"
	Dir     string `json:"dir"`
	DBPath  string `json:"db_path"`
}

// DbtConfig holds dbt Cloud access settings.
type DbtConfig struct {
	Host          string   `json:"host"`
	Token         string   `json:"token"`
	AccountID     int64    `json:"account_id,omitempty"`
	EnvironmentID int64    `json:"environment_id,omitempty"`
	Timeout       Duration `json:"timeout,omitempty"`
	Retries       int      `json:"retries"`
}

// SearchConfig selects the web search backend of the docs skill.
type SearchConfig struct {
	Provider       string `json:"provider"` // "duckduckgo", "google", "bing"
	MaxResults     int    `json:"max_results"`
	GoogleAPIKey   string `json:"google_api_key,omitempty"`
	GoogleEngineID string `json:"google_engine_id,omitempty"`
	BingAPIKey     string `json:"bing_api_key,omitempty"`
}

// ToolsConfig controls tool permissions.
type ToolsConfig struct {
	// AllowedDangerous lists account-changing tools approved for every session.
	AllowedDangerous []string `json:"allowed_dangerous,omitempty"`
}

// Duration wraps time.Duration for JSON unmarshaling.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}
