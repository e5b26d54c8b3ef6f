package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/tailscale/hujson"
)

var (
	envTemplateRe = regexp.MustCompile(`\$\{\{\s*\.Env\.(\w+)\s*\}\}`)
	encValueRe    = regexp.MustCompile(`ENC\[age:[A-Za-z0-9+/=]+\]`)
)

const (
	DefaultDbtHost  = "cloud.getdbt.com"
	DefaultMaxSteps = 50
)

// Decrypter turns an ENC[age:...] blob into plaintext.
type Decrypter func(blob string) (string, error)

// LoadOption configures Load.
type LoadOption func(*loadOptions)

type loadOptions struct {
	decrypt Decrypter
}

// WithDecrypter decrypts ENC[age:...] values found in the file.
func WithDecrypter(fn Decrypter) LoadOption {
	return func(o *loadOptions) { o.decrypt = fn }
}

// Load reads a JSONC config file, expands ${{ .Env.VAR }} templates,
// decrypts ENC[age:...] values, unmarshals it into Config and applies
// defaults. A missing file yields the defaults.
func Load(path string, opts ...LoadOption) (*Config, error) {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		data = []byte("{}")
	}

	expanded := expandEnvTemplates(string(data))
	if o.decrypt != nil {
		if expanded, err = decryptValues(expanded, o.decrypt); err != nil {
			return nil, err
		}
	}

	std, err := hujson.Standardize([]byte(expanded))
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(std, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// expandEnvTemplates replaces ${{ .Env.VAR }} with the env var value.
func expandEnvTemplates(s string) string {
	return envTemplateRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envTemplateRe.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		return os.Getenv(parts[1])
	})
}

// decryptValues replaces every ENC[age:...] blob with its JSON-escaped
// plaintext. Blobs only appear inside JSON strings.
func decryptValues(s string, decrypt Decrypter) (string, error) {
	var firstErr error
	out := encValueRe.ReplaceAllStringFunc(s, func(blob string) string {
		plain, err := decrypt(blob)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("decrypt config value: %w", err)
			}
			return blob
		}
		quoted, _ := json.Marshal(plain)
		return string(quoted[1 : len(quoted)-1])
	})
	return out, firstErr
}

// applyDefaults fills in zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = "127.0.0.1"
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 18430
	}
	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = 1024
	}
	if cfg.Events.LogLevel == "" {
		cfg.Events.LogLevel = "info"
	}
	if cfg.Agent.MaxSteps <= 0 {
		cfg.Agent.MaxSteps = DefaultMaxSteps
	}
	if cfg.Agent.SkillsDir == "" {
		cfg.Agent.SkillsDir = SkillsPath()
	}
	if cfg.Sessions.Backend == "" {
		cfg.Sessions.Backend = "file"
	}
	if cfg.Sessions.Dir == "" {
		cfg.Sessions.Dir = SessionsPath()
	}
	if cfg.Sessions.DBPath == "" {
		cfg.Sessions.DBPath = filepath.Join(DbtpilotPath(), "sessions.db")
	}
	if cfg.Search.Provider == "" {
		cfg.Search.Provider = "duckduckgo"
	}
	if cfg.Search.MaxResults == 0 {
		cfg.Search.MaxResults = 5
	}
	if cfg.Dbt.Retries == 0 {
		cfg.Dbt.Retries = 3
	}

	// Legacy dbt Cloud environment variables fill what the file leaves empty.
	if cfg.Dbt.Token == "" {
		cfg.Dbt.Token = os.Getenv("DBT_CLOUD_SERVICE_TOKEN")
	}
	if cfg.Dbt.Host == "" {
		cfg.Dbt.Host = os.Getenv("DBT_CLOUD_HOST")
	}
	if cfg.Dbt.Host == "" {
		cfg.Dbt.Host = DefaultDbtHost
	}
	if cfg.Dbt.EnvironmentID == 0 {
		if v, err := strconv.ParseInt(os.Getenv("DBT_CLOUD_ENVIRONMENT_ID"), 10, 64); err == nil {
			cfg.Dbt.EnvironmentID = v
		}
	}
	if cfg.Dbt.AccountID == 0 {
		if v, err := strconv.ParseInt(os.Getenv("DBT_CLOUD_ACCOUNT_ID"), 10, 64); err == nil {
			cfg.Dbt.AccountID = v
		}
	}
	// Auth resolution is deferred to models.ResolveAuth() at model init time.
}
