package models

import (
	"time"

	"github.com/dohr-michael/dbtpilot/internal/config"
)

// Answers default to deterministic output with room for long tool plans.
const (
	defaultTemperature = 0
	defaultMaxTokens   = 4096
	defaultTimeout     = 60 * time.Second
)

// optFloat reads a numeric provider option. JSON numbers decode as float64.
func optFloat(cfg config.ProviderConfig, key string) (float64, bool) {
	v, ok := cfg.Options[key].(float64)
	return v, ok
}

func optInt(cfg config.ProviderConfig, key string) (int, bool) {
	v, ok := optFloat(cfg, key)
	return int(v), ok
}

func temperature(cfg config.ProviderConfig) *float32 {
	t := float32(defaultTemperature)
	if v, ok := optFloat(cfg, "temperature"); ok {
		t = float32(v)
	}
	return &t
}

func topP(cfg config.ProviderConfig) *float32 {
	v, ok := optFloat(cfg, "top_p")
	if !ok {
		return nil
	}
	p := float32(v)
	return &p
}

func maxTokens(cfg config.ProviderConfig) int {
	if cfg.MaxTokens > 0 {
		return cfg.MaxTokens
	}
	return defaultMaxTokens
}

func timeout(cfg config.ProviderConfig, fallback time.Duration) time.Duration {
	if d := cfg.Timeout.Duration(); d > 0 {
		return d
	}
	return fallback
}
