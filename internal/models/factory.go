package models

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"

	"github.com/dohr-michael/dbtpilot/internal/config"
)

// CreateModel creates a model.ToolCallingChatModel from a provider config.
func CreateModel(ctx context.Context, cfg config.ProviderConfig) (model.ToolCallingChatModel, error) {
	driver := strings.ToLower(cfg.Driver)
	if driver == "ollama" {
		return NewOllama(ctx, cfg)
	}

	var build func(context.Context, config.ProviderConfig, string) (model.ToolCallingChatModel, error)
	switch driver {
	case "anthropic":
		build = NewAnthropic
	case "openai":
		build = NewOpenAI
	case "mistral":
		build = NewMistral
	case "gemini":
		build = NewGemini
	default:
		return nil, fmt.Errorf("unknown driver: %s", cfg.Driver)
	}

	apiKey, err := ResolveAuth(cfg)
	if err != nil {
		return nil, fmt.Errorf("resolve auth: %w", err)
	}
	return build(ctx, cfg, apiKey)
}
