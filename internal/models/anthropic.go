package models

import (
	"context"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino/components/model"

	"github.com/dohr-michael/dbtpilot/internal/config"
)

const defaultAnthropicModel = "claude-3-5-sonnet-20240620"

// NewAnthropic creates a Claude ChatModel.
func NewAnthropic(ctx context.Context, cfg config.ProviderConfig, apiKey string) (model.ToolCallingChatModel, error) {
	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultAnthropicModel
	}
	modelConfig := &claude.Config{
		APIKey:      apiKey,
		Model:       modelName,
		MaxTokens:   maxTokens(cfg),
		Temperature: temperature(cfg),
		TopP:        topP(cfg),
		HTTPClient:  newHTTPClient("anthropic:"+modelName, timeout(cfg, defaultTimeout)),
	}
	if cfg.BaseURL != "" {
		baseURL := cfg.BaseURL
		modelConfig.BaseURL = &baseURL
	}

	return claude.NewChatModel(ctx, modelConfig)
}
