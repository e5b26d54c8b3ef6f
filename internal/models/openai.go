package models

import (
	"context"

	einoopenai "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"github.com/dohr-michael/dbtpilot/internal/config"
)

const (
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultMistralBaseURL = "https://api.mistral.ai/v1"
	defaultMistralModel   = "mistral-small-latest"
)

// NewOpenAI creates an OpenAI ChatModel. A base_url points it at any
// OpenAI-compatible endpoint.
func NewOpenAI(ctx context.Context, cfg config.ProviderConfig, apiKey string) (model.ToolCallingChatModel, error) {
	return newOpenAICompatible(ctx, cfg, apiKey, "", defaultOpenAIModel)
}

// NewMistral creates a Mistral ChatModel through its OpenAI-compatible API.
func NewMistral(ctx context.Context, cfg config.ProviderConfig, apiKey string) (model.ToolCallingChatModel, error) {
	return newOpenAICompatible(ctx, cfg, apiKey, defaultMistralBaseURL, defaultMistralModel)
}

func newOpenAICompatible(ctx context.Context, cfg config.ProviderConfig, apiKey, baseURL, modelName string) (model.ToolCallingChatModel, error) {
	if cfg.BaseURL != "" {
		baseURL = cfg.BaseURL
	}
	if cfg.Model != "" {
		modelName = cfg.Model
	}
	tokens := maxTokens(cfg)

	return einoopenai.NewChatModel(ctx, &einoopenai.ChatModelConfig{
		APIKey:              apiKey,
		BaseURL:             baseURL,
		Model:               modelName,
		Temperature:         temperature(cfg),
		TopP:                topP(cfg),
		MaxCompletionTokens: &tokens,
		Timeout:             timeout(cfg, defaultTimeout),
	})
}
