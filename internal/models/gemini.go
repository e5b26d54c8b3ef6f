package models

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"

	"github.com/dohr-michael/dbtpilot/internal/config"
)

const defaultGeminiModel = "gemini-2.0-flash"

// NewGemini creates a Gemini ChatModel backed by the Gemini API.
func NewGemini(ctx context.Context, cfg config.ProviderConfig, apiKey string) (model.ToolCallingChatModel, error) {
	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultGeminiModel
	}

	clientConfig := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: newHTTPClient("gemini:"+modelName, timeout(cfg, defaultTimeout)),
	}
	if cfg.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}

	modelConfig := &gemini.Config{
		Client:      client,
		Model:       modelName,
		Temperature: temperature(cfg),
	}
	tokens := maxTokens(cfg)
	modelConfig.MaxTokens = &tokens
	modelConfig.TopP = topP(cfg)

	return gemini.NewChatModel(ctx, modelConfig)
}
