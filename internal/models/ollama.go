package models

import (
	"context"
	"time"

	einoollama "github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino/components/model"

	"github.com/dohr-michael/dbtpilot/internal/config"
)

const (
	defaultOllamaBaseURL = "http://localhost:11434"
	// Local models load lazily; the first answer can take minutes.
	defaultOllamaTimeout = 5 * time.Minute
)

// NewOllama creates an Ollama ChatModel. Options num_ctx, num_predict,
// top_p and top_k map to the Ollama runtime options.
func NewOllama(ctx context.Context, cfg config.ProviderConfig) (model.ToolCallingChatModel, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	wait := timeout(cfg, defaultOllamaTimeout)

	return einoollama.NewChatModel(ctx, &einoollama.ChatModelConfig{
		BaseURL:    baseURL,
		Model:      cfg.Model,
		Timeout:    wait,
		Options:    ollamaOptions(cfg),
		HTTPClient: newHTTPClient("ollama:"+cfg.Model, wait),
	})
}

func ollamaOptions(cfg config.ProviderConfig) *einoollama.Options {
	opts := &einoollama.Options{
		Temperature: *temperature(cfg),
		NumPredict:  maxTokens(cfg),
	}
	if v, ok := optInt(cfg, "num_ctx"); ok {
		opts.NumCtx = v
	}
	if v, ok := optInt(cfg, "num_predict"); ok {
		opts.NumPredict = v
	}
	if p := topP(cfg); p != nil {
		opts.TopP = *p
	}
	if v, ok := optInt(cfg, "top_k"); ok {
		opts.TopK = v
	}
	return opts
}
