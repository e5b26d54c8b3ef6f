// Package callbacks provides Eino callback handlers that bridge to the event bus.
package callbacks

import (
	"context"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	ub "github.com/cloudwego/eino/utils/callbacks"

	"github.com/dohr-michael/dbtpilot/internal/events"
)

type startKey struct{}

// NewEventBusHandler creates a chat model callback handler that publishes
// one LLMCallPayload per phase. The run name is the skill being served.
// Tool executions are published by the tool gateway, not here.
func NewEventBusHandler(bus *events.Bus, source events.EventSource) callbacks.Handler {
	if source == "" {
		source = events.SourceAgent
	}

	publishTyped := func(ctx context.Context, payload events.EventPayload) {
		if sid := events.SessionIDFromContext(ctx); sid != "" {
			bus.Publish(events.NewTypedEventWithSession(source, payload, sid))
		} else {
			bus.Publish(events.NewTypedEvent(source, payload))
		}
	}

	modelHandler := &ub.ModelCallbackHandler{
		OnStart: func(ctx context.Context, info *callbacks.RunInfo, input *model.CallbackInput) context.Context {
			payload := events.LLMCallPayload{
				Phase:        "request",
				Skill:        info.Name,
				Model:        modelName(input.Config),
				MessageCount: len(input.Messages),
			}
			publishTyped(ctx, payload)
			return context.WithValue(ctx, startKey{}, time.Now())
		},

		OnEnd: func(ctx context.Context, info *callbacks.RunInfo, output *model.CallbackOutput) context.Context {
			payload := events.LLMCallPayload{
				Phase:    "response",
				Skill:    info.Name,
				Model:    modelName(output.Config),
				Duration: elapsed(ctx),
			}
			payload.TokensInput, payload.TokensOutput = tokenUsage(output)
			publishTyped(ctx, payload)
			return ctx
		},

		OnError: func(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
			publishTyped(ctx, events.LLMCallPayload{
				Phase:    "error",
				Skill:    info.Name,
				Duration: elapsed(ctx),
				Error:    truncatePayload(err.Error(), 1000),
			})
			return ctx
		},
	}

	return ub.NewHandlerHelper().
		ChatModel(modelHandler).
		Handler()
}

func modelName(cfg *model.Config) string {
	if cfg == nil {
		return ""
	}
	return cfg.Model
}

func elapsed(ctx context.Context) time.Duration {
	if start, ok := ctx.Value(startKey{}).(time.Time); ok {
		return time.Since(start)
	}
	return 0
}

// tokenUsage prefers the callback's usage and falls back to the message
// response metadata some providers fill instead.
func tokenUsage(output *model.CallbackOutput) (int, int) {
	if output == nil {
		return 0, 0
	}
	if u := output.TokenUsage; u != nil {
		return u.PromptTokens, u.CompletionTokens
	}
	if m := output.Message; m != nil && m.ResponseMeta != nil && m.ResponseMeta.Usage != nil {
		return m.ResponseMeta.Usage.PromptTokens, m.ResponseMeta.Usage.CompletionTokens
	}
	return 0, 0
}

func truncatePayload(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "... (truncated)"
}
