package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/dohr-michael/dbtpilot/internal/models"
	"github.com/dohr-michael/dbtpilot/internal/skills"
	"github.com/dohr-michael/dbtpilot/internal/toolexec"
)

// DefaultEmptyRetries is how many times a model is re-asked after
// returning neither text nor tool calls.
const DefaultEmptyRetries = 3

const realOutputNudge = "Respond with a real output."

// ModelResponder answers with a tool-calling chat model bound to one
// skill's prompt and tools.
type ModelResponder struct {
	skill    *skills.Skill
	model    model.BaseChatModel
	template prompt.ChatTemplate
	retries  int
	now      func() time.Time
	handlers []callbacks.Handler
}

// ResponderOption configures a ModelResponder.
type ResponderOption func(*ModelResponder)

// WithCallbacks attaches Eino callback handlers to every model call.
func WithCallbacks(handlers ...callbacks.Handler) ResponderOption {
	return func(r *ModelResponder) { r.handlers = append(r.handlers, handlers...) }
}

// WithClock overrides the time source used for the {time} variable.
func WithClock(now func() time.Time) ResponderOption {
	return func(r *ModelResponder) { r.now = now }
}

// WithEmptyRetries overrides DefaultEmptyRetries.
func WithEmptyRetries(n int) ResponderOption {
	return func(r *ModelResponder) {
		if n > 0 {
			r.retries = n
		}
	}
}

// NewModelResponder binds tools to chatModel and prepares the skill's
// prompt template.
func NewModelResponder(skill *skills.Skill, chatModel model.ToolCallingChatModel, tools []*schema.ToolInfo, opts ...ResponderOption) (*ModelResponder, error) {
	bound, err := chatModel.WithTools(tools)
	if err != nil {
		return nil, fmt.Errorf("bind tools for %s: %w", skill.Name, err)
	}

	r := &ModelResponder{
		skill: skill,
		model: bound,
		template: prompt.FromMessages(schema.FString,
			schema.SystemMessage(skill.Instruction),
			schema.MessagesPlaceholder("messages", false),
		),
		retries: DefaultEmptyRetries,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Respond renders the prompt over the transcript and asks the model,
// re-asking when the answer is empty.
func (r *ModelResponder) Respond(ctx context.Context, transcript []*schema.Message, sideContext map[string]any) (*schema.Message, error) {
	msgs, err := r.template.Format(ctx, map[string]any{
		"time":         r.now().Format(time.RFC1123),
		"account_info": formatAccountInfo(sideContext),
		"messages":     transcript,
	})
	if err != nil {
		return nil, fmt.Errorf("format prompt: %w", err)
	}

	if len(r.handlers) > 0 {
		ctx = callbacks.InitCallbacks(ctx, &callbacks.RunInfo{
			Name:      r.skill.Name,
			Type:      "ChatModel",
			Component: components.ComponentOfChatModel,
		}, r.handlers...)
	}

	for attempt := 0; attempt < r.retries; attempt++ {
		out, err := r.generate(ctx, msgs)
		if err != nil {
			return nil, err
		}
		if hasOutput(out) {
			out.Role = schema.Assistant
			return out, nil
		}
		msgs = append(msgs, schema.UserMessage(realOutputNudge))
	}
	return nil, fmt.Errorf("model returned empty output %d times", r.retries)
}

// generate calls the model, firing the callbacks itself for models that do
// not report their own. Errors carry their models failure class.
func (r *ModelResponder) generate(ctx context.Context, msgs []*schema.Message) (*schema.Message, error) {
	if len(r.handlers) == 0 || components.IsCallbacksEnabled(r.model) {
		out, err := r.model.Generate(ctx, msgs)
		return out, models.HandleError(err)
	}

	ctx = callbacks.OnStart(ctx, &model.CallbackInput{Messages: msgs})
	out, err := r.model.Generate(ctx, msgs)
	if err != nil {
		callbacks.OnError(ctx, err)
		return nil, models.HandleError(err)
	}
	callbacks.OnEnd(ctx, &model.CallbackOutput{Message: out})
	return out, nil
}

func hasOutput(m *schema.Message) bool {
	if m == nil {
		return false
	}
	return len(m.ToolCalls) > 0 || strings.TrimSpace(m.Content) != ""
}

func formatAccountInfo(sc map[string]any) string {
	if len(sc) == 0 {
		return "unknown"
	}
	data, err := json.Marshal(sc)
	if err != nil {
		return fmt.Sprint(sc)
	}
	return string(data)
}

// NewResponders builds one ModelResponder per skill, each bound to the
// skill's tools plus the cancel action. The router has nothing to cancel
// back to; it gets one delegation action per skill instead.
func NewResponders(ctx context.Context, reg *skills.Registry, tools map[string]toolexec.ToolSet, pick func(*skills.Skill) (model.ToolCallingChatModel, error), opts ...ResponderOption) (map[string]Responder, error) {
	out := make(map[string]Responder)

	build := func(s *skills.Skill, extra ...*schema.ToolInfo) error {
		infos, err := tools[s.Name].Infos(ctx)
		if err != nil {
			return err
		}
		infos = append(infos, extra...)
		if !s.IsRouter() {
			infos = append(infos, skills.CancelTool())
		}

		cm, err := pick(s)
		if err != nil {
			return fmt.Errorf("model for %s: %w", s.Name, err)
		}
		r, err := NewModelResponder(s, cm, infos, opts...)
		if err != nil {
			return err
		}
		out[s.Name] = r
		return nil
	}

	if err := build(reg.Router(), reg.DelegationTools()...); err != nil {
		return nil, err
	}
	for _, s := range reg.All() {
		if err := build(s); err != nil {
			return nil, err
		}
	}
	return out, nil
}
