package toolexec

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/schema"

	"github.com/dohr-michael/dbtpilot/internal/events"
)

// EmptyResult replaces empty tool output; provider APIs reject tool
// messages without content.
const EmptyResult = "[OK]"

const maxEventResult = 2000

// UnknownToolError is returned for a call naming a tool outside the set.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("tool %q is not available here", e.Name)
}

// Gateway executes requested tool calls against a tool set.
type Gateway struct {
	bus *events.Bus
}

// NewGateway creates a gateway publishing tool events on bus (may be nil).
func NewGateway(bus *events.Bus) *Gateway {
	return &Gateway{bus: bus}
}

// Execute runs calls in request order and returns one tool message per
// call, correlated by id and in the same order. If any call fails, partial
// results are discarded and every call in the batch is answered with the
// corrective error text instead.
func (g *Gateway) Execute(ctx context.Context, calls []schema.ToolCall, set ToolSet) []*schema.Message {
	sessionID := events.SessionIDFromContext(ctx)
	out := make([]*schema.Message, 0, len(calls))

	for _, call := range calls {
		result, err := g.invoke(ctx, call, set)
		if err != nil {
			slog.Warn("tool call failed, answering batch with error",
				"session_id", sessionID,
				"tool", call.Function.Name,
				"call_id", call.ID,
				"batch", len(calls),
				"error", err,
			)
			return ErrorMessages(calls, err)
		}
		out = append(out, &schema.Message{
			Role:       schema.Tool,
			Content:    result,
			ToolCallID: call.ID,
			ToolName:   call.Function.Name,
		})
	}
	return out
}

func (g *Gateway) invoke(ctx context.Context, call schema.ToolCall, set ToolSet) (string, error) {
	g.publish(ctx, events.ToolCallPayload{
		Status:    events.ToolStatusStarted,
		CallID:    call.ID,
		Name:      call.Function.Name,
		Arguments: call.Function.Arguments,
	})

	result, err := g.run(ctx, call, set)
	if err != nil {
		g.publish(ctx, events.ToolCallPayload{
			Status: events.ToolStatusFailed,
			CallID: call.ID,
			Name:   call.Function.Name,
			Error:  err.Error(),
		})
		return "", err
	}

	if result == "" {
		result = EmptyResult
	}
	g.publish(ctx, events.ToolCallPayload{
		Status: events.ToolStatusCompleted,
		CallID: call.ID,
		Name:   call.Function.Name,
		Result: truncate(result, maxEventResult),
	})
	return result, nil
}

func (g *Gateway) run(ctx context.Context, call schema.ToolCall, set ToolSet) (result string, err error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	t, ok := set[call.Function.Name]
	if !ok {
		return "", &UnknownToolError{Name: call.Function.Name}
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %s panicked: %v", call.Function.Name, r)
		}
	}()
	return t.InvokableRun(ctx, call.Function.Arguments)
}

func (g *Gateway) publish(ctx context.Context, p events.ToolCallPayload) {
	if g.bus == nil {
		return
	}
	g.bus.Publish(events.NewTypedEventWithSession(events.SourceTools, p, events.SessionIDFromContext(ctx)))
}

// ErrorText renders the corrective message for a failed batch.
func ErrorText(err error) string {
	return fmt.Sprintf("Error: %s\n please fix your mistakes.", describe(err))
}

// ErrorMessages answers every call with the corrective error text.
func ErrorMessages(calls []schema.ToolCall, err error) []*schema.Message {
	text := ErrorText(err)
	out := make([]*schema.Message, len(calls))
	for i, call := range calls {
		out[i] = &schema.Message{
			Role:       schema.Tool,
			Content:    text,
			ToolCallID: call.ID,
			ToolName:   call.Function.Name,
		}
	}
	return out
}

// describe renders an error with its concrete type, e.g.
// *toolexec.UnknownToolError("tool \"x\" is not available here").
func describe(err error) string {
	return fmt.Sprintf("%T(%q)", err, err.Error())
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
