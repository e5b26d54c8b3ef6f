package toolexec

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/dohr-michael/dbtpilot/internal/events"
)

func echoTool(name string) *FuncTool {
	return NewFuncTool(ToolSpec{
		Name: name,
		Parameters: map[string]ParamSpec{
			"q": {Type: "string", Required: true},
		},
	}, func(_ context.Context, args Args) (any, error) {
		return name + ":" + args.String("q"), nil
	})
}

func failingTool(name string, err error) *FuncTool {
	return NewFuncTool(ToolSpec{Name: name}, func(context.Context, Args) (any, error) {
		return nil, err
	})
}

func call(id, name, args string) schema.ToolCall {
	return schema.ToolCall{ID: id, Function: schema.FunctionCall{Name: name, Arguments: args}}
}

func mustSet(t *testing.T, tools ...*FuncTool) ToolSet {
	t.Helper()
	set := ToolSet{}
	for _, ft := range tools {
		set[ft.Spec().Name] = ft
	}
	return set
}

func TestGatewayExecute_Success(t *testing.T) {
	gw := NewGateway(nil)
	set := mustSet(t, echoTool("a"), echoTool("b"))

	msgs := gw.Execute(context.Background(), []schema.ToolCall{
		call("1", "b", `{"q":"x"}`),
		call("2", "a", `{"q":"y"}`),
	}, set)

	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].ToolCallID != "1" || msgs[0].Content != "b:x" {
		t.Errorf("msgs[0] = %q/%q", msgs[0].ToolCallID, msgs[0].Content)
	}
	if msgs[1].ToolCallID != "2" || msgs[1].Content != "a:y" {
		t.Errorf("msgs[1] = %q/%q", msgs[1].ToolCallID, msgs[1].Content)
	}
	for _, m := range msgs {
		if m.Role != schema.Tool {
			t.Errorf("Role = %q, want tool", m.Role)
		}
	}
}

// One failure in a batch answers every call in the batch with the error.
func TestGatewayExecute_ErrorAnswersWholeBatch(t *testing.T) {
	gw := NewGateway(nil)
	set := mustSet(t, failingTool("first", errors.New("boom")), echoTool("second"))

	msgs := gw.Execute(context.Background(), []schema.ToolCall{
		call("c1", "first", `{}`),
		call("c2", "second", `{"q":"ok"}`),
	}, set)

	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	for i, id := range []string{"c1", "c2"} {
		if msgs[i].ToolCallID != id {
			t.Errorf("msgs[%d].ToolCallID = %q, want %q", i, msgs[i].ToolCallID, id)
		}
		if !strings.HasPrefix(msgs[i].Content, "Error: ") || !strings.HasSuffix(msgs[i].Content, "please fix your mistakes.") {
			t.Errorf("msgs[%d].Content = %q", i, msgs[i].Content)
		}
		if !strings.Contains(msgs[i].Content, "boom") {
			t.Errorf("msgs[%d] does not describe the error: %q", i, msgs[i].Content)
		}
	}
}

func TestGatewayExecute_UnknownAndInvalid(t *testing.T) {
	gw := NewGateway(nil)
	set := mustSet(t, echoTool("a"))

	tests := []struct {
		name string
		call schema.ToolCall
		want string
	}{
		{"unknown tool", call("1", "nope", `{}`), "not available"},
		{"missing argument", call("1", "a", `{}`), "missing required argument"},
		{"bad json", call("1", "a", `{`), "invalid arguments"},
		{"wrong type", call("1", "a", `{"q":3}`), "must be a string"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs := gw.Execute(context.Background(), []schema.ToolCall{tt.call}, set)
			if len(msgs) != 1 {
				t.Fatalf("got %d messages, want 1", len(msgs))
			}
			if !strings.Contains(msgs[0].Content, tt.want) {
				t.Errorf("Content = %q, want it to contain %q", msgs[0].Content, tt.want)
			}
		})
	}
}

func TestGatewayExecute_Idempotent(t *testing.T) {
	gw := NewGateway(nil)
	set := mustSet(t, echoTool("a"))
	calls := []schema.ToolCall{call("1", "a", `{"q":"x"}`), call("2", "a", `{"q":"y"}`)}

	first := gw.Execute(context.Background(), calls, set)
	second := gw.Execute(context.Background(), calls, set)
	for i := range first {
		if first[i].Content != second[i].Content || first[i].ToolCallID != second[i].ToolCallID {
			t.Errorf("response %d differs: %q vs %q", i, first[i].Content, second[i].Content)
		}
	}
}

func TestGatewayExecute_EmptyResultAndPanic(t *testing.T) {
	gw := NewGateway(nil)
	empty := NewFuncTool(ToolSpec{Name: "empty"}, func(context.Context, Args) (any, error) { return "", nil })
	panicky := NewFuncTool(ToolSpec{Name: "panicky"}, func(context.Context, Args) (any, error) { panic("kaboom") })
	set := mustSet(t, empty, panicky)

	msgs := gw.Execute(context.Background(), []schema.ToolCall{call("1", "empty", "")}, set)
	if msgs[0].Content != EmptyResult {
		t.Errorf("Content = %q, want %q", msgs[0].Content, EmptyResult)
	}

	msgs = gw.Execute(context.Background(), []schema.ToolCall{call("1", "panicky", "")}, set)
	if !strings.Contains(msgs[0].Content, "kaboom") {
		t.Errorf("Content = %q, want panic described", msgs[0].Content)
	}
}

func TestGatewayExecute_CancelledContext(t *testing.T) {
	gw := NewGateway(nil)
	set := mustSet(t, echoTool("a"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	msgs := gw.Execute(ctx, []schema.ToolCall{call("1", "a", `{"q":"x"}`)}, set)
	if len(msgs) != 1 || !strings.Contains(msgs[0].Content, "context canceled") {
		t.Fatalf("msgs = %+v", msgs)
	}
}

func TestGatewayExecute_PublishesEvents(t *testing.T) {
	bus := events.NewBus(16)
	defer bus.Close()
	ch, unsub := bus.SubscribeChan(8, events.EventToolCall)
	defer unsub()

	gw := NewGateway(bus)
	ctx := events.ContextWithSessionID(context.Background(), "sess_1")
	gw.Execute(ctx, []schema.ToolCall{call("1", "a", `{"q":"x"}`)}, mustSet(t, echoTool("a")))

	var statuses []events.ToolStatus
	timeout := time.After(time.Second)
	for len(statuses) < 2 {
		select {
		case e := <-ch:
			p, ok := events.ExtractPayload[events.ToolCallPayload](e)
			if !ok {
				t.Fatal("bad payload")
			}
			if e.SessionID != "sess_1" {
				t.Errorf("SessionID = %q, want sess_1", e.SessionID)
			}
			statuses = append(statuses, p.Status)
		case <-timeout:
			t.Fatalf("timeout, got %v", statuses)
		}
	}
}

func TestErrorTextFormat(t *testing.T) {
	got := ErrorText(errors.New("hub unreachable"))
	want := "Error: *errors.errorString(\"hub unreachable\")\n please fix your mistakes."
	if got != want {
		t.Errorf("ErrorText = %q, want %q", got, want)
	}

	got = ErrorText(&UnknownToolError{Name: "drop_table"})
	if !strings.HasPrefix(got, "Error: *toolexec.UnknownToolError(") {
		t.Errorf("ErrorText = %q", got)
	}
}
