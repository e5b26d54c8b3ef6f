package callbacks

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/dohr-michael/dbtpilot/internal/events"
)

func TestTruncatePayload_Short(t *testing.T) {
	result := truncatePayload("hello", 100)
	if result != "hello" {
		t.Fatalf("expected %q, got %q", "hello", result)
	}
}

func TestTruncatePayload_Long(t *testing.T) {
	s := strings.Repeat("x", 200)
	result := truncatePayload(s, 100)
	if len(result) != 100+len("... (truncated)") {
		t.Fatalf("expected truncated length %d, got %d", 100+len("... (truncated)"), len(result))
	}
	if !strings.HasSuffix(result, "... (truncated)") {
		t.Fatalf("expected suffix '... (truncated)', got %q", result[len(result)-20:])
	}
}

func TestTruncatePayload_ZeroMax(t *testing.T) {
	s := "hello world"
	result := truncatePayload(s, 0)
	if result != s {
		t.Fatalf("expected original string when maxLen=0, got %q", result)
	}
}

func recv(t *testing.T, ch <-chan events.Event) events.LLMCallPayload {
	t.Helper()
	select {
	case e := <-ch:
		p, ok := events.ExtractPayload[events.LLMCallPayload](e)
		if !ok {
			t.Fatalf("unexpected event %s", e.Type)
		}
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return events.LLMCallPayload{}
}

func runCtx(bus *events.Bus) context.Context {
	ctx := events.ContextWithSessionID(context.Background(), "sess_test")
	return callbacks.InitCallbacks(ctx, &callbacks.RunInfo{
		Name:      "retrieve_docs",
		Type:      "ChatModel",
		Component: components.ComponentOfChatModel,
	}, NewEventBusHandler(bus, ""))
}

func TestEventBusHandler_RequestResponse(t *testing.T) {
	bus := events.NewBus(16)
	defer bus.Close()
	ch, unsub := bus.SubscribeChan(8, events.EventLLMCall)
	defer unsub()

	ctx := runCtx(bus)
	ctx = callbacks.OnStart(ctx, &model.CallbackInput{
		Messages: []*schema.Message{schema.SystemMessage("s"), schema.UserMessage("u")},
		Config:   &model.Config{Model: "gpt-4o-mini"},
	})
	callbacks.OnEnd(ctx, &model.CallbackOutput{
		Message:    schema.AssistantMessage("a", nil),
		Config:     &model.Config{Model: "gpt-4o-mini"},
		TokenUsage: &model.TokenUsage{PromptTokens: 12, CompletionTokens: 3},
	})

	// Handlers run concurrently, so the two phases may arrive in any order.
	got := map[string]events.LLMCallPayload{}
	for i := 0; i < 2; i++ {
		p := recv(t, ch)
		got[p.Phase] = p
	}
	req := got["request"]
	if req.Phase != "request" || req.Skill != "retrieve_docs" || req.Model != "gpt-4o-mini" || req.MessageCount != 2 {
		t.Errorf("request = %+v", req)
	}
	resp := got["response"]
	if resp.Phase != "response" || resp.TokensInput != 12 || resp.TokensOutput != 3 {
		t.Errorf("response = %+v", resp)
	}
}

func TestEventBusHandler_UsageFromResponseMeta(t *testing.T) {
	bus := events.NewBus(16)
	defer bus.Close()
	ch, unsub := bus.SubscribeChan(8, events.EventLLMCall)
	defer unsub()

	msg := schema.AssistantMessage("a", nil)
	msg.ResponseMeta = &schema.ResponseMeta{Usage: &schema.TokenUsage{PromptTokens: 7, CompletionTokens: 2}}
	callbacks.OnEnd(runCtx(bus), &model.CallbackOutput{Message: msg})

	resp := recv(t, ch)
	if resp.TokensInput != 7 || resp.TokensOutput != 2 {
		t.Errorf("response = %+v", resp)
	}
}

func TestEventBusHandler_ErrorCarriesSession(t *testing.T) {
	bus := events.NewBus(16)
	defer bus.Close()
	ch, unsub := bus.SubscribeChan(8, events.EventLLMCall)
	defer unsub()

	callbacks.OnError(runCtx(bus), errors.New("429 too many requests"))

	select {
	case e := <-ch:
		if e.SessionID != "sess_test" {
			t.Errorf("session = %q", e.SessionID)
		}
		p, _ := events.ExtractPayload[events.LLMCallPayload](e)
		if p.Phase != "error" || p.Error != "429 too many requests" {
			t.Errorf("payload = %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}
