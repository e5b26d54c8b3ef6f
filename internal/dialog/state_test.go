package dialog

import (
	"encoding/json"
	"testing"

	"github.com/cloudwego/eino/schema"
)

func callMsg(ids ...string) *schema.Message {
	calls := make([]schema.ToolCall, len(ids))
	for i, id := range ids {
		calls[i] = schema.ToolCall{ID: id, Function: schema.FunctionCall{Name: "search_packages", Arguments: "{}"}}
	}
	return schema.AssistantMessage("", calls)
}

func TestApplyPushAndPop(t *testing.T) {
	st := New()
	st.Apply(Update{
		Messages: []*schema.Message{schema.ToolMessage("entered", "call_1")},
		Stack:    StackPush,
		Push:     []string{"retrieve_packages"},
	})
	if st.Active() != "retrieve_packages" {
		t.Fatalf("Active = %q, want retrieve_packages", st.Active())
	}
	if len(st.Messages) != 1 {
		t.Fatalf("len(Messages) = %d, want 1", len(st.Messages))
	}

	st.Apply(Update{Stack: StackPop})
	st.Apply(Update{Stack: StackPop})
	if st.Active() != "" || st.Stack.Len() != 0 {
		t.Fatalf("stack = %v, want empty", st.Stack.Names())
	}
}

func TestApplySideContext(t *testing.T) {
	st := New()
	if !st.NeedsSideContext() {
		t.Fatal("new state should need side context")
	}
	st.Apply(Update{MarkFetched: true})
	if st.NeedsSideContext() {
		t.Fatal("fetched state should not need side context")
	}

	st = New()
	st.Apply(Update{SideContext: map[string]any{"account_id": 1}})
	if st.NeedsSideContext() {
		t.Fatal("populated side context should not be fetched again")
	}
}

func TestUnanswered(t *testing.T) {
	st := New()
	st.Append(
		schema.UserMessage("find packages"),
		callMsg("a", "b"),
		schema.ToolMessage("ok", "a"),
	)

	got := st.Unanswered()
	if len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("Unanswered = %+v, want [b]", got)
	}

	st.Append(schema.ToolMessage("ok", "b"))
	if got := st.Unanswered(); len(got) != 0 {
		t.Fatalf("Unanswered = %+v, want none", got)
	}
}

func TestCloneIsolation(t *testing.T) {
	st := New()
	st.Append(schema.UserMessage("hi"))
	st.Stack.Push("retrieve_docs")
	st.SideContext = map[string]any{"account_id": 1}

	cp := st.Clone()
	cp.Append(schema.UserMessage("more"))
	cp.Stack.Pop()
	cp.SideContext["account_id"] = 2

	if len(st.Messages) != 1 {
		t.Errorf("original transcript grew to %d", len(st.Messages))
	}
	if st.Active() != "retrieve_docs" {
		t.Errorf("original stack changed: %v", st.Stack.Names())
	}
	if st.SideContext["account_id"] != 1 {
		t.Errorf("original side context changed: %v", st.SideContext)
	}
}

func TestStateJSON(t *testing.T) {
	st := New()
	st.Append(schema.UserMessage("hi"), callMsg("x"))
	st.Stack.Push("retrieve_metadata")
	st.SideContextFetched = true

	data, err := json.Marshal(st)
	if err != nil {
		t.Fatal(err)
	}
	var back State
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back.Active() != "retrieve_metadata" {
		t.Errorf("Active = %q, want retrieve_metadata", back.Active())
	}
	if len(back.Messages) != 2 || back.Messages[1].ToolCalls[0].ID != "x" {
		t.Errorf("messages not restored: %+v", back.Messages)
	}
	if !back.SideContextFetched {
		t.Error("SideContextFetched lost")
	}
}
