package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/dohr-michael/dbtpilot/internal/dialog"
	"github.com/dohr-michael/dbtpilot/internal/events"
	"github.com/dohr-michael/dbtpilot/internal/skills"
	"github.com/dohr-michael/dbtpilot/internal/toolexec"
)

const (
	packagesSkill = skills.Packages
	docsSkill     = skills.Docs
	toPackages    = "ToDbtHubAssistant"
	toDocs        = "ToDocsAssistant"
)

// scripted replays canned messages and records every transcript it saw.
type scripted struct {
	mu    sync.Mutex
	name  string
	steps []func(transcript []*schema.Message) (*schema.Message, error)
	seen  [][]*schema.Message
}

func script(name string, steps ...func([]*schema.Message) (*schema.Message, error)) *scripted {
	return &scripted{name: name, steps: steps}
}

func (s *scripted) Respond(_ context.Context, transcript []*schema.Message, _ map[string]any) (*schema.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seen = append(s.seen, append([]*schema.Message(nil), transcript...))
	if len(s.seen) > len(s.steps) {
		return nil, fmt.Errorf("%s: unexpected call %d", s.name, len(s.seen))
	}
	return s.steps[len(s.seen)-1](transcript)
}

func (s *scripted) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

func final(text string) func([]*schema.Message) (*schema.Message, error) {
	return func([]*schema.Message) (*schema.Message, error) {
		return schema.AssistantMessage(text, nil), nil
	}
}

func calling(calls ...schema.ToolCall) func([]*schema.Message) (*schema.Message, error) {
	return func([]*schema.Message) (*schema.Message, error) {
		return schema.AssistantMessage("", calls), nil
	}
}

func tc(id, name, args string) schema.ToolCall {
	return schema.ToolCall{ID: id, Function: schema.FunctionCall{Name: name, Arguments: args}}
}

func testRegistry(t *testing.T) *skills.Registry {
	t.Helper()
	reg, err := skills.NewRegistry(&skills.Skill{Name: skills.RouterName, Title: "Primary Assistant", Instruction: "route"})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	for _, s := range []*skills.Skill{
		{Name: packagesSkill, Title: "Hub Assistant", DelegationTool: toPackages, Description: "packages", Instruction: "hub"},
		{Name: docsSkill, Title: "Docs Assistant", DelegationTool: toDocs, Description: "docs", Instruction: "docs"},
	} {
		if err := reg.Register(s); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	reg.Freeze()
	return reg
}

func testTools() map[string]toolexec.ToolSet {
	search := toolexec.NewFuncTool(toolexec.ToolSpec{
		Name:       "dbt_hub_package_search",
		Parameters: map[string]toolexec.ParamSpec{"query": {Type: "string", Required: true}},
	}, func(_ context.Context, args toolexec.Args) (any, error) {
		return "found:" + args.String("query"), nil
	})
	boom := toolexec.NewFuncTool(toolexec.ToolSpec{Name: "boom"}, func(context.Context, toolexec.Args) (any, error) {
		return nil, errors.New("hub unreachable")
	})
	accounts := toolexec.NewFuncTool(toolexec.ToolSpec{Name: "list_accounts"}, func(context.Context, toolexec.Args) (any, error) {
		return []map[string]any{{"id": 1}}, nil
	})
	return map[string]toolexec.ToolSet{
		skills.RouterName: {"list_accounts": accounts},
		packagesSkill:     {"dbt_hub_package_search": search, "boom": boom},
		docsSkill:         {},
	}
}

type fixture struct {
	orch     *Orchestrator
	router   *scripted
	packages *scripted
	docs     *scripted
}

func newFixture(t *testing.T, router, packages, docs *scripted, mutate ...func(*Config)) *fixture {
	t.Helper()
	if router == nil {
		router = script("router")
	}
	if packages == nil {
		packages = script("packages")
	}
	if docs == nil {
		docs = script("docs")
	}
	cfg := Config{
		Registry: testRegistry(t),
		Responders: map[string]Responder{
			skills.RouterName: router,
			packagesSkill:     packages,
			docsSkill:         docs,
		},
		Tools: testTools(),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	orch, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{orch: orch, router: router, packages: packages, docs: docs}
}

// assertAnswered checks that every requested action has exactly one
// correlated response and that it precedes the next assistant message.
func assertAnswered(t *testing.T, msgs []*schema.Message) {
	t.Helper()
	open := map[string]bool{}
	answered := map[string]int{}
	for i, m := range msgs {
		switch m.Role {
		case schema.Assistant:
			if len(open) > 0 {
				t.Fatalf("message %d: assistant spoke with unanswered calls %v", i, open)
			}
			for _, c := range m.ToolCalls {
				open[c.ID] = true
			}
		case schema.Tool:
			if !open[m.ToolCallID] {
				t.Fatalf("message %d: response to unknown or closed call %q", i, m.ToolCallID)
			}
			delete(open, m.ToolCallID)
			answered[m.ToolCallID]++
		case schema.User:
			if len(open) > 0 {
				t.Fatalf("message %d: user turn with unanswered calls %v", i, open)
			}
		}
	}
	for id, n := range answered {
		if n != 1 {
			t.Errorf("call %s answered %d times", id, n)
		}
	}
}

func pathOf(res *TurnResult) string {
	return strings.Join(pathStrings(res.Path), " -> ")
}

func TestRouterDelegationEntersSkill(t *testing.T) {
	f := newFixture(t,
		script("router", calling(tc("d1", toPackages, `{"request":"date packages"}`))),
		script("packages", final("use dbt_date")),
		nil,
	)
	st := dialog.New()

	res, err := f.orch.RunTurn(context.Background(), st, "which package handles dates?", nil)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	if got, want := pathOf(res), "ROUTER -> ENTER_SKILL[retrieve_packages] -> SKILL[retrieve_packages] -> DONE"; got != want {
		t.Errorf("path = %s, want %s", got, want)
	}
	if got := st.Stack.Names(); len(got) != 1 || got[0] != packagesSkill {
		t.Errorf("stack = %v, want [retrieve_packages]", got)
	}
	if len(st.Messages) != 4 {
		t.Fatalf("messages = %d, want 4", len(st.Messages))
	}
	entry := st.Messages[2]
	if entry.Role != schema.Tool || entry.ToolCallID != "d1" {
		t.Errorf("entry message = %+v, want tool response to d1", entry)
	}
	s, _ := f.orch.Registry().Get(packagesSkill)
	if entry.Content != skills.EntryText(s) {
		t.Errorf("entry content = %q", entry.Content)
	}
	if res.Reply.Content != "use dbt_date" {
		t.Errorf("reply = %q", res.Reply.Content)
	}
	assertAnswered(t, st.Messages)
}

func TestSkillEscalationPopsToRouter(t *testing.T) {
	f := newFixture(t,
		script("router", final("how else can I help?")),
		script("packages", calling(tc("c1", skills.CancelToolName, `{"reason":"not a package question"}`))),
		nil,
	)
	st := dialog.New()
	st.Stack.Push(packagesSkill)
	st.SideContextFetched = true

	res, err := f.orch.RunTurn(context.Background(), st, "actually, cancel my run", nil)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	if got, want := pathOf(res), "SKILL[retrieve_packages] -> LEAVE_SKILL -> ROUTER -> DONE"; got != want {
		t.Errorf("path = %s, want %s", got, want)
	}
	if !st.Stack.Empty() {
		t.Errorf("stack = %v, want empty", st.Stack.Names())
	}
	resume := st.Messages[2]
	if resume.Role != schema.Tool || resume.ToolCallID != "c1" || resume.Content != skills.ResumeText {
		t.Errorf("resume message = %+v", resume)
	}
	if f.router.calls() != 1 {
		t.Errorf("router called %d times, want 1", f.router.calls())
	}
	// The router sees the resumption message.
	if seen := f.router.seen[0]; seen[len(seen)-1] != resume {
		t.Error("router did not see the resumption message last")
	}
	assertAnswered(t, st.Messages)
}

func TestToolErrorAnswersEveryCallInBatch(t *testing.T) {
	f := newFixture(t, nil,
		script("packages",
			calling(tc("t1", "boom", `{}`), tc("t2", "dbt_hub_package_search", `{"query":"dates"}`)),
			final("sorry, the hub is down"),
		),
		nil,
	)
	st := dialog.New()
	st.Stack.Push(packagesSkill)

	res, err := f.orch.RunTurn(context.Background(), st, "find date packages", nil)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if got, want := pathOf(res), "SKILL[retrieve_packages] -> SKILL[retrieve_packages]_TOOLS -> SKILL[retrieve_packages] -> DONE"; got != want {
		t.Errorf("path = %s, want %s", got, want)
	}

	var errs []*schema.Message
	for _, m := range st.Messages {
		if m.Role == schema.Tool {
			errs = append(errs, m)
		}
	}
	if len(errs) != 2 {
		t.Fatalf("tool responses = %d, want 2", len(errs))
	}
	for i, m := range errs {
		if !strings.HasPrefix(m.Content, "Error: ") || !strings.HasSuffix(m.Content, "please fix your mistakes.") {
			t.Errorf("response %d = %q, want corrective error", i, m.Content)
		}
	}
	if errs[0].ToolCallID != "t1" || errs[1].ToolCallID != "t2" {
		t.Errorf("correlation ids = %s, %s", errs[0].ToolCallID, errs[1].ToolCallID)
	}
	assertAnswered(t, st.Messages)
}

func TestSideContextFetchedOncePerSession(t *testing.T) {
	var fetches int
	provider := SideContextFunc(func(context.Context) (map[string]any, error) {
		fetches++
		return map[string]any{"account_id": 7, "account_name": "acme", "account_plan": "team"}, nil
	})
	f := newFixture(t, script("router", final("one"), final("two"), final("three")), nil, nil,
		func(c *Config) { c.SideContext = provider })
	st := dialog.New()

	for i := 0; i < 3; i++ {
		if _, err := f.orch.RunTurn(context.Background(), st, "hi", nil); err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
	}
	if fetches != 1 {
		t.Errorf("provider called %d times, want 1", fetches)
	}
	if st.SideContext["account_name"] != "acme" {
		t.Errorf("side context = %v", st.SideContext)
	}
}

func TestPrepopulatedSideContextNotFetched(t *testing.T) {
	provider := SideContextFunc(func(context.Context) (map[string]any, error) {
		t.Fatal("provider must not be called")
		return nil, nil
	})
	f := newFixture(t, script("router", final("ok")), nil, nil, func(c *Config) { c.SideContext = provider })
	st := dialog.New()
	st.SideContext = map[string]any{"account_id": 1}

	res, err := f.orch.RunTurn(context.Background(), st, "hi", nil)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if res.Path[0].Kind != NodeRouter {
		t.Errorf("first node = %s, want ROUTER", res.Path[0])
	}
}

func TestSideContextFailureIsNotRetried(t *testing.T) {
	var fetches int
	provider := SideContextFunc(func(context.Context) (map[string]any, error) {
		fetches++
		return nil, errors.New("401 unauthorized")
	})
	f := newFixture(t, script("router", final("one"), final("two")), nil, nil, func(c *Config) { c.SideContext = provider })
	st := dialog.New()

	for i := 0; i < 2; i++ {
		if _, err := f.orch.RunTurn(context.Background(), st, "hi", nil); err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
	}
	if fetches != 1 {
		t.Errorf("provider called %d times, want 1", fetches)
	}
	if st.SideContext != nil || !st.SideContextFetched {
		t.Errorf("side context = %v fetched=%v", st.SideContext, st.SideContextFetched)
	}
}

func TestFinalAnswerEndsTurnAtAnyDepth(t *testing.T) {
	f := newFixture(t, nil, script("packages", final("done")), nil)
	st := dialog.New()
	st.Stack.Push(docsSkill, packagesSkill)

	res, err := f.orch.RunTurn(context.Background(), st, "thanks", nil)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if got, want := pathOf(res), "SKILL[retrieve_packages] -> DONE"; got != want {
		t.Errorf("path = %s, want %s", got, want)
	}
	if res.Steps != 1 {
		t.Errorf("steps = %d, want 1", res.Steps)
	}
	if st.Stack.Len() != 2 {
		t.Errorf("stack = %v, want unchanged", st.Stack.Names())
	}
}

func TestRoundTrip(t *testing.T) {
	f := newFixture(t,
		script("router",
			calling(tc("r1", "list_accounts", `{}`)),
			calling(tc("d1", toPackages, `{"request":"dates"}`)),
			final("dbt_date it is"),
		),
		script("packages",
			calling(tc("s1", "dbt_hub_package_search", `{"query":"date"}`)),
			calling(tc("s2", skills.CancelToolName, `{"cancel":true,"reason":"I have fully completed the task."}`)),
		),
		nil,
	)
	st := dialog.New()

	res, err := f.orch.RunTurn(context.Background(), st, "date package?", nil)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	want := strings.Join([]string{
		"ROUTER", "ROUTER_TOOLS", "ROUTER",
		"ENTER_SKILL[retrieve_packages]", "SKILL[retrieve_packages]",
		"SKILL[retrieve_packages]_TOOLS", "SKILL[retrieve_packages]",
		"LEAVE_SKILL", "ROUTER", "DONE",
	}, " -> ")
	if got := pathOf(res); got != want {
		t.Errorf("path =\n  %s\nwant\n  %s", got, want)
	}
	if res.Steps != 9 {
		t.Errorf("steps = %d, want 9", res.Steps)
	}
	if !st.Stack.Empty() {
		t.Errorf("stack = %v, want empty", st.Stack.Names())
	}
	assertAnswered(t, st.Messages)

	// The skill saw its tool result before answering again.
	second := f.packages.seen[1]
	if last := second[len(second)-1]; last.ToolCallID != "s1" || last.Content != "found:date" {
		t.Errorf("skill saw %+v", last)
	}
}

func TestLeaveAnswersSiblingCalls(t *testing.T) {
	f := newFixture(t,
		script("router", final("back")),
		script("packages", calling(
			tc("s1", "dbt_hub_package_search", `{"query":"x"}`),
			tc("s2", skills.CancelToolName, `{"reason":"need admin"}`),
		)),
		nil,
	)
	st := dialog.New()
	st.Stack.Push(packagesSkill)

	if _, err := f.orch.RunTurn(context.Background(), st, "go", nil); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if st.Messages[2].ToolCallID != "s1" || st.Messages[2].Content != skippedText {
		t.Errorf("sibling answer = %+v", st.Messages[2])
	}
	if st.Messages[3].ToolCallID != "s2" || st.Messages[3].Content != skills.ResumeText {
		t.Errorf("cancel answer = %+v", st.Messages[3])
	}
	assertAnswered(t, st.Messages)
}

func TestCancelAtRouterIsRecoverable(t *testing.T) {
	f := newFixture(t,
		script("router",
			calling(tc("x1", skills.CancelToolName, `{"reason":"done"}`)),
			final("ok"),
		),
		nil, nil,
	)
	st := dialog.New()

	res, err := f.orch.RunTurn(context.Background(), st, "hi", nil)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if got, want := pathOf(res), "ROUTER -> ROUTER_TOOLS -> ROUTER -> DONE"; got != want {
		t.Errorf("path = %s, want %s", got, want)
	}
	if !strings.HasPrefix(st.Messages[2].Content, "Error: ") {
		t.Errorf("router cancel answered with %q", st.Messages[2].Content)
	}
}

func TestRoutingFaults(t *testing.T) {
	tests := []struct {
		name  string
		calls []schema.ToolCall
	}{
		{"unknown action", []schema.ToolCall{tc("a", "drop_tables", `{}`)}},
		{"delegation mixed first", []schema.ToolCall{tc("a", toPackages, `{}`), tc("b", "list_accounts", `{}`)}},
		{"delegation mixed later", []schema.ToolCall{tc("a", "list_accounts", `{}`), tc("b", toDocs, `{}`)}},
		{"two delegations", []schema.ToolCall{tc("a", toDocs, `{}`), tc("b", toPackages, `{}`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, script("router", calling(tt.calls...)), nil, nil)
			st := dialog.New()

			_, err := f.orch.RunTurn(context.Background(), st, "hi", nil)
			if !errors.Is(err, ErrRoutingFault) {
				t.Fatalf("err = %v, want ErrRoutingFault", err)
			}
			if FailureKind(err) != "routing_fault" {
				t.Errorf("kind = %s", FailureKind(err))
			}
			if len(st.Messages) != 1 || !st.Stack.Empty() {
				t.Errorf("state changed: %d messages, stack %v", len(st.Messages), st.Stack.Names())
			}
		})
	}
}

func TestResponderFault(t *testing.T) {
	boom := errors.New("rate limited")
	f := newFixture(t, script("router", func([]*schema.Message) (*schema.Message, error) { return nil, boom }), nil, nil)
	st := dialog.New()

	_, err := f.orch.RunTurn(context.Background(), st, "hi", nil)
	var re *ResponderError
	if !errors.As(err, &re) || re.Skill != skills.RouterName {
		t.Fatalf("err = %v, want ResponderError from router", err)
	}
	if !errors.Is(err, boom) {
		t.Error("ResponderError does not unwrap to the cause")
	}
	if FailureKind(err) != "responder_fault" {
		t.Errorf("kind = %s", FailureKind(err))
	}
}

func TestResponderMessageChecks(t *testing.T) {
	t.Run("nil message", func(t *testing.T) {
		f := newFixture(t, script("router", func([]*schema.Message) (*schema.Message, error) { return nil, nil }), nil, nil)
		_, err := f.orch.RunTurn(context.Background(), dialog.New(), "hi", nil)
		var re *ResponderError
		if !errors.As(err, &re) {
			t.Fatalf("err = %v, want ResponderError", err)
		}
	})

	t.Run("duplicate ids", func(t *testing.T) {
		f := newFixture(t, script("router", calling(tc("a", "list_accounts", `{}`), tc("a", "list_accounts", `{}`))), nil, nil)
		_, err := f.orch.RunTurn(context.Background(), dialog.New(), "hi", nil)
		var re *ResponderError
		if !errors.As(err, &re) {
			t.Fatalf("err = %v, want ResponderError", err)
		}
	})

	t.Run("missing ids are assigned", func(t *testing.T) {
		f := newFixture(t, script("router", calling(tc("", "list_accounts", `{}`)), final("ok")), nil, nil)
		st := dialog.New()
		if _, err := f.orch.RunTurn(context.Background(), st, "hi", nil); err != nil {
			t.Fatalf("RunTurn: %v", err)
		}
		id := st.Messages[1].ToolCalls[0].ID
		if !strings.HasPrefix(id, "call_") {
			t.Errorf("assigned id = %q", id)
		}
		if st.Messages[2].ToolCallID != id {
			t.Errorf("response id = %q, want %q", st.Messages[2].ToolCallID, id)
		}
	})
}

func TestStepLimitAndRepair(t *testing.T) {
	loop := func([]*schema.Message) (*schema.Message, error) {
		return schema.AssistantMessage("", []schema.ToolCall{tc("", "dbt_hub_package_search", `{"query":"again"}`)}), nil
	}
	steps := make([]func([]*schema.Message) (*schema.Message, error), 0, 10)
	for i := 0; i < 3; i++ {
		steps = append(steps, loop)
	}
	steps = append(steps, final("giving up"))

	f := newFixture(t, nil, script("packages", steps...), nil, func(c *Config) { c.MaxSteps = 5 })
	st := dialog.New()
	st.Stack.Push(packagesSkill)

	res, err := f.orch.RunTurn(context.Background(), st, "loop", nil)
	if !errors.Is(err, ErrStepLimit) {
		t.Fatalf("err = %v, want ErrStepLimit", err)
	}
	if res.Steps != 5 {
		t.Errorf("steps = %d, want 5", res.Steps)
	}
	if len(st.Unanswered()) != 1 {
		t.Fatalf("unanswered = %d, want the last batch open", len(st.Unanswered()))
	}

	// The next turn answers the dangling call before the user message.
	if _, err := f.orch.RunTurn(context.Background(), st, "stop", nil); err != nil {
		t.Fatalf("RunTurn after abort: %v", err)
	}
	if len(st.Unanswered()) != 0 {
		t.Errorf("unanswered after repair = %d", len(st.Unanswered()))
	}
	assertAnswered(t, st.Messages)

	var interrupted int
	for _, m := range st.Messages {
		if m.Content == interruptedText {
			interrupted++
		}
	}
	if interrupted != 1 {
		t.Errorf("interrupted messages = %d, want 1", interrupted)
	}
}

func TestCancelledContext(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st := dialog.New()
	_, err := f.orch.RunTurn(ctx, st, "hi", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if FailureKind(err) != "cancelled" {
		t.Errorf("kind = %s", FailureKind(err))
	}
	if f.router.calls() != 0 {
		t.Error("router called after cancellation")
	}
}

func TestUnknownSkillOnStack(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	st := dialog.New()
	st.Stack.Push("retired_skill")

	_, err := f.orch.RunTurn(context.Background(), st, "hi", nil)
	if !errors.Is(err, ErrUnknownSkill) {
		t.Fatalf("err = %v, want ErrUnknownSkill", err)
	}
	if len(st.Messages) != 0 {
		t.Errorf("messages = %d, want none", len(st.Messages))
	}
}

func TestNewRequiresResponders(t *testing.T) {
	reg := testRegistry(t)
	_, err := New(Config{Registry: reg, Responders: map[string]Responder{skills.RouterName: script("router")}})
	if err == nil {
		t.Fatal("expected error for missing skill responders")
	}
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for missing registry")
	}
}

func TestPersistAfterEveryTransition(t *testing.T) {
	f := newFixture(t,
		script("router", calling(tc("d1", toDocs, `{"request":"x"}`))),
		nil,
		script("docs", final("see docs")),
	)
	st := dialog.New()

	var saved []int
	persist := func(_ context.Context, st *dialog.State, tr Transition) error {
		saved = append(saved, len(st.Messages))
		return nil
	}
	res, err := f.orch.RunTurn(context.Background(), st, "docs?", persist)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if len(saved) != res.Steps+1 {
		t.Fatalf("persisted %d times, want %d", len(saved), res.Steps+1)
	}
	for i := 1; i < len(saved); i++ {
		if saved[i] < saved[i-1] {
			t.Errorf("transcript shrank between saves: %v", saved)
		}
	}

	failing := func(context.Context, *dialog.State, Transition) error { return errors.New("disk full") }
	f2 := newFixture(t, script("router", final("x")), nil, nil)
	if _, err := f2.orch.RunTurn(context.Background(), dialog.New(), "hi", failing); err == nil {
		t.Fatal("expected persist error to abort the turn")
	}
}

func TestTurnEvents(t *testing.T) {
	bus := events.NewBus(64)
	defer bus.Close()
	ch, unsub := bus.SubscribeChan(32, events.EventSkillEntered, events.EventSkillLeft, events.EventTurnCompleted)
	defer unsub()

	f := newFixture(t,
		script("router", calling(tc("d1", toPackages, `{}`)), final("bye")),
		script("packages", calling(tc("c1", skills.CancelToolName, `{"reason":"done"}`))),
		nil,
		func(c *Config) { c.Bus = bus },
	)
	ctx := events.ContextWithSessionID(context.Background(), "sess_test")
	if _, err := f.orch.RunTurn(ctx, dialog.New(), "hi", nil); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	// Subscribers run concurrently; check membership, not order.
	got := map[events.EventType]bool{}
	timeout := time.After(time.Second)
	for len(got) < 3 {
		select {
		case e := <-ch:
			if e.SessionID != "sess_test" {
				t.Errorf("event %s session = %q", e.Type, e.SessionID)
			}
			if e.Type == events.EventSkillLeft {
				p, ok := events.ExtractPayload[events.SkillLeftPayload](e)
				if !ok || p.Reason != "done" || p.CallID != "c1" {
					t.Errorf("skill.left payload = %+v", p)
				}
			}
			got[e.Type] = true
		case <-timeout:
			t.Fatalf("timeout, got %v", got)
		}
	}
}
