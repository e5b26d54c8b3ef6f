package agent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/dohr-michael/dbtpilot/internal/sessions"
	"github.com/dohr-michael/dbtpilot/internal/skills"
)

type fixedUsage struct{ in, out int }

func (u fixedUsage) Drain(string) sessions.TokenUsage {
	return sessions.TokenUsage{Input: u.in, Output: u.out}
}

func TestServiceSendPersistsAcrossTurns(t *testing.T) {
	f := newFixture(t,
		script("router", calling(tc("d1", toPackages, `{"request":"dates"}`))),
		script("packages", final("use dbt_date"), final("you're welcome")),
		nil,
	)
	store := sessions.NewFileStore(t.TempDir())
	svc := NewService(f.orch, store, nil)

	sess, res, err := svc.Send(context.Background(), "", "date package?")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Reply.Content != "use dbt_date" {
		t.Errorf("reply = %q", res.Reply.Content)
	}

	// A fresh service over the same store resumes inside the skill.
	svc2 := NewService(f.orch, store, nil)
	_, res, err = svc2.Send(context.Background(), sess.ID, "thanks")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Path[0].String() != "SKILL[retrieve_packages]" {
		t.Errorf("resumed at %s, want SKILL[retrieve_packages]", res.Path[0])
	}

	got, err := store.Get(sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Turns != 2 || len(got.Stack) != 1 || got.Title != "date package?" {
		t.Errorf("meta = %+v", got)
	}

	history, err := svc.History(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 6 {
		t.Errorf("history = %d messages, want 6", len(history))
	}
	assertAnswered(t, history)
}

func TestServicePersistsPartialTurn(t *testing.T) {
	f := newFixture(t,
		script("router",
			calling(tc("r1", "list_accounts", `{}`)),
			func([]*schema.Message) (*schema.Message, error) { return nil, errors.New("overloaded") },
		),
		nil, nil,
	)
	store := sessions.NewFileStore(t.TempDir())
	svc := NewService(f.orch, store, nil)

	sess, _, err := svc.Send(context.Background(), "", "accounts?")
	if err == nil {
		t.Fatal("expected responder error")
	}

	msgs, err := store.LoadMessages(sess.ID)
	if err != nil {
		t.Fatalf("LoadMessages: %v", err)
	}
	if len(msgs) != 3 {
		t.Errorf("persisted %d messages, want user + call + result", len(msgs))
	}
}

func TestServiceUsage(t *testing.T) {
	f := newFixture(t, script("router", final("hi")), nil, nil)
	store := sessions.NewFileStore(t.TempDir())
	svc := NewService(f.orch, store, nil, WithUsage(fixedUsage{in: 10, out: 2}))

	sess, _, err := svc.Send(context.Background(), "", "hello")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	got, _ := store.Get(sess.ID)
	if got.TokenUsage.Input == 0 || got.TokenUsage.Output == 0 {
		t.Errorf("usage = %+v", got.TokenUsage)
	}
}

func TestServiceClosedSession(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	store := sessions.NewFileStore(t.TempDir())
	svc := NewService(f.orch, store, nil)

	sess, err := svc.OpenSession(context.Background())
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if err := svc.CloseSession(context.Background(), sess.ID); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}
	if _, _, err := svc.Send(context.Background(), sess.ID, "hi"); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("err = %v, want ErrSessionClosed", err)
	}
	if _, _, err := svc.Send(context.Background(), "sess_missing", "hi"); !errors.Is(err, sessions.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestServiceReleasesSessionLocks(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	store := sessions.NewFileStore(t.TempDir())
	svc := NewService(f.orch, store, nil)

	for i := 0; i < 3; i++ {
		if _, _, err := svc.Send(context.Background(), "sess_missing", "hi"); !errors.Is(err, sessions.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	}
	if err := svc.CloseSession(context.Background(), "sess_gone"); err == nil {
		t.Fatal("closing an unknown session succeeded")
	}
	if n := svc.heldLocks(); n != 0 {
		t.Fatalf("unknown sessions left %d locks", n)
	}

	sess, err := svc.OpenSession(context.Background())
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if err := svc.CloseSession(context.Background(), sess.ID); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}
	if n := svc.heldLocks(); n != 0 {
		t.Fatalf("closed session left %d locks", n)
	}
}

// blocking lets the test observe how many turns run at once.
type blocking struct {
	active, peak atomic.Int32
}

func (b *blocking) Respond(context.Context, []*schema.Message, map[string]any) (*schema.Message, error) {
	n := b.active.Add(1)
	for {
		p := b.peak.Load()
		if n <= p || b.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	b.active.Add(-1)
	return schema.AssistantMessage("ok", nil), nil
}

func TestServiceSerialisesTurnsPerSession(t *testing.T) {
	b := &blocking{}
	f := newFixture(t, nil, nil, nil, func(c *Config) { c.Responders[skills.RouterName] = b })
	store := sessions.NewFileStore(t.TempDir())
	svc := NewService(f.orch, store, nil)

	sess, err := svc.OpenSession(context.Background())
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := svc.Send(context.Background(), sess.ID, "hi"); err != nil {
				t.Errorf("Send: %v", err)
			}
		}()
	}
	wg.Wait()

	if b.peak.Load() != 1 {
		t.Errorf("peak concurrent turns = %d, want 1", b.peak.Load())
	}
	history, err := svc.History(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 8 {
		t.Errorf("history = %d, want 8", len(history))
	}
}

func TestServiceParallelSessions(t *testing.T) {
	b := &blocking{}
	f := newFixture(t, nil, nil, nil, func(c *Config) { c.Responders[skills.RouterName] = b })
	svc := NewService(f.orch, sessions.NewFileStore(t.TempDir()), nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := svc.Send(context.Background(), "", "hi"); err != nil {
				t.Errorf("Send: %v", err)
			}
		}()
	}
	wg.Wait()

	if b.peak.Load() < 2 {
		t.Errorf("peak concurrent turns = %d, want sessions to run in parallel", b.peak.Load())
	}
}
