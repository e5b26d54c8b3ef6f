package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cloudwego/eino/schema"

	"github.com/dohr-michael/dbtpilot/internal/dialog"
	"github.com/dohr-michael/dbtpilot/internal/events"
	"github.com/dohr-michael/dbtpilot/internal/sessions"
)

// UsageSource hands out token usage accumulated for a session since the
// previous call.
type UsageSource interface {
	Drain(sessionID string) sessions.TokenUsage
}

// Service runs turns against persisted sessions. Turns on one session are
// strictly sequential; different sessions run in parallel.
type Service struct {
	orch  *Orchestrator
	store sessions.Store
	bus   *events.Bus
	usage UsageSource

	mu    sync.Mutex
	locks map[string]*sessionLock
}

// sessionLock serialises turns on one session. It is dropped from the map
// once no caller holds or waits for it.
type sessionLock struct {
	sync.Mutex
	refs int
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithUsage folds token usage from src into session metadata.
func WithUsage(src UsageSource) ServiceOption {
	return func(s *Service) { s.usage = src }
}

// NewService builds a Service over orch and store.
func NewService(orch *Orchestrator, store sessions.Store, bus *events.Bus, opts ...ServiceOption) *Service {
	s := &Service{
		orch:  orch,
		store: store,
		bus:   bus,
		locks: make(map[string]*sessionLock),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Orchestrator returns the state machine the service drives.
func (s *Service) Orchestrator() *Orchestrator { return s.orch }

// Store returns the session store.
func (s *Service) Store() sessions.Store { return s.store }

// OpenSession creates a new empty session.
func (s *Service) OpenSession(ctx context.Context) (*sessions.Session, error) {
	sess, err := s.store.Create()
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	slog.Info("session created", "session_id", sess.ID)
	s.bus.Publish(events.NewTypedEventWithSession(events.SourceStore, events.SessionCreatedPayload{Backend: fmt.Sprintf("%T", s.store)}, sess.ID))
	return sess, nil
}

// CloseSession marks a session closed. Closed sessions reject new turns.
func (s *Service) CloseSession(ctx context.Context, id string) error {
	s.acquire(id)
	defer s.release(id)

	if err := s.store.Close(id); err != nil {
		return err
	}
	e := events.NewEvent(events.EventSessionClosed, events.SourceStore, nil)
	e.SessionID = id
	s.bus.Publish(e)
	return nil
}

// History returns the transcript of a session.
func (s *Service) History(ctx context.Context, id string) ([]*schema.Message, error) {
	_, st, err := sessions.LoadState(s.store, id)
	if err != nil {
		return nil, err
	}
	return st.Messages, nil
}

// Send runs one turn on the session with id, creating a session when id
// is empty. Every transition is persisted before the next one runs.
func (s *Service) Send(ctx context.Context, id, text string) (*sessions.Session, *TurnResult, error) {
	if id == "" {
		sess, err := s.OpenSession(ctx)
		if err != nil {
			return nil, nil, err
		}
		id = sess.ID
	}

	s.acquire(id)
	defer s.release(id)

	sess, st, err := sessions.LoadState(s.store, id)
	if err != nil {
		return nil, nil, err
	}
	if sess.Status == sessions.SessionClosed {
		return sess, nil, fmt.Errorf("session %s: %w", id, ErrSessionClosed)
	}

	sess.Turns++
	ctx = events.ContextWithSessionID(ctx, id)
	ctx = events.ContextWithTurn(ctx, sess.Turns)

	persist := func(ctx context.Context, st *dialog.State, _ Transition) error {
		return s.save(sess, st)
	}

	res, runErr := s.orch.RunTurn(ctx, st, text, persist)
	if err := s.save(sess, st); err != nil && runErr == nil {
		runErr = fmt.Errorf("persist state: %w", err)
	}
	return sess, res, runErr
}

func (s *Service) save(sess *sessions.Session, st *dialog.State) error {
	if s.usage != nil {
		u := s.usage.Drain(sess.ID)
		sess.TokenUsage.Input += u.Input
		sess.TokenUsage.Output += u.Output
	}
	return sessions.SaveState(s.store, sess, st)
}

func (s *Service) acquire(id string) {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sessionLock{}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.Lock()
}

func (s *Service) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.locks[id]
	l.Unlock()
	if l.refs--; l.refs == 0 {
		delete(s.locks, id)
	}
}

// heldLocks returns the number of sessions with a turn running or queued.
func (s *Service) heldLocks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
