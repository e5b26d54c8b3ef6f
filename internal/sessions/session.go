// Package sessions persists dialog sessions: metadata, the dialog stack,
// the side context and the append-only transcript.
package sessions

import (
	"errors"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/dohr-michael/dbtpilot/internal/dialog"
)

// ErrNotFound is returned when a session id is unknown.
var ErrNotFound = errors.New("session not found")

// SessionStatus represents the lifecycle state of a session.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionClosed SessionStatus = "closed"
)

// TokenUsage tracks cumulative token consumption for a session.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// Session holds metadata about a conversation session.
type Session struct {
	ID                 string            `json:"id"`
	Title              string            `json:"title"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
	Status             SessionStatus     `json:"status"`
	MessageCount       int               `json:"message_count"`
	Turns              int               `json:"turns"`
	TokenUsage         TokenUsage        `json:"token_usage"`
	Stack              []string          `json:"dialog_stack"`
	SideContext        map[string]any    `json:"side_context,omitempty"`
	SideContextFetched bool              `json:"side_context_fetched,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// Message is one persisted transcript entry.
type Message struct {
	Message *schema.Message `json:"message"`
	Ts      time.Time       `json:"ts"`
}

// Store defines the persistence interface for sessions.
type Store interface {
	Create() (*Session, error)
	Get(id string) (*Session, error)
	List() ([]*Session, error)
	UpdateMeta(s *Session) error
	Close(id string) error
	AppendMessages(sessionID string, msgs ...*schema.Message) error
	LoadMessages(sessionID string) ([]Message, error)
}

const titleMax = 60

// LoadState rebuilds the dialog state of a session.
func LoadState(store Store, id string) (*Session, *dialog.State, error) {
	s, err := store.Get(id)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := store.LoadMessages(id)
	if err != nil {
		return nil, nil, err
	}

	st := dialog.New()
	for _, m := range msgs {
		if m.Message != nil {
			st.Messages = append(st.Messages, m.Message)
		}
	}
	st.Stack = dialog.NewStack(s.Stack...)
	st.SideContext = s.SideContext
	st.SideContextFetched = s.SideContextFetched
	s.MessageCount = len(st.Messages)
	return s, st, nil
}

// SaveState appends the messages of st not yet persisted and rewrites the
// session metadata. Earlier messages are never rewritten.
func SaveState(store Store, s *Session, st *dialog.State) error {
	if n := len(st.Messages); n > s.MessageCount {
		if err := store.AppendMessages(s.ID, st.Messages[s.MessageCount:]...); err != nil {
			return err
		}
	}
	s.MessageCount = len(st.Messages)
	s.Stack = st.Stack.Names()
	s.SideContext = st.SideContext
	s.SideContextFetched = st.SideContextFetched
	if s.Title == "" {
		s.Title = titleFrom(st.Messages)
	}
	s.UpdatedAt = time.Now()
	return store.UpdateMeta(s)
}

func titleFrom(msgs []*schema.Message) string {
	for _, m := range msgs {
		if m.Role != schema.User {
			continue
		}
		t := strings.Join(strings.Fields(m.Content), " ")
		if r := []rune(t); len(r) > titleMax {
			t = string(r[:titleMax-3]) + "..."
		}
		return t
	}
	return ""
}

func stamp(msgs []*schema.Message) []Message {
	now := time.Now()
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = Message{Message: m, Ts: now}
	}
	return out
}
