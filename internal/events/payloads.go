package events

import (
	"encoding/json"
	"time"
)

// EventPayload is the interface all typed payloads implement.
type EventPayload interface {
	EventType() EventType
}

// =============================================================================
// CONVERSATION EVENTS
// =============================================================================

type UserMessagePayload struct {
	Content string `json:"content"`
}

func (UserMessagePayload) EventType() EventType { return EventUserMessage }

type AssistantMessagePayload struct {
	Skill     string   `json:"skill,omitempty"`
	Content   string   `json:"content"`
	ToolCalls []string `json:"tool_calls,omitempty"`
}

func (AssistantMessagePayload) EventType() EventType { return EventAssistantMessage }

// =============================================================================
// TOOL EVENTS
// =============================================================================

type ToolStatus string

const (
	ToolStatusStarted   ToolStatus = "started"
	ToolStatusCompleted ToolStatus = "completed"
	ToolStatusFailed    ToolStatus = "failed"
)

type ToolCallPayload struct {
	Status    ToolStatus `json:"status"`
	CallID    string     `json:"call_id"`
	Name      string     `json:"name"`
	Arguments string     `json:"arguments,omitempty"`
	Result    string     `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
}

func (ToolCallPayload) EventType() EventType { return EventToolCall }

// =============================================================================
// DIALOG EVENTS
// =============================================================================

type TransitionPayload struct {
	From  string   `json:"from"`
	To    string   `json:"to"`
	Step  int      `json:"step"`
	Stack []string `json:"stack"`
}

func (TransitionPayload) EventType() EventType { return EventTransition }

type SkillEnteredPayload struct {
	Skill  string `json:"skill"`
	CallID string `json:"call_id"`
	Depth  int    `json:"depth"`
}

func (SkillEnteredPayload) EventType() EventType { return EventSkillEntered }

type SkillLeftPayload struct {
	Skill  string `json:"skill"`
	CallID string `json:"call_id"`
	Reason string `json:"reason,omitempty"`
}

func (SkillLeftPayload) EventType() EventType { return EventSkillLeft }

// =============================================================================
// TURN EVENTS
// =============================================================================

type TurnCompletedPayload struct {
	Turn     int           `json:"turn"`
	Steps    int           `json:"steps"`
	Path     []string      `json:"path"`
	Duration time.Duration `json:"duration"`
}

func (TurnCompletedPayload) EventType() EventType { return EventTurnCompleted }

type TurnFailedPayload struct {
	Turn  int    `json:"turn"`
	Steps int    `json:"steps"`
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

func (TurnFailedPayload) EventType() EventType { return EventTurnFailed }

// =============================================================================
// INTERNAL EVENTS
// =============================================================================

type LLMCallPayload struct {
	Phase        string        `json:"phase"`
	Skill        string        `json:"skill,omitempty"`
	Model        string        `json:"model,omitempty"`
	MessageCount int           `json:"message_count,omitempty"`
	TokensInput  int           `json:"tokens_input,omitempty"`
	TokensOutput int           `json:"tokens_output,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
	Error        string        `json:"error,omitempty"`
}

func (LLMCallPayload) EventType() EventType { return EventLLMCall }

type SessionCreatedPayload struct {
	Backend string `json:"backend"`
}

func (SessionCreatedPayload) EventType() EventType { return EventSessionCreated }

// =============================================================================
// TYPED EVENT CONSTRUCTORS
// =============================================================================

// NewTypedEvent builds an event from a typed payload.
func NewTypedEvent(source EventSource, payload EventPayload) Event {
	e := NewEvent(payload.EventType(), source, toMap(payload))
	return e
}

// NewTypedEventWithSession builds a session-scoped event from a typed payload.
func NewTypedEventWithSession(source EventSource, payload EventPayload, sessionID string) Event {
	e := NewTypedEvent(source, payload)
	e.SessionID = sessionID
	return e
}

func toMap(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

// ExtractPayload decodes an event payload back into its typed form.
// It reports false when the event type does not match T.
func ExtractPayload[T EventPayload](e Event) (T, bool) {
	var result T
	if result.EventType() != e.Type {
		return result, false
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return result, false
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, false
	}
	return result, true
}
