package dialog

import (
	"maps"

	"github.com/cloudwego/eino/schema"
)

// State is the mutable record of one conversation.
type State struct {
	// Messages is the append-only transcript.
	Messages []*schema.Message `json:"messages"`
	// SideContext is opaque account context, populated at most once.
	SideContext map[string]any `json:"side_context,omitempty"`
	// SideContextFetched records that the provider was already asked,
	// even when it returned nothing.
	SideContextFetched bool `json:"side_context_fetched,omitempty"`
	// Stack holds the entered skills; empty means the router is active.
	Stack Stack `json:"dialog_stack"`
}

// New returns an empty state.
func New() *State {
	return &State{}
}

// StackOp is the dialog stack mutation carried by an Update.
type StackOp int

const (
	StackNoop StackOp = iota
	StackPush
	StackPop
)

func (op StackOp) String() string {
	switch op {
	case StackPush:
		return "push"
	case StackPop:
		return "pop"
	default:
		return "noop"
	}
}

// Update is the state mutation produced by one orchestrator transition.
type Update struct {
	Messages []*schema.Message
	Stack    StackOp
	// Push lists the names to push when Stack is StackPush.
	Push []string
	// SideContext, when non-nil, replaces the side context.
	SideContext map[string]any
	// MarkFetched flags the side context as resolved for the session.
	MarkFetched bool
}

// Apply mutates the state with u. Messages are only ever appended.
func (s *State) Apply(u Update) {
	s.Messages = append(s.Messages, u.Messages...)
	switch u.Stack {
	case StackPush:
		s.Stack.Push(u.Push...)
	case StackPop:
		s.Stack.Pop()
	}
	if u.SideContext != nil {
		s.SideContext = u.SideContext
	}
	if u.MarkFetched {
		s.SideContextFetched = true
	}
}

// Append adds messages to the transcript.
func (s *State) Append(msgs ...*schema.Message) {
	s.Messages = append(s.Messages, msgs...)
}

// Last returns the latest message, or nil for an empty transcript.
func (s *State) Last() *schema.Message {
	if len(s.Messages) == 0 {
		return nil
	}
	return s.Messages[len(s.Messages)-1]
}

// Active returns the skill on top of the stack, or "" for the router.
func (s *State) Active() string {
	name, _ := s.Stack.Top()
	return name
}

// NeedsSideContext reports whether the side-context provider should run.
func (s *State) NeedsSideContext() bool {
	return !s.SideContextFetched && len(s.SideContext) == 0
}

// Unanswered returns requested actions that have no correlated response
// message yet, in transcript order.
func (s *State) Unanswered() []schema.ToolCall {
	answered := make(map[string]bool)
	for _, m := range s.Messages {
		if m.Role == schema.Tool && m.ToolCallID != "" {
			answered[m.ToolCallID] = true
		}
	}
	var out []schema.ToolCall
	for _, m := range s.Messages {
		if m.Role != schema.Assistant {
			continue
		}
		for _, tc := range m.ToolCalls {
			if !answered[tc.ID] {
				out = append(out, tc)
			}
		}
	}
	return out
}

// Clone returns a copy whose transcript slice, stack and side context can
// be mutated without affecting s. Messages themselves are shared; they are
// never rewritten once appended.
func (s *State) Clone() *State {
	return &State{
		Messages:           append([]*schema.Message(nil), s.Messages...),
		SideContext:        maps.Clone(s.SideContext),
		SideContextFetched: s.SideContextFetched,
		Stack:              NewStack(s.Stack.Names()...),
	}
}
