package dialog

import "encoding/json"

// Stack is the LIFO record of entered skills. The zero value is an empty
// stack, meaning control belongs to the router.
type Stack struct {
	names []string
}

// NewStack returns a stack holding names, bottom first.
func NewStack(names ...string) Stack {
	return Stack{names: append([]string(nil), names...)}
}

// Push appends one or more skill names; the last one becomes the top.
func (s *Stack) Push(names ...string) {
	s.names = append(s.names, names...)
}

// Pop removes the top entry. Popping an empty stack is a no-op.
func (s *Stack) Pop() {
	if len(s.names) == 0 {
		return
	}
	s.names = s.names[:len(s.names)-1]
}

// Top returns the active skill name, if any.
func (s Stack) Top() (string, bool) {
	if len(s.names) == 0 {
		return "", false
	}
	return s.names[len(s.names)-1], true
}

// Len returns the stack depth.
func (s Stack) Len() int { return len(s.names) }

// Empty reports whether the router is in control.
func (s Stack) Empty() bool { return len(s.names) == 0 }

// Names returns a copy of the stack contents, bottom first.
func (s Stack) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

func (s Stack) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Names())
}

func (s *Stack) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	s.names = names
	return nil
}
