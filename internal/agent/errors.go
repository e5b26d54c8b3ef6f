package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/dohr-michael/dbtpilot/internal/models"
	"github.com/dohr-michael/dbtpilot/internal/router"
)

var (
	// ErrRoutingFault is returned when an assistant requests an action
	// the registry cannot classify.
	ErrRoutingFault = router.ErrRoutingFault
	// ErrStepLimit is returned when a turn exceeds the configured number
	// of transitions.
	ErrStepLimit = errors.New("step limit exceeded")
	// ErrUnknownSkill is returned when the dialog stack names a skill
	// missing from the registry.
	ErrUnknownSkill = errors.New("unknown skill on dialog stack")
	// ErrSessionClosed is returned when a turn targets a closed session.
	ErrSessionClosed = errors.New("session is closed")
)

// ResponderError wraps a failure of an assistant's answer generation.
type ResponderError struct {
	Skill string
	Err   error
}

func (e *ResponderError) Error() string {
	return fmt.Sprintf("responder %s: %v", e.Skill, e.Err)
}

func (e *ResponderError) Unwrap() error { return e.Err }

// FailureKind classifies a turn error for events and API responses.
func FailureKind(err error) string {
	var re *ResponderError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRoutingFault):
		return "routing_fault"
	case errors.Is(err, ErrStepLimit):
		return "step_limit"
	case errors.Is(err, ErrUnknownSkill):
		return "unknown_skill"
	case errors.Is(err, ErrSessionClosed):
		return "session_closed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.As(err, &re):
		if kind := models.Kind(err); kind != "" {
			return kind
		}
		return "responder_fault"
	default:
		return "internal"
	}
}
