// Package router decides the next orchestrator state from the latest
// assistant message.
package router

import (
	"errors"
	"fmt"

	"github.com/cloudwego/eino/schema"

	"github.com/dohr-michael/dbtpilot/internal/skills"
)

// ErrRoutingFault is returned when the requested actions cannot be
// classified. It indicates an assistant emitted an action name the
// registry does not know about.
var ErrRoutingFault = errors.New("routing fault")

// Kind enumerates routing outcomes.
type Kind int

const (
	Done Kind = iota
	EnterSkill
	RouterTools
	SkillTools
	LeaveSkill
)

func (k Kind) String() string {
	switch k {
	case Done:
		return "done"
	case EnterSkill:
		return "enter_skill"
	case RouterTools:
		return "router_tools"
	case SkillTools:
		return "skill_tools"
	case LeaveSkill:
		return "leave_skill"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Decision is the routing outcome. Skill is set for EnterSkill and
// SkillTools. CallID is the correlation id of the delegation or cancel call.
type Decision struct {
	Kind   Kind
	Skill  string
	CallID string
}

// Tools answers whether a tool name is bound to the router.
type Tools interface {
	Has(name string) bool
}

// Route classifies last. active is the skill on top of the dialog stack,
// or "" when the router is in control.
//
// The router inspects only the first requested action; a skill scans all
// of them for the cancel action.
func Route(last *schema.Message, active string, reg *skills.Registry, routerTools Tools) (Decision, error) {
	if last == nil || len(last.ToolCalls) == 0 {
		return Decision{Kind: Done}, nil
	}
	if active == "" {
		return routeRouter(last.ToolCalls, reg, routerTools)
	}
	return routeSkill(last.ToolCalls, active)
}

func routeRouter(calls []schema.ToolCall, reg *skills.Registry, routerTools Tools) (Decision, error) {
	first := calls[0]
	if s, ok := reg.SkillForDelegation(first.Function.Name); ok {
		if len(calls) > 1 {
			return Decision{}, fmt.Errorf("%w: delegation %s mixed with %d other actions", ErrRoutingFault, first.Function.Name, len(calls)-1)
		}
		return Decision{Kind: EnterSkill, Skill: s.Name, CallID: first.ID}, nil
	}

	for _, tc := range calls[1:] {
		if reg.IsDelegation(tc.Function.Name) {
			return Decision{}, fmt.Errorf("%w: delegation %s mixed with other actions", ErrRoutingFault, tc.Function.Name)
		}
	}

	name := first.Function.Name
	if name == skills.CancelToolName || (routerTools != nil && routerTools.Has(name)) {
		return Decision{Kind: RouterTools}, nil
	}
	return Decision{}, fmt.Errorf("%w: unknown action %q at router", ErrRoutingFault, name)
}

func routeSkill(calls []schema.ToolCall, active string) (Decision, error) {
	for _, tc := range calls {
		if tc.Function.Name == skills.CancelToolName {
			return Decision{Kind: LeaveSkill, Skill: active, CallID: tc.ID}, nil
		}
	}
	return Decision{Kind: SkillTools, Skill: active}, nil
}
