// Package agent drives the dialog state machine: it asks the active
// assistant for a response, routes requested actions, enters and leaves
// skills and runs tools until a turn reaches a final answer.
package agent

import "fmt"

// NodeKind enumerates orchestrator states.
type NodeKind int

const (
	NodeSideContext NodeKind = iota
	NodeRouter
	NodeRouterTools
	NodeEnterSkill
	NodeSkill
	NodeSkillTools
	NodeLeaveSkill
	NodeDone
)

// Node is one orchestrator state. Skill is set for skill states; CallID
// carries the delegation or cancel call being answered.
type Node struct {
	Kind   NodeKind
	Skill  string
	CallID string
}

func (n Node) String() string {
	switch n.Kind {
	case NodeSideContext:
		return "SIDE_CONTEXT"
	case NodeRouter:
		return "ROUTER"
	case NodeRouterTools:
		return "ROUTER_TOOLS"
	case NodeEnterSkill:
		return fmt.Sprintf("ENTER_SKILL[%s]", n.Skill)
	case NodeSkill:
		return fmt.Sprintf("SKILL[%s]", n.Skill)
	case NodeSkillTools:
		return fmt.Sprintf("SKILL[%s]_TOOLS", n.Skill)
	case NodeLeaveSkill:
		return "LEAVE_SKILL"
	case NodeDone:
		return "DONE"
	default:
		return fmt.Sprintf("NODE(%d)", int(n.Kind))
	}
}

func routerNode() Node           { return Node{Kind: NodeRouter} }
func skillNode(name string) Node { return Node{Kind: NodeSkill, Skill: name} }
func doneNode() Node             { return Node{Kind: NodeDone} }

func pathStrings(path []Node) []string {
	out := make([]string, len(path))
	for i, n := range path {
		out[i] = n.String()
	}
	return out
}
