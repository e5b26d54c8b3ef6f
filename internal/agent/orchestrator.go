package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/dohr-michael/dbtpilot/internal/dialog"
	"github.com/dohr-michael/dbtpilot/internal/events"
	"github.com/dohr-michael/dbtpilot/internal/router"
	"github.com/dohr-michael/dbtpilot/internal/skills"
	"github.com/dohr-michael/dbtpilot/internal/toolexec"
)

// DefaultMaxSteps bounds the transitions of a single turn.
const DefaultMaxSteps = 50

const (
	interruptedText = "Interrupted: this action was not executed."
	skippedText     = "Skipped: control returned to the host assistant."
)

// Config wires an Orchestrator.
type Config struct {
	Registry *skills.Registry
	// Responders are keyed by skill name; the router's under its own name.
	Responders map[string]Responder
	// Tools are keyed like Responders.
	Tools       map[string]toolexec.ToolSet
	Gateway     *toolexec.Gateway
	SideContext SideContextProvider
	MaxSteps    int
	Bus         *events.Bus
}

// Orchestrator runs the dialog state machine. It holds no per-session
// state and is safe for concurrent use across sessions.
type Orchestrator struct {
	reg         *skills.Registry
	responders  map[string]Responder
	tools       map[string]toolexec.ToolSet
	gateway     *toolexec.Gateway
	sideContext SideContextProvider
	maxSteps    int
	bus         *events.Bus
}

// New validates cfg and builds an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("orchestrator: registry is required")
	}
	routerName := cfg.Registry.Router().Name
	if cfg.Responders[routerName] == nil {
		return nil, fmt.Errorf("orchestrator: no responder for router %q", routerName)
	}
	for _, name := range cfg.Registry.Names() {
		if cfg.Responders[name] == nil {
			return nil, fmt.Errorf("orchestrator: no responder for skill %q", name)
		}
	}

	o := &Orchestrator{
		reg:         cfg.Registry,
		responders:  cfg.Responders,
		tools:       cfg.Tools,
		gateway:     cfg.Gateway,
		sideContext: cfg.SideContext,
		maxSteps:    cfg.MaxSteps,
		bus:         cfg.Bus,
	}
	if o.tools == nil {
		o.tools = map[string]toolexec.ToolSet{}
	}
	if o.gateway == nil {
		o.gateway = toolexec.NewGateway(cfg.Bus)
	}
	if o.maxSteps <= 0 {
		o.maxSteps = DefaultMaxSteps
	}
	return o, nil
}

// Registry returns the skill registry the orchestrator routes with.
func (o *Orchestrator) Registry() *skills.Registry { return o.reg }

// Transition describes one applied state change.
type Transition struct {
	From   Node
	To     Node
	Step   int
	Update dialog.Update
}

// PersistFunc is called after every applied transition with the updated
// state. An error aborts the turn.
type PersistFunc func(ctx context.Context, st *dialog.State, tr Transition) error

// TurnResult summarises a completed turn.
type TurnResult struct {
	// Reply is the final assistant message.
	Reply *schema.Message
	// Path lists the visited states, ending with DONE.
	Path  []Node
	Steps int
}

// RunTurn appends the user message and runs the state machine until the
// active assistant answers without requested actions. Transitions applied
// before an error stay in st; the state remains valid for the next turn.
func (o *Orchestrator) RunTurn(ctx context.Context, st *dialog.State, userText string, persist PersistFunc) (*TurnResult, error) {
	start := time.Now()
	res, err := o.runTurn(ctx, st, userText, persist)

	sessionID := events.SessionIDFromContext(ctx)
	turn := events.TurnFromContext(ctx)
	if err != nil {
		slog.Error("turn aborted",
			"session_id", sessionID,
			"kind", FailureKind(err),
			"steps", res.Steps,
			"path", pathStrings(res.Path),
			"error", err,
		)
		o.publish(ctx, events.TurnFailedPayload{Turn: turn, Steps: res.Steps, Kind: FailureKind(err), Error: err.Error()})
		return res, err
	}
	o.publish(ctx, events.TurnCompletedPayload{Turn: turn, Steps: res.Steps, Path: pathStrings(res.Path), Duration: time.Since(start)})
	return res, nil
}

func (o *Orchestrator) runTurn(ctx context.Context, st *dialog.State, userText string, persist PersistFunc) (*TurnResult, error) {
	res := &TurnResult{}
	if persist == nil {
		persist = func(context.Context, *dialog.State, Transition) error { return nil }
	}

	entry, err := o.entryNode(st)
	if err != nil {
		return res, err
	}

	// Calls left open by an aborted turn are answered before the new user
	// message so the transcript stays well formed.
	opening := dialog.Update{}
	for _, tc := range st.Unanswered() {
		opening.Messages = append(opening.Messages, toolReply(tc, interruptedText))
	}
	opening.Messages = append(opening.Messages, schema.UserMessage(userText))
	st.Apply(opening)
	o.publish(ctx, events.UserMessagePayload{Content: userText})
	if err := persist(ctx, st, Transition{From: entry, To: entry, Update: opening}); err != nil {
		return res, fmt.Errorf("persist state: %w", err)
	}

	node := entry
	if st.NeedsSideContext() && o.sideContext != nil {
		node = Node{Kind: NodeSideContext}
	}

	for node.Kind != NodeDone {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if res.Steps >= o.maxSteps {
			return res, fmt.Errorf("%w: %d transitions without a final answer", ErrStepLimit, o.maxSteps)
		}

		res.Path = append(res.Path, node)
		next, upd, err := o.step(ctx, st, node, entry)
		if err != nil {
			return res, err
		}
		st.Apply(upd)
		res.Steps++

		tr := Transition{From: node, To: next, Step: res.Steps, Update: upd}
		slog.Debug("dialog transition",
			"session_id", events.SessionIDFromContext(ctx),
			"from", node.String(),
			"to", next.String(),
			"step", res.Steps,
			"stack", st.Stack.Names(),
		)
		o.publish(ctx, events.TransitionPayload{From: node.String(), To: next.String(), Step: res.Steps, Stack: st.Stack.Names()})
		if err := persist(ctx, st, tr); err != nil {
			return res, fmt.Errorf("persist state: %w", err)
		}
		node = next
	}

	res.Path = append(res.Path, node)
	res.Reply = st.Last()
	return res, nil
}

func (o *Orchestrator) entryNode(st *dialog.State) (Node, error) {
	active := st.Active()
	if active == "" {
		return routerNode(), nil
	}
	if !o.reg.Has(active) {
		return Node{}, fmt.Errorf("%w: %q", ErrUnknownSkill, active)
	}
	return skillNode(active), nil
}

// step executes node against st and returns the next node with the
// mutation to apply.
func (o *Orchestrator) step(ctx context.Context, st *dialog.State, node, entry Node) (Node, dialog.Update, error) {
	switch node.Kind {
	case NodeSideContext:
		return entry, o.fetchSideContext(ctx), nil

	case NodeRouter, NodeSkill:
		return o.respond(ctx, st, node.Skill)

	case NodeEnterSkill:
		s, ok := o.reg.Get(node.Skill)
		if !ok {
			return Node{}, dialog.Update{}, fmt.Errorf("%w: %q", ErrUnknownSkill, node.Skill)
		}
		o.publish(ctx, events.SkillEnteredPayload{Skill: s.Name, CallID: node.CallID, Depth: st.Stack.Len() + 1})
		return skillNode(s.Name), dialog.Update{
			Messages: []*schema.Message{skills.EntryMessage(s, node.CallID)},
			Stack:    dialog.StackPush,
			Push:     []string{s.Name},
		}, nil

	case NodeSkillTools:
		msgs := o.gateway.Execute(ctx, st.Last().ToolCalls, o.tools[node.Skill])
		return skillNode(node.Skill), dialog.Update{Messages: msgs}, nil

	case NodeRouterTools:
		msgs := o.gateway.Execute(ctx, st.Last().ToolCalls, o.tools[o.reg.Router().Name])
		return routerNode(), dialog.Update{Messages: msgs}, nil

	case NodeLeaveSkill:
		return routerNode(), o.leave(ctx, st, node), nil
	}
	return Node{}, dialog.Update{}, fmt.Errorf("unexpected node %s", node)
}

func (o *Orchestrator) fetchSideContext(ctx context.Context) dialog.Update {
	upd := dialog.Update{MarkFetched: true}
	sc, err := o.sideContext.Fetch(ctx)
	if err != nil {
		slog.Warn("side context unavailable", "session_id", events.SessionIDFromContext(ctx), "error", err)
		return upd
	}
	if len(sc) > 0 {
		upd.SideContext = sc
	}
	return upd
}

func (o *Orchestrator) respond(ctx context.Context, st *dialog.State, skill string) (Node, dialog.Update, error) {
	name := skill
	if name == "" {
		name = o.reg.Router().Name
	}

	msg, err := o.responders[name].Respond(ctx, st.Messages, st.SideContext)
	if err != nil {
		return Node{}, dialog.Update{}, &ResponderError{Skill: name, Err: err}
	}
	if msg == nil {
		return Node{}, dialog.Update{}, &ResponderError{Skill: name, Err: fmt.Errorf("nil message")}
	}
	if err := ensureCallIDs(msg); err != nil {
		return Node{}, dialog.Update{}, &ResponderError{Skill: name, Err: err}
	}
	if msg.Role == "" {
		msg.Role = schema.Assistant
	}

	o.publish(ctx, events.AssistantMessagePayload{Skill: name, Content: msg.Content, ToolCalls: callNames(msg.ToolCalls)})

	var routerTools router.Tools = o.tools[o.reg.Router().Name]
	d, err := router.Route(msg, skill, o.reg, routerTools)
	if err != nil {
		return Node{}, dialog.Update{}, err
	}

	upd := dialog.Update{Messages: []*schema.Message{msg}}
	switch d.Kind {
	case router.Done:
		return doneNode(), upd, nil
	case router.EnterSkill:
		return Node{Kind: NodeEnterSkill, Skill: d.Skill, CallID: d.CallID}, upd, nil
	case router.RouterTools:
		return Node{Kind: NodeRouterTools}, upd, nil
	case router.SkillTools:
		return Node{Kind: NodeSkillTools, Skill: d.Skill}, upd, nil
	case router.LeaveSkill:
		return Node{Kind: NodeLeaveSkill, Skill: d.Skill, CallID: d.CallID}, upd, nil
	}
	return Node{}, dialog.Update{}, fmt.Errorf("%w: unhandled decision %s", ErrRoutingFault, d.Kind)
}

// leave answers the cancel call with the resumption message and every
// other call of the batch with a skip notice, then pops the stack.
func (o *Orchestrator) leave(ctx context.Context, st *dialog.State, node Node) dialog.Update {
	upd := dialog.Update{Stack: dialog.StackPop}
	var reason string
	for _, tc := range st.Last().ToolCalls {
		if tc.ID == node.CallID {
			upd.Messages = append(upd.Messages, skills.ResumeMessage(tc.ID))
			reason = skills.ParseCancelArgs(tc.Function.Arguments).Reason
			continue
		}
		upd.Messages = append(upd.Messages, toolReply(tc, skippedText))
	}
	o.publish(ctx, events.SkillLeftPayload{Skill: node.Skill, CallID: node.CallID, Reason: reason})
	return upd
}

func (o *Orchestrator) publish(ctx context.Context, payload events.EventPayload) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(events.NewTypedEventWithSession(events.SourceAgent, payload, events.SessionIDFromContext(ctx)))
}

// ensureCallIDs assigns ids to tool calls that lack one and rejects
// duplicate ids within the message.
func ensureCallIDs(msg *schema.Message) error {
	seen := make(map[string]bool, len(msg.ToolCalls))
	for i := range msg.ToolCalls {
		if msg.ToolCalls[i].ID == "" {
			msg.ToolCalls[i].ID = "call_" + uuid.NewString()
		}
		id := msg.ToolCalls[i].ID
		if seen[id] {
			return fmt.Errorf("duplicate tool call id %q", id)
		}
		seen[id] = true
	}
	return nil
}

func toolReply(tc schema.ToolCall, text string) *schema.Message {
	return &schema.Message{
		Role:       schema.Tool,
		Content:    text,
		ToolCallID: tc.ID,
		ToolName:   tc.Function.Name,
	}
}

func callNames(calls []schema.ToolCall) []string {
	if len(calls) == 0 {
		return nil
	}
	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = c.Function.Name
	}
	return names
}
