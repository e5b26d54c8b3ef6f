package toolexec

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/dohr-michael/dbtpilot/internal/events"
)

const acceptAll = "*"

// Permissions tracks which dangerous tools may run. A tool is allowed when
// it is listed in config, approved for the session, or the session
// accepts everything.
type Permissions struct {
	mu      sync.RWMutex
	global  map[string]bool
	session map[string]map[string]bool
}

// NewPermissions creates permissions with the globally allowed tool names.
func NewPermissions(globalAllowed []string) *Permissions {
	g := make(map[string]bool, len(globalAllowed))
	for _, name := range globalAllowed {
		g[name] = true
	}
	return &Permissions{
		global:  g,
		session: make(map[string]map[string]bool),
	}
}

// SetGlobal replaces the globally allowed tool names. Session approvals
// are kept.
func (p *Permissions) SetGlobal(names []string) {
	g := make(map[string]bool, len(names))
	for _, name := range names {
		g[name] = true
	}
	p.mu.Lock()
	p.global = g
	p.mu.Unlock()
}

// IsAllowed reports whether toolName may run in the session.
func (p *Permissions) IsAllowed(sessionID, toolName string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.global[toolName] || p.global[acceptAll] {
		return true
	}
	sess := p.session[sessionID]
	return sess[toolName] || sess[acceptAll]
}

// AllowForSession approves one tool for the session.
func (p *Permissions) AllowForSession(sessionID, toolName string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session[sessionID] == nil {
		p.session[sessionID] = make(map[string]bool)
	}
	p.session[sessionID][toolName] = true
}

// AllowAllForSession approves every dangerous tool for the session.
func (p *Permissions) AllowAllForSession(sessionID string) {
	p.AllowForSession(sessionID, acceptAll)
}

// Revoke drops all session approvals.
func (p *Permissions) Revoke(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.session, sessionID)
}

// PermissionError is returned when a dangerous tool runs without approval.
// Its text starts with "Permission error" so assistants escalate instead of
// retrying.
type PermissionError struct {
	Tool string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("Permission error: %s changes your dbt Cloud account and has not been approved for this session", e.Tool)
}

// guardedTool refuses to run a dangerous tool unless approved.
type guardedTool struct {
	inner tool.InvokableTool
	name  string
	perms *Permissions
}

// Guard wraps t with an approval check when dangerous is true.
func Guard(t tool.InvokableTool, name string, dangerous bool, perms *Permissions) tool.InvokableTool {
	if !dangerous || perms == nil {
		return t
	}
	return &guardedTool{inner: t, name: name, perms: perms}
}

func (g *guardedTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return g.inner.Info(ctx)
}

func (g *guardedTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	if !g.perms.IsAllowed(events.SessionIDFromContext(ctx), g.name) {
		return "", &PermissionError{Tool: g.name}
	}
	return g.inner.InvokableRun(ctx, argumentsInJSON, opts...)
}

var _ tool.InvokableTool = (*guardedTool)(nil)

// GuardAll returns a copy of set where every dangerous FuncTool is guarded.
func GuardAll(set ToolSet, perms *Permissions) ToolSet {
	out := make(ToolSet, len(set))
	for name, t := range set {
		ft, ok := t.(*FuncTool)
		out[name] = Guard(t, name, ok && ft.Spec().Dangerous, perms)
	}
	return out
}
