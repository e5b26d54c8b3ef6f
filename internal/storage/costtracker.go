// Package storage holds bus subscribers that persist or aggregate events.
package storage

import (
	"sync"

	"github.com/dohr-michael/dbtpilot/internal/events"
	"github.com/dohr-michael/dbtpilot/internal/sessions"
)

// CostTracker subscribes to LLM call events and accumulates token usage per
// session until the session is next saved.
type CostTracker struct {
	mu          sync.Mutex
	pending     map[string]sessions.TokenUsage
	unsubscribe func()
}

// NewCostTracker creates a CostTracker that listens for LLM response events.
func NewCostTracker(bus *events.Bus) *CostTracker {
	ct := &CostTracker{pending: make(map[string]sessions.TokenUsage)}
	ct.unsubscribe = bus.Subscribe(ct.handleEvent, events.EventLLMCall)
	return ct
}

// Close unsubscribes the tracker from the event bus.
func (ct *CostTracker) Close() {
	if ct.unsubscribe != nil {
		ct.unsubscribe()
	}
}

// Drain returns the usage accumulated for a session since the last drain
// and resets it.
func (ct *CostTracker) Drain(sessionID string) sessions.TokenUsage {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	u := ct.pending[sessionID]
	delete(ct.pending, sessionID)
	return u
}

// Pending returns the undrained usage of a session.
func (ct *CostTracker) Pending(sessionID string) sessions.TokenUsage {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.pending[sessionID]
}

func (ct *CostTracker) handleEvent(e events.Event) {
	if e.SessionID == "" {
		return
	}

	payload, ok := events.ExtractPayload[events.LLMCallPayload](e)
	if !ok || payload.Phase != "response" {
		return
	}
	if payload.TokensInput == 0 && payload.TokensOutput == 0 {
		return
	}

	ct.mu.Lock()
	defer ct.mu.Unlock()
	u := ct.pending[e.SessionID]
	u.Input += payload.TokensInput
	u.Output += payload.TokensOutput
	ct.pending[e.SessionID] = u
}
