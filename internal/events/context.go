package events

import "context"

type (
	sessionIDKey struct{}
	turnIDKey    struct{}
)

// ContextWithSessionID returns a new context carrying the session ID.
func ContextWithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, id)
}

// SessionIDFromContext extracts the session ID from the context, or "" if absent.
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey{}).(string)
	return id
}

// ContextWithTurn tags the context with the sequence number of the user turn
// being processed.
func ContextWithTurn(ctx context.Context, turn int) context.Context {
	return context.WithValue(ctx, turnIDKey{}, turn)
}

// TurnFromContext returns the turn number, or 0 outside a turn.
func TurnFromContext(ctx context.Context) int {
	n, _ := ctx.Value(turnIDKey{}).(int)
	return n
}
