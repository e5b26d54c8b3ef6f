package events

import (
	"context"
	"testing"
)

func TestContextTags(t *testing.T) {
	bare := context.Background()
	if SessionIDFromContext(bare) != "" || TurnFromContext(bare) != 0 {
		t.Fatal("untagged context carries values")
	}

	ctx := ContextWithTurn(ContextWithSessionID(bare, "sess_ab12cd34"), 4)
	if got := SessionIDFromContext(ctx); got != "sess_ab12cd34" {
		t.Errorf("session = %q", got)
	}
	if got := TurnFromContext(ctx); got != 4 {
		t.Errorf("turn = %d", got)
	}

	// A nested session scope shadows the outer one and keeps the turn.
	inner := ContextWithSessionID(ctx, "sess_ffff0000")
	if SessionIDFromContext(inner) != "sess_ffff0000" || TurnFromContext(inner) != 4 {
		t.Errorf("inner = %q, %d", SessionIDFromContext(inner), TurnFromContext(inner))
	}
}
