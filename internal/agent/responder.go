package agent

import (
	"context"

	"github.com/cloudwego/eino/schema"
)

// Responder produces the next assistant message for a transcript: either
// a final answer (no tool calls) or one or more requested actions.
type Responder interface {
	Respond(ctx context.Context, transcript []*schema.Message, sideContext map[string]any) (*schema.Message, error)
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(ctx context.Context, transcript []*schema.Message, sideContext map[string]any) (*schema.Message, error)

func (f ResponderFunc) Respond(ctx context.Context, transcript []*schema.Message, sideContext map[string]any) (*schema.Message, error) {
	return f(ctx, transcript, sideContext)
}

// SideContextProvider resolves session-wide context (e.g. the dbt Cloud
// account). An empty result means no context is available.
type SideContextProvider interface {
	Fetch(ctx context.Context) (map[string]any, error)
}

// SideContextFunc adapts a function to SideContextProvider.
type SideContextFunc func(ctx context.Context) (map[string]any, error)

func (f SideContextFunc) Fetch(ctx context.Context) (map[string]any, error) { return f(ctx) }
