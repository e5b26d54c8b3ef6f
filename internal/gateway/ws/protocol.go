// Package ws implements the WebSocket protocol of the dbtpilot gateway.
//
// Clients send "req" frames naming a method and receive one "res" frame
// per request, correlated by id. Bus events of the sessions a client
// opened, used or followed arrive as "event" frames.
package ws

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dohr-michael/dbtpilot/internal/agent"
	"github.com/dohr-michael/dbtpilot/internal/sessions"
)

// FrameType is the kind of a frame.
type FrameType string

const (
	FrameTypeRequest  FrameType = "req"
	FrameTypeResponse FrameType = "res"
	FrameTypeEvent    FrameType = "event"
)

// Method is a request method.
type Method string

const (
	MethodOpenSession   Method = "open_session"
	MethodFollowSession Method = "follow_session"
	MethodSendMessage   Method = "send_message"
	MethodCloseSession  Method = "close_session"
	MethodApproveTool   Method = "approve_tool"
)

// Frame is the protocol envelope. Kind classifies a failed response
// (routing_fault, step_limit, not_found, ...).
type Frame struct {
	Type      FrameType       `json:"type"`
	ID        string          `json:"id,omitempty"`
	Method    Method          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	OK        *bool           `json:"ok,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     string          `json:"error,omitempty"`
	Kind      string          `json:"kind,omitempty"`
	Event     string          `json:"event,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
}

// SendMessageParams are the params of send_message. An empty SessionID
// opens a new session.
type SendMessageParams struct {
	SessionID string `json:"session_id,omitempty"`
	Content   string `json:"content"`
}

// SessionParams address an existing session.
type SessionParams struct {
	SessionID string `json:"session_id"`
}

// ApproveToolParams approve a dangerous tool for a session. An empty Tool
// approves every dangerous tool.
type ApproveToolParams struct {
	SessionID string `json:"session_id"`
	Tool      string `json:"tool,omitempty"`
}

// Reply is the payload answering send_message.
type Reply struct {
	SessionID string   `json:"session_id"`
	Content   string   `json:"content"`
	Path      []string `json:"path,omitempty"`
	Steps     int      `json:"steps"`
}

// NewReply renders a turn result for clients.
func NewReply(sessionID string, res *agent.TurnResult) Reply {
	r := Reply{SessionID: sessionID, Steps: res.Steps}
	if res.Reply != nil {
		r.Content = res.Reply.Content
	}
	for _, n := range res.Path {
		r.Path = append(r.Path, n.String())
	}
	return r
}

var errInvalidParams = errors.New("invalid params")

// decodeParams unmarshals the request params and checks that the fields
// valid reports as required are present.
func decodeParams[T any](f Frame, valid func(T) bool) (T, error) {
	var p T
	if len(f.Params) == 0 {
		return p, errInvalidParams
	}
	if err := json.Unmarshal(f.Params, &p); err != nil {
		return p, fmt.Errorf("%w: %v", errInvalidParams, err)
	}
	if !valid(p) {
		return p, errInvalidParams
	}
	return p, nil
}

// ErrorKind classifies a request failure for clients.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, errInvalidParams):
		return "invalid_params"
	case errors.Is(err, sessions.ErrNotFound):
		return "not_found"
	default:
		return agent.FailureKind(err)
	}
}

// NewEventFrame wraps a bus event.
func NewEventFrame(event, sessionID string, payload any) (Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{
		Type:      FrameTypeEvent,
		Event:     event,
		SessionID: sessionID,
		Payload:   data,
	}, nil
}

// NewResponseFrame answers request id with payload.
func NewResponseFrame(id string, payload any) (Frame, error) {
	ok := true
	f := Frame{Type: FrameTypeResponse, ID: id, OK: &ok}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Frame{}, err
		}
		f.Payload = data
	}
	return f, nil
}

// NewErrorFrame answers request id with a failure.
func NewErrorFrame(id string, err error) Frame {
	ok := false
	return Frame{
		Type:  FrameTypeResponse,
		ID:    id,
		OK:    &ok,
		Error: err.Error(),
		Kind:  ErrorKind(err),
	}
}
