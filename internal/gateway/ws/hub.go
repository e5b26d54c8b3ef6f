package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/dohr-michael/dbtpilot/internal/agent"
	"github.com/dohr-michael/dbtpilot/internal/events"
	"github.com/dohr-michael/dbtpilot/internal/toolexec"
)

// Client represents a connected WebSocket client.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	mu       sync.RWMutex
	sessions map[string]struct{}
}

// follow subscribes the client to the events of a session.
func (c *Client) follow(sessionID string) {
	c.mu.Lock()
	c.sessions[sessionID] = struct{}{}
	c.mu.Unlock()
}

// wants reports whether an event of sessionID is forwarded to the client.
// Session-less events go to everyone.
func (c *Client) wants(sessionID string) bool {
	if sessionID == "" {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.sessions[sessionID]
	return ok
}

// Hub manages WebSocket clients, bridges the event bus to them and runs
// their turns on the agent service.
type Hub struct {
	mu          sync.RWMutex
	clients     map[*Client]struct{}
	svc         *agent.Service
	perms       *toolexec.Permissions
	unsubscribe func()
	turns       sync.WaitGroup
}

// NewHub creates a new WebSocket hub connected to an event bus.
func NewHub(bus *events.Bus, svc *agent.Service, perms *toolexec.Permissions) *Hub {
	if perms == nil {
		perms = toolexec.NewPermissions(nil)
	}
	h := &Hub{
		clients: make(map[*Client]struct{}),
		svc:     svc,
		perms:   perms,
	}

	h.unsubscribe = bus.Subscribe(func(e events.Event) {
		frame, err := NewEventFrame(string(e.Type), e.SessionID, e.Payload)
		if err != nil {
			slog.Error("marshal event frame", "error", err)
			return
		}
		data, err := json.Marshal(frame)
		if err != nil {
			slog.Error("marshal frame", "error", err)
			return
		}
		h.broadcast(e.SessionID, data)
	})

	return h
}

// broadcast sends data to every client following sessionID.
func (h *Hub) broadcast(sessionID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if !c.wants(sessionID) {
			continue
		}
		select {
		case c.send <- data:
		default:
			// Client too slow, skip
		}
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	slog.Info("ws client connected", "clients", len(h.clients))
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		slog.Info("ws client disconnected", "clients", len(h.clients))
	}
}

// ServeWS handles a WebSocket upgrade and manages the client lifecycle.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Allow any origin for dev
	})
	if err != nil {
		slog.Error("ws accept", "error", err)
		return
	}

	client := &Client{
		conn:     conn,
		send:     make(chan []byte, 256),
		hub:      h,
		sessions: make(map[string]struct{}),
	}

	h.register(client)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go client.writePump(ctx)
	client.readPump(ctx)
}

// readPump reads frames from the WS connection and dispatches them.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("ws read closed", "status", websocket.CloseStatus(err))
			} else {
				slog.Debug("ws read error", "error", err)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.Error("ws unmarshal frame", "error", err)
			continue
		}
		if frame.Type != FrameTypeRequest {
			slog.Debug("ws unknown frame type", "type", frame.Type)
			continue
		}
		c.handleRequest(ctx, frame)
	}
}

// handleRequest dispatches a request frame by method.
func (c *Client) handleRequest(ctx context.Context, frame Frame) {
	switch frame.Method {
	case MethodOpenSession:
		sess, err := c.hub.svc.OpenSession(ctx)
		if err != nil {
			c.sendError(frame.ID, err)
			return
		}
		c.follow(sess.ID)
		c.sendOK(frame.ID, sess)

	case MethodFollowSession:
		params, err := decodeParams(frame, func(p SessionParams) bool { return p.SessionID != "" })
		if err != nil {
			c.sendError(frame.ID, err)
			return
		}
		sess, err := c.hub.svc.Store().Get(params.SessionID)
		if err != nil {
			c.sendError(frame.ID, err)
			return
		}
		c.follow(sess.ID)
		c.sendOK(frame.ID, sess)

	case MethodSendMessage:
		params, err := decodeParams(frame, func(p SendMessageParams) bool { return p.Content != "" })
		if err != nil {
			c.sendError(frame.ID, err)
			return
		}
		if params.SessionID != "" {
			c.follow(params.SessionID)
		}
		// Turns can take many model calls; the read loop keeps serving.
		c.hub.turns.Add(1)
		go func() {
			defer c.hub.turns.Done()
			c.runTurn(ctx, frame.ID, params)
		}()

	case MethodCloseSession:
		params, err := decodeParams(frame, func(p SessionParams) bool { return p.SessionID != "" })
		if err != nil {
			c.sendError(frame.ID, err)
			return
		}
		if err := c.hub.svc.CloseSession(ctx, params.SessionID); err != nil {
			c.sendError(frame.ID, err)
			return
		}
		c.hub.perms.Revoke(params.SessionID)
		c.sendOK(frame.ID, map[string]string{"status": "closed"})

	case MethodApproveTool:
		params, err := decodeParams(frame, func(p ApproveToolParams) bool { return p.SessionID != "" })
		if err != nil {
			c.sendError(frame.ID, err)
			return
		}
		if params.Tool == "" {
			c.hub.perms.AllowAllForSession(params.SessionID)
		} else {
			c.hub.perms.AllowForSession(params.SessionID, params.Tool)
		}
		c.sendOK(frame.ID, map[string]string{"status": "approved"})

	default:
		c.sendError(frame.ID, fmt.Errorf("unknown method: %s", frame.Method))
	}
}

func (c *Client) runTurn(ctx context.Context, id string, params SendMessageParams) {
	// Open the session first so the client follows the turn's events.
	if params.SessionID == "" {
		sess, err := c.hub.svc.OpenSession(ctx)
		if err != nil {
			c.sendError(id, err)
			return
		}
		params.SessionID = sess.ID
		c.follow(sess.ID)
	}

	sess, res, err := c.hub.svc.Send(ctx, params.SessionID, params.Content)
	if err != nil {
		slog.Warn("ws turn failed", "session_id", params.SessionID, "error", err)
		c.sendError(id, err)
		return
	}
	c.sendOK(id, NewReply(sess.ID, res))
}

// writePump writes queued messages to the WS connection.
func (c *Client) writePump(ctx context.Context) {
	for {
		select {
		case msg := <-c.send:
			if err := c.conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) sendOK(id string, payload any) {
	f, err := NewResponseFrame(id, payload)
	if err != nil {
		slog.Error("ws response frame", "error", err)
		f = NewErrorFrame(id, err)
	}
	c.queue(f)
}

func (c *Client) sendError(id string, err error) {
	c.queue(NewErrorFrame(id, err))
}

// queue drops the frame when the client is too slow to drain its buffer.
func (c *Client) queue(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// Close shuts down the hub, waits for running turns and closes every
// client connection.
func (h *Hub) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
	h.mu.Lock()
	for c := range h.clients {
		c.conn.Close(websocket.StatusGoingAway, "server shutdown")
		delete(h.clients, c)
	}
	h.mu.Unlock()
	h.turns.Wait()
}
