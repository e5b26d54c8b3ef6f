// Package gateway serves the dbtpilot HTTP and WebSocket API.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dohr-michael/dbtpilot/internal/agent"
	"github.com/dohr-michael/dbtpilot/internal/events"
	"github.com/dohr-michael/dbtpilot/internal/gateway/ws"
	"github.com/dohr-michael/dbtpilot/internal/sessions"
	"github.com/dohr-michael/dbtpilot/internal/toolexec"
)

// Server is the dbtpilot gateway HTTP server.
type Server struct {
	httpServer *http.Server
	hub        *ws.Hub
	bus        *events.Bus
	svc        *agent.Service
	perms      *toolexec.Permissions
}

// NewServer creates a new gateway server.
func NewServer(bus *events.Bus, svc *agent.Service, perms *toolexec.Permissions, host string, port int) *Server {
	if perms == nil {
		perms = toolexec.NewPermissions(nil)
	}
	hub := ws.NewHub(bus, svc, perms)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	s := &Server{
		hub:   hub,
		bus:   bus,
		svc:   svc,
		perms: perms,
	}

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ws", hub.ServeWS)
	r.Get("/api/events", s.handleEvents)
	r.Get("/api/skills", s.handleSkills)
	r.Route("/api/sessions", func(r chi.Router) {
		r.Get("/", s.handleSessions)
		r.Post("/", s.handleOpenSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleSession)
			r.Delete("/", s.handleCloseSession)
			r.Post("/messages", s.handleSend)
			r.Post("/approvals", s.handleApprove)
		})
	})

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: r,
	}

	return s
}

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.httpServer.Addr }

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening. It blocks until the server is stopped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	slog.Info("dbtpilot gateway listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.hub.Close()
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, sessions.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, agent.ErrSessionClosed):
		status = http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	body := map[string]string{"error": err.Error()}
	if kind := agent.FailureKind(err); kind != "internal" {
		body["kind"] = kind
	}
	writeJSON(w, status, body)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type eventJSON struct {
	ID        string             `json:"id"`
	SessionID string             `json:"session_id,omitempty"`
	Type      string             `json:"type"`
	Timestamp string             `json:"timestamp"`
	Source    events.EventSource `json:"source"`
	Payload   map[string]any     `json:"payload"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}

	var history []events.Event
	if id := r.URL.Query().Get("session_id"); id != "" {
		history = s.bus.SessionHistory(id, limit)
	} else {
		history = s.bus.History(limit)
	}

	result := make([]eventJSON, len(history))
	for i, e := range history {
		result[i] = eventJSON{
			ID:        e.ID,
			SessionID: e.SessionID,
			Type:      string(e.Type),
			Timestamp: e.Timestamp.Format(time.RFC3339Nano),
			Source:    e.Source,
			Payload:   e.Payload,
		}
	}
	writeJSON(w, http.StatusOK, result)
}

type skillJSON struct {
	Name           string   `json:"name"`
	Title          string   `json:"title,omitempty"`
	DelegationTool string   `json:"delegation_tool,omitempty"`
	Description    string   `json:"description,omitempty"`
	Tools          []string `json:"tools"`
}

func (s *Server) handleSkills(w http.ResponseWriter, r *http.Request) {
	reg := s.svc.Orchestrator().Registry()
	router := reg.Router()
	out := []skillJSON{{Name: router.Name, Title: router.Title, Tools: router.Tools}}
	for _, sk := range reg.All() {
		out = append(out, skillJSON{
			Name:           sk.Name,
			Title:          sk.Title,
			DelegationTool: sk.DelegationTool,
			Description:    sk.Description,
			Tools:          sk.Tools,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Store().List()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.svc.OpenSession(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

type sessionJSON struct {
	*sessions.Session
	Messages []*schema.Message `json:"messages"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.svc.Store().Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	history, err := s.svc.History(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionJSON{Session: sess, Messages: history})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.svc.CloseSession(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	s.perms.Revoke(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Content == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "content is required"})
		return
	}

	sess, res, err := s.svc.Send(r.Context(), chi.URLParam(r, "id"), body.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ws.NewReply(sess.ID, res))
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.svc.Store().Get(id); err != nil {
		writeError(w, err)
		return
	}

	var body struct {
		Tool string `json:"tool"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
			return
		}
	}
	if body.Tool == "" {
		s.perms.AllowAllForSession(id)
	} else {
		s.perms.AllowForSession(id, body.Tool)
	}
	slog.Info("tool approved", "session_id", id, "tool", body.Tool)
	writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}
