package storage

import (
	"log/slog"
	"slices"

	"github.com/dohr-michael/dbtpilot/internal/events"
	"github.com/dohr-michael/dbtpilot/internal/storage/dirstore"
)

const (
	eventsFile = "events.jsonl"
	// globalLog collects events without a session.
	globalLog = "_global"
)

// EventLogger persists bus events as JSONL, one directory per session
// under dir. Model request events are only kept in debug mode.
type EventLogger struct {
	ds          *dirstore.DirStore
	debug       bool
	unsubscribe func()
}

// NewEventLogger subscribes to every event published on bus.
func NewEventLogger(dir string, bus *events.Bus, debug bool) *EventLogger {
	el := &EventLogger{
		ds:    dirstore.NewDirStore(dir, "event log"),
		debug: debug,
	}
	el.unsubscribe = bus.Subscribe(el.handleEvent)
	return el
}

// Close stops logging.
func (el *EventLogger) Close() {
	if el.unsubscribe != nil {
		el.unsubscribe()
	}
}

func (el *EventLogger) handleEvent(e events.Event) {
	if !el.debug && e.Type == events.EventLLMCall && e.Payload["phase"] == "request" {
		return
	}
	id := logID(e.SessionID)

	// The bus delivers concurrently; appends to one file must not interleave.
	el.ds.Lock()
	err := el.ds.AppendJSONL(id, eventsFile, e)
	el.ds.Unlock()
	if err != nil {
		slog.Debug("event log write failed", "session_id", e.SessionID, "type", e.Type, "error", err)
	}
}

func logID(sessionID string) string {
	if sessionID == "" {
		return globalLog
	}
	return sessionID
}

// ReadEvents returns the last limit events logged for a session ("" for
// session-less events), optionally restricted to types. limit <= 0 reads
// the whole log.
func ReadEvents(dir, sessionID string, limit int, types ...events.EventType) ([]events.Event, error) {
	ds := dirstore.NewDirStore(dir, "event log")
	all, err := dirstore.LoadJSONL[events.Event](ds, logID(sessionID), eventsFile)
	if err != nil {
		return nil, err
	}
	if len(types) > 0 {
		all = slices.DeleteFunc(all, func(e events.Event) bool {
			return !slices.Contains(types, e.Type)
		})
	}
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}
