// Package heartbeat lets `dbtpilot status` tell whether a gateway is serving.
package heartbeat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dohr-michael/dbtpilot/internal/config"
)

// Status is the liveness of the gateway as seen from its heartbeat file.
type Status string

const (
	StatusAlive Status = "alive"
	StatusStale Status = "stale"
	StatusDead  Status = "dead"
)

// DefaultInterval is how often the gateway refreshes its heartbeat.
const DefaultInterval = 30 * time.Second

// Path returns the heartbeat file location.
func Path() string {
	return filepath.Join(config.DbtpilotPath(), "heartbeat.json")
}

// Heartbeat is the content of the heartbeat file.
type Heartbeat struct {
	PID            int       `json:"pid"`
	Addr           string    `json:"addr"`
	StartedAt      time.Time `json:"started_at"`
	Timestamp      time.Time `json:"timestamp"`
	Uptime         string    `json:"uptime"`
	ActiveSessions int       `json:"active_sessions"`
}

// Option configures a Writer.
type Option func(*Writer)

// WithInterval overrides DefaultInterval.
func WithInterval(d time.Duration) Option {
	return func(w *Writer) { w.interval = d }
}

// WithSessionCount reports the number of active sessions in each beat.
func WithSessionCount(fn func() int) Option {
	return func(w *Writer) { w.sessions = fn }
}

// Writer refreshes the heartbeat file of one gateway process.
type Writer struct {
	path     string
	addr     string
	interval time.Duration
	sessions func() int
	pid      int
}

// NewWriter creates a heartbeat writer for the gateway listening on addr.
func NewWriter(path, addr string, opts ...Option) *Writer {
	w := &Writer{path: path, addr: addr, interval: DefaultInterval, pid: os.Getpid()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run writes a beat immediately and then every interval until ctx is done,
// when it removes the file.
func (w *Writer) Run(ctx context.Context) {
	started := time.Now()
	defer os.Remove(w.path)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		if err := w.beat(started, time.Now()); err != nil {
			slog.Debug("heartbeat write failed", "path", w.path, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Writer) beat(started, now time.Time) error {
	hb := Heartbeat{
		PID:       w.pid,
		Addr:      w.addr,
		StartedAt: started,
		Timestamp: now,
		Uptime:    now.Sub(started).Truncate(time.Second).String(),
	}
	if w.sessions != nil {
		hb.ActiveSessions = w.sessions()
	}
	data, err := json.MarshalIndent(hb, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0o700); err != nil {
		return err
	}
	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, w.path)
}

// Check reads a heartbeat file. A beat older than maxAge is stale, unless
// its process is gone, in which case the gateway is dead and the stale
// beat is still returned.
func Check(path string, maxAge time.Duration) (Status, *Heartbeat, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return StatusDead, nil, nil
	}
	if err != nil {
		return StatusDead, nil, fmt.Errorf("read heartbeat: %w", err)
	}

	var hb Heartbeat
	if err := json.Unmarshal(data, &hb); err != nil {
		return StatusDead, nil, fmt.Errorf("unmarshal heartbeat: %w", err)
	}
	switch {
	case !processAlive(hb.PID):
		return StatusDead, &hb, nil
	case time.Since(hb.Timestamp) > maxAge:
		return StatusStale, &hb, nil
	default:
		return StatusAlive, &hb, nil
	}
}
