package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	meta       TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	seq        INTEGER NOT NULL,
	body       TEXT NOT NULL,
	ts         INTEGER NOT NULL,
	PRIMARY KEY (session_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at DESC);
`

var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=memory",
	"PRAGMA busy_timeout=5000",
	"PRAGMA foreign_keys=ON",
}

// SQLiteStore keeps sessions in a single SQLite database.
type SQLiteStore struct {
	mu sync.Mutex
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := configure(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func configure(ctx context.Context, db *sql.DB) error {
	for _, pragma := range sqlitePragmas {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := db.ExecContext(pctx, pragma)
		cancel()
		if err != nil {
			return fmt.Errorf("pragma %q: %w", pragma, err)
		}
	}

	var mode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		return fmt.Errorf("query journal mode: %w", err)
	}
	// In-memory databases cannot use WAL.
	if m := strings.ToLower(mode); m != "wal" && m != "memory" {
		return fmt.Errorf("WAL mode not enabled: %s", mode)
	}
	return nil
}

// Shutdown closes the database.
func (s *SQLiteStore) Shutdown() error {
	return s.db.Close()
}

// Create inserts a new session row.
func (s *SQLiteStore) Create() (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := newSession()
	if err := s.writeMeta(s.db, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get reads session metadata by ID.
func (s *SQLiteStore) Get(id string) (*Session, error) {
	return s.readMeta(s.db, id)
}

// List returns all sessions sorted by UpdatedAt descending.
func (s *SQLiteStore) List() ([]*Session, error) {
	rows, err := s.db.Query(`SELECT meta FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		var sess Session
		if err := json.Unmarshal([]byte(raw), &sess); err != nil {
			continue // skip corrupted sessions
		}
		out = append(out, &sess)
	}
	return out, rows.Err()
}

// UpdateMeta rewrites a session's metadata.
func (s *SQLiteStore) UpdateMeta(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.writeMeta(s.db, sess)
}

// Close marks a session as closed.
func (s *SQLiteStore) Close(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.readMeta(s.db, id)
	if err != nil {
		return err
	}
	sess.Status = SessionClosed
	sess.UpdatedAt = time.Now()
	return s.writeMeta(s.db, sess)
}

// AppendMessages inserts messages after the last stored one and bumps the
// message count, in one transaction.
func (s *SQLiteStore) AppendMessages(sessionID string, msgs ...*schema.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	sess, err := s.readMeta(tx, sessionID)
	if err != nil {
		return err
	}

	var next int
	if err := tx.QueryRow(`SELECT COALESCE(MAX(seq) + 1, 0) FROM messages WHERE session_id = ?`, sessionID).Scan(&next); err != nil {
		return fmt.Errorf("next seq: %w", err)
	}

	for i, rec := range stamp(msgs) {
		body, err := json.Marshal(rec.Message)
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}
		if _, err := tx.Exec(`INSERT INTO messages (session_id, seq, body, ts) VALUES (?, ?, ?, ?)`,
			sessionID, next+i, string(body), rec.Ts.UnixNano()); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	sess.MessageCount += len(msgs)
	sess.UpdatedAt = time.Now()
	if err := s.writeMeta(tx, sess); err != nil {
		return err
	}
	return tx.Commit()
}

// LoadMessages returns the transcript in insertion order.
func (s *SQLiteStore) LoadMessages(sessionID string) ([]Message, error) {
	if _, err := s.readMeta(s.db, sessionID); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`SELECT body, ts FROM messages WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var body string
		var ts int64
		if err := rows.Scan(&body, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		var msg schema.Message
		if err := json.Unmarshal([]byte(body), &msg); err != nil {
			continue // skip corrupted rows
		}
		out = append(out, Message{Message: &msg, Ts: time.Unix(0, ts)})
	}
	return out, rows.Err()
}

type execQuerier interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
}

func (s *SQLiteStore) writeMeta(q execQuerier, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	_, err = q.Exec(`INSERT INTO sessions (id, meta, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET meta = excluded.meta, updated_at = excluded.updated_at`,
		sess.ID, string(data), sess.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("write meta: %w", err)
	}
	return nil
}

func (s *SQLiteStore) readMeta(q execQuerier, id string) (*Session, error) {
	var raw string
	err := q.QueryRow(`SELECT meta FROM sessions WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read meta: %w", err)
	}
	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, fmt.Errorf("unmarshal meta: %w", err)
	}
	return &sess, nil
}
