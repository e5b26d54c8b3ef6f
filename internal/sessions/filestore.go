package sessions

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/dohr-michael/dbtpilot/internal/storage/dirstore"
)

const messagesFile = "messages.jsonl"

// FileStore persists sessions as directories with meta.json + messages.jsonl.
type FileStore struct {
	ds *dirstore.DirStore
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a FileStore rooted at baseDir.
func NewFileStore(baseDir string) *FileStore {
	return &FileStore{ds: dirstore.NewDirStore(baseDir, "session")}
}

func generateSessionID() string {
	u := uuid.New().String()
	return "sess_" + strings.ReplaceAll(u[:8], "-", "")
}

func newSession() *Session {
	now := time.Now()
	return &Session{
		ID:        generateSessionID(),
		CreatedAt: now,
		UpdatedAt: now,
		Status:    SessionActive,
		Stack:     []string{},
	}
}

// Create initialises a new session directory with meta.json.
func (fs *FileStore) Create() (*Session, error) {
	fs.ds.Lock()
	defer fs.ds.Unlock()

	s := newSession()
	if err := fs.ds.EnsureDir(s.ID); err != nil {
		return nil, err
	}
	if err := fs.ds.WriteMeta(s.ID, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Get reads session metadata by ID.
func (fs *FileStore) Get(id string) (*Session, error) {
	fs.ds.RLock()
	defer fs.ds.RUnlock()

	return fs.readMeta(id)
}

// List returns all sessions sorted by UpdatedAt descending.
func (fs *FileStore) List() ([]*Session, error) {
	fs.ds.RLock()
	defer fs.ds.RUnlock()

	ids, err := fs.ds.ListDirs()
	if err != nil {
		return nil, err
	}

	var sessions []*Session
	for _, id := range ids {
		s, err := fs.readMeta(id)
		if err != nil {
			continue // skip corrupted sessions
		}
		sessions = append(sessions, s)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return sessions, nil
}

// UpdateMeta atomically rewrites a session's meta.json.
func (fs *FileStore) UpdateMeta(s *Session) error {
	fs.ds.Lock()
	defer fs.ds.Unlock()

	return fs.ds.WriteMeta(s.ID, s)
}

// Close marks a session as closed.
func (fs *FileStore) Close(id string) error {
	fs.ds.Lock()
	defer fs.ds.Unlock()

	s, err := fs.readMeta(id)
	if err != nil {
		return err
	}
	s.Status = SessionClosed
	s.UpdatedAt = time.Now()
	return fs.ds.WriteMeta(id, s)
}

// AppendMessages appends messages to the session's JSONL file and bumps
// the message count in meta.
func (fs *FileStore) AppendMessages(sessionID string, msgs ...*schema.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	fs.ds.Lock()
	defer fs.ds.Unlock()

	s, err := fs.readMeta(sessionID)
	if err != nil {
		return err
	}
	records := stamp(msgs)
	items := make([]any, len(records))
	for i := range records {
		items[i] = records[i]
	}
	if err := fs.ds.AppendJSONL(sessionID, messagesFile, items...); err != nil {
		return err
	}

	s.MessageCount += len(msgs)
	s.UpdatedAt = time.Now()
	return fs.ds.WriteMeta(sessionID, s)
}

// LoadMessages reads all messages from a session's JSONL file.
func (fs *FileStore) LoadMessages(sessionID string) ([]Message, error) {
	fs.ds.RLock()
	defer fs.ds.RUnlock()

	if _, err := fs.readMeta(sessionID); err != nil {
		return nil, err
	}
	return dirstore.LoadJSONL[Message](fs.ds, sessionID, messagesFile)
}

func (fs *FileStore) readMeta(id string) (*Session, error) {
	var s Session
	if err := fs.ds.ReadMeta(id, &s); err != nil {
		if dirstore.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return &s, nil
}
