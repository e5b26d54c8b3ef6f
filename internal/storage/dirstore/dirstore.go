// Package dirstore holds the primitives shared by directory-backed stores:
// one subdirectory per entity with a meta.json and JSONL companion files.
package dirstore

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrNotFound is wrapped when an entity has no meta.json or its id cannot
// name a directory.
var ErrNotFound = errors.New("not found")

// IsNotFound reports whether err comes from a missing entity.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// maxLine bounds a single JSONL record; tool results can be large.
const maxLine = 8 << 20

const metaFile = "meta.json"

// DirStore guards a base directory of entity subdirectories. Callers hold
// the lock around multi-step updates.
type DirStore struct {
	mu         sync.RWMutex
	baseDir    string
	entityName string
}

// NewDirStore creates a DirStore rooted at baseDir. entityName is used in
// error messages ("session", "event log").
func NewDirStore(baseDir, entityName string) *DirStore {
	return &DirStore{baseDir: baseDir, entityName: entityName}
}

func (ds *DirStore) Lock()    { ds.mu.Lock() }
func (ds *DirStore) Unlock()  { ds.mu.Unlock() }
func (ds *DirStore) RLock()   { ds.mu.RLock() }
func (ds *DirStore) RUnlock() { ds.mu.RUnlock() }

// ValidID reports whether id names a single directory below the base.
// Ids reach the store from HTTP paths.
func ValidID(id string) bool {
	return id != "" && id != "." && id != ".." &&
		!strings.ContainsAny(id, `/\`) && !strings.HasPrefix(id, ".")
}

func (ds *DirStore) check(id string) error {
	if !ValidID(id) {
		return fmt.Errorf("%s %w: invalid id %q", ds.entityName, ErrNotFound, id)
	}
	return nil
}

// Dir returns the directory of an entity.
func (ds *DirStore) Dir(id string) string {
	return filepath.Join(ds.baseDir, id)
}

// FilePath returns a named file within an entity's directory.
func (ds *DirStore) FilePath(id, name string) string {
	return filepath.Join(ds.baseDir, id, name)
}

// EnsureDir creates the entity directory and its parents.
func (ds *DirStore) EnsureDir(id string) error {
	if err := ds.check(id); err != nil {
		return err
	}
	if err := os.MkdirAll(ds.Dir(id), 0o700); err != nil {
		return fmt.Errorf("create %s dir: %w", ds.entityName, err)
	}
	return nil
}

// ListDirs returns the entity ids found under the base directory.
func (ds *DirStore) ListDirs() ([]string, error) {
	entries, err := os.ReadDir(ds.baseDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s dirs: %w", ds.entityName, err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() && ValidID(entry.Name()) {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}

// WriteMeta replaces meta.json through a temp file and rename.
func (ds *DirStore) WriteMeta(id string, v any) error {
	if err := ds.check(id); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s meta: %w", ds.entityName, err)
	}

	path := ds.FilePath(id, metaFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s meta: %w", ds.entityName, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s meta: %w", ds.entityName, err)
	}
	return nil
}

// ReadMeta decodes meta.json into out.
func (ds *DirStore) ReadMeta(id string, out any) error {
	if err := ds.check(id); err != nil {
		return err
	}
	data, err := os.ReadFile(ds.FilePath(id, metaFile))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%s %w: %s", ds.entityName, ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("read %s meta: %w", ds.entityName, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal %s meta: %w", ds.entityName, err)
	}
	return nil
}

// AppendJSONL appends one JSON line per value in a single write, creating
// the entity directory on first use.
func (ds *DirStore) AppendJSONL(id, filename string, values ...any) error {
	if len(values) == 0 {
		return nil
	}
	var buf bytes.Buffer
	for _, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", filename, err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}

	if err := ds.EnsureDir(id); err != nil {
		return err
	}
	f, err := os.OpenFile(ds.FilePath(id, filename), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open %s: %w", filename, err)
	}
	defer f.Close()

	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write %s: %w", filename, err)
	}
	return nil
}

// LoadJSONL decodes every line of an entity file. Corrupted lines, such as
// a record cut short by a crash, are skipped.
func LoadJSONL[T any](ds *DirStore, id, filename string) ([]T, error) {
	return TailJSONL[T](ds, id, filename, 0)
}

// TailJSONL decodes the last n lines of an entity file; n <= 0 reads all.
// A missing file yields no items.
func TailJSONL[T any](ds *DirStore, id, filename string, n int) ([]T, error) {
	if err := ds.check(id); err != nil {
		return nil, err
	}
	f, err := os.Open(ds.FilePath(id, filename))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filename, err)
	}
	defer f.Close()

	items, err := decodeLines[T](f)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", filename, err)
	}
	if n > 0 && len(items) > n {
		items = items[len(items)-n:]
	}
	return items, nil
}

func decodeLines[T any](r io.Reader) ([]T, error) {
	var items []T
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var item T
		if err := json.Unmarshal(line, &item); err != nil {
			continue
		}
		items = append(items, item)
	}
	return items, scanner.Err()
}
