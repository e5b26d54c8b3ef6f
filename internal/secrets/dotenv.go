package secrets

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var envKeyRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidKey reports whether key can be referenced as ${{ .Env.KEY }}.
func ValidKey(key string) bool {
	return envKeyRe.MatchString(key)
}

// SetEntry writes KEY=VALUE into the .env file at path, replacing the line
// that already defines key. Comments and other entries are left in place.
func SetEntry(path, key, value string) error {
	if !ValidKey(key) {
		return fmt.Errorf("invalid env key %q", key)
	}
	lines, err := readLines(path)
	if err != nil {
		return err
	}

	entry := key + "=" + quoteValue(value)
	if i := indexOf(lines, key); i >= 0 {
		lines[i] = entry
	} else {
		lines = append(lines, entry)
	}
	return writeLines(path, lines)
}

// RemoveEntry drops the line defining key. It reports whether the key
// was present.
func RemoveEntry(path, key string) (bool, error) {
	lines, err := readLines(path)
	if err != nil {
		return false, err
	}
	i := indexOf(lines, key)
	if i < 0 {
		return false, nil
	}
	lines = append(lines[:i], lines[i+1:]...)
	return true, writeLines(path, lines)
}

// indexOf returns the line defining key, honouring an "export " prefix.
func indexOf(lines []string, key string) int {
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		k, _, ok := strings.Cut(strings.TrimPrefix(trimmed, "export "), "=")
		if ok && strings.TrimSpace(k) == key {
			return i
		}
	}
	return -1
}

// readLines returns the file's lines; a missing file has none.
func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read dotenv: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

// writeLines replaces the file through a temp file so readers never see a
// half-written .env.
func writeLines(path string, lines []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create dotenv dir: %w", err)
	}
	content := ""
	if len(lines) > 0 {
		content = strings.Join(lines, "\n") + "\n"
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o600); err != nil {
		return fmt.Errorf("write dotenv: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write dotenv: %w", err)
	}
	return nil
}

// quoteValue double-quotes values the dotenv reader would otherwise split
// or misread.
func quoteValue(v string) string {
	if !strings.ContainsAny(v, " \t\"'\\#$") {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(v) + `"`
}
