package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// EnvEntry is one assignment of a .env file.
type EnvEntry struct {
	Key   string
	Value string
}

// LoadDotenv sets the variables of a .env file that are not already in the
// environment. A missing file is ignored.
func LoadDotenv(path string) error {
	return applyDotenv(path, false)
}

// ReloadDotenv re-reads a .env file, overriding variables it defines.
func ReloadDotenv(path string) error {
	return applyDotenv(path, true)
}

func applyDotenv(path string, override bool) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open dotenv: %w", err)
	}
	defer f.Close()

	entries, err := ParseDotenv(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	for _, e := range entries {
		if _, exists := os.LookupEnv(e.Key); override || !exists {
			os.Setenv(e.Key, e.Value)
		}
	}
	return nil
}

// ParseDotenv reads KEY=value lines in file order. Blank lines and
// comments are skipped, an "export " prefix is accepted, and " #" starts a
// comment in unquoted values. A line without "=" is an error.
func ParseDotenv(r io.Reader) ([]EnvEntry, error) {
	var entries []EnvEntry
	scanner := bufio.NewScanner(r)
	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(strings.TrimPrefix(line, "export "), "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("line %d: expected KEY=value", n)
		}
		entries = append(entries, EnvEntry{Key: key, Value: parseValue(strings.TrimSpace(value))})
	}
	return entries, scanner.Err()
}

func parseValue(s string) string {
	if len(s) >= 2 {
		switch {
		case s[0] == '"' && s[len(s)-1] == '"':
			r := strings.NewReplacer(`\"`, `"`, `\\`, `\`)
			return r.Replace(s[1 : len(s)-1])
		case s[0] == '\'' && s[len(s)-1] == '\'':
			return s[1 : len(s)-1]
		}
	}
	if i := strings.Index(s, " #"); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	return s
}
