package config

import (
	"os"
	"path/filepath"
)

// DbtpilotPath returns the root directory for dbtpilot data.
// It uses $DBTPILOT_PATH if set, otherwise defaults to ~/.dbtpilot.
func DbtpilotPath() string {
	if v := os.Getenv("DBTPILOT_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".dbtpilot")
	}
	return filepath.Join(home, ".dbtpilot")
}

// ConfigPath returns the path to the config file.
func ConfigPath() string {
	return filepath.Join(DbtpilotPath(), "config.jsonc")
}

// DotenvPath returns the path to the .env file.
func DotenvPath() string {
	return filepath.Join(DbtpilotPath(), ".env")
}

// SessionsPath returns the default file-store directory.
func SessionsPath() string {
	return filepath.Join(DbtpilotPath(), "sessions")
}

// SkillsPath returns the default skill definitions directory.
func SkillsPath() string {
	return filepath.Join(DbtpilotPath(), "skills")
}

// LogsPath returns the event log directory.
func LogsPath() string {
	return filepath.Join(DbtpilotPath(), "logs")
}
