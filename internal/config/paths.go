package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// StateDirEnvVar overrides where the harness keeps its state.
const StateDirEnvVar = "CERTRIG_STATE_DIR"

// StateDir returns the directory holding the checkpoint database, the
// session share directory and the log file, creating it if needed.
// Root gets a system location, everyone else the XDG data dir.
func StateDir() (string, error) {
	dir := os.Getenv(StateDirEnvVar)
	if dir == "" {
		if os.Geteuid() == 0 {
			dir = "/var/lib/certrig"
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("resolve state directory: %w", err)
			}
			dir = filepath.Join(home, ".local", "share", "certrig")
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create state directory: %w", err)
	}
	return dir, nil
}

// DatabasePath returns the checkpoint database location inside dir.
func DatabasePath(dir string) string {
	return filepath.Join(dir, "sessions.db")
}

// ShareDir returns the session scratch directory inside dir, creating
// it if needed.
func ShareDir(dir string) (string, error) {
	share := filepath.Join(dir, "share")
	if err := os.MkdirAll(share, 0o755); err != nil {
		return "", fmt.Errorf("create share directory: %w", err)
	}
	return share, nil
}

// LogPath returns the JSON log file location inside dir.
func LogPath(dir string) string {
	return filepath.Join(dir, "certrig.log")
}
