package cli

import (
	"log/slog"
	"os"

	"github.com/certrig/certrig/internal/config"
	"github.com/certrig/certrig/internal/store"
)

// resolveStateDir honors an explicit --state-dir before falling back to
// the configured default.
func resolveStateDir(flag string) (string, error) {
	if flag != "" {
		if err := os.MkdirAll(flag, 0o755); err != nil {
			return "", err
		}
		return flag, nil
	}
	return config.StateDir()
}

// setupLogging builds the dual-output session logger. The cleanup
// function closes the log file.
func setupLogging(opts *RootOptions, stateDir string) (*slog.Logger, func() error) {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return config.SetupLogger(config.LogPath(stateDir), level)
}

// openStore opens the checkpoint database inside the state directory.
func openStore(stateDir string) (*store.Store, error) {
	return store.Open(config.DatabasePath(stateDir))
}
