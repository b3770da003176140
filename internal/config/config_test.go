package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Info("session created", "session", "abc")

	assert.Contains(t, stderr.String(), "session created")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(file.Bytes(), &entry))
	assert.Equal(t, "session created", entry["msg"])
	assert.Equal(t, "abc", entry["session"])
}

func TestSetupLoggerWithWriters_LevelFilter(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelWarn)

	logger.Info("quiet")
	logger.Warn("loud")

	assert.NotContains(t, stderr.String(), "quiet")
	assert.Contains(t, stderr.String(), "loud")
	assert.Equal(t, 1, strings.Count(file.String(), "\n"))
}

func TestStateDir_EnvOverride(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	t.Setenv(StateDirEnvVar, dir)

	got, err := StateDir()
	require.NoError(t, err)
	assert.Equal(t, dir, got)
	assert.DirExists(t, got)
}

func TestShareDir(t *testing.T) {
	dir := t.TempDir()
	share, err := ShareDir(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "share"), share)
	assert.DirExists(t, share)
}

func TestPaths(t *testing.T) {
	assert.Equal(t, "/tmp/x/sessions.db", DatabasePath("/tmp/x"))
	assert.Equal(t, "/tmp/x/certrig.log", LogPath("/tmp/x"))
}
