package loader

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certrig/certrig/internal/job"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "cpu.yaml", `jobs:
  - id: cpu/detect
    plugin: resource
    command: cpu_probe
  - id: cpu/freq
    plugin: shell
    command: cpu_freq_test
    depends: cpu/detect
    summary: CPU frequency scaling
`)
	writeFile(t, dir, "audio.yaml", `id: audio/playback
plugin: manual
summary: Audio playback
certification_status: blocker
`)

	l, err := New()
	require.NoError(t, err)

	jobs, err := l.LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, jobs, 3)

	// Files load in sorted order; audio.yaml comes first.
	assert.Equal(t, "com.certrig.default::audio/playback", jobs[0].ID)
	assert.Equal(t, job.PluginManual, jobs[0].Plugin)
	assert.Equal(t, "blocker", jobs[0].CertificationStatus)
	assert.Equal(t, job.PluginResource, jobs[1].Plugin)
	assert.Equal(t, "CPU frequency scaling", jobs[2].Summary)
}

func TestLoadDir_Missing(t *testing.T) {
	l, err := New()
	require.NoError(t, err)

	_, err = l.LoadDir(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, ErrCodeNotFound, loadErr.Code)
}

func TestLoadDir_Empty(t *testing.T) {
	l, err := New()
	require.NoError(t, err)

	_, err = l.LoadDir(t.TempDir())
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, ErrCodeNoFiles, loadErr.Code)
}

func TestParse_RejectsUnknownPlugin(t *testing.T) {
	l, err := New()
	require.NoError(t, err)

	_, err = l.Parse(strings.NewReader("id: x\nplugin: telepathy\n"), "inline")
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, ErrCodeSchema, loadErr.Code)
}

func TestParse_RejectsUnknownField(t *testing.T) {
	l, err := New()
	require.NoError(t, err)

	_, err = l.Parse(strings.NewReader("id: x\nplugin: shell\nbogus: 1\n"), "inline")
	require.Error(t, err)
}

func TestParse_RejectsMissingID(t *testing.T) {
	l, err := New()
	require.NoError(t, err)

	_, err = l.Parse(strings.NewReader("plugin: shell\n"), "inline")
	require.Error(t, err)
}

func TestParse_MultiDocument(t *testing.T) {
	l, err := New()
	require.NoError(t, err)

	jobs, err := l.Parse(strings.NewReader(`id: a
plugin: shell
---
id: b
plugin: local
`), "inline")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, job.PluginLocal, jobs[1].Plugin)
}

func TestParse_BadYAML(t *testing.T) {
	l, err := New()
	require.NoError(t, err)

	_, err = l.Parse(strings.NewReader(":\n  - {"), "inline")
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, ErrCodeParse, loadErr.Code)
}
