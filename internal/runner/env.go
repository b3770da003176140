package runner

import (
	"os"
	"strings"
)

// SessionShareEnvVar names the per-session scratch directory exported to
// every job command. Probe scripts store artifacts there so they survive
// checkpoints.
const SessionShareEnvVar = "CERTRIG_SESSION_SHARE"

// executionEnvironment builds the overlay environment for job commands:
// a fixed non-internationalized locale, harness script directories
// prepended to PATH, and the session share directory. The parent
// environment is inherited for everything else.
func executionEnvironment(shareDir string, extraPath []string) []string {
	env := os.Environ()
	out := make([]string, 0, len(env)+2)
	var path string
	for _, kv := range env {
		key, value, _ := strings.Cut(kv, "=")
		switch key {
		case "LANG", "LANGUAGE", "LC_ALL":
			// Dropped; scripts parse tool output and need stable formatting.
			continue
		case "PATH":
			path = value
			continue
		}
		out = append(out, kv)
	}
	out = append(out, "LANG=C.UTF-8")
	if len(extraPath) > 0 {
		entries := append(append([]string{}, extraPath...), path)
		path = strings.Join(entries, string(os.PathListSeparator))
	}
	if path != "" {
		out = append(out, "PATH="+path)
	}
	if shareDir != "" {
		out = append(out, SessionShareEnvVar+"="+shareDir)
	}
	return out
}
