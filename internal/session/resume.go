package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/certrig/certrig/internal/launcher"
	"github.com/certrig/certrig/internal/resource"
	"github.com/certrig/certrig/internal/runner"
	"github.com/certrig/certrig/internal/store"
)

// resultOverrideFile, dropped into the session share directory before a
// resume, forces the outcome recorded for the job that was running when
// the session stopped. Contents: pass, fail or skip.
const resultOverrideFile = "__result"

// ResumeError describes a session that could not be resumed: missing,
// or carrying a checkpoint this version cannot decode.
type ResumeError struct {
	SessionID string
	Reason    string
	Err       error
}

func (e *ResumeError) Error() string {
	return fmt.Sprintf("cannot resume session %s: %s", e.SessionID, e.Reason)
}

func (e *ResumeError) Unwrap() error {
	return e.Err
}

// SnapshotNoninteractive reports whether a stored snapshot belongs to a
// noninteractive session. A blob that cannot be decoded is an error, not
// a "no": guessing would let a half-written checkpoint silently block or
// trigger automatic resume.
func SnapshotNoninteractive(snap store.Snapshot) (bool, error) {
	blob, err := decodeAppBlob(snap.AppBlob)
	if err != nil {
		return false, &ResumeError{SessionID: snap.SessionID, Reason: "corrupt app blob", Err: err}
	}
	if blob.Launcher == "" {
		return false, nil
	}
	cfg, err := launcher.FromText(blob.Launcher)
	if err != nil {
		return false, &ResumeError{SessionID: snap.SessionID, Reason: "corrupt launcher in app blob", Err: err}
	}
	return cfg.Noninteractive(), nil
}

// Resume rebuilds a session from its checkpoint. The job that was
// running when the checkpoint was written gets an automatic outcome so
// a crashing job cannot wedge the session in a resume loop; the outcome
// defaults to pass and can be forced through the share directory's
// override file.
func Resume(ctx context.Context, logger *slog.Logger, st *store.Store, sessionID string, opts ...Option) (*Assistant, error) {
	snap, err := st.GetSnapshot(ctx, sessionID)
	if err != nil {
		return nil, &ResumeError{SessionID: sessionID, Reason: "no such session", Err: err}
	}
	blob, err := decodeAppBlob(snap.AppBlob)
	if err != nil {
		return nil, &ResumeError{SessionID: sessionID, Reason: "corrupt app blob", Err: err}
	}
	var sb stateBlob
	if err := json.Unmarshal(snap.State, &sb); err != nil {
		return nil, &ResumeError{SessionID: sessionID, Reason: "corrupt state blob", Err: err}
	}

	a := &Assistant{
		logger:       logger,
		store:        st,
		id:           snap.SessionID,
		title:        snap.Title,
		launcherText: blob.Launcher,
		status:       StatusResumed,
		states:       make(map[string]*JobState),
		via:          make(map[string]string),
		facts:        make(map[string][]resource.Fact),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.launcherText != "" {
		cfg, err := launcher.FromText(a.launcherText)
		if err != nil {
			return nil, &ResumeError{SessionID: sessionID, Reason: "corrupt launcher in app blob", Err: err}
		}
		a.cfg = cfg
	}

	a.mu.Lock()
	err = a.restoreLocked(sb)
	a.mu.Unlock()
	if err != nil {
		return nil, &ResumeError{SessionID: sessionID, Reason: "corrupt state blob", Err: err}
	}

	if blob.RunningJob != "" {
		a.settleInterruptedJob(blob.RunningJob)
	}
	logger.Info("session resumed", "session", sessionID, "jobs", len(sb.Jobs))
	return a, nil
}

// settleInterruptedJob records an automatic outcome for the job that was
// in flight when the checkpoint was written.
func (a *Assistant) settleInterruptedJob(jobID string) {
	s := a.State(jobID)
	if s == nil || s.Result != nil {
		return
	}
	outcome := a.overrideOutcome()
	a.setResult(jobID, &runner.Result{
		Outcome:  outcome,
		Comments: fmt.Sprintf("Automatically %s after resuming execution", pastTense(outcome)),
	})
	a.logger.Info("settled interrupted job", "job", jobID, "outcome", string(outcome))
}

// overrideOutcome reads the share directory's override file. Absent or
// unrecognized contents mean pass.
func (a *Assistant) overrideOutcome() runner.Outcome {
	if a.shareDir == "" {
		return runner.OutcomePass
	}
	data, err := os.ReadFile(filepath.Join(a.shareDir, resultOverrideFile))
	if err != nil {
		return runner.OutcomePass
	}
	switch strings.TrimSpace(string(data)) {
	case "fail":
		return runner.OutcomeFail
	case "skip":
		return runner.OutcomeSkip
	default:
		return runner.OutcomePass
	}
}

func pastTense(outcome runner.Outcome) string {
	switch outcome {
	case runner.OutcomeFail:
		return "failed"
	case runner.OutcomeSkip:
		return "skipped"
	default:
		return "passed"
	}
}

// AutoResume resumes the most recent session if and only if it is
// noninteractive. Returns (nil, nil) when there is nothing eligible:
// an empty store, or a newest session that needs an operator.
func AutoResume(ctx context.Context, logger *slog.Logger, st *store.Store, opts ...Option) (*Assistant, error) {
	snapshots, err := st.ListSnapshots(ctx)
	if err != nil {
		return nil, err
	}
	if len(snapshots) == 0 {
		return nil, nil
	}
	newest := snapshots[0]
	noninteractive, err := SnapshotNoninteractive(newest)
	if err != nil {
		return nil, err
	}
	if !noninteractive {
		logger.Info("newest session is interactive, not auto-resuming", "session", newest.SessionID)
		return nil, nil
	}
	return Resume(ctx, logger, st, newest.SessionID, opts...)
}
