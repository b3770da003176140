package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certrig/certrig/internal/job"
	"github.com/certrig/certrig/internal/runner"
	"github.com/certrig/certrig/internal/store"
)

const silentLauncherText = "launcher:\n  session_title: SRU\nui:\n  type: silent\n"

// checkpointedSession writes a checkpoint with two jobs, one finished,
// and returns the session id.
func checkpointedSession(t *testing.T, st *store.Store, launcherText string) string {
	t.Helper()
	a, err := New(testLogger(), WithStore(st), WithLauncherText(launcherText), WithTitle("resumable"))
	require.NoError(t, err)

	done := mkJob(t, job.Descriptor{ID: "done", Plugin: "shell", Command: "true"})
	pending := mkJob(t, job.Descriptor{ID: "pending", Plugin: "shell", Command: "true"})
	require.NoError(t, a.AddJobs(done, pending))
	a.setResult(done.ID, &runner.Result{Outcome: runner.OutcomePass, ReturnCode: 0})
	require.NoError(t, a.Checkpoint(context.Background()))
	return a.ID()
}

func TestResume_RoundTrip(t *testing.T) {
	st := openStore(t)
	id := checkpointedSession(t, st, silentLauncherText)

	a, err := Resume(context.Background(), testLogger(), st, id)
	require.NoError(t, err)

	assert.Equal(t, id, a.ID())
	assert.Equal(t, "resumable", a.Title())
	assert.Equal(t, StatusResumed, a.Status())
	assert.True(t, a.Noninteractive())
	require.Len(t, a.Jobs(), 2)

	done := a.State("com.certrig.default::done")
	require.NotNil(t, done.Result)
	assert.Equal(t, runner.OutcomePass, done.Result.Outcome)
	assert.Nil(t, a.State("com.certrig.default::pending").Result)
}

func TestResume_NotFound(t *testing.T) {
	st := openStore(t)

	_, err := Resume(context.Background(), testLogger(), st, "missing")
	var resumeErr *ResumeError
	require.ErrorAs(t, err, &resumeErr)
	assert.ErrorIs(t, err, store.ErrSnapshotNotFound)
}

func TestResume_CorruptBlob(t *testing.T) {
	st := openStore(t)
	require.NoError(t, st.SaveSnapshot(context.Background(), store.Snapshot{
		SessionID: "broken",
		AppBlob:   []byte("not json"),
		State:     []byte("{}"),
		CreatedAt: time.Now(),
	}))

	_, err := Resume(context.Background(), testLogger(), st, "broken")
	var resumeErr *ResumeError
	require.ErrorAs(t, err, &resumeErr)
	assert.Equal(t, "corrupt app blob", resumeErr.Reason)
}

// interruptedSession checkpoints mid-run with a job still marked running.
func interruptedSession(t *testing.T, st *store.Store, launcherText string) string {
	t.Helper()
	a, err := New(testLogger(), WithStore(st), WithLauncherText(launcherText))
	require.NoError(t, err)
	j := mkJob(t, job.Descriptor{ID: "inflight", Plugin: "shell", Command: "true"})
	require.NoError(t, a.AddJobs(j))
	a.setRunningJob(j.ID)
	require.NoError(t, a.Checkpoint(context.Background()))
	return a.ID()
}

func TestResume_AutoPassesInterruptedJob(t *testing.T) {
	st := openStore(t)
	id := interruptedSession(t, st, "")

	a, err := Resume(context.Background(), testLogger(), st, id)
	require.NoError(t, err)

	result := a.State("com.certrig.default::inflight").Result
	require.NotNil(t, result)
	assert.Equal(t, runner.OutcomePass, result.Outcome)
	assert.Equal(t, "Automatically passed after resuming execution", result.Comments)
}

func TestResume_OverrideFileForcesOutcome(t *testing.T) {
	st := openStore(t)
	id := interruptedSession(t, st, "")

	share := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(share, resultOverrideFile), []byte("fail\n"), 0o644))

	a, err := Resume(context.Background(), testLogger(), st, id, WithShareDir(share))
	require.NoError(t, err)

	result := a.State("com.certrig.default::inflight").Result
	require.NotNil(t, result)
	assert.Equal(t, runner.OutcomeFail, result.Outcome)
	assert.Equal(t, "Automatically failed after resuming execution", result.Comments)
}

func TestSnapshotNoninteractive(t *testing.T) {
	st := openStore(t)
	silent := checkpointedSession(t, st, silentLauncherText)
	interactive := checkpointedSession(t, st, "ui:\n  type: interactive\n")

	ctx := context.Background()
	snapSilent, err := st.GetSnapshot(ctx, silent)
	require.NoError(t, err)
	got, err := SnapshotNoninteractive(snapSilent)
	require.NoError(t, err)
	assert.True(t, got)

	snapInteractive, err := st.GetSnapshot(ctx, interactive)
	require.NoError(t, err)
	got, err = SnapshotNoninteractive(snapInteractive)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestSnapshotNoninteractive_CorruptBlobIsError(t *testing.T) {
	_, err := SnapshotNoninteractive(store.Snapshot{SessionID: "x", AppBlob: []byte("{")})
	var resumeErr *ResumeError
	require.ErrorAs(t, err, &resumeErr)
}

func TestAutoResume_SilentSession(t *testing.T) {
	st := openStore(t)
	id := checkpointedSession(t, st, silentLauncherText)

	a, err := AutoResume(context.Background(), testLogger(), st)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, id, a.ID())
}

func TestAutoResume_InteractiveSessionStays(t *testing.T) {
	st := openStore(t)
	checkpointedSession(t, st, "ui:\n  type: interactive\n")

	a, err := AutoResume(context.Background(), testLogger(), st)
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestAutoResume_EmptyStore(t *testing.T) {
	st := openStore(t)

	a, err := AutoResume(context.Background(), testLogger(), st)
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestAutoResume_PicksNewest(t *testing.T) {
	st := openStore(t)
	checkpointedSession(t, st, silentLauncherText)
	newest := checkpointedSession(t, st, silentLauncherText)

	a, err := AutoResume(context.Background(), testLogger(), st)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, newest, a.ID())
}
