package runner

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certrig/certrig/internal/job"
	"github.com/certrig/certrig/internal/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func shellJob(id, command string) *job.Job {
	j, err := job.FromDescriptor(job.Descriptor{ID: id, Plugin: "shell", Command: command})
	if err != nil {
		panic(err)
	}
	return j
}

func TestRunJob_ShellPass(t *testing.T) {
	r := New(testLogger(), WithOutputSink(func(IOLogRecord) {}))
	result, err := r.RunJob(context.Background(), shellJob("ok", "true"))
	require.NoError(t, err)

	assert.Equal(t, OutcomePass, result.Outcome)
	assert.Equal(t, 0, result.ReturnCode)
}

func TestRunJob_ShellFail(t *testing.T) {
	r := New(testLogger(), WithOutputSink(func(IOLogRecord) {}))
	result, err := r.RunJob(context.Background(), shellJob("bad", "exit 3"))
	require.NoError(t, err, "a nonzero exit is a result, not an error")

	assert.Equal(t, OutcomeFail, result.Outcome)
	assert.Equal(t, 3, result.ReturnCode)
}

func TestRunJob_CapturesBothStreams(t *testing.T) {
	r := New(testLogger(), WithOutputSink(func(IOLogRecord) {}))
	result, err := r.RunJob(context.Background(),
		shellJob("streams", "echo out-line; echo err-line >&2"))
	require.NoError(t, err)
	require.Len(t, result.IOLog, 2)

	byStream := map[string]string{}
	for _, record := range result.IOLog {
		byStream[record.Stream] = string(record.Data)
	}
	assert.Equal(t, "out-line", byStream[StreamStdout])
	assert.Equal(t, "err-line", byStream[StreamStderr])
}

func TestRunJob_EnvironmentOverlay(t *testing.T) {
	r := New(testLogger(),
		WithShareDir("/tmp/certrig-share"),
		WithOutputSink(func(IOLogRecord) {}))
	result, err := r.RunJob(context.Background(),
		shellJob("env", `echo "$LANG|$CERTRIG_SESSION_SHARE"`))
	require.NoError(t, err)
	require.Len(t, result.IOLog, 1)

	assert.Equal(t, "C.UTF-8|/tmp/certrig-share", string(result.IOLog[0].Data))
}

func TestRunJob_ManualWithoutProviderSkips(t *testing.T) {
	j, err := job.FromDescriptor(job.Descriptor{ID: "m", Plugin: "manual"})
	require.NoError(t, err)

	r := New(testLogger())
	result, err := r.RunJob(context.Background(), j)
	require.NoError(t, err)

	assert.Equal(t, OutcomeSkip, result.Outcome)
	assert.Equal(t, "non-interactive test run", result.Comments)
}

type fakeProvider struct {
	decision Decision
	saw      Outcome
}

func (p *fakeProvider) Decide(j *job.Job, suggested Outcome) Decision {
	p.saw = suggested
	return p.decision
}

func TestRunJob_InteractiveDecisions(t *testing.T) {
	tests := []struct {
		name     string
		command  string
		decision Decision
		want     Outcome
		comment  string
		rerun    bool
	}{
		{"continue keeps suggested", "true", Decision{Action: ActionContinue}, OutcomePass, "", false},
		{"continue keeps failure", "false", Decision{Action: ActionContinue}, OutcomeFail, "", false},
		{"comment attaches text", "true", Decision{Action: ActionComment, Comment: "looks fine"}, OutcomePass, "looks fine", false},
		{"skip overrides", "true", Decision{Action: ActionSkip, Comment: "no fixture"}, OutcomeSkip, "no fixture", false},
		{"fail overrides", "true", Decision{Action: ActionFail}, OutcomeFail, "", false},
		{"rerun flags repeat", "true", Decision{Action: ActionRerun}, OutcomePass, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &fakeProvider{decision: tt.decision}
			r := New(testLogger(),
				WithOutcomeProvider(provider),
				WithOutputSink(func(IOLogRecord) {}))
			j, err := job.FromDescriptor(job.Descriptor{
				ID: "ui", Plugin: "user-interact", Command: tt.command,
			})
			require.NoError(t, err)

			result, err := r.RunJob(context.Background(), j)
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Outcome)
			assert.Equal(t, tt.comment, result.Comments)
			assert.Equal(t, tt.rerun, result.Rerun)
		})
	}
}

func TestRunJob_UnknownKindNotImplemented(t *testing.T) {
	j, err := job.FromDescriptor(job.Descriptor{ID: "g", Plugin: "qml", Command: "true"})
	require.NoError(t, err)

	r := New(testLogger())
	result, err := r.RunJob(context.Background(), j)
	require.NoError(t, err)

	assert.Equal(t, OutcomeNotImplemented, result.Outcome)
	assert.NotEmpty(t, result.Comments)
}

func TestIOLogRecorder_Delays(t *testing.T) {
	clock := testutil.NewSteppingClock(time.Unix(100, 0), 250*time.Millisecond)
	recorder := newIOLogRecorder(clock.Now, nil)

	recorder.onLine(StreamStdout, []byte("first"))
	recorder.onLine(StreamStdout, []byte("second"))
	recorder.onLine(StreamStderr, []byte("third"))

	records := recorder.snapshot()
	require.Len(t, records, 3)
	assert.InDelta(t, 0.25, records[0].Delay, 1e-9, "first delay measured from invocation start")
	assert.InDelta(t, 0.25, records[1].Delay, 1e-9)
	assert.InDelta(t, 0.25, records[2].Delay, 1e-9, "delays share one timeline across streams")
}

func TestEchoRecord_PerStreamCounters(t *testing.T) {
	var buf bytes.Buffer
	r := New(testLogger())
	r.echo = &buf

	r.echoRecord(IOLogRecord{Stream: StreamStdout, Data: []byte("a")})
	r.echoRecord(IOLogRecord{Stream: StreamStderr, Data: []byte("b")})
	r.echoRecord(IOLogRecord{Stream: StreamStdout, Data: []byte("c")})

	assert.Equal(t, "stdout:1: a\nstderr:1: b\nstdout:2: c\n", buf.String())
}

func TestReplayIOLog(t *testing.T) {
	records := []IOLogRecord{
		{Delay: 0.5, Stream: StreamStdout, Data: []byte("one")},
		{Delay: 1.25, Stream: StreamStdout, Data: []byte("two")},
	}

	var buf bytes.Buffer
	var slept []time.Duration
	err := ReplayIOLog(&buf, records, func(d time.Duration) { slept = append(slept, d) })
	require.NoError(t, err)

	assert.Equal(t, "one\ntwo\n", buf.String())
	require.Len(t, slept, 2)
	assert.Equal(t, 500*time.Millisecond, slept[0])
	assert.Equal(t, 1250*time.Millisecond, slept[1])
}
