// Package runner executes job commands, captures their output as a timed
// I/O log, and maps results to outcomes.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/certrig/certrig/internal/job"
)

// Outcome is the terminal result of a job execution.
type Outcome string

const (
	OutcomePass           Outcome = "pass"
	OutcomeFail           Outcome = "fail"
	OutcomeSkip           Outcome = "skip"
	OutcomeNotImplemented Outcome = "not-implemented"
)

// Result is the outcome of running one job. It is a value, not an error:
// a failed job never aborts the surrounding session.
type Result struct {
	Outcome    Outcome       `json:"outcome"`
	Comments   string        `json:"comments,omitempty"`
	ReturnCode int           `json:"return_code"`
	IOLog      []IOLogRecord `json:"io_log,omitempty"`
	// Rerun marks that the operator asked to run the job again; the
	// session re-queues it instead of storing this result as final.
	Rerun bool `json:"-"`
}

// Action is the tagged decision returned by an interactive outcome
// provider.
type Action int

const (
	// ActionContinue accepts the suggested outcome unchanged.
	ActionContinue Action = iota
	// ActionComment accepts the suggested outcome and attaches a comment.
	ActionComment
	// ActionSkip records a skip.
	ActionSkip
	// ActionFail records a failure.
	ActionFail
	// ActionRerun asks for the job to be executed again.
	ActionRerun
)

// Decision is an interactive provider's verdict on a finished job.
type Decision struct {
	Action  Action
	Comment string
}

// OutcomeProvider supplies the final outcome for interactive jobs. When no
// provider is attached the run is non-interactive and such jobs are
// skipped.
type OutcomeProvider interface {
	Decide(j *job.Job, suggested Outcome) Decision
}

// Runner executes jobs. The zero value is not usable; construct with New.
type Runner struct {
	logger    *slog.Logger
	shareDir  string
	extraPath []string
	provider  OutcomeProvider
	sink      func(IOLogRecord)
	echo      io.Writer
	now       func() time.Time

	mu         sync.Mutex
	echoCounts map[string]int
}

// Option configures a Runner.
type Option func(*Runner)

// WithShareDir sets the session scratch directory exported to commands.
func WithShareDir(dir string) Option {
	return func(r *Runner) { r.shareDir = dir }
}

// WithExtraPath prepends directories to the PATH seen by job commands.
func WithExtraPath(dirs ...string) Option {
	return func(r *Runner) { r.extraPath = dirs }
}

// WithOutcomeProvider attaches an interactive outcome provider.
func WithOutcomeProvider(p OutcomeProvider) Option {
	return func(r *Runner) { r.provider = p }
}

// WithOutputSink diverts captured records to sink instead of echoing them
// to the console.
func WithOutputSink(sink func(IOLogRecord)) Option {
	return func(r *Runner) { r.sink = sink }
}

// WithClock overrides the wall clock, for deterministic delay tests.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// New creates a Runner.
func New(logger *slog.Logger, opts ...Option) *Runner {
	r := &Runner{
		logger:     logger,
		echo:       os.Stdout,
		now:        time.Now,
		echoCounts: make(map[string]int),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunJob executes a single job according to its plugin kind and returns
// its result. Only context-level failures (a broken pipe, an unstartable
// bash) surface as errors; a nonzero exit is a Failed result.
func (r *Runner) RunJob(ctx context.Context, j *job.Job) (*Result, error) {
	r.logger.Info("running job", "job", j.ID, "plugin", string(j.Plugin))
	switch {
	case j.Plugin == job.PluginShell || j.Plugin == job.PluginResource || j.Plugin == job.PluginLocal:
		return r.runCommandJob(ctx, j)
	case j.Plugin.Interactive():
		return r.runInteractiveJob(ctx, j)
	default:
		return &Result{
			Outcome:  OutcomeNotImplemented,
			Comments: fmt.Sprintf("job plugin %q is not supported by this harness", j.Plugin),
		}, nil
	}
}

func (r *Runner) runCommandJob(ctx context.Context, j *job.Job) (*Result, error) {
	rc, records, err := r.runCommand(ctx, j)
	if err != nil {
		return nil, err
	}
	outcome := OutcomePass
	if rc != 0 {
		outcome = OutcomeFail
	}
	return &Result{Outcome: outcome, ReturnCode: rc, IOLog: records}, nil
}

func (r *Runner) runInteractiveJob(ctx context.Context, j *job.Job) (*Result, error) {
	if r.provider == nil {
		return &Result{Outcome: OutcomeSkip, Comments: "non-interactive test run"}, nil
	}
	suggested := OutcomePass
	result := &Result{}
	if j.Command != "" {
		rc, records, err := r.runCommand(ctx, j)
		if err != nil {
			return nil, err
		}
		result.ReturnCode = rc
		result.IOLog = records
		if rc != 0 {
			suggested = OutcomeFail
		}
	}
	decision := r.provider.Decide(j, suggested)
	switch decision.Action {
	case ActionContinue:
		result.Outcome = suggested
	case ActionComment:
		result.Outcome = suggested
		result.Comments = decision.Comment
	case ActionSkip:
		result.Outcome = OutcomeSkip
		result.Comments = decision.Comment
	case ActionFail:
		result.Outcome = OutcomeFail
		result.Comments = decision.Comment
	case ActionRerun:
		result.Outcome = suggested
		result.Rerun = true
	default:
		return nil, fmt.Errorf("unknown provider action %d for job %s", decision.Action, j.ID)
	}
	return result, nil
}

// runCommand spawns the job command under bash with the execution
// environment overlay and captures timed output records from both streams.
func (r *Runner) runCommand(ctx context.Context, j *job.Job) (int, []IOLogRecord, error) {
	cmd := exec.CommandContext(ctx, "bash", "-c", j.Command)
	cmd.Env = executionEnvironment(r.shareDir, r.extraPath)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, nil, fmt.Errorf("attach stdout for %s: %w", j.ID, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return 0, nil, fmt.Errorf("attach stderr for %s: %w", j.ID, err)
	}

	sink := r.sink
	if sink == nil {
		sink = r.echoRecord
	}
	recorder := newIOLogRecorder(r.now, sink)

	if err := cmd.Start(); err != nil {
		return 0, nil, fmt.Errorf("start command for %s: %w", j.ID, err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go recorder.scanLines(StreamStdout, stdout, &wg)
	go recorder.scanLines(StreamStderr, stderr, &wg)
	wg.Wait()

	rc := 0
	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// -1 when the process was killed by a signal.
			rc = exitErr.ExitCode()
		} else {
			return 0, nil, fmt.Errorf("wait for %s: %w", j.ID, err)
		}
	}
	records := recorder.snapshot()
	r.logger.Debug("command finished", "job", j.ID, "return_code", rc, "io_records", len(records))
	return rc, records, nil
}

// echoRecord is the default sink: lines go to the console tagged with the
// stream name and a running per-stream line counter.
func (r *Runner) echoRecord(record IOLogRecord) {
	r.mu.Lock()
	r.echoCounts[record.Stream]++
	n := r.echoCounts[record.Stream]
	r.mu.Unlock()
	fmt.Fprintf(r.echo, "%s:%d: %s\n", record.Stream, n, record.Data)
}
