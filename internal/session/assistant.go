// Package session ties the harness together: it owns per-session job
// state, drives bootstrap and execution, and checkpoints everything to
// the snapshot store so an interrupted run can be resumed.
package session

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/certrig/certrig/internal/job"
	"github.com/certrig/certrig/internal/launcher"
	"github.com/certrig/certrig/internal/loader"
	"github.com/certrig/certrig/internal/resource"
	"github.com/certrig/certrig/internal/runner"
	"github.com/certrig/certrig/internal/store"
	"github.com/certrig/certrig/internal/tree"
)

// Assistant orchestrates one session: the job set, its mutable state,
// resource facts, and checkpointing. All methods are safe for concurrent
// use; execution itself is single-threaded.
type Assistant struct {
	logger *slog.Logger
	store  *store.Store
	run    *runner.Runner
	load   *loader.Loader

	mu           sync.RWMutex
	id           string
	title        string
	launcherText string
	cfg          *launcher.Config
	status       Status
	order        []string
	states       map[string]*JobState
	via          map[string]string
	facts        map[string][]resource.Fact
	shareDir     string
	runningJob   string
}

// Option configures an Assistant.
type Option func(*Assistant)

// WithStore attaches the checkpoint store. Without one the session is
// ephemeral and Checkpoint is a no-op.
func WithStore(st *store.Store) Option {
	return func(a *Assistant) { a.store = st }
}

// WithRunner attaches the job runner.
func WithRunner(run *runner.Runner) Option {
	return func(a *Assistant) { a.run = run }
}

// WithLoader attaches the loader used to validate bootstrap output.
func WithLoader(load *loader.Loader) Option {
	return func(a *Assistant) { a.load = load }
}

// WithTitle sets the session title shown in listings.
func WithTitle(title string) Option {
	return func(a *Assistant) { a.title = title }
}

// WithLauncherText stores the launcher configuration text the session
// was started with. It travels verbatim inside checkpoints.
func WithLauncherText(text string) Option {
	return func(a *Assistant) { a.launcherText = text }
}

// WithShareDir sets the session scratch directory, also consulted for
// the result override file on resume.
func WithShareDir(dir string) Option {
	return func(a *Assistant) { a.shareDir = dir }
}

// New creates a fresh session with a time-ordered unique id.
func New(logger *slog.Logger, opts ...Option) (*Assistant, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}
	a := &Assistant{
		logger: logger,
		id:     id.String(),
		status: StatusFresh,
		states: make(map[string]*JobState),
		via:    make(map[string]string),
		facts:  make(map[string][]resource.Fact),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.launcherText != "" {
		cfg, err := launcher.FromText(a.launcherText)
		if err != nil {
			return nil, err
		}
		a.cfg = cfg
		if a.title == "" {
			a.title = cfg.Launcher.SessionTitle
		}
	}
	logger.Info("session created", "session", a.id, "title", a.title)
	return a, nil
}

// ID returns the session id.
func (a *Assistant) ID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.id
}

// Title returns the session title.
func (a *Assistant) Title() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.title
}

// Status returns the session lifecycle phase.
func (a *Assistant) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

// LauncherText returns the launcher configuration the session carries.
func (a *Assistant) LauncherText() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.launcherText
}

// Noninteractive reports whether the session's launcher describes a run
// that needs no operator.
func (a *Assistant) Noninteractive() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg != nil && a.cfg.Noninteractive()
}

// AddJobs registers jobs with the session. Adding the same definition
// twice is a no-op; a second definition under an existing id is a
// configuration error.
func (a *Assistant) AddJobs(jobs ...*job.Job) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addJobsLocked(jobs, "")
}

func (a *Assistant) addJobsLocked(jobs []*job.Job, viaID string) error {
	for _, j := range jobs {
		if existing, ok := a.states[j.ID]; ok {
			if existing.Job.ToDescriptor() == j.ToDescriptor() {
				continue
			}
			return &job.ConfigurationError{
				What:   j.ID,
				Reason: "a different job with the same id already exists",
			}
		}
		a.order = append(a.order, j.ID)
		a.states[j.ID] = &JobState{Job: j, ViaJob: viaID}
		if viaID != "" {
			a.via[j.ID] = viaID
		}
	}
	return nil
}

// Jobs returns every registered job in insertion order.
func (a *Assistant) Jobs() []*job.Job {
	a.mu.RLock()
	defer a.mu.RUnlock()
	jobs := make([]*job.Job, 0, len(a.order))
	for _, id := range a.order {
		jobs = append(jobs, a.states[id].Job)
	}
	return jobs
}

// State returns the session state for a job id, or nil if unknown.
func (a *Assistant) State(id string) *JobState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.states[id]
}

// Facts returns the gathered resource facts keyed by resource job id.
func (a *Assistant) Facts() map[string][]resource.Fact {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.facts
}

// Tree builds the selectable category tree over the current job set.
func (a *Assistant) Tree() (*tree.SelectableNode, error) {
	a.mu.RLock()
	jobs := make([]*job.Job, 0, len(a.order))
	for _, id := range a.order {
		jobs = append(jobs, a.states[id].Job)
	}
	via := make(map[string]string, len(a.via))
	for k, v := range a.via {
		via[k] = v
	}
	a.mu.RUnlock()
	return tree.NewSelectable(jobs, via)
}

// Bootstrap runs every local job and folds the jobs its output defines
// back into the session. Generated local jobs are expanded in turn, so a
// provider can nest categories.
func (a *Assistant) Bootstrap(ctx context.Context) error {
	if a.run == nil {
		return fmt.Errorf("bootstrap: session has no runner")
	}
	if a.load == nil {
		return fmt.Errorf("bootstrap: session has no loader")
	}
	expanded := make(map[string]bool)
	for {
		j := a.nextLocalJob(expanded)
		if j == nil {
			return nil
		}
		expanded[j.ID] = true
		if j.Command == "" {
			continue
		}
		result, err := a.run.RunJob(ctx, j)
		if err != nil {
			return fmt.Errorf("bootstrap %s: %w", j.ID, err)
		}
		a.setResult(j.ID, result)
		if result.Outcome != runner.OutcomePass {
			a.logger.Warn("local job failed, its jobs are unavailable",
				"job", j.ID, "return_code", result.ReturnCode)
			continue
		}
		generated, err := a.load.Parse(bytes.NewReader(stdoutText(result)), j.ID)
		if err != nil {
			return fmt.Errorf("bootstrap %s: %w", j.ID, err)
		}
		a.mu.Lock()
		err = a.addJobsLocked(generated, j.ID)
		a.mu.Unlock()
		if err != nil {
			return fmt.Errorf("bootstrap %s: %w", j.ID, err)
		}
		a.logger.Info("bootstrapped jobs", "job", j.ID, "generated", len(generated))
	}
}

func (a *Assistant) nextLocalJob(expanded map[string]bool) *job.Job {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, id := range a.order {
		s := a.states[id]
		if s.Job.Plugin == job.PluginLocal && !expanded[id] {
			return s.Job
		}
	}
	return nil
}

// GatherResources runs every resource job and stores its parsed facts
// under both the full and the partial job id, so requirement
// expressions can use either form.
func (a *Assistant) GatherResources(ctx context.Context) error {
	if a.run == nil {
		return fmt.Errorf("gather resources: session has no runner")
	}
	for _, j := range a.Jobs() {
		if j.Plugin != job.PluginResource {
			continue
		}
		result, err := a.run.RunJob(ctx, j)
		if err != nil {
			return fmt.Errorf("gather %s: %w", j.ID, err)
		}
		a.setResult(j.ID, result)
		facts, err := resource.ParseFacts(bytes.NewReader(stdoutText(result)))
		if err != nil {
			return fmt.Errorf("gather %s: %w", j.ID, err)
		}
		a.mu.Lock()
		a.facts[j.ID] = facts
		a.facts[j.PartialID] = facts
		a.mu.Unlock()
		a.logger.Info("gathered resource", "job", j.ID, "records", len(facts))
	}
	return nil
}

// UpdateReadiness recomputes every job's readiness inhibitors from the
// current results and facts.
func (a *Assistant) UpdateReadiness() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, id := range a.order {
		s := a.states[id]
		inhibitors, err := computeInhibitors(s, a.states, a.facts)
		if err != nil {
			return err
		}
		s.ReadinessInhibitors = inhibitors
	}
	return nil
}

// RunSelection executes the selected jobs in order and returns how many
// failed. Jobs that already have a result (resource jobs gathered up
// front, auto-passed resumed jobs) are not run again. A checkpoint is
// written around every job so a crash loses at most the job in flight.
func (a *Assistant) RunSelection(ctx context.Context, selection []*job.Job) (failed int, err error) {
	if a.run == nil {
		return 0, fmt.Errorf("run selection: session has no runner")
	}
	a.setStatus(StatusRunning)
	for _, j := range selection {
		if s := a.State(j.ID); s != nil && s.Result != nil && !s.Result.Rerun {
			if s.Result.Outcome == runner.OutcomeFail {
				failed++
			}
			continue
		}
		if err := a.UpdateReadiness(); err != nil {
			return failed, err
		}
		if s := a.State(j.ID); s != nil && !s.Ready() {
			a.setResult(j.ID, &runner.Result{
				Outcome:  runner.OutcomeSkip,
				Comments: strings.Join(s.ReadinessInhibitors, "; "),
			})
			a.logger.Info("job not ready, skipping", "job", j.ID,
				"inhibitors", len(s.ReadinessInhibitors))
			continue
		}

		a.setRunningJob(j.ID)
		if err := a.Checkpoint(ctx); err != nil {
			return failed, err
		}

		result, err := a.runWithReruns(ctx, j)
		if err != nil {
			return failed, err
		}
		a.setResult(j.ID, result)
		a.setRunningJob("")
		if err := a.Checkpoint(ctx); err != nil {
			return failed, err
		}
		if result.Outcome == runner.OutcomeFail {
			failed++
		}
	}
	a.setStatus(StatusCompleted)
	if err := a.Checkpoint(ctx); err != nil {
		return failed, err
	}
	return failed, nil
}

// runWithReruns executes a job until the operator stops asking for
// another attempt.
func (a *Assistant) runWithReruns(ctx context.Context, j *job.Job) (*runner.Result, error) {
	for {
		result, err := a.run.RunJob(ctx, j)
		if err != nil {
			return nil, err
		}
		if !result.Rerun {
			return result, nil
		}
		a.logger.Info("rerunning job on operator request", "job", j.ID)
	}
}

// Checkpoint persists the session. No-op without a store.
func (a *Assistant) Checkpoint(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	snap, err := a.snapshot()
	if err != nil {
		return err
	}
	if err := a.store.SaveSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("checkpoint session %s: %w", snap.SessionID, err)
	}
	a.logger.Debug("session checkpointed", "session", snap.SessionID)
	return nil
}

// Delete removes the session's checkpoint from the store.
func (a *Assistant) Delete(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	return a.store.DeleteSnapshot(ctx, a.ID())
}

func (a *Assistant) snapshot() (store.Snapshot, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	app, state, err := a.encodeLocked()
	if err != nil {
		return store.Snapshot{}, err
	}
	return store.Snapshot{
		SessionID: a.id,
		Title:     a.title,
		AppBlob:   app,
		State:     state,
		CreatedAt: time.Now(),
	}, nil
}

func (a *Assistant) setStatus(status Status) {
	a.mu.Lock()
	a.status = status
	a.mu.Unlock()
}

func (a *Assistant) setRunningJob(id string) {
	a.mu.Lock()
	a.runningJob = id
	a.mu.Unlock()
}

func (a *Assistant) setResult(id string, result *runner.Result) {
	a.mu.Lock()
	if s, ok := a.states[id]; ok {
		s.Result = result
	}
	a.mu.Unlock()
}

// stdoutText joins a result's stdout records back into the text the
// command printed, one line per record.
func stdoutText(result *runner.Result) []byte {
	var buf bytes.Buffer
	for _, record := range result.IOLog {
		if record.Stream != runner.StreamStdout {
			continue
		}
		buf.Write(record.Data)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}
