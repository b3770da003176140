package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/certrig/certrig/internal/config"
	"github.com/certrig/certrig/internal/job"
	"github.com/certrig/certrig/internal/launcher"
	"github.com/certrig/certrig/internal/loader"
	"github.com/certrig/certrig/internal/runner"
	"github.com/certrig/certrig/internal/session"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	StateDir string
	Launcher string
	Title    string
	Include  []string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <jobs-dir>",
		Short: "Run a certification session",
		Long: `Run the certification jobs defined under the given directory.

The session bootstraps local jobs, gathers resource facts, executes the
selected jobs and checkpoints progress around every job. The command
exits 0 when every executed job passed and 1 when any failed.

Example:
  certrig run ./providers/base
  certrig run --launcher sru.yaml ./providers/sru`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.StateDir, "state-dir", "", "directory for checkpoints, logs and the session share")
	cmd.Flags().StringVar(&opts.Launcher, "launcher", "", "path to a launcher configuration file")
	cmd.Flags().StringVar(&opts.Title, "title", "", "session title shown in listings")
	cmd.Flags().StringSliceVar(&opts.Include, "include", nil, "only run jobs whose id matches one of these patterns ('*' wildcards)")

	return cmd
}

func runSession(opts *RunOptions, jobsDir string, cmd *cobra.Command) error {
	stateDir, err := resolveStateDir(opts.StateDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to prepare state directory", err)
	}
	logger, cleanup := setupLogging(opts.RootOptions, stateDir)
	defer cleanup()

	launcherText := ""
	var launcherCfg *launcher.Config
	if opts.Launcher != "" {
		data, err := os.ReadFile(opts.Launcher)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read launcher", err)
		}
		launcherText = string(data)
		launcherCfg, err = launcher.FromText(launcherText)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid launcher", err)
		}
	}

	ld, err := loader.New()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to initialize loader", err)
	}
	jobs, err := ld.LoadDir(jobsDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load job definitions", err)
	}
	logger.Info("job definitions loaded", "dir", jobsDir, "jobs", len(jobs))

	st, err := openStore(stateDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open checkpoint database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing checkpoint database", "error", closeErr)
		}
	}()

	share, err := config.ShareDir(stateDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to prepare share directory", err)
	}
	run := runner.New(logger, runner.WithShareDir(share))

	a, err := session.New(logger,
		session.WithStore(st),
		session.WithRunner(run),
		session.WithLoader(ld),
		session.WithShareDir(share),
		session.WithLauncherText(launcherText),
		session.WithTitle(opts.Title),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create session", err)
	}
	if err := a.AddJobs(jobs...); err != nil {
		return WrapExitError(ExitCommandError, "failed to register jobs", err)
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	if err := a.Bootstrap(ctx); err != nil {
		return WrapExitError(ExitCommandError, "bootstrap failed", err)
	}
	if err := a.GatherResources(ctx); err != nil {
		return WrapExitError(ExitCommandError, "resource gathering failed", err)
	}

	root, err := a.Tree()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build job tree", err)
	}
	selection := root.Selection()
	patterns := opts.Include
	if launcherCfg != nil {
		patterns = append(patterns, launcherCfg.TestPlan.Filter...)
	}
	selection = filterSelection(selection, patterns)

	fmt.Fprintf(cmd.OutOrStdout(), "Session %s: running %d jobs\n", a.ID(), len(selection))
	failed, err := a.RunSelection(ctx, selection)
	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Interrupted; session checkpointed, resume with: certrig sessions resume "+a.ID())
			return NewExitError(ExitFailure, "session interrupted")
		}
		return WrapExitError(ExitCommandError, "session failed", err)
	}

	printSummary(cmd, a, selection)
	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d job(s) failed", failed))
	}
	return nil
}

// printSummary writes one line per executed job, sorted so jobs with
// the same outcome group together.
func printSummary(cmd *cobra.Command, a *session.Assistant, selection []*job.Job) {
	lines := make([]string, 0, len(selection))
	for _, j := range selection {
		s := a.State(j.ID)
		if s == nil || s.Result == nil {
			continue
		}
		lines = append(lines, fmt.Sprintf("%-15s %s", s.Result.Outcome, j.ID))
	}
	sort.Strings(lines)
	for _, line := range lines {
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}
}

// filterSelection narrows the selection to jobs matching any pattern.
// Resource jobs always stay: requirement evaluation needs their facts
// regardless of which jobs were picked. No patterns means everything.
func filterSelection(selection []*job.Job, patterns []string) []*job.Job {
	if len(patterns) == 0 {
		return selection
	}
	var out []*job.Job
	for _, j := range selection {
		if j.Plugin == job.PluginResource || matchesAny(j.ID, patterns) {
			out = append(out, j)
		}
	}
	return out
}

func matchesAny(id string, patterns []string) bool {
	for _, p := range patterns {
		if matchPattern(p, id) {
			return true
		}
	}
	return false
}

// matchPattern implements '*' wildcard matching where '*' crosses every
// character, including the '/' and '::' inside job ids.
func matchPattern(pattern, s string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == s
	}
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	last := parts[len(parts)-1]
	for _, part := range parts[1 : len(parts)-1] {
		if part == "" {
			continue
		}
		idx := strings.Index(s, part)
		if idx < 0 {
			return false
		}
		s = s[idx+len(part):]
	}
	return strings.HasSuffix(s, last)
}

// signalContext derives a context cancelled by SIGINT/SIGTERM from the
// command's context.
func signalContext(cmd *cobra.Command) (context.Context, func()) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
