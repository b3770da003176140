package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/certrig/certrig/internal/config"
	"github.com/certrig/certrig/internal/job"
	"github.com/certrig/certrig/internal/runner"
	"github.com/certrig/certrig/internal/session"
)

// SessionsOptions holds flags shared by the sessions subcommands.
type SessionsOptions struct {
	*RootOptions
	StateDir string
}

// NewSessionsCommand creates the sessions command group.
func NewSessionsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SessionsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List, resume and delete checkpointed sessions",
	}
	cmd.PersistentFlags().StringVar(&opts.StateDir, "state-dir", "", "directory for checkpoints, logs and the session share")

	cmd.AddCommand(newSessionsListCommand(opts))
	cmd.AddCommand(newSessionsResumeCommand(opts))
	cmd.AddCommand(newSessionsDeleteCommand(opts))
	return cmd
}

// sessionRow is the JSON shape of one listed session.
type sessionRow struct {
	SessionID string    `json:"session_id"`
	Title     string    `json:"title"`
	Ordinal   int64     `json:"ordinal"`
	CreatedAt time.Time `json:"created_at"`
}

func newSessionsListCommand(opts *SessionsOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List checkpointed sessions, most recent first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			stateDir, err := resolveStateDir(opts.StateDir)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to prepare state directory", err)
			}
			st, err := openStore(stateDir)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open checkpoint database", err)
			}
			defer st.Close()

			snapshots, err := st.ListSnapshots(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to list sessions", err)
			}

			rows := make([]sessionRow, 0, len(snapshots))
			lines := make([]string, 0, len(snapshots)+1)
			if len(snapshots) == 0 {
				lines = append(lines, "No checkpointed sessions.")
			}
			for _, snap := range snapshots {
				rows = append(rows, sessionRow{
					SessionID: snap.SessionID,
					Title:     snap.Title,
					Ordinal:   snap.Ordinal,
					CreatedAt: snap.CreatedAt,
				})
				lines = append(lines, fmt.Sprintf("%s  %s  %s",
					snap.SessionID, snap.CreatedAt.Local().Format("2006-01-02 15:04:05"), snap.Title))
			}

			formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
			return formatter.SuccessText(lines, rows)
		},
	}
}

func newSessionsResumeCommand(opts *SessionsOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "resume <session-id>",
		Short:         "Resume a checkpointed session and run its remaining jobs",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return resumeSession(opts, args[0], cmd)
		},
	}
}

func resumeSession(opts *SessionsOptions, sessionID string, cmd *cobra.Command) error {
	stateDir, err := resolveStateDir(opts.StateDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to prepare state directory", err)
	}
	logger, cleanup := setupLogging(opts.RootOptions, stateDir)
	defer cleanup()

	st, err := openStore(stateDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open checkpoint database", err)
	}
	defer st.Close()

	share, err := config.ShareDir(stateDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to prepare share directory", err)
	}
	run := runner.New(logger, runner.WithShareDir(share))

	ctx, stop := signalContext(cmd)
	defer stop()

	a, err := session.Resume(ctx, logger, st, sessionID,
		session.WithRunner(run),
		session.WithShareDir(share),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to resume session", err)
	}

	jobs := runnableJobs(a)
	pending := 0
	for _, j := range jobs {
		if s := a.State(j.ID); s != nil && s.Result == nil {
			pending++
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Resumed session %s: %d jobs remaining\n", a.ID(), pending)

	failed, err := a.RunSelection(ctx, jobs)
	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Interrupted; session checkpointed, resume with: certrig sessions resume "+a.ID())
			return NewExitError(ExitFailure, "session interrupted")
		}
		return WrapExitError(ExitCommandError, "session failed", err)
	}

	printSummary(cmd, a, a.Jobs())
	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d job(s) failed", failed))
	}
	return nil
}

// runnableJobs returns every job the resumed session must account for.
// Local jobs are structural and never run at this stage. Jobs that
// already carry a result stay in the list: RunSelection re-counts their
// recorded failures instead of re-running them, so a failure from
// before the interruption still fails the process.
func runnableJobs(a *session.Assistant) []*job.Job {
	var jobs []*job.Job
	for _, j := range a.Jobs() {
		if j.Plugin == job.PluginLocal {
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs
}

func newSessionsDeleteCommand(opts *SessionsOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <session-id>",
		Short:         "Delete a checkpointed session",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			stateDir, err := resolveStateDir(opts.StateDir)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to prepare state directory", err)
			}
			st, err := openStore(stateDir)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open checkpoint database", err)
			}
			defer st.Close()

			if err := st.DeleteSnapshot(cmd.Context(), args[0]); err != nil {
				return WrapExitError(ExitCommandError, "failed to delete session", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
			return nil
		},
	}
}
