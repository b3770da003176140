package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/certrig/certrig/internal/config"
	"github.com/certrig/certrig/internal/gateway"
	"github.com/certrig/certrig/internal/loader"
	"github.com/certrig/certrig/internal/runner"
	"github.com/certrig/certrig/internal/session"
)

// DefaultAgentAddr is where the agent listens for controllers.
const DefaultAgentAddr = ":18871"

// AgentOptions holds flags for the agent command.
type AgentOptions struct {
	*RootOptions
	StateDir   string
	Addr       string
	SkipChecks bool
}

// NewAgentCommand creates the agent command.
func NewAgentCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AgentOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Serve sessions to remote controllers",
		Long: `Run the agent: a websocket service remote controllers connect to.

Only one controller holds a session at a time; a newly connecting
controller preempts the previous one. On startup the agent resumes the
most recent session automatically if it was noninteractive.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.StateDir, "state-dir", "", "directory for checkpoints, logs and the session share")
	cmd.Flags().StringVar(&opts.Addr, "addr", DefaultAgentAddr, "listen address for controllers")
	cmd.Flags().BoolVar(&opts.SkipChecks, "skip-checks", false, "skip the privilege and port startup checks")

	return cmd
}

func runAgent(opts *AgentOptions, cmd *cobra.Command) error {
	stateDir, err := resolveStateDir(opts.StateDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to prepare state directory", err)
	}
	logger, cleanup := setupLogging(opts.RootOptions, stateDir)
	defer cleanup()

	ctx, stop := signalContext(cmd)
	defer stop()

	if !opts.SkipChecks {
		if err := gateway.CheckPortAvailable(opts.Addr); err != nil {
			return WrapExitError(ExitCommandError, "startup check failed", err)
		}
		if err := gateway.CheckPrivileges(ctx); err != nil {
			return WrapExitError(ExitCommandError, "startup check failed", err)
		}
	}

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
	ld, err := loader.New()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to initialize loader", err)
	}
	run := runner.New(logger, runner.WithShareDir(share))

	resumed, err := session.AutoResume(ctx, logger, st,
		session.WithRunner(run),
		session.WithLoader(ld),
		session.WithShareDir(share),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "automatic resume failed", err)
	}

	gw := gateway.New(logger, resumed)
	srv := &http.Server{
		Addr:         opts.Addr,
		Handler:      gateway.NewServer(logger, gw).Handler(),
		ReadTimeout:  0, // long-lived websocket connections
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("agent listening", "addr", opts.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Agent listening on %s. Press Ctrl-C to stop.\n", opts.Addr)

	select {
	case err := <-errCh:
		return WrapExitError(ExitCommandError, "agent error", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down agent")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitCommandError, "agent forced to shut down", err)
	}
	return nil
}
