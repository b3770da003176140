package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/certrig/certrig/internal/loader"
	"github.com/certrig/certrig/internal/resource"
	"github.com/certrig/certrig/internal/tree"
)

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <jobs-dir>",
		Short: "Validate job definitions without running anything",
		Long: `Load every job definition under the directory, validate it against
the schema, parse each requirement expression and build the category
tree. Nothing is executed.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkDefinitions(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func checkDefinitions(opts *RootOptions, jobsDir string, cmd *cobra.Command) error {
	ld, err := loader.New()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to initialize loader", err)
	}
	jobs, err := ld.LoadDir(jobsDir)
	if err != nil {
		return WrapExitError(ExitFailure, "invalid job definitions", err)
	}

	for _, j := range jobs {
		if j.RequiresExpr == "" {
			continue
		}
		if _, err := resource.ParseRequirements(j.RequiresExpr); err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("job %s has an invalid requirement", j.ID), err)
		}
	}

	if _, err := tree.Build(jobs, nil); err != nil {
		return WrapExitError(ExitFailure, "job definitions do not form a valid tree", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return formatter.Success(fmt.Sprintf("%d job definitions OK", len(jobs)))
}
