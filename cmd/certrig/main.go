// Command certrig runs hardware certification job suites: locally via
// "run", or served to remote controllers via "agent".
package main

import (
	"fmt"
	"os"

	"github.com/certrig/certrig/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
