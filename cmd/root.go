// Package cmd implements the scheduler's command-line surface: serve runs
// the scheduler itself, jobs/runs inspect and edit its state against
// whatever store SCHEDULER_DATABASE_URL points at.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "goclaw-scheduler",
		Short: "Persistent job scheduler for periodic MCP tool invocations",
	}
	cmd.AddCommand(serveCmd())
	cmd.AddCommand(jobsCmd())
	cmd.AddCommand(runsCmd())
	return cmd
}

// Execute runs the CLI, exiting the process on error.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
