package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gravity",
	Short: "Autonomous engineering task daemon",
	Long: `Gravity turns free-text engineering requests into supervised agent
pipelines: a planner decomposes the request into steps, coder agents apply
them, QA runs the tests with a bounded fix loop, and a docs agent closes
out. Every file effect a tool claims is re-read from disk before it is
believed.

Start the daemon with "gravity serve" and drive it over the HTTP API:
register a repository, POST a task, and follow the event stream.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
