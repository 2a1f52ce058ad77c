// Package main provides the entry point for the qym CLI tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/qym-labs/qym/cmd/qym/commands"
	"github.com/qym-labs/qym/pkg/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "qym",
		Short: "qym - concurrent evaluation runner",
		Long: `qym evaluates tasks against labeled datasets, scoring each item
with one or more metrics while checkpointing incremental results.

Commands:
  run       Evaluate a dataset and write results
  resume    Continue an interrupted run from its checkpoint
  inspect   Summarize an existing checkpoint file`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Add commands.
	rootCmd.AddCommand(commands.NewRunCommand())
	rootCmd.AddCommand(commands.NewResumeCommand())
	rootCmd.AddCommand(commands.NewInspectCommand())
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "qym %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
