// Package main provides the entry point for the bunsen CLI tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bunsen-project/bunsen/cmd/bunsen/commands"
	"github.com/bunsen-project/bunsen/internal/bunsenerr"
	"github.com/bunsen-project/bunsen/pkg/version"
)

func main() {
	version.InitBinaryVersion()

	rootCmd := &cobra.Command{
		Use:   "bunsen",
		Short: "Bunsen - content-addressed storage and indexing for DejaGNU test logs",
		Long: `Bunsen packs DejaGNU test-suite result logs into a content-addressed
revision graph with a structured JSON index on top.

Commands:
  init        Create a new repository
  ingest      Ingest a tar bundle of test logs for a project
  list-runs   List stored testrun summaries
  get-logs    Read a file from a stored testlogs commit
  show-cursor Resolve a stored log cursor
  repair      Rebuild writes an interrupted ingest left incomplete
  mcp         Start the MCP query server on stdio transport`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(commands.NewInitCommand())
	rootCmd.AddCommand(commands.NewIngestCommand())
	rootCmd.AddCommand(commands.NewListRunsCommand())
	rootCmd.AddCommand(commands.NewGetLogsCommand())
	rootCmd.AddCommand(commands.NewShowCursorCommand())
	rootCmd.AddCommand(commands.NewRepairCommand())
	rootCmd.AddCommand(commands.NewMCPCommand())
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(bunsenerr.ExitCode(err))
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "bunsen %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
