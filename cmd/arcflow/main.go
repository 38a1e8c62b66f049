// Package main provides the entry point for the arcflow CLI tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/arcflow/cmd/arcflow/commands"
	"github.com/Sumatoshi-tech/arcflow/pkg/version"
)

var (
	verbose bool
	quiet   bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "arcflow",
		Short: "ArcFlow - ArchivesSpace to ArcLight synchronization",
		Long: `ArcFlow keeps an ArcLight discovery index in sync with ArchivesSpace:
incremental change detection, EAD export with creator biographies,
deletion reconciliation, and batch indexing.

Commands:
  sync      Run one synchronization pass`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress output")

	// Add commands.
	rootCmd.AddCommand(commands.NewSyncCommand(&verbose, &quiet))
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
			fmt.Fprintf(os.Stdout, "arcflow %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
