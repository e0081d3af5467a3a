package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const envFile = "wm.env"

var (
	// populated at compile time based on data injected by the makefile
	version   = "unset"
	timestamp = "unset"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "report-queue",
		Short: "FSOI report queue",
		Long: `Queues FSOI report requests, runs them against the center data store and pushes
progress to subscribers.

Commands:
  serve     HTTP API and queue runner (default)
  run       Run one report request in the foreground
  ingest    Load a raw center file and store its bulk statistics`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&envPath, "env", envFile, "environment file read when WM_MODE is not set")

	serve := newServeCommand()
	rootCmd.RunE = serve.RunE
	rootCmd.AddCommand(serve)
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newIngestCommand())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "report-queue %s (built: %s)\n", version, timestamp)
		},
	}
}
