// Package cmd implements the recall command-line interface.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/koopa0/recall/internal/log"
)

var debugFlag bool

var rootCmd = &cobra.Command{
	Use:   "recall",
	Short: "recall - memory consolidation engine for AI assistants",
	Long: `recall stores conversational memories in a PostgreSQL vector store
and reorganizes them over time: near-duplicate episodes are merged,
similar-but-distinct ones are rewritten apart, stable facts are promoted
to a semantic tier, and episodes used together are clustered into
narrative groups.

Run 'recall serve' to start the HTTP API with the background
consolidation scheduler, or 'recall consolidate' for a one-shot pass.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")
}

// newLogger builds the process logger. Debug level comes from --debug or
// the DEBUG environment variable.
func newLogger() log.Logger {
	level := slog.LevelInfo
	if debugFlag || os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	logger := log.New(log.Config{Level: level})
	slog.SetDefault(logger)
	return logger
}
