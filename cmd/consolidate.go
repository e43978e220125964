package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/koopa0/recall/internal/app"
	"github.com/koopa0/recall/internal/config"
	"github.com/koopa0/recall/internal/memory"
)

var consolidateUser string

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Run a one-shot consolidation pass",
	Long: `Run one consolidation pass and exit: merge near-duplicate episodes,
rewrite ambiguous pairs apart, and extract semantic facts.

With --user the pass covers one user; without it, every user in the
store.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runConsolidate(cmd.Context())
	},
}

func init() {
	consolidateCmd.Flags().StringVar(&consolidateUser, "user", "", "consolidate a single user")
	rootCmd.AddCommand(consolidateCmd)
}

func runConsolidate(parent context.Context) error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	var stats memory.Stats
	if consolidateUser != "" {
		stats, err = a.System.Consolidate(ctx, consolidateUser)
	} else {
		stats, err = a.System.Consolidator.ConsolidateAll(ctx)
	}
	if err != nil {
		return fmt.Errorf("consolidation pass: %w", err)
	}

	fmt.Printf("processed: %d\n", stats.Processed)
	fmt.Printf("merged: %d\n", stats.Merged)
	fmt.Printf("separated: %d\n", stats.Separated)
	fmt.Printf("semantic created: %d\n", stats.SemanticCreated)
	if len(stats.Failures) > 0 {
		fmt.Printf("failures: %d (see logs)\n", len(stats.Failures))
	}
	return nil
}
