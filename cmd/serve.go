package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/koopa0/recall/api"
	"github.com/koopa0/recall/internal/app"
	"github.com/koopa0/recall/internal/config"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the consolidation scheduler",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

// runServe initializes the application and runs the HTTP server plus the
// background consolidation scheduler until SIGINT/SIGTERM.
func runServe(parent context.Context) error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting recall", "version", AppVersion)

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.RunScheduler(ctx)
	}()

	addr := serveAddr
	if addr == "" {
		addr = cfg.ListenAddr
	}
	srv := api.NewServer(a.System, a.Pool, logger.With("component", "api"))
	err = srv.Run(ctx, addr)

	stop()
	wg.Wait()

	if err != nil {
		return fmt.Errorf("HTTP server: %w", err)
	}
	return nil
}
