package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rsrlabs/dqreview/pkg/api"
	"github.com/rsrlabs/dqreview/pkg/review"
	"github.com/rsrlabs/dqreview/pkg/warehouse"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the review dashboard",
	Long:  `Start the web dashboard that runs reviews on demand against the warehouse.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, set, err := loadConfig()
	if err != nil {
		return err
	}

	// Set up context with signal handling.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	wh := warehouse.New(log, &cfg.Warehouse)
	if err := wh.Start(ctx); err != nil {
		return fmt.Errorf("starting warehouse: %w", err)
	}

	defer func() {
		if err := wh.Stop(); err != nil {
			log.WithError(err).Warn("Failed to close warehouse")
		}
	}()

	driver := review.NewDriver(log, wh, &cfg.Review, set)
	srv := api.NewServer(log, cfg, driver)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting dashboard server: %w", err)
	}

	// Wait for shutdown signal.
	sig := <-sigCh
	log.WithField("signal", sig).Info("Shutting down dashboard")
	cancel()

	if err := srv.Stop(); err != nil {
		return fmt.Errorf("stopping dashboard server: %w", err)
	}

	return nil
}
