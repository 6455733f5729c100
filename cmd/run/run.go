// Package run implements the service command that hosts the scheduler and
// execution coordinator.
package run

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/inmobiliario/crawlsched/internal/bootstrap"
	"github.com/inmobiliario/crawlsched/internal/config"
	"github.com/inmobiliario/crawlsched/internal/logger"
)

// Command returns the run command.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the scheduler and execution coordinator",
		Long: `Start the scheduling service. It polls for due jobs, dispatches their
executions to the spider engine, and runs until interrupted with Ctrl+C.`,
		RunE: runService,
	}
}

func runService(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	app, err := bootstrap.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}

	ctx := cmd.Context()
	if err := app.Start(ctx); err != nil {
		app.Stop()
		return fmt.Errorf("failed to start application: %w", err)
	}

	app.Logger.Info("Service running",
		logger.String("environment", cfg.App.Environment),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		app.Logger.Info("Received shutdown signal", logger.String("signal", sig.String()))
	case <-ctx.Done():
	}

	app.Stop()
	return nil
}
