package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/flightwatch"
	"github.com/jpalmerr/flightwatch/config"
)

// shutdownTimeout must exceed the delivery shutdown grace so abandoned
// notifications are still reported before the process exits.
const shutdownTimeout = 30 * time.Second

// newLogger creates a JSON logger for CLI use.
func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// serveCmd starts the flightwatch engine.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the engine and HTTP API",
	Long: `Start the flightwatch engine.

The engine will:
  - Load configuration from the specified YAML file
  - Poll all configured feeds and ingest their snapshots
  - Deliver notifications for every meaningful change
  - Serve the HTTP API and /metrics on the configured port

The engine runs until interrupted (Ctrl+C) or receives SIGTERM, then gives
outstanding notifications the configured grace period.

Example:
  flightwatch serve -c config.yaml
  flightwatch serve --config /etc/flightwatch/config.yaml --debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	serveCmd.Flags().Bool("debug", false, "enable debug logging")
	_ = serveCmd.MarkFlagRequired("config")
}

func runServe(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		level = slog.LevelDebug
	}
	logger := newLogger(level)

	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Info("config loaded",
		"feeds", len(cfg.Feeds),
		"subscriptions", len(cfg.Subscriptions),
		"store", cfg.Store.Driver,
		"sink", cfg.Sink.Type,
	)

	opts, err := config.BuildOptions(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build options: %w", err)
	}

	engine, err := flightwatch.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	// set up context with signal handling - cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// start engine - blocks until context cancelled
	errChan := make(chan error, 1)
	go func() {
		errChan <- engine.Start(ctx)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("engine error: %w", err)
		}
		logger.Info("shutdown complete")
		return nil

	case <-ctx.Done():
		// signal received, wait for graceful shutdown with timeout
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("engine error: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out",
				"timeout", shutdownTimeout.String(),
				"action", "forcing exit",
			)
			return nil
		}
	}
}
