package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/flightwatch/config"
)

// validateCmd validates a config file without starting the engine.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a flightwatch configuration file without starting the engine.

This command parses the YAML, expands environment variables, and validates
all fields. It's useful for CI/CD pipelines or pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  flightwatch validate -c config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// building feeds catches anything the SDK rejects beyond parsing
	if _, err := config.BuildFeeds(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	store := cfg.Store.Driver
	if cfg.Store.Driver == config.StoreSQLite {
		store += " (" + cfg.Store.Path + ")"
	}

	fmt.Printf("Config is valid!\n")
	fmt.Printf("  Port:           %d\n", cfg.Port)
	fmt.Printf("  Poll interval:  %s\n", cfg.PollInterval.Duration())
	fmt.Printf("  Feeds:          %d\n", len(cfg.Feeds))
	fmt.Printf("  Store:          %s\n", store)
	fmt.Printf("  Sink:           %s\n", cfg.Sink.Type)
	fmt.Printf("  Subscriptions:  %d\n", len(cfg.Subscriptions))
	fmt.Printf("  Time threshold: %s\n", cfg.Diff.TimeThreshold.Duration())

	return nil
}
