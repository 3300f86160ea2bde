// Package main is the entry point for the flightwatch CLI.
//
// flightwatch can be run either as a library (SDK) or as a standalone
// binary with YAML configuration. This CLI provides the standalone binary
// approach.
//
// Usage:
//
//	flightwatch serve -c config.yaml    # Start the engine and API
//	flightwatch validate -c config.yaml # Validate configuration
//	flightwatch version                 # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
// It just displays help - actual functionality is in subcommands.
var rootCmd = &cobra.Command{
	Use:   "flightwatch",
	Short: "Flight status change notifications",
	Long: `flightwatch watches flight status feeds and notifies subscribers
of every meaningful change: gate moves, status transitions and schedule
shifts beyond a threshold.

Quick start:
  1. Create a config file (flightwatch.yaml)
  2. Run: flightwatch serve -c flightwatch.yaml
  3. Subscribe: curl -X POST localhost:8080/api/subscriptions \
       -d '{"flight_id":"BA117","endpoint":"https://push.example.com/d/1"}'

Example config:
  port: 8080
  poll_interval: 30s
  feeds:
    - name: heathrow
      url: https://feeds.example.com/lhr.json
  sink:
    type: webhook`,
}

// Execute runs the root command.
// This is the main entry point called from main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this flightwatch binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("flightwatch %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
