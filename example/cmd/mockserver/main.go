// Standalone mock flight feed for testing the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockserver
//
// Then in another terminal:
//
//	go run ./cmd/flightwatch serve -c example/config.yaml
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jpalmerr/flightwatch/example/mockfeed"
)

func main() {
	fmt.Println("Mock flight feed starting on :9999")
	fmt.Println("  GET  /flights.json      current snapshots")
	fmt.Println("  POST /push/{device}     fake push gateway (/push/gone/* returns 410)")
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	s := mockfeed.New(logger)
	for _, id := range s.FlightIDs() {
		fmt.Println("  flight", id)
	}
	fmt.Println()

	if err := s.ListenAndServe(":9999", 3*time.Second); err != nil {
		logger.Error("mock feed stopped", "error", err)
		os.Exit(1)
	}
}
