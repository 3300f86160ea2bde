package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/flightwatch"
	"github.com/jpalmerr/flightwatch/example/mockfeed"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	// start the mock airport feed and push gateway
	mock := mockfeed.New(logger.With("component", "mockfeed"))
	go func() {
		if err := mock.ListenAndServe(":9999", 3*time.Second); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("mock feed stopped", "error", err)
		}
	}()
	time.Sleep(100 * time.Millisecond)

	feed, err := flightwatch.NewFeed("LHR", "http://localhost:9999/flights.json",
		flightwatch.WithTimeout(5*time.Second),
		flightwatch.WithInterval(2*time.Second),
	)
	if err != nil {
		logger.Error("failed to create feed", "error", err)
		os.Exit(1)
	}

	opts := []flightwatch.Option{
		flightwatch.WithFeed(feed),
		flightwatch.WithPort(8080),
		flightwatch.WithLogger(logger),
		flightwatch.WithSink(flightwatch.NewWebhookSink(nil, logger)),
		flightwatch.WithChangeCallback(func(e flightwatch.ChangeEvent) {
			fmt.Printf("  %-20s %-20s %q -> %q (%s)\n", e.FlightID, e.Field, e.Previous, e.Current, e.Class)
		}),
		flightwatch.WithFailureCallback(func(f flightwatch.Failure) {
			fmt.Printf("  delivery to %s failed: %s\n", f.Task.Endpoint, f.Reason)
		}),
	}

	// one device follows every field, one only gates, one has uninstalled the app
	for i, id := range mock.FlightIDs() {
		opts = append(opts,
			flightwatch.WithSubscription(flightwatch.Subscription{
				FlightID: id,
				Endpoint: fmt.Sprintf("http://localhost:9999/push/device-%d", i),
			}),
			flightwatch.WithSubscription(flightwatch.Subscription{
				FlightID: id,
				Endpoint: "http://localhost:9999/push/gate-watcher",
				Fields:   []flightwatch.Field{flightwatch.FieldGate},
			}),
		)
	}
	opts = append(opts, flightwatch.WithSubscription(flightwatch.Subscription{
		FlightID: mock.FlightIDs()[0],
		Endpoint: "http://localhost:9999/push/gone/old-phone",
	}))

	fw, err := flightwatch.New(opts...)
	if err != nil {
		logger.Error("failed to create flightwatch", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  flightwatch demo")
	fmt.Println()
	fmt.Println("  Flights:       curl localhost:8080/api/flights")
	fmt.Println("  Live changes:  curl -N localhost:8080/api/events")
	fmt.Println("  Metrics:       curl localhost:8080/metrics")
	fmt.Println()
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := fw.Start(ctx); err != nil {
		logger.Error("flightwatch error", "error", err)
		os.Exit(1)
	}
}
