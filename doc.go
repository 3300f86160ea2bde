// Package flightwatch detects meaningful changes in flight status and
// notifies every interested subscriber, once per change, with retry.
//
// flightwatch is an embeddable engine. Snapshots of flight state come from
// polled upstream feeds or are pushed by the caller; each is compared with
// the flight's last known state, and every change a subscriber cares about
// becomes a notification handed to a pluggable [Sink].
//
// # Quick Start
//
//	feed, _ := flightwatch.NewFeed("airport", "https://feeds.example.com/flights.json")
//	engine, _ := flightwatch.New(
//	    flightwatch.WithFeed(feed),
//	    flightwatch.WithSubscription(flightwatch.Subscription{
//	        FlightID: "BA117-2026-10-19",
//	        Endpoint: "https://push.example.com/devices/42",
//	    }),
//	    flightwatch.WithSink(flightwatch.NewWebhookSink(nil, nil)),
//	)
//
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	engine.Start(ctx) // blocks until ctx is cancelled
//
// # Change detection
//
// A snapshot is applied only if its revision is higher than the stored
// one; older or duplicate revisions are ignored. The first snapshot of a
// flight is stored without producing events. After that, each changed
// field yields one [ChangeEvent], in a fixed field order:
//
//   - status, gate and terminal changes are Actionable
//   - a time shift of at least [WithTimeThreshold] (default 5 minutes) is
//     Actionable, a smaller one Informational
//   - a time becoming known or unknown is Actionable
//
// A subscription with no fields receives every Actionable event of its
// flight. A subscription naming fields receives only events for those
// fields, Informational ones included.
//
// # Delivery
//
// Notifications are sent by a fixed pool of workers. Retryable failures
// back off exponentially with jitter; after [WithMaxAttempts] attempts, on
// a [Permanent] error, or when shutdown abandons them, they are reported to
// [WithFailureCallback] and the delivery metrics. Notifications for the
// same flight and endpoint are never sent concurrently and keep their
// order.
//
// # Architecture
//
// flightwatch consists of several internal packages (under internal/):
//
//   - internal/flight: Snapshot, ChangeEvent and Subscription types
//   - internal/differ: Snapshot comparison and change classification
//   - internal/store: Last known state, in memory or in SQLite
//   - internal/subscription: Sharded flight to subscriber index
//   - internal/dispatch: Fan-out of change events to delivery tasks
//   - internal/delivery: Worker pool with retry, backoff and metrics
//   - internal/sink: Webhook and log push transports
//   - internal/ingest: The ingestion cycle, serialized per flight
//   - internal/hub: Best-effort live event broadcast
//   - internal/poller: Concurrent HTTP polling of upstream feeds
//   - internal/server: HTTP API, Server-Sent Events and /metrics
//
// The internal packages are not part of the public API and may change
// without notice.
package flightwatch
