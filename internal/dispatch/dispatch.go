// Package dispatch fans change events out to interested subscribers.
//
// A [Dispatcher] resolves subscribers for an event's flight and enqueues one
// delivery task per accepting subscriber. It never waits for delivery; the
// only way it blocks is when the delivery queue is full.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jpalmerr/flightwatch/internal/delivery"
	"github.com/jpalmerr/flightwatch/internal/flight"
)

// Lookup resolves the subscriptions for a flight.
type Lookup interface {
	Lookup(flightID string) []flight.Subscription
}

// Queue accepts delivery tasks. Enqueue may block while the queue is full.
type Queue interface {
	Enqueue(ctx context.Context, task delivery.Task) error
}

// Dispatcher turns change events into delivery tasks.
type Dispatcher struct {
	subs   Lookup
	queue  Queue
	logger *slog.Logger
}

// New creates a [Dispatcher]. A nil logger uses slog.Default().
func New(subs Lookup, queue Queue, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{subs: subs, queue: queue, logger: logger}
}

// Dispatch enqueues one task for every subscriber of the event's flight
// whose filter accepts the event, in subscription order. It returns the
// number of tasks enqueued.
//
// If an enqueue fails the remaining subscribers are skipped and the error is
// returned together with the count enqueued so far.
func (d *Dispatcher) Dispatch(ctx context.Context, event flight.ChangeEvent) (int, error) {
	subs := d.subs.Lookup(event.FlightID)

	enqueued := 0
	for _, sub := range subs {
		if !sub.Accepts(event) {
			continue
		}
		task := delivery.Task{Event: event, Endpoint: sub.Endpoint}
		if err := d.queue.Enqueue(ctx, task); err != nil {
			return enqueued, fmt.Errorf("dispatching %s %s to %s: %w",
				event.FlightID, event.Field, sub.Endpoint, err)
		}
		enqueued++
	}

	if enqueued > 0 {
		d.logger.Debug("change event dispatched",
			"flight_id", event.FlightID,
			"field", string(event.Field),
			"class", string(event.Class),
			"subscribers", len(subs),
			"tasks", enqueued,
		)
	}
	return enqueued, nil
}

// DispatchAll dispatches events in order, stopping at the first error. It
// returns the total number of tasks enqueued.
func (d *Dispatcher) DispatchAll(ctx context.Context, events []flight.ChangeEvent) (int, error) {
	total := 0
	for _, event := range events {
		n, err := d.Dispatch(ctx, event)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
