package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/im7mortal/kmutex"

	"github.com/jpalmerr/flightwatch/internal/differ"
	"github.com/jpalmerr/flightwatch/internal/flight"
	"github.com/jpalmerr/flightwatch/internal/store"
)

// ErrInvalidSnapshot is returned for snapshots that fail validation.
var ErrInvalidSnapshot = errors.New("invalid snapshot")

// Outcome is what an ingestion cycle did with a snapshot.
type Outcome string

const (
	// OutcomeFirstSighting means the flight was unknown; the snapshot was
	// stored as the baseline and no events were produced.
	OutcomeFirstSighting Outcome = "first_sighting"

	// OutcomeApplied means the snapshot was diffed, its events dispatched
	// and the snapshot stored.
	OutcomeApplied Outcome = "applied"

	// OutcomeStale means the revision was not newer than the stored one.
	// Nothing was dispatched or stored.
	OutcomeStale Outcome = "stale"
)

// Result describes one ingestion cycle.
type Result struct {
	FlightID string
	Revision int64
	Outcome  Outcome

	// Events are the change events produced by the diff, in canonical order.
	Events []flight.ChangeEvent

	// Tasks is the number of delivery tasks enqueued.
	Tasks int
}

// Dispatcher enqueues delivery tasks for change events.
type Dispatcher interface {
	DispatchAll(ctx context.Context, events []flight.ChangeEvent) (int, error)
}

// Publisher receives the events of every cycle that was stored.
type Publisher interface {
	Publish(events ...flight.ChangeEvent)
}

// Ingester runs ingestion cycles.
type Ingester struct {
	store      store.StateStore
	differ     *differ.Differ
	dispatcher Dispatcher
	publisher  Publisher
	metrics    *Collector
	logger     *slog.Logger
	locks      *kmutex.Kmutex
}

// Option configures an [Ingester].
type Option func(*Ingester)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(in *Ingester) {
		if logger != nil {
			in.logger = logger
		}
	}
}

// WithPublisher sets a publisher that is told about events once their cycle
// has been stored.
func WithPublisher(p Publisher) Option {
	return func(in *Ingester) {
		in.publisher = p
	}
}

// WithMetrics records cycle outcomes in c.
func WithMetrics(c *Collector) Option {
	return func(in *Ingester) {
		in.metrics = c
	}
}

// New creates an [Ingester].
func New(st store.StateStore, d *differ.Differ, dispatcher Dispatcher, opts ...Option) *Ingester {
	in := &Ingester{
		store:      st,
		differ:     d,
		dispatcher: dispatcher,
		logger:     slog.Default(),
		locks:      kmutex.New(),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Ingest runs one cycle for snap.
//
// A stale snapshot is not an error: the result has [OutcomeStale] and a nil
// error. When dispatching or the store write fails, the error is returned
// and the stored state is left untouched. The result still reports the
// events and the number of tasks already enqueued.
func (in *Ingester) Ingest(ctx context.Context, snap flight.Snapshot) (Result, error) {
	result := Result{FlightID: snap.ID, Revision: snap.Revision}

	if err := snap.Validate(); err != nil {
		in.metrics.observeError(stageValidate)
		return result, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}

	in.locks.Lock(snap.ID)
	defer in.locks.Unlock(snap.ID)

	prev, ok, err := in.store.Get(ctx, snap.ID)
	if err != nil {
		in.metrics.observeError(stageRead)
		return result, fmt.Errorf("reading state for %s: %w", snap.ID, err)
	}

	if !ok {
		if err := in.store.Put(ctx, snap); err != nil {
			in.metrics.observeError(stageWrite)
			in.logger.Warn("store write failed",
				"flight_id", snap.ID,
				"revision", snap.Revision,
				"error", err.Error(),
			)
			return result, err
		}
		result.Outcome = OutcomeFirstSighting
		in.metrics.observe(result)
		in.logger.Debug("flight first sighting", "flight_id", snap.ID, "revision", snap.Revision)
		return result, nil
	}

	events, err := in.differ.Diff(&prev, snap)
	if errors.Is(err, differ.ErrStaleSnapshot) {
		result.Outcome = OutcomeStale
		in.metrics.observe(result)
		in.logger.Debug("stale snapshot ignored",
			"flight_id", snap.ID,
			"revision", snap.Revision,
			"stored_revision", prev.Revision,
		)
		return result, nil
	}
	if err != nil {
		in.metrics.observeError(stageDiff)
		return result, fmt.Errorf("diffing %s: %w", snap.ID, err)
	}
	result.Events = events

	tasks, err := in.dispatcher.DispatchAll(ctx, events)
	result.Tasks = tasks
	if err != nil {
		in.metrics.observeError(stageDispatch)
		in.logger.Warn("dispatch failed, state not advanced",
			"flight_id", snap.ID,
			"revision", snap.Revision,
			"events", len(events),
			"tasks_enqueued", tasks,
			"error", err.Error(),
		)
		return result, err
	}

	if err := in.store.Put(ctx, snap); err != nil {
		in.metrics.observeError(stageWrite)
		in.logger.Warn("store write failed, state not advanced",
			"flight_id", snap.ID,
			"revision", snap.Revision,
			"tasks_enqueued", tasks,
			"error", err.Error(),
		)
		return result, err
	}

	result.Outcome = OutcomeApplied
	in.metrics.observe(result)
	if len(events) > 0 {
		in.logger.Info("flight changed",
			"flight_id", snap.ID,
			"revision", snap.Revision,
			"events", len(events),
			"tasks", tasks,
		)
		if in.publisher != nil {
			in.publisher.Publish(events...)
		}
	}
	return result, nil
}
