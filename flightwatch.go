package flightwatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/jpalmerr/flightwatch/internal/delivery"
	"github.com/jpalmerr/flightwatch/internal/differ"
	"github.com/jpalmerr/flightwatch/internal/dispatch"
	"github.com/jpalmerr/flightwatch/internal/hub"
	"github.com/jpalmerr/flightwatch/internal/ingest"
	"github.com/jpalmerr/flightwatch/internal/poller"
	"github.com/jpalmerr/flightwatch/internal/server"
	"github.com/jpalmerr/flightwatch/internal/store"
	"github.com/jpalmerr/flightwatch/internal/subscription"
)

const (
	defaultPollingInterval = 30 * time.Second
	defaultPort            = 8080
	defaultMaxConcurrency  = 10

	// workerStopTimeout is how long shutdown waits, past the grace period,
	// for delivery workers to return.
	workerStopTimeout = 5 * time.Second
)

// Engine detects flight status changes and notifies subscribers.
//
// Snapshots arrive from configured feeds or through [Engine.Ingest]. Each
// one is compared with the flight's last known state; every meaningful
// change is handed to the delivery pool once per interested subscriber,
// and the new state is stored. Create an Engine with [New] and run it with
// [Engine.Start]:
//
//	engine, err := flightwatch.New(
//	    flightwatch.WithFeed(feed),
//	    flightwatch.WithSink(flightwatch.NewWebhookSink(nil, nil)),
//	)
//	if err != nil {
//	    slog.Error("failed to create engine", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	engine.Start(ctx) // blocks until ctx is cancelled
type Engine struct {
	feeds           []Feed
	pollingInterval time.Duration
	port            int
	httpEnabled     bool
	maxConcurrency  int
	shutdownGrace   time.Duration
	logger          *slog.Logger

	store     StateStore
	sink      Sink
	subs      *subscription.Index
	pool      *delivery.Pool
	failures  *failureNotifier
	ingester  *ingest.Ingester
	events    *hub.Hub
	scheduler *poller.Scheduler
	registry  *prometheus.Registry

	started atomic.Bool
}

// New creates an [Engine] with the given options.
//
// Without options the engine keeps state in memory, logs notifications
// instead of sending them, polls no feeds and serves its API on port 8080.
//
// Returns an error if an option is invalid, feed names repeat, a seeded
// subscription is invalid or the SQLite store cannot be opened.
func New(opts ...Option) (*Engine, error) {
	cfg := &engineConfig{
		pollingInterval: defaultPollingInterval,
		port:            defaultPort,
		httpEnabled:     true,
		maxConcurrency:  defaultMaxConcurrency,
		shutdownGrace:   delivery.DefaultShutdownGrace,
		timeThreshold:   differ.DefaultTimeThreshold,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	// feed names key the per-feed interval tracking
	seen := make(map[string]bool, len(cfg.feeds))
	for _, f := range cfg.feeds {
		if seen[f.name] {
			return nil, fmt.Errorf("duplicate feed name: %q", f.name)
		}
		seen[f.name] = true
	}

	if cfg.store != nil && cfg.sqlitePath != "" {
		return nil, errors.New("WithStateStore and WithSQLite are mutually exclusive")
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	subs := subscription.NewIndex()
	for _, sub := range cfg.subscriptions {
		if err := subs.Subscribe(sub); err != nil {
			return nil, fmt.Errorf("seeding subscriptions: %w", err)
		}
	}

	registry := cfg.registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	deliveryMetrics := delivery.NewCollector()
	ingestMetrics := ingest.NewCollector()
	for _, c := range []prometheus.Collector{deliveryMetrics, ingestMetrics} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("registering metrics: %w", err)
		}
	}

	st := cfg.store
	if cfg.sqlitePath != "" {
		sqlite, err := store.OpenSQLite(cfg.sqlitePath)
		if err != nil {
			return nil, fmt.Errorf("opening state store: %w", err)
		}
		st = sqlite
	}
	if st == nil {
		st = store.NewMemoryStore()
	}

	sink := cfg.sink
	if sink == nil {
		sink = NewLogSink(logger)
	}

	reporters := delivery.Reporters{delivery.LogReporter{Logger: logger}, deliveryMetrics}
	var failures *failureNotifier
	if len(cfg.failureCallbacks) > 0 {
		failures = newFailureNotifier(cfg.failureCallbacks, logger, failureBuffer)
		reporters = append(reporters, failures)
	}

	pool := delivery.NewPool(sink, delivery.Config{
		Workers:       cfg.workers,
		QueueSize:     cfg.queueSize,
		MaxAttempts:   cfg.maxAttempts,
		Backoff:       delivery.Backoff{Base: cfg.baseDelay, Max: cfg.maxDelay},
		SendTimeout:   cfg.sendTimeout,
		ShutdownGrace: cfg.shutdownGrace,
		Reporter:      reporters,
		Logger:        logger,
	})
	deliveryMetrics.ObservePool(pool)

	events := hub.New()
	dispatcher := dispatch.New(subs, pool, logger)
	ingester := ingest.New(st, differ.New(differ.Policy{TimeThreshold: cfg.timeThreshold}), dispatcher,
		ingest.WithLogger(logger),
		ingest.WithMetrics(ingestMetrics),
		ingest.WithPublisher(changeFanout{hub: events, callbacks: cfg.changeCallbacks, logger: logger}),
	)

	e := &Engine{
		feeds:           cfg.feeds,
		pollingInterval: cfg.pollingInterval,
		port:            cfg.port,
		httpEnabled:     cfg.httpEnabled,
		maxConcurrency:  cfg.maxConcurrency,
		shutdownGrace:   cfg.shutdownGrace,
		logger:          logger,
		store:           st,
		sink:            sink,
		subs:            subs,
		pool:            pool,
		failures:        failures,
		ingester:        ingester,
		events:          events,
		registry:        registry,
	}
	e.scheduler = poller.NewScheduler(e.toPollerFeeds(), cfg.pollingInterval, cfg.maxConcurrency, logger)
	return e, nil
}

// Start runs the engine until ctx is cancelled.
//
// Start launches the delivery workers, polls every feed immediately and
// then on its interval, and serves the HTTP API unless [WithoutHTTP] was
// given. On cancellation polling stops, outstanding notifications get the
// shutdown grace period, whatever remains is reported failed, and the
// state store is closed.
//
// Start may be called once. Returns nil on graceful shutdown and an error
// if the HTTP server cannot start.
func (e *Engine) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return errors.New("engine already started")
	}

	e.logger.Info("flightwatch starting",
		"feed_count", len(e.feeds),
		"subscriptions", e.subs.Len(),
	)

	if e.failures != nil {
		e.failures.start()
	}

	if ctx.Err() != nil {
		// notifications enqueued before Start are still reported
		e.stopDelivery()
		e.close()
		return nil
	}

	e.pool.Start(ctx)
	e.scheduler.Start(ctx)

	// the consumer drains results until Stop closes the channel
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for result := range e.scheduler.Results() {
			e.handleFeedResult(ctx, result)
		}
	}()

	shutdown := func() {
		e.scheduler.Stop()
		wg.Wait()

		e.stopDelivery()
		e.close()
	}

	if e.httpEnabled {
		srv := server.NewServer(e, e.events, e.registry, e.port, e.logger)
		if err := srv.Start(ctx); err != nil {
			shutdown()
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		e.logger.Info("api available", "url", fmt.Sprintf("http://localhost:%d", e.port))
	}

	<-ctx.Done()
	shutdown()
	e.logger.Info("flightwatch stopped")
	return nil
}

// stopDelivery shuts the pool down and reports what it abandoned.
func (e *Engine) stopDelivery() {
	ctx, cancel := context.WithTimeout(context.Background(), e.shutdownGrace+workerStopTimeout)
	defer cancel()

	if abandoned := e.pool.Shutdown(ctx); abandoned > 0 {
		e.logger.Warn("notifications abandoned at shutdown", "count", abandoned)
	}
}

func (e *Engine) close() {
	if e.failures != nil {
		e.failures.stop(failureDrainTimeout)
	}
	if c, ok := e.sink.(interface{ Close() }); ok {
		c.Close()
	}
	if err := e.store.Close(); err != nil {
		e.logger.Warn("closing state store failed", "error", err.Error())
	}
}

func (e *Engine) handleFeedResult(ctx context.Context, result poller.FeedResult) {
	logAttrs := []any{
		"feed", result.Feed,
		"url", result.URL,
		"status_code", result.StatusCode,
		"latency_ms", result.Latency.Milliseconds(),
	}
	if result.Error != nil {
		e.logger.Warn("feed poll failed", append(logAttrs, "error", result.Error.Error())...)
		return
	}
	if result.NotModified {
		e.logger.Debug("feed unchanged", logAttrs...)
		return
	}
	e.logger.Debug("feed polled", append(logAttrs, "snapshots", len(result.Snapshots))...)

	if _, err := e.IngestBatch(ctx, result.Snapshots); err != nil {
		// failed flights are retried from the next poll, which must not be a 304
		e.scheduler.Forget(result.URL)
		e.logger.Warn("feed ingestion incomplete", "feed", result.Feed, "error", err.Error())
	}
}

// Ingest runs one ingestion cycle for snap: compare it with the stored
// state, enqueue a notification per interested subscriber for every
// meaningful change, then store it.
//
// A snapshot whose revision is not newer than the stored one is ignored and
// reported with outcome "stale" and a nil error. If notifications cannot be
// enqueued or the state cannot be written, the stored state is unchanged so
// the same snapshot can be ingested again.
func (e *Engine) Ingest(ctx context.Context, snap Snapshot) (IngestResult, error) {
	return e.ingester.Ingest(ctx, snap)
}

// IngestBatch ingests snapshots with up to [WithMaxConcurrency] flights in
// parallel. Snapshots of the same flight are ingested one after another in
// slice order.
//
// Results are returned in slice order. The error joins the errors of every
// snapshot that failed; the others are ingested regardless.
func (e *Engine) IngestBatch(ctx context.Context, snaps []Snapshot) ([]IngestResult, error) {
	results := make([]IngestResult, len(snaps))
	errs := make([]error, len(snaps))

	// group by flight so each flight's snapshots keep their order
	var order []string
	byFlight := make(map[string][]int)
	for i, snap := range snaps {
		if _, ok := byFlight[snap.ID]; !ok {
			order = append(order, snap.ID)
		}
		byFlight[snap.ID] = append(byFlight[snap.ID], i)
	}

	var g errgroup.Group
	g.SetLimit(e.maxConcurrency)
	for _, id := range order {
		indexes := byFlight[id]
		g.Go(func() error {
			for _, i := range indexes {
				results[i], errs[i] = e.ingester.Ingest(ctx, snaps[i])
			}
			return nil
		})
	}
	_ = g.Wait()

	return results, errors.Join(errs...)
}

// Subscribe registers endpoint interest in a flight. Subscribing an
// endpoint again replaces its field filter.
func (e *Engine) Subscribe(sub Subscription) error {
	return e.subs.Subscribe(sub)
}

// Unsubscribe removes endpoint from flightID. It reports whether a
// subscription existed; removing an unknown pair is not an error.
func (e *Engine) Unsubscribe(flightID, endpoint string) bool {
	return e.subs.Unsubscribe(flightID, endpoint)
}

// Subscriptions returns the subscriptions for flightID, oldest first.
func (e *Engine) Subscriptions(flightID string) []Subscription {
	return e.subs.Lookup(flightID)
}

// Flight returns the last stored snapshot of a flight.
func (e *Engine) Flight(ctx context.Context, id string) (Snapshot, bool, error) {
	return e.store.Get(ctx, id)
}

// Flights returns the last stored snapshot of every flight, in no
// particular order.
func (e *Engine) Flights(ctx context.Context) ([]Snapshot, error) {
	return e.store.All(ctx)
}

// Refresh polls every feed now instead of waiting for its interval.
func (e *Engine) Refresh() {
	e.scheduler.Refresh()
}

// Events returns a channel that receives every change event, or only those
// of flightIDs when given. Events are best-effort: a listener that falls
// behind misses events. Release the channel with [Engine.StopEvents].
func (e *Engine) Events(flightIDs ...string) <-chan ChangeEvent {
	return e.events.Subscribe(flightIDs...)
}

// StopEvents releases a channel returned by [Engine.Events] and closes it.
func (e *Engine) StopEvents(ch <-chan ChangeEvent) {
	e.events.Unsubscribe(ch)
}

// DeliveryStats returns the delivery pool's current counters.
func (e *Engine) DeliveryStats() DeliveryStats {
	return e.pool.Stats()
}

// Feeds returns a copy of the configured feeds.
func (e *Engine) Feeds() []Feed {
	cp := make([]Feed, len(e.feeds))
	copy(cp, e.feeds)
	return cp
}

// Port returns the configured HTTP port.
func (e *Engine) Port() int {
	return e.port
}

// PollingInterval returns the interval between polls of feeds without
// their own interval.
func (e *Engine) PollingInterval() time.Duration {
	return e.pollingInterval
}

// Registry returns the Prometheus registry holding the engine's metrics.
func (e *Engine) Registry() *prometheus.Registry {
	return e.registry
}

// toPollerFeeds converts Feed values to poller.FeedInfo values.
func (e *Engine) toPollerFeeds() []poller.FeedInfo {
	result := make([]poller.FeedInfo, len(e.feeds))

	for i, f := range e.feeds {
		var decoder poller.FeedDecoder
		if f.decoder != nil {
			decoder = poller.FeedDecoder(f.decoder)
		}

		result[i] = poller.FeedInfo{
			Name:     f.name,
			URL:      f.url,
			Headers:  copyMap(f.headers),
			Timeout:  f.timeout,
			Decoder:  decoder,
			Interval: f.interval,
		}
	}

	return result
}

// changeFanout publishes stored change events to live listeners and the
// registered change callbacks.
type changeFanout struct {
	hub       *hub.Hub
	callbacks []func(ChangeEvent)
	logger    *slog.Logger
}

func (c changeFanout) Publish(events ...ChangeEvent) {
	c.hub.Publish(events...)
	for _, e := range events {
		for _, cb := range c.callbacks {
			invokeCallbackSafe(c.logger, "change callback", e.FlightID, func() { cb(e) })
		}
	}
}

// invokeCallbackSafe calls fn with panic recovery. Panics are logged with a
// correlation ID but do not propagate.
func invokeCallbackSafe(logger *slog.Logger, what, flightID string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(what+" panicked",
				"correlation_id", uuid.NewString(),
				"panic", r,
				"flight_id", flightID,
				"stack", string(debug.Stack()),
			)
		}
	}()
	fn()
}
