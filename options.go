package flightwatch

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// engineConfig holds mutable state during Engine construction.
type engineConfig struct {
	feeds           []Feed
	pollingInterval time.Duration
	port            int
	httpEnabled     bool
	maxConcurrency  int

	workers       int
	queueSize     int
	maxAttempts   int
	baseDelay     time.Duration
	maxDelay      time.Duration
	sendTimeout   time.Duration
	shutdownGrace time.Duration
	timeThreshold time.Duration

	sink          Sink
	store         StateStore
	sqlitePath    string
	subscriptions []Subscription

	logger           *slog.Logger
	registry         *prometheus.Registry
	changeCallbacks  []func(ChangeEvent)
	failureCallbacks []func(Failure)
}

// Option configures an [Engine] during construction. Options return an
// error if validation fails.
type Option func(*engineConfig) error

// WithFeed adds an upstream [Feed] to poll. Can be called multiple times.
// An engine without feeds only ingests what is pushed to it.
func WithFeed(f Feed) Option {
	return func(cfg *engineConfig) error {
		cfg.feeds = append(cfg.feeds, f)
		return nil
	}
}

// WithFeeds adds multiple feeds. Equivalent to calling [WithFeed] for each.
func WithFeeds(feeds ...Feed) Option {
	return func(cfg *engineConfig) error {
		cfg.feeds = append(cfg.feeds, feeds...)
		return nil
	}
}

// WithPollingInterval sets how often feeds without their own interval are
// polled. Defaults to 30 seconds.
//
// Returns an error if the duration is zero or negative.
func WithPollingInterval(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		if d <= 0 {
			return errors.New("polling interval must be positive")
		}
		cfg.pollingInterval = d
		return nil
	}
}

// WithPort sets the HTTP port for the API. Defaults to 8080.
//
// Returns an error if the port is outside the valid range (1-65535).
func WithPort(port int) Option {
	return func(cfg *engineConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		cfg.port = port
		return nil
	}
}

// WithoutHTTP disables the HTTP API. The engine is then driven only through
// its methods and configured feeds.
func WithoutHTTP() Option {
	return func(cfg *engineConfig) error {
		cfg.httpEnabled = false
		return nil
	}
}

// WithMaxConcurrency limits both concurrent feed fetches and the number of
// flights ingested in parallel from one batch. Defaults to 10.
//
// Returns an error if the value is zero or negative.
func WithMaxConcurrency(n int) Option {
	return func(cfg *engineConfig) error {
		if n <= 0 {
			return errors.New("max concurrency must be positive")
		}
		cfg.maxConcurrency = n
		return nil
	}
}

// WithWorkers sets the number of concurrent delivery workers. Defaults to 8.
func WithWorkers(n int) Option {
	return func(cfg *engineConfig) error {
		if n <= 0 {
			return errors.New("workers must be positive")
		}
		cfg.workers = n
		return nil
	}
}

// WithQueueSize bounds how many notifications may be outstanding at once.
// Ingestion blocks while the queue is full. Defaults to 1024.
func WithQueueSize(n int) Option {
	return func(cfg *engineConfig) error {
		if n <= 0 {
			return errors.New("queue size must be positive")
		}
		cfg.queueSize = n
		return nil
	}
}

// WithMaxAttempts sets how many times a notification is sent before it is
// reported as failed. Defaults to 5.
func WithMaxAttempts(n int) Option {
	return func(cfg *engineConfig) error {
		if n <= 0 {
			return errors.New("max attempts must be positive")
		}
		cfg.maxAttempts = n
		return nil
	}
}

// WithBackoff sets the retry delay: base doubles per attempt up to max,
// plus up to one base of random jitter. Defaults to 1s and 5m.
func WithBackoff(base, max time.Duration) Option {
	return func(cfg *engineConfig) error {
		if base <= 0 || max <= 0 {
			return errors.New("backoff delays must be positive")
		}
		if max < base {
			return fmt.Errorf("max backoff %s is below base %s", max, base)
		}
		cfg.baseDelay = base
		cfg.maxDelay = max
		return nil
	}
}

// WithSendTimeout bounds every sink call. A timed out call is retried.
// Defaults to 10 seconds.
func WithSendTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		if d <= 0 {
			return errors.New("send timeout must be positive")
		}
		cfg.sendTimeout = d
		return nil
	}
}

// WithShutdownGrace sets how long shutdown waits for outstanding
// notifications before abandoning them. Zero abandons immediately.
// Defaults to 15 seconds.
func WithShutdownGrace(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		if d < 0 {
			return errors.New("shutdown grace cannot be negative")
		}
		cfg.shutdownGrace = d
		return nil
	}
}

// WithTimeThreshold sets the smallest shift of a time field that counts as
// Actionable. Smaller shifts are Informational. Defaults to 5 minutes.
func WithTimeThreshold(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		if d < 0 {
			return errors.New("time threshold cannot be negative")
		}
		cfg.timeThreshold = d
		return nil
	}
}

// WithSink sets the push transport for notifications. Defaults to
// [NewLogSink]. Sinks with a Close() method are closed on shutdown.
func WithSink(s Sink) Option {
	return func(cfg *engineConfig) error {
		if s == nil {
			return errors.New("sink cannot be nil")
		}
		cfg.sink = s
		return nil
	}
}

// WithStateStore sets where last known flight state is kept. The engine
// closes the store on shutdown. Defaults to an in-memory store.
func WithStateStore(s StateStore) Option {
	return func(cfg *engineConfig) error {
		if s == nil {
			return errors.New("state store cannot be nil")
		}
		cfg.store = s
		return nil
	}
}

// WithSQLite keeps flight state in a SQLite database at path, created if
// missing.
func WithSQLite(path string) Option {
	return func(cfg *engineConfig) error {
		if path == "" {
			return errors.New("sqlite path cannot be empty")
		}
		cfg.sqlitePath = path
		return nil
	}
}

// WithSubscription registers a subscription when the engine is created.
func WithSubscription(sub Subscription) Option {
	return func(cfg *engineConfig) error {
		cfg.subscriptions = append(cfg.subscriptions, sub)
		return nil
	}
}

// WithLogger sets a custom [slog.Logger]. If not specified, [slog.Default]
// is used.
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *engineConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithRegistry registers the engine's Prometheus collectors on reg, which
// is also what /metrics serves. By default the engine uses its own registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(cfg *engineConfig) error {
		if reg == nil {
			return errors.New("registry cannot be nil")
		}
		cfg.registry = reg
		return nil
	}
}

// WithChangeCallback registers a function called for every change event
// once the snapshot that produced it has been stored.
//
// Callbacks run synchronously on the ingesting goroutine and must not
// block. Panics are recovered and logged. Nil callbacks are ignored.
func WithChangeCallback(cb func(ChangeEvent)) Option {
	return func(cfg *engineConfig) error {
		if cb == nil {
			return nil
		}
		cfg.changeCallbacks = append(cfg.changeCallbacks, cb)
		return nil
	}
}

// WithFailureCallback registers a function called for every notification
// that ends failed: rejected permanently, out of attempts, or abandoned at
// shutdown.
//
// Callbacks run on delivery workers and must not block. Panics are
// recovered and logged. Nil callbacks are ignored.
func WithFailureCallback(cb func(Failure)) Option {
	return func(cfg *engineConfig) error {
		if cb == nil {
			return nil
		}
		cfg.failureCallbacks = append(cfg.failureCallbacks, cb)
		return nil
	}
}
