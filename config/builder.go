package config

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/jpalmerr/flightwatch"
)

// BuildFeeds converts the configured feeds into SDK Feed values.
func BuildFeeds(cfg *Config) ([]flightwatch.Feed, error) {
	feeds := make([]flightwatch.Feed, 0, len(cfg.Feeds))
	for _, fc := range cfg.Feeds {
		f, err := buildFeed(fc)
		if err != nil {
			return nil, fmt.Errorf("feed %q: %w", fc.Name, err)
		}
		feeds = append(feeds, f)
	}
	return feeds, nil
}

// buildFeed converts a single FeedConfig to an SDK Feed.
func buildFeed(fc FeedConfig) (flightwatch.Feed, error) {
	var opts []flightwatch.FeedOption

	if fc.Timeout != 0 {
		opts = append(opts, flightwatch.WithTimeout(fc.Timeout.Duration()))
	}

	if len(fc.Headers) > 0 {
		opts = append(opts, flightwatch.WithHeaders(mapToKeyValuePairs(fc.Headers)...))
	}

	if fc.Interval != 0 {
		opts = append(opts, flightwatch.WithInterval(fc.Interval.Duration()))
	}

	return flightwatch.NewFeed(fc.Name, fc.URL, opts...)
}

// BuildOptions converts parsed configuration into engine options. The
// logger is handed to the engine and the sink.
func BuildOptions(cfg *Config, logger *slog.Logger) ([]flightwatch.Option, error) {
	feeds, err := BuildFeeds(cfg)
	if err != nil {
		return nil, err
	}

	opts := []flightwatch.Option{
		flightwatch.WithFeeds(feeds...),
		flightwatch.WithPort(cfg.Port),
		flightwatch.WithPollingInterval(cfg.PollInterval.Duration()),
		flightwatch.WithTimeThreshold(cfg.Diff.TimeThreshold.Duration()),
	}
	if cfg.MaxConcurrency > 0 {
		opts = append(opts, flightwatch.WithMaxConcurrency(cfg.MaxConcurrency))
	}
	if logger != nil {
		opts = append(opts, flightwatch.WithLogger(logger))
	}

	if cfg.Store.Driver == StoreSQLite {
		opts = append(opts, flightwatch.WithSQLite(cfg.Store.Path))
	}

	opts = append(opts, deliveryOptions(cfg.Delivery)...)

	switch cfg.Sink.Type {
	case SinkWebhook:
		opts = append(opts, flightwatch.WithSink(flightwatch.NewWebhookSink(cfg.Sink.Headers, logger)))
	default:
		opts = append(opts, flightwatch.WithSink(flightwatch.NewLogSink(logger)))
	}

	for _, sc := range cfg.Subscriptions {
		fields := make([]flightwatch.Field, 0, len(sc.Fields))
		for _, f := range sc.Fields {
			fields = append(fields, flightwatch.Field(f))
		}
		opts = append(opts, flightwatch.WithSubscription(flightwatch.Subscription{
			FlightID: sc.FlightID,
			Endpoint: sc.Endpoint,
			Fields:   fields,
		}))
	}

	return opts, nil
}

// deliveryOptions returns options only for the values that were set, so the
// engine defaults apply to the rest.
func deliveryOptions(d DeliveryConfig) []flightwatch.Option {
	var opts []flightwatch.Option

	if d.Workers > 0 {
		opts = append(opts, flightwatch.WithWorkers(d.Workers))
	}
	if d.QueueSize > 0 {
		opts = append(opts, flightwatch.WithQueueSize(d.QueueSize))
	}
	if d.MaxAttempts > 0 {
		opts = append(opts, flightwatch.WithMaxAttempts(d.MaxAttempts))
	}
	if d.BaseDelay > 0 || d.MaxDelay > 0 {
		base, max := d.BaseDelay.Duration(), d.MaxDelay.Duration()
		if base == 0 {
			base = defaultBaseDelay
		}
		if max == 0 {
			max = defaultMaxDelay
		}
		opts = append(opts, flightwatch.WithBackoff(base, max))
	}
	if d.SendTimeout > 0 {
		opts = append(opts, flightwatch.WithSendTimeout(d.SendTimeout.Duration()))
	}
	if d.ShutdownGrace != nil {
		opts = append(opts, flightwatch.WithShutdownGrace(d.ShutdownGrace.Duration()))
	}

	return opts
}

// mapToKeyValuePairs converts a map to a sorted slice of key-value pairs.
func mapToKeyValuePairs(m map[string]string) []string {
	// sort keys for deterministic ordering
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(m)*2)
	for _, k := range keys {
		pairs = append(pairs, k, m[k])
	}
	return pairs
}
