// Package config provides YAML configuration parsing for flightwatch.
//
// This package enables running flightwatch as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
//
// Example configuration:
//
//	port: 8080
//	poll_interval: 30s
//
//	feeds:
//	  - name: heathrow
//	    url: https://feeds.example.com/lhr.json
//	    headers:
//	      Authorization: Bearer ${FEED_TOKEN}
//
//	store:
//	  driver: sqlite
//	  path: ${DATA_DIR:-/var/lib/flightwatch}/flights.db
//
//	delivery:
//	  workers: 8
//	  max_attempts: 5
//
//	sink:
//	  type: webhook
//
//	subscriptions:
//	  - flight_id: BA117-2026-10-19
//	    endpoint: https://push.example.com/devices/42
//	    fields: [gate, status]
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jpalmerr/flightwatch"
)

// minPollInterval is the minimum allowed polling interval for production configs.
// This prevents accidental DoS of upstream feeds with overly aggressive polling.
const minPollInterval = 1 * time.Second

const (
	defaultPort           = 8080
	defaultPollInterval   = 30 * time.Second
	defaultMaxConcurrency = 10
	defaultTimeThreshold  = 5 * time.Minute
	defaultBaseDelay      = time.Second
	defaultMaxDelay       = 5 * time.Minute
)

const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"

	SinkLog     = "log"
	SinkWebhook = "webhook"
)

// Config is the root configuration structure for flightwatch.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// Port is the HTTP server port. Defaults to 8080.
	Port int `yaml:"port"`

	// PollInterval is the time between polls of feeds without their own
	// interval. Accepts duration strings like "10s", "1m". Defaults to 30s.
	PollInterval Duration `yaml:"poll_interval"`

	// MaxConcurrency limits concurrent feed fetches and parallel flight
	// ingestion. Defaults to 10.
	MaxConcurrency int `yaml:"max_concurrency"`

	// Feeds defines the upstream snapshot feeds. May be empty when all
	// snapshots are pushed through the API.
	Feeds []FeedConfig `yaml:"feeds"`

	Store         StoreConfig          `yaml:"store"`
	Diff          DiffConfig           `yaml:"diff"`
	Delivery      DeliveryConfig       `yaml:"delivery"`
	Sink          SinkConfig           `yaml:"sink"`
	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`
}

// FeedConfig defines a single upstream feed.
type FeedConfig struct {
	// Name identifies the feed in logs.
	Name string `yaml:"name"`

	// URL is the feed URL.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	URL string `yaml:"url"`

	// Timeout is the request timeout. Defaults to 10s.
	Timeout Duration `yaml:"timeout"`

	// Headers are custom HTTP headers sent with each request.
	// Values support environment variable substitution.
	Headers map[string]string `yaml:"headers"`

	// Interval is the custom polling interval for this feed.
	// If not specified, uses the global poll_interval.
	// Must be between 1s and 1h.
	Interval Duration `yaml:"interval"`
}

// StoreConfig selects where last known flight state lives.
type StoreConfig struct {
	// Driver is "memory" (default) or "sqlite".
	Driver string `yaml:"driver"`

	// Path is the SQLite database file. Required for the sqlite driver.
	// Supports environment variable substitution.
	Path string `yaml:"path"`
}

// DiffConfig tunes change classification.
type DiffConfig struct {
	// TimeThreshold is the smallest time shift that is Actionable.
	// Defaults to 5m.
	TimeThreshold *Duration `yaml:"time_threshold"`
}

// DeliveryConfig tunes the notification worker pool. Zero values take the
// engine defaults.
type DeliveryConfig struct {
	Workers       int       `yaml:"workers"`
	QueueSize     int       `yaml:"queue_size"`
	MaxAttempts   int       `yaml:"max_attempts"`
	BaseDelay     Duration  `yaml:"base_delay"`
	MaxDelay      Duration  `yaml:"max_delay"`
	SendTimeout   Duration  `yaml:"send_timeout"`
	ShutdownGrace *Duration `yaml:"shutdown_grace"`
}

// SinkConfig selects the push transport.
type SinkConfig struct {
	// Type is "log" (default) or "webhook".
	Type string `yaml:"type"`

	// Headers are sent with every webhook request.
	// Values support environment variable substitution.
	Headers map[string]string `yaml:"headers"`
}

// SubscriptionConfig is a subscription registered at startup.
type SubscriptionConfig struct {
	FlightID string `yaml:"flight_id"`

	// Endpoint identifies the subscriber; a URL for the webhook sink.
	// Supports environment variable substitution.
	Endpoint string `yaml:"endpoint"`

	// Fields limits the subscription to these fields. Empty means every
	// Actionable change.
	Fields []string `yaml:"fields"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// already have an error, skip processing
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// expandHeaders expands environment variables in every header value.
func expandHeaders(headers map[string]string, context string) error {
	for k, v := range headers {
		expanded, err := expandEnvVars(v)
		if err != nil {
			return fmt.Errorf("%s: headers[%s]: %w", context, k, err)
		}
		headers[k] = expanded
	}
	return nil
}

// Load reads and parses a YAML configuration file.
//
// Environment variables in the file are expanded before parsing.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in feed URLs, header values, the
// store path and subscription endpoints. Defaults are applied for Port
// (8080), PollInterval (30s), MaxConcurrency (10), the store driver
// (memory), the sink type (log) and the time threshold (5m).
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = Duration(defaultPollInterval)
	}
	if cfg.MaxConcurrency == 0 {
		cfg.MaxConcurrency = defaultMaxConcurrency
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = StoreMemory
	}
	if cfg.Sink.Type == "" {
		cfg.Sink.Type = SinkLog
	}
	if cfg.Diff.TimeThreshold == nil {
		d := Duration(defaultTimeThreshold)
		cfg.Diff.TimeThreshold = &d
	}

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.PollInterval.Duration() < minPollInterval {
		return fmt.Errorf("poll_interval must be at least %s, got %s", minPollInterval, c.PollInterval.Duration())
	}
	if c.MaxConcurrency < 0 {
		return fmt.Errorf("max_concurrency cannot be negative, got %d", c.MaxConcurrency)
	}

	if err := c.validateFeeds(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if c.Diff.TimeThreshold.Duration() < 0 {
		return fmt.Errorf("diff.time_threshold cannot be negative, got %s", c.Diff.TimeThreshold.Duration())
	}
	if err := c.validateDelivery(); err != nil {
		return err
	}

	switch c.Sink.Type {
	case SinkLog, SinkWebhook:
	default:
		return fmt.Errorf("sink.type must be %q or %q, got %q", SinkLog, SinkWebhook, c.Sink.Type)
	}
	if err := expandHeaders(c.Sink.Headers, "sink"); err != nil {
		return err
	}

	return c.validateSubscriptions()
}

func (c *Config) validateFeeds() error {
	seen := make(map[string]bool, len(c.Feeds))
	for i := range c.Feeds {
		f := &c.Feeds[i]

		if f.Name == "" {
			return fmt.Errorf("feeds[%d]: name is required", i)
		}
		if seen[f.Name] {
			return fmt.Errorf("feeds[%d]: duplicate feed name %q", i, f.Name)
		}
		seen[f.Name] = true

		if f.URL == "" {
			return fmt.Errorf("feeds[%d] (%s): url is required", i, f.Name)
		}
		expanded, err := expandEnvVars(f.URL)
		if err != nil {
			return fmt.Errorf("feeds[%d] (%s): url: %w", i, f.Name, err)
		}
		f.URL = expanded

		if err := validateHTTPURL(f.URL); err != nil {
			return fmt.Errorf("feeds[%d] (%s): %w", i, f.Name, err)
		}

		if err := expandHeaders(f.Headers, fmt.Sprintf("feeds[%d] (%s)", i, f.Name)); err != nil {
			return err
		}

		if f.Timeout != 0 && f.Timeout.Duration() < time.Second {
			return fmt.Errorf("feeds[%d] (%s): timeout must be at least 1s if specified, got %s",
				i, f.Name, f.Timeout.Duration())
		}

		if f.Interval != 0 {
			if f.Interval.Duration() < time.Second {
				return fmt.Errorf("feeds[%d] (%s): interval must be at least 1s, got %s",
					i, f.Name, f.Interval.Duration())
			}
			if f.Interval.Duration() > time.Hour {
				return fmt.Errorf("feeds[%d] (%s): interval must not exceed 1h, got %s",
					i, f.Name, f.Interval.Duration())
			}
		}
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Driver {
	case StoreMemory:
		return nil
	case StoreSQLite:
		if c.Store.Path == "" {
			return errors.New("store.path is required for the sqlite driver")
		}
		expanded, err := expandEnvVars(c.Store.Path)
		if err != nil {
			return fmt.Errorf("store.path: %w", err)
		}
		c.Store.Path = expanded
		return nil
	default:
		return fmt.Errorf("store.driver must be %q or %q, got %q", StoreMemory, StoreSQLite, c.Store.Driver)
	}
}

func (c *Config) validateDelivery() error {
	d := c.Delivery
	if d.Workers < 0 || d.QueueSize < 0 || d.MaxAttempts < 0 {
		return errors.New("delivery: workers, queue_size and max_attempts cannot be negative")
	}
	if d.BaseDelay < 0 || d.MaxDelay < 0 || d.SendTimeout < 0 {
		return errors.New("delivery: delays and send_timeout cannot be negative")
	}
	if d.BaseDelay != 0 && d.MaxDelay != 0 && d.MaxDelay < d.BaseDelay {
		return fmt.Errorf("delivery.max_delay %s is below base_delay %s",
			d.MaxDelay.Duration(), d.BaseDelay.Duration())
	}
	if d.ShutdownGrace != nil && d.ShutdownGrace.Duration() < 0 {
		return fmt.Errorf("delivery.shutdown_grace cannot be negative, got %s", d.ShutdownGrace.Duration())
	}
	return nil
}

func (c *Config) validateSubscriptions() error {
	for i := range c.Subscriptions {
		s := &c.Subscriptions[i]

		id, err := expandEnvVars(s.FlightID)
		if err != nil {
			return fmt.Errorf("subscriptions[%d]: flight_id: %w", i, err)
		}
		s.FlightID = id

		if s.FlightID == "" {
			return fmt.Errorf("subscriptions[%d]: flight_id is required", i)
		}
		if s.Endpoint == "" {
			return fmt.Errorf("subscriptions[%d] (%s): endpoint is required", i, s.FlightID)
		}
		expanded, err := expandEnvVars(s.Endpoint)
		if err != nil {
			return fmt.Errorf("subscriptions[%d] (%s): endpoint: %w", i, s.FlightID, err)
		}
		s.Endpoint = expanded

		if c.Sink.Type == SinkWebhook {
			if err := validateHTTPURL(s.Endpoint); err != nil {
				return fmt.Errorf("subscriptions[%d] (%s): endpoint %w", i, s.FlightID, err)
			}
		}

		for _, f := range s.Fields {
			if !flightwatch.Field(f).Valid() {
				return fmt.Errorf("subscriptions[%d] (%s): unknown field %q", i, s.FlightID, f)
			}
		}
	}
	return nil
}

func validateHTTPURL(raw string) error {
	parsedURL, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if parsedURL.Scheme == "" {
		return errors.New("url must have a scheme (http:// or https://)")
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", parsedURL.Scheme)
	}
	return nil
}
