package flightwatch

import (
	"errors"
	"net/url"
	"time"
)

const defaultFeedTimeout = 10 * time.Second

// FeedDecoder turns an upstream response body into snapshots. Use it for
// feeds whose payload is not a JSON array of snapshots or an object with a
// "flights" array.
type FeedDecoder func(body []byte) ([]Snapshot, error)

// Feed is an upstream source of flight snapshots, polled over HTTP GET.
//
// Feed is immutable after creation via [NewFeed]. Getters return copies of
// mutable data.
type Feed struct {
	name     string
	url      string
	headers  map[string]string
	timeout  time.Duration
	decoder  FeedDecoder
	interval time.Duration
}

// Name returns the feed's identifier used in logs.
func (f Feed) Name() string {
	return f.name
}

// URL returns the URL that is polled.
func (f Feed) URL() string {
	return f.url
}

// Headers returns a copy of the custom HTTP headers sent with every poll.
func (f Feed) Headers() map[string]string {
	return copyMap(f.headers)
}

// Timeout returns the per-request timeout. Defaults to 10 seconds.
func (f Feed) Timeout() time.Duration {
	return f.timeout
}

// Interval returns the feed's own polling interval, or 0 when the engine's
// interval applies.
func (f Feed) Interval() time.Duration {
	return f.interval
}

// NewFeed creates a [Feed] with the given name, URL, and options.
//
// The rawURL must be an absolute http:// or https:// URL. The response body
// is expected to be a JSON array of snapshots, or an object with a
// "flights" array, unless [WithDecoder] says otherwise.
//
// Example:
//
//	feed, err := flightwatch.NewFeed("heathrow", "https://feeds.example.com/lhr.json",
//	    flightwatch.WithHeaders("Authorization", "Bearer token"),
//	    flightwatch.WithInterval(15 * time.Second),
//	)
func NewFeed(name, rawURL string, opts ...FeedOption) (Feed, error) {
	if name == "" {
		return Feed{}, errors.New("feed name cannot be empty")
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return Feed{}, errors.New("invalid URL: " + err.Error())
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return Feed{}, errors.New("URL must have a scheme (http:// or https://)")
	}

	cfg := &feedConfig{
		headers: make(map[string]string),
		timeout: defaultFeedTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return Feed{}, err
		}
	}

	return Feed{
		name:     name,
		url:      rawURL,
		headers:  cfg.headers,
		timeout:  cfg.timeout,
		decoder:  cfg.decoder,
		interval: cfg.interval,
	}, nil
}

// feedConfig holds mutable state during feed construction.
type feedConfig struct {
	headers  map[string]string
	timeout  time.Duration
	decoder  FeedDecoder
	interval time.Duration
}

// FeedOption configures a [Feed] during construction. Options return an
// error if validation fails.
type FeedOption func(*feedConfig) error

// WithHeaders adds custom HTTP headers to poll requests for this feed.
//
// Accepts variadic key-value pairs. Returns an error if an odd number of
// arguments is provided.
func WithHeaders(keyValues ...string) FeedOption {
	return func(cfg *feedConfig) error {
		if len(keyValues)%2 != 0 {
			return errors.New("WithHeaders requires an even number of arguments (key-value pairs)")
		}
		for i := 0; i < len(keyValues); i += 2 {
			cfg.headers[keyValues[i]] = keyValues[i+1]
		}
		return nil
	}
}

// WithTimeout sets the HTTP request timeout for this feed.
//
// Returns an error if the duration is zero or negative.
func WithTimeout(d time.Duration) FeedOption {
	return func(cfg *feedConfig) error {
		if d <= 0 {
			return errors.New("timeout must be positive")
		}
		cfg.timeout = d
		return nil
	}
}

// WithDecoder sets a custom [FeedDecoder] for this feed.
//
// Decoders run inside a panic recovery boundary; a panicking decoder fails
// that poll with an error carrying a correlation ID.
func WithDecoder(d FeedDecoder) FeedOption {
	return func(cfg *feedConfig) error {
		cfg.decoder = d
		return nil
	}
}

// WithInterval sets a custom polling interval for this feed.
//
// The interval must be at least 1 second and at most 1 hour. If not set,
// the feed uses the interval configured via [WithPollingInterval].
func WithInterval(d time.Duration) FeedOption {
	return func(cfg *feedConfig) error {
		if d < time.Second {
			return errors.New("interval must be at least 1 second")
		}
		if d > time.Hour {
			return errors.New("interval must not exceed 1 hour")
		}
		cfg.interval = d
		return nil
	}
}

// copyMap returns a shallow copy of the map.
func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
