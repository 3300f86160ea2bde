package poller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jpalmerr/flightwatch/internal/flight"
)

// maxFeedSize caps how much of a feed body is read. A busy airport's
// departures board fits comfortably.
const maxFeedSize = 8 << 20

// connection pooling limits for many feeds on few hosts
const (
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 10
	defaultIdleConnTimeout     = 60 * time.Second
)

// ErrFeedTooLarge is returned when a feed body exceeds the size cap.
var ErrFeedTooLarge = errors.New("feed body exceeds size limit")

// validators are the cache validators a feed sent with its last full body.
type validators struct {
	etag         string
	lastModified string
}

// Client fetches and decodes snapshot feeds.
//
// The client remembers each feed's ETag and Last-Modified and revalidates
// with a conditional GET, so a feed that has not changed costs one 304 and
// no decoding. Timeouts come from each feed's [FeedInfo].
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger

	mu         sync.Mutex
	validators map[string]validators // feed URL -> validators
}

// NewClient creates a feed [Client].
func NewClient(logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        defaultMaxIdleConns,
				MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
				MaxConnsPerHost:     defaultMaxConnsPerHost,
				IdleConnTimeout:     defaultIdleConnTimeout,
			},
		},
		logger:     logger,
		validators: make(map[string]validators),
	}
}

// Fetch polls one feed and returns its decoded snapshots.
//
// Fetch always returns a [FeedResult]; transport errors, non-2xx statuses,
// oversized bodies and decoding failures are reported in its Error field.
// A 304 answer yields NotModified and no snapshots.
func (c *Client) Fetch(ctx context.Context, f FeedInfo) (result FeedResult) {
	result = FeedResult{Feed: f.Name, URL: f.URL}
	start := time.Now()
	defer func() {
		result.Latency = time.Since(start)
		result.FetchedAt = time.Now()
	}()

	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	req, err := c.newRequest(ctx, f)
	if err != nil {
		result.Error = err
		return result
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		result.Error = fmt.Errorf("request failed: %w", err)
		return result
	}
	defer func() { _ = resp.Body.Close() }()
	result.StatusCode = resp.StatusCode

	switch {
	case resp.StatusCode == http.StatusNotModified:
		result.NotModified = true
		return result
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		result.Error = fmt.Errorf("feed returned HTTP %d", resp.StatusCode)
		return result
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" && f.Decoder == nil {
		if mediaType, _, err := mime.ParseMediaType(ct); err == nil && mediaType == "text/html" {
			result.Error = fmt.Errorf("feed returned %s, want JSON", mediaType)
			return result
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize+1))
	if err != nil {
		result.Error = fmt.Errorf("failed to read feed body: %w", err)
		return result
	}
	if len(body) > maxFeedSize {
		result.Error = fmt.Errorf("%w (%d bytes)", ErrFeedTooLarge, maxFeedSize)
		return result
	}

	decoder := f.Decoder
	if decoder == nil {
		decoder = DecodeSnapshots
	}
	result.Snapshots, result.Error = c.decode(decoder, body)
	if result.Error == nil {
		// only a body we managed to use is worth revalidating against
		c.remember(f.URL, resp.Header)
	}
	return result
}

func (c *Client) newRequest(ctx context.Context, f FeedInfo) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	for key, value := range f.Headers {
		req.Header.Set(key, value)
	}

	c.mu.Lock()
	v, ok := c.validators[f.URL]
	c.mu.Unlock()
	if ok {
		if v.etag != "" {
			req.Header.Set("If-None-Match", v.etag)
		}
		if v.lastModified != "" {
			req.Header.Set("If-Modified-Since", v.lastModified)
		}
	}
	return req, nil
}

func (c *Client) remember(url string, h http.Header) {
	v := validators{etag: h.Get("ETag"), lastModified: h.Get("Last-Modified")}

	c.mu.Lock()
	defer c.mu.Unlock()
	if v == (validators{}) {
		delete(c.validators, url)
		return
	}
	c.validators[url] = v
}

// Forget drops the validators kept for url, so its next fetch returns the
// full feed even if it has not changed.
func (c *Client) Forget(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.validators, url)
}

// decode calls the decoder with panic recovery. A panic is logged with its
// stack under a correlation ID, and the ID is returned in the error.
func (c *Client) decode(decoder FeedDecoder, body []byte) (snaps []flight.Snapshot, err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			c.logger.Error("feed decoder panic",
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			snaps = nil
			err = fmt.Errorf("feed decoder panic (correlation_id: %s)", correlationID)
		}
	}()
	return decoder(body)
}

// Close releases idle connections. The client stays usable.
func (c *Client) Close() {
	if c == nil || c.httpClient == nil {
		return
	}
	c.httpClient.CloseIdleConnections()
}
