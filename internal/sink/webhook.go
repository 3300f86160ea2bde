package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/jpalmerr/flightwatch/internal/delivery"
	"github.com/jpalmerr/flightwatch/internal/flight"
)

// connection pooling limits shared by every subscriber endpoint
const (
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 10
	defaultIdleConnTimeout     = 60 * time.Second
)

// maxErrorBodySize bounds how much of a failed response is kept for logs.
const maxErrorBodySize = 512

// StatusError is returned when an endpoint answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("endpoint returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("endpoint returned HTTP %d: %s", e.StatusCode, e.Body)
}

// Webhook delivers notifications by POSTing JSON to the endpoint URL.
//
// Outcomes are classified as:
//   - 2xx: success
//   - 408, 429, 5xx, network errors and timeouts: retryable
//   - any other status, or an endpoint that is not an absolute http(s) URL:
//     permanent
//
// Timeouts come from the caller's context.
type Webhook struct {
	httpClient *http.Client
	headers    map[string]string
	logger     *slog.Logger
}

// WebhookOption configures a [Webhook].
type WebhookOption func(*Webhook)

// WithHeaders sets headers sent with every request, for example an
// Authorization token shared by all endpoints.
func WithHeaders(headers map[string]string) WebhookOption {
	return func(w *Webhook) {
		w.headers = make(map[string]string, len(headers))
		for k, v := range headers {
			w.headers[k] = v
		}
	}
}

// WithHTTPClient replaces the default pooled client.
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(w *Webhook) {
		if c != nil {
			w.httpClient = c
		}
	}
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(logger *slog.Logger) WebhookOption {
	return func(w *Webhook) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWebhook creates a [Webhook] sink.
func NewWebhook(opts ...WebhookOption) *Webhook {
	w := &Webhook{
		httpClient: &http.Client{
			// per-request timeouts come from the send context
			Transport: &http.Transport{
				MaxIdleConns:        defaultMaxIdleConns,
				MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
				MaxConnsPerHost:     defaultMaxConnsPerHost,
				IdleConnTimeout:     defaultIdleConnTimeout,
			},
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Send implements delivery.Sink.
func (w *Webhook) Send(ctx context.Context, endpoint string, event flight.ChangeEvent) error {
	if err := validateEndpoint(endpoint); err != nil {
		return delivery.Permanent(err)
	}

	payload, err := json.Marshal(NewNotification(event))
	if err != nil {
		return delivery.Permanent(fmt.Errorf("encoding notification: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return delivery.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "flightwatch")
	for key, value := range w.headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := w.httpClient.Do(req)
	if err != nil {
		// network failures and context expiry are both transient
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	// drain the rest so the connection can be reused
	_, _ = io.Copy(io.Discard, resp.Body)

	w.logger.Debug("webhook response",
		"endpoint", endpoint,
		"status_code", resp.StatusCode,
		"latency_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	statusErr := &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
	if retryableStatus(resp.StatusCode) {
		return statusErr
	}
	return delivery.Permanent(statusErr)
}

// Close releases idle connections.
func (w *Webhook) Close() {
	if transport, ok := w.httpClient.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}

func retryableStatus(code int) bool {
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		code >= 500
}

func validateEndpoint(endpoint string) error {
	if endpoint == "" {
		return errors.New("endpoint is empty")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid endpoint %q: scheme must be http or https", endpoint)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid endpoint %q: missing host", endpoint)
	}
	return nil
}
