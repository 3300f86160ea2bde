package flightwatch

import (
	"log/slog"

	"github.com/jpalmerr/flightwatch/internal/sink"
)

// NewLogSink returns a [Sink] that logs every notification at info level
// and never fails. A nil logger uses slog.Default().
func NewLogSink(logger *slog.Logger) Sink {
	return sink.NewLog(logger)
}

// NewWebhookSink returns a [Sink] that POSTs a JSON notification to the
// subscriber endpoint, which must be an http:// or https:// URL.
//
// 2xx responses are delivered. 408, 429, 5xx and network errors are
// retried. Any other status, or an endpoint that is not a valid URL, fails
// the notification permanently.
func NewWebhookSink(headers map[string]string, logger *slog.Logger) Sink {
	opts := []sink.WebhookOption{sink.WithHeaders(headers)}
	if logger != nil {
		opts = append(opts, sink.WithLogger(logger))
	}
	return sink.NewWebhook(opts...)
}
