package sink

import (
	"context"
	"log/slog"

	"github.com/jpalmerr/flightwatch/internal/flight"
)

// Log is a sink that writes every notification to a logger.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a [Log] sink. A nil logger uses slog.Default().
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

// Send implements delivery.Sink. It never fails.
func (l *Log) Send(ctx context.Context, endpoint string, event flight.ChangeEvent) error {
	n := NewNotification(event)
	l.logger.InfoContext(ctx, "notification",
		"endpoint", endpoint,
		"flight_id", event.FlightID,
		"field", string(event.Field),
		"class", string(event.Class),
		"revision", event.Revision,
		"title", n.Title,
		"body", n.Body,
	)
	return nil
}
