package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/jpalmerr/flightwatch/internal/flight"
)

// Sink is the external push transport.
//
// Send returns nil on success. An error wrapping [PermanentError] means the
// notification can never be delivered (for example an invalid endpoint) and
// must not be retried. Any other error, including the context deadline
// expiring, is retryable.
type Sink interface {
	Send(ctx context.Context, endpoint string, event flight.ChangeEvent) error
}

// SinkFunc adapts a function to the [Sink] interface.
type SinkFunc func(ctx context.Context, endpoint string, event flight.ChangeEvent) error

// Send calls f.
func (f SinkFunc) Send(ctx context.Context, endpoint string, event flight.ChangeEvent) error {
	return f(ctx, endpoint, event)
}

// PermanentError marks a sink failure that retrying cannot fix.
type PermanentError struct {
	Err error
}

// Permanent wraps err as a [PermanentError].
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Error implements the error interface.
func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent delivery error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *PermanentError) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether err is, or wraps, a [PermanentError].
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
