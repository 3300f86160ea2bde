package flightwatch

import (
	"context"

	"github.com/jpalmerr/flightwatch/internal/delivery"
	"github.com/jpalmerr/flightwatch/internal/flight"
	"github.com/jpalmerr/flightwatch/internal/ingest"
	"github.com/jpalmerr/flightwatch/internal/subscription"
)

var (
	// ErrInvalidSnapshot is returned by [Engine.Ingest] for a snapshot that
	// fails validation.
	ErrInvalidSnapshot = ingest.ErrInvalidSnapshot

	// ErrInvalidSubscription is returned by [Engine.Subscribe] for a
	// subscription without a flight or endpoint, or with an unknown field.
	ErrInvalidSubscription = subscription.ErrInvalidSubscription
)

// Snapshot is one observation of a flight's state at a source revision.
type Snapshot = flight.Snapshot

// Status is the operational state of a flight.
type Status = flight.Status

const (
	StatusScheduled = flight.StatusScheduled
	StatusBoarding  = flight.StatusBoarding
	StatusDeparted  = flight.StatusDeparted
	StatusInAir     = flight.StatusInAir
	StatusDelayed   = flight.StatusDelayed
	StatusDiverted  = flight.StatusDiverted
	StatusLanded    = flight.StatusLanded
	StatusCancelled = flight.StatusCancelled
)

// Field names one tracked attribute of a [Snapshot].
type Field = flight.Field

const (
	FieldStatus             = flight.FieldStatus
	FieldScheduledDeparture = flight.FieldScheduledDeparture
	FieldEstimatedDeparture = flight.FieldEstimatedDeparture
	FieldActualDeparture    = flight.FieldActualDeparture
	FieldScheduledArrival   = flight.FieldScheduledArrival
	FieldEstimatedArrival   = flight.FieldEstimatedArrival
	FieldActualArrival      = flight.FieldActualArrival
	FieldGate               = flight.FieldGate
	FieldTerminal           = flight.FieldTerminal
)

// ChangeEvent is one field transition between two snapshots.
type ChangeEvent = flight.ChangeEvent

// Classification is Informational or Actionable.
type Classification = flight.Classification

const (
	Informational = flight.Informational
	Actionable    = flight.Actionable
)

// Subscription binds a subscriber endpoint to a flight, optionally limited
// to a set of fields.
type Subscription = flight.Subscription

// Failure describes a notification that could not be delivered.
type Failure = delivery.Failure

// FailureReason says why a notification failed.
type FailureReason = delivery.FailureReason

const (
	ReasonPermanent = delivery.ReasonPermanent
	ReasonExhausted = delivery.ReasonExhausted
	ReasonShutdown  = delivery.ReasonShutdown
)

// DeliveryStats is a point-in-time view of the delivery pool.
type DeliveryStats = delivery.Stats

// IngestResult reports what one ingestion cycle did.
type IngestResult = ingest.Result

// Sink delivers one change event to one subscriber endpoint.
//
// Send returning nil means the notification was delivered. Errors wrapped
// with [Permanent] fail the notification immediately; any other error is
// retried with exponential backoff. Send must honour ctx.
type Sink interface {
	Send(ctx context.Context, endpoint string, event ChangeEvent) error
}

// Permanent marks a sink error as not worth retrying, for example an
// endpoint that no longer exists.
func Permanent(err error) error {
	return delivery.Permanent(err)
}

// StateStore persists the last known snapshot of every flight. It must be
// safe for concurrent use.
type StateStore interface {
	Get(ctx context.Context, flightID string) (Snapshot, bool, error)
	Put(ctx context.Context, snapshot Snapshot) error
	All(ctx context.Context) ([]Snapshot, error)
	Close() error
}
