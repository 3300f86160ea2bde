package delivery

import (
	"time"

	"github.com/jpalmerr/flightwatch/internal/flight"
)

// State is the lifecycle state of a [Task].
type State string

const (
	StatePending   State = "pending"
	StateInFlight  State = "in_flight"
	StateRetrying  State = "retrying"
	StateDelivered State = "delivered"
	StateFailed    State = "failed"
)

// Task is a change event bound for one subscriber endpoint.
type Task struct {
	// ID is assigned by the pool when the task is enqueued.
	ID string

	Event    flight.ChangeEvent
	Endpoint string

	// Attempts counts sink calls made so far.
	Attempts int

	// NextAttemptAt is when the task becomes eligible again after a
	// retryable failure.
	NextAttemptAt time.Time

	EnqueuedAt time.Time
	State      State
}

// pairKey identifies the ordering lane of a task.
type pairKey struct {
	flightID string
	endpoint string
}

func (t *Task) key() pairKey {
	return pairKey{flightID: t.Event.FlightID, endpoint: t.Endpoint}
}

// FailureReason says why a task ended Failed.
type FailureReason string

const (
	// ReasonPermanent means the sink rejected the task as undeliverable.
	ReasonPermanent FailureReason = "permanent"

	// ReasonExhausted means every allowed attempt failed.
	ReasonExhausted FailureReason = "exhausted"

	// ReasonShutdown means the pool stopped before the task completed.
	ReasonShutdown FailureReason = "shutdown"
)

// Failure describes a task that ended Failed.
type Failure struct {
	Task   Task
	Reason FailureReason
	Err    error
}
