package flight

import (
	"errors"
	"fmt"
	"time"
)

// Status is the operational state of a flight.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusBoarding  Status = "boarding"
	StatusDeparted  Status = "departed"
	StatusInAir     Status = "in_air"
	StatusDelayed   Status = "delayed"
	StatusDiverted  Status = "diverted"
	StatusLanded    Status = "landed"
	StatusCancelled Status = "cancelled"
)

var validStatuses = map[Status]struct{}{
	StatusScheduled: {},
	StatusBoarding:  {},
	StatusDeparted:  {},
	StatusInAir:     {},
	StatusDelayed:   {},
	StatusDiverted:  {},
	StatusLanded:    {},
	StatusCancelled: {},
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	_, ok := validStatuses[s]
	return ok
}

// String implements fmt.Stringer.
func (s Status) String() string {
	return string(s)
}

// Snapshot is the complete, timestamped description of one flight's known
// attributes at a given source revision.
//
// Zero time values mean the upstream source does not (yet) know the value.
type Snapshot struct {
	// ID identifies the flight leg on a given date, e.g. "BA117-2026-10-19".
	ID string `json:"id" cbor:"id"`

	// Revision increases monotonically with every upstream change.
	Revision int64 `json:"revision" cbor:"revision"`

	// ObservedAt is when the upstream source produced this snapshot.
	ObservedAt time.Time `json:"observed_at" cbor:"observed_at"`

	Status Status `json:"status" cbor:"status"`

	ScheduledDeparture time.Time `json:"scheduled_departure" cbor:"scheduled_departure"`
	EstimatedDeparture time.Time `json:"estimated_departure" cbor:"estimated_departure"`
	ActualDeparture    time.Time `json:"actual_departure" cbor:"actual_departure"`
	ScheduledArrival   time.Time `json:"scheduled_arrival" cbor:"scheduled_arrival"`
	EstimatedArrival   time.Time `json:"estimated_arrival" cbor:"estimated_arrival"`
	ActualArrival      time.Time `json:"actual_arrival" cbor:"actual_arrival"`

	Gate     string `json:"gate" cbor:"gate"`
	Terminal string `json:"terminal" cbor:"terminal"`
}

// Validate checks the snapshot is well formed enough to enter the pipeline.
func (s Snapshot) Validate() error {
	if s.ID == "" {
		return errors.New("snapshot id is required")
	}
	if s.Revision < 0 {
		return fmt.Errorf("snapshot %s: revision cannot be negative, got %d", s.ID, s.Revision)
	}
	if !s.Status.Valid() {
		return fmt.Errorf("snapshot %s: unknown status %q", s.ID, s.Status)
	}
	return nil
}

// Time returns the value of a time field. It returns the zero time for
// fields that are not time fields.
func (s Snapshot) Time(f Field) time.Time {
	switch f {
	case FieldScheduledDeparture:
		return s.ScheduledDeparture
	case FieldEstimatedDeparture:
		return s.EstimatedDeparture
	case FieldActualDeparture:
		return s.ActualDeparture
	case FieldScheduledArrival:
		return s.ScheduledArrival
	case FieldEstimatedArrival:
		return s.EstimatedArrival
	case FieldActualArrival:
		return s.ActualArrival
	default:
		return time.Time{}
	}
}

// Text returns the rendered value of a field as it appears in change events.
func (s Snapshot) Text(f Field) string {
	switch f {
	case FieldStatus:
		return string(s.Status)
	case FieldGate:
		return s.Gate
	case FieldTerminal:
		return s.Terminal
	default:
		return FormatTime(s.Time(f))
	}
}

// FormatTime renders a time field value. Unknown times render as "".
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
