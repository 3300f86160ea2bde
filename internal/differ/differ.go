// Package differ computes the typed change events between two snapshots of
// the same flight.
//
// The differ is pure: it reads nothing but its arguments and never touches
// storage. Whether a change is Actionable or Informational is decided by a
// [Policy].
package differ

import (
	"errors"
	"fmt"
	"time"

	"github.com/jpalmerr/flightwatch/internal/flight"
)

// DefaultTimeThreshold is the shift below which a time-field change is
// Informational.
const DefaultTimeThreshold = 5 * time.Minute

var (
	// ErrStaleSnapshot is returned when the incoming revision is not newer
	// than the stored one. Callers treat it as "ignored", not as a failure.
	ErrStaleSnapshot = errors.New("stale snapshot")

	// ErrFlightMismatch is returned when the two snapshots describe
	// different flights.
	ErrFlightMismatch = errors.New("snapshots belong to different flights")
)

// Policy decides how meaningful each change is.
type Policy struct {
	// TimeThreshold is the minimum absolute shift of a time field for the
	// change to be Actionable. Zero means every shift is Actionable.
	TimeThreshold time.Duration
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{TimeThreshold: DefaultTimeThreshold}
}

// Differ compares snapshots under a fixed [Policy].
type Differ struct {
	policy Policy
}

// New creates a [Differ]. A negative threshold is treated as zero.
func New(policy Policy) *Differ {
	if policy.TimeThreshold < 0 {
		policy.TimeThreshold = 0
	}
	return &Differ{policy: policy}
}

// Policy returns the differ's policy.
func (d *Differ) Policy() Policy {
	return d.policy
}

// Diff returns the change events between previous and current, in canonical
// field order.
//
// A nil previous is a first sighting and yields no events. When
// current.Revision <= previous.Revision the result is empty and the error
// is [ErrStaleSnapshot].
func (d *Differ) Diff(previous *flight.Snapshot, current flight.Snapshot) ([]flight.ChangeEvent, error) {
	if previous == nil {
		return nil, nil
	}
	if previous.ID != current.ID {
		return nil, fmt.Errorf("%w: %q vs %q", ErrFlightMismatch, previous.ID, current.ID)
	}
	if current.Revision <= previous.Revision {
		return nil, fmt.Errorf("%w: %s revision %d <= %d",
			ErrStaleSnapshot, current.ID, current.Revision, previous.Revision)
	}

	var events []flight.ChangeEvent
	for _, field := range flight.Fields {
		ev, changed := d.compare(field, *previous, current)
		if !changed {
			continue
		}
		ev.FlightID = current.ID
		ev.Field = field
		ev.Revision = current.Revision
		ev.OccurredAt = current.ObservedAt
		events = append(events, ev)
	}
	return events, nil
}

// compare fills Previous, Current, Delta and Class for a single field.
func (d *Differ) compare(field flight.Field, prev, cur flight.Snapshot) (flight.ChangeEvent, bool) {
	switch field.Kind() {
	case flight.KindTime:
		return d.compareTime(field, prev, cur)
	case flight.KindStatus, flight.KindLocation:
		before, after := prev.Text(field), cur.Text(field)
		if before == after {
			return flight.ChangeEvent{}, false
		}
		return flight.ChangeEvent{
			Previous: before,
			Current:  after,
			Class:    flight.Actionable,
		}, true
	default:
		return flight.ChangeEvent{}, false
	}
}

func (d *Differ) compareTime(field flight.Field, prev, cur flight.Snapshot) (flight.ChangeEvent, bool) {
	before, after := prev.Time(field), cur.Time(field)
	if before.Equal(after) {
		return flight.ChangeEvent{}, false
	}

	ev := flight.ChangeEvent{
		Previous: flight.FormatTime(before),
		Current:  flight.FormatTime(after),
		Class:    flight.Actionable,
	}

	// a time appearing or disappearing is always worth telling
	if before.IsZero() || after.IsZero() {
		return ev, true
	}

	ev.Delta = after.Sub(before)
	if abs(ev.Delta) < d.policy.TimeThreshold {
		ev.Class = flight.Informational
	}
	return ev, true
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
