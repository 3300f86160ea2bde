package flight

import "time"

// Classification controls whether a change event notifies subscribers by
// default.
type Classification string

const (
	// Informational events are only delivered to subscribers whose filter
	// names the field explicitly.
	Informational Classification = "informational"

	// Actionable events are delivered to every subscriber whose filter
	// accepts the field.
	Actionable Classification = "actionable"
)

// ChangeEvent is one field transition between two snapshots of strictly
// increasing revision.
type ChangeEvent struct {
	FlightID string `json:"flight_id"`
	Field    Field  `json:"field"`
	Previous string `json:"previous"`
	Current  string `json:"current"`

	// Delta is the signed shift of a time field. Zero for other fields and
	// for time fields that became known or unknown.
	Delta time.Duration `json:"delta,omitempty"`

	// Revision is the revision of the snapshot that produced the event.
	Revision int64 `json:"revision"`

	// OccurredAt is the ObservedAt of the producing snapshot. Every event
	// from the same snapshot carries the same value.
	OccurredAt time.Time `json:"occurred_at"`

	Class Classification `json:"class"`
}

// Actionable reports whether the event is classified Actionable.
func (e ChangeEvent) Actionable() bool {
	return e.Class == Actionable
}
