package flight

import (
	"slices"
	"time"
)

// Subscription records that an endpoint wants notifications for a flight.
type Subscription struct {
	FlightID  string    `json:"flight_id"`
	Endpoint  string    `json:"endpoint"`
	CreatedAt time.Time `json:"created_at"`

	// Fields is the optional filter. Empty means every Actionable event.
	Fields []Field `json:"fields,omitempty"`
}

// Accepts reports whether an event should be delivered to this subscriber.
//
// With an empty filter only Actionable events are accepted. A non-empty
// filter accepts events for the named fields only, and is the sole way to
// opt in to Informational events.
func (s Subscription) Accepts(e ChangeEvent) bool {
	if len(s.Fields) == 0 {
		return e.Actionable()
	}
	return slices.Contains(s.Fields, e.Field)
}
