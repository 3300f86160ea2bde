package sink

import (
	"fmt"
	"strings"
	"time"

	"github.com/jpalmerr/flightwatch/internal/flight"
)

// Notification is the payload sent to a subscriber endpoint.
type Notification struct {
	Title string             `json:"title"`
	Body  string             `json:"body"`
	Event flight.ChangeEvent `json:"event"`
}

// NewNotification renders the human-readable title and body for an event.
func NewNotification(e flight.ChangeEvent) Notification {
	return Notification{
		Title: title(e),
		Body:  body(e),
		Event: e,
	}
}

func title(e flight.ChangeEvent) string {
	switch e.Field {
	case flight.FieldStatus:
		return fmt.Sprintf("%s is now %s", e.FlightID, humanize(e.Current))
	case flight.FieldGate:
		return fmt.Sprintf("%s gate change", e.FlightID)
	case flight.FieldTerminal:
		return fmt.Sprintf("%s terminal change", e.FlightID)
	default:
		return fmt.Sprintf("%s %s updated", e.FlightID, humanize(string(e.Field)))
	}
}

func body(e flight.ChangeEvent) string {
	name := humanize(string(e.Field))
	switch {
	case e.Previous == "":
		return fmt.Sprintf("%s is now %s.", capitalize(name), display(e.Field, e.Current))
	case e.Current == "":
		return fmt.Sprintf("%s is no longer known (was %s).", capitalize(name), display(e.Field, e.Previous))
	case e.Delta > 0:
		return fmt.Sprintf("%s moved later by %s to %s.", capitalize(name), e.Delta, display(e.Field, e.Current))
	case e.Delta < 0:
		return fmt.Sprintf("%s moved earlier by %s to %s.", capitalize(name), -e.Delta, display(e.Field, e.Current))
	default:
		return fmt.Sprintf("%s changed from %s to %s.", capitalize(name), display(e.Field, e.Previous), display(e.Field, e.Current))
	}
}

// display renders time values in a shorter form than the event carries.
func display(f flight.Field, value string) string {
	switch f.Kind() {
	case flight.KindTime:
		t, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return value
		}
		return t.UTC().Format("02 Jan 15:04 MST")
	case flight.KindStatus:
		return humanize(value)
	default:
		return value
	}
}

func humanize(s string) string {
	return strings.ReplaceAll(s, "_", " ")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
