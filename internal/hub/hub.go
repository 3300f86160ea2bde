// Package hub broadcasts change events to in-process listeners such as the
// server's live event stream.
//
// The hub is not part of the delivery path: listeners get a best-effort
// copy of every change event and a slow listener loses events rather than
// slowing ingestion down. Reliable per-subscriber delivery is the job of the
// delivery pool.
package hub

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/jpalmerr/flightwatch/internal/flight"
)

// DefaultBuffer is the channel buffer given to each listener.
const DefaultBuffer = 100

// Hub fans change events out to listener channels.
//
// Events are sent non-blocking; if a listener's buffer is full the event is
// dropped for that listener and counted in [Hub.Dropped].
type Hub struct {
	mu        sync.RWMutex
	listeners map[chan flight.ChangeEvent]listener
	dropped   atomic.Uint64
}

type listener struct {
	// flights limits the listener to these flights; empty means all
	flights []string
}

// New creates an empty [Hub].
func New() *Hub {
	return &Hub{
		listeners: make(map[chan flight.ChangeEvent]listener),
	}
}

// Subscribe registers a listener and returns its channel. When flightIDs are
// given only events for those flights are sent.
//
// Caller must call [Hub.Unsubscribe] when done.
func (h *Hub) Subscribe(flightIDs ...string) <-chan flight.ChangeEvent {
	ch := make(chan flight.ChangeEvent, DefaultBuffer)

	h.mu.Lock()
	h.listeners[ch] = listener{flights: slices.Clone(flightIDs)}
	h.mu.Unlock()

	return ch
}

// Unsubscribe removes a listener and closes its channel. Safe to call more
// than once or with an unknown channel.
func (h *Hub) Unsubscribe(ch <-chan flight.ChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.listeners {
		if c == ch {
			delete(h.listeners, c)
			close(c)
			return
		}
	}
}

// Publish sends events to every interested listener in order.
func (h *Hub) Publish(events ...flight.ChangeEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, e := range events {
		for ch, l := range h.listeners {
			if len(l.flights) > 0 && !slices.Contains(l.flights, e.FlightID) {
				continue
			}
			select {
			case ch <- e:
			default:
				// listener is slow, drop the event
				h.dropped.Add(1)
			}
		}
	}
}

// Listeners returns the number of registered listeners.
func (h *Hub) Listeners() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

// Dropped returns how many events were dropped for slow listeners.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}
