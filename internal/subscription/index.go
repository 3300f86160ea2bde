// Package subscription maintains the mapping from flight identifier to the
// subscriber endpoints interested in it.
//
// Operations on different flights proceed in parallel. Operations on the same
// flight are serialized by the flight's partition lock, so concurrent
// subscribe and unsubscribe calls never lose an update to a subscriber set.
package subscription

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/jpalmerr/flightwatch/internal/flight"
)

const defaultShards = 64

// ErrInvalidSubscription is returned for subscriptions missing a flight or
// endpoint, or naming a field that is not tracked.
var ErrInvalidSubscription = errors.New("invalid subscription")

// Index is a concurrency-safe subscription index.
type Index struct {
	shards []shard
	now    func() time.Time
}

type shard struct {
	mu sync.RWMutex
	// flight id -> endpoint -> subscription
	flights map[string]map[string]flight.Subscription
}

// NewIndex creates an empty [Index].
func NewIndex() *Index {
	idx := &Index{
		shards: make([]shard, defaultShards),
		now:    time.Now,
	}
	for i := range idx.shards {
		idx.shards[i].flights = make(map[string]map[string]flight.Subscription)
	}
	return idx
}

func (idx *Index) shard(flightID string) *shard {
	return &idx.shards[xxhash.Sum64String(flightID)%uint64(len(idx.shards))]
}

// Subscribe registers endpoint for notifications about flightID.
//
// Subscribing an endpoint that is already subscribed replaces its filter and
// keeps the original creation time. A zero CreatedAt is set to now.
func (idx *Index) Subscribe(sub flight.Subscription) error {
	if sub.FlightID == "" {
		return fmt.Errorf("%w: flight id is required", ErrInvalidSubscription)
	}
	if sub.Endpoint == "" {
		return fmt.Errorf("%w: endpoint is required", ErrInvalidSubscription)
	}
	for _, f := range sub.Fields {
		if !f.Valid() {
			return fmt.Errorf("%w: unknown field %q", ErrInvalidSubscription, f)
		}
	}

	// own the filter slice so callers can't mutate it afterwards
	sub.Fields = slices.Clone(sub.Fields)

	sh := idx.shard(sub.FlightID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	subs, ok := sh.flights[sub.FlightID]
	if !ok {
		subs = make(map[string]flight.Subscription)
		sh.flights[sub.FlightID] = subs
	}

	if existing, ok := subs[sub.Endpoint]; ok {
		sub.CreatedAt = existing.CreatedAt
	} else if sub.CreatedAt.IsZero() {
		sub.CreatedAt = idx.now()
	}
	subs[sub.Endpoint] = sub
	return nil
}

// Unsubscribe removes endpoint from flightID. Removing a pair that does not
// exist is a no-op. The result reports whether anything was removed.
func (idx *Index) Unsubscribe(flightID, endpoint string) bool {
	sh := idx.shard(flightID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	subs, ok := sh.flights[flightID]
	if !ok {
		return false
	}
	if _, ok := subs[endpoint]; !ok {
		return false
	}
	delete(subs, endpoint)
	if len(subs) == 0 {
		delete(sh.flights, flightID)
	}
	return true
}

// Lookup returns the subscriptions for flightID ordered by creation time,
// then endpoint. The returned slice is a copy.
func (idx *Index) Lookup(flightID string) []flight.Subscription {
	sh := idx.shard(flightID)
	sh.mu.RLock()
	subs := sh.flights[flightID]
	result := make([]flight.Subscription, 0, len(subs))
	for _, sub := range subs {
		sub.Fields = slices.Clone(sub.Fields)
		result = append(result, sub)
	}
	sh.mu.RUnlock()

	slices.SortFunc(result, func(a, b flight.Subscription) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Endpoint, b.Endpoint)
	})
	return result
}

// Len returns the total number of subscriptions across all flights.
func (idx *Index) Len() int {
	n := 0
	for i := range idx.shards {
		sh := &idx.shards[i]
		sh.mu.RLock()
		for _, subs := range sh.flights {
			n += len(subs)
		}
		sh.mu.RUnlock()
	}
	return n
}
