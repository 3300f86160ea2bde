package store

import (
	"context"
	"errors"

	"github.com/cespare/xxhash/v2"

	"github.com/jpalmerr/flightwatch/internal/flight"
)

var (
	// ErrWriteFailed wraps every failure to persist a snapshot. The flight's
	// known state has not advanced when this is returned.
	ErrWriteFailed = errors.New("state store write failed")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("state store closed")
)

// StateStore defines the storage contract for last-known flight state.
//
// StateStore implementations must be safe for concurrent access.
type StateStore interface {
	// Get returns the stored snapshot for flightID. The boolean is false
	// when the flight has never been stored.
	Get(ctx context.Context, flightID string) (flight.Snapshot, bool, error)

	// Put stores the snapshot under its ID, replacing any previous value.
	// Failures wrap [ErrWriteFailed].
	Put(ctx context.Context, snapshot flight.Snapshot) error

	// All returns every stored snapshot. Order is not guaranteed.
	All(ctx context.Context) ([]flight.Snapshot, error)

	// Close releases resources held by the store.
	Close() error
}

// shardFor picks a partition for a flight identifier.
func shardFor(flightID string, shards int) int {
	return int(xxhash.Sum64String(flightID) % uint64(shards))
}
