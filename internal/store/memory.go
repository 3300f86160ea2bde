package store

import (
	"context"
	"sync"

	"github.com/jpalmerr/flightwatch/internal/flight"
)

// defaultShards is the number of independent partitions of a MemoryStore.
const defaultShards = 64

// MemoryStore is an in-memory implementation of [StateStore].
//
// Snapshots are partitioned across shards by flight identifier; each shard
// has its own lock, so writes to flights in different shards never wait on
// each other and reads only contend with writes to the same shard.
type MemoryStore struct {
	shards []memoryShard
}

type memoryShard struct {
	mu        sync.RWMutex
	snapshots map[string]flight.Snapshot
}

// NewMemoryStore creates a new in-memory [StateStore].
//
// The store is immediately ready for use. No cleanup is required when done.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{shards: make([]memoryShard, defaultShards)}
	for i := range m.shards {
		m.shards[i].snapshots = make(map[string]flight.Snapshot)
	}
	return m
}

func (m *MemoryStore) shard(flightID string) *memoryShard {
	return &m.shards[shardFor(flightID, len(m.shards))]
}

// Get returns the stored snapshot for flightID.
func (m *MemoryStore) Get(_ context.Context, flightID string) (flight.Snapshot, bool, error) {
	sh := m.shard(flightID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	snap, ok := sh.snapshots[flightID]
	return snap, ok, nil
}

// Put stores a snapshot, replacing the previous value for the same flight.
func (m *MemoryStore) Put(_ context.Context, snapshot flight.Snapshot) error {
	sh := m.shard(snapshot.ID)
	sh.mu.Lock()
	sh.snapshots[snapshot.ID] = snapshot
	sh.mu.Unlock()
	return nil
}

// All returns a copy of every stored snapshot.
//
// Shards are read one at a time, so the result is not an atomic view across
// all flights. Order is not guaranteed.
func (m *MemoryStore) All(_ context.Context) ([]flight.Snapshot, error) {
	var results []flight.Snapshot
	for i := range m.shards {
		sh := &m.shards[i]
		sh.mu.RLock()
		for _, snap := range sh.snapshots {
			results = append(results, snap)
		}
		sh.mu.RUnlock()
	}
	return results, nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}
