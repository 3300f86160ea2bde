// Package store provides the StateStore: the durable mapping from flight
// identifier to its last observed snapshot.
//
// The main components are:
//
//   - [StateStore]: Interface defining the storage contract
//   - [MemoryStore]: Sharded in-memory implementation
//   - [SQLiteStore]: Durable implementation backed by SQLite
//
// Put overwrites unconditionally. Enforcing revision monotonicity is the
// caller's job (the ingest loop does it through the differ). Implementations
// must allow concurrent reads while unrelated flights are written, and writes
// to different flights must not serialize behind one another.
package store
