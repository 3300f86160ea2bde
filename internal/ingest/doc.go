// Package ingest runs one ingestion cycle per snapshot: read the stored
// state, diff, dispatch, then persist.
//
// Cycles for the same flight are serialized with a keyed mutex; cycles for
// different flights run fully in parallel. The stored snapshot only advances
// once every produced event has been dispatched and the write succeeded, so
// a failed cycle is simply re-diffed against the same baseline the next time
// the flight is ingested.
package ingest
