// Package flight defines the data model shared by the change-detection and
// notification pipeline.
//
// The main types are:
//
//   - [Snapshot]: the complete known state of one flight at a revision
//   - [ChangeEvent]: a single field transition between two snapshots
//   - [Subscription]: a subscriber endpoint interested in a flight
//
// Snapshots and change events are values. Once constructed they are never
// mutated; every stage of the pipeline passes copies.
package flight
