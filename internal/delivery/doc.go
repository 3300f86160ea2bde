// Package delivery implements the worker pool that pushes change
// notifications to subscriber endpoints.
//
// The main components are:
//
//   - [Task]: one change event bound for one subscriber endpoint
//   - [Pool]: bounded worker pool with retry, backoff and per-pair ordering
//   - [Sink]: the push transport contract
//   - [Reporter]: the observability contract for delivered, retried and
//     failed tasks
//   - [Collector]: Prometheus metrics reporter
//
// Each task moves through Pending, InFlight and then Delivered, Retrying or
// Failed. A retrying task goes back to Pending once its backoff delay has
// passed. Tasks for the same (flight, endpoint) pair form a lane: only the
// head of a lane is ever eligible, so a later task never overtakes an earlier
// one that is in flight or waiting to be retried.
package delivery
