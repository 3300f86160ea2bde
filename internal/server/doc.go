// Package server provides the HTTP surface of flightwatch.
//
// Routes:
//
//   - GET /api/flights: last known snapshot of every flight
//   - GET /api/flights/{id}: one flight, 404 when unknown
//   - GET /api/flights/{id}/subscriptions: subscribers of a flight
//   - POST /api/snapshots: push ingestion of one snapshot or an array
//   - POST /api/subscriptions: subscribe an endpoint to a flight
//   - DELETE /api/subscriptions: unsubscribe (flight_id and endpoint query)
//   - POST /api/feeds/refresh: poll every upstream feed now
//   - GET /api/events: Server-Sent Events stream of change events
//   - GET /metrics: Prometheus exposition
//   - GET /healthz: liveness
//
// The server shuts down gracefully on context cancellation, with a 5-second
// timeout for in-flight requests. It is started by the root package's
// Engine.Start and is not used directly.
package server
