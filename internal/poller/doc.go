// Package poller periodically fetches flight snapshot feeds over HTTP.
//
// A feed is an upstream URL returning a JSON array of snapshots (or an
// object with a "flights" array). The [Scheduler] polls every feed
// immediately on start and then at the feed's own interval, with a bounded
// number of concurrent requests, and emits one [FeedResult] per fetch.
//
// The main components are:
//
//   - [Client]: feed fetching with conditional GET, size limit and decoding
//   - [Scheduler]: periodic polling of feeds with a worker pool
//   - [FeedResult]: decoded snapshots (or the error) of one fetch
//   - [FeedInfo]: configuration for one feed
//
// Users of the flightwatch library configure feeds through the root
// package; this package is not used directly.
package poller
