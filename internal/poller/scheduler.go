package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jpalmerr/flightwatch/internal/flight"
)

// FeedResult holds the outcome of fetching a single feed.
type FeedResult struct {
	// Feed is the name of the polled feed.
	Feed string

	// URL is the feed URL that was fetched.
	URL string

	// Snapshots are the decoded snapshots, in feed order. Empty when Error
	// is set.
	Snapshots []flight.Snapshot

	// StatusCode is the HTTP status code returned by the feed.
	StatusCode int

	// Latency is the time taken to complete the HTTP request.
	Latency time.Duration

	// FetchedAt is when the fetch completed.
	FetchedAt time.Time

	// NotModified is set when the feed answered a conditional request
	// with 304; Snapshots is then empty.
	NotModified bool

	// Error is set when the fetch, the HTTP status or decoding failed.
	Error error
}

// FeedInfo contains the configuration needed to poll a single feed.
type FeedInfo struct {
	// Name identifies the feed in logs and results.
	Name string

	// URL is the feed URL.
	URL string

	// Headers contains custom HTTP headers to send with requests.
	Headers map[string]string

	// Timeout is the per-request timeout duration.
	Timeout time.Duration

	// Decoder parses the body. If nil, [DecodeSnapshots] is used.
	Decoder FeedDecoder

	// Interval is the custom polling interval for this feed.
	// If 0, the scheduler's global interval is used.
	Interval time.Duration
}

// Scheduler manages periodic polling of multiple feeds.
//
// The scheduler polls all feeds immediately on start, then uses a
// tick-and-check pattern where it ticks at the GCD of all feed intervals
// and polls only feeds that are due. [Scheduler.Refresh] forces an
// immediate poll of every feed.
//
// All lifecycle methods (Start, Stop) are safe for concurrent use.
type Scheduler struct {
	feeds          []FeedInfo
	interval       time.Duration // global default interval
	maxConcurrency int
	client         *Client
	results        chan FeedResult
	refresh        chan struct{}
	logger         *slog.Logger
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup

	mu        sync.Mutex
	started   bool
	stopped   bool
	closeOnce sync.Once

	// per-feed timing for tick-and-check pattern
	lastPolledAt map[string]time.Time
	baseInterval time.Duration
}

// NewScheduler creates a new polling [Scheduler].
//
// The scheduler must be started with [Scheduler.Start] and stopped with
// [Scheduler.Stop]. Results are available via [Scheduler.Results].
func NewScheduler(feeds []FeedInfo, interval time.Duration, maxConcurrency int, logger *slog.Logger) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &Scheduler{
		feeds:          feeds,
		interval:       interval,
		maxConcurrency: maxConcurrency,
		client:         NewClient(logger),
		results:        make(chan FeedResult, len(feeds)),
		refresh:        make(chan struct{}, 1),
		logger:         logger,
	}
}

// Results returns a receive-only channel that emits [FeedResult] values.
//
// The channel is closed when the scheduler stops. Consumers should read from
// this channel until it is closed.
func (s *Scheduler) Results() <-chan FeedResult {
	return s.results
}

// Refresh asks the scheduler to poll every feed now. Requests made while a
// refresh is already pending are coalesced. A refresh requested before
// Start is served right after the initial poll.
func (s *Scheduler) Refresh() {
	select {
	case s.refresh <- struct{}{}:
	default:
	}
}

// calculateBaseInterval determines the tick interval for the scheduler.
// Uses the GCD of all feed intervals to ensure timely polling.
func (s *Scheduler) calculateBaseInterval() time.Duration {
	if len(s.feeds) == 0 {
		return s.interval
	}

	intervals := make([]time.Duration, 0, len(s.feeds))
	for _, f := range s.feeds {
		if f.Interval > 0 {
			intervals = append(intervals, f.Interval)
		} else {
			intervals = append(intervals, s.interval)
		}
	}

	result := intervals[0]
	for _, d := range intervals[1:] {
		result = gcdDuration(result, d)
	}

	// floor at 1 second to prevent CPU thrashing
	if result < time.Second {
		result = time.Second
	}

	return result
}

// gcdDuration calculates the greatest common divisor of two durations.
func gcdDuration(a, b time.Duration) time.Duration {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// Start begins the polling loop in a background goroutine.
//
// Start is non-blocking. If ctx is nil, context.Background() is used.
// Start is idempotent, and a no-op after Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.lastPolledAt = make(map[string]time.Time, len(s.feeds))
	s.baseInterval = s.calculateBaseInterval()

	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	pollCtx := s.ctx // capture under lock to avoid race
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer s.closeOnce.Do(func() { close(s.results) })

		s.pollDueFeeds(pollCtx, true)

		ticker := time.NewTicker(s.baseInterval)
		defer ticker.Stop()

		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
				s.pollDueFeeds(pollCtx, false)
			case <-s.refresh:
				s.pollDueFeeds(pollCtx, true)
			}
		}
	}()
}

// Stop halts the scheduler and waits for all goroutines to complete.
//
// Stop is idempotent and safe to call before Start. The results channel is
// closed when it returns.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		if s.cancel != nil {
			s.cancel()
		}
	}
	s.mu.Unlock()

	s.wg.Wait()

	// clean up client connections after all goroutines complete
	if s.client != nil {
		s.client.Close()
	}

	// ensure channel is closed even if Start() was never called
	s.closeOnce.Do(func() { close(s.results) })
}

// pollDueFeeds polls only feeds that are due based on their intervals.
// If immediate is true, polls all feeds regardless of timing.
//
// lastPolledAt is updated when a poll starts, so the effective interval of a
// slow feed is its configured interval plus the fetch duration.
func (s *Scheduler) pollDueFeeds(ctx context.Context, immediate bool) {
	now := time.Now()
	due := make([]FeedInfo, 0, len(s.feeds))

	s.mu.Lock()
	for _, f := range s.feeds {
		if immediate {
			due = append(due, f)
			s.lastPolledAt[f.Name] = now
			continue
		}

		interval := f.Interval
		if interval == 0 {
			interval = s.interval
		}

		lastPolled, exists := s.lastPolledAt[f.Name]
		if !exists || now.Sub(lastPolled) >= interval {
			due = append(due, f)
			s.lastPolledAt[f.Name] = now
		}
	}
	s.mu.Unlock()

	if len(due) == 0 {
		return
	}

	s.pollFeeds(ctx, due)
}

// Forget makes the next poll of the feed at url fetch it in full, so
// snapshots that could not be applied are seen again.
func (s *Scheduler) Forget(url string) {
	s.client.Forget(url)
}

// pollFeeds polls a subset of feeds concurrently, respecting maxConcurrency.
func (s *Scheduler) pollFeeds(ctx context.Context, feeds []FeedInfo) {
	jobs := make(chan FeedInfo, len(feeds))

	var wg sync.WaitGroup
	for i := 0; i < s.maxConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for f := range jobs {
				result := s.client.Fetch(ctx, f)
				select {
				case s.results <- result:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	for _, f := range feeds {
		select {
		case jobs <- f:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return
		}
	}
	close(jobs)

	wg.Wait()
}
