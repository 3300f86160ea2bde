package poller

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jpalmerr/flightwatch/internal/flight"
)

// unreachableFeed refuses connections immediately, so lifecycle tests never
// leave the machine.
const unreachableFeed = "http://127.0.0.1:1/flights.json"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestScheduler_StopBeforeStart verifies that calling Stop() on a scheduler
// that was never started does not panic and is a safe no-op.
func TestScheduler_StopBeforeStart(t *testing.T) {
	feeds := []FeedInfo{
		{Name: "test", URL: unreachableFeed, Timeout: time.Second},
	}

	scheduler := NewScheduler(feeds, time.Minute, 1, testLogger())

	// this must not panic
	scheduler.Stop()
}

// TestScheduler_StopTwice verifies that Stop() is idempotent and can be
// called multiple times without panic or deadlock.
func TestScheduler_StopTwice(t *testing.T) {
	feeds := []FeedInfo{
		{Name: "test", URL: unreachableFeed, Timeout: time.Second},
	}

	scheduler := NewScheduler(feeds, time.Minute, 1, testLogger())
	scheduler.Start(context.Background())

	// both calls must complete without panic or deadlock
	scheduler.Stop()
	scheduler.Stop()
}

// TestScheduler_StopAfterStart verifies the normal lifecycle: Start followed
// by Stop results in clean shutdown with the results channel closed.
func TestScheduler_StopAfterStart(t *testing.T) {
	feeds := []FeedInfo{
		{Name: "test", URL: unreachableFeed, Timeout: time.Second},
	}

	scheduler := NewScheduler(feeds, time.Minute, 1, testLogger())
	scheduler.Start(context.Background())

	// drain results channel to prevent blocking
	go func() {
		for range scheduler.Results() {
		}
	}()

	// give the scheduler a moment to start polling
	time.Sleep(50 * time.Millisecond)

	scheduler.Stop()

	// verify results channel is closed by reading from it
	select {
	case _, ok := <-scheduler.Results():
		if ok {
			t.Error("expected results channel to be closed after Stop()")
		}
	case <-time.After(time.Second):
		t.Error("timeout waiting for results channel to close")
	}
}

// TestScheduler_ConcurrentStartStop verifies that calling Start() and Stop()
// concurrently does not cause a race condition or panic.
// Run with: go test -race ./internal/poller/...
func TestScheduler_ConcurrentStartStop(t *testing.T) {
	feeds := []FeedInfo{
		{Name: "test", URL: unreachableFeed, Timeout: time.Second},
	}

	// run multiple iterations to increase chance of catching races
	for i := 0; i < 100; i++ {
		scheduler := NewScheduler(feeds, time.Minute, 1, testLogger())

		var wg sync.WaitGroup
		wg.Add(2)

		go func() {
			defer wg.Done()
			scheduler.Start(context.Background())
		}()

		go func() {
			defer wg.Done()
			scheduler.Stop()
		}()

		wg.Wait()

		// drain any remaining results
		for range scheduler.Results() {
		}
	}
}

// TestScheduler_ConcurrentPollAndStop verifies that polling workers don't race
// with Stop(). Run with: go test -race ./internal/poller/...
func TestScheduler_ConcurrentPollAndStop(t *testing.T) {
	feeds := []FeedInfo{
		{Name: "test1", URL: unreachableFeed, Timeout: time.Second},
		{Name: "test2", URL: unreachableFeed, Timeout: time.Second},
		{Name: "test3", URL: unreachableFeed, Timeout: time.Second},
	}

	// run multiple iterations to increase chance of catching races
	for i := 0; i < 50; i++ {
		scheduler := NewScheduler(feeds, 10*time.Millisecond, 2, testLogger())
		scheduler.Start(context.Background())

		// let it poll at least once
		time.Sleep(15 * time.Millisecond)

		// stop while polling may be active
		scheduler.Stop()

		// verify clean shutdown by draining results
		for range scheduler.Results() {
		}
	}
}

// TestScheduler_StartTwice verifies that Start() is idempotent and calling
// it multiple times does not spawn multiple polling goroutines.
func TestScheduler_StartTwice(t *testing.T) {
	feeds := []FeedInfo{
		{Name: "test", URL: unreachableFeed, Timeout: time.Second},
	}

	scheduler := NewScheduler(feeds, time.Minute, 1, testLogger())

	scheduler.Start(context.Background())
	scheduler.Start(context.Background()) // second call should be no-op

	// drain results
	go func() {
		for range scheduler.Results() {
		}
	}()

	scheduler.Stop()
}

// TestScheduler_StopBeforeStartThenStart verifies that if Stop() is called
// before Start(), a subsequent Start() call is handled gracefully.
func TestScheduler_StopBeforeStartThenStart(t *testing.T) {
	feeds := []FeedInfo{
		{Name: "test", URL: unreachableFeed, Timeout: time.Second},
	}

	scheduler := NewScheduler(feeds, time.Minute, 1, testLogger())

	scheduler.Stop()                // stop before start
	scheduler.Start(context.TODO()) // start after stop - should be no-op or handled gracefully
	scheduler.Stop()                // second stop should not panic
}

// TestScheduler_ContextCancellation verifies that cancelling the parent context
// stops the scheduler gracefully.
func TestScheduler_ContextCancellation(t *testing.T) {
	feeds := []FeedInfo{
		{Name: "test", URL: unreachableFeed, Timeout: time.Second},
	}

	ctx, cancel := context.WithCancel(context.Background())
	scheduler := NewScheduler(feeds, time.Minute, 1, testLogger())
	scheduler.Start(ctx)

	// drain results
	go func() {
		for range scheduler.Results() {
		}
	}()

	// cancel parent context
	cancel()

	// stop should complete quickly since context is already cancelled
	done := make(chan struct{})
	go func() {
		scheduler.Stop()
		close(done)
	}()

	select {
	case <-done:
		// success
	case <-time.After(2 * time.Second):
		t.Error("Stop() did not complete after parent context cancellation")
	}
}

// TestScheduler_DecodesFeed verifies a successful fetch yields the decoded
// snapshots in feed order.
func TestScheduler_DecodesFeed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"id": "BA117", "revision": 3, "status": "boarding", "gate": "B22"},
			{"id": "UA90", "revision": 8, "status": "delayed", "estimated_departure": "2024-06-01T15:10:00Z"}
		]`))
	}))
	defer server.Close()

	scheduler := NewScheduler([]FeedInfo{{Name: "lhr", URL: server.URL, Timeout: time.Second}}, time.Hour, 1, testLogger())
	scheduler.Start(context.Background())

	var result FeedResult
	select {
	case result = <-scheduler.Results():
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for poll result")
	}
	scheduler.Stop()

	if result.Error != nil {
		t.Fatalf("Error = %v, want nil", result.Error)
	}
	if result.Feed != "lhr" || result.StatusCode != http.StatusOK {
		t.Errorf("Feed = %q StatusCode = %d", result.Feed, result.StatusCode)
	}
	if len(result.Snapshots) != 2 {
		t.Fatalf("len(Snapshots) = %d, want 2", len(result.Snapshots))
	}
	if got := result.Snapshots[0]; got.ID != "BA117" || got.Revision != 3 || got.Status != flight.StatusBoarding || got.Gate != "B22" {
		t.Errorf("Snapshots[0] = %+v", got)
	}
	want := time.Date(2024, 6, 1, 15, 10, 0, 0, time.UTC)
	if got := result.Snapshots[1].EstimatedDeparture; !got.Equal(want) {
		t.Errorf("Snapshots[1].EstimatedDeparture = %v, want %v", got, want)
	}
}

// TestScheduler_HTTPErrorStatus verifies non-2xx feed responses are reported
// as errors without snapshots.
func TestScheduler_HTTPErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`[{"id": "F1", "revision": 1, "status": "landed"}]`))
	}))
	defer server.Close()

	scheduler := NewScheduler([]FeedInfo{{Name: "bad", URL: server.URL, Timeout: time.Second}}, time.Hour, 1, testLogger())
	scheduler.Start(context.Background())

	var result FeedResult
	select {
	case result = <-scheduler.Results():
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for poll result")
	}
	scheduler.Stop()

	if result.Error == nil || !strings.Contains(result.Error.Error(), "502") {
		t.Errorf("Error = %v, want HTTP 502 error", result.Error)
	}
	if len(result.Snapshots) != 0 {
		t.Errorf("len(Snapshots) = %d, want 0", len(result.Snapshots))
	}
}

// TestScheduler_DecoderPanicRecovery verifies that a panicking decoder does
// not crash the scheduler and the error carries a correlation ID.
func TestScheduler_DecoderPanicRecovery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	panicDecoder := func(body []byte) ([]flight.Snapshot, error) {
		panic("decoder panic: simulated failure")
	}

	feeds := []FeedInfo{{
		Name:    "Panic Test",
		URL:     server.URL,
		Decoder: panicDecoder,
		Timeout: time.Second,
	}}

	scheduler := NewScheduler(feeds, time.Hour, 1, testLogger())
	scheduler.Start(context.Background())

	var result FeedResult
	select {
	case result = <-scheduler.Results():
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for poll result")
	}

	scheduler.Stop()

	if result.Error == nil {
		t.Fatal("Error = nil, want error describing panic")
	}
	errMsg := result.Error.Error()
	if !strings.Contains(errMsg, "decoder panic") {
		t.Errorf("Error = %q, want to contain 'decoder panic'", errMsg)
	}
	if !strings.Contains(errMsg, "correlation_id") {
		t.Errorf("Error = %q, want to contain 'correlation_id'", errMsg)
	}
	if result.Snapshots != nil {
		t.Errorf("Snapshots = %v, want nil", result.Snapshots)
	}
}

// TestScheduler_DecoderPanicDoesNotAffectOtherFeeds verifies that a panic in
// one feed's decoder does not prevent other feeds from being polled.
func TestScheduler_DecoderPanicDoesNotAffectOtherFeeds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id": "F1", "revision": 1, "status": "scheduled"}]`))
	}))
	defer server.Close()

	feeds := []FeedInfo{
		{
			Name:    "Panicking",
			URL:     server.URL,
			Decoder: func([]byte) ([]flight.Snapshot, error) { panic(nil) },
			Timeout: time.Second,
		},
		{
			Name:    "Healthy",
			URL:     server.URL,
			Timeout: time.Second,
		},
	}

	scheduler := NewScheduler(feeds, time.Hour, 2, testLogger())
	scheduler.Start(context.Background())

	results := make(map[string]FeedResult)
	for i := 0; i < 2; i++ {
		select {
		case result := <-scheduler.Results():
			results[result.Feed] = result
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout waiting for result %d", i+1)
		}
	}

	scheduler.Stop()

	if results["Panicking"].Error == nil {
		t.Error("Panicking.Error = nil, want recovered panic")
	}
	if results["Healthy"].Error != nil {
		t.Errorf("Healthy.Error = %v, want nil", results["Healthy"].Error)
	}
	if len(results["Healthy"].Snapshots) != 1 {
		t.Errorf("len(Healthy.Snapshots) = %d, want 1", len(results["Healthy"].Snapshots))
	}
}

// TestScheduler_Refresh verifies Refresh triggers a poll well before the
// feed interval elapses.
func TestScheduler_Refresh(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("[]"))
	}))
	defer server.Close()

	scheduler := NewScheduler([]FeedInfo{{Name: "hourly", URL: server.URL, Timeout: time.Second, Interval: time.Hour}}, time.Hour, 1, testLogger())
	scheduler.Start(context.Background())
	defer scheduler.Stop()

	select {
	case <-scheduler.Results():
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for initial poll")
	}

	scheduler.Refresh()

	select {
	case result := <-scheduler.Results():
		if result.Feed != "hourly" {
			t.Errorf("Feed = %q, want %q", result.Feed, "hourly")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Refresh() did not trigger a poll")
	}
}

// TestScheduler_GCDCalculation verifies that the base tick interval is
// calculated correctly as the GCD of all feed intervals.
func TestScheduler_GCDCalculation(t *testing.T) {
	tests := []struct {
		name           string
		intervals      []time.Duration
		globalInterval time.Duration
		expectedBase   time.Duration
	}{
		{
			name:           "all same interval",
			intervals:      []time.Duration{10 * time.Second, 10 * time.Second},
			globalInterval: 10 * time.Second,
			expectedBase:   10 * time.Second,
		},
		{
			name:           "5s and 10s gives GCD of 5s",
			intervals:      []time.Duration{5 * time.Second, 10 * time.Second},
			globalInterval: 30 * time.Second,
			expectedBase:   5 * time.Second,
		},
		{
			name:           "with zero (default) uses global",
			intervals:      []time.Duration{6 * time.Second, 0}, // 0 = use global
			globalInterval: 9 * time.Second,
			expectedBase:   3 * time.Second, // GCD(6, 9) = 3
		},
		{
			name:           "all use default",
			intervals:      []time.Duration{0, 0, 0},
			globalInterval: 15 * time.Second,
			expectedBase:   15 * time.Second,
		},
		{
			name:           "co-prime intervals",
			intervals:      []time.Duration{7 * time.Second, 11 * time.Second},
			globalInterval: 30 * time.Second,
			expectedBase:   1 * time.Second, // GCD(7, 11) = 1
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			feeds := make([]FeedInfo, len(tt.intervals))
			for i, interval := range tt.intervals {
				feeds[i] = FeedInfo{
					Name:     fmt.Sprintf("feed%d", i),
					URL:      unreachableFeed,
					Timeout:  time.Second,
					Interval: interval,
				}
			}

			scheduler := NewScheduler(feeds, tt.globalInterval, 1, testLogger())
			base := scheduler.calculateBaseInterval()

			if base != tt.expectedBase {
				t.Errorf("calculateBaseInterval() = %v, want %v", base, tt.expectedBase)
			}
		})
	}
}

// TestScheduler_GCDCalculation_EmptyFeeds verifies that an empty feed
// list returns the global interval as the base.
func TestScheduler_GCDCalculation_EmptyFeeds(t *testing.T) {
	globalInterval := 20 * time.Second
	scheduler := NewScheduler([]FeedInfo{}, globalInterval, 1, testLogger())
	base := scheduler.calculateBaseInterval()

	if base != globalInterval {
		t.Errorf("calculateBaseInterval() = %v, want %v (global)", base, globalInterval)
	}
}

// TestScheduler_DefaultIntervalUsedWhenNotSpecified verifies that feeds
// without a custom interval use the global polling interval.
func TestScheduler_DefaultIntervalUsedWhenNotSpecified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("[]"))
	}))
	defer server.Close()

	// use intervals >= 1 second (the GCD floor) for realistic testing
	feeds := []FeedInfo{
		{Name: "Custom", URL: server.URL, Timeout: time.Second, Interval: 1 * time.Second},
		{Name: "Default", URL: server.URL, Timeout: time.Second, Interval: 0}, // should use global (3s)
	}

	globalInterval := 3 * time.Second
	scheduler := NewScheduler(feeds, globalInterval, 2, testLogger())
	scheduler.Start(context.Background())

	counts := make(map[string]int)
	timeout := time.After(3500 * time.Millisecond)

collecting:
	for {
		select {
		case result, ok := <-scheduler.Results():
			if !ok {
				break collecting
			}
			counts[result.Feed]++
		case <-timeout:
			break collecting
		}
	}

	scheduler.Stop()

	// Custom (1s) should poll more than Default (3s global)
	// In 3.5s: Custom ~4 polls (immediate + 3 ticks), Default ~2 polls (immediate + 1 tick)
	if counts["Custom"] <= counts["Default"] {
		t.Errorf("Custom polled %d times, Default polled %d times - Custom should poll more frequently",
			counts["Custom"], counts["Default"])
	}
}

// TestScheduler_MixedIntervals verifies that feeds with different intervals
// are polled at their respective frequencies.
func TestScheduler_MixedIntervals(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("[]"))
	}))
	defer server.Close()

	// use intervals >= 1 second (the GCD floor) for realistic testing
	feeds := []FeedInfo{
		{Name: "Fast", URL: server.URL, Timeout: time.Second, Interval: 1 * time.Second},
		{Name: "Slow", URL: server.URL, Timeout: time.Second, Interval: 3 * time.Second},
	}

	scheduler := NewScheduler(feeds, 5*time.Second, 2, testLogger())
	scheduler.Start(context.Background())

	// collect results for 3.5 seconds
	counts := make(map[string]int)
	timeout := time.After(3500 * time.Millisecond)

collecting:
	for {
		select {
		case result, ok := <-scheduler.Results():
			if !ok {
				break collecting
			}
			counts[result.Feed]++
		case <-timeout:
			break collecting
		}
	}

	scheduler.Stop()

	// Fast (1s) should poll ~4 times (immediate + 3 ticks in 3.5s)
	// Slow (3s) should poll ~2 times (immediate + 1 tick in 3.5s)
	if counts["Fast"] < 3 {
		t.Errorf("Fast feed polled %d times, expected at least 3", counts["Fast"])
	}
	if counts["Slow"] > counts["Fast"] {
		t.Errorf("Slow polled %d times, Fast polled %d times - Slow should poll less frequently",
			counts["Slow"], counts["Fast"])
	}
}

// TestScheduler_ImmediatePollOnStart verifies that all feeds are polled
// immediately when the scheduler starts, regardless of their intervals.
func TestScheduler_ImmediatePollOnStart(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("[]"))
	}))
	defer server.Close()

	feeds := []FeedInfo{
		{Name: "LongInterval", URL: server.URL, Timeout: time.Second, Interval: time.Hour}, // very long
	}

	scheduler := NewScheduler(feeds, time.Hour, 1, testLogger())
	scheduler.Start(context.Background())

	// should receive immediate poll even though interval is 1 hour
	select {
	case result := <-scheduler.Results():
		if result.Feed != "LongInterval" {
			t.Errorf("FeedName = %q, want %q", result.Feed, "LongInterval")
		}
	case <-time.After(500 * time.Millisecond):
		t.Error("timeout waiting for immediate poll result")
	}

	scheduler.Stop()
}
