package flightwatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sent struct {
	endpoint string
	event    ChangeEvent
}

// sinkFunc adapts a function to the Sink interface.
type sinkFunc func(ctx context.Context, endpoint string, event ChangeEvent) error

func (f sinkFunc) Send(ctx context.Context, endpoint string, event ChangeEvent) error {
	return f(ctx, endpoint, event)
}

// channelSink delivers every notification into a channel.
func channelSink() (Sink, <-chan sent) {
	ch := make(chan sent, 64)
	return sinkFunc(func(_ context.Context, endpoint string, event ChangeEvent) error {
		ch <- sent{endpoint: endpoint, event: event}
		return nil
	}), ch
}

// startEngine runs an engine without HTTP until the test ends.
func startEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()

	e, err := New(append([]Option{WithoutHTTP(), WithLogger(discardLogger())}, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- e.Start(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Start() returned error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Start() did not return after context cancellation")
		}
	})
	return e
}

func snap(id string, rev int64, gate string) Snapshot {
	return Snapshot{ID: id, Revision: rev, Status: StatusScheduled, Gate: gate}
}

func waitSent(t *testing.T, ch <-chan sent) sent {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for notification")
		return sent{}
	}
}

func TestEngine_IngestNotifiesSubscribers(t *testing.T) {
	sink, notifications := channelSink()
	e := startEngine(t,
		WithSink(sink),
		WithSubscription(Subscription{FlightID: "BA117", Endpoint: "device-1"}),
		WithSubscription(Subscription{FlightID: "BA117", Endpoint: "device-2", Fields: []Field{FieldTerminal}}),
	)
	ctx := context.Background()

	res, err := e.Ingest(ctx, snap("BA117", 1, "A1"))
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if len(res.Events) != 0 {
		t.Errorf("first sighting produced %d events, want 0", len(res.Events))
	}

	res, err = e.Ingest(ctx, snap("BA117", 2, "B4"))
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if res.Tasks != 1 {
		t.Errorf("Tasks = %d, want 1 (device-2 filters on terminal)", res.Tasks)
	}

	got := waitSent(t, notifications)
	if got.endpoint != "device-1" || got.event.Field != FieldGate || got.event.Current != "B4" {
		t.Errorf("notification = %+v", got)
	}

	stored, ok, err := e.Flight(ctx, "BA117")
	if err != nil || !ok {
		t.Fatalf("Flight() = %v, %v", ok, err)
	}
	if stored.Revision != 2 {
		t.Errorf("stored revision = %d, want 2", stored.Revision)
	}
}

func TestEngine_StaleSnapshotIgnored(t *testing.T) {
	e := startEngine(t)
	ctx := context.Background()

	if _, err := e.Ingest(ctx, snap("BA117", 5, "A1")); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	res, err := e.Ingest(ctx, snap("BA117", 4, "Z9"))
	if err != nil {
		t.Fatalf("Ingest() stale error = %v, want nil", err)
	}
	if res.Outcome != "stale" {
		t.Errorf("Outcome = %q, want stale", res.Outcome)
	}

	stored, _, _ := e.Flight(ctx, "BA117")
	if stored.Gate != "A1" {
		t.Errorf("stale snapshot overwrote gate: %q", stored.Gate)
	}
}

func TestEngine_IngestBatchKeepsPerFlightOrder(t *testing.T) {
	var mu sync.Mutex
	var gates []string
	e := startEngine(t,
		WithMaxConcurrency(4),
		WithChangeCallback(func(ev ChangeEvent) {
			if ev.FlightID != "BA117" {
				return
			}
			mu.Lock()
			gates = append(gates, ev.Previous+">"+ev.Current)
			mu.Unlock()
		}),
	)

	batch := []Snapshot{
		snap("BA117", 1, "A1"),
		snap("UA90", 1, "C1"),
		snap("BA117", 2, "A2"),
		snap("LH400", 1, "D1"),
		snap("BA117", 3, "A3"),
		snap("UA90", 2, "C2"),
	}
	results, err := e.IngestBatch(context.Background(), batch)
	if err != nil {
		t.Fatalf("IngestBatch() error = %v", err)
	}
	if len(results) != len(batch) {
		t.Fatalf("len(results) = %d, want %d", len(results), len(batch))
	}
	for i, r := range results {
		if r.FlightID != batch[i].ID || r.Revision != batch[i].Revision {
			t.Errorf("results[%d] = %s@%d, want %s@%d", i, r.FlightID, r.Revision, batch[i].ID, batch[i].Revision)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"A1>A2", "A2>A3"}
	if len(gates) != len(want) || gates[0] != want[0] || gates[1] != want[1] {
		t.Errorf("gate changes = %v, want %v", gates, want)
	}
}

func TestEngine_IngestBatchJoinsErrors(t *testing.T) {
	e := startEngine(t)

	results, err := e.IngestBatch(context.Background(), []Snapshot{
		snap("BA117", 1, "A1"),
		{ID: "", Revision: 1, Status: StatusScheduled},
	})
	if !errors.Is(err, ErrInvalidSnapshot) {
		t.Fatalf("IngestBatch() error = %v, want ErrInvalidSnapshot", err)
	}
	if results[0].Outcome != "first_sighting" {
		t.Errorf("valid snapshot outcome = %q, want first_sighting", results[0].Outcome)
	}
}

func TestEngine_SubscribeValidates(t *testing.T) {
	e, err := New(WithoutHTTP(), WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	err = e.Subscribe(Subscription{FlightID: "BA117", Endpoint: "device-1", Fields: []Field{"seat"}})
	if !errors.Is(err, ErrInvalidSubscription) {
		t.Errorf("Subscribe() error = %v, want ErrInvalidSubscription", err)
	}

	if err := e.Subscribe(Subscription{FlightID: "BA117", Endpoint: "device-1"}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if got := len(e.Subscriptions("BA117")); got != 1 {
		t.Errorf("len(Subscriptions()) = %d, want 1", got)
	}
	if !e.Unsubscribe("BA117", "device-1") {
		t.Error("Unsubscribe() = false, want true")
	}
	if e.Unsubscribe("BA117", "device-1") {
		t.Error("second Unsubscribe() = true, want false")
	}
}

func TestEngine_PollsFeeds(t *testing.T) {
	var revision atomic.Int64
	revision.Store(1)
	feedServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if revision.Load() == 1 {
			_, _ = w.Write([]byte(`[{"id":"BA117","revision":1,"status":"scheduled","gate":"A1"}]`))
			return
		}
		_, _ = w.Write([]byte(`{"flights":[{"id":"BA117","revision":2,"status":"boarding","gate":"A1"}]}`))
	}))
	defer feedServer.Close()

	feed, err := NewFeed("airport", feedServer.URL)
	if err != nil {
		t.Fatalf("NewFeed() error = %v", err)
	}

	changes := make(chan ChangeEvent, 8)
	e := startEngine(t,
		WithFeed(feed),
		WithPollingInterval(time.Hour),
		WithChangeCallback(func(ev ChangeEvent) { changes <- ev }),
	)

	// the initial poll stores the first sighting
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok, _ := e.Flight(context.Background(), "BA117"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("initial poll never stored BA117")
		}
		time.Sleep(10 * time.Millisecond)
	}

	revision.Store(2)
	e.Refresh()

	select {
	case ev := <-changes:
		if ev.Field != FieldStatus || ev.Current != string(StatusBoarding) {
			t.Errorf("change = %+v, want status -> boarding", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("refresh did not produce a change")
	}
}

func TestEngine_FailureCallback(t *testing.T) {
	failures := make(chan Failure, 4)
	e := startEngine(t,
		WithSink(sinkFunc(func(context.Context, string, ChangeEvent) error {
			return Permanent(errors.New("device unregistered"))
		})),
		WithFailureCallback(func(f Failure) { failures <- f }),
		WithSubscription(Subscription{FlightID: "BA117", Endpoint: "device-1"}),
	)
	ctx := context.Background()

	_, _ = e.Ingest(ctx, snap("BA117", 1, "A1"))
	if _, err := e.Ingest(ctx, snap("BA117", 2, "A2")); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	select {
	case f := <-failures:
		if f.Reason != ReasonPermanent || f.Task.Endpoint != "device-1" {
			t.Errorf("failure = %+v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("failure callback not invoked")
	}
}

func TestEngine_ShutdownReportsAbandoned(t *testing.T) {
	failures := make(chan Failure, 4)
	blocked := make(chan struct{}, 1)

	e, err := New(
		WithoutHTTP(),
		WithLogger(discardLogger()),
		WithShutdownGrace(10*time.Millisecond),
		WithSendTimeout(time.Minute),
		WithSink(sinkFunc(func(ctx context.Context, _ string, _ ChangeEvent) error {
			select {
			case blocked <- struct{}{}:
			default:
			}
			<-ctx.Done()
			return ctx.Err()
		})),
		WithFailureCallback(func(f Failure) { failures <- f }),
		WithSubscription(Subscription{FlightID: "BA117", Endpoint: "device-1"}),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Start(ctx) }()

	_, _ = e.Ingest(context.Background(), snap("BA117", 1, "A1"))
	if _, err := e.Ingest(context.Background(), snap("BA117", 2, "A2")); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	select {
	case <-blocked:
	case <-time.After(2 * time.Second):
		t.Fatal("sink was never called")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return")
	}

	select {
	case f := <-failures:
		if f.Reason != ReasonShutdown {
			t.Errorf("Reason = %q, want %q", f.Reason, ReasonShutdown)
		}
	default:
		t.Fatal("abandoned notification was not reported")
	}
}

func TestEngine_SQLiteStatePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flights.db")

	first, err := New(WithoutHTTP(), WithLogger(discardLogger()), WithSQLite(path))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := first.Ingest(context.Background(), snap("BA117", 3, "A1")); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	// Start with a cancelled context only releases resources
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = first.Start(ctx)

	second, err := New(WithoutHTTP(), WithLogger(discardLogger()), WithSQLite(path))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	stored, ok, err := second.Flight(context.Background(), "BA117")
	if err != nil || !ok {
		t.Fatalf("Flight() = %v, %v", ok, err)
	}
	if stored.Revision != 3 || stored.Gate != "A1" {
		t.Errorf("stored = %+v", stored)
	}
	_ = second.Start(ctx)
}

func TestEngine_Events(t *testing.T) {
	e := startEngine(t)

	ch := e.Events("BA117")
	defer e.StopEvents(ch)

	_, _ = e.Ingest(context.Background(), snap("UA90", 1, "C1"))
	_, _ = e.Ingest(context.Background(), snap("UA90", 2, "C2"))
	_, _ = e.Ingest(context.Background(), snap("BA117", 1, "A1"))
	_, _ = e.Ingest(context.Background(), snap("BA117", 2, "A2"))

	select {
	case ev := <-ch:
		if ev.FlightID != "BA117" || ev.Current != "A2" {
			t.Errorf("event = %+v, want BA117 gate A2", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestEngine_HTTPServesFlights(t *testing.T) {
	e, err := New(WithPort(19110), WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Start(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	_, _ = e.Ingest(context.Background(), snap("BA117", 1, "A1"))

	var resp *http.Response
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err = http.Get("http://127.0.0.1:19110/api/flights/BA117")
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("GET /api/flights/BA117: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	metrics, err := http.Get("http://127.0.0.1:19110/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer metrics.Body.Close()
	body, _ := io.ReadAll(metrics.Body)
	if !containsAll(string(body), "flightwatch_ingest_snapshots_total", "flightwatch_delivery_outstanding_tasks") {
		t.Errorf("metrics missing engine collectors:\n%s", body)
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
