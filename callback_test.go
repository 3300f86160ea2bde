package flightwatch

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jpalmerr/flightwatch/internal/delivery"
)

// safeBuffer is a bytes.Buffer safe for concurrent writes from handlers.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWithChangeCallback_CalledInRegistrationOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(name string) func(ChangeEvent) {
		return func(ChangeEvent) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}

	e := startEngine(t,
		WithChangeCallback(record("first")),
		WithChangeCallback(record("second")),
	)
	_, _ = e.Ingest(context.Background(), snap("BA117", 1, "A1"))
	_, _ = e.Ingest(context.Background(), snap("BA117", 2, "A2"))

	mu.Lock()
	defer mu.Unlock()
	if strings.Join(order, ",") != "first,second" {
		t.Errorf("order = %v, want [first second]", order)
	}
}

func TestWithChangeCallback_NotCalledForStaleOrFirstSighting(t *testing.T) {
	calls := 0
	e := startEngine(t, WithChangeCallback(func(ChangeEvent) { calls++ }))

	_, _ = e.Ingest(context.Background(), snap("BA117", 2, "A1"))
	_, _ = e.Ingest(context.Background(), snap("BA117", 1, "Z9"))
	_, _ = e.Ingest(context.Background(), snap("BA117", 2, "Z9"))

	if calls != 0 {
		t.Errorf("callback called %d times, want 0", calls)
	}
}

func TestWithChangeCallback_PanicRecovered(t *testing.T) {
	var buf safeBuffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	var after int
	e, err := New(
		WithoutHTTP(),
		WithLogger(logger),
		WithChangeCallback(func(ChangeEvent) { panic("callback exploded") }),
		WithChangeCallback(func(ChangeEvent) { after++ }),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, _ = e.Ingest(context.Background(), snap("BA117", 1, "A1"))
	if _, err := e.Ingest(context.Background(), snap("BA117", 2, "A2")); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	if after != 1 {
		t.Errorf("callback after the panicking one ran %d times, want 1", after)
	}
	logs := buf.String()
	if !strings.Contains(logs, "change callback panicked") || !strings.Contains(logs, "correlation_id=") {
		t.Errorf("panic not logged with correlation id:\n%s", logs)
	}

	stored, _, _ := e.Flight(context.Background(), "BA117")
	if stored.Revision != 2 {
		t.Errorf("stored revision = %d, want 2", stored.Revision)
	}
}

func TestWithFailureCallback_ExhaustedAttempts(t *testing.T) {
	failures := make(chan Failure, 1)
	e := startEngine(t,
		WithMaxAttempts(2),
		WithBackoff(time.Millisecond, time.Millisecond),
		WithSink(sinkFunc(func(context.Context, string, ChangeEvent) error {
			return errors.New("503 from push gateway")
		})),
		WithFailureCallback(func(f Failure) { failures <- f }),
		WithSubscription(Subscription{FlightID: "BA117", Endpoint: "device-1"}),
	)

	_, _ = e.Ingest(context.Background(), snap("BA117", 1, "A1"))
	_, _ = e.Ingest(context.Background(), snap("BA117", 2, "A2"))

	select {
	case f := <-failures:
		if f.Reason != ReasonExhausted || f.Task.Attempts != 2 {
			t.Errorf("failure = reason %q attempts %d, want exhausted after 2", f.Reason, f.Task.Attempts)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("failure callback not invoked")
	}
}

func TestWithFailureCallback_SlowCallbackDoesNotBlockDelivery(t *testing.T) {
	unblock := make(chan struct{})
	defer close(unblock)
	entered := make(chan struct{}, 1)

	sink, notifications := channelSink()
	e := startEngine(t,
		WithWorkers(1),
		WithSink(sinkFunc(func(ctx context.Context, endpoint string, event ChangeEvent) error {
			if endpoint == "device-gone" {
				return Permanent(errors.New("device unregistered"))
			}
			return sink.Send(ctx, endpoint, event)
		})),
		WithFailureCallback(func(Failure) {
			select {
			case entered <- struct{}{}:
			default:
			}
			<-unblock
		}),
		WithSubscription(Subscription{FlightID: "BA117", Endpoint: "device-gone"}),
		WithSubscription(Subscription{FlightID: "UA90", Endpoint: "device-ok"}),
	)

	_, _ = e.Ingest(context.Background(), snap("BA117", 1, "A1"))
	_, _ = e.Ingest(context.Background(), snap("BA117", 2, "A2"))

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("failure callback not invoked")
	}

	_, _ = e.Ingest(context.Background(), snap("UA90", 1, "C1"))
	_, _ = e.Ingest(context.Background(), snap("UA90", 2, "C2"))

	got := waitSent(t, notifications)
	if got.endpoint != "device-ok" || got.event.FlightID != "UA90" {
		t.Errorf("delivered %s to %s, want UA90 to device-ok", got.event.FlightID, got.endpoint)
	}
}

func TestFailureNotifier_DropsWhenFull(t *testing.T) {
	unblock := make(chan struct{})
	entered := make(chan struct{}, 1)
	var mu sync.Mutex
	var seen []FailureReason

	n := newFailureNotifier([]func(Failure){func(f Failure) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-unblock
		mu.Lock()
		seen = append(seen, f.Reason)
		mu.Unlock()
	}}, discardLogger(), 1)
	n.start()

	failure := func(reason FailureReason) Failure {
		return Failure{
			Task:   delivery.Task{Endpoint: "device-1", Event: ChangeEvent{FlightID: "BA117"}},
			Reason: reason,
		}
	}

	n.Failed(failure(ReasonPermanent))
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("failure callback not invoked")
	}

	n.Failed(failure(ReasonExhausted)) // fills the buffer
	n.Failed(failure(ReasonShutdown))  // dropped
	if got := n.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}

	close(unblock)
	n.stop(2 * time.Second)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != ReasonPermanent || seen[1] != ReasonExhausted {
		t.Errorf("callback saw %v, want [permanent exhausted]", seen)
	}

	n.Failed(failure(ReasonPermanent))
	if got := n.Dropped(); got != 2 {
		t.Errorf("Dropped() after stop = %d, want 2", got)
	}
}
