package flightwatch

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpalmerr/flightwatch/internal/delivery"
)

const (
	// failureBuffer is how many failures can wait for the failure callbacks.
	failureBuffer = 256

	// failureDrainTimeout bounds how long shutdown waits for queued failures
	// to reach the callbacks.
	failureDrainTimeout = 5 * time.Second
)

// failureNotifier is a delivery.Reporter that hands failures to the failure
// callbacks on a goroutine of its own, so a slow callback never holds up a
// delivery worker.
//
// Failures arriving while the buffer is full are dropped and counted in
// dropped.
type failureNotifier struct {
	callbacks []func(Failure)
	logger    *slog.Logger
	queue     chan Failure
	dropped   atomic.Uint64

	mu      sync.RWMutex
	running bool
	closed  bool
	done    chan struct{}
}

func newFailureNotifier(callbacks []func(Failure), logger *slog.Logger, buffer int) *failureNotifier {
	return &failureNotifier{
		callbacks: callbacks,
		logger:    logger,
		queue:     make(chan Failure, buffer),
		done:      make(chan struct{}),
	}
}

// start launches the goroutine that runs the callbacks.
func (n *failureNotifier) start() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.running || n.closed {
		return
	}
	n.running = true
	go n.run()
}

func (n *failureNotifier) run() {
	defer close(n.done)
	for f := range n.queue {
		for _, cb := range n.callbacks {
			invokeCallbackSafe(n.logger, "failure callback", f.Task.Event.FlightID, func() { cb(f) })
		}
	}
}

func (*failureNotifier) Delivered(delivery.Task, time.Duration) {}

func (*failureNotifier) Retrying(delivery.Task, error, time.Duration) {}

// Failed queues f without blocking.
func (n *failureNotifier) Failed(f Failure) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		n.dropped.Add(1)
		return
	}
	select {
	case n.queue <- f:
	default:
		n.dropped.Add(1)
		n.logger.Warn("failure callbacks falling behind, dropping failure",
			"flight_id", f.Task.Event.FlightID,
			"endpoint", f.Task.Endpoint,
			"reason", string(f.Reason),
		)
	}
}

// stop closes the queue and waits up to timeout for the queued failures to
// reach the callbacks.
func (n *failureNotifier) stop(timeout time.Duration) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	close(n.queue)
	running := n.running
	n.mu.Unlock()

	if !running {
		return
	}
	select {
	case <-n.done:
	case <-time.After(timeout):
		n.logger.Warn("failure callbacks still running at shutdown", "queued", len(n.queue))
	}
}

// Dropped returns how many failures never reached the callbacks.
func (n *failureNotifier) Dropped() uint64 {
	return n.dropped.Load()
}
