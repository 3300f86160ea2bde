package delivery

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultWorkers       = 8
	DefaultQueueSize     = 1024
	DefaultMaxAttempts   = 5
	DefaultBaseDelay     = time.Second
	DefaultMaxDelay      = 5 * time.Minute
	DefaultSendTimeout   = 10 * time.Second
	DefaultShutdownGrace = 15 * time.Second
)

var (
	// ErrQueueSaturated is returned by [Pool.Enqueue] when the caller's
	// context ends while waiting for queue capacity.
	ErrQueueSaturated = errors.New("delivery queue saturated")

	// ErrPoolClosed is returned by [Pool.Enqueue] after shutdown has begun.
	ErrPoolClosed = errors.New("delivery pool closed")

	// ErrShutdown is the error attached to tasks abandoned at shutdown.
	ErrShutdown = errors.New("delivery pool shut down before task completed")
)

// Config configures a [Pool]. Zero fields take the package defaults.
type Config struct {
	// Workers is the fixed number of concurrent sink callers.
	Workers int

	// QueueSize bounds the number of tasks held by the pool at once,
	// counting pending, in-flight and retrying tasks.
	QueueSize int

	// MaxAttempts is the number of sink calls allowed per task.
	MaxAttempts int

	Backoff Backoff

	// SendTimeout bounds every sink call. Expiry is a retryable failure.
	SendTimeout time.Duration

	// ShutdownGrace is how long [Pool.Shutdown] waits for outstanding tasks.
	ShutdownGrace time.Duration

	Clock    clock.Clock
	Reporter Reporter
	Logger   *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Backoff.Base <= 0 {
		c.Backoff.Base = DefaultBaseDelay
	}
	if c.Backoff.Max <= 0 {
		c.Backoff.Max = DefaultMaxDelay
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	if c.ShutdownGrace < 0 {
		c.ShutdownGrace = 0
	}
	if c.Clock == nil {
		c.Clock = clock.WallClock
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Reporter == nil {
		c.Reporter = LogReporter{Logger: c.Logger}
	}
	return c
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	// Outstanding counts tasks that are not yet Delivered or Failed.
	Outstanding int
	InFlight    int
	// Lanes counts (flight, endpoint) pairs with outstanding tasks.
	Lanes int
}

// lane holds the ordered outstanding tasks of one (flight, endpoint) pair.
// Only tasks[0] is ever ready, in flight or waiting on timer.
type lane struct {
	tasks []*Task
	timer clock.Timer
}

// Pool is a bounded set of workers delivering tasks to a [Sink].
//
// The typical lifecycle is:
//
//	pool := delivery.NewPool(sink, delivery.Config{Workers: 4})
//	pool.Start(ctx)
//	...
//	err := pool.Enqueue(ctx, task) // blocks while the pool is full
//	...
//	abandoned := pool.Shutdown(ctx)
//
// Workers never hold the pool lock while calling the sink.
type Pool struct {
	sink   Sink
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger
	slots  *semaphore.Weighted
	ready  *readyQueue

	mu            sync.Mutex
	lanes         map[pairKey]*lane
	outstanding   int
	inFlight      int
	started       bool
	closed        bool
	aborted       bool
	drained       chan struct{}
	drainedClosed bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}
}

// NewPool creates a [Pool]. Workers do not run until [Pool.Start].
func NewPool(sink Sink, cfg Config) *Pool {
	cfg = cfg.withDefaults()
	return &Pool{
		sink:    sink,
		cfg:     cfg,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		slots:   semaphore.NewWeighted(int64(cfg.QueueSize)),
		ready:   newReadyQueue(),
		lanes:   make(map[pairKey]*lane),
		drained: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the workers.
//
// Workers are not stopped by cancelling ctx; use [Pool.Shutdown] so that
// in-flight deliveries get their grace period. Start is idempotent and a
// no-op after Shutdown.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started || p.closed {
		return
	}
	p.started = true

	if ctx == nil {
		ctx = context.Background()
	}
	workCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel

	p.wg.Add(p.cfg.Workers)
	for i := 0; i < p.cfg.Workers; i++ {
		go p.worker(workCtx)
	}
}

// Enqueue hands a task to the pool.
//
// Enqueue blocks while the pool already holds QueueSize tasks. If ctx ends
// first the error wraps [ErrQueueSaturated]; no task is lost, it was simply
// never accepted. After Shutdown has begun the error is [ErrPoolClosed].
func (p *Pool) Enqueue(ctx context.Context, task Task) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrPoolClosed
	}

	if err := p.slots.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: %w", ErrQueueSaturated, err)
	}

	t := &task
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.State = StatePending
	t.Attempts = 0
	t.EnqueuedAt = p.clock.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		p.slots.Release(1)
		return ErrPoolClosed
	}

	key := t.key()
	l, ok := p.lanes[key]
	if !ok {
		l = &lane{}
		p.lanes[key] = l
	}
	l.tasks = append(l.tasks, t)
	p.outstanding++

	if len(l.tasks) == 1 {
		p.ready.push(t)
	}
	return nil
}

// Stats returns a snapshot of the pool's counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Outstanding: p.outstanding,
		InFlight:    p.inFlight,
		Lanes:       len(p.lanes),
	}
}

// Shutdown stops accepting tasks and waits up to the configured grace period
// (or until ctx ends) for outstanding tasks to finish. In-flight sink calls
// are abandoned when the grace period ends, whether or not the sink honours
// its context. Whatever is still
// pending, in flight or waiting to retry is then reported Failed with reason
// [ReasonShutdown]. It returns the number of abandoned tasks.
//
// Shutdown is idempotent; later calls wait for the first to finish and
// return 0.
func (p *Pool) Shutdown(ctx context.Context) int {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.done
		return 0
	}
	p.closed = true
	started := p.started
	p.checkDrainedLocked()
	p.mu.Unlock()

	// without workers nothing can drain, so there is no grace to wait for
	if started && p.cfg.ShutdownGrace > 0 {
		select {
		case <-p.drained:
		case <-p.clock.After(p.cfg.ShutdownGrace):
		case <-ctx.Done():
		}
	}

	p.mu.Lock()
	p.aborted = true
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}

	// workers never wait on a sink once cancelled, only on reporters
	stopped := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		p.logger.Warn("delivery workers still busy at shutdown", "error", ctx.Err())
	}

	abandoned := p.sweep()
	close(p.done)
	return abandoned
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}
		if t, ok := p.ready.tryPop(); ok {
			p.process(ctx, t)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-p.ready.wait():
		}
	}
}

// process makes one delivery attempt for a lane head.
func (p *Pool) process(ctx context.Context, t *Task) {
	p.mu.Lock()
	if p.aborted {
		p.mu.Unlock()
		return
	}
	t.State = StateInFlight
	t.Attempts++
	p.inFlight++
	attempt := *t
	p.mu.Unlock()

	sendCtx, cancel := context.WithTimeout(ctx, p.cfg.SendTimeout)
	defer cancel()

	result := make(chan error, 1)
	go func() { result <- p.send(sendCtx, attempt) }()

	var err error
	select {
	case err = <-result:
	case <-sendCtx.Done():
		select {
		case err = <-result:
		default:
			// a sink ignoring its context keeps running; its late result is dropped
			err = fmt.Errorf("sink call abandoned after %s: %w", p.cfg.SendTimeout, sendCtx.Err())
		}
	}

	p.complete(t, err)
}

// send calls the sink with panic recovery. A panicking sink is treated as a
// permanent failure for the task.
func (p *Pool) send(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			p.logger.Error("sink panic",
				"correlation_id", correlationID,
				"task_id", t.ID,
				"endpoint", t.Endpoint,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			err = Permanent(fmt.Errorf("sink panic (correlation_id: %s)", correlationID))
		}
	}()
	return p.sink.Send(ctx, t.Endpoint, t.Event)
}

// complete applies the outcome of an attempt to the task and its lane.
func (p *Pool) complete(t *Task, err error) {
	now := p.clock.Now()

	p.mu.Lock()
	p.inFlight--

	if err == nil {
		t.State = StateDelivered
		done := *t
		p.finishLocked(t)
		p.mu.Unlock()

		p.report(func(r Reporter) { r.Delivered(done, now.Sub(done.EnqueuedAt)) })
		return
	}

	if p.aborted {
		// left at the head of its lane for the shutdown sweep
		t.State = StatePending
		p.mu.Unlock()
		return
	}

	var reason FailureReason
	switch {
	case IsPermanent(err):
		reason = ReasonPermanent
	case t.Attempts >= p.cfg.MaxAttempts:
		reason = ReasonExhausted
	default:
		delay := p.cfg.Backoff.Delay(t.Attempts)
		t.State = StateRetrying
		t.NextAttemptAt = now.Add(delay)
		retrying := *t
		p.mu.Unlock()

		p.scheduleRetry(t, delay)
		p.report(func(r Reporter) { r.Retrying(retrying, err, delay) })
		return
	}

	t.State = StateFailed
	failed := *t
	p.finishLocked(t)
	p.mu.Unlock()

	p.report(func(r Reporter) { r.Failed(Failure{Task: failed, Reason: reason, Err: err}) })
}

// scheduleRetry arms the retry timer for a lane head. The clock is never
// called with the pool lock held.
func (p *Pool) scheduleRetry(t *Task, delay time.Duration) {
	timer := p.clock.AfterFunc(delay, func() { p.retryDue(t) })

	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.lanes[t.key()]
	if !ok || p.aborted || t.State != StateRetrying {
		// already fired, or the pool is being swept
		timer.Stop()
		return
	}
	l.timer = timer
}

// retryDue returns a retrying task to Pending once its delay has passed.
func (p *Pool) retryDue(t *Task) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.aborted || t.State != StateRetrying {
		return
	}
	if l, ok := p.lanes[t.key()]; ok {
		l.timer = nil
	}
	t.State = StatePending
	p.ready.push(t)
}

// finishLocked removes a terminal task from the head of its lane and makes
// the next task in the lane eligible.
func (p *Pool) finishLocked(t *Task) {
	key := t.key()
	l := p.lanes[key]

	l.tasks[0] = nil
	l.tasks = l.tasks[1:]
	if len(l.tasks) == 0 {
		delete(p.lanes, key)
	} else if !p.aborted {
		p.ready.push(l.tasks[0])
	}

	p.outstanding--
	p.slots.Release(1)
	p.checkDrainedLocked()
}

func (p *Pool) checkDrainedLocked() {
	if p.closed && p.outstanding == 0 && !p.drainedClosed {
		close(p.drained)
		p.drainedClosed = true
	}
}

// sweep fails every task still held after workers have stopped.
func (p *Pool) sweep() int {
	p.mu.Lock()
	var (
		failures []Failure
		timers   []clock.Timer
	)
	for key, l := range p.lanes {
		if l.timer != nil {
			timers = append(timers, l.timer)
		}
		for _, t := range l.tasks {
			t.State = StateFailed
			failures = append(failures, Failure{Task: *t, Reason: ReasonShutdown, Err: ErrShutdown})
			p.slots.Release(1)
		}
		delete(p.lanes, key)
	}
	p.outstanding = 0
	p.ready.clear()
	p.mu.Unlock()

	for _, timer := range timers {
		timer.Stop()
	}

	slices.SortFunc(failures, func(a, b Failure) int {
		if c := a.Task.EnqueuedAt.Compare(b.Task.EnqueuedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Task.ID, b.Task.ID)
	})
	for _, f := range failures {
		p.report(func(r Reporter) { r.Failed(f) })
	}
	return len(failures)
}

// report invokes the reporter with panic recovery so a misbehaving
// observability sink cannot take down a worker.
func (p *Pool) report(call func(Reporter)) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("delivery reporter panicked", "panic", r)
		}
	}()
	call(p.cfg.Reporter)
}
