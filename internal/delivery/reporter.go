package delivery

import (
	"log/slog"
	"time"
)

// Reporter receives the outcome of every task.
//
// Reporter methods are called synchronously from delivery workers and must
// not block. Panics are recovered and logged by the pool.
type Reporter interface {
	// Delivered is called once a task reaches Delivered. Latency is measured
	// from enqueue to successful send.
	Delivered(task Task, latency time.Duration)

	// Retrying is called when a task goes back to Pending after a retryable
	// failure.
	Retrying(task Task, err error, delay time.Duration)

	// Failed is called exactly once for every task that ends Failed.
	Failed(failure Failure)
}

// Reporters fans every call out to each reporter in order.
type Reporters []Reporter

func (rs Reporters) Delivered(task Task, latency time.Duration) {
	for _, r := range rs {
		r.Delivered(task, latency)
	}
}

func (rs Reporters) Retrying(task Task, err error, delay time.Duration) {
	for _, r := range rs {
		r.Retrying(task, err, delay)
	}
}

func (rs Reporters) Failed(failure Failure) {
	for _, r := range rs {
		r.Failed(failure)
	}
}

// LogReporter logs task outcomes. Deliveries are logged at DEBUG to reduce
// noise; retries at INFO and failures at WARN.
type LogReporter struct {
	Logger *slog.Logger
}

func (l LogReporter) Delivered(task Task, latency time.Duration) {
	l.Logger.Debug("notification delivered",
		"task_id", task.ID,
		"flight_id", task.Event.FlightID,
		"field", string(task.Event.Field),
		"endpoint", task.Endpoint,
		"attempts", task.Attempts,
		"latency_ms", latency.Milliseconds(),
	)
}

func (l LogReporter) Retrying(task Task, err error, delay time.Duration) {
	l.Logger.Info("notification delivery retrying",
		"task_id", task.ID,
		"flight_id", task.Event.FlightID,
		"endpoint", task.Endpoint,
		"attempt", task.Attempts,
		"delay", delay.String(),
		"error", err.Error(),
	)
}

func (l LogReporter) Failed(f Failure) {
	attrs := []any{
		"task_id", f.Task.ID,
		"flight_id", f.Task.Event.FlightID,
		"field", string(f.Task.Event.Field),
		"endpoint", f.Task.Endpoint,
		"attempts", f.Task.Attempts,
		"reason", string(f.Reason),
	}
	if f.Err != nil {
		attrs = append(attrs, "error", f.Err.Error())
	}
	l.Logger.Warn("notification delivery failed", attrs...)
}
