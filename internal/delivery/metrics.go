package delivery

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "flightwatch_delivery"

// Collector is a prometheus.Collector and a [Reporter] that records
// delivery outcomes.
type Collector struct {
	delivered prometheus.Counter
	retries   prometheus.Counter
	failed    *prometheus.CounterVec
	latency   prometheus.Histogram
	attempts  prometheus.Histogram

	outstandingDesc *prometheus.Desc
	inFlightDesc    *prometheus.Desc
	pool            atomic.Pointer[Pool]
}

// NewCollector returns a new Collector.
func NewCollector() *Collector {
	return &Collector{
		delivered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "delivered_total",
				Help:      "The number of notifications delivered.",
			},
		),
		retries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "retries_total",
				Help:      "The number of retryable delivery failures scheduled for retry.",
			},
		),
		failed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "failed_total",
				Help:      "The number of notifications that permanently failed.",
			}, []string{"reason"},
		),
		latency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "latency_seconds",
				Help:      "Time from enqueue to successful delivery.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120, 600},
			},
		),
		attempts: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "attempts",
				Help:      "Sink calls needed per delivered notification.",
				Buckets:   []float64{1, 2, 3, 4, 5, 8},
			},
		),
		outstandingDesc: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "outstanding_tasks"),
			"The number of tasks held by the pool that are not yet delivered or failed.",
			nil, nil,
		),
		inFlightDesc: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "in_flight_tasks"),
			"The number of sink calls currently in progress.",
			nil, nil,
		),
	}
}

// ObservePool makes the collector export the pool's outstanding and
// in-flight gauges.
func (c *Collector) ObservePool(p *Pool) {
	c.pool.Store(p)
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.delivered.Describe(ch)
	c.retries.Describe(ch)
	c.failed.Describe(ch)
	c.latency.Describe(ch)
	c.attempts.Describe(ch)
	ch <- c.outstandingDesc
	ch <- c.inFlightDesc
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.delivered.Collect(ch)
	c.retries.Collect(ch)
	c.failed.Collect(ch)
	c.latency.Collect(ch)
	c.attempts.Collect(ch)

	if p := c.pool.Load(); p != nil {
		stats := p.Stats()
		ch <- prometheus.MustNewConstMetric(c.outstandingDesc, prometheus.GaugeValue, float64(stats.Outstanding))
		ch <- prometheus.MustNewConstMetric(c.inFlightDesc, prometheus.GaugeValue, float64(stats.InFlight))
	}
}

// Delivered is part of the Reporter interface.
func (c *Collector) Delivered(task Task, latency time.Duration) {
	c.delivered.Inc()
	c.latency.Observe(latency.Seconds())
	c.attempts.Observe(float64(task.Attempts))
}

// Retrying is part of the Reporter interface.
func (c *Collector) Retrying(Task, error, time.Duration) {
	c.retries.Inc()
}

// Failed is part of the Reporter interface.
func (c *Collector) Failed(f Failure) {
	c.failed.WithLabelValues(string(f.Reason)).Inc()
}
