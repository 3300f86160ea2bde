package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "flightwatch_ingest"

const (
	stageValidate = "validate"
	stageRead     = "read"
	stageDiff     = "diff"
	stageDispatch = "dispatch"
	stageWrite    = "write"
)

// Collector is a prometheus.Collector for ingestion cycles.
type Collector struct {
	snapshots *prometheus.CounterVec
	events    *prometheus.CounterVec
	errors    *prometheus.CounterVec
}

// NewCollector returns a new Collector.
func NewCollector() *Collector {
	return &Collector{
		snapshots: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "snapshots_total",
				Help:      "The number of snapshots ingested, by outcome.",
			}, []string{"outcome"},
		),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "change_events_total",
				Help:      "The number of change events produced, by field and classification.",
			}, []string{"field", "class"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "errors_total",
				Help:      "The number of failed ingestion cycles, by stage.",
			}, []string{"stage"},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.snapshots.Describe(ch)
	c.events.Describe(ch)
	c.errors.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.snapshots.Collect(ch)
	c.events.Collect(ch)
	c.errors.Collect(ch)
}

func (c *Collector) observe(r Result) {
	if c == nil {
		return
	}
	c.snapshots.WithLabelValues(string(r.Outcome)).Inc()
	for _, e := range r.Events {
		c.events.WithLabelValues(string(e.Field), string(e.Class)).Inc()
	}
}

func (c *Collector) observeError(stage string) {
	if c == nil {
		return
	}
	c.errors.WithLabelValues(stage).Inc()
}
