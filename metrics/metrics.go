// Package metrics holds the Prometheus instruments of the ingestion pipeline.
// Every method is safe to call on a nil *Metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "edge"

// Metrics contains the pipeline metrics and the registry they live in
type Metrics struct {
	registry *prometheus.Registry

	MessagesReceived   prometheus.Counter
	MessagesMalformed  prometheus.Counter
	ReadingsPersisted  prometheus.Counter
	PersistFailures    prometheus.Counter
	BroadcastDelivered prometheus.Counter
	BroadcastDropped   prometheus.Counter
	RuleOutcomes       *prometheus.CounterVec
	QueueDepth         prometheus.Gauge
	Viewers            prometheus.Gauge
}

// New creates the metrics on a private registry, together with the Go and process collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mqtt",
			Name:      "messages_received_total",
			Help:      "Total number of reading messages received from the broker",
		}),
		MessagesMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mqtt",
			Name:      "messages_malformed_total",
			Help:      "Total number of messages discarded because they were not a JSON object",
		}),
		ReadingsPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "readings_persisted_total",
			Help:      "Total number of readings written to the primary database",
		}),
		PersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "persist_failures_total",
			Help:      "Total number of readings that could not be persisted",
		}),
		BroadcastDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "delivered_total",
			Help:      "Total number of messages delivered to viewers",
		}),
		BroadcastDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "dropped_total",
			Help:      "Total number of readings dropped before reaching the dispatch loop",
		}),
		RuleOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "outcomes_total",
			Help:      "Rule evaluation outcomes by status",
		}, []string{"status"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "queue_depth",
			Help:      "Messages waiting for the ingestion worker",
		}),
		Viewers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "viewers",
			Help:      "Currently connected viewers",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.MessagesReceived,
		m.MessagesMalformed,
		m.ReadingsPersisted,
		m.PersistFailures,
		m.BroadcastDelivered,
		m.BroadcastDropped,
		m.RuleOutcomes,
		m.QueueDepth,
		m.Viewers,
	)
	return m
}

// Registry returns the registry backing the metrics
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Received() {
	if m != nil {
		m.MessagesReceived.Inc()
	}
}

func (m *Metrics) Malformed() {
	if m != nil {
		m.MessagesMalformed.Inc()
	}
}

func (m *Metrics) Persisted() {
	if m != nil {
		m.ReadingsPersisted.Inc()
	}
}

func (m *Metrics) PersistFailed() {
	if m != nil {
		m.PersistFailures.Inc()
	}
}

func (m *Metrics) Delivered(n int) {
	if m != nil {
		m.BroadcastDelivered.Add(float64(n))
	}
}

func (m *Metrics) Dropped() {
	if m != nil {
		m.BroadcastDropped.Inc()
	}
}

func (m *Metrics) RuleOutcome(status string) {
	if m != nil {
		m.RuleOutcomes.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) SetQueueDepth(n int) {
	if m != nil {
		m.QueueDepth.Set(float64(n))
	}
}

func (m *Metrics) SetViewers(n int) {
	if m != nil {
		m.Viewers.Set(float64(n))
	}
}
