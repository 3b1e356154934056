package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	uploads       *prometheus.CounterVec
	queries       *prometheus.CounterVec
	queryDuration prometheus.Histogram
	expirations   prometheus.Counter
}

// newMetrics registers the collectors on a fresh registry. activeSessions
// backs the session gauge.
func newMetrics(activeSessions func() float64) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "datalens",
			Name:      "uploads_total",
			Help:      "Datasets ingested, by file type.",
		}, []string{"file_type"}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "datalens",
			Name:      "queries_total",
			Help:      "Questions answered, by outcome.",
		}, []string{"outcome"}),
		queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "datalens",
			Name:      "query_duration_seconds",
			Help:      "Wall-clock time spent answering a question.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		expirations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "datalens",
			Name:      "session_expirations_total",
			Help:      "Sessions removed after sitting idle.",
		}),
	}

	m.registry.MustRegister(
		m.uploads,
		m.queries,
		m.queryDuration,
		m.expirations,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "datalens",
			Name:      "active_sessions",
			Help:      "Sessions currently registered.",
		}, activeSessions),
		collectors.NewGoCollector(),
	)
	return m
}

// Gatherer exposes the collectors for a /metrics handler.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}
