package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alfredjeanlab/traceql/internal/broadcast"
)

// Metrics holds the server's Prometheus instruments.
type Metrics struct {
	registry *prometheus.Registry

	Ingested         *prometheus.CounterVec
	Rejected         prometheus.Counter
	StorageErrors    *prometheus.CounterVec
	ObserversDropped prometheus.Counter
	RequestDuration  *prometheus.HistogramVec
}

// NewMetrics registers the server instruments, plus the Go and process
// collectors, on reg.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Metrics{
		registry: reg,
		Ingested: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "traceql_events_ingested_total",
			Help: "Events accepted and persisted, by level.",
		}, []string{"level"}),
		Rejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "traceql_ingest_rejected_total",
			Help: "Submissions rejected by validation.",
		}),
		StorageErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "traceql_storage_errors_total",
			Help: "Store operations that failed, by operation.",
		}, []string{"op"}),
		ObserversDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "traceql_observers_dropped_total",
			Help: "Observers deregistered after a failed delivery.",
		}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "traceql_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "code"}),
	}
}

// observeHub exposes the live observer count of h as a gauge.
func (m *Metrics) observeHub(h *broadcast.Hub) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "traceql_observers",
		Help: "Currently registered live observers.",
	}, func() float64 { return float64(h.Len()) }))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
