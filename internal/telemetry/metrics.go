package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the service exports. Each instance owns its
// registry so tests can build one without global state.
type Metrics struct {
	Registry        *prometheus.Registry
	RequestCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	AuthOperations  *prometheus.CounterVec
	BudgetBreaches  *prometheus.CounterVec
	EventFailures   *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		RequestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		AuthOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_operations_total",
				Help: "Login, refresh and logout attempts by outcome.",
			},
			[]string{"operation", "outcome"},
		),
		BudgetBreaches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "budget_breaches_total",
				Help: "Budget checks that found spending above the limit.",
			},
			[]string{"category_id"},
		),
		EventFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "event_failures_total",
				Help: "Events that could not be published or handled.",
			},
			[]string{"topic", "stage"},
		),
	}
	m.Registry.MustRegister(
		m.RequestCount,
		m.RequestDuration,
		m.AuthOperations,
		m.BudgetBreaches,
		m.EventFailures,
	)
	return m
}

// RegisterRuntime adds the Go and process collectors. Only the server does
// this; tests keep their registries small.
func (m *Metrics) RegisterRuntime() {
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
