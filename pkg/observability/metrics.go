package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	// Flow metrics
	InitiateTotal    *prometheus.CounterVec
	CallbackTotal    *prometheus.CounterVec
	CallbackDuration *prometheus.HistogramVec

	// State store metrics
	StateStoreOpsTotal    *prometheus.CounterVec
	StateStoreErrorsTotal *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		InitiateTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sso_initiate_total",
				Help: "Total number of authentication flows initiated",
			},
			[]string{"protocol", "provider"},
		),
		CallbackTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sso_callback_total",
				Help: "Total number of IdP callbacks processed",
			},
			[]string{"protocol", "provider", "result"},
		),
		CallbackDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sso_callback_duration_seconds",
				Help:    "Callback validation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"protocol", "provider"},
		),
		StateStoreOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sso_state_store_operations_total",
				Help: "Total number of ephemeral state store operations",
			},
			[]string{"operation"},
		),
		StateStoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sso_state_store_errors_total",
				Help: "Total number of ephemeral state store errors",
			},
			[]string{"operation"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sso_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sso_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.InitiateTotal,
		m.CallbackTotal,
		m.CallbackDuration,
		m.StateStoreOpsTotal,
		m.StateStoreErrorsTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)

	return m
}

// Handler returns the Prometheus scrape handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCallback records one finished callback.
func (m *Metrics) ObserveCallback(protocol, provider, result string, elapsed time.Duration) {
	m.CallbackTotal.WithLabelValues(protocol, provider, result).Inc()
	m.CallbackDuration.WithLabelValues(protocol, provider).Observe(elapsed.Seconds())
}
