package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the HTTP-level Prometheus metrics shared by all handlers.
type Metrics struct {
	RequestLatency *prometheus.HistogramVec
	RequestsTotal  *prometheus.CounterVec
}

// New creates and registers the HTTP metrics on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the HTTP metrics on reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "titledeed_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
		}, []string{"method", "route"}),
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "titledeed_http_requests_total",
			Help: "HTTP requests by route pattern and status",
		}, []string{"method", "route", "status"}),
	}
}

// ObserveRequest records one finished request.
func (m *Metrics) ObserveRequest(method, route string, status int, start time.Time) {
	if m == nil {
		return
	}
	m.RequestLatency.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	m.RequestsTotal.WithLabelValues(method, route, statusClass(status)).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
