package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all dealline metric instruments backed by a private
// registry, so tests can build as many as they need without collisions.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	AnalyticsRuns   *prometheus.CounterVec
	LeadsResolved   prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealline_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dealline_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		AnalyticsRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealline_analytics_runs_total",
			Help: "Analytics computations by report kind.",
		}, []string{"report"}),
		LeadsResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dealline_leads_resolved_total",
			Help: "Leads whose stage was resolved.",
		}),
	}
	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.AnalyticsRuns,
		m.LeadsResolved,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
