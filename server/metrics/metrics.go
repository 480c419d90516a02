package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's Prometheus registry and the collectors shared across
// packages. Breakers and the provider manager register their own collectors on Registry().
type Metrics struct {
	registry        *prometheus.Registry
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActiveRequests  *prometheus.GaugeVec
	ErrorsTotal     *prometheus.CounterVec
	RateLimitHits   *prometheus.CounterVec

	// TurnsDropped counts history turns removed during assembly, by step.
	TurnsDropped *prometheus.CounterVec

	// ChatRequests counts chat requests by mode and outcome.
	ChatRequests *prometheus.CounterVec

	// ScheduleParseFailures counts model outputs rejected by the schedule extractor.
	ScheduleParseFailures prometheus.Counter
}

// NewMetrics creates a Metrics instance with its own registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry: registry,
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campusgate_http_requests_total",
				Help: "Total number of HTTP requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "campusgate_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30},
			},
			[]string{"endpoint"},
		),
		ActiveRequests: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "campusgate_http_active_requests",
				Help: "Number of currently active HTTP requests",
			},
			[]string{"endpoint"},
		),
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campusgate_errors_total",
				Help: "Total number of errors by type",
			},
			[]string{"type"},
		),
		RateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campusgate_rate_limit_hits_total",
				Help: "Total number of rate limit hits by client",
			},
			[]string{"client"},
		),
		TurnsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campusgate_turns_dropped_total",
				Help: "History turns removed during conversation assembly, by reason",
			},
			[]string{"reason"},
		),
		ChatRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campusgate_chat_requests_total",
				Help: "Chat requests by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		ScheduleParseFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "campusgate_schedule_parse_failures_total",
				Help: "Model outputs that were not a valid schedule document",
			},
		),
	}

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Expose the series before the first request so dashboards see zeros, not gaps.
	for _, reason := range []string{"sentinel", "empty", "truncated", "leading", "adjacent"} {
		m.TurnsDropped.WithLabelValues(reason).Add(0)
	}
	m.RequestsTotal.WithLabelValues("/health", "200").Add(0)
	m.ActiveRequests.WithLabelValues("queued").Add(0)
	m.ActiveRequests.WithLabelValues("processing").Add(0)

	return m
}

// Registry returns the registry collectors should be registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns a handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: false,
	})
}
