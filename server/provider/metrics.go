package provider

import "github.com/prometheus/client_golang/prometheus"

type managerMetrics struct {
	healthCheckDuration  prometheus.Histogram
	healthCheckErrors    *prometheus.CounterVec
	requestLatency       *prometheus.HistogramVec
	retries              *prometheus.CounterVec
	deduplicatedRequests prometheus.Counter
	healthyProviders     *prometheus.GaugeVec
}

func newManagerMetrics(registry prometheus.Registerer) *managerMetrics {
	m := &managerMetrics{
		healthCheckDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "campusgate_provider_health_check_duration_seconds",
			Help: "Duration of provider health checks",
		}),
		healthCheckErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campusgate_provider_health_check_errors_total",
			Help: "Number of health check errors by provider",
		}, []string{"provider"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "campusgate_provider_request_latency_seconds",
			Help:    "Latency of provider requests by outcome",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 30},
		}, []string{"provider", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campusgate_provider_retries_total",
			Help: "Upstream calls retried after a transient failure",
		}, []string{"provider"}),
		deduplicatedRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "campusgate_provider_deduplicated_requests_total",
			Help: "Requests served from an identical in-flight request",
		}),
		healthyProviders: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "campusgate_provider_healthy",
			Help: "Whether a provider is considered healthy (1) or not (0)",
		}, []string{"provider"}),
	}

	if registry != nil {
		registry.MustRegister(
			m.healthCheckDuration,
			m.healthCheckErrors,
			m.requestLatency,
			m.retries,
			m.deduplicatedRequests,
			m.healthyProviders,
		)
	}
	return m
}
