package provider

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/teilomillet/campusgate/config"
	"github.com/teilomillet/campusgate/server/circuitbreaker"
)

// Manager sends requests to the configured backends in preference order. Each backend has its
// own circuit breaker and health state; transient failures are retried with exponential backoff
// before the manager fails over to the next backend.
type Manager struct {
	backends []Backend
	breakers map[string]*circuitbreaker.CircuitBreaker
	logger   *zap.Logger

	mu     sync.RWMutex
	health map[string]HealthStatus

	retry       config.RetryConfig
	callTimeout time.Duration
	healthCheck config.ProviderHealthCheck

	group   singleflight.Group
	metrics *managerMetrics
}

// NewManager creates a manager over backends, which must already be in preference order.
// Metrics are registered on registry unless it is nil.
func NewManager(cfg *config.Config, backends []Backend, logger *zap.Logger, registry prometheus.Registerer) *Manager {
	m := &Manager{
		backends:    backends,
		breakers:    make(map[string]*circuitbreaker.CircuitBreaker, len(backends)),
		logger:      logger,
		health:      make(map[string]HealthStatus, len(backends)),
		retry:       retrySettings(cfg.LLM.Retry),
		callTimeout: cfg.LLM.Timeout,
		metrics:     newManagerMetrics(registry),
	}
	if cfg.LLM.HealthCheck != nil {
		m.healthCheck = *cfg.LLM.HealthCheck
	}

	cbConfig := circuitbreaker.FromConfig(cfg.CircuitBreaker)
	cbConfig.TestMode = cbConfig.TestMode || cfg.TestMode
	for _, b := range backends {
		name := b.Name()
		m.breakers[name] = circuitbreaker.NewCircuitBreaker(
			name,
			cbConfig,
			logger.With(zap.String("provider", name)),
			registry,
		)
		// Backends start healthy; health checks and failed calls move them.
		m.health[name] = HealthStatus{Healthy: true}
		m.metrics.healthyProviders.WithLabelValues(name).Set(1)
	}
	return m
}

func retrySettings(r *config.RetryConfig) config.RetryConfig {
	out := config.RetryConfig{
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2,
	}
	if r == nil {
		return out
	}
	if r.MaxRetries > 0 {
		out.MaxRetries = r.MaxRetries
	}
	if r.InitialDelay > 0 {
		out.InitialDelay = r.InitialDelay
	}
	if r.MaxDelay > 0 {
		out.MaxDelay = r.MaxDelay
	}
	if r.Multiplier >= 1 {
		out.Multiplier = r.Multiplier
	}
	return out
}

// Backends returns the backends in preference order.
func (m *Manager) Backends() []Backend {
	return append([]Backend(nil), m.backends...)
}

// Backend returns the named backend.
func (m *Manager) Backend(name string) (Backend, bool) {
	for _, b := range m.backends {
		if b.Name() == name {
			return b, true
		}
	}
	return nil, false
}

// Breaker returns the circuit breaker guarding the named backend.
func (m *Manager) Breaker(name string) (*circuitbreaker.CircuitBreaker, bool) {
	cb, ok := m.breakers[name]
	return cb, ok
}

// BackendStatus is the externally visible state of one backend.
type BackendStatus struct {
	Name             string    `json:"name"`
	Healthy          bool      `json:"healthy"`
	CircuitBreaker   string    `json:"circuit_breaker"`
	ConsecutiveFails int       `json:"consecutive_failures"`
	LastCheck        time.Time `json:"last_check"`
}

// Status reports every backend in preference order.
func (m *Manager) Status() []BackendStatus {
	out := make([]BackendStatus, 0, len(m.backends))
	for _, b := range m.backends {
		name := b.Name()
		h := m.GetHealthStatus(name)
		out = append(out, BackendStatus{
			Name:             name,
			Healthy:          h.Healthy,
			CircuitBreaker:   m.breakers[name].State().String(),
			ConsecutiveFails: h.ConsecutiveFails,
			LastCheck:        h.LastCheck,
		})
	}
	return out
}

// Available reports whether at least one backend would be tried by Execute.
func (m *Manager) Available() bool {
	for _, b := range m.backends {
		if m.GetHealthStatus(b.Name()).Healthy && !m.breakers[b.Name()].Open() {
			return true
		}
	}
	return false
}
