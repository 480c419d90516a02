package provider

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teilomillet/campusgate/conversation"
)

// HealthStatus represents the current health state of a provider
type HealthStatus struct {
	Healthy          bool          // Whether the provider is currently tried by Execute
	LastCheck        time.Time     // When the last health check was performed
	ConsecutiveFails int           // Consecutive failed health checks
	Latency          time.Duration // Last observed latency
	ErrorCount       int64         // Total number of failed calls and checks
	RequestCount     int64         // Total number of calls and checks
}

var healthProbe = &conversation.AssembledRequest{
	SystemPrompt: "Respond with 'ok' for health check.",
	NewMessage:   "health check",
}

// GetHealthStatus returns the health status for a provider
func (m *Manager) GetHealthStatus(name string) HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.health[name]
}

// UpdateHealthStatus replaces the health status for a provider
func (m *Manager) UpdateHealthStatus(name string, status HealthStatus) {
	m.mu.Lock()
	m.health[name] = status
	m.mu.Unlock()
	m.setHealthyGauge(name, status.Healthy)
}

func (m *Manager) setHealthyGauge(name string, healthy bool) {
	if healthy {
		m.metrics.healthyProviders.WithLabelValues(name).Set(1)
	} else {
		m.metrics.healthyProviders.WithLabelValues(name).Set(0)
	}
}

// recordResult folds the outcome of a request into the provider's status. A success marks an
// unhealthy provider healthy again; failures are left to the breaker.
func (m *Manager) recordResult(name string, err error, latency time.Duration) {
	m.mu.Lock()
	status := m.health[name]
	status.RequestCount++
	status.Latency = latency
	if err != nil {
		status.ErrorCount++
	} else {
		status.Healthy = true
		status.ConsecutiveFails = 0
	}
	m.health[name] = status
	m.mu.Unlock()

	if err == nil {
		m.setHealthyGauge(name, true)
	}
}

// StartHealthChecks probes every backend on the configured interval until ctx ends.
// It does nothing when health checks are disabled.
func (m *Manager) StartHealthChecks(ctx context.Context) {
	if !m.healthCheck.Enabled {
		return
	}
	interval := m.healthCheck.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CheckHealth(ctx)
			}
		}
	}()
}

// CheckHealth probes every backend once.
func (m *Manager) CheckHealth(ctx context.Context) {
	for _, b := range m.backends {
		m.checkProviderHealth(ctx, b)
	}
}

// checkProviderHealth sends a one-line probe to b. The provider is marked unhealthy after
// failure_threshold consecutive failed probes.
func (m *Manager) checkProviderHealth(ctx context.Context, b Backend) {
	name := b.Name()
	timeout := m.healthCheck.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	threshold := m.healthCheck.FailureThreshold
	if threshold <= 0 {
		threshold = 1
	}

	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	_, err := b.Complete(checkCtx, healthProbe)
	latency := time.Since(start)
	m.metrics.healthCheckDuration.Observe(latency.Seconds())

	m.mu.Lock()
	status := m.health[name]
	wasHealthy := status.Healthy
	status.LastCheck = start
	status.Latency = latency
	status.RequestCount++
	if err != nil {
		status.ConsecutiveFails++
		status.ErrorCount++
		if status.ConsecutiveFails >= threshold {
			status.Healthy = false
		}
	} else {
		status.Healthy = true
		status.ConsecutiveFails = 0
	}
	m.health[name] = status
	m.mu.Unlock()
	m.setHealthyGauge(name, status.Healthy)

	if err != nil {
		m.metrics.healthCheckErrors.WithLabelValues(name).Inc()
		m.logger.Warn("provider health check failed",
			zap.String("provider", name),
			zap.Error(err),
			zap.Duration("latency", latency),
			zap.Int("consecutive_failures", status.ConsecutiveFails),
		)
	} else if !wasHealthy {
		m.logger.Info("provider recovered", zap.String("provider", name))
	}
}
