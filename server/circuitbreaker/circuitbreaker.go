// Package circuitbreaker protects each model backend with a sony/gobreaker breaker and
// exports its state as Prometheus metrics.
package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/teilomillet/campusgate/config"
)

// Config holds configuration for one breaker.
type Config struct {
	FailureThreshold uint32        // Consecutive failures before the circuit opens
	Timeout          time.Duration // Time spent open before trying half-open
	Interval         time.Duration // Closed-state period after which counts are cleared; 0 never clears
	MaxRequests      uint32        // Requests allowed through while half-open
	TestMode         bool          // Skip metric registration in test mode
}

// FromConfig converts the circuit_breaker configuration section, filling in defaults.
func FromConfig(c config.CircuitBreakerConfig) Config {
	out := Config{
		FailureThreshold: c.FailureThreshold,
		Timeout:          c.Timeout,
		Interval:         c.Interval,
		MaxRequests:      c.MaxRequests,
		TestMode:         c.TestMode,
	}
	if out.FailureThreshold == 0 {
		out.FailureThreshold = 5
	}
	if out.Timeout == 0 {
		out.Timeout = 30 * time.Second
	}
	if out.MaxRequests == 0 {
		out.MaxRequests = 1
	}
	return out
}

// CircuitBreaker guards calls to one backend.
type CircuitBreaker struct {
	name   string
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger

	stateGauge    prometheus.Gauge
	failuresCount prometheus.Counter
	tripsTotal    prometheus.Counter
}

// NewCircuitBreaker creates a breaker and registers its metrics on registry unless
// registry is nil or cfg.TestMode is set.
func NewCircuitBreaker(name string, cfg Config, logger *zap.Logger, registry prometheus.Registerer) *CircuitBreaker {
	c := &CircuitBreaker{
		name:   name,
		logger: logger,
		stateGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "campusgate_circuit_breaker_state",
			Help:        "Current state of the circuit breaker (0=closed, 1=half-open, 2=open)",
			ConstLabels: prometheus.Labels{"name": name},
		}),
		failuresCount: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "campusgate_circuit_breaker_failures_total",
			Help:        "Total number of failures recorded by the circuit breaker",
			ConstLabels: prometheus.Labels{"name": name},
		}),
		tripsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "campusgate_circuit_breaker_trips_total",
			Help:        "Total number of times the circuit breaker has opened",
			ConstLabels: prometheus.Labels{"name": name},
		}),
	}

	if !cfg.TestMode && registry != nil {
		registry.MustRegister(c.stateGauge, c.failuresCount, c.tripsTotal)
	}

	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 1
	}
	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: c.onStateChange,
		IsSuccessful:  isSuccessful,
	})
	return c
}

// isSuccessful keeps client cancellations from counting against the backend.
func isSuccessful(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}

// onStateChange runs under gobreaker's lock and must not call back into c.cb.
func (c *CircuitBreaker) onStateChange(name string, from, to gobreaker.State) {
	c.stateGauge.Set(float64(to))
	if to == gobreaker.StateOpen {
		c.tripsTotal.Inc()
		c.logger.Warn("circuit breaker opened",
			zap.String("name", name),
			zap.String("from", from.String()),
		)
		return
	}
	c.logger.Info("circuit breaker state changed",
		zap.String("name", name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
}

// Execute runs f unless the circuit is open. A rejected call returns an error matching
// ErrCircuitOpen without calling f.
func (c *CircuitBreaker) Execute(f func() error) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, f()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &OpenError{Name: c.name, cause: err}
	}
	if err != nil && !isSuccessful(err) {
		c.failuresCount.Inc()
	}
	return err
}

// Name returns the breaker's name.
func (c *CircuitBreaker) Name() string { return c.name }

// State returns the current state. Reading it may move an expired open breaker to half-open.
func (c *CircuitBreaker) State() gobreaker.State {
	return c.cb.State()
}

// Counts returns the request counts of the current generation.
func (c *CircuitBreaker) Counts() gobreaker.Counts {
	return c.cb.Counts()
}

// Open reports whether calls are currently rejected.
func (c *CircuitBreaker) Open() bool {
	return c.cb.State() == gobreaker.StateOpen
}
