package provider

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/teilomillet/campusgate/server/circuitbreaker"
)

// Op performs one request against a backend. It is called once per attempt.
type Op func(ctx context.Context, b Backend) (string, error)

// Result is a successful Execute outcome.
type Result struct {
	Text     string
	Provider string
}

// Execute runs op against the first backend that succeeds. Backends that are unhealthy or
// whose breaker is open are skipped.
//
// Concurrent calls with the same non-empty key share one upstream execution. It keeps the
// first caller's deadline but not its cancellation, so a disconnecting client does not fail
// the callers sharing its request. A caller whose own context ends stops waiting.
//
// When no backend succeeds the error is an *UpstreamError.
func (m *Manager) Execute(ctx context.Context, key string, op Op) (Result, error) {
	if key == "" {
		return m.executeWithFailover(ctx, op)
	}

	ch := m.group.DoChan(key, func() (interface{}, error) {
		shared, cancel := detach(ctx)
		defer cancel()
		return m.executeWithFailover(shared, op)
	})

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case res := <-ch:
		if res.Shared {
			m.metrics.deduplicatedRequests.Inc()
			m.logger.Debug("request shared with in-flight duplicate", zap.String("key", key))
		}
		if res.Err != nil {
			return Result{}, res.Err
		}
		return res.Val.(Result), nil
	}
}

// detach returns a context that carries ctx's values and deadline but ignores its
// cancellation.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	shared := context.WithoutCancel(ctx)
	if deadline, ok := ctx.Deadline(); ok {
		return context.WithDeadline(shared, deadline)
	}
	return context.WithCancel(shared)
}

func (m *Manager) executeWithFailover(ctx context.Context, op Op) (Result, error) {
	var attempts []Attempt

	for _, b := range m.backends {
		name := b.Name()
		if !m.GetHealthStatus(name).Healthy {
			m.logger.Debug("skipping unhealthy provider", zap.String("provider", name))
			continue
		}
		breaker := m.breakers[name]
		if breaker.Open() {
			m.logger.Debug("skipping provider with open circuit", zap.String("provider", name))
			continue
		}

		start := time.Now()
		text, err := m.executeWithRetries(ctx, b, breaker, op)
		latency := time.Since(start)
		m.recordResult(name, err, latency)

		if err == nil {
			m.metrics.requestLatency.WithLabelValues(name, "success").Observe(latency.Seconds())
			return Result{Text: text, Provider: name}, nil
		}
		m.metrics.requestLatency.WithLabelValues(name, "error").Observe(latency.Seconds())

		attempts = append(attempts, Attempt{Provider: name, Err: err})
		m.logger.Warn("provider failed",
			zap.String("provider", name),
			zap.Error(err),
			zap.Duration("latency", latency),
			zap.String("breaker_state", breaker.State().String()),
		)

		if ctx.Err() != nil {
			break
		}
	}

	return Result{}, &UpstreamError{Attempts: attempts}
}

// executeWithRetries calls op through the backend's breaker, retrying transient failures.
// An open circuit or an ended context stops the retries.
func (m *Manager) executeWithRetries(ctx context.Context, b Backend, breaker *circuitbreaker.CircuitBreaker, op Op) (string, error) {
	tries := 0
	operation := func() (string, error) {
		if tries > 0 {
			m.metrics.retries.WithLabelValues(b.Name()).Inc()
		}
		tries++

		var text string
		err := breaker.Execute(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			callCtx, cancel := m.callContext(ctx)
			defer cancel()

			var err error
			text, err = op(callCtx, b)
			return err
		})
		if err == nil {
			return text, nil
		}
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) || ctx.Err() != nil {
			return "", backoff.Permanent(err)
		}
		return "", err
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(m.backOff()),
		backoff.WithMaxTries(uint(m.retry.MaxRetries+1)),
	)
}

func (m *Manager) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.callTimeout)
}

func (m *Manager) backOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.retry.InitialDelay
	bo.MaxInterval = m.retry.MaxDelay
	bo.Multiplier = m.retry.Multiplier
	return bo
}
