package provider

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoHealthyProvider indicates that every backend was skipped before a call was made.
var ErrNoHealthyProvider = errors.New("no healthy provider available")

// Attempt records one backend's failure during Execute.
type Attempt struct {
	Provider string
	Err      error
}

// UpstreamError is returned by Manager.Execute when no backend produced a response.
// It unwraps to every attempt's error, so errors.Is finds context.DeadlineExceeded and
// circuitbreaker.ErrCircuitOpen.
type UpstreamError struct {
	Attempts []Attempt
}

func (e *UpstreamError) Error() string {
	if len(e.Attempts) == 0 {
		return ErrNoHealthyProvider.Error()
	}
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s: %v", a.Provider, a.Err)
	}
	return "all providers failed: " + strings.Join(parts, "; ")
}

func (e *UpstreamError) Unwrap() []error {
	if len(e.Attempts) == 0 {
		return []error{ErrNoHealthyProvider}
	}
	errs := make([]error, len(e.Attempts))
	for i, a := range e.Attempts {
		errs[i] = a.Err
	}
	return errs
}

// Providers lists the backends that were attempted, in order.
func (e *UpstreamError) Providers() []string {
	out := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		out[i] = a.Provider
	}
	return out
}
