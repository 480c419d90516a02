package circuitbreaker

import (
	"errors"
	"fmt"
)

// ErrCircuitOpen is matched by every OpenError.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// OpenError is returned when a breaker rejects a call.
type OpenError struct {
	Name  string
	cause error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %s: %v", e.Name, e.cause)
}

func (e *OpenError) Unwrap() error { return e.cause }

func (e *OpenError) Is(target error) bool { return target == ErrCircuitOpen }
