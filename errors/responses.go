package errors

import (
	"errors"
)

const RequestIDKey = "request_id"

// ErrorResponse is the JSON body written for every error. Clients decode it to read the
// type and details of a failure.
type ErrorResponse struct {
	Type      ErrorType              `json:"type"`
	Message   string                 `json:"message"`
	RequestID string                 `json:"request_id"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// As is errors.As, re-exported so callers importing this package need not alias the
// standard library.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Is is errors.Is, re-exported for the same reason as As.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
