// Package errors is the HTTP-facing error taxonomy of campusgate.
//
// Core packages return plain Go errors. Handlers convert them with FromError into a
// *GateError, which carries a stable type string, the HTTP status, the request id and
// optional details, and is written to the client as JSON:
//
//	{"type":"parse_failure","message":"...","request_id":"...","details":{"excerpt":"..."}}
//
// Basic usage:
//
//	errors.ErrorWithType(w, "Invalid request body", errors.ValidationError, http.StatusBadRequest)
//
//	gerr := errors.FromError(requestID, err)
//	errors.LogError(logger, gerr, requestID)
//	errors.WriteError(w, gerr)
package errors

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// DefaultLogger is the zap logger used by the package helpers. It is replaced by the
// server's logger through SetLogger.
var DefaultLogger *zap.Logger

func init() {
	var err error
	DefaultLogger, err = zap.NewProduction()
	if err != nil {
		DefaultLogger = zap.NewNop()
	}
}

// SetLogger sets the package logger. A nil logger is ignored.
func SetLogger(logger *zap.Logger) {
	if logger != nil {
		DefaultLogger = logger
	}
}

// ErrorType is the stable, client-visible category of an error.
type ErrorType string

const (
	// AuthError is a missing or unknown API key.
	AuthError ErrorType = "authentication_error"

	// ValidationError is a malformed request body or a value outside its bounds.
	ValidationError ErrorType = "validation_error"

	// InvalidInputError is an empty chat message or a persona selection missing a required field.
	InvalidInputError ErrorType = "invalid_input"

	// ParseFailureError is model output that is not the expected structured document.
	ParseFailureError ErrorType = "parse_failure"

	// UpstreamFailureError is a model backend that failed or could not be reached.
	UpstreamFailureError ErrorType = "upstream_failure"

	// RateLimitError is a client that exceeded its request rate.
	RateLimitError ErrorType = "rate_limit_error"

	// NotFoundError is an unknown route or chat mode.
	NotFoundError ErrorType = "not_found"

	// InternalError is anything unexpected, including recovered panics.
	InternalError ErrorType = "internal_error"

	// ConfigError is a configuration that cannot be served.
	ConfigError ErrorType = "config_error"

	// QueueFullError is a request rejected because the wait queue is full.
	QueueFullError ErrorType = "queue_full"
)

// GateError is the error written to HTTP clients. The wrapped error is kept for logging
// and errors.Is/As but never serialized.
type GateError struct {
	// Type categorizes the error for client handling
	Type ErrorType `json:"type"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Code is the HTTP status code (not exposed in JSON)
	Code int `json:"-"`

	// RequestID links the error to a specific request
	RequestID string `json:"request_id"`

	// Details contains additional error context
	Details map[string]interface{} `json:"details,omitempty"`

	err error
}

func (e *GateError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *GateError) Unwrap() error {
	return e.err
}

// Is matches any *GateError of the same Type.
func (e *GateError) Is(target error) bool {
	t, ok := target.(*GateError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WriteError writes err as a JSON response with its status code.
func WriteError(w http.ResponseWriter, err *GateError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Code)
	if encErr := json.NewEncoder(w).Encode(err); encErr != nil {
		DefaultLogger.Warn("failed to encode error response", zap.Error(encErr))
	}
}

// Error is a drop-in replacement for http.Error that writes an InternalError. The request
// id is taken from the response headers when the request id middleware has set it.
func Error(w http.ResponseWriter, message string, code int) {
	ErrorWithType(w, message, InternalError, code)
}

// ErrorWithType is like Error with an explicit error type.
func ErrorWithType(w http.ResponseWriter, message string, errType ErrorType, code int) {
	WriteError(w, &GateError{
		Type:      errType,
		Message:   message,
		Code:      code,
		RequestID: w.Header().Get("X-Request-ID"),
	})
}
