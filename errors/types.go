package errors

import (
	"context"
	"errors"
	"net/http"

	"github.com/teilomillet/campusgate/conversation"
	"github.com/teilomillet/campusgate/schedule"
)

// NewError creates a GateError with full control over its fields. Prefer the specialized
// constructors below.
func NewError(errType ErrorType, message string, code int, requestID string, details map[string]interface{}, err error) *GateError {
	return &GateError{
		Type:      errType,
		Message:   message,
		Code:      code,
		RequestID: requestID,
		Details:   details,
		err:       err,
	}
}

// NewAuthError creates an authentication error.
func NewAuthError(requestID, message string, err error) *GateError {
	return &GateError{
		Type:      AuthError,
		Message:   message,
		Code:      http.StatusUnauthorized,
		RequestID: requestID,
		err:       err,
		Details: map[string]interface{}{
			"suggestion": "Send a configured key in the X-API-Key header",
		},
	}
}

// NewValidationError creates a validation error. Details usually map field names to the
// rule they broke.
func NewValidationError(requestID, message string, validationDetails map[string]interface{}) *GateError {
	return &GateError{
		Type:      ValidationError,
		Message:   message,
		Code:      http.StatusBadRequest,
		RequestID: requestID,
		Details:   validationDetails,
	}
}

// NewInvalidInputError reports a request the assembler or persona table refused.
func NewInvalidInputError(requestID, message string, err error) *GateError {
	return &GateError{
		Type:      InvalidInputError,
		Message:   message,
		Code:      http.StatusBadRequest,
		RequestID: requestID,
		err:       err,
	}
}

// NewParseFailureError reports model output that could not be parsed. The excerpt is the
// bounded start of the raw output.
func NewParseFailureError(requestID, excerpt string, err error) *GateError {
	return &GateError{
		Type:      ParseFailureError,
		Message:   "The model returned a response that is not a valid schedule document",
		Code:      http.StatusBadGateway,
		RequestID: requestID,
		Details: map[string]interface{}{
			"excerpt": excerpt,
		},
		err: err,
	}
}

// NewUpstreamError reports a failed model call. providers lists the backends tried in
// order; timedOut selects 504 instead of 502.
func NewUpstreamError(requestID string, providers []string, timedOut bool, err error) *GateError {
	code := http.StatusBadGateway
	message := "The model backend failed to answer"
	if timedOut {
		code = http.StatusGatewayTimeout
		message = "The model backend did not answer in time"
	}
	var details map[string]interface{}
	if len(providers) > 0 {
		details = map[string]interface{}{"providers": providers}
	}
	return &GateError{
		Type:      UpstreamFailureError,
		Message:   message,
		Code:      code,
		RequestID: requestID,
		Details:   details,
		err:       err,
	}
}

// NewNotFoundError reports an unknown resource, such as a chat mode.
func NewNotFoundError(requestID, message string, err error) *GateError {
	return &GateError{
		Type:      NotFoundError,
		Message:   message,
		Code:      http.StatusNotFound,
		RequestID: requestID,
		err:       err,
	}
}

// NewRateLimitError creates a rate limit error. retryAfter is in seconds.
func NewRateLimitError(requestID string, retryAfter int) *GateError {
	return &GateError{
		Type:      RateLimitError,
		Message:   "Rate limit exceeded",
		Code:      http.StatusTooManyRequests,
		RequestID: requestID,
		Details: map[string]interface{}{
			"retry_after": retryAfter,
		},
	}
}

// NewQueueFullError reports a request dropped because the wait queue is full.
func NewQueueFullError(requestID string) *GateError {
	return &GateError{
		Type:      QueueFullError,
		Message:   "Server is busy, try again shortly",
		Code:      http.StatusServiceUnavailable,
		RequestID: requestID,
	}
}

// NewInternalError creates an internal server error. The cause is logged, never returned.
func NewInternalError(requestID string, err error) *GateError {
	return &GateError{
		Type:      InternalError,
		Message:   "An internal error occurred",
		Code:      http.StatusInternalServerError,
		RequestID: requestID,
		err:       err,
	}
}

// upstreamFailure is implemented by errors that record which backends were attempted.
type upstreamFailure interface {
	error
	Providers() []string
}

// notFound is implemented by errors that name an unknown resource.
type notFound interface {
	error
	NotFound() bool
}

// invalidInput is implemented by errors that describe which part of a request was refused.
type invalidInput interface {
	error
	InvalidInput() bool
}

// validationFailure is implemented by request validation errors.
type validationFailure interface {
	error
	ValidationMessage() string
	ValidationDetails() map[string]interface{}
}

// FromError maps an error returned by the core packages onto the taxonomy. A *GateError
// is returned unchanged apart from a missing request id.
func FromError(requestID string, err error) *GateError {
	if err == nil {
		return nil
	}

	var gerr *GateError
	if errors.As(err, &gerr) {
		if gerr.RequestID == "" {
			cp := *gerr
			cp.RequestID = requestID
			return &cp
		}
		return gerr
	}

	var vf validationFailure
	if errors.As(err, &vf) {
		gerr := NewValidationError(requestID, vf.ValidationMessage(), vf.ValidationDetails())
		gerr.err = err
		return gerr
	}

	var perr *schedule.ParseError
	if errors.As(err, &perr) {
		return NewParseFailureError(requestID, perr.Excerpt, err)
	}

	var nf notFound
	if errors.As(err, &nf) && nf.NotFound() {
		return NewNotFoundError(requestID, nf.Error(), err)
	}

	var ii invalidInput
	if errors.As(err, &ii) && ii.InvalidInput() {
		return NewInvalidInputError(requestID, ii.Error(), err)
	}
	if errors.Is(err, conversation.ErrInvalidInput) {
		return NewInvalidInputError(requestID, "Message must not be empty", err)
	}

	var uf upstreamFailure
	if errors.As(err, &uf) {
		return NewUpstreamError(requestID, uf.Providers(), errors.Is(err, context.DeadlineExceeded), err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewUpstreamError(requestID, nil, true, err)
	}

	return NewInternalError(requestID, err)
}
