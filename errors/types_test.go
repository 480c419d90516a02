package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teilomillet/campusgate/conversation"
	"github.com/teilomillet/campusgate/schedule"
)

func TestNewAuthError(t *testing.T) {
	inner := errors.New("unknown key")
	err := NewAuthError("test-123", "invalid credentials", inner)

	assert.Equal(t, AuthError, err.Type)
	assert.Equal(t, "invalid credentials", err.Message)
	assert.Equal(t, http.StatusUnauthorized, err.Code)
	assert.Equal(t, "test-123", err.RequestID)
	assert.Same(t, inner, err.Unwrap())
	assert.Contains(t, err.Details, "suggestion")
}

func TestNewValidationError(t *testing.T) {
	details := map[string]interface{}{"message": "required"}
	err := NewValidationError("test-456", "invalid request", details)

	assert.Equal(t, ValidationError, err.Type)
	assert.Equal(t, http.StatusBadRequest, err.Code)
	assert.Equal(t, "required", err.Details["message"])
}

func TestNewRateLimitError(t *testing.T) {
	err := NewRateLimitError("test-789", 60)

	assert.Equal(t, RateLimitError, err.Type)
	assert.Equal(t, http.StatusTooManyRequests, err.Code)
	assert.Equal(t, 60, err.Details["retry_after"])
}

func TestNewUpstreamError(t *testing.T) {
	err := NewUpstreamError("r", []string{"gemini", "openai"}, false, nil)
	assert.Equal(t, http.StatusBadGateway, err.Code)
	assert.Equal(t, []string{"gemini", "openai"}, err.Details["providers"])

	err = NewUpstreamError("r", nil, true, nil)
	assert.Equal(t, http.StatusGatewayTimeout, err.Code)
	assert.Nil(t, err.Details)
}

type fakeUpstream struct {
	providers []string
	cause     error
}

func (f *fakeUpstream) Error() string       { return "all backends failed" }
func (f *fakeUpstream) Unwrap() error       { return f.cause }
func (f *fakeUpstream) Providers() []string { return f.providers }

type fakeNotFound struct{}

func (fakeNotFound) Error() string  { return `unknown chat mode "karaoke"` }
func (fakeNotFound) NotFound() bool { return true }

type fakeSelection struct{}

func (fakeSelection) Error() string      { return "chat mode topic requires a topic" }
func (fakeSelection) InvalidInput() bool { return true }

type fakeValidation struct{}

func (fakeValidation) Error() string             { return "Request validation failed: history: too long" }
func (fakeValidation) ValidationMessage() string { return "Request validation failed" }
func (fakeValidation) ValidationDetails() map[string]interface{} {
	return map[string]interface{}{"field": "history"}
}

func TestFromError(t *testing.T) {
	_, parseErr := schedule.Extract("not json")
	require.Error(t, parseErr)

	tests := []struct {
		name     string
		err      error
		wantType ErrorType
		wantCode int
		check    func(t *testing.T, g *GateError)
	}{
		{
			name:     "empty message",
			err:      conversation.ErrInvalidInput,
			wantType: InvalidInputError,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "missing selection field",
			err:      fmt.Errorf("resolve persona: %w", fakeSelection{}),
			wantType: InvalidInputError,
			wantCode: http.StatusBadRequest,
			check: func(t *testing.T, g *GateError) {
				assert.Contains(t, g.Message, "requires a topic")
			},
		},
		{
			name:     "parse failure carries excerpt",
			err:      fmt.Errorf("schedule: %w", parseErr),
			wantType: ParseFailureError,
			wantCode: http.StatusBadGateway,
			check: func(t *testing.T, g *GateError) {
				assert.Equal(t, "not json", g.Details["excerpt"])
			},
		},
		{
			name:     "unknown mode",
			err:      fakeNotFound{},
			wantType: NotFoundError,
			wantCode: http.StatusNotFound,
		},
		{
			name:     "upstream failure lists providers",
			err:      &fakeUpstream{providers: []string{"gemini", "openai"}, cause: errors.New("503")},
			wantType: UpstreamFailureError,
			wantCode: http.StatusBadGateway,
			check: func(t *testing.T, g *GateError) {
				assert.Equal(t, []string{"gemini", "openai"}, g.Details["providers"])
			},
		},
		{
			name:     "upstream deadline",
			err:      &fakeUpstream{providers: []string{"gemini"}, cause: context.DeadlineExceeded},
			wantType: UpstreamFailureError,
			wantCode: http.StatusGatewayTimeout,
		},
		{
			name:     "bare deadline",
			err:      fmt.Errorf("generate: %w", context.DeadlineExceeded),
			wantType: UpstreamFailureError,
			wantCode: http.StatusGatewayTimeout,
		},
		{
			name:     "request validation",
			err:      fakeValidation{},
			wantType: ValidationError,
			wantCode: http.StatusBadRequest,
			check: func(t *testing.T, g *GateError) {
				assert.Equal(t, "Request validation failed", g.Message)
				assert.Equal(t, "history", g.Details["field"])
			},
		},
		{
			name:     "anything else",
			err:      errors.New("template exploded"),
			wantType: InternalError,
			wantCode: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := FromError("req-1", tt.err)
			require.NotNil(t, g)
			assert.Equal(t, tt.wantType, g.Type)
			assert.Equal(t, tt.wantCode, g.Code)
			assert.Equal(t, "req-1", g.RequestID)
			assert.ErrorIs(t, g, tt.err)
			if tt.check != nil {
				tt.check(t, g)
			}
		})
	}
}

func TestFromErrorKeepsGateErrors(t *testing.T) {
	assert.Nil(t, FromError("r", nil))

	orig := NewQueueFullError("")
	got := FromError("req-9", orig)
	assert.Equal(t, "req-9", got.RequestID)
	assert.Empty(t, orig.RequestID, "original is not modified")
	assert.Equal(t, QueueFullError, got.Type)

	withID := NewQueueFullError("req-1")
	assert.Same(t, withID, FromError("req-2", withID))
}
