package middleware

import "context"

type contextKey string

const (
	RequestIDKey     contextKey = "request_id"
	queuePositionKey contextKey = "queue_position"
	apiKeyKey        contextKey = "api_key"
)

// GetRequestID returns the request id stored by RequestID, or "".
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// QueuePosition returns how many requests were waiting ahead of this one when it was
// queued. It is 0 for requests that never waited.
func QueuePosition(ctx context.Context) int {
	if pos, ok := ctx.Value(queuePositionKey).(int); ok {
		return pos
	}
	return 0
}

// AuthenticatedKey returns the API key Authentication verified for this request, or "" when
// the request was not authenticated by key.
func AuthenticatedKey(ctx context.Context) string {
	if key, ok := ctx.Value(apiKeyKey).(string); ok {
		return key
	}
	return ""
}
