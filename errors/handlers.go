package errors

import (
	"errors"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"
)

// ErrorHandler recovers panics from next, logs them with the stack and answers with an
// internal error.
func ErrorHandler(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					requestID := r.Header.Get("X-Request-ID")
					logger.Error("panic recovered",
						zap.Any("error", rec),
						zap.ByteString("stacktrace", debug.Stack()),
						zap.String("request_id", requestID),
					)
					WriteError(w, NewInternalError(requestID, nil))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// LogError logs err with its request id. Client errors are logged at warn level and
// server-side failures at error level.
func LogError(logger *zap.Logger, err error, requestID string) {
	var gerr *GateError
	if !errors.As(err, &gerr) {
		logger.Error("unexpected error",
			zap.Error(err),
			zap.String("request_id", requestID),
		)
		return
	}

	fields := []zap.Field{
		zap.String("error_type", string(gerr.Type)),
		zap.String("message", gerr.Message),
		zap.Int("code", gerr.Code),
		zap.String("request_id", requestID),
	}
	if gerr.Details != nil {
		fields = append(fields, zap.Any("details", gerr.Details))
	}
	if gerr.err != nil {
		fields = append(fields, zap.Error(gerr.err))
	}

	if gerr.Code >= http.StatusInternalServerError {
		logger.Error("request error", fields...)
	} else {
		logger.Warn("request error", fields...)
	}
}
