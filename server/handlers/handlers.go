// Package handlers provides the HTTP handlers of the gateway: chat, schedule generation and
// health. Handlers decode and validate the body, call the processor and map failures onto
// the errors taxonomy; they never write partial results.
package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/teilomillet/campusgate/errors"
	"github.com/teilomillet/campusgate/server/middleware"
)

// requestLogger returns logger with the request's identifying fields.
func requestLogger(logger *zap.Logger, r *http.Request) *zap.Logger {
	return logger.With(
		zap.String("request_id", middleware.GetRequestID(r.Context())),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
	)
}

// fail logs err and writes it as a GateError.
func fail(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) *errors.GateError {
	requestID := middleware.GetRequestID(r.Context())
	gerr := errors.FromError(requestID, err)
	errors.LogError(logger, gerr, requestID)
	errors.WriteError(w, gerr)
	return gerr
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to encode response", zap.Error(err))
	}
}
