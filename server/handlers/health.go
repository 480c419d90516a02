package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/teilomillet/campusgate/server/provider"
)

// BackendReporter reports backend health. *provider.Manager implements it.
type BackendReporter interface {
	Status() []provider.BackendStatus
	Available() bool
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string                   `json:"status"`
	Version  string                   `json:"version,omitempty"`
	Backends []provider.BackendStatus `json:"backends"`
}

// HealthHandler answers 200 while at least one backend can take requests and 503
// otherwise.
type HealthHandler struct {
	backends BackendReporter
	version  string
	logger   *zap.Logger
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(backends BackendReporter, version string, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{backends: backends, version: version, logger: logger}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:   "healthy",
		Version:  h.version,
		Backends: h.backends.Status(),
	}
	status := http.StatusOK
	if !h.backends.Available() {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, h.logger, status, resp)
}
