package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/teilomillet/campusgate/schedule"
	"github.com/teilomillet/campusgate/server/metrics"
	"github.com/teilomillet/campusgate/server/processing"
	"github.com/teilomillet/campusgate/server/validation"
)

// Generator renders a named prompt template and sends it upstream. *processing.Processor
// implements it.
type Generator interface {
	Generate(ctx context.Context, name string, data interface{}) (*processing.Response, error)
}

// ScheduleHandler serves POST /v1/schedule: it asks the model for an optimized schedule
// and returns the parsed document with event colors filled in.
type ScheduleHandler struct {
	gen       Generator
	extractor schedule.Extractor
	validator *validation.Validator
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewScheduleHandler creates a schedule handler. m may be nil.
func NewScheduleHandler(gen Generator, x schedule.Extractor, v *validation.Validator, logger *zap.Logger, m *metrics.Metrics) *ScheduleHandler {
	return &ScheduleHandler{
		gen:       gen,
		extractor: x,
		validator: v,
		logger:    logger,
		metrics:   m,
	}
}

func (h *ScheduleHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(h.logger, r)

	var req processing.ScheduleRequest
	if err := h.validator.Decode(r, &req); err != nil {
		fail(w, r, logger, err)
		return
	}
	if err := h.validator.Events(len(req.Events)); err != nil {
		fail(w, r, logger, err)
		return
	}

	res, err := h.gen.Generate(r.Context(), processing.ScheduleTemplate, req)
	if err != nil {
		fail(w, r, logger, err)
		return
	}

	doc, err := h.extractor.Extract(res.Content)
	if err != nil {
		if errors.Is(err, schedule.ErrParseFailure) && h.metrics != nil {
			h.metrics.ScheduleParseFailures.Inc()
		}
		fail(w, r, logger.With(zap.String("provider", res.Provider)), err)
		return
	}
	doc.Colorize()

	logger.Debug("schedule generated",
		zap.String("provider", res.Provider),
		zap.Int("events_in", len(req.Events)),
		zap.Int("events_out", len(doc.OptimizedSchedule)),
	)
	writeJSON(w, logger, http.StatusOK, doc)
}
