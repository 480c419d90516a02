package handlers

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/teilomillet/campusgate/conversation"
	"github.com/teilomillet/campusgate/persona"
	"github.com/teilomillet/campusgate/server/metrics"
	"github.com/teilomillet/campusgate/server/processing"
	"github.com/teilomillet/campusgate/server/validation"
)

// Chatter answers chat messages. *processing.Processor implements it.
type Chatter interface {
	Chat(ctx context.Context, raw []conversation.RawTurn, message string, p conversation.PersonaConfig) (*processing.ChatResult, error)
}

// ChatResponse is the body returned by the chat endpoint.
type ChatResponse struct {
	Reply     string `json:"reply"`
	Mode      string `json:"mode"`
	Provider  string `json:"provider"`
	TurnsUsed int    `json:"turns_used"`
}

// ChatHandler serves POST /v1/chat/{mode}.
type ChatHandler struct {
	chat      Chatter
	personas  atomic.Pointer[persona.Table]
	validator *validation.Validator
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewChatHandler creates a chat handler. m may be nil.
func NewChatHandler(chat Chatter, table *persona.Table, v *validation.Validator, logger *zap.Logger, m *metrics.Metrics) *ChatHandler {
	h := &ChatHandler{
		chat:      chat,
		validator: v,
		logger:    logger,
		metrics:   m,
	}
	h.SetPersonas(table)
	return h
}

// SetPersonas replaces the persona table used by later requests.
func (h *ChatHandler) SetPersonas(t *persona.Table) {
	h.personas.Store(t)
}

// Personas returns the current persona table.
func (h *ChatHandler) Personas() *persona.Table {
	return h.personas.Load()
}

func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(h.logger, r)
	table := h.Personas()

	mode := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "mode")))
	if mode == "" {
		mode = "assistant"
	}
	modeLabel := mode
	if _, ok := table.Mode(mode); !ok {
		modeLabel = "unknown"
	}

	var req validation.ChatRequest
	if err := h.validator.Decode(r, &req); err != nil {
		h.count(modeLabel, "invalid")
		fail(w, r, logger, err)
		return
	}
	if err := h.validator.Chat(&req); err != nil {
		h.count(modeLabel, "invalid")
		fail(w, r, logger, err)
		return
	}

	p, err := table.Resolve(mode, persona.Selection{
		Personality: req.Personality,
		Topic:       req.Topic,
		University:  req.University,
		PeerID:      req.PeerID,
	})
	if err != nil {
		h.count(modeLabel, "invalid")
		fail(w, r, logger, err)
		return
	}

	res, err := h.chat.Chat(r.Context(), req.History, req.Message, p)
	if err != nil {
		gerr := fail(w, r, logger, err)
		if gerr.Code < http.StatusInternalServerError {
			h.count(modeLabel, "invalid")
		} else {
			h.count(modeLabel, "error")
		}
		return
	}

	h.count(modeLabel, "ok")
	logger.Debug("chat answered",
		zap.String("mode", mode),
		zap.String("provider", res.Provider),
		zap.Int("history", len(req.History)),
		zap.Int("turns_used", res.TurnsUsed),
	)
	writeJSON(w, logger, http.StatusOK, ChatResponse{
		Reply:     res.Reply,
		Mode:      mode,
		Provider:  res.Provider,
		TurnsUsed: res.TurnsUsed,
	})
}

func (h *ChatHandler) count(mode, outcome string) {
	if h.metrics != nil {
		h.metrics.ChatRequests.WithLabelValues(mode, outcome).Inc()
	}
}
