package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teilomillet/gollm"
	"go.uber.org/zap/zaptest"

	"github.com/teilomillet/campusgate/config"
	"github.com/teilomillet/campusgate/conversation"
	"github.com/teilomillet/campusgate/persona"
	"github.com/teilomillet/campusgate/schedule"
	"github.com/teilomillet/campusgate/server/metrics"
	"github.com/teilomillet/campusgate/server/middleware"
	"github.com/teilomillet/campusgate/server/mocks"
	"github.com/teilomillet/campusgate/server/processing"
	"github.com/teilomillet/campusgate/server/provider"
	"github.com/teilomillet/campusgate/server/validation"
)

type testEnv struct {
	router  http.Handler
	chat    *ChatHandler
	metrics *metrics.Metrics
	llm     *mocks.MockLLM
}

func newTestEnv(t *testing.T, generate func(context.Context, *gollm.Prompt) (string, error)) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)
	m := metrics.NewMetrics()

	llm := mocks.NewMockLLM(generate)
	manager := provider.NewManager(&config.Config{
		TestMode:       true,
		LLM:            config.LLMConfig{Timeout: time.Second, Retry: &config.RetryConfig{InitialDelay: time.Millisecond}},
		CircuitBreaker: config.CircuitBreakerConfig{FailureThreshold: 5, Timeout: time.Minute},
	}, []provider.Backend{llm.Backend(conversation.ProviderConstraints{RequiresLeadingUser: true, ForbidsAdjacentDuplicateRole: true})}, logger, nil)

	proc, err := processing.NewProcessor(&config.ProcessingConfig{
		ResponseFormatting: config.ResponseFormattingConfig{TrimWhitespace: true},
	}, manager, conversation.Assembler{}, logger, m)
	require.NoError(t, err)

	v, err := validation.New(config.ValidationConfig{MaxHistory: 20}, config.ScheduleConfig{MaxEvents: 3})
	require.NoError(t, err)

	chat := NewChatHandler(proc, persona.Default(), v, logger, m)
	sched := NewScheduleHandler(proc, schedule.Extractor{ExcerptLimit: 20}, v, logger, m)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Post("/v1/chat/{mode}", chat.ServeHTTP)
	r.Post("/v1/schedule", sched.ServeHTTP)
	r.Get("/health", NewHealthHandler(manager, "test", logger).ServeHTTP)

	return &testEnv{router: r, chat: chat, metrics: m, llm: llm}
}

func (e *testEnv) post(t *testing.T, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec, out
}

func TestChatHandler(t *testing.T) {
	t.Run("answers with the assembled history", func(t *testing.T) {
		env := newTestEnv(t, func(context.Context, *gollm.Prompt) (string, error) {
			return "  The essay is due Friday.  ", nil
		})

		rec, body := env.post(t, "/v1/chat/assistant", `{
			"message": "when is the essay due?",
			"history": [
				{"role": "assistant", "text": "Hi! I'm Campus Buddy, how can I help?"},
				{"role": "user", "text": "hello"},
				{"role": "assistant", "content": "Hey there."}
			],
			"personality": 2
		}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "The essay is due Friday.", body["reply"])
		assert.Equal(t, "assistant", body["mode"])
		assert.Equal(t, "mock", body["provider"])
		assert.Equal(t, float64(2), body["turns_used"])
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

		prompt := env.llm.LastPrompt()
		assert.Contains(t, prompt.SystemPrompt, "Be concise.")
		require.Len(t, prompt.Messages, 3)
		assert.Equal(t, gollm.PromptMessage{Role: "user", Content: "when is the essay due?"}, prompt.Messages[2])
		assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.ChatRequests.WithLabelValues("assistant", "ok")))
	})

	t.Run("unknown personality falls back to the default", func(t *testing.T) {
		for _, id := range []string{"-5", "0", "500"} {
			env := newTestEnv(t, nil)
			rec, _ := env.post(t, "/v1/chat/assistant", `{"message":"hi","personality":`+id+`}`)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Contains(t, env.llm.LastPrompt().SystemPrompt, "Be friendly and warm.")
		}
	})

	t.Run("topic mode fills its prompt", func(t *testing.T) {
		env := newTestEnv(t, nil)
		rec, _ := env.post(t, "/v1/chat/Topic", `{"message":"explain eigenvalues","topic":"linear algebra"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, env.llm.LastPrompt().SystemPrompt, "linear algebra")
	})

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		wantType   string
		wantLabels [2]string
	}{
		{
			name:       "unknown mode",
			path:       "/v1/chat/karaoke",
			body:       `{"message":"sing"}`,
			wantStatus: http.StatusNotFound,
			wantType:   "not_found",
			wantLabels: [2]string{"unknown", "invalid"},
		},
		{
			name:       "missing selection field",
			path:       "/v1/chat/university",
			body:       `{"message":"where is the library?"}`,
			wantStatus: http.StatusBadRequest,
			wantType:   "invalid_input",
			wantLabels: [2]string{"university", "invalid"},
		},
		{
			name:       "empty message",
			path:       "/v1/chat/assistant",
			body:       `{"message":"  ","history":[{"role":"user","text":"hi"}]}`,
			wantStatus: http.StatusBadRequest,
			wantType:   "invalid_input",
			wantLabels: [2]string{"assistant", "invalid"},
		},
		{
			name:       "malformed body",
			path:       "/v1/chat/assistant",
			body:       `{"message":`,
			wantStatus: http.StatusBadRequest,
			wantType:   "validation_error",
			wantLabels: [2]string{"assistant", "invalid"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			rec, body := env.post(t, tt.path, tt.body)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantType, body["type"])
			assert.Equal(t, rec.Header().Get("X-Request-ID"), body["request_id"])
			assert.Empty(t, env.llm.Prompts(), "no backend call for a refused request")
			assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.ChatRequests.WithLabelValues(tt.wantLabels[0], tt.wantLabels[1])))
		})
	}

	t.Run("upstream failure is reported, not masked", func(t *testing.T) {
		env := newTestEnv(t, func(context.Context, *gollm.Prompt) (string, error) {
			return "", errors.New("quota exceeded")
		})

		rec, body := env.post(t, "/v1/chat/assistant", `{"message":"hi"}`)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, "upstream_failure", body["type"])
		assert.Equal(t, []interface{}{"mock"}, body["details"].(map[string]interface{})["providers"])
		assert.NotContains(t, rec.Body.String(), "quota exceeded")
		assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.ChatRequests.WithLabelValues("assistant", "error")))
	})

	t.Run("persona table can be swapped", func(t *testing.T) {
		env := newTestEnv(t, nil)
		table, err := persona.New(config.PersonasConfig{Modes: map[string]config.ModeConfig{
			"karaoke": {Prompt: "You pick songs. {{.Personality}}"},
		}})
		require.NoError(t, err)
		env.chat.SetPersonas(table)

		rec, body := env.post(t, "/v1/chat/karaoke", `{"message":"something upbeat"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "karaoke", body["mode"])
		assert.True(t, strings.HasPrefix(env.llm.LastPrompt().SystemPrompt, "You pick songs."))
	})
}

func TestScheduleHandler(t *testing.T) {
	const request = `{
		"university": "Uni Lyon",
		"events": [
			{"title": "Algorithms", "type": "lecture", "day": "Monday", "start": "09:00", "end": "11:00"},
			{"title": "Midterm", "type": "exam", "day": "Friday"}
		]
	}`

	t.Run("returns the parsed document with colors", func(t *testing.T) {
		env := newTestEnv(t, func(context.Context, *gollm.Prompt) (string, error) {
			return "```json\n" + `{
				"optimizedSchedule": [
					{"title": "Algorithms", "type": "lecture", "day": "Monday", "startTime": "09:00", "endTime": "11:00"},
					{"title": "Midterm", "type": "exam", "day": "Friday", "color": "#000000"}
				],
				"tips": ["Review on Thursday"]
			}` + "\n```", nil
		})

		rec, body := env.post(t, "/v1/schedule", request)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		events := body["optimizedSchedule"].([]interface{})
		require.Len(t, events, 2)
		assert.Equal(t, schedule.EventColor("lecture"), events[0].(map[string]interface{})["color"])
		assert.Equal(t, "#000000", events[1].(map[string]interface{})["color"])
		assert.Equal(t, []interface{}{"Review on Thursday"}, body["tips"])
		assert.Contains(t, env.llm.LastPrompt().Messages[0].Content, "- Midterm (exam) on Friday")
	})

	t.Run("unparseable output is a parse failure", func(t *testing.T) {
		env := newTestEnv(t, func(context.Context, *gollm.Prompt) (string, error) {
			return "Sure! Here is your schedule: Monday is busy.", nil
		})

		rec, body := env.post(t, "/v1/schedule", request)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, "parse_failure", body["type"])
		assert.Equal(t, "Sure! Here is your s...", body["details"].(map[string]interface{})["excerpt"])
		assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.ScheduleParseFailures))
	})

	t.Run("too many events", func(t *testing.T) {
		env := newTestEnv(t, nil)
		rec, body := env.post(t, "/v1/schedule", `{"events":[{"title":"a"},{"title":"b"},{"title":"c"},{"title":"d"}]}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "validation_error", body["type"])
		assert.Empty(t, env.llm.Prompts())
	})

	t.Run("events are required", func(t *testing.T) {
		env := newTestEnv(t, nil)
		rec, body := env.post(t, "/v1/schedule", `{"preferences":"mornings off"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		fields := body["details"].(map[string]interface{})["fields"].([]interface{})
		assert.Equal(t, "events", fields[0].(map[string]interface{})["field"])
	})
}

type fakeReporter struct {
	available bool
}

func (f fakeReporter) Status() []provider.BackendStatus {
	return []provider.BackendStatus{{Name: "gemini", Healthy: f.available, CircuitBreaker: "closed"}}
}

func (f fakeReporter) Available() bool { return f.available }

func TestHealthHandler(t *testing.T) {
	for _, available := range []bool{true, false} {
		h := NewHealthHandler(fakeReporter{available: available}, "1.2.3", zaptest.NewLogger(t))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		var body HealthResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "1.2.3", body.Version)
		require.Len(t, body.Backends, 1)
		if available {
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "healthy", body.Status)
		} else {
			assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
			assert.Equal(t, "unhealthy", body.Status)
		}
	}
}
