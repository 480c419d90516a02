package routing

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/teilomillet/campusgate/config"
	"github.com/teilomillet/campusgate/server/metrics"
	"github.com/teilomillet/campusgate/server/middleware"
)

func echo(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	})
}

func serve(h http.Handler, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouter_NewRouter(t *testing.T) {
	cfg := &config.Config{
		Routes: []config.RouteConfig{{Path: "/v1/chat/{mode}", Handler: "chat", Version: "v1", Methods: []string{"POST"}}},
	}
	handlers := map[string]http.Handler{"chat": echo("chat")}

	router := NewRouter(cfg, handlers, Middleware{}, nil, zap.NewNop())
	require.NotNil(t, router)
	assert.NotNil(t, router.router)
	assert.Equal(t, handlers, router.handlers)
}

func TestRouter_Routes(t *testing.T) {
	cfg := &config.Config{
		Routes: []config.RouteConfig{
			{Path: "/v1/chat/{mode}", Handler: "chat", Version: "v1", Methods: []string{"post"}},
			{Path: "/health", Handler: "health", Version: "v1"},
			{Path: "/v1/missing", Handler: "missing", Version: "v1"},
		},
	}
	router := NewRouter(cfg, map[string]http.Handler{
		"chat":   echo("chat"),
		"health": echo("ok"),
	}, Middleware{}, metrics.NewMetrics(), zaptest.NewLogger(t))

	rec := serve(router, http.MethodPost, "/v1/chat/assistant", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "chat", rec.Body.String())
	assert.Equal(t, "v1", rec.Header().Get("X-API-Version"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.NotEmpty(t, rec.Header().Get("X-Response-Time"))

	rec = serve(router, http.MethodGet, "/health", nil)
	assert.Equal(t, "ok", rec.Body.String())

	t.Run("method not allowed", func(t *testing.T) {
		rec := serve(router, http.MethodGet, "/v1/chat/assistant", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		assert.Contains(t, rec.Body.String(), `"validation_error"`)
	})

	t.Run("unknown path", func(t *testing.T) {
		rec := serve(router, http.MethodGet, "/v2/chat", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "not_found", body["type"])
		assert.Equal(t, rec.Header().Get("X-Request-ID"), body["request_id"])
	})

	t.Run("route without handler is skipped", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, serve(router, http.MethodGet, "/v1/missing", nil).Code)
	})

	t.Run("preflight", func(t *testing.T) {
		rec := serve(router, http.MethodOptions, "/v1/chat/assistant", map[string]string{"Origin": "https://app.example"})
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestRouter_RouteMiddleware(t *testing.T) {
	var order []string
	tag := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	cfg := &config.Config{
		Routes: []config.RouteConfig{
			{Path: "/v1/chat/{mode}", Handler: "chat", Version: "v1", Methods: []string{"POST"}, Middleware: []string{"auth", "rate-limit", "queue"}},
			{Path: "/health", Handler: "health", Version: "v1"},
		},
	}
	router := NewRouter(cfg, map[string]http.Handler{
		"chat":   echo("chat"),
		"health": echo("ok"),
	}, Middleware{
		Auth:      middleware.Authentication([]string{"secret"}),
		RateLimit: tag("rate-limit"),
		// Queue disabled.
	}, nil, zaptest.NewLogger(t))

	rec := serve(router, http.MethodPost, "/v1/chat/assistant", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, order)

	rec = serve(router, http.MethodPost, "/v1/chat/assistant", map[string]string{"X-API-Key": "secret"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"rate-limit"}, order)

	// Route middleware does not apply to other routes.
	rec = serve(router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"rate-limit"}, order)
}

func TestRouter_RequiredHeaders(t *testing.T) {
	cfg := &config.Config{
		Routes: []config.RouteConfig{{
			Path:    "/v1/schedule",
			Handler: "schedule",
			Version: "v1",
			Methods: []string{"POST"},
			Headers: map[string]string{"X-Client": "campus-app"},
		}},
	}
	router := NewRouter(cfg, map[string]http.Handler{"schedule": echo("plan")}, Middleware{}, nil, zap.NewNop())

	rec := serve(router, http.MethodPost, "/v1/schedule", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing or invalid header: X-Client")

	rec = serve(router, http.MethodPost, "/v1/schedule", map[string]string{"X-Client": "campus-app"})
	assert.Equal(t, "plan", rec.Body.String())
}

func TestRouter_RecoversPanics(t *testing.T) {
	cfg := &config.Config{
		Routes: []config.RouteConfig{{Path: "/boom", Handler: "boom", Version: "v1"}},
	}
	router := NewRouter(cfg, map[string]http.Handler{
		"boom": http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { panic("kaboom") }),
	}, Middleware{}, metrics.NewMetrics(), zap.NewNop())

	rec := serve(router, http.MethodGet, "/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), `"internal_error"`)
	assert.NotContains(t, rec.Body.String(), "kaboom")
}
