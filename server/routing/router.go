// Package routing builds the HTTP router from the route table in the configuration.
package routing

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/teilomillet/campusgate/config"
	"github.com/teilomillet/campusgate/errors"
	"github.com/teilomillet/campusgate/server/metrics"
	"github.com/teilomillet/campusgate/server/middleware"
)

// Middleware holds the middleware a route can name in its config. A nil entry means the
// feature is disabled and routes naming it run without it.
type Middleware struct {
	Auth      func(http.Handler) http.Handler
	RateLimit func(http.Handler) http.Handler
	Queue     func(http.Handler) http.Handler
}

func (m Middleware) lookup(name string) (func(http.Handler) http.Handler, bool) {
	switch name {
	case "auth":
		return m.Auth, true
	case "rate-limit", "ratelimit":
		return m.RateLimit, true
	case "queue":
		return m.Queue, true
	}
	return nil, false
}

// Router is the gateway's HTTP entry point.
type Router struct {
	router   chi.Router
	handlers map[string]http.Handler
	mw       Middleware
	logger   *zap.Logger
	cfg      *config.Config
}

// NewRouter installs the global middleware stack and one route per cfg.Routes entry.
// Routes naming a handler that is not in handlers are skipped with an error log.
// m may be nil.
func NewRouter(cfg *config.Config, handlers map[string]http.Handler, mw Middleware, m *metrics.Metrics, logger *zap.Logger) *Router {
	r := &Router{
		router:   chi.NewRouter(),
		handlers: handlers,
		mw:       mw,
		logger:   logger,
		cfg:      cfg,
	}

	r.router.Use(middleware.RequestID)
	r.router.Use(middleware.RequestTimer)
	r.router.Use(middleware.Logging(logger))
	if m != nil {
		r.router.Use(middleware.PrometheusMetrics(m))
	}
	r.router.Use(errors.ErrorHandler(logger))
	r.router.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	r.router.Use(middleware.BodyLimit(cfg.Server.MaxBodyBytes))
	r.router.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	r.router.NotFound(func(w http.ResponseWriter, req *http.Request) {
		errors.WriteError(w, errors.NewNotFoundError(middleware.GetRequestID(req.Context()),
			fmt.Sprintf("no route for %s", req.URL.Path), nil))
	})
	r.router.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		errors.WriteError(w, errors.NewError(errors.ValidationError, "Method not allowed",
			http.StatusMethodNotAllowed, middleware.GetRequestID(req.Context()),
			map[string]interface{}{"method": req.Method}, nil))
	})

	r.setupRoutes()
	return r
}

// setupRoutes registers every configured route in its own group so route middleware does
// not leak between routes.
func (r *Router) setupRoutes() {
	for _, route := range r.cfg.Routes {
		handler, ok := r.handlers[route.Handler]
		if !ok {
			r.logger.Error("handler not found",
				zap.String("handler", route.Handler),
				zap.String("path", route.Path),
			)
			continue
		}

		r.router.Group(func(router chi.Router) {
			for _, name := range route.Middleware {
				mw, known := r.mw.lookup(name)
				switch {
				case !known:
					r.logger.Warn("unknown middleware requested", zap.String("middleware", name))
				case mw == nil:
					r.logger.Debug("middleware disabled",
						zap.String("middleware", name),
						zap.String("path", route.Path),
					)
				default:
					router.Use(mw)
				}
			}

			if route.Version != "" {
				router.Use(apiVersion(route.Version))
			}
			if len(route.Headers) > 0 {
				router.Use(requireHeaders(route.Headers))
			}

			methods := route.Methods
			if len(methods) == 0 {
				methods = []string{http.MethodGet}
			}
			for _, method := range methods {
				router.Method(strings.ToUpper(method), route.Path, handler)
			}
		})

		r.logger.Debug("route registered",
			zap.String("path", route.Path),
			zap.String("handler", route.Handler),
			zap.Strings("middleware", route.Middleware),
		)
	}
}

// apiVersion sets X-API-Version on responses of a versioned route.
func apiVersion(version string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-API-Version", version)
			next.ServeHTTP(w, r)
		})
	}
}

// requireHeaders rejects requests whose headers do not carry the configured values.
func requireHeaders(headers map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for key, value := range headers {
				if r.Header.Get(key) != value {
					errors.WriteError(w, errors.NewValidationError(middleware.GetRequestID(r.Context()),
						fmt.Sprintf("missing or invalid header: %s", key),
						map[string]interface{}{"header": key}))
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ServeHTTP implements the http.Handler interface.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.router.ServeHTTP(w, req)
}
