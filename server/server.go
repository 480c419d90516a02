// Package server wires the campusgate components together and runs the HTTP server.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"reflect"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/teilomillet/campusgate/config"
	"github.com/teilomillet/campusgate/conversation"
	"github.com/teilomillet/campusgate/persona"
	"github.com/teilomillet/campusgate/schedule"
	"github.com/teilomillet/campusgate/server/handlers"
	"github.com/teilomillet/campusgate/server/metrics"
	"github.com/teilomillet/campusgate/server/middleware"
	"github.com/teilomillet/campusgate/server/processing"
	"github.com/teilomillet/campusgate/server/provider"
	"github.com/teilomillet/campusgate/server/routing"
	"github.com/teilomillet/campusgate/server/validation"
)

// Version is reported by /health and the -version flag.
const Version = "v0.1.0"

// Server owns the HTTP listener and everything behind it.
type Server struct {
	watcher    config.Watcher
	cfg        *config.Config
	logger     *zap.Logger
	metrics    *metrics.Metrics
	manager    *provider.Manager
	processor  *processing.Processor
	chat       *handlers.ChatHandler
	queue      *middleware.QueueMiddleware
	router     *routing.Router
	httpServer *http.Server
}

// NewServer loads configPath, watches it for changes and builds a backend for every
// configured provider.
func NewServer(configPath string, logger *zap.Logger) (*Server, error) {
	watcher, err := config.NewConfigWatcher(configPath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}
	s, err := NewServerWithConfig(watcher, nil, logger)
	if err != nil {
		_ = watcher.Close()
		return nil, err
	}
	return s, nil
}

// NewServerWithConfig builds a server from the watcher's current config. When backends is
// nil they are built from the config; tests pass mock backends instead.
func NewServerWithConfig(watcher config.Watcher, backends []provider.Backend, logger *zap.Logger) (*Server, error) {
	cfg := watcher.GetCurrentConfig()
	if cfg == nil {
		return nil, fmt.Errorf("watcher has no config")
	}

	if backends == nil {
		var err error
		backends, err = provider.NewBackends(context.Background(), cfg, logger)
		if err != nil {
			return nil, err
		}
	}
	if len(backends) == 0 {
		return nil, fmt.Errorf("no backends configured")
	}

	m := metrics.NewMetrics()
	manager := provider.NewManager(cfg, backends, logger, m.Registry())

	table, err := persona.New(cfg.Personas)
	if err != nil {
		return nil, err
	}
	processor, err := processing.NewProcessor(&cfg.Processing, manager, assembler(cfg), logger, m)
	if err != nil {
		return nil, err
	}
	v, err := validation.New(cfg.Validation, cfg.Schedule)
	if err != nil {
		return nil, err
	}

	s := &Server{
		watcher:   watcher,
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
		manager:   manager,
		processor: processor,
		chat:      handlers.NewChatHandler(processor, table, v, logger, m),
	}

	routeHandlers := map[string]http.Handler{
		"chat":     s.chat,
		"schedule": handlers.NewScheduleHandler(processor, schedule.Extractor{ExcerptLimit: cfg.Schedule.ExcerptLimit}, v, logger, m),
		"health":   handlers.NewHealthHandler(manager, Version, logger),
		"metrics":  m.Handler(),
	}
	s.router = routing.NewRouter(cfg, routeHandlers, s.middleware(cfg), m, logger)

	s.httpServer = &http.Server{
		Addr:           ":" + strconv.Itoa(cfg.Server.Port),
		Handler:        s.router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}
	return s, nil
}

func (s *Server) middleware(cfg *config.Config) routing.Middleware {
	mw := routing.Middleware{Auth: middleware.Authentication(cfg.Auth.APIKeys)}
	if cfg.RateLimit.Enabled {
		mw.RateLimit = middleware.NewRateLimiter(cfg.RateLimit, s.metrics).Middleware
	}
	if cfg.Queue.Enabled {
		s.queue = middleware.NewQueueMiddleware(cfg.Queue, s.metrics)
		mw.Queue = s.queue.Handler
	}
	return mw
}

func assembler(cfg *config.Config) conversation.Assembler {
	return conversation.Assembler{MaxTurns: cfg.Assembler.MaxTurns}
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured port and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down gracefully
// within the configured shutdown timeout. Config reloads are applied while serving.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.manager.StartHealthChecks(ctx)
	go s.watchConfig(ctx)

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", zap.String("addr", ln.Addr().String()), zap.String("version", Version))
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, stop := context.WithTimeout(context.Background(), timeout)
	defer stop()

	s.logger.Info("shutting down", zap.Duration("timeout", timeout))
	if s.queue != nil {
		if err := s.queue.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("queue did not drain", zap.Error(err))
		}
	}
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if err := s.watcher.Close(); err != nil {
		s.logger.Warn("failed to close config watcher", zap.Error(err))
	}
	return nil
}

func (s *Server) watchConfig(ctx context.Context) {
	updates := s.watcher.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-updates:
			if !ok {
				return
			}
			s.applyConfig(cfg)
		}
	}
}

// applyConfig swaps in the parts of cfg that can change while serving: personas, the
// assembler and the queue size. A bad persona table keeps the previous one.
func (s *Server) applyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	running := s.cfg

	if table, err := persona.New(cfg.Personas); err != nil {
		s.logger.Error("rejected persona config", zap.Error(err))
	} else {
		s.chat.SetPersonas(table)
	}
	s.processor.SetAssembler(assembler(cfg))
	if s.queue != nil {
		s.queue.SetMaxSize(cfg.Queue.InitialSize)
	}

	restart := []string{}
	if !reflect.DeepEqual(running.Server, cfg.Server) {
		restart = append(restart, "server")
	}
	if !reflect.DeepEqual(running.Backends(), cfg.Backends()) || !reflect.DeepEqual(running.LLM, cfg.LLM) {
		restart = append(restart, "providers")
	}
	if !reflect.DeepEqual(running.Routes, cfg.Routes) || !reflect.DeepEqual(running.Auth, cfg.Auth) ||
		!reflect.DeepEqual(running.RateLimit, cfg.RateLimit) {
		restart = append(restart, "routes")
	}
	if len(restart) > 0 {
		s.logger.Warn("config changes need a restart to take effect", zap.Strings("sections", restart))
	}

	s.logger.Info("config reloaded",
		zap.Strings("modes", s.chat.Personas().Modes()),
		zap.Int("max_turns", cfg.Assembler.MaxTurns),
	)
}
