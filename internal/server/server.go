package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-insight/internal/memory/index"
	"github.com/kubilitics/kubilitics-insight/internal/middleware"
	"github.com/kubilitics/kubilitics-insight/internal/query/mode"
	"github.com/kubilitics/kubilitics-insight/internal/reasoning/orchestrator"
	"github.com/kubilitics/kubilitics-insight/internal/reasoning/pipeline"
)

// Package server exposes the insight pipeline over HTTP.
//
// Routes:
//   POST /api/v1/query                   answer a question
//   POST /api/v1/index/rebuild           rebuild the document index
//   GET  /api/v1/index/stats             index size and last build
//   GET  /api/v1/engines                 per-engine statistics and health
//   POST /api/v1/engines/{name}/restart  clear a failed engine
//   GET  /api/v1/modes/stats             recent mode decisions
//   GET  /api/v1/sessions/stats          per-session query statistics
//   GET  /health, /ready, /metrics
//
// Only /api/v1 is rate limited.

const shutdownTimeout = 10 * time.Second

// Deps are the components served over HTTP.
type Deps struct {
	Pipeline     pipeline.Pipeline
	Orchestrator orchestrator.Orchestrator
	Index        index.Manager
	Modes        mode.Manager
	Logger       *zap.Logger
}

// Server represents the insight HTTP server
type Server struct {
	config *Config
	deps   Deps
	logger *zap.Logger

	router  *mux.Router
	limiter *middleware.RateLimiter

	// HTTP server
	httpServer *http.Server

	// Lifecycle
	wg sync.WaitGroup

	// State
	mu      sync.RWMutex
	running bool
}

// NewServer creates a new insight server
func NewServer(cfg *Config, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if deps.Pipeline == nil || deps.Orchestrator == nil || deps.Index == nil || deps.Modes == nil {
		return nil, errors.New("pipeline, orchestrator, index and modes are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		config:  cfg,
		deps:    deps,
		logger:  logger,
		limiter: middleware.NewRateLimiter(cfg.RateLimitPerMinute),
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.RequestID, middleware.Recovery(s.logger), middleware.Logging(s.logger))

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(s.limiter.Middleware)
	api.HandleFunc("/query", s.handleQuery).Methods(http.MethodPost)
	api.HandleFunc("/index/rebuild", s.handleIndexRebuild).Methods(http.MethodPost)
	api.HandleFunc("/index/stats", s.handleIndexStats).Methods(http.MethodGet)
	api.HandleFunc("/engines", s.handleEngines).Methods(http.MethodGet)
	api.HandleFunc("/engines/{name}/restart", s.handleEngineRestart).Methods(http.MethodPost)
	api.HandleFunc("/modes/stats", s.handleModeStats).Methods(http.MethodGet)
	api.HandleFunc("/sessions/stats", s.handleSessionStats).Methods(http.MethodGet)
	return r
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the server
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.running = true
	s.mu.Unlock()

	s.httpServer = &http.Server{
		Addr:         s.config.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("starting HTTP server", zap.String("addr", s.config.Addr()))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	s.running = false
	s.mu.Unlock()

	defer s.limiter.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	err := s.httpServer.Shutdown(shutdownCtx)
	s.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

// IsRunning returns whether the server is running
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
