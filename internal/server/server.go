// Package server exposes the prompt firewall over HTTP.
//
// Responsibilities:
//   - POST /api/v1/evaluate: run one prompt through the decision pipeline
//   - GET /api/v1/decisions: review persisted decisions
//   - GET /api/v1/decisions/stream: push plot records to WebSocket subscribers
//   - Model lifecycle admin: info, fit, reset
//   - Health, readiness, and Prometheus metrics endpoints
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/promptsentinel/promptsentinel/internal/audit"
	"github.com/promptsentinel/promptsentinel/internal/config"
	"github.com/promptsentinel/promptsentinel/internal/db"
	"github.com/promptsentinel/promptsentinel/internal/detector"
	"github.com/promptsentinel/promptsentinel/internal/embedder"
	"github.com/promptsentinel/promptsentinel/internal/fuser"
	"github.com/promptsentinel/promptsentinel/internal/middleware"
)

// Server represents the promptsentinel HTTP server
type Server struct {
	config *config.Config

	// Core components
	fuser     *fuser.Fuser
	lifecycle *detector.Lifecycle
	embedder  embedder.Embedder
	store     db.Store
	auditLog  audit.Logger
	log       *zap.Logger

	// Decision stream
	hub *StreamHub

	// Rate limiting
	limiter *middleware.RateLimiter

	// HTTP server
	httpServer *http.Server

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// State
	mu      sync.RWMutex
	running bool
}

// Deps bundles the components the server serves. All fields are required
// except AuditLog.
type Deps struct {
	Fuser     *fuser.Fuser
	Lifecycle *detector.Lifecycle
	Embedder  embedder.Embedder
	Store     db.Store
	AuditLog  audit.Logger
	Log       *zap.Logger
}

// NewServer creates a new promptsentinel server
func NewServer(cfg *config.Config, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if deps.Fuser == nil || deps.Lifecycle == nil || deps.Embedder == nil || deps.Store == nil || deps.Log == nil {
		return nil, fmt.Errorf("missing required server dependency")
	}

	ctx, cancel := context.WithCancel(context.Background())

	srv := &Server{
		config:    cfg,
		fuser:     deps.Fuser,
		lifecycle: deps.Lifecycle,
		embedder:  deps.Embedder,
		store:     deps.Store,
		auditLog:  deps.AuditLog,
		log:       deps.Log,
		hub:       NewStreamHub(deps.Log),
		ctx:       ctx,
		cancel:    cancel,
	}

	if cfg.RateLimit.Enabled {
		srv.limiter = middleware.NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)
	}

	return srv, nil
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

	mux := http.NewServeMux()
	s.registerHandlers(mux)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Info("starting HTTP server", zap.Int("port", s.config.Server.Port))
		var err error
		if s.config.Server.TLSEnabled {
			err = s.httpServer.ListenAndServeTLS(s.config.Server.TLSCertPath, s.config.Server.TLSKeyPath)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.log.Error("HTTP server error", zap.Error(err))
		}
	}()

	s.log.Info("promptsentinel server started",
		zap.String("embedding_provider", s.config.Embedding.Provider),
		zap.String("judge_provider", s.config.Judge.Provider),
		zap.String("fail_mode", s.config.Judge.FailMode),
		zap.Bool("rules_enabled", s.config.Rules.Enabled),
	)

	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	s.running = false
	s.mu.Unlock()

	s.log.Info("stopping promptsentinel server")

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Error("error shutting down HTTP server", zap.Error(err))
		}
	}

	s.hub.Close()
	if s.limiter != nil {
		s.limiter.Stop()
	}

	s.cancel()
	s.wg.Wait()

	s.log.Info("promptsentinel server stopped")
	return nil
}

// Wait blocks until the server is stopped
func (s *Server) Wait() {
	<-s.ctx.Done()
}

// registerHandlers registers HTTP handlers
func (s *Server) registerHandlers(mux *http.ServeMux) {
	limited := func(h http.HandlerFunc) http.HandlerFunc {
		if s.limiter == nil {
			return h
		}
		return s.limiter.Middleware(h)
	}

	// Health and readiness
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)

	// Evaluation
	mux.HandleFunc("/api/v1/evaluate", limited(s.handleEvaluate))

	// Decision review
	mux.HandleFunc("/api/v1/decisions", s.handleDecisions)
	mux.HandleFunc("/api/v1/decisions/plot", s.handleDecisionsPlot)
	mux.HandleFunc("/api/v1/decisions/stream", s.handleDecisionStream)
	mux.HandleFunc("/api/v1/decisions/", s.handleDecisionByID)
	mux.HandleFunc("/api/v1/stats", s.handleStats)

	// Model lifecycle admin
	mux.HandleFunc("/api/v1/model", s.handleModelInfo)
	mux.HandleFunc("/api/v1/model/fit", s.handleModelFit)
	mux.HandleFunc("/api/v1/model/reset", s.handleModelReset)

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())
}
