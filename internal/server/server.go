// Package server provides the HTTP server that wires the evaluation
// services together.
package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/recoeval/reco-eval/internal/bus"
	"github.com/recoeval/reco-eval/internal/config"
	"github.com/recoeval/reco-eval/internal/evaluation"
	"github.com/recoeval/reco-eval/internal/metrics"
	"github.com/recoeval/reco-eval/internal/pkg/logger"
	"github.com/recoeval/reco-eval/internal/pkg/middleware"
	"github.com/recoeval/reco-eval/internal/qdrant"
	"github.com/recoeval/reco-eval/internal/results"
)

// Server is the evaluation HTTP server.
type Server struct {
	cfg        Config
	log        *logger.Logger
	httpServer *http.Server
	startTime  time.Time

	// Services
	store   results.Store
	bus     bus.Bus
	metrics *metrics.Metrics
	limiter *middleware.RateLimiter
	qdrant  *qdrant.Client

	// Handlers
	evalHandler *evaluation.Handler

	mu      sync.RWMutex
	started bool
}

// Config configures the server.
type Config struct {
	// Host is the address to bind to.
	Host string

	// Port is the HTTP port.
	Port int

	// Version is the application version.
	Version string

	// RateLimit is requests per second per client; 0 disables limiting.
	RateLimit int

	// ReadTimeout is the HTTP read timeout.
	ReadTimeout time.Duration

	// WriteTimeout is the HTTP write timeout.
	WriteTimeout time.Duration

	// ShutdownTimeout is the graceful shutdown timeout.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns sensible server defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8090,
		Version:         "dev",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// ConfigFrom builds the server config from the application config.
func ConfigFrom(appCfg *config.Config, version string) Config {
	cfg := DefaultConfig()
	if appCfg.Server.Host != "" {
		cfg.Host = appCfg.Server.Host
	}
	if appCfg.Server.Port != 0 {
		cfg.Port = appCfg.Server.Port
	}
	if version != "" {
		cfg.Version = version
	}
	cfg.RateLimit = appCfg.Server.RateLimit
	return cfg
}

// Deps are the services a Server is built from. Store, Bus and Metrics
// may be nil; Qdrant is only set for the qdrant backend.
type Deps struct {
	Store   results.Store
	Bus     bus.Bus
	Metrics *metrics.Metrics
	Qdrant  *qdrant.Client
}

// New creates a server and its dependencies from the application config.
func New(cfg Config, appCfg *config.Config, log *logger.Logger) (*Server, error) {
	m := metrics.New()

	store, err := results.New(appCfg.Results)
	if err != nil {
		return nil, fmt.Errorf("failed to create results store: %w", err)
	}

	b, err := bus.NewBus(appCfg.Bus, log)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create event bus: %w", err)
	}

	deps := Deps{
		Store:   store,
		Bus:     bus.NewInstrumentedBus(b, m),
		Metrics: m,
	}

	if appCfg.Eval.Backend == "qdrant" {
		qcfg, err := qdrant.ConfigFrom(appCfg.Qdrant)
		if err != nil {
			b.Close()
			store.Close()
			return nil, fmt.Errorf("invalid qdrant config: %w", err)
		}
		qc, err := qdrant.NewClient(qcfg, log)
		if err != nil {
			b.Close()
			store.Close()
			return nil, fmt.Errorf("failed to create qdrant client: %w", err)
		}
		deps.Qdrant = qc
	}

	return NewWithDeps(cfg, deps, log)
}

// NewWithDeps creates a server from already constructed services.
func NewWithDeps(cfg Config, deps Deps, log *logger.Logger) (*Server, error) {
	if cfg.Port == 0 {
		def := DefaultConfig()
		def.Version = cfg.Version
		def.RateLimit = cfg.RateLimit
		cfg = def
	}
	if log == nil {
		log = logger.Discard()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}

	s := &Server{
		cfg:         cfg,
		log:         log,
		startTime:   time.Now(),
		store:       deps.Store,
		bus:         deps.Bus,
		metrics:     deps.Metrics,
		qdrant:      deps.Qdrant,
		evalHandler: evaluation.NewHandler(deps.Store, log),
	}

	if s.bus != nil {
		sub := metrics.NewEventSubscriber(s.metrics, s.bus)
		if err := sub.SubscribeToEvents(context.Background()); err != nil {
			return nil, fmt.Errorf("failed to subscribe metrics to events: %w", err)
		}
	}

	if cfg.RateLimit > 0 {
		s.limiter = middleware.NewRateLimiter(middleware.ConfigForRate(cfg.RateLimit))
	}

	return s, nil
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}
	s.started = true

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.log.Info("Starting HTTP server", "addr", addr, "version", s.cfg.Version)
	if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the server and closes its services.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Error("HTTP shutdown error", "error", err)
	}

	s.closeServices()

	s.started = false
	s.log.Info("Server stopped")

	return nil
}

func (s *Server) closeServices() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if s.bus != nil {
		if err := s.bus.Close(); err != nil {
			s.log.WithError(err).Warn("Failed to close event bus")
		}
	}
	if s.qdrant != nil {
		if err := s.qdrant.Close(); err != nil {
			s.log.WithError(err).Warn("Failed to close qdrant client")
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.log.WithError(err).Warn("Failed to close results store")
		}
	}
}

// Handler returns the server's full handler chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.evalHandler.RegisterRoutes(mux)
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/version", s.handleVersion)

	var h http.Handler = mux
	if s.limiter != nil {
		h = s.limiter.Middleware(h)
	}
	h = metrics.HTTPMiddleware(s.metrics, h)
	h = loggingMiddleware(h)
	return requestIDMiddleware(s.log, h)
}

// Health reports whether the server is running.
func (s *Server) Health() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}
