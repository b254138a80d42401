package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/FelipeJared/mechOS/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	// ErrServerStarted is returned by Start on a running server
	ErrServerStarted = errors.New("admin server already started")
	// ErrInvalidListenAddress indicates an empty listen address
	ErrInvalidListenAddress = errors.New("admin listen address cannot be empty")
)

// Config holds server configuration
type Config struct {
	// ListenAddress is host:port; port 0 picks a free port
	ListenAddress string `yaml:"listen"`

	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// SetDefaults fills unset fields
func (c *Config) SetDefaults() {
	if c.ListenAddress == "" {
		c.ListenAddress = "127.0.0.1:5960"
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 120 * time.Second
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.ListenAddress == "" {
		return ErrInvalidListenAddress
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.IdleTimeout < 0 {
		return fmt.Errorf("admin timeouts must not be negative")
	}
	return nil
}

// Server represents the admin HTTP API server
type Server struct {
	config     Config
	handlers   *Handlers
	middleware *Middleware
	gatherer   prometheus.Gatherer
	logger     *zap.Logger
	server     *http.Server

	mu       sync.Mutex
	listener net.Listener
	done     chan struct{}
}

// NewServer creates a new admin API server. Metrics are served from
// gatherer; a nil gatherer serves the default registry.
func NewServer(registry Registry, gatherer prometheus.Gatherer, config Config, logger *zap.Logger) (*Server, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	logger = logging.OrNop(logger)

	server := &Server{
		config:     config,
		handlers:   NewHandlers(registry),
		middleware: NewMiddleware(logger),
		gatherer:   gatherer,
		logger:     logger,
	}

	server.server = &http.Server{
		Handler:        server.setupRoutes(),
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: 1 << 20, // 1MB
	}
	return server, nil
}

// Handler returns the routed handler, for embedding or tests
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start binds the listen address and serves in the background
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return ErrServerStarted
	}

	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", s.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.ListenAddress, err)
	}
	s.listener = l
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		if err := s.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Admin API stopped", zap.Error(err))
		}
	}()

	s.logger.Info("Admin API listening", zap.String("address", l.Addr().String()))
	return nil
}

// Addr returns the bound address, or "" before Start
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	err := s.server.Shutdown(ctx)
	if done != nil {
		<-done
	}
	return err
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	withMiddleware := func(handler http.HandlerFunc) http.Handler {
		return s.middleware.Recovery(
			s.middleware.Logging(
				s.middleware.ReadOnly(
					s.middleware.ContentType(handler))))
	}

	mux.Handle("/api/v1/nodes", withMiddleware(s.handlers.ListNodes))
	mux.Handle("/api/v1/nodes/", withMiddleware(s.handlers.GetNode))
	mux.Handle("/api/v1/topics", withMiddleware(s.handlers.ListTopics))
	mux.Handle("/api/v1/health", withMiddleware(s.handlers.Health))

	metrics := promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})
	mux.Handle("/metrics", s.middleware.Recovery(s.middleware.Logging(metrics.ServeHTTP)))

	mux.Handle("/", withMiddleware(s.handleRoot))

	return mux
}

// handleRoot provides API information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, "Not found", http.StatusNotFound)
		return
	}

	info := map[string]any{
		"service":     "mechOS broker admin API",
		"version":     "1.0.0",
		"description": "Read-only introspection of the mechOS node registry",
		"endpoints": map[string]string{
			"nodes":   "GET /api/v1/nodes",
			"node":    "GET /api/v1/nodes/{name}",
			"topics":  "GET /api/v1/topics",
			"health":  "GET /api/v1/health",
			"metrics": "GET /metrics",
		},
	}
	writeJSON(w, info, http.StatusOK)
}
