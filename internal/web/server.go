package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kozaktomas/bioauth/internal/service"
	"github.com/kozaktomas/bioauth/internal/web/handlers"
	"github.com/kozaktomas/bioauth/internal/web/middleware"
)

// Deps are the collaborators the HTTP surface serves.
type Deps struct {
	Face           *service.Service
	Voice          *service.Service
	Store          handlers.Pinger
	Extractor      handlers.Pinger
	STTProvider    string
	Backend        string
	MaxSampleBytes int
	AllowedOrigins []string
	Readiness      *middleware.Readiness
	Gatherer       prometheus.Gatherer
	Logger         *zap.Logger
}

// Server represents the web server
type Server struct {
	deps       Deps
	router     *chi.Mux
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer creates a new web server
func NewServer(deps Deps, port int, host string) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Readiness == nil {
		deps.Readiness = middleware.NewReadiness()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	s := &Server{
		deps:   deps,
		router: r,
		logger: deps.Logger,
	}

	// Set up middleware stack
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(2 * time.Minute))
	r.Use(middleware.CORS(deps.AllowedOrigins))
	r.Use(middleware.SecurityHeaders())

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2*time.Minute + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting web server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down web server")
	s.deps.Readiness.Set(false)

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
