// Package http provides the HTTP server and route registration.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openctemio/ingest/internal/config"
	"github.com/openctemio/ingest/internal/infra/http/handler"
	"github.com/openctemio/ingest/internal/infra/http/middleware"
	"github.com/openctemio/ingest/pkg/logger"
)

// Server represents the HTTP server.
type Server struct {
	httpServer *http.Server
	router     chi.Router
	config     *config.Config
	logger     *logger.Logger
}

// NewServer creates a new HTTP server with the global middleware stack.
func NewServer(cfg *config.Config, log *logger.Logger) *Server {
	router := chi.NewRouter()

	router.Use(
		middleware.Recovery(log),
		middleware.RequestID(),
		middleware.Metrics(func(r *http.Request) string {
			return chi.RouteContext(r.Context()).RoutePattern()
		}),
		middleware.Logger(log),
	)

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Server.Addr(),
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  time.Minute,
		},
		router: router,
		config: cfg,
		logger: log,
	}
}

// Handlers holds the HTTP handlers for route registration.
type Handlers struct {
	Health    *handler.HealthHandler
	Ingestion *handler.IngestionHandler
	Control   *handler.ControlHandler
}

// Register mounts all routes on the server's router.
func (s *Server) Register(h Handlers) {
	s.router.Get("/health", h.Health.Health)
	s.router.Get("/ready", h.Health.Ready)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/pipelines/{pipelineID}/ingest", h.Ingestion.IngestPipeline)
		r.Post("/projects/{projectID}/continuous-scan", h.Ingestion.IngestContinuousScan)

		r.Post("/projects/{projectID}/controls/{controlName}/trigger", h.Control.Trigger)
		r.Post("/control-statuses/{statusID}/complete", h.Control.Complete)
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.config.Server.Addr())

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("HTTP server stopped")
	return nil
}
