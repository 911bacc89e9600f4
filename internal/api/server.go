// Package api exposes the troubleshooting engine over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/summary"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, eng *engine.Service, sum *summary.Service, watch *rules.Engine, repo domain.Repository, cache domain.Cache, version string) *Server {
	handler := NewHandler(eng, sum, watch, repo, cache, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// API routes (tenant required)
	router.Route("/api/v1", func(r chi.Router) {
		r.Use(TenantMiddleware)

		// Snapshot ingestion
		r.Post("/snapshots", handler.IngestSnapshot)

		// Merchant troubleshooting
		r.Get("/merchants", handler.ListMerchants)
		r.Get("/merchants/{id}/report", handler.GetReport)
		r.Get("/merchants/{id}/insight", handler.GetInsight)
		r.Get("/merchants/{id}/monthly", handler.GetMonthly)
		r.Get("/merchants/{id}/location", handler.GetLocation)
		r.Post("/merchants/{id}/location/resolve", handler.ResolveLocation)

		// Dashboard
		r.Get("/dashboard/summary", handler.GetDashboardSummary)

		// AI capability
		r.Get("/ai/status", handler.GetAIStatus)

		// Watch rule management
		r.Get("/watch-rules", handler.ListWatchRules)
		r.Get("/watch-rules/{id}", handler.GetWatchRule)
		r.Post("/watch-rules", handler.CreateWatchRule)
		r.Delete("/watch-rules/{id}", handler.DeleteWatchRule)
		r.Post("/watch-rules/reload", handler.ReloadWatchRules)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
