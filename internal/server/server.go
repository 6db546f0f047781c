package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/omomi/internal/abatement"
	"github.com/ashita-ai/omomi/internal/brain"
	"github.com/ashita-ai/omomi/internal/event"
	"github.com/ashita-ai/omomi/internal/queue"
)

// Engine is the part of the dispatcher the API drives.
type Engine interface {
	Enqueue(ev event.Event)
	EnqueueDurable(ctx context.Context, ev event.Event) (queue.Record, error)
	Stats(ctx context.Context) (brain.Stats, error)
}

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Server is the omomi HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Abatement, Broker, Checks, Location, MCPServer.
type ServerConfig struct {
	// Required dependencies.
	Engine Engine
	Logger *slog.Logger

	// Optional dependencies (nil = disabled).
	Abatement *abatement.Flag
	Broker    *Broker
	Checks    map[string]HealthCheck
	Location  *time.Location
	MCPServer *mcpserver.MCPServer

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	if cfg.MaxRequestBodyBytes <= 0 {
		cfg.MaxRequestBodyBytes = 1 << 20
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	h := &Handlers{
		engine:              cfg.Engine,
		abate:               cfg.Abatement,
		broker:              cfg.Broker,
		checks:              cfg.Checks,
		location:            cfg.Location,
		logger:              cfg.Logger,
		startedAt:           time.Now(),
		version:             cfg.Version,
		maxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		now:                 time.Now,
	}

	r := chi.NewRouter()
	// Outermost first: request ID -> tracing -> logging -> recovery -> handler.
	r.Use(requestIDMiddleware)
	r.Use(tracingMiddleware)
	r.Use(loggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.HandleHealth)
		r.Get("/stats", h.HandleStats)
		r.Post("/events", h.HandleEnqueue)
		r.Put("/abatement", h.HandleSetAbatement)
		r.Delete("/abatement", h.HandleClearAbatement)
		r.Get("/deferral/{type}", h.HandleDeferral)
		// Long-lived; clears its own write deadline.
		r.Get("/notifications", h.HandleNotifications)
	})

	if cfg.MCPServer != nil {
		r.Handle("/mcp", mcpserver.NewStreamableHTTPServer(cfg.MCPServer))
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  r,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
