// Package api serves the dashboard: read-only JSON views over the store, the
// admin actions that drive the engine on demand, a websocket event stream and
// the Prometheus endpoint.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"kalshi-edge/internal/config"
	"kalshi-edge/internal/metrics"
	"kalshi-edge/internal/store"
)

// Server runs the HTTP/WebSocket API for the dashboard
type Server struct {
	cfg      config.DashboardConfig
	provider Provider
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a new API server
func NewServer(cfg config.Config, provider Provider, st store.Store, logger *slog.Logger) *Server {
	hub := NewHub(logger)
	handlers := NewHandlers(provider, st, cfg, hub, logger)
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		cfg:      cfg.Dashboard,
		provider: provider,
		hub:      hub,
		handlers: handlers,
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Dashboard.Port),
			Handler:      NewRouter(handlers),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With("component", "api-server"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// NewRouter mounts every route on a chi router.
func NewRouter(h *Handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/health", h.HandleHealth)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/ws", h.HandleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(45 * time.Second))

		r.Get("/summary", h.HandleSummary)
		r.Get("/calibration", h.HandleCalibration)
		r.Get("/signals", h.HandleSignals)
		r.Get("/positions", h.HandlePositions)
		r.Get("/pnl", h.HandlePnL)
		r.Get("/risk/exposure", h.HandleExposure)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/signals/generate", h.HandleGenerate)
			r.Post("/signals/execute", h.HandleExecute)
			r.Post("/signals/cancel", h.HandleCancel)
			r.Post("/bankroll/reset", h.HandleResetBankroll)
		})
	})
	return r
}

// Start starts the hub, the event consumer and the HTTP server. It blocks
// until the server stops.
func (s *Server) Start() error {
	go s.hub.Run(s.ctx)
	go s.consumeEvents()

	s.logger.Info("dashboard server starting", "addr", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop() error {
	s.logger.Info("stopping dashboard server")
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// consumeEvents reads events from the engine and broadcasts them
func (s *Server) consumeEvents() {
	eventsCh := s.provider.DashboardEvents()
	if eventsCh == nil {
		return
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case evt, ok := <-eventsCh:
			if !ok {
				return
			}
			s.hub.BroadcastEvent(evt)
		}
	}
}
