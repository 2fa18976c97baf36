package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"signalbot/internal/config"
)

// Server runs the HTTP/WebSocket dashboard.
type Server struct {
	cfg      config.DashboardConfig
	provider SnapshotProvider
	fullCfg  config.Config
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer creates a new dashboard server wired to provider for snapshot
// and live-event data.
func NewServer(cfg config.DashboardConfig, provider SnapshotProvider, fullCfg config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	hub := NewHub(logger)
	handlers := NewHandlers(provider, fullCfg, hub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.HandleHealth)
	mux.HandleFunc("/api/snapshot", handlers.HandleSnapshot)
	mux.HandleFunc("/ws", handlers.HandleWebSocket)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		provider: provider,
		fullCfg:  fullCfg,
		hub:      hub,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "dashboard-server"),
	}
}

// Start runs the hub and event consumer, then blocks serving HTTP until
// Stop is called.
func (s *Server) Start() error {
	go s.hub.Run()
	go s.consumeEvents()

	s.logger.Info("dashboard server starting", "addr", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping dashboard server")
	return s.server.Shutdown(ctx)
}

// consumeEvents relays provider-pushed events to connected clients.
func (s *Server) consumeEvents() {
	eventsCh := s.provider.Events()
	if eventsCh == nil {
		return
	}
	for evt := range eventsCh {
		s.hub.BroadcastEvent(evt)
	}
}
