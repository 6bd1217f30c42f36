package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/xsa-dev/perp-trading-engine/internal/config"
)

// Server runs the dashboard's HTTP/WebSocket endpoints. Adapted from the
// teacher's api.Server (internal/api/server.go); dropped the static
// web-dashboard file server since no corresponding web/ asset tree is
// part of this spec.
type Server struct {
	cfg      config.MonitorConfig
	provider SnapshotProvider
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer builds the dashboard server.
func NewServer(cfg config.MonitorConfig, provider SnapshotProvider, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	hub := NewHub(logger)
	handlers := NewHandlers(provider, cfg, hub, logger)

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
		hub:      hub,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "monitor-server"),
	}
}

// Broadcast pushes msg to every connected client. The engines in this
// repository do not call it; pushes happen only where a caller invokes it.
func (s *Server) Broadcast(msg Message) {
	s.hub.BroadcastMessage(msg)
}

// Start runs the WebSocket hub and HTTP listener; blocks until Stop is
// called or the listener fails.
func (s *Server) Start() error {
	go s.hub.Run()

	s.logger.Info("dashboard server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	s.logger.Info("stopping dashboard server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
