// Package relay is the collaboration relay: it keeps rooms of connected
// clients, forwards guest requests to the room's host and fans the host's
// changes out to the guests.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Options configure a relay server.
type Options struct {
	// CursorInterval is the cursor batch period.
	CursorInterval time.Duration
	// Namespace prefixes the Prometheus metric names.
	Namespace string
}

// Server serves the relay websocket endpoint.
type Server struct {
	hub      *Hub
	upgrader websocket.Upgrader
	metrics  *Metrics
	logger   *zap.Logger
}

// NewServer creates a relay and starts its cursor batching. Close stops it.
func NewServer(opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.CursorInterval <= 0 {
		opts.CursorInterval = 50 * time.Millisecond
	}
	if opts.Namespace == "" {
		opts.Namespace = "fumen_relay"
	}
	metrics := NewMetrics(opts.Namespace)
	hub := newHub(opts.CursorInterval, metrics, logger)
	go hub.run()

	return &Server{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Desktop clients connect from a webview or a native process.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		metrics: metrics,
		logger:  logger,
	}
}

// Handler routes /ws, /health and /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	return mux
}

// Hub returns the room registry.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Close disconnects every client and stops cursor batching.
func (s *Server) Close() {
	s.hub.shutdown()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("failed to upgrade connection",
			zap.Error(err),
			zap.String("remoteAddr", r.RemoteAddr),
		)
		return
	}
	c := newClient(s.hub, conn, s.logger)
	c.start()
	s.logger.Debug("connection established",
		zap.String("connectionID", c.id),
		zap.String("remoteAddr", r.RemoteAddr),
	)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","rooms":%d}`, s.hub.RoomCount())
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("relay listening", zap.String("address", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down relay")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// Hijacked websocket connections are not tracked by Shutdown.
		s.Close()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("relay shutdown: %w", err)
		}
		return nil
	case err := <-serverErr:
		s.Close()
		return fmt.Errorf("relay server: %w", err)
	}
}
