// Package server constructs and starts the relay HTTP service with helpers
// that apply sensible production defaults.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/langheinrich/Cherax-EE-Chat/internal/relay"
)

// Server ties the relay, the push hub and the HTTP listener together.
type Server struct {
	cfg    Config
	relay  *relay.Relay
	hub    *Hub
	http   *http.Server
	logger zerolog.Logger
}

// New builds the relay, attaches a hub to it and prepares the HTTP server.
// Nothing is started until Start or Serve is called.
func New(cfg Config, logger zerolog.Logger) *Server {
	cfg = sanitizeConfig(cfg)
	r := relay.New(cfg.RelayConfig(), relay.WithLogger(logger))
	hub := NewHub(r, cfg, logger)
	r.Attach(hub)

	handler := NewHandler(r, hub, cfg, logger)
	router := NewRouter(handler, cfg, logger)

	return &Server{
		cfg:    cfg,
		relay:  r,
		hub:    hub,
		http:   CreateServer(cfg.Addr(), router),
		logger: logger,
	}
}

// Relay returns the relay owned by the server.
func (s *Server) Relay() *relay.Relay {
	return s.relay
}

// Hub returns the push hub owned by the server.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// StartHub runs the hub loop in its own goroutine. It must be called before
// the first socket is accepted.
func (s *Server) StartHub() {
	go s.hub.Run()
	s.logger.Debug().Msg("hub started and ready to manage socket connections")
}

// Serve starts the hub and serves HTTP on ln until Shutdown. It returns nil
// after a graceful shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.StartHub()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("server listening")
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on the configured port and serves until Shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Shutdown stops accepting HTTP requests, closes every socket and stops the
// cleanup timers. Errors from each stage are joined.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := s.cfg.ShutdownTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	httpErr := ShutdownServer(s.http, timeout, s.logger)
	hubErr := s.hub.Shutdown(timeout)
	s.relay.Close()

	stats := s.relay.Stats()
	s.logger.Info().
		Int("active_sessions", stats.ActiveSessions).
		Int("total_messages", stats.TotalMessages).
		Dur("uptime", stats.Uptime).
		Msg("relay stopped")

	return errors.Join(httpErr, hubErr)
}

// CreateServer creates and configures an HTTP server with the specified address and handler.
// It sets reasonable timeout values for production use.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// ShutdownServer gracefully shuts down the HTTP server without interrupting active connections.
// It waits for active connections to close or until the timeout is reached.
func ShutdownServer(server *http.Server, timeout time.Duration, logger zerolog.Logger) error {
	logger.Info().Msg("shutting down HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
		return err
	}

	logger.Info().Msg("HTTP server shutdown completed")
	return nil
}
