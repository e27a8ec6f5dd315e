// Package server wires HTTP handlers into a chi router for the chat relay.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// NewRouter configures the router with the polling API, the push channel
// upgrade, health, metrics, and the test page.
func NewRouter(h *Handler, cfg Config, logger zerolog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(recordMetrics)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(logger))
	r.Use(recoverJSON(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.NotFound(h.NotFound)
	r.MethodNotAllowed(h.MethodNotAllowed)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", h.Health)
	r.Get("/ws", h.WebSocket)
	r.Get("/test", h.TestPage)

	r.Route("/api", func(r chi.Router) {
		r.Use(maxBodySize(maxRequestBody))

		r.Post("/chat/connect", h.Connect)
		r.Post("/chat/send", h.Send)
		r.Get("/chat/poll", h.Poll)
		r.Get("/chat/messages", h.Messages)
		r.Post("/chat/disconnect", h.Disconnect)
		r.Delete("/chat/clear", h.Clear)
		r.Post("/chat/broadcast", h.Broadcast)
		r.Get("/sessions", h.Sessions)
	})

	return r
}

// Routes lists the endpoints for the startup banner.
func Routes() []string {
	return []string{
		http.MethodGet + " /health",
		http.MethodPost + " /api/chat/connect",
		http.MethodPost + " /api/chat/send",
		http.MethodGet + " /api/chat/poll",
		http.MethodGet + " /api/chat/messages",
		http.MethodPost + " /api/chat/disconnect",
		http.MethodDelete + " /api/chat/clear",
		http.MethodPost + " /api/chat/broadcast",
		http.MethodGet + " /api/sessions",
		http.MethodGet + " /ws",
		http.MethodGet + " /test",
		http.MethodGet + " /metrics",
	}
}
