package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/conseiller-portal/messagerie/internal/middleware"
	"github.com/conseiller-portal/messagerie/pkg/logger"
)

// RouterConfig holds the HTTP surface settings.
type RouterConfig struct {
	JWTSecret         string
	AllowedOrigins    []string
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// NewRouter wires the API routes.
func NewRouter(cfg RouterConfig, health *HealthHandler, chats *ChatHandler, messages *MessageHandler, log *logger.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", health.Health)
	r.Get("/ready", health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/beneficiaires/{id}", func(r chi.Router) {
			r.Get("/chat/stream", chats.Stream)
			r.Put("/chat/lu", chats.MarkAsRead)
			r.Put("/chat/flag", chats.ToggleFlag)

			r.Get("/messages/stream", messages.Stream)
			r.Post("/messages", messages.Send)
		})

		r.Get("/listes-diffusion/{id}/messages/stream", messages.StreamBroadcastList)

		r.Post("/messages/diffusion", messages.Broadcast)
		r.Get("/messages/non-lus", chats.UnreadCounts)

		r.Delete("/session/chat", chats.ResetCredentials)
	})

	return r
}
