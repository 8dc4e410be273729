package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/agent-platform/internal/handler"
	"github.com/capitalize-ai/agent-platform/internal/middleware"
)

// Router builds the HTTP surface.
func (a *App) Router() http.Handler {
	cfg := a.Config
	log := a.Log

	healthHandler := handler.NewHealthHandler(a.ReadyChecks())
	threadHandler := handler.NewThreadHandler(a.Threads, log)
	chatHandler := handler.NewChatHandler(a.Threads, a.Chat, log)
	wsHandler := handler.NewWSHandler(a.Threads, a.Chat, a.Sandbox, a.Hub, handler.DefaultWSConfig(), log)
	toolHandler := handler.NewToolHandler(a.Executor, log)
	jobHandler := handler.NewJobHandler(a.Jobs, log)
	statsHandler := handler.NewStatsHandler(a.Executor, a.Orchestrator, a.Sessions, a.Hub)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.CORSOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	// Browsers cannot set headers on a WebSocket handshake, so the token may
	// come in the query string.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.UserRateLimit(cfg.TurnRateLimit, cfg.RateLimitWindow))
		r.Get("/ws/chat/{id}", wsHandler.Chat)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/threads", func(r chi.Router) {
			r.Post("/", threadHandler.Create)
			r.Get("/", threadHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", threadHandler.Get)
				r.Put("/", threadHandler.Update)
				r.Delete("/", threadHandler.Delete)
				r.Get("/messages", threadHandler.Messages)
				r.With(middleware.UserRateLimit(cfg.TurnRateLimit, cfg.RateLimitWindow)).
					Post("/stream", chatHandler.Stream)
			})
		})

		r.Post("/chat/title", chatHandler.Title)

		r.Route("/tools", func(r chi.Router) {
			r.Get("/", toolHandler.List)
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireScope(middleware.ScopeToolsAdmin))
				r.Post("/execute", toolHandler.Execute)
				r.Delete("/cache", toolHandler.ClearCache)
			})
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", jobHandler.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", jobHandler.Get)
				r.Delete("/", jobHandler.Cancel)
				r.Get("/events", jobHandler.Events)
			})
		})

		r.Get("/stats", statsHandler.Stats)
	})

	return r
}
