package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"recall-backend/internal/handlers"
	"recall-backend/internal/logger"
	"recall-backend/internal/middleware"
	"recall-backend/internal/websocket"
)

func New(
	log *logger.Logger,
	jwtAuth *middleware.JWTAuth,
	apiLimiter *middleware.RateLimiter,
	sessionHandler *handlers.SessionHandler,
	progressHandler *handlers.ProgressHandler,
	itemHandler *handlers.ItemHandler,
	settingsHandler *handlers.SettingsHandler,
	studySessionHandler *handlers.StudySessionHandler,
	healthHandler *handlers.HealthHandler,
	wsHub *websocket.Hub,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.CORS(frontendURL))

	r.Get("/health", healthHandler.Health)

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket authenticates through its query token.
		r.Get("/ws", wsHub.HandleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			if apiLimiter != nil {
				r.Use(apiLimiter.Middleware)
			}

			// ──── Review queue & sessions ────
			r.Get("/queue", sessionHandler.Queue)

			r.Route("/sessions", func(r chi.Router) {
				r.Post("/", sessionHandler.Create)
				r.Route("/{planId}", func(r chi.Router) {
					r.Get("/", sessionHandler.Get)
					r.Post("/start", sessionHandler.Start)
					r.Get("/current", sessionHandler.Current)
					r.Post("/grade", sessionHandler.Grade)
					r.Post("/abandon", sessionHandler.Abandon)
				})
			})

			// ──── Progress ────
			r.Route("/progress", func(r chi.Router) {
				r.Get("/", progressHandler.Get)
				r.Post("/rebuild", progressHandler.Rebuild)
			})

			// ──── Items ────
			r.Route("/items", func(r chi.Router) {
				r.Post("/", itemHandler.Create)
				r.Post("/batch", itemHandler.CreateBatch)
				r.Get("/{id}", itemHandler.Get)
				r.Get("/{id}/events", itemHandler.Events)
			})

			// ──── Settings ────
			r.Route("/settings", func(r chi.Router) {
				r.Get("/", settingsHandler.Get)
				r.Put("/", settingsHandler.Update)
				r.Get("/goals", settingsHandler.GetGoals)
				r.Put("/goals", settingsHandler.UpdateGoals)
			})

			// ──── Study sessions ────
			r.Route("/study-sessions", func(r chi.Router) {
				r.Post("/start", studySessionHandler.Start)
				r.Post("/{id}/heartbeat", studySessionHandler.Heartbeat)
				r.Post("/{id}/stop", studySessionHandler.Stop)
			})
		})
	})

	return r
}
