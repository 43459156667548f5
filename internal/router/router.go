package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"diagrammer-backend/internal/handlers"
	"diagrammer-backend/internal/middleware"
	"diagrammer-backend/internal/websocket"
)

// GenerationLimit caps model calls (instructions, suggestion accepts, summaries) per user per minute.
const GenerationLimit = 20

func New(
	jwtAuth *middleware.JWTAuth,
	sessionHandler *handlers.SessionHandler,
	generationLimiter *middleware.RateLimiter,
	wsHub *websocket.Hub,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(frontendURL))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/categories", handlers.ListCategories) // Public

		// ──── Session Routes ────
		r.Route("/sessions", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Post("/", sessionHandler.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", sessionHandler.Get)
				r.Delete("/", sessionHandler.Delete)
				r.Put("/category", sessionHandler.SelectCategory)
				r.Put("/markup", sessionHandler.EditMarkup)
				r.Delete("/document", sessionHandler.DetachDocument)
				r.Post("/suggestion/dismiss", sessionHandler.DismissSuggestion)

				r.Group(func(r chi.Router) {
					r.Use(generationLimiter.Middleware)
					r.Use(chimiddleware.Timeout(2 * time.Minute))
					r.Post("/instructions", sessionHandler.SubmitInstruction)
					r.Post("/suggestion/accept", sessionHandler.AcceptSuggestion)
					r.Post("/summary", sessionHandler.Summarize)
				})

				r.Route("/surfaces/{surface}", func(r chi.Router) {
					r.Post("/", sessionHandler.OpenSurface)
					r.Get("/", sessionHandler.GetSurface)
					r.Delete("/", sessionHandler.CloseSurface)
				})

				r.Get("/export/{format}", sessionHandler.Export)
			})
		})

		// ──── WebSocket ────
		r.Get("/ws", wsHub.HandleWebSocket)
	})

	return r
}
