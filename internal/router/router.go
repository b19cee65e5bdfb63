package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"heliox-backend/internal/handlers"
	"heliox-backend/internal/middleware"
)

func New(chatHandler *handlers.ChatHandler, limiter *middleware.RateLimiter, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(allowedOrigins))

	r.Get("/health", handlers.Health)

	r.Group(func(r chi.Router) {
		r.Use(limiter.Middleware)
		r.Post("/chat", chatHandler.Ask)
		r.Post("/chat/stream", chatHandler.Stream)
	})

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"Not found"}`))
	})

	return r
}
