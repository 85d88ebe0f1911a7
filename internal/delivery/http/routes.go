package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/surveyforge/backend/internal/config"
	"github.com/surveyforge/backend/internal/middleware"
)

func NewRouter(handler *Handler, authMiddleware *middleware.AuthMiddleware, cfg *config.Config, rdb *redis.Client, log *logrus.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			// Credential-bearing endpoints get the rate limiter.
			r.Group(func(r chi.Router) {
				r.Use(middleware.RateLimit(cfg.RateLimit, rdb, log))
				r.Post("/signup", handler.Signup)
				r.Post("/login", handler.Login)
				r.Post("/password-reset/request", handler.RequestPasswordReset)
				r.Post("/password-reset/confirm", handler.ResetPassword)
			})

			r.Post("/refresh", handler.Refresh)
			r.Post("/logout", handler.Logout)

			r.Group(func(r chi.Router) {
				r.Use(authMiddleware.Authenticate)
				r.Get("/me", handler.GetCurrentUser)
				r.Get("/me/logins", handler.RecentLogins)
				r.Post("/logout-all", handler.LogoutAll)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)
			r.Use(authMiddleware.AdminOnly)
			r.Post("/users/{id}/deactivate", handler.DeactivateUser)
		})
	})

	return r
}
