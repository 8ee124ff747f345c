package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/akulagin/authd/internal/metrics"
	mw "github.com/akulagin/authd/internal/middleware"
	rl "github.com/akulagin/authd/internal/middleware/ratelimiter"
	"github.com/akulagin/authd/internal/setup"
)

// New creates and configures the HTTP router with all routes.
// Ratelimiters set with .Use limit requests for all endpoints in that group combined.
func New(deps *setup.Dependencies) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(metrics.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.Public.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	h := deps.Handler

	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
	r.Method("GET", "/metrics", promhttp.Handler())

	r.Route("/auth", func(r chi.Router) {
		// Signup sends a verification email, so keep it much stricter
		// than signin to protect the SMTP sender
		r.Group(func(r chi.Router) {
			r.Use(mw.RateLimit(rl.New(1.0/10, 1, 1*time.Hour), mw.GetIP))
			r.Post("/signup", h.SignUp)
		})

		// Signin and code verification are brute-force targets
		r.Group(func(r chi.Router) {
			r.Use(mw.RateLimit(rl.New(1, 3, 1*time.Hour), mw.GetIP))
			r.Post("/signin", h.SignIn)
			r.Get("/verification/{code}", h.Verification)
		})

		r.Get("/me", h.Me)
		r.Post("/logout", h.Logout)
	})

	// Answer preflight requests that do not match a registered route
	r.MethodFunc("OPTIONS", "/*", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return r
}
