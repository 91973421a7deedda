package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter constructs the chi router with all routes and middleware.
func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.corsMiddleware())

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints.
		r.Get("/health", s.handleHealth)

		// The generation service pushes run events here. The endpoint
		// is unauthenticated: the upstream service carries no
		// credentials when delivering webhooks.
		r.Post("/webhook/comfy", s.handleWebhook)

		// Auth endpoints.
		r.Route("/auth", func(r chi.Router) {
			if s.cfg.Server.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(
					s.cfg.Server.RateLimit.Auth,
				))
			}

			r.Post("/login", s.handleLogin)
			r.Post("/logout", s.handleLogout)

			r.Group(func(r chi.Router) {
				r.Use(s.requireAuth)
				r.Get("/me", s.handleMe)
			})
		})

		// Run endpoints (authenticated, owner-scoped).
		r.Route("/runs", func(r chi.Router) {
			r.Use(s.requireAuth)

			if s.cfg.Server.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(
					s.cfg.Server.RateLimit.Authenticated,
				))
			}

			r.Post("/", s.handleSubmitRun)
			r.Get("/", s.handleListRuns)
			r.Get("/{run_id}", s.handleGetRun)
			r.Get("/{run_id}/events", s.handleWatchRun)
		})

		// Logo upload.
		r.Route("/uploads", func(r chi.Router) {
			r.Use(s.requireAuth)

			if s.cfg.Server.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(
					s.cfg.Server.RateLimit.Authenticated,
				))
			}

			r.Post("/", s.handleUpload)
		})

		// File serving (local filesystem or S3 presigned URLs).
		r.Route("/files", func(r chi.Router) {
			r.Use(s.requireAuth)

			if s.cfg.Server.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(
					s.cfg.Server.RateLimit.Authenticated,
				))
			}

			r.Get("/*", s.handleFileRequest)
			r.Head("/*", s.handleFileRequest)
		})
	})

	return r
}

// corsMiddleware returns a CORS handler configured from the server config.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods:   []string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	origins := s.cfg.Server.CORSOrigins

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		// Reflect the requesting origin so credentials work from any origin.
		opts.AllowOriginFunc = func(_ *http.Request, _ string) bool {
			return true
		}
	} else {
		opts.AllowedOrigins = origins
	}

	return cors.Handler(opts)
}
