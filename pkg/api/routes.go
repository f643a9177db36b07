package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// buildRouter constructs the chi router with all routes and middleware.
func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.corsMiddleware())

	// Health stays reachable for load balancer checks without credentials.
	r.Get("/api/v1/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		if s.cfg.Auth.Basic.Enabled {
			r.Use(s.requireBasicAuth())
		}

		// Routes that run queries against the warehouse.
		r.Group(func(r chi.Router) {
			if s.cfg.Server.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(
					s.cfg.Server.RateLimit.Review,
				))
			}

			r.Get("/review", s.handleReviewPage)
			r.Get("/api/v1/review", s.handleReview)
			r.Get("/api/v1/reports/{id}", s.handleReport)
			r.Get("/api/v1/comparison/{csid}", s.handleComparison)
		})

		r.Group(func(r chi.Router) {
			if s.cfg.Server.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(
					s.cfg.Server.RateLimit.API,
				))
			}

			r.Get("/", s.handleIndexPage)
			r.Get("/api/v1/config", s.handleConfig)
			r.Get("/api/v1/thresholds", s.handleThresholds)
			r.Get("/api/v1/reports", s.handleReports)
			r.Get("/api/v1/reports/{id}/sql", s.handleReportSQL)
		})
	})

	return r
}

// corsMiddleware returns a CORS handler configured from the server config.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods:   []string{"GET", "HEAD", "OPTIONS"},
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
