package rest

import (
	"net/http"
	"time"

	"github.com/baechuer/tablebook/internal/domain"
	"github.com/baechuer/tablebook/internal/metrics"
	"github.com/baechuer/tablebook/internal/security"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/cors"
)

type RateLimit struct {
	Enabled bool
	Limit   int
	Window  time.Duration
}

type RouterDeps struct {
	Handler  *Handler
	Verifier security.AccessTokenVerifier
	// Limiter shares counters across nodes. When nil, an in-process
	// per-IP limiter is used instead.
	Limiter     domain.RateLimiter
	RateLimit   RateLimit
	CORSOrigins []string
}

func NewRouter(d RouterDeps) http.Handler {
	if d.Handler == nil {
		panic("rest.NewRouter: nil handler")
	}
	if d.Verifier == nil {
		panic("rest.NewRouter: nil verifier")
	}

	r := chi.NewRouter()

	// Request ID + structured access log
	r.Use(RequestID)
	r.Use(HTTPLogger)

	// Panic recovery
	r.Use(middleware.Recoverer)
	r.Use(metrics.HTTP)

	r.Get("/healthz", d.Handler.Health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if d.RateLimit.Enabled {
			r.Use(rateLimiter(d))
		}
		r.Use(corsHandler(d.CORSOrigins))
		r.Use(SecurityHeaders)

		// public reads; a token only changes what the caller sees
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(d.Verifier, AuthOptions{Optional: true, AllowQueryToken: true}))

			r.Get("/catalog", d.Handler.Catalog)
			r.Get("/events", d.Handler.ListEvents)
			r.Get("/events.ics", d.Handler.Calendar)
			r.Get("/events/{eventID}", d.Handler.GetEvent)
			r.Get("/stream", d.Handler.Stream)
		})

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(d.Verifier, AuthOptions{}))

			// hosting
			r.Post("/events", d.Handler.CreateEvent)
			r.Patch("/events/{eventID}", d.Handler.UpdateEvent)
			r.Delete("/events/{eventID}", d.Handler.EndEvent)

			// participation
			r.Post("/events/{eventID}/join", d.Handler.Join)
			r.Delete("/events/{eventID}/join", d.Handler.Leave)
			r.Get("/me/joins", d.Handler.MeJoins)
		})
	})

	return r
}

func rateLimiter(d RouterDeps) func(http.Handler) http.Handler {
	limit, window := d.RateLimit.Limit, d.RateLimit.Window
	if d.Limiter != nil {
		return RateLimitMiddleware(d.Limiter, limit, window)
	}
	return httprate.Limit(limit, window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", retryAfter(window))
			fail(w, r, http.StatusTooManyRequests, "rate_limited", "too many requests", nil)
		}),
	)
}

func corsHandler(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id", "Retry-After"},
		MaxAge:         300,
	}).Handler
}
