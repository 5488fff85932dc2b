package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/facematch/internal/api/middleware"
	"github.com/kiranshivaraju/facematch/internal/api/response"
	"github.com/kiranshivaraju/facematch/pkg/models"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler          http.HandlerFunc
	TriggerHandler         http.HandlerFunc
	CreateJobHandler       http.HandlerFunc
	EnqueueDefaultsHandler http.HandlerFunc
	JobStatsHandler        http.HandlerFunc
	GetJobHandler          http.HandlerFunc
	CreateFaceHandler      http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.With(deps.Auth.RequireScope(models.ScopeTrigger, models.ScopeAdmin)).
			Post("/api/v1/match-generator", orNotImplemented(deps.TriggerHandler))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeAdmin))

			r.Post("/api/v1/jobs", orNotImplemented(deps.CreateJobHandler))
			r.Post("/api/v1/jobs/enqueue-defaults", orNotImplemented(deps.EnqueueDefaultsHandler))
			r.Get("/api/v1/jobs/stats", orNotImplemented(deps.JobStatsHandler))
			r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJobHandler))

			r.Post("/api/v1/faces", orNotImplemented(deps.CreateFaceHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
