package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/tagdex/internal/service"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *service.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Dictionary.
	r.Get("/tags", h.ListTags)
	r.Post("/tags", h.PutTag)
	r.Get("/tags/{token}", h.GetTag)
	r.Get("/offsets/{path}", h.DescribeOffset)

	// Indexes.
	r.Get("/tags/{token}/plan", h.PlanTag)
	r.Post("/tags/{token}/reconcile", h.ReconcileTag)
	r.Get("/indexes", h.ListIndexes)

	// Runs.
	r.Post("/scan", h.Scan)
	r.Post("/recommit", h.Recommit)
	r.Get("/recommit/{runID}", h.GetCheckpoint)
	r.Post("/recommit/{runID}/resume", h.ResumeRecommit)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
