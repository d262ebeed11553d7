package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/wikigraph/internal/pageservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *pageservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Pages.
	r.Get("/pages", h.ListPages)
	r.Post("/pages", h.CreatePage)
	r.Post("/pages/move", h.MovePage)
	r.Get("/pages/*", h.GetPage)
	r.Delete("/pages/*", h.DeletePage)

	// Entities.
	r.Get("/entities/{id}", h.GetEntity)
	r.Get("/entities/{id}/subtree", h.GetSubtree)
	r.Put("/entities/{id}", h.EditEntity)
	r.Delete("/entities/{id}", h.DeleteEntity)

	// References.
	r.Get("/backlinks/*", h.Backlinks)
	r.Get("/links/*", h.Links)
	r.Get("/tags/{tag}", h.Tagged)
	r.Get("/related/*", h.Related)

	// Search.
	r.Get("/search", h.Search)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
