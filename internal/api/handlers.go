package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/wikigraph/internal/graph"
	"github.com/starford/wikigraph/internal/pageservice"
)

const maxBodyBytes = 10 << 20

// Handler holds API route handlers.
type Handler struct {
	svc *pageservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *pageservice.Service) *Handler {
	return &Handler{svc: svc}
}

// pagePath extracts the page path from the wildcard part of the URL.
// Supports encoded slashes from OpenAPI clients (e.g. topics%2Fpage.wiki).
func pagePath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	return true
}

// ListPages handles GET /api/pages.
//
//	@Summary		List all pages
//	@Tags			pages
//	@Produce		json
//	@Success		200	{object}	PageListResponse
//	@Security		BearerAuth
//	@Router			/pages [get]
func (h *Handler) ListPages(w http.ResponseWriter, r *http.Request) {
	pages := h.svc.Pages(r.Context())
	writeJSON(w, http.StatusOK, PageListResponse{Pages: pages, Total: len(pages)})
}

// GetPage handles GET /api/pages/*.
//
//	@Summary		Get a page with its entity tree and backlinks
//	@Tags			pages
//	@Produce		json
//	@Param			path	path		string	true	"Page path or key"
//	@Success		200		{object}	PageDetail
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/pages/{path} [get]
func (h *Handler) GetPage(w http.ResponseWriter, r *http.Request) {
	path := pagePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	page, err := h.svc.Page(r.Context(), path)
	if err != nil {
		writeError(w, "get page", err, slog.String("path", path))
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// CreatePage handles POST /api/pages.
//
//	@Summary		Create a new page
//	@Tags			pages
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreatePageRequest	true	"Page to create"
//	@Success		201		{object}	PageDetail
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/pages [post]
func (h *Handler) CreatePage(w http.ResponseWriter, r *http.Request) {
	var req CreatePageRequest
	if !decode(w, r, &req) {
		return
	}
	page, err := h.svc.CreatePage(r.Context(), req)
	if err != nil {
		writeError(w, "create page", err, slog.String("path", req.Path))
		return
	}
	writeJSON(w, http.StatusCreated, page)
}

// DeletePage handles DELETE /api/pages/*.
//
//	@Summary		Delete a page
//	@Tags			pages
//	@Param			path	path	string	true	"Page path or key"
//	@Success		204		"Page deleted"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/pages/{path} [delete]
func (h *Handler) DeletePage(w http.ResponseWriter, r *http.Request) {
	path := pagePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	if err := h.svc.DeletePage(r.Context(), path); err != nil {
		writeError(w, "delete page", err, slog.String("path", path))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MovePage handles POST /api/pages/move.
//
//	@Summary		Rename a page, keeping its identity
//	@Tags			pages
//	@Accept			json
//	@Produce		json
//	@Param			body	body		MovePageRequest	true	"Source and destination"
//	@Success		200		{object}	PageDetail
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/pages/move [post]
func (h *Handler) MovePage(w http.ResponseWriter, r *http.Request) {
	var req MovePageRequest
	if !decode(w, r, &req) {
		return
	}
	page, err := h.svc.MovePage(r.Context(), req)
	if err != nil {
		writeError(w, "move page", err, slog.String("from", req.From), slog.String("to", req.To))
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// GetEntity handles GET /api/entities/{id}.
//
//	@Summary		Get one entity
//	@Tags			entities
//	@Produce		json
//	@Param			id	path		string	true	"Entity ID"
//	@Success		200	{object}	Entity
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/entities/{id} [get]
func (h *Handler) GetEntity(w http.ResponseWriter, r *http.Request) {
	id := graph.ID(chi.URLParam(r, "id"))
	e, err := h.svc.Entity(r.Context(), id)
	if err != nil {
		writeError(w, "get entity", err, slog.String("id", string(id)))
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// GetSubtree handles GET /api/entities/{id}/subtree.
//
//	@Summary		Get an entity with its descendants
//	@Tags			entities
//	@Produce		json
//	@Param			id	path		string	true	"Entity ID"
//	@Success		200	{object}	EntityNode
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/entities/{id}/subtree [get]
func (h *Handler) GetSubtree(w http.ResponseWriter, r *http.Request) {
	id := graph.ID(chi.URLParam(r, "id"))
	tree, err := h.svc.Subtree(r.Context(), id)
	if err != nil {
		writeError(w, "get subtree", err, slog.String("id", string(id)))
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

// EditEntity handles PUT /api/entities/{id}.
//
//	@Summary		Replace the content of an entity
//	@Tags			entities
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Entity ID"
//	@Param			body	body		EditEntityRequest	true	"New content"
//	@Success		200		{object}	EditResult
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/entities/{id} [put]
func (h *Handler) EditEntity(w http.ResponseWriter, r *http.Request) {
	var req EditEntityRequest
	if !decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	res, err := h.svc.EditEntity(r.Context(), pageservice.EditEntityInput{ID: id, Content: req.Content})
	if err != nil {
		writeError(w, "edit entity", err, slog.String("id", id))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DeleteEntity handles DELETE /api/entities/{id}.
//
//	@Summary		Remove an entity from its page
//	@Tags			entities
//	@Produce		json
//	@Param			id	path		string	true	"Entity ID"
//	@Success		200	{object}	EditResult
//	@Failure		404	{object}	errResponse
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/entities/{id} [delete]
func (h *Handler) DeleteEntity(w http.ResponseWriter, r *http.Request) {
	id := graph.ID(chi.URLParam(r, "id"))
	res, err := h.svc.DeleteEntity(r.Context(), id)
	if err != nil {
		writeError(w, "delete entity", err, slog.String("id", string(id)))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Backlinks handles GET /api/backlinks/*.
//
//	@Summary		List references to a page
//	@Tags			references
//	@Produce		json
//	@Param			path	path		string	true	"Page path or key"
//	@Success		200		{object}	BacklinksResponse
//	@Security		BearerAuth
//	@Router			/backlinks/{path} [get]
func (h *Handler) Backlinks(w http.ResponseWriter, r *http.Request) {
	path := pagePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	bl, err := h.svc.Backlinks(r.Context(), path)
	if err != nil {
		writeError(w, "backlinks", err, slog.String("path", path))
		return
	}
	writeJSON(w, http.StatusOK, BacklinksResponse{Backlinks: bl})
}

// Links handles GET /api/links/*.
//
//	@Summary		List outgoing links of a page
//	@Tags			references
//	@Produce		json
//	@Param			path	path		string	true	"Page path or key"
//	@Success		200		{object}	LinksResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/links/{path} [get]
func (h *Handler) Links(w http.ResponseWriter, r *http.Request) {
	path := pagePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	links, err := h.svc.Links(r.Context(), path)
	if err != nil {
		writeError(w, "links", err, slog.String("path", path))
		return
	}
	writeJSON(w, http.StatusOK, LinksResponse{Links: links})
}

// Tagged handles GET /api/tags/{tag}.
//
//	@Summary		List tag entities with a given name
//	@Tags			references
//	@Produce		json
//	@Param			tag	path		string	true	"Tag name"
//	@Success		200	{object}	BacklinksResponse
//	@Security		BearerAuth
//	@Router			/tags/{tag} [get]
func (h *Handler) Tagged(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "tag")
	refs, err := h.svc.SearchTag(r.Context(), tag)
	if err != nil {
		writeError(w, "search tag", err, slog.String("tag", tag))
		return
	}
	writeJSON(w, http.StatusOK, BacklinksResponse{Backlinks: refs})
}

// Related handles GET /api/related/*.
//
//	@Summary		Pages reachable through references
//	@Tags			references
//	@Produce		json
//	@Param			path	path		string	true	"Page path or key"
//	@Param			depth	query		int		false	"Maximum hops (default 1)"
//	@Success		200		{object}	RelatedResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/related/{path} [get]
func (h *Handler) Related(w http.ResponseWriter, r *http.Request) {
	path := pagePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	depth, _ := strconv.Atoi(r.URL.Query().Get("depth"))
	hits, err := h.svc.Related(r.Context(), path, depth)
	if err != nil {
		writeError(w, "related", err, slog.String("path", path))
		return
	}
	writeJSON(w, http.StatusOK, RelatedResponse{Pages: hits})
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across pages
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, "search", err, slog.String("query", q))
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}
