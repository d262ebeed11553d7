package api

import (
	"github.com/starford/wikigraph/internal/graph"
	"github.com/starford/wikigraph/internal/pageservice"
	"github.com/starford/wikigraph/internal/search"
)

// CreatePageRequest is the request body for creating a page.
type CreatePageRequest = pageservice.CreatePageInput

// MovePageRequest is the request body for renaming a page.
type MovePageRequest = pageservice.MovePageInput

// EditEntityRequest is the request body for editing an entity.
type EditEntityRequest struct {
	Content string `json:"content" example:"new paragraph text"`
}

// PageDetail is the full page response type (aliased from the domain layer).
type PageDetail = pageservice.PageDetail

// PageSummary is a lightweight item in a list response (aliased from the domain layer).
type PageSummary = pageservice.PageSummary

// Entity is a single graph entity.
type Entity = graph.Entity

// EntityNode is an entity with its descendants.
type EntityNode = pageservice.EntityNode

// EditResult is returned by entity mutations.
type EditResult = pageservice.EditResult

// PageListResponse wraps page listings.
type PageListResponse struct {
	Pages []PageSummary `json:"pages" validate:"required"`
	Total int           `json:"total" example:"42" validate:"required"`
}

// BacklinksResponse wraps reference listings.
type BacklinksResponse struct {
	Backlinks []pageservice.Backlink `json:"backlinks" validate:"required"`
}

// LinksResponse wraps outgoing links.
type LinksResponse struct {
	Links []pageservice.Link `json:"links" validate:"required"`
}

// RelatedResponse wraps traversal results.
type RelatedResponse struct {
	Pages []graph.Hit `json:"pages" validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []search.Result `json:"results" validate:"required"`
}
