// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes wiki graph tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/wikigraph/internal/apperr"
	"github.com/starford/wikigraph/internal/graph"
	"github.com/starford/wikigraph/internal/pageservice"
)

const formatURI = "wikigraph://page-format"

// Server wraps the MCP server with wiki graph tools.
type Server struct {
	mcp *server.MCPServer
	svc *pageservice.Service
}

// New creates a new MCP server with all tools registered.
func New(svc *pageservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"wikigraph",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	// Queries.
	s.mcp.AddTool(mcp.NewTool("get_page",
		mcp.WithDescription("Read a page: raw content, entity tree with IDs, and backlinks."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Page path or key (e.g. notes/todo or notes/todo.wiki)")),
	), s.getPage)

	s.mcp.AddTool(mcp.NewTool("list_pages",
		mcp.WithDescription("List pages, optionally only those under a folder."),
		mcp.WithString("folder", mcp.Description("Optional folder prefix (empty for all)")),
	), s.listPages)

	s.mcp.AddTool(mcp.NewTool("get_entity",
		mcp.WithDescription("Read one entity and its descendants by ID."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Entity ID from get_page")),
	), s.getEntity)

	s.mcp.AddTool(mcp.NewTool("get_backlinks",
		mcp.WithDescription("Find every link and tag referencing the specified page, resolved or not."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Page path or key")),
	), s.getBacklinks)

	s.mcp.AddTool(mcp.NewTool("get_links",
		mcp.WithDescription("List the outgoing links of a page in document order."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Page path or key")),
	), s.getLinks)

	s.mcp.AddTool(mcp.NewTool("get_related",
		mcp.WithDescription("List pages connected to a page through links, in either direction."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Page path or key")),
		mcp.WithNumber("depth", mcp.Description("Maximum number of hops (default 1)")),
	), s.getRelated)

	s.mcp.AddTool(mcp.NewTool("search_tag",
		mcp.WithDescription("Find every occurrence of a tag."),
		mcp.WithString("tag", mcp.Required(), mcp.Description("Tag name, with or without surrounding colons")),
	), s.searchTag)

	s.mcp.AddTool(mcp.NewTool("search_text",
		mcp.WithDescription("Full-text search through page content and titles."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
	), s.searchText)

	// Mutations.
	s.mcp.AddTool(mcp.NewTool("create_page",
		mcp.WithDescription("Create a new page. Read the format first via get_page_format "+
			"or the "+formatURI+" resource."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Page path or key for the new page")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Page content in wiki markup")),
	), s.createPage)

	s.mcp.AddTool(mcp.NewTool("edit_entity",
		mcp.WithDescription("Replace the content of one entity, leaving the rest of the page untouched. "+
			"Sections, list items, links and tags take a single line."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Entity ID from get_page")),
		mcp.WithString("content", mcp.Required(), mcp.Description("New content")),
	), s.editEntity)

	s.mcp.AddTool(mcp.NewTool("delete_entity",
		mcp.WithDescription("Remove one entity from its page."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Entity ID from get_page")),
	), s.deleteEntity)

	s.mcp.AddTool(mcp.NewTool("delete_page",
		mcp.WithDescription("Delete a page. Links to it stay in place and become unresolved."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Page path or key")),
	), s.deletePage)

	s.mcp.AddTool(mcp.NewTool("move_page",
		mcp.WithDescription("Rename a page. Entity IDs are preserved; links to the old key become unresolved."),
		mcp.WithString("from", mcp.Required(), mcp.Description("Current page path or key")),
		mcp.WithString("to", mcp.Required(), mcp.Description("New page path or key")),
	), s.movePage)

	s.mcp.AddTool(mcp.NewTool("get_page_format",
		mcp.WithDescription("Returns the wiki markup reference. "+
			"Call this before creating or editing pages."),
	), s.getPageFormat)

	// Resource: page format contract.
	s.mcp.AddResource(
		mcp.NewResource(formatURI, "Wiki Page Format",
			mcp.WithResourceDescription("Wiki markup understood by the parser."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readPageFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func errorResult(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return mcp.NewToolResultError("not found: " + err.Error())
	case errors.Is(err, apperr.ErrAlreadyExists):
		return mcp.NewToolResultError("already exists: " + err.Error())
	}
	return mcp.NewToolResultError(err.Error())
}

func (s *Server) getPage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	page, err := s.svc.Page(ctx, path)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(page)
}

func (s *Server) listPages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	folder := strings.Trim(req.GetString("folder", ""), "/")

	var paths []string
	for _, p := range s.svc.Pages(ctx) {
		if folder == "" || strings.HasPrefix(p.Path, folder+"/") {
			paths = append(paths, p.Path)
		}
	}
	if len(paths) == 0 {
		return mcp.NewToolResultText("no pages found"), nil
	}
	return mcp.NewToolResultText(strings.Join(paths, "\n")), nil
}

func (s *Server) getEntity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tree, err := s.svc.Subtree(ctx, graph.ID(id))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(tree)
}

func (s *Server) getBacklinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	bl, err := s.svc.Backlinks(ctx, path)
	if err != nil {
		return errorResult(err), nil
	}
	if len(bl) == 0 {
		return mcp.NewToolResultText("no backlinks found"), nil
	}
	return jsonResult(bl)
}

func (s *Server) getLinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	links, err := s.svc.Links(ctx, path)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(links)
}

func (s *Server) getRelated(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	hits, err := s.svc.Related(ctx, path, req.GetInt("depth", 1))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(hits)
}

func (s *Server) searchTag(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tag, err := req.RequireString("tag")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	refs, err := s.svc.SearchTag(ctx, tag)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(refs)
}

func (s *Server) searchText(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, req.GetInt("limit", 20))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(results)
}

func (s *Server) createPage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	page, err := s.svc.CreatePage(ctx, pageservice.CreatePageInput{Path: path, Content: content})
	if err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s", page.Path)), nil
}

func (s *Server) editEntity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.EditEntity(ctx, pageservice.EditEntityInput{ID: id, Content: content})
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res)
}

func (s *Server) deleteEntity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.DeleteEntity(ctx, graph.ID(id))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res)
}

func (s *Server) deletePage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.DeletePage(ctx, path); err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted: %s", path)), nil
}

func (s *Server) movePage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	from, err := req.RequireString("from")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	to, err := req.RequireString("to")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	page, err := s.svc.MovePage(ctx, pageservice.MovePageInput{From: from, To: to})
	if err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("moved: %s -> %s", from, page.Path)), nil
}

func (s *Server) getPageFormat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(PageFormatContract), nil
}

func (s *Server) readPageFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      formatURI,
			MIMEType: "text/markdown",
			Text:     PageFormatContract,
		},
	}, nil
}
