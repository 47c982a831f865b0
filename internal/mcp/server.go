package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/isq/internal/authz"
	"github.com/joescharf/isq/internal/logger"
	"github.com/joescharf/isq/internal/models"
	"github.com/joescharf/isq/internal/response"
	"github.com/joescharf/isq/internal/search"
	"github.com/joescharf/isq/internal/store"
)

// Searcher is the part of the search engine the MCP tools use.
type Searcher interface {
	Search(ctx context.Context, caller models.Caller, params url.Values) (*search.Result, error)
	Reindex(ctx context.Context) (int, error)
	IsAdmin(ctx context.Context, caller models.Caller) (bool, error)
}

var _ Searcher = (*search.Engine)(nil)

// Server exposes issue search as MCP tools.
type Server struct {
	engine Searcher
	store  store.Reader
}

// NewServer creates the MCP server wrapper.
func NewServer(e Searcher, s store.Reader) *Server {
	return &Server{engine: e, store: s}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("isq", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.searchIssuesTool())
	srv.AddTool(s.reindexTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func (s *Server) context(ctx context.Context, login string) context.Context {
	return logger.WithLogFields(ctx, logger.LogFields{
		Login:     logger.Ptr(login),
		Surface:   logger.Ptr("mcp"),
		Component: "isq.mcp",
	})
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// isq_search_issues
func (s *Server) searchIssuesTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("isq_search_issues",
		mcp.WithDescription("Search static-analysis issues. Returns the JSON search payload: total, p, ps, paging, issues, components, projects, rules and facets. Only issues on components the caller may browse are returned."),
		mcp.WithString("query", mcp.Description("URL query string of search parameters, e.g. \"statuses=OPEN&severities=BLOCKER,CRITICAL&facets=rules&ps=20\"")),
		mcp.WithString("login", mcp.Description("Login to search as. Anonymous when empty")),
	)
	return tool, s.handleSearchIssues
}

func (s *Server) handleSearchIssues(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	login := strings.TrimSpace(request.GetString("login", ""))
	ctx = s.context(ctx, login)

	params, err := url.ParseQuery(strings.TrimPrefix(request.GetString("query", ""), "?"))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid query string: %v", err)), nil
	}

	caller, err := authz.LoadCaller(ctx, s.store, login)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load caller: %v", err)), nil
	}

	res, err := s.engine.Search(ctx, caller, params)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}

	data, err := json.Marshal(response.Compose(res))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// isq_reindex
func (s *Server) reindexTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("isq_reindex",
		mcp.WithDescription("Rebuild the search index from the issue store. Requires the global admin permission."),
		mcp.WithString("login", mcp.Required(), mcp.Description("Login of an administrator")),
	)
	return tool, s.handleReindex
}

func (s *Server) handleReindex(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	login, err := request.RequireString("login")
	if err != nil || strings.TrimSpace(login) == "" {
		return mcp.NewToolResultError("login is required"), nil
	}
	ctx = s.context(ctx, login)

	caller, err := authz.LoadCaller(ctx, s.store, login)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load caller: %v", err)), nil
	}
	admin, err := s.engine.IsAdmin(ctx, caller)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to check permissions: %v", err)), nil
	}
	if !admin {
		return mcp.NewToolResultError("insufficient privileges"), nil
	}

	n, err := s.engine.Reindex(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("reindex failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(`{"indexed":%d}`, n)), nil
}
