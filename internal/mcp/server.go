package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/reposearch/internal/indexer"
	"github.com/dshills/reposearch/internal/searcher"
	"github.com/dshills/reposearch/pkg/types"
)

const (
	// ServerName is the MCP server name
	ServerName = "reposearch"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Backend is the part of indexer.Service the tools call
type Backend interface {
	IndexRepository(ctx context.Context, opts indexer.IndexOptions) (*indexer.RunStats, error)
	Search(ctx context.Context, q types.SearchQuery) ([]types.SearchResult, error)
	DeepSearch(ctx context.Context, query string, opts searcher.Options) (*types.SearchResponse, error)
	Reindex(ctx context.Context, path string) error
	RemoveIndex(ctx context.Context, id string) error
	Status(ctx context.Context) (*indexer.Status, error)
	ClearCache()
}

var _ Backend = (*indexer.Service)(nil)

// Server wraps the MCP server with the search service
type Server struct {
	mcp     *server.MCPServer
	backend Backend
	logger  *slog.Logger
}

// NewServer creates a server exposing backend's operations as tools
func NewServer(backend Backend, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mcp:     server.NewMCPServer(ServerName, ServerVersion, server.WithToolCapabilities(false)),
		backend: backend,
		logger:  logger.With("component", "mcp"),
	}
	s.registerTools()
	return s
}

// Serve runs the server on stdio and blocks until stdin closes or ctx is
// cancelled
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("serving MCP on stdio")
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(indexRepositoryTool(), s.handleIndexRepository)
	s.mcp.AddTool(searchCodeTool(), s.handleSearchCode)
	s.mcp.AddTool(reindexFileTool(), s.handleReindexFile)
	s.mcp.AddTool(removeIndexTool(), s.handleRemoveIndex)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
	s.mcp.AddTool(clearCacheTool(), s.handleClearCache)
}
