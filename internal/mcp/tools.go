package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/reposearch/internal/indexer"
	"github.com/dshills/reposearch/internal/searcher"
	"github.com/dshills/reposearch/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodePathNotFound       = -32001 // Path does not exist or is not a directory
	ErrorCodeIndexingInProgress = -32002 // Another indexing operation is already running
	ErrorCodeNotIndexed         = -32003 // Nothing has been indexed yet
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty or malformed
	ErrorCodeChunkNotFound      = -32005 // Unknown chunk id
)

// Limits on search_code arguments
const (
	defaultTop = 10
	maxTop     = 100
	maxErrors  = 5
)

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    any
	cause   error
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

func (e *MCPError) Unwrap() error {
	return e.cause
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data any) error {
	return &MCPError{Code: code, Message: message, Data: data}
}

// toMCPError maps service errors onto protocol codes
func toMCPError(op string, err error) error {
	code := ErrorCodeInternalError
	switch {
	case errors.Is(err, types.ErrInvalidQuery):
		code = ErrorCodeEmptyQuery
	case errors.Is(err, types.ErrIndexingInProgress):
		code = ErrorCodeIndexingInProgress
	case errors.Is(err, types.ErrChunkNotFound):
		code = ErrorCodeChunkNotFound
	case errors.Is(err, types.ErrNotIndexed):
		code = ErrorCodeNotIndexed
	case errors.Is(err, indexer.ErrNotIndexable):
		code = ErrorCodeInvalidParams
	case errors.Is(err, os.ErrNotExist):
		code = ErrorCodePathNotFound
	}
	return &MCPError{
		Code:    code,
		Message: op + " failed",
		Data:    map[string]any{"error": err.Error()},
		cause:   err,
	}
}

// handleIndexRepository handles the index_repository tool invocation
func (s *Server) handleIndexRepository(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := request.GetString("path", "")
	if path != "" {
		if err := validateDir(path); err != nil {
			return nil, newMCPError(ErrorCodePathNotFound, "invalid path", map[string]any{
				"param":  "path",
				"reason": err.Error(),
			})
		}
	}

	batch := request.GetInt("batch_size", 0)
	if batch < 0 {
		return nil, newMCPError(ErrorCodeInvalidParams, "batch_size must be positive", map[string]any{
			"param": "batch_size",
			"value": batch,
		})
	}

	stats, err := s.backend.IndexRepository(ctx, indexer.IndexOptions{
		Src:         path,
		Filter:      request.GetString("filter", ""),
		Incremental: request.GetBool("incremental", false),
		Force:       request.GetBool("force", false),
		BatchSize:   batch,
	})
	if err != nil {
		return nil, toMCPError("indexing", err)
	}

	response := map[string]any{
		"indexed":             true,
		"run_id":              stats.RunID,
		"mode":                stats.Mode,
		"files_processed":     stats.FilesProcessed,
		"files_failed":        stats.FilesFailed,
		"files_added":         stats.FilesAdded,
		"files_modified":      stats.FilesModified,
		"files_deleted":       stats.FilesDeleted,
		"chunks_extracted":    stats.ChunksExtracted,
		"chunks_indexed":      stats.ChunksIndexed,
		"chunks_removed":      stats.ChunksRemoved,
		"quality_score":       stats.Quality.QualityScore,
		"embed_failed_chunks": stats.EmbedFailedChunks,
		"graph_nodes":         stats.Nodes,
		"graph_edges":         stats.Edges,
		"duration_ms":         stats.Duration.Milliseconds(),
	}
	if n := len(stats.Errors); n > 0 {
		if n > maxErrors {
			response["errors"] = stats.Errors[:maxErrors]
			response["error_count"] = n
		} else {
			response["errors"] = stats.Errors
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSearchCode handles the search_code tool invocation
func (s *Server) handleSearchCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := request.GetString("query", "")
	if query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]any{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	top := request.GetInt("top", defaultTop)
	if top < 1 || top > maxTop {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("top must be between 1 and %d", maxTop), map[string]any{
			"param": "top",
			"value": top,
		})
	}

	threshold := request.GetFloat("threshold", 0)
	if threshold < 0 || threshold > 1 {
		return nil, newMCPError(ErrorCodeInvalidParams, "threshold must be between 0 and 1", map[string]any{
			"param": "threshold",
			"value": threshold,
		})
	}

	filters, err := parseFilters(request)
	if err != nil {
		return nil, err
	}

	if request.GetBool("deep", false) {
		resp, err := s.backend.DeepSearch(ctx, query, searcher.Options{Top: top, MaxResults: top, Filters: filters})
		if err != nil {
			return nil, toMCPError("search", err)
		}
		return mcp.NewToolResultText(formatJSON(map[string]any{
			"query":       query,
			"count":       len(resp.Results),
			"results":     resp.Results,
			"degraded":    resp.Degraded,
			"cache_hit":   resp.CacheHit,
			"duration_ms": resp.Duration.Milliseconds(),
		})), nil
	}

	results, err := s.backend.Search(ctx, types.SearchQuery{
		Query:   query,
		Filters: filters,
		Options: types.QueryOptions{
			Top:            top,
			Threshold:      threshold,
			IncludeContext: request.GetBool("include_context", false),
		},
	})
	if err != nil {
		return nil, toMCPError("search", err)
	}

	return mcp.NewToolResultText(formatJSON(map[string]any{
		"query":   query,
		"count":   len(results),
		"results": results,
	})), nil
}

// parseFilters reads the optional filter arguments of search_code
func parseFilters(request mcp.CallToolRequest) (types.SearchFilters, error) {
	filters := types.SearchFilters{
		FileTypes: request.GetStringSlice("file_types", nil),
		Packages:  request.GetStringSlice("packages", nil),
	}
	for _, name := range request.GetStringSlice("types", nil) {
		t := types.ChunkType(name)
		if !t.Valid() {
			return filters, newMCPError(ErrorCodeInvalidParams, "invalid chunk type", map[string]any{
				"param":   "types",
				"value":   name,
				"allowed": chunkTypeNames,
			})
		}
		filters.Types = append(filters.Types, t)
	}
	return filters, nil
}

// handleReindexFile handles the reindex_file tool invocation
func (s *Server) handleReindexFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := request.GetString("path", "")
	if path == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]any{
			"param":  "path",
			"reason": "missing or empty",
		})
	}

	if err := s.backend.Reindex(ctx, path); err != nil {
		return nil, toMCPError("reindex", err)
	}
	return mcp.NewToolResultText(formatJSON(map[string]any{
		"reindexed": true,
		"path":      path,
	})), nil
}

// handleRemoveIndex handles the remove_index tool invocation
func (s *Server) handleRemoveIndex(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := request.GetString("id", "")
	if id == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "id parameter is required", map[string]any{
			"param":  "id",
			"reason": "missing or empty",
		})
	}

	if err := s.backend.RemoveIndex(ctx, id); err != nil {
		return nil, toMCPError("remove", err)
	}
	return mcp.NewToolResultText(formatJSON(map[string]any{
		"removed": true,
		"id":      id,
	})), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.backend.Status(ctx)
	if err != nil {
		return nil, toMCPError("status", err)
	}

	response := map[string]any{
		"indexed":        status.Chunks > 0,
		"indexing":       status.Indexing,
		"root":           status.Root,
		"chunks":         status.Chunks,
		"files":          status.Files,
		"live_rows":      status.LiveRows,
		"dead_rows":      status.DeadRows,
		"manifest_files": status.ManifestFiles,
		"embedding": map[string]any{
			"provider":  status.Provider,
			"model":     status.Model,
			"dimension": status.Dimension,
		},
		"analytics": status.Analytics,
	}
	if status.LastRun != nil {
		response["last_run"] = status.LastRun
	}
	if status.Storage != nil {
		response["storage"] = map[string]any{
			"chunks_count":     status.Storage.ChunksCount,
			"embeddings_count": status.Storage.EmbeddingsCount,
			"index_size_mb":    fmt.Sprintf("%.2f", status.Storage.IndexSizeMB),
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleClearCache handles the clear_cache tool invocation
func (s *Server) handleClearCache(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.backend.ClearCache()
	return mcp.NewToolResultText(formatJSON(map[string]any{"cleared": true})), nil
}

// validateDir checks that path is an existing directory
func validateDir(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}
	if !info.IsDir() {
		return ErrNotDirectory
	}
	return nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]any) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// Validation errors
var (
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotDirectory    = errors.New("path is not a directory")
)
