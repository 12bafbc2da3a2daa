package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

var readOnlyAnnotation = mcp.ToolAnnotation{
	ReadOnlyHint:    mcp.ToBoolPtr(true),
	DestructiveHint: mcp.ToBoolPtr(false),
	IdempotentHint:  mcp.ToBoolPtr(true),
	OpenWorldHint:   mcp.ToBoolPtr(false),
}

var chunkTypeNames = []string{"function", "class", "interface", "variable", "import", "export", "file"}

// indexRepositoryTool returns the tool definition for index_repository
func indexRepositoryTool() mcp.Tool {
	return mcp.NewTool("index_repository",
		mcp.WithDescription("Index a source tree so it can be searched. Incremental runs only process files changed since the last run."),
		mcp.WithString("path",
			mcp.Description("Root directory to index (defaults to the configured root)"),
		),
		mcp.WithString("filter",
			mcp.Description("Only index files whose name contains this text or matches this glob (e.g. '*.ts')"),
		),
		mcp.WithBoolean("incremental",
			mcp.Description("Process only added, modified and deleted files"),
			mcp.DefaultBool(false),
		),
		mcp.WithBoolean("force",
			mcp.Description("Discard the manifest and all indexed data first (full rebuild)"),
			mcp.DefaultBool(false),
		),
		mcp.WithNumber("batch_size",
			mcp.Description("Chunks per embedding request"),
			mcp.Min(1),
		),
	)
}

// searchCodeTool returns the tool definition for search_code
func searchCodeTool() mcp.Tool {
	return mcp.NewTool("search_code",
		mcp.WithDescription("Search the indexed code with natural language or keywords. Combines vector similarity, BM25, the dependency graph and result diversity."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query (natural language or identifiers)"),
		),
		mcp.WithNumber("top",
			mcp.Description("Maximum number of results to return (1-100)"),
			mcp.DefaultNumber(10),
			mcp.Min(1),
			mcp.Max(100),
		),
		mcp.WithNumber("threshold",
			mcp.Description("Drop results with a similarity score below this value (0.0-1.0)"),
			mcp.Min(0),
			mcp.Max(1),
		),
		mcp.WithArray("file_types",
			mcp.Description("Restrict to file extensions, e.g. [\"ts\", \"tsx\"]"),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithArray("packages",
			mcp.Description("Restrict to top-level packages (the directory under packages/ or the first path segment)"),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithArray("types",
			mcp.Description("Restrict to chunk types"),
			mcp.Items(map[string]any{"type": "string", "enum": chunkTypeNames}),
		),
		mcp.WithBoolean("include_context",
			mcp.Description("Include surrounding source lines with each result"),
			mcp.DefaultBool(false),
		),
		mcp.WithBoolean("deep",
			mcp.Description("Return the full reranking breakdown, detected patterns and graph signals"),
			mcp.DefaultBool(false),
		),
	)
}

// reindexFileTool returns the tool definition for reindex_file
func reindexFileTool() mcp.Tool {
	return mcp.NewTool("reindex_file",
		mcp.WithDescription("Re-extract and re-embed one file. A file that no longer exists is removed from the index."),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("File path, absolute or relative to the indexed root"),
		),
	)
}

// removeIndexTool returns the tool definition for remove_index
func removeIndexTool() mcp.Tool {
	return mcp.NewTool("remove_index",
		mcp.WithDescription("Remove one chunk from the index by id"),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Chunk id in the form path:byteoffset"),
		),
	)
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.NewTool("get_status",
		mcp.WithDescription("Report index statistics, the last run and search analytics"),
		mcp.WithToolAnnotation(readOnlyAnnotation),
	)
}

// clearCacheTool returns the tool definition for clear_cache
func clearCacheTool() mcp.Tool {
	return mcp.NewTool("clear_cache",
		mcp.WithDescription("Empty the search result cache"),
		mcp.WithIdempotentHintAnnotation(true),
	)
}
