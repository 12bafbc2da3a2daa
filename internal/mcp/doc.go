// Package mcp implements the Model Context Protocol (MCP) server for
// reposearch.
//
// The server exposes the search service to AI coding assistants over
// stdio as six tools:
//   - index_repository: index a source tree, fully or incrementally
//   - search_code: hybrid search with filters, threshold and context
//   - reindex_file: refresh one file
//   - remove_index: drop one chunk by id
//   - get_status: index statistics, last run and search analytics
//   - clear_cache: empty the search result cache
//
// # Basic Usage
//
// The server is started by the serve command:
//
//	reposearch serve
//
// It reads JSON-RPC messages from stdin and writes responses to stdout.
// Logs go to stderr.
//
// # Tool: search_code
//
//	Request:
//	{
//	  "name": "search_code",
//	  "arguments": {
//	    "query": "add numbers",
//	    "top": 5,
//	    "file_types": ["ts"],
//	    "include_context": true
//	  }
//	}
//
//	Response:
//	{
//	  "query": "add numbers",
//	  "count": 1,
//	  "results": [
//	    {
//	      "id": "a.ts:0",
//	      "filePath": "a.ts",
//	      "startLine": 1,
//	      "endLine": 1,
//	      "type": "export",
//	      "score": 0.81,
//	      "snippet": "export function add(a, b) { return a + b; }"
//	    }
//	  ]
//	}
//
// Setting "deep" returns the engine's full results instead, with rerank
// scores, detected patterns, graph signals and the degraded flag.
//
// # Errors
//
// Handler failures are returned as *MCPError with a JSON-RPC code:
//
//	-32602  invalid parameters
//	-32603  internal error
//	-32001  path not found
//	-32002  indexing already in progress
//	-32003  nothing indexed
//	-32004  empty or malformed query
//	-32005  unknown chunk id
//
// # Client Configuration
//
//	{
//	  "mcpServers": {
//	    "reposearch": {
//	      "command": "/usr/local/bin/reposearch",
//	      "args": ["serve", "--root", "/path/to/repo"],
//	      "env": {"REPOSEARCH_EMBEDDING_PROVIDER": "local"}
//	    }
//	  }
//	}
package mcp
