// Package types provides shared type definitions for reposearch.
//
// This package defines the domain types used across the extractor, quality
// gate, embedding pipeline, vector index, knowledge graph and search engine.
//
// # Core Types
//
// CodeChunk is the atomic unit of indexing and retrieval. Its ID is derived
// from the file path and the byte offset of the declaration:
//
//	chunk := types.CodeChunk{
//	    ID:        types.ChunkID("src/math.ts", 0),
//	    Content:   "export function add(a, b) { return a + b; }",
//	    FilePath:  "src/math.ts",
//	    StartLine: 1,
//	    EndLine:   1,
//	    Type:      types.ChunkExport,
//	    Metadata:  types.ChunkMetadata{Name: "add", Complexity: 1},
//	}
//
// Chunks are never mutated after extraction. A changed file produces new
// chunks with new IDs and the old ones are removed from the index.
//
// # Graph Records
//
// The knowledge graph returns values of the closed GraphRecord sum type:
// NodeRecord, EdgeRecord, RelatedNode and RelatedEntity. Callers switch on
// the concrete type:
//
//	switch r := rec.(type) {
//	case types.RelatedNode:
//	    fmt.Println(r.Node.Name, r.Depth)
//	case types.EdgeRecord:
//	    fmt.Println(r.From, "->", r.To)
//	}
//
// # Search Results
//
// SearchResult is the external result shape. SemanticSearchResult extends it
// with rerank, diversity, novelty and graph signals. FinalScore is the value
// results are ordered by.
package types
