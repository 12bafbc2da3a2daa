// Package chunker extracts line-addressed CodeChunks from a source tree.
//
// The Extractor walks a root directory, skipping dependency, build and VCS
// directories (node_modules, dist, .git and similar), and hands each file
// to the parser package. Every top-level declaration becomes one chunk.
// Files in a language with no structural parser fall back to a single
// whole-file chunk of type "file".
//
// # Usage
//
//	e := chunker.New(chunker.Config{}, logger)
//	chunks, err := e.Extract(ctx, "./repo", "*.ts")
//
// Chunk IDs are "<relative path>:<byte offset>". Paths are relative to the
// root and slash-separated.
//
// # Metadata
//
// Dependencies are the identifier tokens of a declaration that are longer
// than two characters and not a keyword, primitive or well-known global.
// The heuristic is deliberately permissive and produces false positives.
//
// Complexity is 1 plus one point per if/while/for and one per switch case.
//
// # Concurrency
//
// Files are extracted in parallel with an errgroup bounded by
// Config.Workers. Results are sorted by path and offset before returning.
package chunker
