package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// ChunkType represents the kind of declaration a chunk was cut from
type ChunkType string

const (
	ChunkFunction  ChunkType = "function"
	ChunkClass     ChunkType = "class"
	ChunkInterface ChunkType = "interface"
	ChunkVariable  ChunkType = "variable"
	ChunkImport    ChunkType = "import"
	ChunkExport    ChunkType = "export"
	ChunkFile      ChunkType = "file"
)

// AllChunkTypes lists every valid chunk type in a stable order
var AllChunkTypes = []ChunkType{
	ChunkFunction, ChunkClass, ChunkInterface, ChunkVariable,
	ChunkImport, ChunkExport, ChunkFile,
}

// Valid reports whether t is a known chunk type
func (t ChunkType) Valid() bool {
	for _, known := range AllChunkTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ChunkMetadata carries the structural facts extracted with a chunk
type ChunkMetadata struct {
	Name         string   `json:"name,omitempty"`
	Parameters   []string `json:"parameters,omitempty"`
	ReturnType   string   `json:"returnType,omitempty"`
	Dependencies []string `json:"dependencies"`
	Complexity   int      `json:"complexity"`
	Description  string   `json:"description,omitempty"`
}

// CodeChunk is a contiguous, line-addressed unit of source text.
// Chunks are superseded rather than mutated: when the owning file changes
// a new chunk with a new ID replaces the old one.
type CodeChunk struct {
	ID        string        `json:"id"`
	Content   string        `json:"content"`
	FilePath  string        `json:"filePath"`
	StartLine int           `json:"startLine"`
	EndLine   int           `json:"endLine"`
	Type      ChunkType     `json:"type"`
	Metadata  ChunkMetadata `json:"metadata"`
}

// ChunkID derives the stable chunk identifier from a file path and the
// byte offset where the declaration starts
func ChunkID(filePath string, offset int) string {
	return fmt.Sprintf("%s:%d", filePath, offset)
}

// Validate checks the line-range invariants of the chunk.
// Empty content is a quality concern and is not rejected here.
func (c *CodeChunk) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidChunk)
	}
	if c.StartLine <= 0 || c.EndLine <= 0 {
		return fmt.Errorf("%w: %s: line numbers must be positive", ErrInvalidChunk, c.ID)
	}
	if c.StartLine > c.EndLine {
		return fmt.Errorf("%w: %s: start line %d after end line %d", ErrInvalidChunk, c.ID, c.StartLine, c.EndLine)
	}
	if !c.Type.Valid() {
		return fmt.Errorf("%w: %s: unknown type %q", ErrInvalidChunk, c.ID, c.Type)
	}
	return nil
}

// ContentHash returns the hex SHA-256 of the chunk content
func (c *CodeChunk) ContentHash() string {
	h := sha256.Sum256([]byte(c.Content))
	return hex.EncodeToString(h[:])
}

// Package returns the top-level package segment of the chunk path: the
// second slash-separated segment, e.g. "search" for "packages/search/x.ts".
func (c *CodeChunk) Package() string {
	return PackageOf(c.FilePath)
}

// PackageOf returns path segment 1 of a slash-separated path, or "" when
// the path has fewer than two segments
func PackageOf(path string) string {
	parts := strings.Split(strings.TrimPrefix(path, "./"), "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// Clone returns a deep copy of the chunk
func (c CodeChunk) Clone() CodeChunk {
	out := c
	out.Metadata.Parameters = append([]string(nil), c.Metadata.Parameters...)
	out.Metadata.Dependencies = append([]string(nil), c.Metadata.Dependencies...)
	return out
}
