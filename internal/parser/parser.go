package parser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dshills/reposearch/pkg/types"
)

// ErrUnsupportedLanguage is returned for files without a structural parser
var ErrUnsupportedLanguage = errors.New("no structural parser for language")

// Language names reported in ParseResult.Language
const (
	LangGo         = "go"
	LangTypeScript = "typescript"
	LangTSX        = "tsx"
	LangJavaScript = "javascript"
)

// Parser dispatches source files to a language backend by extension
type Parser struct {
	registry *Registry
}

// New creates a Parser with the Go and tree-sitter backends registered
func New() *Parser {
	return &Parser{registry: DefaultRegistry()}
}

// Supports reports whether the file has a structural parser
func (p *Parser) Supports(filePath string) bool {
	return p.Language(filePath) != ""
}

// Language returns the language name for a file path, or "" when unknown
func (p *Parser) Language(filePath string) string {
	ext := strings.ToLower(filepath.Ext(filePath))
	if ext == ".go" {
		return LangGo
	}
	if spec := p.registry.Lookup(ext); spec != nil {
		return spec.Name
	}
	return ""
}

// Extensions returns every extension with a structural parser, dot included
func (p *Parser) Extensions() []string {
	return append([]string{".go"}, p.registry.Extensions()...)
}

// ParseFile reads and parses a source file
func (p *Parser) ParseFile(ctx context.Context, filePath string) (*types.ParseResult, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return p.Parse(ctx, filePath, content)
}

// Parse parses already-loaded source. Syntax errors are recorded on the
// result and do not fail the call; partial declarations are still returned.
func (p *Parser) Parse(ctx context.Context, filePath string, src []byte) (*types.ParseResult, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	if ext == ".go" {
		return parseGo(filePath, src), nil
	}
	spec := p.registry.Lookup(ext)
	if spec == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, filePath)
	}
	return parseTreeSitter(ctx, spec, filePath, src)
}
