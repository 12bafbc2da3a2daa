package searcher

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/dshills/reposearch/internal/graph"
	"github.com/dshills/reposearch/pkg/types"
)

// Pattern labels attached to enhanced results
const (
	PatternAsync          = "async_pattern"
	PatternErrorHandling  = "error_handling"
	PatternTypeDefinition = "type_definition"
	PatternModuleImport   = "module_import"
)

// SnippetLines is the number of trailing chunk lines shown in a snippet
const SnippetLines = 5

var goErrCheck = regexp.MustCompile(`if\s+err\s*!=\s*nil`)

// DetectPatterns reports which fixed textual patterns occur in text
func DetectPatterns(text string) []string {
	var patterns []string
	if strings.Contains(text, "async") {
		patterns = append(patterns, PatternAsync)
	}
	if (strings.Contains(text, "try") && strings.Contains(text, "catch")) || goErrCheck.MatchString(text) {
		patterns = append(patterns, PatternErrorHandling)
	}
	if strings.Contains(text, "interface") || strings.Contains(text, "type ") {
		patterns = append(patterns, PatternTypeDefinition)
	}
	if strings.Contains(text, "import") || strings.Contains(text, "require(") {
		patterns = append(patterns, PatternModuleImport)
	}
	return patterns
}

// Summary is the first non-blank line of the chunk, or file:line
func Summary(c *types.CodeChunk) string {
	for _, line := range strings.Split(c.Content, "\n") {
		if s := strings.TrimSpace(line); s != "" {
			return s
		}
	}
	return fmt.Sprintf("%s:%d", c.FilePath, c.StartLine)
}

// Snippet returns the last n lines of content
func Snippet(content string, n int) string {
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// surrounding returns up to radius lines before and after the 1-based,
// inclusive range [start, end]
func surrounding(lines []string, start, end, radius int) (before, after []string) {
	if start < 1 || start > len(lines)+1 {
		return nil, nil
	}
	from := max(0, start-1-radius)
	before = append([]string(nil), lines[from:start-1]...)
	if end < len(lines) {
		after = append([]string(nil), lines[end:min(len(lines), end+radius)]...)
	}
	return before, after
}

// enhance attaches surrounding lines, detected patterns and a summary
func (e *Engine) enhance(ctx context.Context, cands []*candidate, radius int) {
	files := make(map[string][]string)
	for _, c := range cands {
		if ctx.Err() != nil {
			return
		}
		lines, ok := files[c.chunk.FilePath]
		if !ok {
			var err error
			lines, err = e.source.ReadLines(c.chunk.FilePath)
			if err != nil {
				e.logger.Debug("context unavailable", "path", c.chunk.FilePath, "error", err)
			}
			files[c.chunk.FilePath] = lines
		}

		before, after := surrounding(lines, c.chunk.StartLine, c.chunk.EndLine, radius)
		c.result.Context = types.ResultContext{Before: before, After: after}

		text := strings.Join(before, "\n") + "\n" + c.chunk.Content + "\n" + strings.Join(after, "\n")
		c.result.Enhanced = &types.Enhancement{
			Patterns: DetectPatterns(text),
			Summary:  Summary(&c.chunk),
		}
	}
}

// attachGraph adds graph signals. It reports whether a lookup failed.
func (e *Engine) attachGraph(ctx context.Context, cands []*candidate, terms []string) bool {
	if e.graph == nil {
		return false
	}
	degraded := false
	for _, c := range cands {
		if ctx.Err() != nil {
			return degraded
		}
		signals, err := graph.Enrich(ctx, e.graph, c.result.ID, terms, enrichDepth)
		if errors.Is(err, graph.ErrNodeNotFound) {
			continue
		}
		if err != nil {
			degraded = true
			e.logger.Warn("graph enrichment failed", "chunk", c.result.ID, "error", err)
			continue
		}
		c.result.Graph = signals
	}
	return degraded
}
