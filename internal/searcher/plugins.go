package searcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/dshills/reposearch/pkg/types"
)

// DefaultNovelty is the novelty assigned when no usage data is available
const DefaultNovelty = 0.5

// NoveltyEstimator scores how new a result is to the user, in [0, 1]
type NoveltyEstimator interface {
	Novelty(r *types.SemanticSearchResult) float64
}

// ConstantNovelty gives every result the same novelty
type ConstantNovelty struct {
	Value float64
}

func (n ConstantNovelty) Novelty(*types.SemanticSearchResult) float64 {
	return n.Value
}

// NeuralScorer is a learned relevance model, in [0, 1]
type NeuralScorer interface {
	Score(ctx context.Context, query string, c *types.CodeChunk) float64
}

// NeutralScorer scores everything 0.5
type NeutralScorer struct{}

func (NeutralScorer) Score(context.Context, string, *types.CodeChunk) float64 {
	return 0.5
}

// SourceReader returns the lines of a chunk's source file
type SourceReader interface {
	ReadLines(path string) ([]string, error)
}

// FileReader reads files from disk. Relative paths are resolved against
// Root.
type FileReader struct {
	Root string
}

func (r FileReader) ReadLines(path string) ([]string, error) {
	p := filepath.FromSlash(path)
	if !filepath.IsAbs(p) && r.Root != "" {
		p = filepath.Join(r.Root, p)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	return strings.Split(string(data), "\n"), nil
}
