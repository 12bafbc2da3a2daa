package quality

import (
	"fmt"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/dshills/reposearch/pkg/types"
)

// Default thresholds
const (
	DefaultMinChunkSize  = 10
	DefaultMaxChunkSize  = 2000
	DefaultMinComplexity = 1
	DefaultMaxComplexity = 50
)

// Issue kinds
const (
	KindEmpty          = "empty"
	KindSmall          = "small"
	KindLarge          = "large"
	KindLowComplexity  = "low_complexity"
	KindHighComplexity = "high_complexity"
	KindDuplicate      = "duplicate"
	KindMissingName    = "missing_name"
	KindMissingType    = "missing_type"
)

// Thresholds bound acceptable chunk size (chars) and complexity.
// Zero values take the defaults.
type Thresholds struct {
	MinChunkSize  int `toml:"min_chunk_size"`
	MaxChunkSize  int `toml:"max_chunk_size"`
	MinComplexity int `toml:"min_complexity"`
	MaxComplexity int `toml:"max_complexity"`
}

// DefaultThresholds returns the standard bounds
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinChunkSize:  DefaultMinChunkSize,
		MaxChunkSize:  DefaultMaxChunkSize,
		MinComplexity: DefaultMinComplexity,
		MaxComplexity: DefaultMaxComplexity,
	}
}

func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.MinChunkSize <= 0 {
		t.MinChunkSize = d.MinChunkSize
	}
	if t.MaxChunkSize <= 0 {
		t.MaxChunkSize = d.MaxChunkSize
	}
	if t.MinComplexity <= 0 {
		t.MinComplexity = d.MinComplexity
	}
	if t.MaxComplexity <= 0 {
		t.MaxComplexity = d.MaxComplexity
	}
	return t
}

// Issue is one quality violation tied to a chunk
type Issue struct {
	ChunkID  string `json:"chunkId"`
	FilePath string `json:"filePath"`
	Kind     string `json:"kind"`
	Message  string `json:"message"`
}

// Metrics aggregates the quality of a chunk set
type Metrics struct {
	TotalChunks       int     `json:"totalChunks"`
	ValidChunks       int     `json:"validChunks"`
	EmptyChunks       int     `json:"emptyChunks"`
	SmallChunks       int     `json:"smallChunks"`
	LargeChunks       int     `json:"largeChunks"`
	DuplicateChunks   int     `json:"duplicateChunks"`
	AverageSize       float64 `json:"averageSize"`
	AverageComplexity float64 `json:"averageComplexity"`
	QualityScore      float64 `json:"qualityScore"`
	Errors            []Issue `json:"errors"`
}

// Gate validates and filters chunks before embedding
type Gate struct {
	thresholds Thresholds
}

// NewGate creates a Gate; zero threshold fields take the defaults
func NewGate(t Thresholds) *Gate {
	return &Gate{thresholds: t.withDefaults()}
}

// Thresholds returns the effective thresholds
func (g *Gate) Thresholds() Thresholds {
	return g.thresholds
}

// Analyze computes aggregate metrics. It does not modify chunks.
// Duplicates are detected by content hash and reported; the first
// occurrence is the reference the others point at.
func (g *Gate) Analyze(chunks []types.CodeChunk) Metrics {
	m := Metrics{TotalChunks: len(chunks), Errors: make([]Issue, 0)}
	seen := make(map[xxh3.Uint128]string, len(chunks))

	var totalSize, totalComplexity int
	for i := range chunks {
		c := &chunks[i]
		issue := func(kind, format string, args ...any) {
			m.Errors = append(m.Errors, Issue{
				ChunkID:  c.ID,
				FilePath: c.FilePath,
				Kind:     kind,
				Message:  fmt.Sprintf(format, args...),
			})
		}

		if strings.TrimSpace(c.Content) == "" {
			m.EmptyChunks++
			issue(KindEmpty, "Empty chunk: %s", c.ID)
			continue
		}

		size := len(c.Content)
		totalSize += size
		if size < g.thresholds.MinChunkSize {
			m.SmallChunks++
			issue(KindSmall, "Small chunk: %s (%d chars)", c.ID, size)
		} else if size > g.thresholds.MaxChunkSize {
			m.LargeChunks++
			issue(KindLarge, "Large chunk: %s (%d chars)", c.ID, size)
		}

		complexity := effectiveComplexity(c)
		totalComplexity += complexity
		if complexity < g.thresholds.MinComplexity {
			issue(KindLowComplexity, "Low complexity: %s (%d)", c.ID, complexity)
		} else if complexity > g.thresholds.MaxComplexity {
			issue(KindHighComplexity, "High complexity: %s (%d)", c.ID, complexity)
		}

		hash := contentHash(c.Content)
		if first, dup := seen[hash]; dup {
			m.DuplicateChunks++
			issue(KindDuplicate, "Duplicate chunk: %s (similar to %s)", c.ID, first)
		} else {
			seen[hash] = c.ID
		}

		if c.Metadata.Name == "" {
			issue(KindMissingName, "Missing name: %s", c.ID)
		}
		if c.Type == "" {
			issue(KindMissingType, "Missing type: %s", c.ID)
		}

		m.ValidChunks++
	}

	if m.ValidChunks > 0 {
		m.AverageSize = float64(totalSize) / float64(m.ValidChunks)
		m.AverageComplexity = float64(totalComplexity) / float64(m.ValidChunks)
	}
	m.QualityScore = Score(m)
	return m
}

// Filter keeps chunks that are non-empty and within the size and
// complexity bounds. It preserves order, never drops duplicates and is
// idempotent.
func (g *Gate) Filter(chunks []types.CodeChunk) []types.CodeChunk {
	out := make([]types.CodeChunk, 0, len(chunks))
	for i := range chunks {
		if g.Accept(&chunks[i]) {
			out = append(out, chunks[i])
		}
	}
	return out
}

// Accept reports whether a single chunk passes the gate
func (g *Gate) Accept(c *types.CodeChunk) bool {
	if strings.TrimSpace(c.Content) == "" {
		return false
	}
	size := len(c.Content)
	if size < g.thresholds.MinChunkSize || size > g.thresholds.MaxChunkSize {
		return false
	}
	complexity := effectiveComplexity(c)
	return complexity >= g.thresholds.MinComplexity && complexity <= g.thresholds.MaxComplexity
}

// Score computes the bounded 0-100 quality score from metrics
func Score(m Metrics) float64 {
	score := 100.0
	score -= minf(30, float64(len(m.Errors)*2))
	score -= minf(20, float64(m.DuplicateChunks*5))
	score -= minf(15, float64(m.EmptyChunks*3))
	score -= minf(10, float64(m.LargeChunks*2))

	if m.AverageComplexity >= 2 && m.AverageComplexity <= 10 {
		score += 5
	}
	if m.AverageSize >= 100 && m.AverageSize <= 500 {
		score += 5
	}

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// effectiveComplexity treats an unset complexity as 1
func effectiveComplexity(c *types.CodeChunk) int {
	if c.Metadata.Complexity == 0 {
		return 1
	}
	return c.Metadata.Complexity
}

func contentHash(content string) xxh3.Uint128 {
	return xxh3.HashString128(content)
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
