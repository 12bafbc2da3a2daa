package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// DefaultCompactThreshold is the dead-row ratio above which a rebuild is due
const DefaultCompactThreshold = 0.25

// ErrLengthMismatch is returned when ids and vectors differ in length
var ErrLengthMismatch = errors.New("ids and vectors differ in length")

// Hit is a catalog search result
type Hit struct {
	ChunkID  string
	Distance float64
	Score    float64 // 1/(1+Distance)
}

// VectorFunc returns the stored vector of a chunk
type VectorFunc func(chunkID string) ([]float32, bool)

// Catalog maps index rows to chunk ids. Removed chunks are tombstoned and
// filtered from results until the next Rebuild.
type Catalog struct {
	mu               sync.RWMutex
	index            Index
	ids              []string // row -> chunk id
	live             map[string]int
	dead             map[int]struct{}
	compactThreshold float64
}

// NewCatalog wraps an empty index. A non-positive threshold uses
// DefaultCompactThreshold.
func NewCatalog(index Index, compactThreshold float64) *Catalog {
	if compactThreshold <= 0 {
		compactThreshold = DefaultCompactThreshold
	}
	return &Catalog{
		index:            index,
		live:             make(map[string]int),
		dead:             make(map[int]struct{}),
		compactThreshold: compactThreshold,
	}
}

// Dimension returns the index dimension
func (c *Catalog) Dimension() int {
	return c.index.Dimension()
}

// Add appends vectors for ids. An id that is already live has its old row
// tombstoned.
func (c *Catalog) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("%w: %d ids, %d vectors", ErrLengthMismatch, len(ids), len(vectors))
	}
	if len(ids) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.index.Add(ctx, vectors); err != nil {
		return err
	}
	for _, id := range ids {
		if row, ok := c.live[id]; ok {
			c.dead[row] = struct{}{}
		}
		c.live[id] = len(c.ids)
		c.ids = append(c.ids, id)
	}
	return nil
}

// Search returns up to k live hits in ascending distance
func (c *Catalog) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if k <= 0 || len(c.live) == 0 {
		return []Hit{}, nil
	}

	neighbors, err := c.index.Search(ctx, query, k+len(c.dead))
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, k)
	for _, n := range neighbors {
		if n.Row < 0 || n.Row >= len(c.ids) {
			continue
		}
		if _, gone := c.dead[n.Row]; gone {
			continue
		}
		hits = append(hits, Hit{
			ChunkID:  c.ids[n.Row],
			Distance: n.Distance,
			Score:    1 / (1 + n.Distance),
		})
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

// Tombstone hides ids from search and returns how many were live
func (c *Catalog) Tombstone(ids ...string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, id := range ids {
		row, ok := c.live[id]
		if !ok {
			continue
		}
		c.dead[row] = struct{}{}
		delete(c.live, id)
		n++
	}
	return n
}

// Contains reports whether id is live
func (c *Catalog) Contains(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.live[id]
	return ok
}

// Live returns the number of searchable rows
func (c *Catalog) Live() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.live)
}

// Dead returns the number of tombstoned rows
func (c *Catalog) Dead() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.dead)
}

// DeadRatio is tombstoned rows over all rows
func (c *Catalog) DeadRatio() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.ids) == 0 {
		return 0
	}
	return float64(len(c.dead)) / float64(len(c.ids))
}

// NeedsRebuild reports whether DeadRatio exceeds the compaction threshold
func (c *Catalog) NeedsRebuild() bool {
	return c.DeadRatio() > c.compactThreshold
}

// LiveIDs returns live chunk ids in row order
func (c *Catalog) LiveIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.liveIDs()
}

func (c *Catalog) liveIDs() []string {
	out := make([]string, 0, len(c.live))
	for row, id := range c.ids {
		if _, gone := c.dead[row]; !gone {
			out = append(out, id)
		}
	}
	return out
}

// Rebuild clears the index and re-adds live chunks in row order. Chunks
// whose vector is no longer available are dropped.
func (c *Catalog) Rebuild(ctx context.Context, vectorOf VectorFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := c.liveIDs()
	keep := make([]string, 0, len(ids))
	vectors := make([][]float32, 0, len(ids))
	for _, id := range ids {
		if v, ok := vectorOf(id); ok {
			keep = append(keep, id)
			vectors = append(vectors, v)
		}
	}

	if err := c.index.Clear(ctx); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	c.reset()
	if len(vectors) == 0 {
		return nil
	}
	if err := c.index.Add(ctx, vectors); err != nil {
		return fmt.Errorf("re-add vectors: %w", err)
	}
	for row, id := range keep {
		c.live[id] = row
	}
	c.ids = keep
	return nil
}

// Clear empties the catalog and the index
func (c *Catalog) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.index.Clear(ctx); err != nil {
		return err
	}
	c.reset()
	return nil
}

func (c *Catalog) reset() {
	c.ids = nil
	c.live = make(map[string]int)
	c.dead = make(map[int]struct{})
}
