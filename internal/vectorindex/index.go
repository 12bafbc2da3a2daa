package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dshills/reposearch/internal/storage"
)

// ErrDimensionMismatch is returned when a vector's length differs from the
// index dimension
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Neighbor is a search hit addressed by insertion row
type Neighbor struct {
	Row      int
	Distance float64 // L2
}

// Index is an append-only L2 nearest-neighbor store. Rows are assigned in
// insertion order starting at 0; removal is handled by Catalog tombstones
// and Clear.
type Index interface {
	Add(ctx context.Context, vectors [][]float32) error
	// Search returns at most k neighbors in ascending distance
	Search(ctx context.Context, query []float32, k int) ([]Neighbor, error)
	Size() int
	Clear(ctx context.Context) error
	Dimension() int
}

func checkDims(dim int, vectors ...[]float32) error {
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("%w: vector %d has %d, index has %d", ErrDimensionMismatch, i, len(v), dim)
		}
	}
	return nil
}

// Flat is an exact in-memory index
type Flat struct {
	mu      sync.RWMutex
	dim     int
	vectors [][]float32
}

var _ Index = (*Flat)(nil)

// NewFlat creates an empty in-memory index of the given dimension
func NewFlat(dim int) *Flat {
	return &Flat{dim: dim}
}

func (f *Flat) Add(ctx context.Context, vectors [][]float32) error {
	if err := checkDims(f.dim, vectors...); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range vectors {
		f.vectors = append(f.vectors, append([]float32(nil), v...))
	}
	return nil
}

func (f *Flat) Search(ctx context.Context, query []float32, k int) ([]Neighbor, error) {
	if err := checkDims(f.dim, query); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	if k <= 0 || len(f.vectors) == 0 {
		return []Neighbor{}, nil
	}

	results := make([]storage.VectorResult, len(f.vectors))
	for i, v := range f.vectors {
		results[i] = storage.VectorResult{Row: int64(i), Distance: storage.L2Distance(query, v)}
	}
	return topK(results, k), nil
}

func (f *Flat) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.vectors)
}

func (f *Flat) Clear(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vectors = nil
	return nil
}

func (f *Flat) Dimension() int { return f.dim }

// topK sorts results and converts the first k
func topK(results []storage.VectorResult, k int) []Neighbor {
	storage.SortVectorResults(results)
	if len(results) > k {
		results = results[:k]
	}
	out := make([]Neighbor, len(results))
	for i, r := range results {
		out[i] = Neighbor{Row: int(r.Row), Distance: r.Distance}
	}
	return out
}
