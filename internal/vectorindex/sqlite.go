package vectorindex

import (
	"context"
	"fmt"
	"sync"

	"github.com/dshills/reposearch/internal/storage"
)

// VectorTable is the part of storage.Storage the SQLite backend uses
type VectorTable interface {
	AppendVectors(ctx context.Context, firstRow int64, vectors [][]float32) error
	SearchVectors(ctx context.Context, query []float32, limit int) ([]storage.VectorResult, error)
	CountVectors(ctx context.Context) (int, error)
	ClearVectors(ctx context.Context) error
}

// SQLite keeps vectors in the storage vectors table. Distances are
// computed by sqlite-vec on cgo builds and in Go otherwise.
type SQLite struct {
	mu    sync.Mutex
	table VectorTable
	dim   int
	size  int
}

var _ Index = (*SQLite)(nil)

// NewSQLite opens the backend over table and reads its current size
func NewSQLite(ctx context.Context, table VectorTable, dim int) (*SQLite, error) {
	n, err := table.CountVectors(ctx)
	if err != nil {
		return nil, fmt.Errorf("count vectors: %w", err)
	}
	return &SQLite{table: table, dim: dim, size: n}, nil
}

func (s *SQLite) Add(ctx context.Context, vectors [][]float32) error {
	if err := checkDims(s.dim, vectors...); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.table.AppendVectors(ctx, int64(s.size), vectors); err != nil {
		return err
	}
	s.size += len(vectors)
	return nil
}

func (s *SQLite) Search(ctx context.Context, query []float32, k int) ([]Neighbor, error) {
	if err := checkDims(s.dim, query); err != nil {
		return nil, err
	}
	if k <= 0 || s.Size() == 0 {
		return []Neighbor{}, nil
	}
	results, err := s.table.SearchVectors(ctx, query, k)
	if err != nil {
		return nil, err
	}
	return topK(results, k), nil
}

func (s *SQLite) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

func (s *SQLite) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.table.ClearVectors(ctx); err != nil {
		return err
	}
	s.size = 0
	return nil
}

func (s *SQLite) Dimension() int { return s.dim }
