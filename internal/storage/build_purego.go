//go:build purego || !sqlite_vec
// +build purego !sqlite_vec

package storage

// Compiled without CGO or with the purego tag:
//
//	CGO_ENABLED=0 go build -tags "purego" ./...
//
// Distances are computed in Go over the stored blobs.

import (
	"context"
	"fmt"

	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite"

	// VectorExtensionAvailable indicates if vector extension is available
	VectorExtensionAvailable = false

	// BuildMode describes the current build configuration
	BuildMode = "purego"
)

// searchVectors scans the vector table and ranks rows in Go
func searchVectors(ctx context.Context, q querier, query []float32, limit int) ([]VectorResult, error) {
	rows, err := q.QueryContext(ctx, "SELECT row_num, vector FROM vectors")
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var candidates []VectorResult
	for rows.Next() {
		var (
			row  int64
			blob []byte
		)
		if err := rows.Scan(&row, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan vector: %w", err)
		}
		vec := deserializeVector(blob)
		if len(vec) != len(query) {
			continue
		}
		candidates = append(candidates, VectorResult{Row: row, Distance: L2Distance(query, vec)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	SortVectorResults(candidates)
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}
