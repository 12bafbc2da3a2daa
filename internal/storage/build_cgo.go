//go:build sqlite_vec
// +build sqlite_vec

package storage

// Compiled with CGO and the sqlite_vec tag:
//
//	CGO_ENABLED=1 go build -tags "sqlite_vec" ./...
//
// The sqlite-vec extension computes L2 distances inside SQLite, so vector
// searches return already ordered rows.

import (
	"context"
	"database/sql"
	"fmt"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3"

	// VectorExtensionAvailable indicates if vector extension is available
	VectorExtensionAvailable = true

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)

func init() {
	sqlite_vec.Auto()
}

// searchVectors orders rows by vec_distance_l2 in SQL
func searchVectors(ctx context.Context, q querier, query []float32, limit int) ([]VectorResult, error) {
	blob, err := sqlite_vec.SerializeFloat32(query)
	if err != nil {
		return nil, fmt.Errorf("serialize query vector: %w", err)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT row_num, vec_distance_l2(vector, ?) AS distance
		FROM vectors
		ORDER BY distance, row_num
		LIMIT ?
	`, blob, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	return scanVectorResults(rows, limit)
}

func scanVectorResults(rows *sql.Rows, limit int) ([]VectorResult, error) {
	defer func() { _ = rows.Close() }()
	results := make([]VectorResult, 0, limit)
	for rows.Next() {
		var r VectorResult
		if err := rows.Scan(&r.Row, &r.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
