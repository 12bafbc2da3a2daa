package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dshills/reposearch/pkg/types"
)

const nodeColumns = `id, label, chunk_id, name, chunk_type, file_path, start_line, end_line`

// InsertNode stores node and sets its ID
func (s *queries) InsertNode(ctx context.Context, node *types.NodeRecord) error {
	result, err := s.q.ExecContext(ctx, `
		INSERT INTO graph_nodes (label, chunk_id, name, chunk_type, file_path, start_line, end_line)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, node.Label, node.ChunkID, node.Name, string(node.Type), node.FilePath, node.StartLine, node.EndLine)
	if err != nil {
		return fmt.Errorf("failed to insert node %s: %w", node.ChunkID, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	node.ID = id
	return nil
}

// InsertEdge stores a relationship; duplicates are ignored
func (s *queries) InsertEdge(ctx context.Context, edge types.EdgeRecord) error {
	_, err := s.q.ExecContext(ctx,
		"INSERT OR IGNORE INTO graph_edges (from_id, to_id, rel_type) VALUES (?, ?, ?)",
		edge.From, edge.To, edge.Type)
	if err != nil {
		return fmt.Errorf("failed to insert edge %d->%d: %w", edge.From, edge.To, err)
	}
	return nil
}

func scanNode(scan func(dest ...interface{}) error) (types.NodeRecord, error) {
	var (
		n     types.NodeRecord
		ctype string
	)
	err := scan(&n.ID, &n.Label, &n.ChunkID, &n.Name, &ctype, &n.FilePath, &n.StartLine, &n.EndLine)
	n.Type = types.ChunkType(ctype)
	return n, err
}

func (s *queries) getNode(ctx context.Context, where string, arg interface{}) (*types.NodeRecord, error) {
	row := s.q.QueryRowContext(ctx, "SELECT "+nodeColumns+" FROM graph_nodes WHERE "+where+" ORDER BY id LIMIT 1", arg)
	n, err := scanNode(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *queries) GetNode(ctx context.Context, id int64) (*types.NodeRecord, error) {
	return s.getNode(ctx, "id = ?", id)
}

func (s *queries) NodeByChunkID(ctx context.Context, chunkID string) (*types.NodeRecord, error) {
	return s.getNode(ctx, "chunk_id = ?", chunkID)
}

func (s *queries) NodesByLabel(ctx context.Context, label string) ([]types.NodeRecord, error) {
	rows, err := s.q.QueryContext(ctx, "SELECT "+nodeColumns+" FROM graph_nodes WHERE label = ? ORDER BY id", label)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	nodes := make([]types.NodeRecord, 0)
	for rows.Next() {
		n, err := scanNode(rows.Scan)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// Neighbors returns nodes adjacent to id over outgoing and incoming edges
func (s *queries) Neighbors(ctx context.Context, id int64) ([]Neighbor, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT to_id, rel_type FROM graph_edges WHERE from_id = ?
		UNION ALL
		SELECT from_id, rel_type FROM graph_edges WHERE to_id = ?
		ORDER BY 1
	`, id, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Neighbor
	for rows.Next() {
		var n Neighbor
		if err := rows.Scan(&n.NodeID, &n.RelType); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Degree counts edges touching id in either direction
func (s *queries) Degree(ctx context.Context, id int64) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM graph_edges WHERE from_id = ? OR to_id = ?", id, id).Scan(&n)
	return n, err
}

// DeleteNodesByChunkIDs removes nodes and, by cascade, their edges
func (s *queries) DeleteNodesByChunkIDs(ctx context.Context, chunkIDs []string) (int, error) {
	return s.deleteIn(ctx, "DELETE FROM graph_nodes WHERE chunk_id IN (%s)", chunkIDs)
}

func (s *queries) ClearGraph(ctx context.Context) error {
	if _, err := s.q.ExecContext(ctx, "DELETE FROM graph_edges"); err != nil {
		return err
	}
	_, err := s.q.ExecContext(ctx, "DELETE FROM graph_nodes")
	return err
}
