package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dshills/reposearch/internal/storage"
	"github.com/dshills/reposearch/pkg/types"
)

// ErrNodeNotFound is returned for unknown node or chunk ids
var ErrNodeNotFound = errors.New("graph node not found")

// centralityDamping is the degree at which centrality reaches 0.5
const centralityDamping = 10.0

// NodeProps are the properties stored on a node
type NodeProps struct {
	ChunkID   string
	Name      string
	Type      types.ChunkType
	FilePath  string
	StartLine int
	EndLine   int
}

// Store is the knowledge graph
type Store interface {
	CreateNode(ctx context.Context, label string, props NodeProps) (int64, error)
	CreateRelationship(ctx context.Context, from, to int64, relType string) error
	// FindRelatedNodes walks edges in both directions up to depth hops and
	// reports each node once, at its shortest depth
	FindRelatedNodes(ctx context.Context, nodeID int64, depth int) ([]types.RelatedNode, error)
	FindNodesByLabel(ctx context.Context, label string) ([]types.NodeRecord, error)
	NodeByChunkID(ctx context.Context, chunkID string) (types.NodeRecord, error)
	// CalculateCentrality is degree/(degree+10), in [0, 1)
	CalculateCentrality(ctx context.Context, nodeID int64) (float64, error)
	RemoveChunks(ctx context.Context, chunkIDs []string) error
	Clear(ctx context.Context) error
	Close() error
}

// Table is the part of storage.Storage the SQL store uses
type Table interface {
	InsertNode(ctx context.Context, node *types.NodeRecord) error
	InsertEdge(ctx context.Context, edge types.EdgeRecord) error
	GetNode(ctx context.Context, id int64) (*types.NodeRecord, error)
	NodeByChunkID(ctx context.Context, chunkID string) (*types.NodeRecord, error)
	NodesByLabel(ctx context.Context, label string) ([]types.NodeRecord, error)
	Neighbors(ctx context.Context, id int64) ([]storage.Neighbor, error)
	Degree(ctx context.Context, id int64) (int, error)
	DeleteNodesByChunkIDs(ctx context.Context, chunkIDs []string) (int, error)
	ClearGraph(ctx context.Context) error
}

// SQLStore persists the graph in the storage graph tables
type SQLStore struct {
	table Table
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore creates a store over table. The caller owns table.
func NewSQLStore(table Table) *SQLStore {
	return &SQLStore{table: table}
}

func (s *SQLStore) CreateNode(ctx context.Context, label string, props NodeProps) (int64, error) {
	node := &types.NodeRecord{
		Label:     label,
		ChunkID:   props.ChunkID,
		Name:      props.Name,
		Type:      props.Type,
		FilePath:  props.FilePath,
		StartLine: props.StartLine,
		EndLine:   props.EndLine,
	}
	if err := s.table.InsertNode(ctx, node); err != nil {
		return 0, err
	}
	return node.ID, nil
}

func (s *SQLStore) CreateRelationship(ctx context.Context, from, to int64, relType string) error {
	return s.table.InsertEdge(ctx, types.EdgeRecord{From: from, To: to, Type: relType})
}

func (s *SQLStore) FindRelatedNodes(ctx context.Context, nodeID int64, depth int) ([]types.RelatedNode, error) {
	if depth < 1 {
		depth = 1
	}

	visited := map[int64]bool{nodeID: true}
	var related []types.RelatedNode
	frontier := []int64{nodeID}

	for d := 1; d <= depth && len(frontier) > 0; d++ {
		var next []int64
		for _, id := range frontier {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			neighbors, err := s.table.Neighbors(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("neighbors of %d: %w", id, err)
			}
			for _, n := range neighbors {
				if visited[n.NodeID] {
					continue
				}
				visited[n.NodeID] = true

				node, err := s.table.GetNode(ctx, n.NodeID)
				if err != nil {
					return nil, fmt.Errorf("node %d: %w", n.NodeID, err)
				}
				related = append(related, types.RelatedNode{
					Node:             *node,
					RelationshipType: n.RelType,
					Depth:            d,
				})
				next = append(next, n.NodeID)
			}
		}
		frontier = next
	}

	sort.SliceStable(related, func(i, j int) bool {
		if related[i].Depth != related[j].Depth {
			return related[i].Depth < related[j].Depth
		}
		return related[i].Node.ID < related[j].Node.ID
	})
	return related, nil
}

func (s *SQLStore) FindNodesByLabel(ctx context.Context, label string) ([]types.NodeRecord, error) {
	return s.table.NodesByLabel(ctx, label)
}

func (s *SQLStore) NodeByChunkID(ctx context.Context, chunkID string) (types.NodeRecord, error) {
	node, err := s.table.NodeByChunkID(ctx, chunkID)
	if errors.Is(err, storage.ErrNotFound) {
		return types.NodeRecord{}, fmt.Errorf("%w: %s", ErrNodeNotFound, chunkID)
	}
	if err != nil {
		return types.NodeRecord{}, err
	}
	return *node, nil
}

func (s *SQLStore) CalculateCentrality(ctx context.Context, nodeID int64) (float64, error) {
	deg, err := s.table.Degree(ctx, nodeID)
	if err != nil {
		return 0, err
	}
	return Centrality(deg), nil
}

func (s *SQLStore) RemoveChunks(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	_, err := s.table.DeleteNodesByChunkIDs(ctx, chunkIDs)
	return err
}

func (s *SQLStore) Clear(ctx context.Context) error {
	return s.table.ClearGraph(ctx)
}

// Close is a no-op; the underlying storage is closed by its owner
func (s *SQLStore) Close() error {
	return nil
}

// Centrality maps a degree into [0, 1)
func Centrality(degree int) float64 {
	if degree <= 0 {
		return 0
	}
	d := float64(degree)
	return d / (d + centralityDamping)
}
