package vectorindex

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	qdrant "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/proto"
)

// DefaultQdrantAddr is the Qdrant gRPC endpoint used when none is configured
const DefaultQdrantAddr = "localhost:6334"

// QdrantConfig configures the Qdrant backend
type QdrantConfig struct {
	Addr       string `toml:"addr"`
	Collection string `toml:"collection"`
}

// Qdrant stores vectors in a Qdrant collection using Euclid distance.
// Point ids are row numbers.
type Qdrant struct {
	mu          sync.Mutex
	conn        *grpc.ClientConn
	points      qdrant.PointsClient
	collections qdrant.CollectionsClient
	collection  string
	dim         int
	size        int
	logger      *slog.Logger
}

var _ Index = (*Qdrant)(nil)

// NewQdrant connects to Qdrant and creates the collection when missing
func NewQdrant(ctx context.Context, cfg QdrantConfig, dim int, logger *slog.Logger) (*Qdrant, error) {
	if cfg.Addr == "" {
		cfg.Addr = DefaultQdrantAddr
	}
	if cfg.Collection == "" {
		cfg.Collection = "reposearch_chunks"
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := grpc.NewClient(cfg.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("could not connect to Qdrant: %w", err)
	}

	q := &Qdrant{
		conn:        conn,
		points:      qdrant.NewPointsClient(conn),
		collections: qdrant.NewCollectionsClient(conn),
		collection:  cfg.Collection,
		dim:         dim,
		logger:      logger.With("component", "qdrant", "collection", cfg.Collection),
	}

	if err := q.ensureCollection(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := q.refreshSize(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return q, nil
}

func (q *Qdrant) ensureCollection(ctx context.Context) error {
	_, err := q.collections.Get(ctx, &qdrant.GetCollectionInfoRequest{CollectionName: q.collection})
	if err == nil {
		return nil
	}

	q.logger.Info("creating collection", "dimension", q.dim)
	_, err = q.collections.Create(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dim),
			Distance: qdrant.Distance_Euclid,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

func (q *Qdrant) refreshSize(ctx context.Context) error {
	resp, err := q.points.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.collection,
		Exact:          proto.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("failed to count points: %w", err)
	}
	q.mu.Lock()
	q.size = int(resp.GetResult().GetCount())
	q.mu.Unlock()
	return nil
}

func (q *Qdrant) Add(ctx context.Context, vectors [][]float32) error {
	if err := checkDims(q.dim, vectors...); err != nil {
		return err
	}
	if len(vectors) == 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	points := make([]*qdrant.PointStruct, len(vectors))
	for i, v := range vectors {
		row := int64(q.size + i)
		points[i] = &qdrant.PointStruct{
			Id:      &qdrant.PointId{PointIdOptions: &qdrant.PointId_Num{Num: uint64(row)}},
			Vectors: &qdrant.Vectors{VectorsOptions: &qdrant.Vectors_Vector{Vector: &qdrant.Vector{Data: v}}},
			Payload: map[string]*qdrant.Value{
				"row": {Kind: &qdrant.Value_IntegerValue{IntegerValue: row}},
			},
		}
	}

	_, err := q.points.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points:         points,
		Wait:           proto.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points to Qdrant: %w", err)
	}
	q.size += len(vectors)
	return nil
}

func (q *Qdrant) Search(ctx context.Context, query []float32, k int) ([]Neighbor, error) {
	if err := checkDims(q.dim, query); err != nil {
		return nil, err
	}
	if k <= 0 || q.Size() == 0 {
		return []Neighbor{}, nil
	}

	resp, err := q.points.Search(ctx, &qdrant.SearchPoints{
		CollectionName: q.collection,
		Vector:         query,
		Limit:          uint64(k),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search points in Qdrant: %w", err)
	}

	out := make([]Neighbor, 0, len(resp.GetResult()))
	for _, hit := range resp.GetResult() {
		// for Euclid collections the score is the distance
		out = append(out, Neighbor{Row: int(hit.GetId().GetNum()), Distance: float64(hit.GetScore())})
	}
	return out, nil
}

func (q *Qdrant) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Clear drops and recreates the collection
func (q *Qdrant) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, err := q.collections.Delete(ctx, &qdrant.DeleteCollection{CollectionName: q.collection}); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	if err := q.ensureCollection(ctx); err != nil {
		return err
	}
	q.size = 0
	return nil
}

func (q *Qdrant) Dimension() int { return q.dim }

// Close closes the gRPC connection
func (q *Qdrant) Close() error {
	return q.conn.Close()
}
