package storage

import (
	"context"
	"time"

	"github.com/dshills/reposearch/pkg/types"
)

// Storage persists chunks, their embeddings, the row-addressed vector table
// and the knowledge graph
type Storage interface {
	// Chunk operations
	UpsertChunks(ctx context.Context, chunks []types.CodeChunk) error
	GetChunk(ctx context.Context, id string) (*types.CodeChunk, error)
	ListChunks(ctx context.Context) ([]types.CodeChunk, error)
	ListChunksByFile(ctx context.Context, filePath string) ([]types.CodeChunk, error)
	DeleteChunks(ctx context.Context, ids []string) (deletedCount int, err error)

	// Embedding operations
	UpsertEmbeddings(ctx context.Context, embeddings []Embedding) error
	GetEmbedding(ctx context.Context, chunkID string) (*Embedding, error)
	ListEmbeddings(ctx context.Context) ([]Embedding, error)

	// Vector table operations, addressed by catalog row
	AppendVectors(ctx context.Context, firstRow int64, vectors [][]float32) error
	SearchVectors(ctx context.Context, query []float32, limit int) ([]VectorResult, error)
	CountVectors(ctx context.Context) (int, error)
	ClearVectors(ctx context.Context) error

	// Graph operations
	InsertNode(ctx context.Context, node *types.NodeRecord) error
	InsertEdge(ctx context.Context, edge types.EdgeRecord) error
	GetNode(ctx context.Context, id int64) (*types.NodeRecord, error)
	NodeByChunkID(ctx context.Context, chunkID string) (*types.NodeRecord, error)
	NodesByLabel(ctx context.Context, label string) ([]types.NodeRecord, error)
	Neighbors(ctx context.Context, id int64) ([]Neighbor, error)
	Degree(ctx context.Context, id int64) (int, error)
	DeleteNodesByChunkIDs(ctx context.Context, chunkIDs []string) (int, error)
	ClearGraph(ctx context.Context) error

	// Index metadata, keyed by the Meta* constants
	SetMeta(ctx context.Context, key, value string) error
	GetMeta(ctx context.Context, key string) (string, error)

	// Status operations
	GetStatus(ctx context.Context) (*Status, error)

	// Clear removes every chunk, embedding, vector and graph row
	Clear(ctx context.Context) error

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Storage // Embed Storage interface for transaction operations
}

// MetaRoot holds the absolute directory chunk paths are relative to
const MetaRoot = "root"

// Embedding is the persisted vector of one chunk
type Embedding struct {
	ChunkID   string
	Vector    []float32
	Dimension int
	Provider  string
	Model     string
	CreatedAt time.Time
}

// VectorResult is one row of a vector table search
type VectorResult struct {
	Row      int64
	Distance float64 // L2
}

// Neighbor is an adjacent graph node, in either edge direction
type Neighbor struct {
	NodeID  int64
	RelType string
}

// Status contains statistics about the stored index
type Status struct {
	FilesCount      int
	ChunksCount     int
	EmbeddingsCount int
	VectorsCount    int
	NodesCount      int
	EdgesCount      int
	SchemaVersion   string
	BuildMode       string
	IndexSizeMB     float64
}
