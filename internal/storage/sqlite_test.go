package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/reposearch/pkg/types"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	t.Helper()
	storage, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NotNil(t, storage)
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func testChunk(path string, offset, line int, name string, deps ...string) types.CodeChunk {
	if deps == nil {
		deps = []string{}
	}
	return types.CodeChunk{
		ID:        types.ChunkID(path, offset),
		Content:   "func " + name + "() {}",
		FilePath:  path,
		StartLine: line,
		EndLine:   line + 2,
		Type:      types.ChunkFunction,
		Metadata: types.ChunkMetadata{
			Name:         name,
			Dependencies: deps,
			Complexity:   1,
		},
	}
}

func TestNewSQLiteStorage(t *testing.T) {
	storage := setupTestDB(t)
	assert.NotNil(t, storage.db)

	version, err := SchemaVersion(context.Background(), storage.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)
}

func TestApplyMigrationsIdempotent(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, ApplyMigrations(ctx, storage.db))

	var n int
	require.NoError(t, storage.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_version").Scan(&n))
	assert.Equal(t, len(AllMigrations), n)
}

func TestRollbackMigration(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, RollbackMigration(ctx, storage.db))
	version, err := SchemaVersion(ctx, storage.db)
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", version)
	_, err = storage.GetMeta(ctx, MetaRoot)
	assert.Error(t, err, "index_meta table dropped")
	assert.NotErrorIs(t, err, ErrNotFound)

	require.NoError(t, RollbackMigration(ctx, storage.db))
	version, err = SchemaVersion(ctx, storage.db)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", version)

	_, err = storage.CountVectors(ctx)
	assert.Error(t, err, "vectors table dropped")

	require.NoError(t, ApplyMigrations(ctx, storage.db))
	_, err = storage.CountVectors(ctx)
	assert.NoError(t, err)
}

func TestMeta(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	_, err := storage.GetMeta(ctx, MetaRoot)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, storage.SetMeta(ctx, MetaRoot, "/src/one"))
	require.NoError(t, storage.SetMeta(ctx, MetaRoot, "/src/two"))
	got, err := storage.GetMeta(ctx, MetaRoot)
	require.NoError(t, err)
	assert.Equal(t, "/src/two", got)

	require.NoError(t, storage.Clear(ctx))
	_, err = storage.GetMeta(ctx, MetaRoot)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertAndGetChunk(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	c := testChunk("src/a.ts", 0, 1, "alpha", "beta")
	c.Metadata.Parameters = []string{"x"}
	c.Metadata.ReturnType = "number"
	require.NoError(t, storage.UpsertChunks(ctx, []types.CodeChunk{c}))

	got, err := storage.GetChunk(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c, *got)

	c.Content = "func alpha() { changed }"
	require.NoError(t, storage.UpsertChunks(ctx, []types.CodeChunk{c}))
	got, err = storage.GetChunk(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Content, got.Content)

	_, err = storage.GetChunk(ctx, "missing:0")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListChunks(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	chunks := []types.CodeChunk{
		testChunk("src/b.ts", 40, 5, "b2"),
		testChunk("src/a.ts", 0, 1, "a1"),
		testChunk("src/b.ts", 0, 1, "b1"),
	}
	require.NoError(t, storage.UpsertChunks(ctx, chunks))

	all, err := storage.ListChunks(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"a1", "b1", "b2"}, []string{all[0].Metadata.Name, all[1].Metadata.Name, all[2].Metadata.Name})

	byFile, err := storage.ListChunksByFile(ctx, "src/b.ts")
	require.NoError(t, err)
	assert.Len(t, byFile, 2)
}

func TestDeleteChunksCascadesEmbeddings(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	a := testChunk("src/a.ts", 0, 1, "a")
	b := testChunk("src/a.ts", 30, 4, "b")
	require.NoError(t, storage.UpsertChunks(ctx, []types.CodeChunk{a, b}))
	require.NoError(t, storage.UpsertEmbeddings(ctx, []Embedding{
		{ChunkID: a.ID, Vector: []float32{1, 0}, Provider: "local", Model: "m"},
		{ChunkID: b.ID, Vector: []float32{0, 1}, Provider: "local", Model: "m"},
	}))

	n, err := storage.DeleteChunks(ctx, []string{a.ID, "missing:0"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = storage.GetEmbedding(ctx, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	e, err := storage.GetEmbedding(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, e.Vector)
	assert.Equal(t, 2, e.Dimension)
}

func TestListEmbeddingsFollowsChunkOrder(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	a := testChunk("src/a.ts", 0, 1, "a")
	b := testChunk("src/b.ts", 0, 1, "b")
	require.NoError(t, storage.UpsertChunks(ctx, []types.CodeChunk{b, a}))
	require.NoError(t, storage.UpsertEmbeddings(ctx, []Embedding{
		{ChunkID: b.ID, Vector: []float32{2}},
		{ChunkID: a.ID, Vector: []float32{1}},
	}))

	embs, err := storage.ListEmbeddings(ctx)
	require.NoError(t, err)
	require.Len(t, embs, 2)
	assert.Equal(t, a.ID, embs[0].ChunkID)
	assert.Equal(t, b.ID, embs[1].ChunkID)
}

func TestDeleteChunksLargeBatch(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	var chunks []types.CodeChunk
	var ids []string
	for i := 0; i < deleteBatchSize+10; i++ {
		c := testChunk("src/big.ts", i*10, i+1, "f")
		chunks = append(chunks, c)
		ids = append(ids, c.ID)
	}
	require.NoError(t, storage.UpsertChunks(ctx, chunks))

	n, err := storage.DeleteChunks(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, len(ids), n)
}

func TestBeginTx_CommitRollback(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	tx, err := storage.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertChunks(ctx, []types.CodeChunk{testChunk("src/a.ts", 0, 1, "a")}))
	require.NoError(t, tx.Rollback())

	status, err := storage.GetStatus(ctx)
	require.NoError(t, err)
	assert.Zero(t, status.ChunksCount)

	tx, err = storage.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertChunks(ctx, []types.CodeChunk{testChunk("src/a.ts", 0, 1, "a")}))
	_, err = tx.BeginTx(ctx)
	assert.ErrorIs(t, err, ErrNestedTx)
	require.NoError(t, tx.Commit())
	assert.NoError(t, tx.Close(), "close after commit is a no-op")

	status, err = storage.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.ChunksCount)
	assert.Equal(t, 1, status.FilesCount)
	assert.Equal(t, BuildMode, status.BuildMode)
}

func TestClear(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	c := testChunk("src/a.ts", 0, 1, "a")
	require.NoError(t, storage.UpsertChunks(ctx, []types.CodeChunk{c}))
	require.NoError(t, storage.UpsertEmbeddings(ctx, []Embedding{{ChunkID: c.ID, Vector: []float32{1}}}))
	require.NoError(t, storage.AppendVectors(ctx, 0, [][]float32{{1}}))
	node := &types.NodeRecord{Label: "function", ChunkID: c.ID, Name: "a", Type: types.ChunkFunction, FilePath: c.FilePath}
	require.NoError(t, storage.InsertNode(ctx, node))

	require.NoError(t, storage.Clear(ctx))

	status, err := storage.GetStatus(ctx)
	require.NoError(t, err)
	assert.Zero(t, status.ChunksCount+status.EmbeddingsCount+status.VectorsCount+status.NodesCount)
}
