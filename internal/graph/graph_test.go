package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/reposearch/internal/storage"
	"github.com/dshills/reposearch/pkg/types"
)

func newStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLStore(db)
}

func chunk(path string, offset int, name string, deps ...string) types.CodeChunk {
	if deps == nil {
		deps = []string{}
	}
	return types.CodeChunk{
		ID:        types.ChunkID(path, offset),
		Content:   "function " + name + "() {}",
		FilePath:  path,
		StartLine: offset + 1,
		EndLine:   offset + 1,
		Type:      types.ChunkFunction,
		Metadata:  types.ChunkMetadata{Name: name, Dependencies: deps},
	}
}

func TestCentrality(t *testing.T) {
	assert.Zero(t, Centrality(0))
	assert.InDelta(t, 0.5, Centrality(10), 1e-9)
	prev := 0.0
	for d := 1; d < 100; d++ {
		c := Centrality(d)
		assert.Greater(t, c, prev)
		assert.Less(t, c, 1.0)
		prev = c
	}
}

func TestBuilderCreatesDependsOnEdges(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	chunks := []types.CodeChunk{
		chunk("src/a.ts", 0, "loadUser", "fetchJSON"),
		chunk("src/b.ts", 0, "fetchJSON"),
		chunk("src/c.ts", 0, "render", "loadUser", "fetchJSON", "render"),
	}
	stats, err := NewBuilder(nil).Build(ctx, store, chunks, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Nodes)
	assert.Equal(t, 3, stats.Edges, "self references are skipped")

	fetch, err := store.NodeByChunkID(ctx, chunks[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "fetchJSON", fetch.Name)
	assert.Equal(t, "function", fetch.Label)

	centrality, err := store.CalculateCentrality(ctx, fetch.ID)
	require.NoError(t, err)
	assert.InDelta(t, 2.0/12.0, centrality, 1e-9)

	byLabel, err := store.FindNodesByLabel(ctx, "function")
	require.NoError(t, err)
	assert.Len(t, byLabel, 3)
}

func TestFindRelatedNodes(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	// chain: a -> b -> c -> d
	chunks := []types.CodeChunk{
		chunk("src/x.ts", 0, "a", "b"),
		chunk("src/x.ts", 10, "b", "c"),
		chunk("src/x.ts", 20, "c", "d"),
		chunk("src/x.ts", 30, "d"),
	}
	_, err := NewBuilder(nil).Build(ctx, store, chunks, nil)
	require.NoError(t, err)

	b, err := store.NodeByChunkID(ctx, chunks[1].ID)
	require.NoError(t, err)

	related, err := store.FindRelatedNodes(ctx, b.ID, 1)
	require.NoError(t, err)
	require.Len(t, related, 2, "both edge directions")
	for _, r := range related {
		assert.Equal(t, 1, r.Depth)
		assert.Equal(t, types.RelDependsOn, r.RelationshipType)
	}

	related, err = store.FindRelatedNodes(ctx, b.ID, 3)
	require.NoError(t, err)
	require.Len(t, related, 3)
	assert.Equal(t, "d", related[2].Node.Name)
	assert.Equal(t, 2, related[2].Depth)

	related, err = store.FindRelatedNodes(ctx, b.ID, 0)
	require.NoError(t, err)
	assert.Len(t, related, 2, "depth below one walks one hop")
}

func TestBuilderLinksExistingChunks(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	builder := NewBuilder(nil)

	existing := []types.CodeChunk{
		chunk("src/a.ts", 0, "a", "helper"),
		chunk("src/a.ts", 10, "b"),
	}
	_, err := builder.Build(ctx, store, existing, nil)
	require.NoError(t, err)

	added := []types.CodeChunk{chunk("src/h.ts", 0, "helper", "b")}
	stats, err := builder.Build(ctx, store, added, existing)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Nodes)
	assert.Equal(t, 2, stats.Edges, "helper -> b and a -> helper")

	helper, err := store.NodeByChunkID(ctx, added[0].ID)
	require.NoError(t, err)
	related, err := store.FindRelatedNodes(ctx, helper.ID, 1)
	require.NoError(t, err)
	assert.Len(t, related, 2)
}

func TestRemoveChunks(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	chunks := []types.CodeChunk{
		chunk("src/a.ts", 0, "a", "b"),
		chunk("src/b.ts", 0, "b"),
	}
	_, err := NewBuilder(nil).Build(ctx, store, chunks, nil)
	require.NoError(t, err)

	require.NoError(t, store.RemoveChunks(ctx, []string{chunks[0].ID}))
	_, err = store.NodeByChunkID(ctx, chunks[0].ID)
	assert.ErrorIs(t, err, ErrNodeNotFound)

	b, err := store.NodeByChunkID(ctx, chunks[1].ID)
	require.NoError(t, err)
	c, err := store.CalculateCentrality(ctx, b.ID)
	require.NoError(t, err)
	assert.Zero(t, c)

	require.NoError(t, store.Clear(ctx))
	_, err = store.NodeByChunkID(ctx, chunks[1].ID)
	assert.ErrorIs(t, err, ErrNodeNotFound)
	assert.NoError(t, store.Close())
}

func TestEnrichAndRelatedness(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	chunks := []types.CodeChunk{
		chunk("src/a.ts", 0, "handleUser", "parseUser", "logEvent"),
		chunk("src/a.ts", 10, "parseUser", "readBytes"),
		chunk("src/b.ts", 0, "logEvent"),
		chunk("src/b.ts", 10, "readBytes"),
	}
	_, err := NewBuilder(nil).Build(ctx, store, chunks, nil)
	require.NoError(t, err)

	n, err := Relatedness(ctx, store, chunks[0].ID, []string{"user"}, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "parseUser only; origin excluded")

	signals, err := Enrich(ctx, store, chunks[0].ID, []string{"user"}, 2)
	require.NoError(t, err)
	require.Len(t, signals.RelatedEntities, 3)
	// parseUser at depth 1 (weight 1) matches; 3 entities
	assert.InDelta(t, 1.0/3.0, signals.RelationshipScore, 1e-9)
	assert.InDelta(t, Centrality(2), signals.Centrality, 1e-9)

	for _, e := range signals.RelatedEntities {
		if e.Name == "readBytes" {
			assert.InDelta(t, 0.5, e.Weight, 1e-9)
		}
	}

	_, err = Enrich(ctx, store, "missing:0", nil, 2)
	assert.ErrorIs(t, err, ErrNodeNotFound)
}
