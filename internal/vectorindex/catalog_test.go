package vectorindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogSearch(t *testing.T) {
	ctx := context.Background()
	c := NewCatalog(NewFlat(2), 0)

	hits, err := c.Search(ctx, []float32{0, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, hits)

	require.NoError(t, c.Add(ctx, []string{"a:0", "b:0", "c:0"}, [][]float32{{0, 0}, {0, 1}, {5, 5}}))

	hits, err = c.Search(ctx, []float32{0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a:0", hits[0].ChunkID)
	assert.Equal(t, 1.0, hits[0].Score)
	assert.Equal(t, "b:0", hits[1].ChunkID)
	assert.InDelta(t, 0.5, hits[1].Score, 1e-9)

	assert.ErrorIs(t, c.Add(ctx, []string{"x"}, nil), ErrLengthMismatch)
}

func TestCatalogTombstone(t *testing.T) {
	ctx := context.Background()
	c := NewCatalog(NewFlat(1), 0)
	require.NoError(t, c.Add(ctx, []string{"a", "b", "c", "d"}, [][]float32{{0}, {1}, {2}, {3}}))

	assert.Equal(t, 1, c.Tombstone("a", "missing"))
	assert.False(t, c.Contains("a"))
	assert.Equal(t, 3, c.Live())
	assert.Equal(t, 1, c.Dead())
	assert.InDelta(t, 0.25, c.DeadRatio(), 1e-9)
	assert.False(t, c.NeedsRebuild(), "exactly at threshold")

	hits, err := c.Search(ctx, []float32{0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].ChunkID, "over-fetch skips the tombstone")

	c.Tombstone("b")
	assert.True(t, c.NeedsRebuild())
}

func TestCatalogReAddSupersedes(t *testing.T) {
	ctx := context.Background()
	c := NewCatalog(NewFlat(1), 0)
	require.NoError(t, c.Add(ctx, []string{"a"}, [][]float32{{0}}))
	require.NoError(t, c.Add(ctx, []string{"a"}, [][]float32{{10}}))

	assert.Equal(t, 1, c.Live())
	assert.Equal(t, 1, c.Dead())

	hits, err := c.Search(ctx, []float32{10}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Zero(t, hits[0].Distance)
}

func TestCatalogRebuild(t *testing.T) {
	ctx := context.Background()
	c := NewCatalog(NewFlat(1), 0)
	vectors := map[string][]float32{"a": {0}, "b": {1}, "c": {2}, "d": {3}}
	require.NoError(t, c.Add(ctx, []string{"a", "b", "c", "d"}, [][]float32{{0}, {1}, {2}, {3}}))
	c.Tombstone("a", "c")
	delete(vectors, "d")

	require.NoError(t, c.Rebuild(ctx, func(id string) ([]float32, bool) {
		v, ok := vectors[id]
		return v, ok
	}))

	assert.Equal(t, []string{"b"}, c.LiveIDs())
	assert.Zero(t, c.Dead())
	assert.Zero(t, c.DeadRatio())

	hits, err := c.Search(ctx, []float32{0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].ChunkID)

	require.NoError(t, c.Clear(ctx))
	assert.Zero(t, c.Live())
}
