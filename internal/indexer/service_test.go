package indexer

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/reposearch/internal/chunker"
	"github.com/dshills/reposearch/internal/embedder"
	"github.com/dshills/reposearch/internal/graph"
	"github.com/dshills/reposearch/internal/incremental"
	"github.com/dshills/reposearch/internal/storage"
	"github.com/dshills/reposearch/pkg/types"
)

type testEnv struct {
	root         string
	store        *storage.SQLiteStorage
	manifestPath string
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return &testEnv{
		root:         t.TempDir(),
		store:        store,
		manifestPath: filepath.Join(t.TempDir(), "manifest.json"),
	}
}

// service builds a Service over the environment's shared storage and
// manifest file
func (e *testEnv) service(t *testing.T) *Service {
	t.Helper()
	return e.serviceAt(t, e.root)
}

// serviceAt is service with a different configured root
func (e *testEnv) serviceAt(t *testing.T, root string) *Service {
	t.Helper()
	emb, err := embedder.NewLocalProvider(embedder.NewCache(0))
	require.NoError(t, err)

	extractor := chunker.New(chunker.Config{}, nil)
	manifest := incremental.NewManager(incremental.Config{ManifestPath: e.manifestPath}, extractor, nil)
	svc, err := New(Deps{
		Storage:   e.store,
		Embedder:  emb,
		Extractor: extractor,
		Manifest:  manifest,
	}, Config{Root: root})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func (e *testEnv) write(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(e.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func (e *testEnv) remove(t *testing.T, rel string) {
	t.Helper()
	require.NoError(t, os.Remove(filepath.Join(e.root, filepath.FromSlash(rel))))
}

func chunkIDs(svc *Service) []string {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	ids := make([]string, 0, len(svc.chunks))
	for id := range svc.chunks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func resultPaths(results []types.SearchResult) []string {
	paths := make([]string, len(results))
	for i, r := range results {
		paths[i] = r.FilePath
	}
	return paths
}

const (
	addSource = "export function add(a, b) { return a + b; }\n"
	mulSource = "export function multiply(x, y) { return x * y; }\n"
)

func TestIndexAndSearch_AddNumbers(t *testing.T) {
	env := newEnv(t)
	env.write(t, "a.ts", addSource)
	svc := env.service(t)

	stats, err := svc.IndexRepository(context.Background(), IndexOptions{Src: env.root})
	require.NoError(t, err)
	assert.Equal(t, ModeFull, stats.Mode)
	assert.NotEmpty(t, stats.RunID)
	assert.Equal(t, 1, stats.FilesProcessed)
	assert.Equal(t, 1, stats.ChunksIndexed)
	assert.Zero(t, stats.EmbedFailedChunks)

	results, err := svc.Search(context.Background(), types.SearchQuery{
		Query:   "add numbers",
		Options: types.QueryOptions{Top: 5},
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.LessOrEqual(t, len(results), 5)

	top := results[0]
	assert.Equal(t, "a.ts", top.FilePath)
	assert.Equal(t, "a.ts:0", top.ID)
	assert.Equal(t, "add", top.Metadata.Name)
	assert.Equal(t, 1, top.StartLine)
	assert.Contains(t, top.Snippet, "return a + b")
	assert.Empty(t, top.Context.Before)
	assert.Empty(t, top.Context.After)
}

func TestSearch_EmptyIndex(t *testing.T) {
	env := newEnv(t)
	svc := env.service(t)

	results, err := svc.Search(context.Background(), types.SearchQuery{Query: "anything"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_InvalidQuery(t *testing.T) {
	env := newEnv(t)
	svc := env.service(t)

	_, err := svc.Search(context.Background(), types.SearchQuery{Query: "   "})
	assert.ErrorIs(t, err, types.ErrInvalidQuery)

	_, err = svc.Search(context.Background(), types.SearchQuery{Query: "x", Options: types.QueryOptions{Threshold: 2}})
	assert.ErrorIs(t, err, types.ErrInvalidQuery)
}

func TestSearch_NameRoundTrip(t *testing.T) {
	env := newEnv(t)
	env.write(t, "config.ts", "export function parseConfig(text) {\n  return JSON.parse(text);\n}\n")
	env.write(t, "render.ts", "export function renderTemplate(tpl, data) {\n  return tpl.replace('{}', data);\n}\n")
	env.write(t, "db.ts", "export function openDatabase(url) {\n  return connect(url);\n}\n")
	svc := env.service(t)

	_, err := svc.IndexRepository(context.Background(), IndexOptions{Src: env.root})
	require.NoError(t, err)

	for _, id := range chunkIDs(svc) {
		svc.mu.RLock()
		chunk := svc.chunks[id]
		svc.mu.RUnlock()

		results, err := svc.Search(context.Background(), types.SearchQuery{
			Query:   chunk.Metadata.Name,
			Options: types.QueryOptions{Top: 5},
		})
		require.NoError(t, err)

		var found bool
		for _, r := range results {
			if r.ID == id {
				found = true
				break
			}
		}
		assert.True(t, found, "searching %q should return %s", chunk.Metadata.Name, id)
	}
}

func TestSearch_FiltersAndContext(t *testing.T) {
	env := newEnv(t)
	env.write(t, "packages/search/a.ts", addSource)
	env.write(t, "packages/math/b.js", mulSource)
	svc := env.service(t)

	_, err := svc.IndexRepository(context.Background(), IndexOptions{Src: env.root})
	require.NoError(t, err)

	results, err := svc.Search(context.Background(), types.SearchQuery{
		Query:   "function",
		Filters: types.SearchFilters{FileTypes: []string{"js"}},
		Options: types.QueryOptions{Top: 5, IncludeContext: true},
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, "packages/math/b.js", r.FilePath)
	}

	results, err = svc.Search(context.Background(), types.SearchQuery{
		Query:   "function",
		Filters: types.SearchFilters{Packages: []string{"search"}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, "packages/search/a.ts", r.FilePath)
	}
}

func TestIndexRepository_Incremental(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	env.write(t, "a.ts", addSource)
	env.write(t, "b.ts", mulSource)
	svc := env.service(t)

	_, err := svc.IndexRepository(ctx, IndexOptions{Src: env.root})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.ts:0", "b.ts:0"}, chunkIDs(svc))

	env.write(t, "a.ts", "export function add(a, b) { return a + b; }\n\nexport function subtract(a, b) { return a - b; }\n")
	env.remove(t, "b.ts")
	env.write(t, "c.ts", "export function divide(a, b) { return a / b; }\n")

	stats, err := svc.IndexRepository(ctx, IndexOptions{Src: env.root, Incremental: true})
	require.NoError(t, err)
	assert.Equal(t, ModeIncremental, stats.Mode)
	assert.Equal(t, 1, stats.FilesAdded)
	assert.Equal(t, 1, stats.FilesModified)
	assert.Equal(t, 1, stats.FilesDeleted)

	ids := chunkIDs(svc)
	assert.Contains(t, ids, "a.ts:0")
	assert.Contains(t, ids, "c.ts:0")
	assert.Len(t, ids, 3)
	for _, id := range ids {
		assert.NotContains(t, id, "b.ts")
	}

	stored, err := env.store.ListChunks(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 3)

	// Nothing changed since the last run
	stats, err = svc.IndexRepository(ctx, IndexOptions{Src: env.root, Incremental: true})
	require.NoError(t, err)
	assert.Zero(t, stats.FilesAdded+stats.FilesModified+stats.FilesDeleted)
	assert.Len(t, chunkIDs(svc), 3)
}

func TestIndexRepository_FullRunReplacesStaleChunks(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	env.write(t, "a.ts", addSource)
	env.write(t, "b.ts", mulSource)
	svc := env.service(t)

	_, err := svc.IndexRepository(ctx, IndexOptions{Src: env.root})
	require.NoError(t, err)

	env.remove(t, "b.ts")
	_, err = svc.IndexRepository(ctx, IndexOptions{Src: env.root})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.ts:0"}, chunkIDs(svc))

	st, err := svc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.LiveRows)
	assert.Zero(t, st.DeadRows)
	assert.Equal(t, 1, st.ManifestFiles)
}

func TestIndexRepository_Force(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	env.write(t, "a.ts", addSource)
	svc := env.service(t)

	first, err := svc.IndexRepository(ctx, IndexOptions{Src: env.root})
	require.NoError(t, err)

	second, err := svc.IndexRepository(ctx, IndexOptions{Src: env.root, Incremental: true, Force: true})
	require.NoError(t, err)
	assert.Equal(t, ModeFull, second.Mode)
	assert.Equal(t, first.ChunksIndexed, second.ChunksIndexed)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, []string{"a.ts:0"}, chunkIDs(svc))
}

func TestIndexRepository_InProgress(t *testing.T) {
	env := newEnv(t)
	env.write(t, "a.ts", addSource)
	svc := env.service(t)

	require.True(t, svc.lock.TryAcquire())
	_, err := svc.IndexRepository(context.Background(), IndexOptions{Src: env.root})
	assert.ErrorIs(t, err, types.ErrIndexingInProgress)
	assert.ErrorIs(t, svc.Reindex(context.Background(), "a.ts"), types.ErrIndexingInProgress)
	assert.ErrorIs(t, svc.RemoveIndex(context.Background(), "a.ts:0"), types.ErrIndexingInProgress)

	st, err := svc.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Indexing)
	assert.Nil(t, st.Storage)
	svc.lock.Release()

	_, err = svc.IndexRepository(context.Background(), IndexOptions{Src: env.root})
	assert.NoError(t, err)
}

func TestIndexRepository_BadSource(t *testing.T) {
	env := newEnv(t)
	svc := env.service(t)

	_, err := svc.IndexRepository(context.Background(), IndexOptions{Src: filepath.Join(env.root, "missing")})
	assert.Error(t, err)
}

func TestReindex(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	env.write(t, "a.ts", addSource)
	env.write(t, "b.ts", mulSource)
	svc := env.service(t)

	_, err := svc.IndexRepository(ctx, IndexOptions{Src: env.root})
	require.NoError(t, err)

	env.write(t, "a.ts", "// math helpers\nexport function add(a, b) { return a + b; }\n")
	require.NoError(t, svc.Reindex(ctx, "a.ts"))
	ids := chunkIDs(svc)
	assert.NotContains(t, ids, "a.ts:0")
	assert.Len(t, ids, 2)

	results, err := svc.Search(ctx, types.SearchQuery{Query: "add", Options: types.QueryOptions{Top: 5}})
	require.NoError(t, err)
	assert.Contains(t, resultPaths(results), "a.ts")

	env.remove(t, "b.ts")
	require.NoError(t, svc.Reindex(ctx, filepath.Join(env.root, "b.ts")))
	for _, id := range chunkIDs(svc) {
		assert.NotContains(t, id, "b.ts")
	}
	_, ok := svc.manifest.Entry("b.ts")
	assert.False(t, ok)

	env.write(t, "notes.txt", "plain text")
	assert.ErrorIs(t, svc.Reindex(ctx, "notes.txt"), ErrNotIndexable)
}

func TestRemoveIndex(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	env.write(t, "a.ts", addSource)
	env.write(t, "b.ts", mulSource)
	svc := env.service(t)

	_, err := svc.IndexRepository(ctx, IndexOptions{Src: env.root})
	require.NoError(t, err)

	err = svc.RemoveIndex(ctx, "nope:0")
	assert.ErrorIs(t, err, types.ErrChunkNotFound)

	require.NoError(t, svc.RemoveIndex(ctx, "b.ts:0"))
	assert.Equal(t, []string{"a.ts:0"}, chunkIDs(svc))

	_, err = env.store.GetChunk(ctx, "b.ts:0")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	results, err := svc.Search(ctx, types.SearchQuery{Query: "multiply", Options: types.QueryOptions{Top: 5}})
	require.NoError(t, err)
	assert.NotContains(t, resultPaths(results), "b.ts")

	err = svc.RemoveIndex(ctx, "b.ts:0")
	assert.ErrorIs(t, err, types.ErrChunkNotFound)
}

func TestLoad_RestoresIndex(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	env.write(t, "a.ts", addSource)
	env.write(t, "b.ts", mulSource)

	first := env.service(t)
	stats, err := first.IndexRepository(ctx, IndexOptions{Src: env.root})
	require.NoError(t, err)

	second := env.service(t)
	n, err := second.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, stats.ChunksIndexed, n)
	assert.Equal(t, chunkIDs(first), chunkIDs(second))

	results, err := second.Search(ctx, types.SearchQuery{Query: "add numbers", Options: types.QueryOptions{Top: 5}})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Contains(t, resultPaths(results), "a.ts")

	// The manifest written by the first service makes this a no-op
	inc, err := second.IndexRepository(ctx, IndexOptions{Src: env.root, Incremental: true})
	require.NoError(t, err)
	assert.Zero(t, inc.FilesAdded+inc.FilesModified+inc.FilesDeleted)
}

func TestLoad_RestoresIndexedRoot(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	env.write(t, "a.ts", "const x = 1;\nconst y = 2;\n\n"+addSource+"\nconst z = 3;\nconst w = 4;\n")
	elsewhere := t.TempDir()

	first := env.serviceAt(t, elsewhere)
	_, err := first.IndexRepository(ctx, IndexOptions{Src: env.root})
	require.NoError(t, err)
	before := chunkIDs(first)
	require.NotEmpty(t, before)

	second := env.serviceAt(t, elsewhere)
	_, err = second.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, env.root, second.Root())

	results, err := second.Search(ctx, types.SearchQuery{
		Query:   "add",
		Options: types.QueryOptions{Top: 10, IncludeContext: true},
	})
	require.NoError(t, err)
	var found bool
	for _, r := range results {
		if r.Metadata.Name == "add" {
			found = true
			assert.NotEmpty(t, r.Context.Before)
			assert.NotEmpty(t, r.Context.After)
		}
	}
	assert.True(t, found)

	// a file that still exists under the indexed root keeps its chunks
	require.NoError(t, second.Reindex(ctx, "a.ts"))
	assert.Equal(t, before, chunkIDs(second))
}

var errNodeWrite = errors.New("node write failed")

// failingGraph rejects every node write
type failingGraph struct {
	graph.Store
}

func (failingGraph) CreateNode(context.Context, string, graph.NodeProps) (int64, error) {
	return 0, errNodeWrite
}

func TestIndexRepository_GraphWriteFailureAbortsRun(t *testing.T) {
	tests := []struct {
		name        string
		incremental bool
	}{
		{"full", false},
		{"incremental", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			env := newEnv(t)
			env.write(t, "a.ts", addSource)

			emb, err := embedder.NewLocalProvider(embedder.NewCache(0))
			require.NoError(t, err)
			extractor := chunker.New(chunker.Config{}, nil)
			svc, err := New(Deps{
				Storage:   env.store,
				Embedder:  emb,
				Graph:     failingGraph{Store: graph.NewSQLStore(env.store)},
				Extractor: extractor,
				Manifest:  incremental.NewManager(incremental.Config{ManifestPath: env.manifestPath}, extractor, nil),
			}, Config{Root: env.root})
			require.NoError(t, err)
			t.Cleanup(func() { _ = svc.Close() })

			stats, err := svc.IndexRepository(ctx, IndexOptions{Src: env.root, Incremental: tt.incremental})
			require.Error(t, err)
			assert.ErrorIs(t, err, errNodeWrite)
			assert.Nil(t, stats)

			_, statErr := os.Stat(env.manifestPath)
			assert.ErrorIs(t, statErr, fs.ErrNotExist, "manifest must not be saved")

			st, err := svc.Status(ctx)
			require.NoError(t, err)
			assert.Nil(t, st.LastRun)
			assert.False(t, st.Indexing)
		})
	}
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	env.write(t, "a.ts", addSource)
	svc := env.service(t)

	st, err := svc.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Chunks)
	assert.Nil(t, st.LastRun)
	assert.Equal(t, embedder.ProviderLocal, st.Provider)

	_, err = svc.IndexRepository(ctx, IndexOptions{Src: env.root})
	require.NoError(t, err)
	_, err = svc.Search(ctx, types.SearchQuery{Query: "add"})
	require.NoError(t, err)

	st, err = svc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Chunks)
	assert.Equal(t, 1, st.Files)
	assert.Equal(t, 1, st.LiveRows)
	assert.False(t, st.Indexing)
	require.NotNil(t, st.LastRun)
	assert.Equal(t, ModeFull, st.LastRun.Mode)
	require.NotNil(t, st.Storage)
	assert.Equal(t, 1, st.Storage.ChunksCount)
	assert.Equal(t, int64(1), st.Analytics.TotalQueries)
}

func TestRelPath(t *testing.T) {
	root := t.TempDir()

	rel, err := relPath(root, "src/a.ts")
	require.NoError(t, err)
	assert.Equal(t, "src/a.ts", rel)

	rel, err = relPath(root, filepath.Join(root, "src", "a.ts"))
	require.NoError(t, err)
	assert.Equal(t, "src/a.ts", rel)
}
