package searcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/reposearch/internal/embedder"
	"github.com/dshills/reposearch/internal/graph"
	"github.com/dshills/reposearch/internal/storage"
	"github.com/dshills/reposearch/internal/vectorindex"
	"github.com/dshills/reposearch/pkg/types"
)

// memChunks is an in-memory ChunkSource
type memChunks struct {
	chunks  map[string]types.CodeChunk
	vectors map[string][]float32
}

func (m *memChunks) Chunk(id string) (types.CodeChunk, bool) {
	c, ok := m.chunks[id]
	return c, ok
}

func (m *memChunks) Vector(id string) ([]float32, bool) {
	v, ok := m.vectors[id]
	return v, ok
}

// localQuery embeds queries with the offline provider
type localQuery struct {
	provider *embedder.LocalProvider
	calls    atomic.Int32
	fail     func(text string) bool
	delay    time.Duration
}

func (q *localQuery) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	q.calls.Add(1)
	if q.delay > 0 {
		select {
		case <-time.After(q.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if q.fail != nil && q.fail(text) {
		return nil, errors.New("provider unavailable")
	}
	emb, err := q.provider.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: text})
	if err != nil {
		return nil, err
	}
	return emb.Vector, nil
}

type fixture struct {
	engine  *Engine
	catalog *vectorindex.Catalog
	query   *localQuery
	chunks  *memChunks
	root    string
}

func testChunk(path string, offset, start, end int, name, content string) types.CodeChunk {
	return types.CodeChunk{
		ID:        types.ChunkID(path, offset),
		Content:   content,
		FilePath:  path,
		StartLine: start,
		EndLine:   end,
		Type:      types.ChunkFunction,
		Metadata:  types.ChunkMetadata{Name: name, Dependencies: []string{}, Complexity: 1},
	}
}

func sampleChunks() []types.CodeChunk {
	return []types.CodeChunk{
		testChunk("src/math/add.ts", 0, 1, 1, "add", "export function add(a, b) { return a + b; }"),
		testChunk("src/math/add.ts", 45, 2, 2, "subtract", "export function subtract(a, b) { return a - b; }"),
		testChunk("src/http/client.ts", 0, 1, 3, "fetchUser", "async function fetchUser(id) {\n  try { return await get(id) } catch (e) { throw e }\n}"),
		testChunk("src/http/server.ts", 0, 1, 2, "listen", "export function listen(port) {\n  return serve(port)\n}"),
		testChunk("lib/errors.go", 0, 1, 4, "wrap", "func wrap(err error) error {\n\tif err != nil {\n\t\treturn err\n\t}\n}"),
	}
}

func newFixture(t *testing.T, chunks []types.CodeChunk, store graph.Store) *fixture {
	t.Helper()
	ctx := context.Background()

	provider, err := embedder.NewLocalProvider(nil)
	require.NoError(t, err)

	mem := &memChunks{chunks: map[string]types.CodeChunk{}, vectors: map[string][]float32{}}
	catalog := vectorindex.NewCatalog(vectorindex.NewFlat(provider.Dimension()), 0)

	root := t.TempDir()
	ids := make([]string, len(chunks))
	vecs := make([][]float32, len(chunks))
	for i, c := range chunks {
		emb, err := provider.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: embedder.BuildText(&c)})
		require.NoError(t, err)
		mem.chunks[c.ID] = c
		mem.vectors[c.ID] = emb.Vector
		ids[i] = c.ID
		vecs[i] = emb.Vector

		path := filepath.Join(root, filepath.FromSlash(c.FilePath))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		existing, _ := os.ReadFile(path)
		if len(existing) == 0 {
			require.NoError(t, os.WriteFile(path, []byte(c.Content+"\n"), 0644))
		} else {
			require.NoError(t, os.WriteFile(path, append(existing, []byte(c.Content+"\n")...), 0644))
		}
	}
	require.NoError(t, catalog.Add(ctx, ids, vecs))

	q := &localQuery{provider: provider}
	engine, err := New(Deps{
		Index:    catalog,
		Chunks:   mem,
		Graph:    store,
		Embedder: q,
		Source:   FileReader{Root: root},
	}, Config{})
	require.NoError(t, err)
	return &fixture{engine: engine, catalog: catalog, query: q, chunks: mem, root: root}
}

func TestInferIntent(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"find the function that parses", IntentFunction},
		{"method receivers", IntentFunction},
		{"class hierarchy", IntentStructure},
		{"interface for storage", IntentStructure},
		{"import cycle", IntentModule},
		{"fix this bug", IntentIssue},
		{"error wrapping", IntentIssue},
		{"add numbers", IntentGeneral},
		{"function with error", IntentFunction},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, InferIntent(tt.query))
		})
	}
}

func TestStructuralQuery(t *testing.T) {
	assert.Equal(t, "parseFile", StructuralQuery("where is parseFile() called"))
	assert.Equal(t, "foo bar ", StructuralQuery("foo( and bar ("))
	assert.Equal(t, "", StructuralQuery("plain words only"))
}

func TestVariants(t *testing.T) {
	v := Variants("add numbers")
	require.Len(t, v, 2)
	assert.Equal(t, Variant{Name: "verbatim", Text: "add numbers"}, v[0])
	assert.Equal(t, Variant{Name: "semantic", Text: "add numbers general_search"}, v[1])

	v = Variants("who calls render()")
	require.Len(t, v, 3)
	assert.Equal(t, "structural", v[1].Name)
	assert.Equal(t, "render", v[1].Text)
}

func TestBM25NonNegative(t *testing.T) {
	docs := [][]string{
		{"add", "a", "b", "return", "a", "b"},
		{"add", "add", "add"},
		{"subtract", "a", "b"},
		{},
	}
	scores := BM25([]string{"add", "a", "missing"}, docs)
	require.Len(t, scores, len(docs))
	for i, s := range scores {
		assert.GreaterOrEqual(t, s, 0.0, "doc %d", i)
	}
	assert.Greater(t, scores[0], 0.0)
	assert.Greater(t, scores[1], 0.0)
	assert.Zero(t, scores[3])

	// Term in every document still scores positive
	all := BM25([]string{"x"}, [][]string{{"x"}, {"x", "y"}})
	assert.Greater(t, all[0], 0.0)
	assert.Greater(t, all[1], 0.0)
}

func TestBM25Empty(t *testing.T) {
	assert.Equal(t, []float64{0}, BM25(nil, [][]string{{"a"}}))
	assert.Empty(t, BM25([]string{"a"}, nil))
}

func TestSimilarityAndDiversity(t *testing.T) {
	base := types.SemanticSearchResult{SearchResult: types.SearchResult{ID: "a", FilePath: "src/math/add.ts", StartLine: 10}}
	near := types.SearchResult{ID: "b", FilePath: "src/math/add.ts", StartLine: 11}
	far := types.SearchResult{ID: "c", FilePath: "src/math/add.ts", StartLine: 200}
	samePkg := types.SearchResult{ID: "d", FilePath: "src/http/x.ts"}
	otherPkg := types.SearchResult{ID: "e", FilePath: "lib/y.go"}

	assert.InDelta(t, 0.98, Similarity(&near, &base.SearchResult), 1e-9)
	assert.Equal(t, 0.0, Similarity(&far, &base.SearchResult))
	assert.Equal(t, 0.5, Similarity(&samePkg, &base.SearchResult))
	assert.Equal(t, 0.1, Similarity(&otherPkg, &base.SearchResult))

	accepted := []types.SemanticSearchResult{base}
	assert.Less(t, Diversity(&near, accepted), 0.2)
	assert.Equal(t, 1.0, Diversity(&near, nil))
	assert.InDelta(t, 0.9, Diversity(&otherPkg, accepted), 1e-9)
}

func TestDiversifyKeepsDiverseBeyondMax(t *testing.T) {
	mk := func(id, path string, line int, combined float64) *candidate {
		return &candidate{result: types.SemanticSearchResult{
			SearchResult: types.SearchResult{ID: id, FilePath: path, StartLine: line},
			RerankScores: &types.RerankScores{Combined: combined},
		}}
	}
	cands := []*candidate{
		mk("a", "src/a/x.ts", 1, 0.9),
		mk("b", "src/a/x.ts", 2, 0.8),  // near duplicate of a
		mk("c", "lib/b/y.ts", 1, 0.7),  // different package
	}
	out := diversify(cands, 0.7, 1, ConstantNovelty{Value: 0.5})
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].ID)
	assert.InDelta(t, 0.6*0.9+0.2*1+0.2*0.5, out[0].FinalScore, 1e-9)

	out = diversify(cands, 0.7, 3, ConstantNovelty{Value: 0.5})
	require.Len(t, out, 3)
	for _, r := range out {
		if r.ID == "b" {
			assert.Less(t, r.DiversityScore, 0.2)
		}
	}
}

func TestDetectPatterns(t *testing.T) {
	assert.Equal(t, []string{PatternAsync, PatternErrorHandling},
		DetectPatterns("async function f() { try { x() } catch (e) {} }"))
	assert.Equal(t, []string{PatternErrorHandling}, DetectPatterns("if err != nil {\n return err\n}"))
	assert.Equal(t, []string{PatternTypeDefinition, PatternModuleImport},
		DetectPatterns("import x\ntype Foo struct{}"))
	assert.Equal(t, []string{PatternModuleImport}, DetectPatterns("const x = require('y')"))
	assert.Empty(t, DetectPatterns("return 1"))
}

func TestSummaryAndSnippet(t *testing.T) {
	c := types.CodeChunk{FilePath: "a.ts", StartLine: 7, Content: "\n\n  export function add() {}\n"}
	assert.Equal(t, "export function add() {}", Summary(&c))
	c.Content = "  \n"
	assert.Equal(t, "a.ts:7", Summary(&c))

	assert.Equal(t, "3\n4\n5\n6\n7", Snippet("1\n2\n3\n4\n5\n6\n7\n", 5))
	assert.Equal(t, "only", Snippet("only", 5))
}

func TestSurrounding(t *testing.T) {
	lines := []string{"l1", "l2", "l3", "l4", "l5", "l6"}
	before, after := surrounding(lines, 3, 4, 1)
	assert.Equal(t, []string{"l2"}, before)
	assert.Equal(t, []string{"l5"}, after)

	before, after = surrounding(lines, 1, 6, 5)
	assert.Empty(t, before)
	assert.Empty(t, after)

	before, after = surrounding(nil, 3, 4, 5)
	assert.Nil(t, before)
	assert.Nil(t, after)
}

func TestDeepSearchEmptyIndex(t *testing.T) {
	f := newFixture(t, nil, nil)
	resp, err := f.engine.DeepSearch(context.Background(), "anything", Options{})
	require.NoError(t, err)
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
	assert.False(t, resp.Degraded)
}

func TestDeepSearchInvalidQuery(t *testing.T) {
	f := newFixture(t, sampleChunks(), nil)
	_, err := f.engine.DeepSearch(context.Background(), "   ", Options{})
	assert.ErrorIs(t, err, types.ErrInvalidQuery)
}

func TestDeepSearchFindsChunk(t *testing.T) {
	f := newFixture(t, sampleChunks(), nil)
	resp, err := f.engine.DeepSearch(context.Background(), "add numbers", Options{Top: 5})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.False(t, resp.Degraded)

	found := false
	for _, r := range resp.Results {
		require.NotNil(t, r.RerankScores)
		require.NotNil(t, r.Enhanced)
		assert.NotEmpty(t, r.Enhanced.Summary)
		if r.Metadata.Name == "add" && strings.HasSuffix(r.FilePath, "add.ts") {
			found = true
		}
	}
	assert.True(t, found)

	for i := 1; i < len(resp.Results); i++ {
		assert.GreaterOrEqual(t, resp.Results[i-1].FinalScore, resp.Results[i].FinalScore)
	}
}

func TestDeepSearchFilters(t *testing.T) {
	f := newFixture(t, sampleChunks(), nil)
	resp, err := f.engine.DeepSearch(context.Background(), "function", Options{
		Filters: types.SearchFilters{Packages: []string{"http"}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	for _, r := range resp.Results {
		assert.True(t, strings.HasPrefix(r.FilePath, "src/http/"), r.FilePath)
	}

	resp, err = f.engine.DeepSearch(context.Background(), "function", Options{
		Filters: types.SearchFilters{FileTypes: []string{"go"}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "wrap", resp.Results[0].Metadata.Name)
	assert.Contains(t, resp.Results[0].Enhanced.Patterns, PatternErrorHandling)
}

func TestDeepSearchCacheDeterminism(t *testing.T) {
	f := newFixture(t, sampleChunks(), nil)
	ctx := context.Background()

	first, err := f.engine.DeepSearch(ctx, "fetch user over http", Options{Top: 5})
	require.NoError(t, err)
	calls := f.query.calls.Load()

	second, err := f.engine.DeepSearch(ctx, "fetch user over http", Options{Top: 5})
	require.NoError(t, err)

	assert.False(t, first.CacheHit)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Results, second.Results)
	assert.Equal(t, calls, f.query.calls.Load())

	// Mutating a returned result does not leak into the cache
	second.Results[0].Metadata.Name = "changed"
	third, err := f.engine.DeepSearch(ctx, "fetch user over http", Options{Top: 5})
	require.NoError(t, err)
	assert.Equal(t, first.Results, third.Results)

	stats := f.engine.Analytics()
	assert.Equal(t, int64(3), stats.TotalQueries)
	assert.Equal(t, int64(2), stats.CacheHits)
	assert.InDelta(t, 2.0/3.0, stats.CacheHitRate, 1e-9)
	require.NotEmpty(t, stats.TopQueries)
	assert.Equal(t, QueryCount{Query: "fetch user over http", Count: 3}, stats.TopQueries[0])

	f.engine.ClearCache()
	assert.Zero(t, f.engine.CacheLen())
	fourth, err := f.engine.DeepSearch(ctx, "fetch user over http", Options{Top: 5})
	require.NoError(t, err)
	assert.False(t, fourth.CacheHit)
}

func TestDeepSearchVariantFailureDegrades(t *testing.T) {
	f := newFixture(t, sampleChunks(), nil)
	f.query.fail = func(text string) bool { return strings.HasSuffix(text, IntentGeneral) }

	resp, err := f.engine.DeepSearch(context.Background(), "add numbers", Options{})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.NotEmpty(t, resp.Results)
	assert.Equal(t, int64(1), f.engine.Analytics().DegradedQueries)

	// Degraded responses are not cached
	resp, err = f.engine.DeepSearch(context.Background(), "add numbers", Options{})
	require.NoError(t, err)
	assert.False(t, resp.CacheHit)
}

func TestDeepSearchAllVariantsFail(t *testing.T) {
	f := newFixture(t, sampleChunks(), nil)
	f.query.fail = func(string) bool { return true }

	resp, err := f.engine.DeepSearch(context.Background(), "add numbers", Options{})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.Empty(t, resp.Results)
}

func TestDeepSearchTimeout(t *testing.T) {
	chunks := sampleChunks()
	f := newFixture(t, chunks, nil)
	f.query.delay = 200 * time.Millisecond

	engine, err := New(Deps{
		Index:    f.catalog,
		Chunks:   f.chunks,
		Embedder: f.query,
	}, Config{QueryTimeout: 20 * time.Millisecond})
	require.NoError(t, err)

	resp, err := engine.DeepSearch(context.Background(), "add numbers", Options{})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.Empty(t, resp.Results)
}

func TestDeepSearchCallerCancel(t *testing.T) {
	f := newFixture(t, sampleChunks(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.engine.DeepSearch(ctx, "add numbers", Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDeepSearchNearDuplicateDiversity(t *testing.T) {
	var chunks []types.CodeChunk
	for i := 0; i < 4; i++ {
		chunks = append(chunks, testChunk("src/dup/same.ts", i*40, i+1, i+1,
			fmt.Sprintf("handler%d", i), fmt.Sprintf("export function handler%d() { return parse(input) }", i)))
	}
	f := newFixture(t, chunks, nil)

	resp, err := f.engine.DeepSearch(context.Background(), "handler parse input", Options{MaxResults: 4})
	require.NoError(t, err)
	require.Len(t, resp.Results, 4)

	low := 0
	for _, r := range resp.Results {
		if r.DiversityScore < 0.2 {
			low++
		}
	}
	assert.Equal(t, 3, low)
}

func TestDeepSearchGraphSignals(t *testing.T) {
	ctx := context.Background()
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := graph.NewSQLStore(db)

	chunks := sampleChunks()
	chunks[3].Metadata.Dependencies = []string{"add"}
	_, err = graph.NewBuilder(nil).Build(ctx, store, chunks, nil)
	require.NoError(t, err)

	f := newFixture(t, chunks, store)
	resp, err := f.engine.DeepSearch(ctx, "listen add", Options{Top: 5})
	require.NoError(t, err)
	assert.False(t, resp.Degraded)

	var listen *types.SemanticSearchResult
	for i := range resp.Results {
		if resp.Results[i].Metadata.Name == "listen" {
			listen = &resp.Results[i]
		}
	}
	require.NotNil(t, listen)
	require.NotNil(t, listen.Graph)
	require.Len(t, listen.Graph.RelatedEntities, 1)
	assert.Equal(t, "add", listen.Graph.RelatedEntities[0].Name)
	assert.InDelta(t, 1.0, listen.Graph.RelationshipScore, 1e-9)
	assert.InDelta(t, graph.Centrality(1), listen.Graph.Centrality, 1e-9)
	assert.Greater(t, listen.RerankScores.Graph, 0.0)
}

func TestNewRequiresDeps(t *testing.T) {
	_, err := New(Deps{}, Config{})
	assert.Error(t, err)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, DefaultWeights(), cfg.Weights)
}
