package searcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/reposearch/internal/graph"
	"github.com/dshills/reposearch/internal/vectorindex"
	"github.com/dshills/reposearch/pkg/types"
)

const (
	DefaultTop                = 20
	DefaultContextRadius      = 5
	DefaultDiversityThreshold = 0.7
	DefaultMaxResults         = 10
	DefaultCacheSize          = 256
	DefaultQueryTimeout       = 10 * time.Second

	// filterOverfetch widens each variant search when filters will drop
	// candidates after retrieval
	filterOverfetch = 4

	relatednessDepth = 3
	enrichDepth      = 2
)

// Weights combine the rerank signals
type Weights struct {
	Cosine float64 `json:"cosine" toml:"cosine"`
	BM25   float64 `json:"bm25" toml:"bm25"`
	Neural float64 `json:"neural" toml:"neural"`
	Graph  float64 `json:"graph" toml:"graph"`
}

// DefaultWeights returns cosine 0.3, bm25 0.2, neural 0.3, graph 0.2
func DefaultWeights() Weights {
	return Weights{Cosine: 0.3, BM25: 0.2, Neural: 0.3, Graph: 0.2}
}

// Config holds engine-wide defaults
type Config struct {
	Top                int
	ContextRadius      int
	DiversityThreshold float64
	MaxResults         int
	Weights            Weights
	CacheSize          int
	QueryTimeout       time.Duration
}

// DefaultConfig returns the standard engine configuration
func DefaultConfig() Config {
	return Config{
		Top:                DefaultTop,
		ContextRadius:      DefaultContextRadius,
		DiversityThreshold: DefaultDiversityThreshold,
		MaxResults:         DefaultMaxResults,
		Weights:            DefaultWeights(),
		CacheSize:          DefaultCacheSize,
		QueryTimeout:       DefaultQueryTimeout,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Top <= 0 {
		c.Top = d.Top
	}
	if c.ContextRadius <= 0 {
		c.ContextRadius = d.ContextRadius
	}
	if c.DiversityThreshold <= 0 {
		c.DiversityThreshold = d.DiversityThreshold
	}
	if c.MaxResults <= 0 {
		c.MaxResults = d.MaxResults
	}
	if c.Weights == (Weights{}) {
		c.Weights = d.Weights
	}
	if c.CacheSize <= 0 {
		c.CacheSize = d.CacheSize
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = d.QueryTimeout
	}
	return c
}

// Options override Config for a single query. Zero fields use the engine
// configuration.
type Options struct {
	Top                int                 `json:"top,omitempty"`
	MaxResults         int                 `json:"maxResults,omitempty"`
	DiversityThreshold float64             `json:"diversityThreshold,omitempty"`
	ContextRadius      int                 `json:"contextRadius,omitempty"`
	Weights            *Weights            `json:"weights,omitempty"`
	Filters            types.SearchFilters `json:"filters"`
}

// Candidates is the vector side of retrieval. *vectorindex.Catalog
// satisfies it.
type Candidates interface {
	Search(ctx context.Context, query []float32, k int) ([]vectorindex.Hit, error)
	Live() int
}

// ChunkSource resolves chunk ids to chunks and their stored vectors
type ChunkSource interface {
	Chunk(id string) (types.CodeChunk, bool)
	Vector(id string) ([]float32, bool)
}

// QueryEmbedder embeds query text. *embedder.QueryEmbedder satisfies it.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Deps are the engine collaborators. Index, Chunks and Embedder are
// required; Graph may be nil.
type Deps struct {
	Index    Candidates
	Chunks   ChunkSource
	Graph    graph.Store
	Embedder QueryEmbedder
	Novelty  NoveltyEstimator
	Neural   NeuralScorer
	Source   SourceReader
	Logger   *slog.Logger
}

// Engine runs multi-strategy retrieval, hybrid reranking, enrichment and
// diversity selection over the vector index
type Engine struct {
	index    Candidates
	chunks   ChunkSource
	graph    graph.Store
	embedder QueryEmbedder
	novelty  NoveltyEstimator
	neural   NeuralScorer
	source   SourceReader
	logger   *slog.Logger

	cfg       Config
	cache     *lru.Cache[[32]byte, []types.SemanticSearchResult]
	analytics *analytics
}

// New creates an engine
func New(deps Deps, cfg Config) (*Engine, error) {
	if deps.Index == nil || deps.Chunks == nil || deps.Embedder == nil {
		return nil, errors.New("searcher: index, chunk source and embedder are required")
	}
	cfg = cfg.withDefaults()

	if deps.Novelty == nil {
		deps.Novelty = ConstantNovelty{Value: DefaultNovelty}
	}
	if deps.Neural == nil {
		deps.Neural = NeutralScorer{}
	}
	if deps.Source == nil {
		deps.Source = FileReader{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	cache, err := lru.New[[32]byte, []types.SemanticSearchResult](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create query cache: %w", err)
	}

	return &Engine{
		index:     deps.Index,
		chunks:    deps.Chunks,
		graph:     deps.Graph,
		embedder:  deps.Embedder,
		novelty:   deps.Novelty,
		neural:    deps.Neural,
		source:    deps.Source,
		logger:    deps.Logger.With("component", "searcher"),
		cfg:       cfg,
		cache:     cache,
		analytics: newAnalytics(),
	}, nil
}

// Config returns the effective configuration
func (e *Engine) Config() Config {
	return e.cfg
}

// resolve fills zero options from the engine configuration
func (e *Engine) resolve(opts Options) Options {
	if opts.Top <= 0 {
		opts.Top = e.cfg.Top
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = e.cfg.MaxResults
	}
	if opts.DiversityThreshold <= 0 {
		opts.DiversityThreshold = e.cfg.DiversityThreshold
	}
	if opts.ContextRadius <= 0 {
		opts.ContextRadius = e.cfg.ContextRadius
	}
	if opts.Weights == nil {
		w := e.cfg.Weights
		opts.Weights = &w
	}
	return opts
}

// DeepSearch answers a natural-language query. A well-formed query never
// fails because of a provider, graph or deadline problem: the affected
// stage is skipped and the response is marked Degraded. Only an empty
// query or cancellation of ctx by the caller return an error.
func (e *Engine) DeepSearch(ctx context.Context, query string, opts Options) (*types.SearchResponse, error) {
	start := time.Now()
	if strings.TrimSpace(query) == "" {
		return nil, types.ErrInvalidQuery
	}
	opts = e.resolve(opts)

	key, err := cacheKey(query, opts)
	if err != nil {
		return nil, err
	}
	if cached, ok := e.cache.Get(key); ok {
		elapsed := time.Since(start)
		e.analytics.record(query, elapsed, true, false)
		return &types.SearchResponse{Results: cloneResults(cached), CacheHit: true, Duration: elapsed}, nil
	}

	qctx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	defer cancel()

	results, degraded := e.execute(qctx, query, opts)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !degraded {
		e.cache.Add(key, results)
	}
	elapsed := time.Since(start)
	e.analytics.record(query, elapsed, false, degraded)
	if degraded {
		e.logger.Warn("search degraded", "query", query, "results", len(results))
	}

	return &types.SearchResponse{Results: cloneResults(results), Degraded: degraded, Duration: elapsed}, nil
}

// candidate is a result moving through the pipeline together with its chunk
type candidate struct {
	result types.SemanticSearchResult
	chunk  types.CodeChunk
}

func (e *Engine) execute(ctx context.Context, query string, opts Options) ([]types.SemanticSearchResult, bool) {
	if e.index.Live() == 0 {
		return []types.SemanticSearchResult{}, false
	}

	cands, queryVec, degraded := e.retrieve(ctx, query, opts)
	if len(cands) == 0 || ctx.Err() != nil {
		return partial(cands, opts.MaxResults), degraded || ctx.Err() != nil
	}

	terms := queryTerms(query)
	if e.rerank(ctx, query, terms, queryVec, cands, *opts.Weights) {
		degraded = true
	}
	if ctx.Err() != nil {
		return partial(cands, opts.MaxResults), true
	}

	e.enhance(ctx, cands, opts.ContextRadius)
	if ctx.Err() != nil {
		return partial(cands, opts.MaxResults), true
	}

	if e.attachGraph(ctx, cands, terms) {
		degraded = true
	}
	if ctx.Err() != nil {
		return partial(cands, opts.MaxResults), true
	}

	return diversify(cands, opts.DiversityThreshold, opts.MaxResults, e.novelty), degraded
}

// retrieve runs every query variant against the index and merges hits by
// chunk id keeping the best score. It returns the verbatim query vector for
// reranking.
func (e *Engine) retrieve(ctx context.Context, query string, opts Options) ([]*candidate, []float32, bool) {
	variants := Variants(query)

	k := opts.Top
	if !opts.Filters.Empty() {
		k = min(opts.Top*filterOverfetch, e.index.Live())
	}

	type variantResult struct {
		vector []float32
		hits   []vectorindex.Hit
		err    error
	}
	results := make([]variantResult, len(variants))

	var wg sync.WaitGroup
	for i, v := range variants {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vec, err := e.embedder.EmbedQuery(ctx, v.Text)
			if err != nil {
				results[i].err = err
				return
			}
			results[i].vector = vec
			results[i].hits, results[i].err = e.index.Search(ctx, vec, k)
		}()
	}
	wg.Wait()

	var (
		degraded bool
		queryVec []float32
		merged   = make(map[string]*candidate)
	)
	for i, r := range results {
		if r.err != nil {
			degraded = true
			e.logger.Warn("query variant failed", "variant", variants[i].Name, "error", r.err)
			continue
		}
		if queryVec == nil {
			queryVec = r.vector
		}

		taken := 0
		for _, hit := range r.hits {
			if taken == opts.Top {
				break
			}
			if c, ok := merged[hit.ChunkID]; ok {
				c.result.Score = max(c.result.Score, hit.Score)
				taken++
				continue
			}
			chunk, ok := e.chunks.Chunk(hit.ChunkID)
			if !ok || !opts.Filters.Match(&chunk) {
				continue
			}
			merged[hit.ChunkID] = &candidate{result: newResult(&chunk, hit.Score), chunk: chunk}
			taken++
		}
	}

	cands := make([]*candidate, 0, len(merged))
	for _, c := range merged {
		cands = append(cands, c)
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].result.Score != cands[j].result.Score {
			return cands[i].result.Score > cands[j].result.Score
		}
		return cands[i].result.ID < cands[j].result.ID
	})
	return cands, queryVec, degraded
}

func newResult(c *types.CodeChunk, score float64) types.SemanticSearchResult {
	return types.SemanticSearchResult{
		SearchResult: types.SearchResult{
			ID:        c.ID,
			FilePath:  c.FilePath,
			StartLine: c.StartLine,
			EndLine:   c.EndLine,
			Type:      c.Type,
			Score:     score,
			Snippet:   Snippet(c.Content, SnippetLines),
			Metadata:  c.Clone().Metadata,
		},
		FinalScore: score,
	}
}

// partial returns the candidates in their current order when the pipeline
// stopped early
func partial(cands []*candidate, maxResults int) []types.SemanticSearchResult {
	out := make([]types.SemanticSearchResult, 0, min(len(cands), maxResults))
	for _, c := range cands {
		if len(out) == maxResults {
			break
		}
		r := c.result
		if r.RerankScores != nil {
			r.FinalScore = r.RerankScores.Combined
		}
		out = append(out, r)
	}
	return out
}

// ClearCache drops every cached response
func (e *Engine) ClearCache() {
	e.cache.Purge()
}

// CacheLen returns the number of cached responses
func (e *Engine) CacheLen() int {
	return e.cache.Len()
}

// Analytics returns a snapshot of query statistics
func (e *Engine) Analytics() AnalyticsSnapshot {
	return e.analytics.snapshot(topQueriesLimit)
}

func cloneResults(in []types.SemanticSearchResult) []types.SemanticSearchResult {
	out := make([]types.SemanticSearchResult, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}
