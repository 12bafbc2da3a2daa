package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"

	"github.com/dshills/reposearch/internal/chunker"
	"github.com/dshills/reposearch/internal/embedder"
	"github.com/dshills/reposearch/internal/graph"
	"github.com/dshills/reposearch/internal/incremental"
	"github.com/dshills/reposearch/internal/quality"
	"github.com/dshills/reposearch/internal/searcher"
	"github.com/dshills/reposearch/internal/storage"
	"github.com/dshills/reposearch/internal/vectorindex"
	"github.com/dshills/reposearch/pkg/types"
)

// Deps are the collaborators a Service is built from. Storage and Embedder
// are required; the rest have defaults.
type Deps struct {
	Storage   storage.Storage
	Embedder  embedder.Embedder
	Index     vectorindex.Index // default in-memory Flat
	Graph     graph.Store       // default SQL store over Storage
	Extractor *chunker.Extractor
	Gate      *quality.Gate
	Manifest  *incremental.Manager
	Logger    *slog.Logger
}

// Config tunes the Service
type Config struct {
	Root             string // resolves root-relative chunk paths, default "."
	BatchSize        int    // embedding batch size, default embedder.DefaultBatchSize
	Pipeline         embedder.PipelineConfig
	Retry            embedder.RetryConfig // zero uses embedder.DefaultRetryConfig
	Search           searcher.Config
	CompactThreshold float64 // default vectorindex.DefaultCompactThreshold
}

// Service is the external interface of the search system. It owns one
// catalog, one graph store and the in-memory chunk map the engine reads.
//
// Runs do their extraction, embedding and storage writes outside mu, then
// apply catalog, chunk map and graph changes under the write lock.
// Searches hold the read lock and always see the last applied snapshot.
type Service struct {
	storage   storage.Storage
	embedder  embedder.Embedder
	pipeline  *embedder.Pipeline
	catalog   *vectorindex.Catalog
	graph     graph.Store
	builder   *graph.Builder
	extractor *chunker.Extractor
	gate      *quality.Gate
	manifest  *incremental.Manager
	engine    *searcher.Engine
	logger    *slog.Logger
	cfg       Config

	lock IndexLock

	mu      sync.RWMutex
	root    string
	chunks  map[string]types.CodeChunk
	vectors map[string][]float32
	byFile  map[string]map[string]struct{}
	lastRun *RunStats
}

// New wires a Service
func New(deps Deps, cfg Config) (*Service, error) {
	if deps.Storage == nil {
		return nil, errors.New("indexer: storage is required")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("indexer: %w", embedder.ErrNoProviderEnabled)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.Root == "" {
		cfg.Root = "."
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = embedder.DefaultBatchSize
	}
	if cfg.Retry == (embedder.RetryConfig{}) {
		cfg.Retry = embedder.DefaultRetryConfig()
	}

	dim := deps.Embedder.Dimension()
	if deps.Index == nil {
		deps.Index = vectorindex.NewFlat(dim)
	}
	if deps.Index.Dimension() != dim {
		return nil, fmt.Errorf("%w: index %d, embedder %d", vectorindex.ErrDimensionMismatch, deps.Index.Dimension(), dim)
	}
	if deps.Graph == nil {
		deps.Graph = graph.NewSQLStore(deps.Storage)
	}
	if deps.Extractor == nil {
		deps.Extractor = chunker.New(chunker.Config{}, deps.Logger)
	}
	if deps.Gate == nil {
		deps.Gate = quality.NewGate(quality.Thresholds{})
	}
	if deps.Manifest == nil {
		deps.Manifest = incremental.NewManager(incremental.Config{}, deps.Extractor, deps.Logger)
	}

	pipeline, err := embedder.NewPipeline(deps.Embedder, cfg.Pipeline, deps.Logger)
	if err != nil {
		return nil, err
	}

	s := &Service{
		storage:   deps.Storage,
		embedder:  deps.Embedder,
		pipeline:  pipeline,
		catalog:   vectorindex.NewCatalog(deps.Index, cfg.CompactThreshold),
		graph:     deps.Graph,
		builder:   graph.NewBuilder(deps.Logger),
		extractor: deps.Extractor,
		gate:      deps.Gate,
		manifest:  deps.Manifest,
		logger:    deps.Logger.With("component", "indexer"),
		cfg:       cfg,
		root:      cfg.Root,
		chunks:    make(map[string]types.CodeChunk),
		vectors:   make(map[string][]float32),
		byFile:    make(map[string]map[string]struct{}),
	}

	engine, err := searcher.New(searcher.Deps{
		Index:    s.catalog,
		Chunks:   snapshotView{s},
		Graph:    s.graph,
		Embedder: embedder.NewQueryEmbedder(deps.Embedder, cfg.Retry),
		Source:   rootReader{s},
		Logger:   deps.Logger,
	}, cfg.Search)
	if err != nil {
		pipeline.Release()
		return nil, err
	}
	s.engine = engine
	return s, nil
}

// Close releases the embedding workers. Injected dependencies are closed
// by their owner.
func (s *Service) Close() error {
	s.pipeline.Release()
	return nil
}

// Engine returns the search engine
func (s *Service) Engine() *searcher.Engine {
	return s.engine
}

// Load restores chunks, vectors and the indexed root from storage. The
// catalog is rebuilt from scratch in storage order so rows match across
// restarts.
func (s *Service) Load(ctx context.Context) (int, error) {
	if !s.lock.TryAcquire() {
		return 0, types.ErrIndexingInProgress
	}
	defer s.lock.Release()

	chunks, err := s.storage.ListChunks(ctx)
	if err != nil {
		return 0, fmt.Errorf("load chunks: %w", err)
	}
	embs, err := s.storage.ListEmbeddings(ctx)
	if err != nil {
		return 0, fmt.Errorf("load embeddings: %w", err)
	}

	byID := make(map[string]types.CodeChunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	dim := s.catalog.Dimension()
	ids := make([]string, 0, len(embs))
	vecs := make([][]float32, 0, len(embs))
	skipped := 0
	for _, e := range embs {
		if _, ok := byID[e.ChunkID]; !ok || len(e.Vector) != dim {
			skipped++
			continue
		}
		ids = append(ids, e.ChunkID)
		vecs = append(vecs, e.Vector)
	}
	if skipped > 0 {
		s.logger.Warn("skipped stored embeddings", "count", skipped, "dimension", dim)
	}

	root, err := s.storage.GetMeta(ctx, storage.MetaRoot)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		root = ""
	case err != nil:
		return 0, fmt.Errorf("load root: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if root != "" {
		s.root = root
	}
	if err := s.catalog.Clear(ctx); err != nil {
		return 0, fmt.Errorf("reset catalog: %w", err)
	}
	s.resetMapsLocked()
	if err := s.catalog.Add(ctx, ids, vecs); err != nil {
		return 0, fmt.Errorf("load catalog: %w", err)
	}
	for i, id := range ids {
		s.putLocked(byID[id], vecs[i])
	}
	s.engine.ClearCache()

	if err := s.manifest.Load(); err != nil {
		return len(ids), err
	}
	s.logger.Info("index loaded", "chunks", len(ids))
	return len(ids), nil
}

// Search runs the hybrid engine and returns plain results. Results whose
// similarity score is below the threshold are dropped.
func (s *Service) Search(ctx context.Context, q types.SearchQuery) ([]types.SearchResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	resp, err := s.DeepSearch(ctx, q.Query, searcher.Options{
		Top:        q.Options.Top,
		MaxResults: q.Options.Top,
		Filters:    q.Filters,
	})
	if err != nil {
		return nil, err
	}

	out := make([]types.SearchResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.Score < q.Options.Threshold {
			continue
		}
		res := r.SearchResult
		if !q.Options.IncludeContext {
			res.Context = types.ResultContext{}
		}
		out = append(out, res)
	}
	return out, nil
}

// DeepSearch passes through to the engine under the read lock
func (s *Service) DeepSearch(ctx context.Context, query string, opts searcher.Options) (*types.SearchResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine.DeepSearch(ctx, query, opts)
}

// ClearCache empties the engine's query cache
func (s *Service) ClearCache() {
	s.engine.ClearCache()
}

// Status reports the state of the index
type Status struct {
	Root          string                     `json:"root"`
	Chunks        int                        `json:"chunks"`
	Files         int                        `json:"files"`
	LiveRows      int                        `json:"liveRows"`
	DeadRows      int                        `json:"deadRows"`
	ManifestFiles int                        `json:"manifestFiles"`
	Indexing      bool                       `json:"indexing"`
	Provider      string                     `json:"provider"`
	Model         string                     `json:"model"`
	Dimension     int                        `json:"dimension"`
	LastRun       *RunStats                  `json:"lastRun,omitempty"`
	Analytics     searcher.AnalyticsSnapshot `json:"analytics"`
	Storage       *storage.Status            `json:"storage,omitempty"`
}

// Status returns a snapshot of index statistics. Storage statistics are
// omitted while a run holds the database.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	indexing := s.lock.Held()

	s.mu.RLock()
	st := &Status{
		Root:          s.root,
		Chunks:        len(s.chunks),
		Files:         len(s.byFile),
		LiveRows:      s.catalog.Live(),
		DeadRows:      s.catalog.Dead(),
		ManifestFiles: s.manifest.Files(),
		Indexing:      indexing,
		Provider:      s.embedder.Provider(),
		Model:         s.embedder.Model(),
		Dimension:     s.embedder.Dimension(),
		LastRun:       s.lastRun,
		Analytics:     s.engine.Analytics(),
	}
	s.mu.RUnlock()

	if !indexing {
		dbStatus, err := s.storage.GetStatus(ctx)
		if err != nil {
			return nil, fmt.Errorf("storage status: %w", err)
		}
		st.Storage = dbStatus
	}
	return st, nil
}

// idsForFiles returns the chunk ids currently indexed for paths, sorted
func (s *Service) idsForFiles(paths []string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for _, p := range paths {
		for id := range s.byFile[p] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// idsMatching returns the chunk ids whose file passes filter, sorted
func (s *Service) idsMatching(filter string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for path, set := range s.byFile {
		if !chunker.MatchFilter(path, filter) {
			continue
		}
		for id := range set {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// persist replaces removed chunks with chunks in one storage transaction
// and records root as the directory the stored paths are relative to
func (s *Service) persist(ctx context.Context, root string, removed []string, chunks []types.CodeChunk, vectors [][]float32) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve root: %w", err)
	}
	tx, err := s.storage.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.SetMeta(ctx, storage.MetaRoot, absRoot); err != nil {
		return fmt.Errorf("store root: %w", err)
	}

	if len(removed) > 0 {
		if _, err := tx.DeleteChunks(ctx, removed); err != nil {
			return fmt.Errorf("delete superseded chunks: %w", err)
		}
	}
	if len(chunks) > 0 {
		if err := tx.UpsertChunks(ctx, chunks); err != nil {
			return fmt.Errorf("store chunks: %w", err)
		}
		embs := make([]storage.Embedding, len(chunks))
		for i := range chunks {
			embs[i] = storage.Embedding{
				ChunkID:   chunks[i].ID,
				Vector:    vectors[i],
				Dimension: len(vectors[i]),
				Provider:  s.embedder.Provider(),
				Model:     s.embedder.Model(),
			}
		}
		if err := tx.UpsertEmbeddings(ctx, embs); err != nil {
			return fmt.Errorf("store embeddings: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// applyLocked swaps removed chunks for added ones in the catalog, chunk
// map and graph. Must hold s.mu for writing.
func (s *Service) applyLocked(ctx context.Context, removed []string, added []types.CodeChunk, vectors [][]float32) (graph.BuildStats, error) {
	var stats graph.BuildStats

	switch {
	case len(removed) == 0:
	case s.coversAllLocked(removed):
		if err := s.catalog.Clear(ctx); err != nil {
			return stats, fmt.Errorf("reset catalog: %w", err)
		}
		if err := s.graph.Clear(ctx); err != nil {
			return stats, fmt.Errorf("reset graph: %w", err)
		}
		s.resetMapsLocked()
	default:
		s.catalog.Tombstone(removed...)
		for _, id := range removed {
			s.dropLocked(id)
		}
		if err := s.graph.RemoveChunks(ctx, removed); err != nil {
			return stats, fmt.Errorf("remove graph nodes: %w", err)
		}
	}

	if len(added) > 0 {
		ids := make([]string, len(added))
		for i := range added {
			ids[i] = added[i].ID
		}
		if err := s.catalog.Add(ctx, ids, vectors); err != nil {
			return stats, fmt.Errorf("update catalog: %w", err)
		}
		for i := range added {
			s.putLocked(added[i], vectors[i])
		}

		isAdded := make(map[string]struct{}, len(added))
		for _, id := range ids {
			isAdded[id] = struct{}{}
		}
		existing := make([]types.CodeChunk, 0, len(s.chunks))
		for id, c := range s.chunks {
			if _, ok := isAdded[id]; !ok {
				existing = append(existing, c)
			}
		}
		sort.Slice(existing, func(i, j int) bool { return existing[i].ID < existing[j].ID })

		var err error
		stats, err = s.builder.Build(ctx, s.graph, added, existing)
		if err != nil {
			return stats, fmt.Errorf("build graph: %w", err)
		}
	}

	if s.catalog.NeedsRebuild() {
		s.logger.Info("compacting catalog", "dead", s.catalog.Dead(), "live", s.catalog.Live())
		if err := s.catalog.Rebuild(ctx, func(id string) ([]float32, bool) {
			v, ok := s.vectors[id]
			return v, ok
		}); err != nil {
			return stats, fmt.Errorf("rebuild catalog: %w", err)
		}
	}

	s.engine.ClearCache()
	return stats, nil
}

// coversAllLocked reports whether ids include every indexed chunk
func (s *Service) coversAllLocked(ids []string) bool {
	if len(s.chunks) == 0 {
		return false
	}
	n := 0
	for _, id := range ids {
		if _, ok := s.chunks[id]; ok {
			n++
		}
	}
	return n == len(s.chunks)
}

func (s *Service) putLocked(c types.CodeChunk, vec []float32) {
	s.chunks[c.ID] = c
	s.vectors[c.ID] = vec
	set, ok := s.byFile[c.FilePath]
	if !ok {
		set = make(map[string]struct{})
		s.byFile[c.FilePath] = set
	}
	set[c.ID] = struct{}{}
}

func (s *Service) dropLocked(id string) {
	c, ok := s.chunks[id]
	if !ok {
		return
	}
	delete(s.chunks, id)
	delete(s.vectors, id)
	if set := s.byFile[c.FilePath]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(s.byFile, c.FilePath)
		}
	}
}

func (s *Service) resetMapsLocked() {
	s.chunks = make(map[string]types.CodeChunk)
	s.vectors = make(map[string][]float32)
	s.byFile = make(map[string]map[string]struct{})
}

// snapshotView exposes the chunk map to the engine. The engine only runs
// inside DeepSearch, which holds s.mu for reading.
type snapshotView struct {
	s *Service
}

func (v snapshotView) Chunk(id string) (types.CodeChunk, bool) {
	c, ok := v.s.chunks[id]
	return c, ok
}

func (v snapshotView) Vector(id string) ([]float32, bool) {
	vec, ok := v.s.vectors[id]
	return vec, ok
}

// rootReader reads chunk sources relative to the last indexed root
type rootReader struct {
	s *Service
}

func (r rootReader) ReadLines(path string) ([]string, error) {
	return searcher.FileReader{Root: r.s.root}.ReadLines(path)
}

// relPath converts a file argument to a root-relative, slash-separated path
func relPath(root, path string) (string, error) {
	if !filepath.IsAbs(path) {
		return filepath.ToSlash(filepath.Clean(path)), nil
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(absRoot, path)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}
