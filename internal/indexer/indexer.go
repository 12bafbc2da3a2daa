package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/reposearch/internal/embedder"
	"github.com/dshills/reposearch/internal/incremental"
	"github.com/dshills/reposearch/internal/quality"
	"github.com/dshills/reposearch/pkg/types"
)

// ErrNotIndexable is returned by Reindex for files without a parser or
// fallback extension
var ErrNotIndexable = errors.New("file type is not indexed")

// Run modes
const (
	ModeFull        = "full"
	ModeIncremental = "incremental"
)

// IndexOptions configure one indexing run
type IndexOptions struct {
	Src         string
	Filter      string
	Incremental bool
	BatchSize   int
	Force       bool // clear the manifest and all index state first
	OnProgress  embedder.ProgressFunc
}

// RunStats summarizes an indexing run
type RunStats struct {
	RunID              string          `json:"runId"`
	Mode               string          `json:"mode"`
	Src                string          `json:"src"`
	StartedAt          time.Time       `json:"startedAt"`
	Duration           time.Duration   `json:"duration"`
	FilesProcessed     int             `json:"filesProcessed"`
	FilesFailed        int             `json:"filesFailed"`
	FilesAdded         int             `json:"filesAdded"`
	FilesModified      int             `json:"filesModified"`
	FilesDeleted       int             `json:"filesDeleted"`
	ChunksExtracted    int             `json:"chunksExtracted"`
	ChunksIndexed      int             `json:"chunksIndexed"`
	ChunksRemoved      int             `json:"chunksRemoved"`
	Quality            quality.Metrics `json:"quality"`
	EmbedFailedBatches int             `json:"embedFailedBatches"`
	EmbedFailedChunks  int             `json:"embedFailedChunks"`
	Nodes              int             `json:"nodes"`
	Edges              int             `json:"edges"`
	Errors             []string        `json:"errors,omitempty"`
}

// IndexRepository indexes opts.Src. Only one run may be in progress; a
// concurrent call fails with types.ErrIndexingInProgress.
func (s *Service) IndexRepository(ctx context.Context, opts IndexOptions) (*RunStats, error) {
	if !s.lock.TryAcquire() {
		return nil, types.ErrIndexingInProgress
	}
	defer s.lock.Release()

	if opts.Src == "" {
		opts.Src = s.cfg.Root
	}
	info, err := os.Stat(opts.Src)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", opts.Src, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source %s is not a directory", opts.Src)
	}

	stats := &RunStats{
		RunID:     uuid.NewString(),
		Mode:      ModeFull,
		Src:       opts.Src,
		StartedAt: time.Now(),
	}
	if opts.Incremental && !opts.Force {
		stats.Mode = ModeIncremental
	}
	logger := s.logger.With("run", stats.RunID)
	logger.Info("indexing started", "src", opts.Src, "mode", stats.Mode, "filter", opts.Filter, "force", opts.Force)

	if opts.Force {
		if err := s.reset(ctx); err != nil {
			return nil, fmt.Errorf("index %s: %w", opts.Src, err)
		}
	}

	if stats.Mode == ModeIncremental {
		err = s.runIncremental(ctx, opts, stats)
	} else {
		err = s.runFull(ctx, opts, stats)
	}
	stats.Duration = time.Since(stats.StartedAt)
	if err != nil {
		logger.Error("indexing failed", "error", err)
		return nil, fmt.Errorf("index %s: %w", opts.Src, err)
	}

	s.mu.Lock()
	s.lastRun = stats
	s.mu.Unlock()

	logger.Info("indexing complete",
		"chunks", stats.ChunksIndexed,
		"removed", stats.ChunksRemoved,
		"embed_failures", stats.EmbedFailedChunks,
		"duration", stats.Duration)
	return stats, nil
}

// reset empties the manifest, storage, catalog and chunk map
func (s *Service) reset(ctx context.Context) error {
	if err := s.manifest.ForceReindex(); err != nil {
		return fmt.Errorf("clear manifest: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.catalog.Clear(ctx); err != nil {
		return fmt.Errorf("clear catalog: %w", err)
	}
	if err := s.storage.Clear(ctx); err != nil {
		return fmt.Errorf("clear storage: %w", err)
	}
	s.resetMapsLocked()
	s.engine.ClearCache()
	return nil
}

func (s *Service) runFull(ctx context.Context, opts IndexOptions, stats *RunStats) error {
	files, err := s.extractor.Discover(ctx, opts.Src, opts.Filter)
	if err != nil {
		return fmt.Errorf("discover files: %w", err)
	}
	res, err := s.extractor.ExtractFiles(ctx, opts.Src, files)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	stats.FilesProcessed = res.FilesProcessed
	stats.FilesFailed = res.FilesFailed
	stats.ChunksExtracted = len(res.Chunks)
	stats.Errors = append(stats.Errors, res.Errors...)

	stats.Quality = s.gate.Analyze(res.Chunks)
	kept := s.gate.Filter(res.Chunks)

	vectors, err := s.embed(ctx, kept, opts, stats)
	if err != nil {
		return err
	}

	removed := s.idsMatching(opts.Filter)
	if err := s.persist(ctx, opts.Src, removed, kept, vectors); err != nil {
		return err
	}
	if err := s.apply(ctx, opts.Src, removed, kept, vectors, stats); err != nil {
		return err
	}

	counts := make(map[string]int, len(files))
	for _, f := range files {
		counts[f] = 0
	}
	for i := range kept {
		counts[kept[i].FilePath]++
	}
	if err := s.manifest.RecordRun(opts.Src, opts.Filter, counts); err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}
	return nil
}

func (s *Service) runIncremental(ctx context.Context, opts IndexOptions, stats *RunStats) error {
	res, err := s.manifest.ExecuteIncrementalUpdate(ctx, incremental.UpdateOptions{
		Root:   opts.Src,
		Filter: opts.Filter,
		Keep: func(chunks []types.CodeChunk) []types.CodeChunk {
			stats.ChunksExtracted = len(chunks)
			stats.Quality = s.gate.Analyze(chunks)
			return s.gate.Filter(chunks)
		},
		Embed: func(ctx context.Context, chunks []types.CodeChunk) ([][]float32, error) {
			return s.embed(ctx, chunks, opts, stats)
		},
		Apply: func(ctx context.Context, res *incremental.UpdateResult) error {
			if len(res.Changes) == 0 {
				return nil
			}
			removed := s.idsForFiles(res.Paths(incremental.StatusAdded, incremental.StatusModified, incremental.StatusDeleted))
			if err := s.persist(ctx, opts.Src, removed, res.Chunks, res.Embeddings); err != nil {
				return err
			}
			return s.apply(ctx, opts.Src, removed, res.Chunks, res.Embeddings, stats)
		},
	})
	if err != nil {
		return err
	}

	stats.FilesAdded = len(res.Paths(incremental.StatusAdded))
	stats.FilesModified = len(res.Paths(incremental.StatusModified))
	stats.FilesDeleted = len(res.Paths(incremental.StatusDeleted))
	if res.Extract != nil {
		stats.FilesProcessed = res.Extract.FilesProcessed
		stats.FilesFailed = res.Extract.FilesFailed
		stats.Errors = append(stats.Errors, res.Extract.Errors...)
	}
	return nil
}

// apply takes the write lock and swaps removed for added
func (s *Service) apply(ctx context.Context, root string, removed []string, added []types.CodeChunk, vectors [][]float32, stats *RunStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.root = root
	build, err := s.applyLocked(ctx, removed, added, vectors)
	if err != nil {
		return err
	}
	stats.ChunksIndexed = len(added)
	stats.ChunksRemoved = len(removed)
	stats.Nodes = build.Nodes
	stats.Edges = build.Edges
	return nil
}

func (s *Service) embed(ctx context.Context, chunks []types.CodeChunk, opts IndexOptions, stats *RunStats) ([][]float32, error) {
	batch := opts.BatchSize
	if batch <= 0 {
		batch = s.cfg.BatchSize
	}
	vectors, report, err := s.pipeline.Embed(ctx, chunks, embedder.PipelineOptions{
		BatchSize:  batch,
		OnProgress: opts.OnProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	stats.EmbedFailedBatches += report.FailedBatches
	stats.EmbedFailedChunks += report.FailedChunks
	stats.Errors = append(stats.Errors, report.Errors...)
	return vectors, nil
}

// Reindex replaces the chunks of one file. A file that no longer exists
// has its chunks removed.
func (s *Service) Reindex(ctx context.Context, path string) error {
	if !s.lock.TryAcquire() {
		return types.ErrIndexingInProgress
	}
	defer s.lock.Release()

	s.mu.RLock()
	root := s.root
	s.mu.RUnlock()

	rel, err := relPath(root, path)
	if err != nil {
		return fmt.Errorf("reindex %s: %w", path, err)
	}
	removed := s.idsForFiles([]string{rel})
	stats := &RunStats{}

	_, err = os.Stat(filepath.Join(root, filepath.FromSlash(rel)))
	if errors.Is(err, fs.ErrNotExist) {
		if err := s.persist(ctx, root, removed, nil, nil); err != nil {
			return fmt.Errorf("reindex %s: %w", rel, err)
		}
		if err := s.apply(ctx, root, removed, nil, nil, stats); err != nil {
			return fmt.Errorf("reindex %s: %w", rel, err)
		}
		s.logger.Info("removed file from index", "path", rel, "chunks", len(removed))
		return s.manifest.Forget(rel)
	}
	if err != nil {
		return fmt.Errorf("reindex %s: %w", rel, err)
	}
	if !s.extractor.Indexable(rel) {
		return fmt.Errorf("%w: %s", ErrNotIndexable, rel)
	}

	chunks, err := s.extractor.ExtractFile(ctx, root, rel)
	if err != nil {
		return fmt.Errorf("reindex %s: %w", rel, err)
	}
	kept := s.gate.Filter(chunks)
	vectors, err := s.embed(ctx, kept, IndexOptions{}, stats)
	if err != nil {
		return fmt.Errorf("reindex %s: %w", rel, err)
	}
	if err := s.persist(ctx, root, removed, kept, vectors); err != nil {
		return fmt.Errorf("reindex %s: %w", rel, err)
	}
	if err := s.apply(ctx, root, removed, kept, vectors, stats); err != nil {
		return fmt.Errorf("reindex %s: %w", rel, err)
	}
	if err := s.manifest.Record(root, rel, len(kept)); err != nil {
		return fmt.Errorf("reindex %s: %w", rel, err)
	}

	s.logger.Info("reindexed file", "path", rel, "chunks", len(kept), "removed", len(removed))
	return nil
}

// RemoveIndex deletes one chunk from the catalog, storage, graph and the
// chunk map
func (s *Service) RemoveIndex(ctx context.Context, id string) error {
	if !s.lock.TryAcquire() {
		return types.ErrIndexingInProgress
	}
	defer s.lock.Release()

	s.mu.RLock()
	_, ok := s.chunks[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrChunkNotFound, id)
	}

	root := s.currentRoot()
	removed := []string{id}
	if err := s.persist(ctx, root, removed, nil, nil); err != nil {
		return err
	}
	return s.apply(ctx, root, removed, nil, nil, &RunStats{})
}

// Root returns the directory chunk paths are relative to
func (s *Service) Root() string {
	return s.currentRoot()
}

func (s *Service) currentRoot() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root
}
