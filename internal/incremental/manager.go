package incremental

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dshills/reposearch/internal/chunker"
	"github.com/dshills/reposearch/pkg/types"
)

// Status classifies a file change
type Status string

const (
	StatusAdded    Status = "added"
	StatusModified Status = "modified"
	StatusDeleted  Status = "deleted"
)

// FileChange is one file that differs from the manifest
type FileChange struct {
	Path    string // root-relative, slash-separated
	Status  Status
	Hash    string // empty for deletions
	ModTime time.Time
	Size    int64
}

// Extractor discovers and chunks files. *chunker.Extractor satisfies it.
type Extractor interface {
	Discover(ctx context.Context, root, filter string) ([]string, error)
	ExtractFiles(ctx context.Context, root string, files []string) (*chunker.Result, error)
}

// Config configures a Manager
type Config struct {
	ManifestPath string   // default DefaultManifestPath
	Extensions   []string // optional extra restriction on discovered files
}

// UpdateOptions drive one incremental update
type UpdateOptions struct {
	Root   string
	Filter string

	// Keep narrows extracted chunks before embedding, e.g. the quality gate
	Keep func([]types.CodeChunk) []types.CodeChunk

	// Embed returns one vector per chunk in order
	Embed func(ctx context.Context, chunks []types.CodeChunk) ([][]float32, error)

	// Apply persists the result. The manifest is only saved when Apply
	// succeeds, so a failed write is retried on the next run.
	Apply func(ctx context.Context, res *UpdateResult) error
}

// UpdateResult is the outcome of ExecuteIncrementalUpdate
type UpdateResult struct {
	Changes    []FileChange
	Chunks     []types.CodeChunk
	Embeddings [][]float32
	Extract    *chunker.Result
}

// Paths returns the paths of changes with the given statuses
func (r *UpdateResult) Paths(statuses ...Status) []string {
	var out []string
	for _, c := range r.Changes {
		for _, s := range statuses {
			if c.Status == s {
				out = append(out, c.Path)
				break
			}
		}
	}
	return out
}

// Manager tracks which files have been indexed and at what content hash
type Manager struct {
	path       string
	extensions map[string]struct{}
	extractor  Extractor
	logger     *slog.Logger

	mu       sync.Mutex
	manifest *Manifest
}

// NewManager creates a manager with an empty manifest. Call Load to read
// the manifest from disk.
func NewManager(cfg Config, extractor Extractor, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ManifestPath == "" {
		cfg.ManifestPath = DefaultManifestPath
	}
	m := &Manager{
		path:      cfg.ManifestPath,
		extractor: extractor,
		logger:    logger.With("component", "incremental"),
		manifest:  newManifest(),
	}
	if len(cfg.Extensions) > 0 {
		m.extensions = make(map[string]struct{}, len(cfg.Extensions))
		for _, ext := range cfg.Extensions {
			ext = strings.ToLower(ext)
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			m.extensions[ext] = struct{}{}
		}
	}
	return m
}

// Path returns the manifest location
func (m *Manager) Path() string {
	return m.path
}

// Load reads the manifest. A missing or corrupt manifest is replaced by an
// empty one.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	manifest, err := readManifest(m.path)
	switch {
	case err == nil:
		m.manifest = manifest
	case errors.Is(err, fs.ErrNotExist):
		m.manifest = newManifest()
	default:
		m.logger.Warn("manifest unreadable, starting empty", "path", m.path, "error", err)
		m.manifest = newManifest()
	}
	return nil
}

// Files returns the number of tracked files
func (m *Manager) Files() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.manifest.Files)
}

// Entry returns the manifest entry for path
func (m *Manager) Entry(path string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.manifest.Files[path]
	return e, ok
}

// DetectChanges compares root with the manifest. It does not modify the
// manifest.
func (m *Manager) DetectChanges(ctx context.Context, root, filter string) ([]FileChange, error) {
	m.mu.Lock()
	snapshot := m.manifest.clone()
	m.mu.Unlock()

	return m.detect(ctx, root, filter, snapshot)
}

func (m *Manager) detect(ctx context.Context, root, filter string, manifest *Manifest) ([]FileChange, error) {
	files, err := m.extractor.Discover(ctx, root, filter)
	if err != nil {
		return nil, fmt.Errorf("discover files: %w", err)
	}

	var changes []FileChange
	seen := make(map[string]struct{}, len(files))
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !m.allowed(rel) {
			continue
		}
		seen[rel] = struct{}{}

		abs := filepath.Join(root, filepath.FromSlash(rel))
		info, err := os.Stat(abs)
		if err != nil {
			m.logger.Warn("failed to stat file", "path", rel, "error", err)
			continue
		}
		hash, err := HashFile(abs)
		if err != nil {
			m.logger.Warn("failed to hash file", "path", rel, "error", err)
			continue
		}

		change := FileChange{Path: rel, Hash: hash, ModTime: info.ModTime(), Size: info.Size()}
		entry, ok := manifest.Files[rel]
		switch {
		case !ok:
			change.Status = StatusAdded
		case entry.Hash != hash, info.ModTime().After(entry.ModTime):
			change.Status = StatusModified
		default:
			continue
		}
		changes = append(changes, change)
	}

	for rel := range manifest.Files {
		if _, ok := seen[rel]; ok {
			continue
		}
		if !chunker.MatchFilter(rel, filter) || !m.allowed(rel) {
			continue
		}
		_, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel)))
		if err == nil || !errors.Is(err, fs.ErrNotExist) {
			continue
		}
		changes = append(changes, FileChange{Path: rel, Status: StatusDeleted})
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes, nil
}

// ExecuteIncrementalUpdate detects changes, extracts and embeds added and
// modified files, lets the caller apply the result, then saves the
// manifest. Deleted files are reported in the result for the caller to
// remove.
func (m *Manager) ExecuteIncrementalUpdate(ctx context.Context, opts UpdateOptions) (*UpdateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	changes, err := m.detect(ctx, opts.Root, opts.Filter, m.manifest)
	if err != nil {
		return nil, err
	}
	res := &UpdateResult{Changes: changes}

	toExtract := res.Paths(StatusAdded, StatusModified)
	if len(toExtract) > 0 {
		extracted, err := m.extractor.ExtractFiles(ctx, opts.Root, toExtract)
		if err != nil {
			return nil, fmt.Errorf("extract changed files: %w", err)
		}
		res.Extract = extracted
		res.Chunks = extracted.Chunks
		if opts.Keep != nil {
			res.Chunks = opts.Keep(res.Chunks)
		}
	}

	if len(res.Chunks) > 0 && opts.Embed != nil {
		vectors, err := opts.Embed(ctx, res.Chunks)
		if err != nil {
			return nil, fmt.Errorf("embed changed files: %w", err)
		}
		if len(vectors) != len(res.Chunks) {
			return nil, fmt.Errorf("embed changed files: %d vectors for %d chunks", len(vectors), len(res.Chunks))
		}
		res.Embeddings = vectors
	}

	if opts.Apply != nil {
		if err := opts.Apply(ctx, res); err != nil {
			return nil, err
		}
	}

	if len(changes) == 0 {
		return res, nil
	}

	next := m.manifest.clone()
	perFile := make(map[string]int)
	for i := range res.Chunks {
		perFile[res.Chunks[i].FilePath]++
	}
	for _, c := range changes {
		if c.Status == StatusDeleted {
			delete(next.Files, c.Path)
			continue
		}
		next.Files[c.Path] = Entry{Hash: c.Hash, ModTime: c.ModTime, Size: c.Size, ChunkCount: perFile[c.Path]}
	}
	if err := m.save(next); err != nil {
		return nil, err
	}

	m.logger.Info("incremental update complete",
		"changes", len(changes), "chunks", len(res.Chunks))
	return res, nil
}

// ForceReindex empties the manifest in memory and on disk
func (m *Manager) ForceReindex() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.save(newManifest())
}

// Record hashes one file and stores its entry
func (m *Manager) Record(root, rel string, chunkCount int) error {
	abs := filepath.Join(root, filepath.FromSlash(rel))
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("stat %s: %w", rel, err)
	}
	hash, err := HashFile(abs)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.manifest.clone()
	next.Files[rel] = Entry{Hash: hash, ModTime: info.ModTime(), Size: info.Size(), ChunkCount: chunkCount}
	return m.save(next)
}

// RecordRun replaces every entry matching filter with the given files,
// hashing each, and saves once. It is used after a full run.
func (m *Manager) RecordRun(root, filter string, chunkCounts map[string]int) error {
	files := make(map[string]Entry, len(chunkCounts))
	for rel, n := range chunkCounts {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		info, err := os.Stat(abs)
		if err != nil {
			return fmt.Errorf("stat %s: %w", rel, err)
		}
		hash, err := HashFile(abs)
		if err != nil {
			return err
		}
		files[rel] = Entry{Hash: hash, ModTime: info.ModTime(), Size: info.Size(), ChunkCount: n}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.manifest.clone()
	for rel := range next.Files {
		if chunker.MatchFilter(rel, filter) {
			delete(next.Files, rel)
		}
	}
	for rel, e := range files {
		next.Files[rel] = e
	}
	return m.save(next)
}

// Forget drops the entry for rel
func (m *Manager) Forget(rel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.manifest.Files[rel]; !ok {
		return nil
	}
	next := m.manifest.clone()
	delete(next.Files, rel)
	return m.save(next)
}

// save writes next and makes it current. Must hold m.mu.
func (m *Manager) save(next *Manifest) error {
	next.UpdatedAt = time.Now().UTC()
	if err := writeManifest(m.path, next); err != nil {
		return err
	}
	m.manifest = next
	return nil
}

func (m *Manager) allowed(rel string) bool {
	if m.extensions == nil {
		return true
	}
	_, ok := m.extensions[strings.ToLower(filepath.Ext(rel))]
	return ok
}
