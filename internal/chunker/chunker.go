package chunker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/reposearch/internal/parser"
	"github.com/dshills/reposearch/pkg/types"
)

// DefaultMaxFileSize skips generated or minified files above 1 MiB
const DefaultMaxFileSize = 1 << 20

// Config controls discovery and extraction
type Config struct {
	IgnoreDirs         []string // added to DefaultIgnoreDirs
	FallbackExtensions []string // default DefaultFallbackExtensions
	Workers            int      // default runtime.NumCPU()
	MaxFileSize        int64    // default DefaultMaxFileSize; negative disables
}

// Result is the outcome of extracting a set of files
type Result struct {
	Chunks         []types.CodeChunk
	FilesProcessed int
	FilesFailed    int
	Errors         []string
}

// Extractor turns source files into CodeChunks
type Extractor struct {
	parser     *parser.Parser
	cfg        Config
	ignore     map[string]struct{}
	extensions map[string]struct{}
	logger     *slog.Logger
}

// New creates an Extractor. A nil logger uses slog.Default().
func New(cfg Config, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.MaxFileSize == 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if cfg.FallbackExtensions == nil {
		cfg.FallbackExtensions = DefaultFallbackExtensions
	}

	e := &Extractor{
		parser:     parser.New(),
		cfg:        cfg,
		ignore:     make(map[string]struct{}),
		extensions: make(map[string]struct{}),
		logger:     logger.With("component", "chunker"),
	}
	for _, d := range DefaultIgnoreDirs {
		e.ignore[d] = struct{}{}
	}
	for _, d := range cfg.IgnoreDirs {
		e.ignore[d] = struct{}{}
	}
	for _, ext := range e.parser.Extensions() {
		e.extensions[ext] = struct{}{}
	}
	for _, ext := range cfg.FallbackExtensions {
		e.extensions[strings.ToLower(ext)] = struct{}{}
	}
	return e
}

// Extract walks root and chunks every indexable file that passes filter.
// Unreadable files are logged and skipped; walk errors abort.
func (e *Extractor) Extract(ctx context.Context, root, filter string) ([]types.CodeChunk, error) {
	files, err := e.Discover(ctx, root, filter)
	if err != nil {
		return nil, fmt.Errorf("discover files: %w", err)
	}
	res, err := e.ExtractFiles(ctx, root, files)
	if err != nil {
		return nil, err
	}
	return res.Chunks, nil
}

// ExtractFiles chunks the given root-relative files in parallel. Output is
// sorted by file path and then by start offset, so it does not depend on
// scheduling.
func (e *Extractor) ExtractFiles(ctx context.Context, root string, files []string) (*Result, error) {
	var (
		mu        sync.Mutex
		processed int32
		failed    int32
		res       = &Result{}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)

	for _, rel := range files {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			chunks, err := e.ExtractFile(gctx, root, rel)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				atomic.AddInt32(&failed, 1)
				e.logger.Warn("failed to extract file", "path", rel, "error", err)
				mu.Lock()
				res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", rel, err))
				mu.Unlock()
				return nil
			}
			atomic.AddInt32(&processed, 1)
			mu.Lock()
			res.Chunks = append(res.Chunks, chunks...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sortChunks(res.Chunks)
	sort.Strings(res.Errors)
	res.FilesProcessed = int(processed)
	res.FilesFailed = int(failed)
	return res, nil
}

// ExtractFile chunks a single root-relative file
func (e *Extractor) ExtractFile(ctx context.Context, root, rel string) ([]types.CodeChunk, error) {
	src, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return e.ChunkSource(ctx, rel, src)
}

// ChunkSource creates chunks from already-loaded source. Files without a
// structural parser, or with no declarations, become one whole-file chunk.
func (e *Extractor) ChunkSource(ctx context.Context, rel string, src []byte) ([]types.CodeChunk, error) {
	if len(src) == 0 {
		return nil, nil
	}

	if !e.parser.Supports(rel) {
		return []types.CodeChunk{fileChunk(rel, src)}, nil
	}

	parsed, err := e.parser.Parse(ctx, rel, src)
	if err != nil {
		return nil, err
	}
	if parsed.HasErrors() {
		e.logger.Debug("syntax errors in file", "path", rel, "errors", len(parsed.Errors))
	}

	chunks := make([]types.CodeChunk, 0, len(parsed.Declarations))
	for i := range parsed.Declarations {
		if c, ok := declChunk(rel, src, &parsed.Declarations[i]); ok {
			chunks = append(chunks, c)
		}
	}

	if len(chunks) == 0 {
		chunks = append(chunks, fileChunk(rel, src))
	}
	return chunks, nil
}

// declChunk creates a chunk for a parsed declaration
func declChunk(rel string, src []byte, d *types.Declaration) (types.CodeChunk, bool) {
	if d.StartByte < 0 || d.EndByte > len(src) || d.StartByte >= d.EndByte {
		return types.CodeChunk{}, false
	}
	if d.StartLine <= 0 || d.EndLine < d.StartLine {
		return types.CodeChunk{}, false
	}

	complexity := d.Complexity
	if complexity < 1 {
		complexity = 1
	}

	return types.CodeChunk{
		ID:        types.ChunkID(rel, d.StartByte),
		Content:   string(src[d.StartByte:d.EndByte]),
		FilePath:  rel,
		StartLine: d.StartLine,
		EndLine:   d.EndLine,
		Type:      d.Kind,
		Metadata: types.ChunkMetadata{
			Name:         d.Name,
			Parameters:   d.Parameters,
			ReturnType:   d.ReturnType,
			Dependencies: Dependencies(d.Identifiers),
			Complexity:   complexity,
			Description:  d.Doc,
		},
	}, true
}

// fileChunk creates the whole-file fallback chunk
func fileChunk(rel string, src []byte) types.CodeChunk {
	text := string(src)
	lines := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		lines++
	}
	if lines < 1 {
		lines = 1
	}

	return types.CodeChunk{
		ID:        types.ChunkID(rel, 0),
		Content:   text,
		FilePath:  rel,
		StartLine: 1,
		EndLine:   lines,
		Type:      types.ChunkFile,
		Metadata: types.ChunkMetadata{
			Name:         filepath.Base(rel),
			Dependencies: Dependencies(ScanIdentifiers(text)),
			Complexity:   Complexity(text),
		},
	}
}

func sortChunks(chunks []types.CodeChunk) {
	sort.Slice(chunks, func(i, j int) bool {
		if chunks[i].FilePath != chunks[j].FilePath {
			return chunks[i].FilePath < chunks[j].FilePath
		}
		if chunks[i].StartLine != chunks[j].StartLine {
			return chunks[i].StartLine < chunks[j].StartLine
		}
		return chunks[i].ID < chunks[j].ID
	})
}
