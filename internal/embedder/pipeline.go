package embedder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/time/rate"

	"github.com/dshills/reposearch/pkg/types"
)

// Progress is reported after every batch
type Progress struct {
	TotalChunks     int
	ProcessedChunks int
	BatchSize       int
	Errors          int
	StartTime       time.Time
	CurrentChunk    string // ID of the last chunk in the finished batch
}

// ProgressFunc receives batch progress. Calls are serialized.
type ProgressFunc func(Progress)

// PipelineOptions tune a single Embed call
type PipelineOptions struct {
	BatchSize  int // default DefaultBatchSize
	OnProgress ProgressFunc
}

// PipelineConfig bounds the pipeline's use of the provider
type PipelineConfig struct {
	Concurrency       int     // batches in flight, default 2
	RequestsPerSecond float64 // batch submissions per second, 0 = unlimited
}

// Report summarizes an Embed call
type Report struct {
	Batches       int
	FailedBatches int
	FailedChunks  int
	Duration      time.Duration
	Errors        []string
}

// Pipeline converts chunks into vectors in batches. A failed batch is
// logged and replaced by zero vectors so the run can continue with reduced
// recall for those chunks.
type Pipeline struct {
	embedder Embedder
	pool     *ants.Pool
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// NewPipeline creates a pipeline over e
func NewPipeline(e Embedder, cfg PipelineConfig, logger *slog.Logger) (*Pipeline, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrNoProviderEnabled)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 2
	}

	pool, err := ants.NewPool(cfg.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Pipeline{
		embedder: e,
		pool:     pool,
		limiter:  limiter,
		logger:   logger.With("component", "embedding-pipeline"),
	}, nil
}

// Release frees the worker pool
func (p *Pipeline) Release() {
	p.pool.Release()
}

// Dimension returns the provider dimension
func (p *Pipeline) Dimension() int {
	return p.embedder.Dimension()
}

// BuildText is the text embedded for a chunk: content, name, description
// and dependencies joined by single spaces
func BuildText(c *types.CodeChunk) string {
	return c.Content + " " + c.Metadata.Name + " " + c.Metadata.Description + " " +
		strings.Join(c.Metadata.Dependencies, " ")
}

// Embed returns one vector per chunk in input order. Only context
// cancellation aborts the call; provider failures degrade to zero vectors.
func (p *Pipeline) Embed(ctx context.Context, chunks []types.CodeChunk, opts PipelineOptions) ([][]float32, *Report, error) {
	start := time.Now()
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}

	vectors := make([][]float32, len(chunks))
	report := &Report{}
	if len(chunks) == 0 {
		return vectors, report, nil
	}

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		processed int
		failed    int
	)

	for from := 0; from < len(chunks); from += batchSize {
		to := min(from+batchSize, len(chunks))
		report.Batches++

		if err := p.limiter.Wait(ctx); err != nil {
			wg.Wait()
			return nil, report, err
		}

		wg.Add(1)
		task := func() {
			defer wg.Done()
			batchErr := p.embedBatch(ctx, chunks[from:to], vectors[from:to])

			mu.Lock()
			defer mu.Unlock()
			processed += to - from
			if batchErr != nil {
				failed += to - from
				report.FailedBatches++
				report.Errors = append(report.Errors, fmt.Sprintf("batch %d-%d: %v", from, to, batchErr))
				p.logger.Error("embedding batch failed, using zero vectors",
					"from", from, "to", to, "error", batchErr)
			}
			if opts.OnProgress != nil {
				opts.OnProgress(Progress{
					TotalChunks:     len(chunks),
					ProcessedChunks: processed,
					BatchSize:       batchSize,
					Errors:          report.FailedBatches,
					StartTime:       start,
					CurrentChunk:    chunks[to-1].ID,
				})
			}
		}
		if err := p.pool.Submit(task); err != nil {
			wg.Done()
			wg.Wait()
			return nil, report, fmt.Errorf("submit batch: %w", err)
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, report, err
	}

	report.FailedChunks = failed
	report.Duration = time.Since(start)
	return vectors, report, nil
}

// embedBatch fills out with vectors for batch, or zero vectors on failure
func (p *Pipeline) embedBatch(ctx context.Context, batch []types.CodeChunk, out [][]float32) error {
	dim := p.embedder.Dimension()
	fillZero := func() {
		for i := range out {
			out[i] = make([]float32, dim)
		}
	}

	texts := make([]string, len(batch))
	for i := range batch {
		texts[i] = BuildText(&batch[i])
	}

	resp, err := p.embedder.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: texts})
	if err == nil && len(resp.Embeddings) != len(batch) {
		err = fmt.Errorf("%w: expected %d embeddings, got %d", ErrProviderFailed, len(batch), len(resp.Embeddings))
	}
	if err == nil {
		for i, emb := range resp.Embeddings {
			if emb == nil || len(emb.Vector) != dim {
				err = errors.Join(ErrDimensionMismatch, fmt.Errorf("text %d", i))
				break
			}
		}
	}
	if err != nil {
		fillZero()
		return err
	}

	for i, emb := range resp.Embeddings {
		out[i] = emb.Vector
	}
	return nil
}
