package embedder

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/reposearch/pkg/types"
)

func makeChunks(n int) []types.CodeChunk {
	chunks := make([]types.CodeChunk, n)
	for i := range chunks {
		chunks[i] = types.CodeChunk{
			ID:       types.ChunkID("src/f.go", i*10),
			Content:  fmt.Sprintf("func handler%d() {}", i),
			FilePath: "src/f.go",
			Type:     types.ChunkFunction,
			Metadata: types.ChunkMetadata{Name: fmt.Sprintf("handler%d", i)},
		}
	}
	return chunks
}

func TestBuildText(t *testing.T) {
	c := &types.CodeChunk{
		Content: "func A() { B() }",
		Metadata: types.ChunkMetadata{
			Name:         "A",
			Description:  "does a",
			Dependencies: []string{"B", "Ctx"},
		},
	}
	assert.Equal(t, "func A() { B() } A does a B Ctx", BuildText(c))
}

func TestPipelineEmbed(t *testing.T) {
	p, err := NewPipeline(mustNewLocalProvider(t), PipelineConfig{Concurrency: 2}, nil)
	require.NoError(t, err)
	defer p.Release()

	chunks := makeChunks(25)
	var mu sync.Mutex
	var progress []Progress

	vectors, report, err := p.Embed(context.Background(), chunks, PipelineOptions{
		BatchSize: 10,
		OnProgress: func(pr Progress) {
			mu.Lock()
			progress = append(progress, pr)
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	require.Len(t, vectors, 25)
	assert.Equal(t, 3, report.Batches)
	assert.Zero(t, report.FailedBatches)

	local := mustNewLocalProvider(t)
	want, _ := local.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: BuildText(&chunks[17])})
	assert.Equal(t, want.Vector, vectors[17])

	require.Len(t, progress, 3)
	last := progress[len(progress)-1]
	assert.Equal(t, 25, last.TotalChunks)
	assert.Equal(t, 25, last.ProcessedChunks)
	assert.Equal(t, 10, last.BatchSize)
}

func TestPipelineBatchFailureUsesZeroVectors(t *testing.T) {
	e := &failingEmbedder{LocalProvider: mustNewLocalProvider(t), failOn: "handler3"}
	p, err := NewPipeline(e, PipelineConfig{Concurrency: 1}, nil)
	require.NoError(t, err)
	defer p.Release()

	vectors, report, err := p.Embed(context.Background(), makeChunks(6), PipelineOptions{BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 1, report.FailedBatches)
	assert.Equal(t, 2, report.FailedChunks)
	assert.Len(t, report.Errors, 1)

	for i := 2; i < 4; i++ {
		assert.Len(t, vectors[i], LocalDimension)
		for _, v := range vectors[i] {
			assert.Zero(t, v)
		}
	}
	assert.NotZero(t, absSum(vectors[0]))
}

func TestPipelineCancelled(t *testing.T) {
	p, err := NewPipeline(mustNewLocalProvider(t), PipelineConfig{}, nil)
	require.NoError(t, err)
	defer p.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = p.Embed(ctx, makeChunks(3), PipelineOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPipelineEmpty(t *testing.T) {
	p, err := NewPipeline(mustNewLocalProvider(t), PipelineConfig{RequestsPerSecond: 5}, nil)
	require.NoError(t, err)
	defer p.Release()

	vectors, report, err := p.Embed(context.Background(), nil, PipelineOptions{})
	require.NoError(t, err)
	assert.Empty(t, vectors)
	assert.Zero(t, report.Batches)
}

type failingEmbedder struct {
	*LocalProvider
	failOn string
}

func (f *failingEmbedder) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	for _, text := range req.Texts {
		if strings.Contains(text, f.failOn+"()") {
			return nil, ErrProviderFailed
		}
	}
	return f.LocalProvider.GenerateBatch(ctx, req)
}

func absSum(v []float32) float32 {
	var s float32
	for _, x := range v {
		if x < 0 {
			s -= x
		} else {
			s += x
		}
	}
	return s
}
