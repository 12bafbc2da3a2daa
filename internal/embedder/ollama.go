package embedder

import (
	"context"
	"fmt"
	"os"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
)

// DefaultOllamaHost is used when neither config nor OLLAMA_HOST is set
const DefaultOllamaHost = "http://localhost:11434"

// OllamaProvider implements Embedder against a local Ollama server through
// langchaingo
type OllamaProvider struct {
	embedder  embeddings.Embedder
	model     string
	dimension int
	cache     *Cache
}

// NewOllamaProvider creates an Ollama embedder. dimension must match the
// model output; 0 uses OllamaDimension.
func NewOllamaProvider(host, model string, dimension int, cache *Cache) (*OllamaProvider, error) {
	if host == "" {
		host = os.Getenv(EnvOllamaHost)
	}
	if host == "" {
		host = DefaultOllamaHost
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	if dimension <= 0 {
		dimension = OllamaDimension
	}

	llm, err := ollama.New(
		ollama.WithServerURL(host),
		ollama.WithModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: ollama client: %v", ErrNoProviderEnabled, err)
	}

	emb, err := embeddings.NewEmbedder(llm, embeddings.WithStripNewLines(false))
	if err != nil {
		return nil, fmt.Errorf("%w: ollama embedder: %v", ErrNoProviderEnabled, err)
	}

	return &OllamaProvider{
		embedder:  emb,
		model:     model,
		dimension: dimension,
		cache:     cache,
	}, nil
}

func (o *OllamaProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	return embedViaBatch(ctx, o, o.cache, req)
}

func (o *OllamaProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	vectors, err := o.embedder.EmbedDocuments(ctx, req.Texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderFailed, err)
	}
	if len(vectors) != len(req.Texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrProviderFailed, len(req.Texts), len(vectors))
	}

	out := make([]*Embedding, len(vectors))
	for i, v := range vectors {
		if len(v) != o.dimension {
			return nil, fmt.Errorf("%w: model %s returned %d, configured %d", ErrDimensionMismatch, o.model, len(v), o.dimension)
		}
		out[i] = &Embedding{
			Vector:    v,
			Dimension: len(v),
			Provider:  ProviderOllama,
			Model:     o.model,
		}
	}
	storeBatch(o.cache, req.Texts, out)

	return &BatchEmbeddingResponse{
		Embeddings: out,
		Provider:   ProviderOllama,
		Model:      o.model,
	}, nil
}

func (o *OllamaProvider) Dimension() int   { return o.dimension }
func (o *OllamaProvider) Provider() string { return ProviderOllama }
func (o *OllamaProvider) Model() string    { return o.model }
func (o *OllamaProvider) Close() error     { return nil }
