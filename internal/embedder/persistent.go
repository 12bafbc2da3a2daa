package embedder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/dshills/reposearch/internal/storage"
)

// PersistentCache stores embeddings on disk in badger so repeated runs do
// not pay for unchanged chunks. Keys are "<provider>/<model>/<hash>".
type PersistentCache struct {
	db     *badger.DB
	logger *slog.Logger
}

// badgerLogger adapts slog.Logger to badger.Logger
type badgerLogger struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (bl *badgerLogger) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLogger) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLogger) Infof(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

func (bl *badgerLogger) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// OpenPersistentCache opens (creating if needed) a badger directory. An
// empty dir opens an in-memory store.
func OpenPersistentCache(dir string, logger *slog.Logger) (*PersistentCache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "embedding-cache")

	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = &badgerLogger{logger: logger}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open embedding cache: %w", err)
	}
	return &PersistentCache{db: db, logger: logger}, nil
}

// Get returns the cached vector for key
func (p *PersistentCache) Get(key string) ([]float32, bool) {
	var vec []float32
	err := p.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			v, decErr := decodeVector(val)
			vec = v
			return decErr
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			p.logger.Warn("cache read failed", "error", err)
		}
		return nil, false
	}
	return vec, true
}

// Put stores vectors under their keys in one transaction
func (p *PersistentCache) Put(keys []string, vectors [][]float32) error {
	wb := p.db.NewWriteBatch()
	defer wb.Cancel()
	for i, key := range keys {
		if i >= len(vectors) {
			break
		}
		if err := wb.Set([]byte(key), storage.SerializeVector(vectors[i])); err != nil {
			return fmt.Errorf("cache write: %w", err)
		}
	}
	return wb.Flush()
}

// Close closes the underlying database
func (p *PersistentCache) Close() error {
	return p.db.Close()
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("corrupt vector of %d bytes", len(b))
	}
	return storage.DeserializeVector(b), nil
}

// CachedEmbedder decorates an Embedder with a PersistentCache. Only texts
// missing from the cache reach the wrapped provider.
type CachedEmbedder struct {
	Embedder
	store *PersistentCache
}

// NewCachedEmbedder wraps inner with store
func NewCachedEmbedder(inner Embedder, store *PersistentCache) *CachedEmbedder {
	return &CachedEmbedder{Embedder: inner, store: store}
}

func (c *CachedEmbedder) key(text string) string {
	return c.Embedder.Provider() + "/" + c.Embedder.Model() + "/" + ComputeHash(text)
}

func (c *CachedEmbedder) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	resp, err := c.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{req.Text}, Model: req.Model})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

func (c *CachedEmbedder) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	out := make([]*Embedding, len(req.Texts))
	var missTexts []string
	var missIdx []int
	for i, text := range req.Texts {
		if vec, ok := c.store.Get(c.key(text)); ok && len(vec) == c.Dimension() {
			out[i] = &Embedding{
				Vector:    vec,
				Dimension: len(vec),
				Provider:  c.Embedder.Provider(),
				Model:     c.Embedder.Model(),
				Hash:      ComputeHash(text),
			}
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) > 0 {
		resp, err := c.Embedder.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: missTexts, Model: req.Model})
		if err != nil {
			return nil, err
		}
		if len(resp.Embeddings) != len(missTexts) {
			return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrProviderFailed, len(missTexts), len(resp.Embeddings))
		}
		keys := make([]string, len(missTexts))
		vecs := make([][]float32, len(missTexts))
		for j, emb := range resp.Embeddings {
			if emb == nil {
				return nil, fmt.Errorf("%w: missing embedding for text %d", ErrProviderFailed, missIdx[j])
			}
			out[missIdx[j]] = emb
			keys[j] = c.key(missTexts[j])
			vecs[j] = emb.Vector
		}
		if err := c.store.Put(keys, vecs); err != nil {
			c.store.logger.Warn("failed to persist embeddings", "error", err)
		}
	}

	return &BatchEmbeddingResponse{
		Embeddings: out,
		Provider:   c.Embedder.Provider(),
		Model:      c.Embedder.Model(),
	}, nil
}

// Close closes the wrapped provider and the store
func (c *CachedEmbedder) Close() error {
	return errors.Join(c.Embedder.Close(), c.store.Close())
}
