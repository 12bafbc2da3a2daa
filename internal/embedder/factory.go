package embedder

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// EnvProvider selects the provider when Config.Provider is empty
const EnvProvider = "REPOSEARCH_EMBEDDING_PROVIDER"

// Config holds embedder configuration
type Config struct {
	Provider  string `toml:"provider"`
	APIKey    string `toml:"api_key"`
	BaseURL   string `toml:"base_url"`  // OpenAI-compatible endpoint or Ollama host
	Model     string `toml:"model"`     // Ollama only
	Dimension int    `toml:"dimension"` // Ollama only
	CacheSize int    `toml:"cache_size"`

	// PersistentCacheDir enables the on-disk badger cache when set
	PersistentCacheDir string `toml:"persistent_cache_dir"`
}

// DetectProvider returns the provider that would be used based on the
// current environment
func DetectProvider() string {
	if provider := os.Getenv(EnvProvider); provider != "" {
		return strings.ToLower(provider)
	}
	if os.Getenv(EnvJinaAPIKey) != "" {
		return ProviderJina
	}
	if os.Getenv(EnvOpenAIAPIKey) != "" {
		return ProviderOpenAI
	}
	return ProviderLocal
}

// New creates an embedder with explicit configuration. An empty provider
// falls back to DetectProvider.
func New(cfg Config, logger *slog.Logger) (Embedder, error) {
	cache := NewCache(cfg.CacheSize)

	provider := strings.ToLower(cfg.Provider)
	if provider == "" {
		provider = DetectProvider()
	}

	var (
		e   Embedder
		err error
	)
	switch provider {
	case ProviderJina:
		e, err = NewJinaProvider(cfg.APIKey, cache)
	case ProviderOpenAI:
		e, err = NewOpenAIProvider(cfg.APIKey, cfg.BaseURL, cache)
	case ProviderOllama:
		e, err = NewOllamaProvider(cfg.BaseURL, cfg.Model, cfg.Dimension, cache)
	case ProviderLocal:
		e, err = NewLocalProvider(cache)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	if cfg.PersistentCacheDir == "" {
		return e, nil
	}
	store, err := OpenPersistentCache(cfg.PersistentCacheDir, logger)
	if err != nil {
		_ = e.Close()
		return nil, err
	}
	return NewCachedEmbedder(e, store), nil
}
