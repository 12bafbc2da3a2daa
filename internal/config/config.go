package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/reposearch/internal/chunker"
	"github.com/dshills/reposearch/internal/embedder"
	"github.com/dshills/reposearch/internal/incremental"
	"github.com/dshills/reposearch/internal/quality"
	"github.com/dshills/reposearch/internal/searcher"
	"github.com/dshills/reposearch/internal/vectorindex"
)

// DefaultFile is looked up in the working directory when no --config is given
const DefaultFile = "reposearch.toml"

// Defaults
const (
	DefaultDBPath        = "./data/reposearch.db"
	DefaultLogLevel      = "info"
	DefaultThreshold     = 0.5
	DefaultWatchDebounce = 500 * time.Millisecond
)

// Vector backends
const (
	BackendFlat   = "flat"
	BackendSQLite = "sqlite"
	BackendQdrant = "qdrant"
)

// Environment variables applied after the file
const (
	EnvDBPath        = "REPOSEARCH_DB_PATH"
	EnvManifestPath  = "REPOSEARCH_MANIFEST_PATH"
	EnvVectorBackend = "REPOSEARCH_VECTOR_BACKEND"
	EnvQdrantAddr    = "QDRANT_ADDR"
	EnvLogLevel      = "REPOSEARCH_LOG_LEVEL"
)

var (
	// ErrInvalidConfig wraps every validation failure
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Duration reads TOML strings such as "500ms" or "10s"
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the complete reposearch configuration
type Config struct {
	Root         string `toml:"root"`
	DBPath       string `toml:"db_path"`
	ManifestPath string `toml:"manifest_path"`
	LogLevel     string `toml:"log_level"`

	Embedding embedder.Config    `toml:"embedding"`
	Index     IndexConfig        `toml:"index"`
	Quality   quality.Thresholds `toml:"quality"`
	Search    SearchConfig       `toml:"search"`
	Vector    VectorConfig       `toml:"vector"`
	Watch     WatchConfig        `toml:"watch"`
}

// IndexConfig tunes extraction and embedding
type IndexConfig struct {
	Filter            string   `toml:"filter"`
	BatchSize         int      `toml:"batch_size"`
	Concurrency       int      `toml:"concurrency"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	CompactThreshold  float64  `toml:"compact_threshold"`
	Workers           int      `toml:"workers"`
	MaxFileSize       int64    `toml:"max_file_size"`
	IgnoreDirs        []string `toml:"ignore_dirs"`
}

// SearchConfig holds engine defaults plus the CLI similarity threshold
type SearchConfig struct {
	Top                int              `toml:"top"`
	MaxResults         int              `toml:"max_results"`
	ContextRadius      int              `toml:"context_radius"`
	DiversityThreshold float64          `toml:"diversity_threshold"`
	CacheSize          int              `toml:"cache_size"`
	QueryTimeout       Duration         `toml:"query_timeout"`
	Threshold          float64          `toml:"threshold"`
	Weights            searcher.Weights `toml:"weights"`
}

// VectorConfig selects the vector index backend
type VectorConfig struct {
	Backend string                   `toml:"backend"`
	Qdrant  vectorindex.QdrantConfig `toml:"qdrant"`
}

// WatchConfig tunes watch mode
type WatchConfig struct {
	Debounce Duration `toml:"debounce"`
}

// Default returns the built-in configuration
func Default() *Config {
	engine := searcher.DefaultConfig()
	return &Config{
		Root:         ".",
		DBPath:       DefaultDBPath,
		ManifestPath: incremental.DefaultManifestPath,
		LogLevel:     DefaultLogLevel,
		Index: IndexConfig{
			BatchSize:        embedder.DefaultBatchSize,
			Concurrency:      2,
			CompactThreshold: vectorindex.DefaultCompactThreshold,
			MaxFileSize:      chunker.DefaultMaxFileSize,
		},
		Quality: quality.DefaultThresholds(),
		Search: SearchConfig{
			Top:                engine.Top,
			MaxResults:         engine.MaxResults,
			ContextRadius:      engine.ContextRadius,
			DiversityThreshold: engine.DiversityThreshold,
			CacheSize:          engine.CacheSize,
			QueryTimeout:       Duration{engine.QueryTimeout},
			Threshold:          DefaultThreshold,
			Weights:            engine.Weights,
		},
		Vector: VectorConfig{
			Backend: BackendFlat,
			Qdrant:  vectorindex.QdrantConfig{Addr: vectorindex.DefaultQdrantAddr},
		},
		Watch: WatchConfig{Debounce: Duration{DefaultWatchDebounce}},
	}
}

// Load builds the configuration from defaults, the TOML file, .env files
// in dir and the environment, in that order. An empty path tries
// DefaultFile in dir and skips it when missing; an explicit path must
// exist.
func Load(path, dir string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = filepath.Join(dir, DefaultFile)
	}
	if err := cfg.loadFile(path); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	// godotenv never overrides variables that are already set, so the
	// more specific file goes first
	for _, name := range []string{".env.local", ".env"} {
		if err := godotenv.Load(filepath.Join(dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", name, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(embedder.EnvProvider); v != "" {
		c.Embedding.Provider = strings.ToLower(v)
	}
	if c.Embedding.APIKey == "" {
		switch c.Provider() {
		case embedder.ProviderJina:
			c.Embedding.APIKey = os.Getenv(embedder.EnvJinaAPIKey)
		case embedder.ProviderOpenAI:
			c.Embedding.APIKey = os.Getenv(embedder.EnvOpenAIAPIKey)
		}
	}
	if c.Provider() == embedder.ProviderOllama && c.Embedding.BaseURL == "" {
		c.Embedding.BaseURL = os.Getenv(embedder.EnvOllamaHost)
	}
	if v := os.Getenv(EnvDBPath); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv(EnvManifestPath); v != "" {
		c.ManifestPath = v
	}
	if v := os.Getenv(EnvVectorBackend); v != "" {
		c.Vector.Backend = strings.ToLower(v)
	}
	if v := os.Getenv(EnvQdrantAddr); v != "" {
		c.Vector.Qdrant.Addr = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
}

// Provider returns the embedding provider in effect, resolving an empty
// setting the same way embedder.New does
func (c *Config) Provider() string {
	if c.Embedding.Provider != "" {
		return strings.ToLower(c.Embedding.Provider)
	}
	return embedder.DetectProvider()
}

// Validate fails on settings that would break construction later
func (c *Config) Validate() error {
	var errs []error

	switch c.Provider() {
	case embedder.ProviderLocal, embedder.ProviderOllama:
	case embedder.ProviderJina:
		if c.Embedding.APIKey == "" && os.Getenv(embedder.EnvJinaAPIKey) == "" {
			errs = append(errs, fmt.Errorf("%s is required for the jina provider", embedder.EnvJinaAPIKey))
		}
	case embedder.ProviderOpenAI:
		if c.Embedding.APIKey == "" && os.Getenv(embedder.EnvOpenAIAPIKey) == "" {
			errs = append(errs, fmt.Errorf("%s is required for the openai provider", embedder.EnvOpenAIAPIKey))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider))
	}

	switch c.Vector.Backend {
	case BackendFlat, BackendSQLite:
	case BackendQdrant:
		if c.Vector.Qdrant.Addr == "" {
			errs = append(errs, errors.New("qdrant backend needs an address"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown vector backend %q", c.Vector.Backend))
	}

	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is empty"))
	}
	if c.ManifestPath == "" {
		errs = append(errs, errors.New("manifest_path is empty"))
	}
	if c.Search.Threshold < 0 || c.Search.Threshold > 1 {
		errs = append(errs, fmt.Errorf("search threshold %v is outside [0, 1]", c.Search.Threshold))
	}
	if c.Index.CompactThreshold < 0 || c.Index.CompactThreshold > 1 {
		errs = append(errs, fmt.Errorf("compact threshold %v is outside [0, 1]", c.Index.CompactThreshold))
	}
	if c.Index.BatchSize > embedder.MaxBatchSize {
		errs = append(errs, fmt.Errorf("batch size %d exceeds %d", c.Index.BatchSize, embedder.MaxBatchSize))
	}
	if c.Quality.MinChunkSize > 0 && c.Quality.MaxChunkSize > 0 && c.Quality.MinChunkSize > c.Quality.MaxChunkSize {
		errs = append(errs, errors.New("quality min_chunk_size exceeds max_chunk_size"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Engine returns the search engine configuration
func (c *Config) Engine() searcher.Config {
	return searcher.Config{
		Top:                c.Search.Top,
		ContextRadius:      c.Search.ContextRadius,
		DiversityThreshold: c.Search.DiversityThreshold,
		MaxResults:         c.Search.MaxResults,
		Weights:            c.Search.Weights,
		CacheSize:          c.Search.CacheSize,
		QueryTimeout:       c.Search.QueryTimeout.Duration,
	}
}

// Chunker returns the extractor configuration
func (c *Config) Chunker() chunker.Config {
	return chunker.Config{
		IgnoreDirs:  c.Index.IgnoreDirs,
		Workers:     c.Index.Workers,
		MaxFileSize: c.Index.MaxFileSize,
	}
}

// Pipeline returns the embedding pipeline bounds
func (c *Config) Pipeline() embedder.PipelineConfig {
	return embedder.PipelineConfig{
		Concurrency:       c.Index.Concurrency,
		RequestsPerSecond: c.Index.RequestsPerSecond,
	}
}
