package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/reposearch/internal/embedder"
)

// clearEnv unsets the variables Load reads and restores them afterwards
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		embedder.EnvProvider, embedder.EnvJinaAPIKey, embedder.EnvOpenAIAPIKey, embedder.EnvOllamaHost,
		EnvDBPath, EnvManifestPath, EnvVectorBackend, EnvQdrantAddr, EnvLogLevel,
	} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("", t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, DefaultDBPath, cfg.DBPath)
	assert.Equal(t, BackendFlat, cfg.Vector.Backend)
	assert.Equal(t, DefaultThreshold, cfg.Search.Threshold)
	assert.Equal(t, DefaultWatchDebounce, cfg.Watch.Debounce.Duration)
	assert.Equal(t, embedder.ProviderLocal, cfg.Provider())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeFile(t, dir, DefaultFile, `
db_path = "/tmp/idx.db"
log_level = "debug"

[embedding]
provider = "ollama"
model = "nomic-embed-text"
dimension = 768

[index]
batch_size = 32
ignore_dirs = ["fixtures"]

[quality]
min_chunk_size = 20

[search]
threshold = 0.3
query_timeout = "5s"
weights = { cosine = 0.4, bm25 = 0.2, neural = 0.2, graph = 0.2 }

[vector]
backend = "qdrant"
qdrant = { addr = "qdrant:6334", collection = "code" }

[watch]
debounce = "250ms"
`)

	cfg, err := Load("", dir)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/idx.db", cfg.DBPath)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, embedder.ProviderOllama, cfg.Provider())
	assert.Equal(t, 768, cfg.Embedding.Dimension)
	assert.Equal(t, 32, cfg.Index.BatchSize)
	assert.Equal(t, []string{"fixtures"}, cfg.Index.IgnoreDirs)
	assert.Equal(t, 20, cfg.Quality.MinChunkSize)
	assert.Equal(t, 0.3, cfg.Search.Threshold)
	assert.Equal(t, 0.4, cfg.Search.Weights.Cosine)
	assert.Equal(t, BackendQdrant, cfg.Vector.Backend)
	assert.Equal(t, "qdrant:6334", cfg.Vector.Qdrant.Addr)
	assert.Equal(t, "code", cfg.Vector.Qdrant.Collection)
	assert.Equal(t, 250*time.Millisecond, cfg.Watch.Debounce.Duration)

	engine := cfg.Engine()
	assert.Equal(t, 5*time.Second, engine.QueryTimeout)
	assert.Equal(t, 0.4, engine.Weights.Cosine)

	// Untouched sections keep their defaults
	assert.Equal(t, Default().Quality.MaxChunkSize, cfg.Quality.MaxChunkSize)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_ExplicitFileMustExist(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"), t.TempDir())
	assert.Error(t, err)
}

func TestLoad_BadFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeFile(t, dir, DefaultFile, "db_path = [")
	_, err := Load("", dir)
	assert.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "custom.toml", "db_path = \"from-file.db\"\n[vector]\nbackend = \"flat\"\n")

	t.Setenv(EnvDBPath, "from-env.db")
	t.Setenv(EnvVectorBackend, "SQLite")
	t.Setenv(EnvManifestPath, "/tmp/manifest.json")
	t.Setenv(embedder.EnvProvider, "openai")
	t.Setenv(embedder.EnvOpenAIAPIKey, "sk-test")

	cfg, err := Load(path, dir)
	require.NoError(t, err)
	assert.Equal(t, "from-env.db", cfg.DBPath)
	assert.Equal(t, BackendSQLite, cfg.Vector.Backend)
	assert.Equal(t, "/tmp/manifest.json", cfg.ManifestPath)
	assert.Equal(t, embedder.ProviderOpenAI, cfg.Provider())
	assert.Equal(t, "sk-test", cfg.Embedding.APIKey)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_DotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeFile(t, dir, ".env", "REPOSEARCH_DB_PATH=dotenv.db\nQDRANT_ADDR=env-file:6334\n")
	writeFile(t, dir, ".env.local", "REPOSEARCH_DB_PATH=local.db\n")

	cfg, err := Load("", dir)
	require.NoError(t, err)
	assert.Equal(t, "local.db", cfg.DBPath)
	assert.Equal(t, "env-file:6334", cfg.Vector.Qdrant.Addr)
}

func TestValidate(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Vector.Backend = "faiss" }},
		{"unknown provider", func(c *Config) { c.Embedding.Provider = "cohere" }},
		{"openai without key", func(c *Config) { c.Embedding.Provider = embedder.ProviderOpenAI }},
		{"jina without key", func(c *Config) { c.Embedding.Provider = embedder.ProviderJina }},
		{"threshold above one", func(c *Config) { c.Search.Threshold = 1.5 }},
		{"empty db path", func(c *Config) { c.DBPath = "" }},
		{"batch too large", func(c *Config) { c.Index.BatchSize = embedder.MaxBatchSize + 1 }},
		{"inverted chunk sizes", func(c *Config) { c.Quality.MinChunkSize = 500; c.Quality.MaxChunkSize = 100 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Embedding.Provider = embedder.ProviderLocal
			tt.modify(cfg)
			err := cfg.Validate()
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestDerivedConfigs(t *testing.T) {
	cfg := Default()
	cfg.Index.Workers = 3
	cfg.Index.Concurrency = 4
	cfg.Index.RequestsPerSecond = 2.5

	assert.Equal(t, 3, cfg.Chunker().Workers)
	assert.Equal(t, 4, cfg.Pipeline().Concurrency)
	assert.Equal(t, 2.5, cfg.Pipeline().RequestsPerSecond)
}
