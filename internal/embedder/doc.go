// Package embedder turns code chunks into vectors.
//
// Providers (Jina, OpenAI, Ollama and an offline hashing model) implement
// Embedder. Each call is a single attempt. Two wrappers sit on top:
//
//   - Pipeline embeds whole chunk sets in batches of DefaultBatchSize
//     through a bounded worker pool. A failed batch is logged and its
//     chunks receive zero vectors; the run continues.
//   - QueryEmbedder embeds search queries with exponential backoff retry.
//
// Embeddings are cached in memory by content hash. Setting
// Config.PersistentCacheDir adds an on-disk badger cache that survives
// restarts.
//
// # Provider Selection
//
// New picks the configured provider. When none is configured:
//
//  1. If REPOSEARCH_EMBEDDING_PROVIDER is set, use it
//  2. Else if JINA_API_KEY is set, use Jina AI
//  3. Else if OPENAI_API_KEY is set, use OpenAI
//  4. Else use the local provider (offline)
//
// The text embedded for a chunk is produced by BuildText.
package embedder
