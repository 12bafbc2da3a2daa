// Package config loads reposearch settings.
//
// Sources apply in order, later ones winning:
//
//  1. built-in defaults (Default)
//  2. reposearch.toml, or the file given with --config
//  3. .env.local and .env in the working directory
//  4. environment variables
//
// Recognized variables are REPOSEARCH_EMBEDDING_PROVIDER, JINA_API_KEY,
// OPENAI_API_KEY, OLLAMA_HOST, REPOSEARCH_DB_PATH, REPOSEARCH_MANIFEST_PATH,
// REPOSEARCH_VECTOR_BACKEND, QDRANT_ADDR and REPOSEARCH_LOG_LEVEL.
//
// A minimal file:
//
//	db_path = "./data/reposearch.db"
//
//	[embedding]
//	provider = "ollama"
//	model = "nomic-embed-text"
//	dimension = 768
//
//	[vector]
//	backend = "qdrant"
//	qdrant = { addr = "localhost:6334" }
//
//	[search]
//	threshold = 0.4
//	query_timeout = "5s"
package config
