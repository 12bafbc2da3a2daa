// Package searcher implements the hybrid search engine.
//
// A query goes through these stages:
//
//  1. Cache lookup keyed by the sha256 of the query and its options
//  2. Retrieval with three query variants (verbatim, structural, semantic),
//     merged by chunk id keeping the best score
//  3. Reranking by a weighted sum of cosine similarity, BM25 over the
//     candidate set, a neural scorer and a graph score
//  4. Context: surrounding source lines, textual patterns and a summary
//  5. Graph signals: related entities, relationship score, centrality
//  6. Diversity selection and final scoring
//
// Every stage after retrieval can be cut short by the per-query timeout or
// by a failing collaborator. The engine then returns what it has with
// SearchResponse.Degraded set.
//
// # Final Score
//
//	final = 0.6*combined + 0.2*diversity + 0.2*novelty
//
// Diversity is 1 minus the highest location similarity to an already
// accepted result. Results in the same file within a few lines of each
// other are near duplicates.
//
// # Caching
//
// Responses are cached in an LRU. The engine never invalidates the cache
// itself; callers that change the index must call ClearCache.
package searcher
