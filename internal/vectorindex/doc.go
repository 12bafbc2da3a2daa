// Package vectorindex stores chunk embeddings for L2 nearest-neighbor
// search.
//
// Index backends are append-only and row addressed: Flat keeps vectors in
// memory, SQLite keeps them in the storage vectors table and Qdrant keeps
// them in a Qdrant collection. Catalog maps rows to chunk ids, hides
// removed chunks behind tombstones and rebuilds the index once too many
// rows are dead.
package vectorindex
