// Package storage provides SQLite-based persistence for the search index.
//
// # Database Schema
//
// Tables:
//   - chunks: extracted code chunks keyed by "<path>:<byte offset>",
//     metadata stored as JSON
//   - embeddings: one float32 blob per chunk, cascaded on chunk delete
//   - vectors: row-addressed blobs backing the sqlite vector backend
//   - graph_nodes, graph_edges: the knowledge graph; edges cascade with
//     their nodes
//   - index_meta: key/value settings; MetaRoot is the indexed root
//
// Migrations are versioned with semver and applied in order on open.
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage("data/index.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	tx, err := db.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer tx.Close()
//
//	if err := tx.UpsertChunks(ctx, chunks); err != nil {
//	    return err
//	}
//	if err := tx.UpsertEmbeddings(ctx, embeddings); err != nil {
//	    return err
//	}
//	return tx.Commit()
//
// The store holds a single connection. While a transaction is open, use
// only the transaction.
//
// # Build Tags
//
// CGO build (sqlite_vec tag): mattn/go-sqlite3 with the sqlite-vec
// extension; vector distances are computed in SQL.
//
//	CGO_ENABLED=1 go build -tags "sqlite_vec"
//
// Pure Go build (default, or purego tag): modernc.org/sqlite; vector
// distances are computed in Go.
//
//	CGO_ENABLED=0 go build -tags "purego"
package storage
