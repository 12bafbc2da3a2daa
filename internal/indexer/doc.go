// Package indexer ties extraction, quality gating, embedding, storage, the
// vector catalog and the knowledge graph into one Service.
//
// # Basic Usage
//
//	svc, err := indexer.New(indexer.Deps{Storage: store, Embedder: emb}, indexer.Config{Root: root})
//	if err != nil {
//	    return err
//	}
//	defer svc.Close()
//
//	if _, err := svc.Load(ctx); err != nil {
//	    return err
//	}
//	stats, err := svc.IndexRepository(ctx, indexer.IndexOptions{Src: root, Incremental: true})
//	results, err := svc.Search(ctx, types.SearchQuery{Query: "parse config"})
//
// # Runs
//
// A full run extracts every matching file, filters chunks through the
// quality gate, embeds them, writes chunks and vectors to storage in one
// transaction and then applies catalog, chunk map and graph changes. The
// chunks previously indexed for files matching the run's filter are
// replaced.
//
// An incremental run hands the same steps to the incremental Manager,
// which limits them to added and modified files and records the manifest
// only after the changes are applied.
//
// Only one run, Reindex or RemoveIndex executes at a time. Others fail with
// types.ErrIndexingInProgress. Searches are never blocked by extraction or
// embedding; they wait only while a finished run swaps its results in.
package indexer
