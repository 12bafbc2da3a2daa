package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dshills/reposearch/internal/chunker"
	"github.com/dshills/reposearch/internal/config"
	"github.com/dshills/reposearch/internal/embedder"
	"github.com/dshills/reposearch/internal/incremental"
	"github.com/dshills/reposearch/internal/indexer"
	"github.com/dshills/reposearch/internal/quality"
	"github.com/dshills/reposearch/internal/storage"
	"github.com/dshills/reposearch/internal/vectorindex"
)

// app is a fully wired Service plus the resources it was built from
type app struct {
	svc       *indexer.Service
	store     *storage.SQLiteStorage
	emb       embedder.Embedder
	index     vectorindex.Index
	extractor *chunker.Extractor
	manifest  *incremental.Manager
}

// openApp builds the Service described by c.cfg and restores the index
// from storage
func (c *cli) openApp(ctx context.Context) (*app, error) {
	cfg := c.cfg
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	if err := ensureDir(cfg.DBPath); err != nil {
		return nil, err
	}
	store, err := storage.NewSQLiteStorage(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a.store = store

	emb, err := embedder.New(cfg.Embedding, c.logger)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	a.emb = emb

	index, err := openIndex(ctx, cfg, store, emb.Dimension(), c)
	if err != nil {
		return nil, err
	}
	a.index = index

	a.extractor = chunker.New(cfg.Chunker(), c.logger)
	a.manifest = incremental.NewManager(incremental.Config{ManifestPath: cfg.ManifestPath}, a.extractor, c.logger)

	svc, err := indexer.New(indexer.Deps{
		Storage:   store,
		Embedder:  emb,
		Index:     index,
		Extractor: a.extractor,
		Gate:      quality.NewGate(cfg.Quality),
		Manifest:  a.manifest,
		Logger:    c.logger,
	}, indexer.Config{
		Root:             cfg.Root,
		BatchSize:        cfg.Index.BatchSize,
		Pipeline:         cfg.Pipeline(),
		Search:           cfg.Engine(),
		CompactThreshold: cfg.Index.CompactThreshold,
	})
	if err != nil {
		return nil, err
	}
	a.svc = svc

	if _, err := svc.Load(ctx); err != nil {
		return nil, fmt.Errorf("load index: %w", err)
	}
	ok = true
	return a, nil
}

// openIndex creates the configured vector backend
func openIndex(ctx context.Context, cfg *config.Config, store *storage.SQLiteStorage, dim int, c *cli) (vectorindex.Index, error) {
	switch cfg.Vector.Backend {
	case config.BackendSQLite:
		return vectorindex.NewSQLite(ctx, store, dim)
	case config.BackendQdrant:
		return vectorindex.NewQdrant(ctx, cfg.Vector.Qdrant, dim, c.logger)
	default:
		return vectorindex.NewFlat(dim), nil
	}
}

// Close releases everything openApp created
func (a *app) Close() error {
	var errs []error
	if a.svc != nil {
		errs = append(errs, a.svc.Close())
	}
	if q, ok := a.index.(*vectorindex.Qdrant); ok {
		errs = append(errs, q.Close())
	}
	if a.emb != nil {
		errs = append(errs, a.emb.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}

func ensureDir(path string) error {
	if path == ":memory:" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	return nil
}
