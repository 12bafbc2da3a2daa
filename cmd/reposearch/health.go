package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dshills/reposearch/internal/chunker"
	"github.com/dshills/reposearch/internal/embedder"
	"github.com/dshills/reposearch/internal/incremental"
	"github.com/dshills/reposearch/internal/storage"
)

// errUnhealthy is returned when any check fails
var errUnhealthy = errors.New("health check failed")

type checker struct {
	out    io.Writer
	failed bool
}

func (h *checker) check(name string, fn func() (string, error)) {
	detail, err := fn()
	if err != nil {
		h.failed = true
		fmt.Fprintf(h.out, "%s %-12s %s\n", errorStyle.Render("✗"), name, errorStyle.Render(err.Error()))
		return
	}
	fmt.Fprintf(h.out, "%s %-12s %s\n", successStyle.Render("✓"), name, dimStyle.Render(detail))
}

func newHealthCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check storage, embedding provider, vector backend and manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := c.cfg
			h := &checker{out: cmd.OutOrStdout()}
			fmt.Fprintln(h.out, titleStyle.Render("reposearch health"))

			h.check("config", func() (string, error) {
				return fmt.Sprintf("root %s, backend %s", cfg.Root, cfg.Vector.Backend), nil
			})

			var store *storage.SQLiteStorage
			h.check("storage", func() (string, error) {
				if err := ensureDir(cfg.DBPath); err != nil {
					return "", err
				}
				s, err := storage.NewSQLiteStorage(cfg.DBPath)
				if err != nil {
					return "", err
				}
				store = s
				st, err := s.GetStatus(ctx)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("%s (%s), %d chunks, %.1f MB", cfg.DBPath, st.BuildMode, st.ChunksCount, st.IndexSizeMB), nil
			})
			if store != nil {
				defer store.Close()
			}

			var emb embedder.Embedder
			h.check("embedding", func() (string, error) {
				e, err := embedder.New(cfg.Embedding, c.logger)
				if err != nil {
					return "", err
				}
				emb = e
				return probeEmbedder(ctx, e)
			})
			if emb != nil {
				defer emb.Close()
			}

			if store != nil && emb != nil {
				h.check("vectors", func() (string, error) {
					index, err := openIndex(ctx, cfg, store, emb.Dimension(), c)
					if err != nil {
						return "", err
					}
					if closer, ok := index.(io.Closer); ok {
						defer closer.Close()
					}
					return fmt.Sprintf("%s, dimension %d, %d rows", cfg.Vector.Backend, index.Dimension(), index.Size()), nil
				})
			}

			h.check("manifest", func() (string, error) {
				m := incremental.NewManager(incremental.Config{ManifestPath: cfg.ManifestPath},
					chunker.New(cfg.Chunker(), c.logger), c.logger)
				if err := m.Load(); err != nil {
					return "", err
				}
				return fmt.Sprintf("%s, %d files", m.Path(), m.Files()), nil
			})

			if h.failed {
				return errUnhealthy
			}
			return nil
		},
	}
}

func probeEmbedder(ctx context.Context, e embedder.Embedder) (string, error) {
	emb, err := e.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: "func healthCheck() error { return nil }"})
	if err != nil {
		return "", err
	}
	if len(emb.Vector) != e.Dimension() {
		return "", fmt.Errorf("%w: got %d, want %d", embedder.ErrDimensionMismatch, len(emb.Vector), e.Dimension())
	}
	return fmt.Sprintf("%s/%s, dimension %d", e.Provider(), e.Model(), e.Dimension()), nil
}
