package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/reposearch/internal/embedder"
	"github.com/dshills/reposearch/internal/indexer"
	"github.com/dshills/reposearch/internal/quality"
)

type indexFlags struct {
	filter      string
	incremental bool
	batchSize   int
	force       bool
	quality     bool
}

func newIndexCmd(c *cli) *cobra.Command {
	var f indexFlags

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Index a source tree",
		Long: `Extract, quality-filter and embed every supported source file under path
(default: the configured root) and store the result for searching.

With --incremental only files added, modified or deleted since the last run
are processed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			src := c.cfg.Root
			if len(args) == 1 {
				src = args[0]
			}
			if f.filter == "" {
				f.filter = c.cfg.Index.Filter
			}

			a, err := c.openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			stats, err := a.svc.IndexRepository(ctx, indexer.IndexOptions{
				Src:         src,
				Filter:      f.filter,
				Incremental: f.incremental,
				BatchSize:   f.batchSize,
				Force:       f.force,
				OnProgress: func(p embedder.Progress) {
					fmt.Fprintf(cmd.ErrOrStderr(), "\r%s", dimStyle.Render(
						fmt.Sprintf("embedding %d/%d chunks", p.ProcessedChunks, p.TotalChunks)))
					if p.ProcessedChunks == p.TotalChunks {
						fmt.Fprintln(cmd.ErrOrStderr())
					}
				},
			})
			if err != nil {
				return err
			}

			printRunStats(out, stats)
			if f.quality {
				fmt.Fprintln(out)
				if err := quality.WriteReport(out, stats.Quality, 10); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&f.filter, "filter", "", "only index files whose name contains this text or matches this glob")
	cmd.Flags().BoolVar(&f.incremental, "incremental", false, "process only changed files")
	cmd.Flags().IntVar(&f.batchSize, "batch-size", 0, "chunks per embedding request (default from config)")
	cmd.Flags().BoolVar(&f.force, "force", false, "discard the manifest and all indexed data first")
	cmd.Flags().BoolVar(&f.quality, "quality", false, "print the quality report")
	return cmd
}
