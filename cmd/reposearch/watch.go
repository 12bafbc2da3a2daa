package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/reposearch/internal/indexer"
	"github.com/dshills/reposearch/internal/watch"
)

func newWatchCmd(c *cli) *cobra.Command {
	var skipInitial bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the index current as files change",
		Long: `Run an incremental index, then watch the repository root and reindex
each changed file after a quiet period (watch.debounce in the config).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := c.openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if !skipInitial {
				stats, err := a.svc.IndexRepository(ctx, indexer.IndexOptions{
					Src:         c.cfg.Root,
					Filter:      c.cfg.Index.Filter,
					Incremental: true,
				})
				if err != nil {
					return err
				}
				printRunStats(out, stats)
			}

			w, err := watch.New(a.svc, watch.Config{
				Root:       c.cfg.Root,
				Debounce:   c.cfg.Watch.Debounce.Duration,
				IgnoreDirs: c.cfg.Index.IgnoreDirs,
				Indexable:  a.extractor.Indexable,
				OnReindex: func(path string, err error) {
					if err != nil {
						fmt.Fprintln(out, errorStyle.Render(fmt.Sprintf("✗ %s: %v", path, err)))
						return
					}
					fmt.Fprintln(out, successStyle.Render("✓ ")+pathStyle.Render(path))
				},
			}, c.logger)
			if err != nil {
				return err
			}

			fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("watching %s (ctrl-c to stop)", c.cfg.Root)))
			return w.Run(ctx)
		},
	}

	cmd.Flags().BoolVar(&skipInitial, "no-initial", false, "skip the incremental run at startup")
	return cmd
}
