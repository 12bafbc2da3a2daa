package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/reposearch/internal/chunker"
	"github.com/dshills/reposearch/internal/quality"
)

func newQualityCmd(c *cli) *cobra.Command {
	var (
		filter    string
		maxErrors int
	)

	cmd := &cobra.Command{
		Use:   "quality [path]",
		Short: "Report chunk quality without indexing",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := c.cfg.Root
			if len(args) == 1 {
				src = args[0]
			}
			if filter == "" {
				filter = c.cfg.Index.Filter
			}

			ctx := cmd.Context()
			ext := chunker.New(c.cfg.Chunker(), c.logger)
			files, err := ext.Discover(ctx, src, filter)
			if err != nil {
				return fmt.Errorf("discover files: %w", err)
			}
			res, err := ext.ExtractFiles(ctx, src, files)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("Analyzed %s", src)))
			fmt.Fprintf(out, "  %-18s %d\n", "Files processed:", res.FilesProcessed)
			if res.FilesFailed > 0 {
				fmt.Fprintln(out, warnStyle.Render(fmt.Sprintf("  %-18s %d", "Files failed:", res.FilesFailed)))
			}
			fmt.Fprintln(out)

			m := quality.NewGate(c.cfg.Quality).Analyze(res.Chunks)
			return quality.WriteReport(out, m, maxErrors)
		},
	}

	cmd.Flags().StringVar(&filter, "filter", "", "only analyze files whose name contains this text or matches this glob")
	cmd.Flags().IntVar(&maxErrors, "max-errors", 10, "issues listed in the report")
	return cmd
}
