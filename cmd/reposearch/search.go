package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/reposearch/internal/searcher"
	"github.com/dshills/reposearch/pkg/types"
)

type searchFlags struct {
	top       int
	threshold float64
	types     []string
	exts      []string
	packages  []string
	context   bool
	stats     bool
	json      bool
	deep      bool
}

func newSearchCmd(c *cli) *cobra.Command {
	var f searchFlags

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the index",
		Long: `Search indexed code by meaning.

The default mode ranks by vector similarity. --deep runs the hybrid engine
(vector, BM25, neural rerank, graph signals and diversity selection).`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			if !cmd.Flags().Changed("threshold") {
				f.threshold = c.cfg.Search.Threshold
			}

			filters := types.SearchFilters{FileTypes: f.exts, Packages: f.packages}
			for _, t := range f.types {
				ct := types.ChunkType(strings.ToLower(t))
				if !ct.Valid() {
					return fmt.Errorf("unknown chunk type %q", t)
				}
				filters.Types = append(filters.Types, ct)
			}

			a, err := c.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			var payload any
			if f.deep {
				resp, err := a.svc.DeepSearch(cmd.Context(), query, searcher.Options{
					Top:     f.top,
					Filters: filters,
				})
				if err != nil {
					return err
				}
				payload = resp
				if !f.json {
					printDeepResults(out, query, resp)
				}
			} else {
				results, err := a.svc.Search(cmd.Context(), types.SearchQuery{
					Query:   query,
					Filters: filters,
					Options: types.QueryOptions{
						Top:            f.top,
						Threshold:      f.threshold,
						IncludeContext: f.context,
					},
				})
				if err != nil {
					return err
				}
				payload = results
				if !f.json {
					printResults(out, query, results)
				}
			}

			if f.json {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(payload)
			}
			if f.stats {
				fmt.Fprintln(out)
				status, err := a.svc.Status(cmd.Context())
				if err != nil {
					return err
				}
				printAnalytics(out, status.Analytics)
			}
			return nil
		},
	}

	fl := cmd.Flags()
	fl.IntVarP(&f.top, "top", "n", 10, "number of results")
	fl.Float64Var(&f.threshold, "threshold", 0, "minimum similarity score (default from config)")
	fl.StringSliceVar(&f.types, "type", nil, "restrict to chunk types ("+chunkTypeNames()+")")
	fl.StringSliceVar(&f.exts, "ext", nil, "restrict to file extensions")
	fl.StringSliceVar(&f.packages, "package", nil, "restrict to top-level packages")
	fl.BoolVar(&f.context, "context", false, "include surrounding lines")
	fl.BoolVar(&f.stats, "stats", false, "print search analytics afterwards")
	fl.BoolVar(&f.json, "json", false, "print results as JSON")
	fl.BoolVar(&f.deep, "deep", false, "use the hybrid ranking engine")
	return cmd
}

func chunkTypeNames() string {
	names := make([]string, len(types.AllChunkTypes))
	for i, t := range types.AllChunkTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}
