package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/dshills/reposearch/internal/indexer"
	"github.com/dshills/reposearch/internal/quality"
	"github.com/dshills/reposearch/internal/searcher"
	"github.com/dshills/reposearch/pkg/types"
)

func printRunStats(w io.Writer, s *indexer.RunStats) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Indexed %s (%s run)", s.Src, s.Mode)))
	rows := [][2]string{
		{"Run", s.RunID},
		{"Files processed", fmt.Sprint(s.FilesProcessed)},
		{"Files failed", fmt.Sprint(s.FilesFailed)},
	}
	if s.Mode == indexer.ModeIncremental {
		rows = append(rows,
			[2]string{"Added / modified / deleted", fmt.Sprintf("%d / %d / %d", s.FilesAdded, s.FilesModified, s.FilesDeleted)})
	}
	rows = append(rows,
		[2]string{"Chunks extracted", fmt.Sprint(s.ChunksExtracted)},
		[2]string{"Chunks indexed", fmt.Sprint(s.ChunksIndexed)},
		[2]string{"Chunks removed", fmt.Sprint(s.ChunksRemoved)},
		[2]string{"Graph nodes / edges", fmt.Sprintf("%d / %d", s.Nodes, s.Edges)},
		[2]string{"Quality score", fmt.Sprintf("%.1f (%s)", s.Quality.QualityScore, quality.Grade(s.Quality.QualityScore))},
		[2]string{"Duration", s.Duration.Round(1e6).String()},
	)
	for _, r := range rows {
		fmt.Fprintf(w, "  %-28s %s\n", r[0]+":", r[1])
	}

	if s.EmbedFailedChunks > 0 {
		fmt.Fprintln(w, warnStyle.Render(fmt.Sprintf("  %d chunks in %d batches were stored with zero vectors",
			s.EmbedFailedChunks, s.EmbedFailedBatches)))
	}
	for i, e := range s.Errors {
		if i == 5 {
			fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("  ... %d more", len(s.Errors)-5)))
			break
		}
		fmt.Fprintln(w, errorStyle.Render("  "+e))
	}
}

func printResults(w io.Writer, query string, results []types.SearchResult) {
	if len(results) == 0 {
		fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("No results for %q", query)))
		return
	}
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("%d results for %q", len(results), query)))
	for i, r := range results {
		name := r.Metadata.Name
		if name == "" {
			name = string(r.Type)
		}
		fmt.Fprintf(w, "\n%d. %s %s %s\n", i+1,
			pathStyle.Render(fmt.Sprintf("%s:%d-%d", r.FilePath, r.StartLine, r.EndLine)),
			name,
			scoreStyle.Render(fmt.Sprintf("%.3f", r.Score)))

		var code []string
		code = append(code, r.Context.Before...)
		code = append(code, r.Snippet)
		code = append(code, r.Context.After...)
		fmt.Fprintln(w, codeStyle.Render(strings.TrimRight(strings.Join(code, "\n"), "\n")))
	}
}

func printDeepResults(w io.Writer, query string, resp *types.SearchResponse) {
	header := fmt.Sprintf("%d results for %q in %s", len(resp.Results), query, resp.Duration.Round(1e6))
	if resp.CacheHit {
		header += " (cached)"
	}
	fmt.Fprintln(w, titleStyle.Render(header))
	if resp.Degraded {
		fmt.Fprintln(w, warnStyle.Render("some search signals were unavailable; results may be incomplete"))
	}
	for i, r := range resp.Results {
		fmt.Fprintf(w, "\n%d. %s %s final %s\n", i+1,
			pathStyle.Render(fmt.Sprintf("%s:%d-%d", r.FilePath, r.StartLine, r.EndLine)),
			r.Metadata.Name,
			scoreStyle.Render(fmt.Sprintf("%.3f", r.FinalScore)))
		if rs := r.RerankScores; rs != nil {
			fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("   cosine %.2f  bm25 %.2f  neural %.2f  graph %.2f  diversity %.2f",
				rs.Cosine, rs.BM25, rs.Neural, rs.Graph, r.DiversityScore)))
		}
		if r.Enhanced != nil && len(r.Enhanced.Patterns) > 0 {
			fmt.Fprintln(w, dimStyle.Render("   patterns: "+strings.Join(r.Enhanced.Patterns, ", ")))
		}
		fmt.Fprintln(w, codeStyle.Render(r.Snippet))
	}
}

func printAnalytics(w io.Writer, a searcher.AnalyticsSnapshot) {
	fmt.Fprintln(w, titleStyle.Render("Search analytics"))
	fmt.Fprintf(w, "  %-22s %d\n", "Total queries:", a.TotalQueries)
	fmt.Fprintf(w, "  %-22s %.1f%%\n", "Cache hit rate:", a.CacheHitRate*100)
	fmt.Fprintf(w, "  %-22s %s\n", "Average latency:", a.AverageResponseTime.Round(1e6))
	for _, q := range a.TopQueries {
		fmt.Fprintf(w, "  %5d  %s\n", q.Count, q.Query)
	}
}
