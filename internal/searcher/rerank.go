package searcher

import (
	"context"
	"errors"
	"math"
	"sort"

	"github.com/dshills/reposearch/internal/embedder"
	"github.com/dshills/reposearch/internal/graph"
	"github.com/dshills/reposearch/internal/storage"
	"github.com/dshills/reposearch/pkg/types"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75

	centralityShare  = 0.6
	relatednessShare = 0.4
	relatednessCap   = 3.0
)

// BM25 scores each document against the query terms. Document frequencies
// come from docs itself, so scores are relative to the candidate set. The
// idf form log(1 + (N-df+0.5)/(df+0.5)) keeps every score non-negative.
func BM25(terms []string, docs [][]string) []float64 {
	scores := make([]float64, len(docs))
	if len(terms) == 0 || len(docs) == 0 {
		return scores
	}

	unique := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		unique[t] = struct{}{}
	}

	var totalLen int
	df := make(map[string]int, len(unique))
	tfs := make([]map[string]int, len(docs))
	for i, doc := range docs {
		totalLen += len(doc)
		tf := make(map[string]int)
		for _, tok := range doc {
			if _, ok := unique[tok]; ok {
				tf[tok]++
			}
		}
		for t := range tf {
			df[t]++
		}
		tfs[i] = tf
	}
	if totalLen == 0 {
		return scores
	}

	n := float64(len(docs))
	avgLen := float64(totalLen) / n
	for i, doc := range docs {
		norm := bm25K1 * (1 - bm25B + bm25B*float64(len(doc))/avgLen)
		for t := range unique {
			tf := float64(tfs[i][t])
			if tf == 0 {
				continue
			}
			d := float64(df[t])
			idf := math.Log(1 + (n-d+0.5)/(d+0.5))
			scores[i] += idf * tf * (bm25K1 + 1) / (tf + norm)
		}
	}
	return scores
}

// rerank fills RerankScores for every candidate and sorts by the combined
// score. It reports whether a graph lookup failed.
func (e *Engine) rerank(ctx context.Context, query string, terms []string, queryVec []float32, cands []*candidate, w Weights) bool {
	docs := make([][]string, len(cands))
	for i, c := range cands {
		docs[i] = embedder.Tokenize(c.chunk.Content)
	}
	bm := BM25(embedder.Tokenize(query), docs)
	var bmMax float64
	for _, s := range bm {
		bmMax = max(bmMax, s)
	}

	degraded := false
	for i, c := range cands {
		if ctx.Err() != nil {
			return degraded
		}
		scores := &types.RerankScores{}

		if queryVec != nil {
			if vec, ok := e.chunks.Vector(c.result.ID); ok && len(vec) == len(queryVec) {
				scores.Cosine = (storage.CosineSimilarity(queryVec, vec) + 1) / 2
			}
		}
		if bmMax > 0 {
			scores.BM25 = bm[i] / bmMax
		}
		scores.Neural = clamp01(e.neural.Score(ctx, query, &c.chunk))

		g, err := e.graphScore(ctx, c.result.ID, terms)
		if err != nil {
			degraded = true
			e.logger.Warn("graph rerank failed", "chunk", c.result.ID, "error", err)
		}
		scores.Graph = g

		scores.Combined = w.Cosine*scores.Cosine + w.BM25*scores.BM25 +
			w.Neural*scores.Neural + w.Graph*scores.Graph
		c.result.RerankScores = scores
	}

	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i].result.RerankScores.Combined, cands[j].result.RerankScores.Combined
		if a != b {
			return a > b
		}
		return cands[i].result.ID < cands[j].result.ID
	})
	return degraded
}

// graphScore is 0.6·centrality + 0.4·min(relatedness/3, 1). Chunks without
// a node score 0.
func (e *Engine) graphScore(ctx context.Context, chunkID string, terms []string) (float64, error) {
	if e.graph == nil {
		return 0, nil
	}
	node, err := e.graph.NodeByChunkID(ctx, chunkID)
	if errors.Is(err, graph.ErrNodeNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	centrality, err := e.graph.CalculateCentrality(ctx, node.ID)
	if err != nil {
		return 0, err
	}
	related, err := graph.Relatedness(ctx, e.graph, chunkID, terms, relatednessDepth)
	if err != nil {
		return 0, err
	}
	return centralityShare*centrality + relatednessShare*min(float64(related)/relatednessCap, 1), nil
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return max(0, min(1, v))
}
