package searcher

import (
	"math"
	"sort"

	"github.com/dshills/reposearch/pkg/types"
)

const (
	sameFileWindow    = 50.0
	samePackageSim    = 0.5
	otherPackageSim   = 0.1
	finalCombinedPart = 0.6
	finalDiversity    = 0.2
	finalNovelty      = 0.2
)

// Similarity of two results by location: line distance within a file,
// otherwise whether they share a top-level package
func Similarity(a, b *types.SearchResult) float64 {
	if a.FilePath == b.FilePath {
		d := math.Abs(float64(a.StartLine - b.StartLine))
		return 1 - min(1, d/sameFileWindow)
	}
	if types.PackageOf(a.FilePath) == types.PackageOf(b.FilePath) {
		return samePackageSim
	}
	return otherPackageSim
}

// Diversity is 1 minus the highest similarity to any accepted result. The
// first result has diversity 1.
func Diversity(r *types.SearchResult, accepted []types.SemanticSearchResult) float64 {
	if len(accepted) == 0 {
		return 1
	}
	var maxSim float64
	for i := range accepted {
		maxSim = max(maxSim, Similarity(r, &accepted[i].SearchResult))
	}
	return 1 - maxSim
}

// diversify walks the reranked candidates, scores diversity and novelty,
// and keeps a candidate if it is diverse enough or fewer than maxResults
// have been kept
func diversify(cands []*candidate, threshold float64, maxResults int, novelty NoveltyEstimator) []types.SemanticSearchResult {
	accepted := make([]types.SemanticSearchResult, 0, maxResults)
	for _, c := range cands {
		r := c.result
		combined := r.Score
		if r.RerankScores != nil {
			combined = r.RerankScores.Combined
		}
		r.DiversityScore = Diversity(&r.SearchResult, accepted)
		r.NoveltyScore = clamp01(novelty.Novelty(&r))
		r.FinalScore = finalCombinedPart*combined + finalDiversity*r.DiversityScore + finalNovelty*r.NoveltyScore

		if r.DiversityScore >= threshold || len(accepted) < maxResults {
			accepted = append(accepted, r)
		}
	}

	sort.SliceStable(accepted, func(i, j int) bool {
		if accepted[i].FinalScore != accepted[j].FinalScore {
			return accepted[i].FinalScore > accepted[j].FinalScore
		}
		return accepted[i].ID < accepted[j].ID
	})
	if len(accepted) > maxResults {
		accepted = accepted[:maxResults]
	}
	return accepted
}
