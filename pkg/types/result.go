package types

import "time"

// ResultContext holds source lines surrounding a result
type ResultContext struct {
	Before []string `json:"before"`
	After  []string `json:"after"`
}

// SearchResult is a single ranked hit returned to callers
type SearchResult struct {
	ID        string        `json:"id"`
	FilePath  string        `json:"filePath"`
	StartLine int           `json:"startLine"`
	EndLine   int           `json:"endLine"`
	Type      ChunkType     `json:"type"`
	Score     float64       `json:"score"`
	Snippet   string        `json:"snippet"`
	Metadata  ChunkMetadata `json:"metadata"`
	Context   ResultContext `json:"context"`
}

// RerankScores records the individual signals combined during reranking
type RerankScores struct {
	Cosine   float64 `json:"cosine"`
	BM25     float64 `json:"bm25"`
	Neural   float64 `json:"neural"`
	Graph    float64 `json:"graph"`
	Combined float64 `json:"combined"`
}

// Enhancement is the contextual analysis attached to a result
type Enhancement struct {
	Patterns []string `json:"patterns"`
	Summary  string   `json:"summary"`
}

// GraphSignals are graph-derived fields attached to a result
type GraphSignals struct {
	RelatedEntities   []RelatedEntity `json:"relatedEntities"`
	RelationshipScore float64         `json:"relationshipScore"`
	Centrality        float64         `json:"centrality"`
}

// SemanticSearchResult extends SearchResult with reranking, diversity and
// graph signals produced by the hybrid engine
type SemanticSearchResult struct {
	SearchResult
	DiversityScore float64       `json:"diversityScore"`
	NoveltyScore   float64       `json:"noveltyScore"`
	FinalScore     float64       `json:"finalScore"`
	RerankScores   *RerankScores `json:"rerankScores,omitempty"`
	Enhanced       *Enhancement  `json:"enhanced,omitempty"`
	Graph          *GraphSignals `json:"graph,omitempty"`
}

// Clone returns a deep copy of the result
func (r SemanticSearchResult) Clone() SemanticSearchResult {
	out := r
	out.Metadata.Parameters = append([]string(nil), r.Metadata.Parameters...)
	out.Metadata.Dependencies = append([]string(nil), r.Metadata.Dependencies...)
	out.Context.Before = append([]string(nil), r.Context.Before...)
	out.Context.After = append([]string(nil), r.Context.After...)
	if r.RerankScores != nil {
		rs := *r.RerankScores
		out.RerankScores = &rs
	}
	if r.Enhanced != nil {
		e := Enhancement{
			Patterns: append([]string(nil), r.Enhanced.Patterns...),
			Summary:  r.Enhanced.Summary,
		}
		out.Enhanced = &e
	}
	if r.Graph != nil {
		g := *r.Graph
		g.RelatedEntities = append([]RelatedEntity(nil), r.Graph.RelatedEntities...)
		out.Graph = &g
	}
	return out
}

// SearchResponse wraps the results of one hybrid search.
// Degraded is set when a strategy, enrichment step or the query deadline
// cut the pipeline short.
type SearchResponse struct {
	Results  []SemanticSearchResult `json:"results"`
	Degraded bool                   `json:"degraded"`
	CacheHit bool                   `json:"cacheHit"`
	Duration time.Duration          `json:"duration"`
}
