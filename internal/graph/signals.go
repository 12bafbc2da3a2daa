package graph

import (
	"context"
	"strings"

	"github.com/dshills/reposearch/pkg/types"
)

// Relatedness counts nodes within depth hops of the chunk whose name
// contains one of terms. terms must already be lowercase.
func Relatedness(ctx context.Context, store Store, chunkID string, terms []string, depth int) (int, error) {
	node, err := store.NodeByChunkID(ctx, chunkID)
	if err != nil {
		return 0, err
	}
	related, err := store.FindRelatedNodes(ctx, node.ID, depth)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range related {
		if nameMatches(r.Node.Name, terms) {
			n++
		}
	}
	return n, nil
}

// Enrich collects the graph signals attached to a search result: related
// entities weighted 1/depth, a relationship score and the node centrality
func Enrich(ctx context.Context, store Store, chunkID string, terms []string, depth int) (*types.GraphSignals, error) {
	node, err := store.NodeByChunkID(ctx, chunkID)
	if err != nil {
		return nil, err
	}
	related, err := store.FindRelatedNodes(ctx, node.ID, depth)
	if err != nil {
		return nil, err
	}
	centrality, err := store.CalculateCentrality(ctx, node.ID)
	if err != nil {
		return nil, err
	}

	signals := &types.GraphSignals{
		RelatedEntities: make([]types.RelatedEntity, 0, len(related)),
		Centrality:      centrality,
	}
	var matched float64
	for _, r := range related {
		entity, ok := types.EntityOf(r)
		if !ok {
			continue
		}
		signals.RelatedEntities = append(signals.RelatedEntities, entity)
		if nameMatches(entity.Name, terms) {
			matched += entity.Weight
		}
	}
	if n := len(signals.RelatedEntities); n > 0 {
		signals.RelationshipScore = min(matched/float64(n), 1)
	}
	return signals, nil
}

func nameMatches(name string, terms []string) bool {
	if name == "" {
		return false
	}
	lower := strings.ToLower(name)
	for _, t := range terms {
		if t != "" && strings.Contains(lower, t) {
			return true
		}
	}
	return false
}
