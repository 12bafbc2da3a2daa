package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/dshills/reposearch/pkg/types"
)

// BuildStats counts what a Build call wrote
type BuildStats struct {
	Nodes int
	Edges int
}

// Builder creates one node per chunk and DEPENDS_ON edges between chunks.
// A chunk depends on every other chunk whose name appears in its
// dependency list. Names are not resolved against scopes or imports, so
// same-named chunks in unrelated files are all linked.
type Builder struct {
	logger *slog.Logger
}

// NewBuilder creates a builder
func NewBuilder(logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{logger: logger.With("component", "graph-builder")}
}

// Build adds nodes for added and links them with each other and with
// existing, whose nodes must already be in the store. Any write error
// aborts the build.
func (b *Builder) Build(ctx context.Context, store Store, added, existing []types.CodeChunk) (BuildStats, error) {
	var stats BuildStats
	nodeOf := make(map[string]int64, len(added)+len(existing))

	for _, c := range existing {
		node, err := store.NodeByChunkID(ctx, c.ID)
		if err != nil {
			b.logger.Debug("existing chunk has no node", "chunk", c.ID, "error", err)
			continue
		}
		nodeOf[c.ID] = node.ID
	}

	for i := range added {
		c := &added[i]
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		id, err := store.CreateNode(ctx, string(c.Type), NodeProps{
			ChunkID:   c.ID,
			Name:      c.Metadata.Name,
			Type:      c.Type,
			FilePath:  c.FilePath,
			StartLine: c.StartLine,
			EndLine:   c.EndLine,
		})
		if err != nil {
			return stats, fmt.Errorf("create node for %s: %w", c.ID, err)
		}
		nodeOf[c.ID] = id
		stats.Nodes++
	}

	byName := make(map[string][]string)
	index := func(chunks []types.CodeChunk) {
		for _, c := range chunks {
			if c.Metadata.Name != "" {
				byName[c.Metadata.Name] = append(byName[c.Metadata.Name], c.ID)
			}
		}
	}
	index(existing)
	index(added)
	for name := range byName {
		sort.Strings(byName[name])
	}

	isAdded := make(map[string]bool, len(added))
	for _, c := range added {
		isAdded[c.ID] = true
	}

	link := func(from types.CodeChunk, onlyAddedTargets bool) error {
		fromID, ok := nodeOf[from.ID]
		if !ok {
			return nil
		}
		for _, dep := range from.Metadata.Dependencies {
			for _, target := range byName[dep] {
				if target == from.ID || (onlyAddedTargets && !isAdded[target]) {
					continue
				}
				toID, ok := nodeOf[target]
				if !ok {
					continue
				}
				if err := store.CreateRelationship(ctx, fromID, toID, types.RelDependsOn); err != nil {
					return fmt.Errorf("create edge %s -> %s: %w", from.ID, target, err)
				}
				stats.Edges++
			}
		}
		return nil
	}

	for _, c := range added {
		if err := link(c, false); err != nil {
			return stats, err
		}
	}
	// existing chunks may depend on names the added chunks introduce
	for _, c := range existing {
		if err := link(c, true); err != nil {
			return stats, err
		}
	}

	b.logger.Debug("graph built", "nodes", stats.Nodes, "edges", stats.Edges)
	return stats, nil
}
