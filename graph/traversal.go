package graph

import (
	"context"
	"fmt"

	"github.com/ArchyTseng/tiic-law-chat/ids"
	"github.com/ArchyTseng/tiic-law-chat/store"
)

// TraversalResult contains entities and nodes found via graph traversal.
type TraversalResult struct {
	EntityIDs []int64
	NodeIDs   []ids.ID
}

// Traverse finds entities matching query terms and follows relationships
// to discover related nodes. Uses BFS with configurable depth.
//
// queryEntities are entity names (case-insensitive lookup). The traversal
// walks outgoing and incoming relationships up to maxDepth hops, collecting
// all entity IDs and their associated node IDs.
func Traverse(ctx context.Context, s *store.Store, queryEntities []string, maxDepth int) (*TraversalResult, error) {
	if len(queryEntities) == 0 || maxDepth < 0 {
		return &TraversalResult{}, nil
	}

	// Seed: look up entities by name.
	seeds, err := s.GetEntitiesByNames(ctx, queryEntities)
	if err != nil {
		return nil, fmt.Errorf("graph.Traverse: looking up seed entities: %w", err)
	}
	if len(seeds) == 0 {
		return &TraversalResult{}, nil
	}

	// Load the full graph into memory for fast traversal.
	allRels, err := s.AllRelationships(ctx)
	if err != nil {
		return nil, fmt.Errorf("graph.Traverse: loading relationships: %w", err)
	}

	// Build adjacency: entity ID -> list of neighbour entity IDs.
	neighbours := make(map[int64][]int64)
	for _, r := range allRels {
		neighbours[r.SourceEntityID] = append(neighbours[r.SourceEntityID], r.TargetEntityID)
		neighbours[r.TargetEntityID] = append(neighbours[r.TargetEntityID], r.SourceEntityID)
	}

	// BFS from seed entities.
	visited := make(map[int64]bool)
	queue := make([]int64, 0, len(seeds))
	for _, e := range seeds {
		if !visited[e.ID] {
			visited[e.ID] = true
			queue = append(queue, e.ID)
		}
	}

	for depth := 0; depth < maxDepth && len(queue) > 0; depth++ {
		var next []int64
		for _, eid := range queue {
			for _, nid := range neighbours[eid] {
				if !visited[nid] {
					visited[nid] = true
					next = append(next, nid)
				}
			}
		}
		queue = next
	}

	// Collect all visited entity IDs.
	entityIDs := make([]int64, 0, len(visited))
	for id := range visited {
		entityIDs = append(entityIDs, id)
	}

	// Resolve node IDs linked to the discovered entities via entity_node.
	nodeIDs, err := nodeIDsForEntities(ctx, s, entityIDs)
	if err != nil {
		return nil, fmt.Errorf("graph.Traverse: resolving nodes: %w", err)
	}

	return &TraversalResult{
		EntityIDs: entityIDs,
		NodeIDs:   nodeIDs,
	}, nil
}

// nodeIDsForEntities queries the entity_node table to find all node IDs
// linked to the given entity IDs. It queries in batches to avoid overly
// large IN clauses.
func nodeIDsForEntities(ctx context.Context, s *store.Store, entityIDs []int64) ([]ids.ID, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}

	db := s.DB()

	const batchSize = 200
	seen := make(map[ids.ID]bool)
	var result []ids.ID

	for start := 0; start < len(entityIDs); start += batchSize {
		end := start + batchSize
		if end > len(entityIDs) {
			end = len(entityIDs)
		}
		batch := entityIDs[start:end]

		placeholders := "?"
		for i := 1; i < len(batch); i++ {
			placeholders += ", ?"
		}

		query := "SELECT DISTINCT node_id FROM entity_node WHERE entity_id IN (" + placeholders + ")"
		args := make([]interface{}, len(batch))
		for i, id := range batch {
			args[i] = id
		}

		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("querying entity_node: %w", err)
		}

		for rows.Next() {
			var nid ids.ID
			if err := rows.Scan(&nid); err != nil {
				rows.Close()
				return nil, err
			}
			if !seen[nid] {
				seen[nid] = true
				result = append(result, nid)
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}

	return result, nil
}
