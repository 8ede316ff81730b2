package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/ArchyTseng/tiic-law-chat/ids"
)

// Entity is a named thing extracted from the corpus during ingest.
// Entities are a supplemental recall source: no Gate in this module
// requires graph data to be present.
type Entity struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	NameEN      string `json:"name_en"`
	EntityType  string `json:"entity_type"`
	Description string `json:"description"`
	Metadata    string `json:"metadata,omitempty"`
}

// Relationship connects two entities, optionally sourced from a specific node.
type Relationship struct {
	ID             int64   `json:"id"`
	SourceEntityID int64   `json:"source_entity_id"`
	TargetEntityID int64   `json:"target_entity_id"`
	RelationType   string  `json:"relation_type"`
	Weight         float64 `json:"weight"`
	Description    string  `json:"description"`
	SourceNodeID   ids.ID  `json:"source_node_id,omitempty"`
	Metadata       string  `json:"metadata,omitempty"`
}

// GraphHit is one node reachable via the entity graph.
type GraphHit struct {
	NodeID ids.ID
	Weight float64
}

// UpsertEntityAndLink atomically upserts an entity and links it to a node,
// preventing foreign-key failures from concurrent graph-extraction workers.
func (s *Store) UpsertEntityAndLink(ctx context.Context, e Entity, nodeID ids.ID) (int64, error) {
	var id int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO entity (name, entity_type, description, name_en, metadata)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(name, entity_type) DO UPDATE SET
				description = COALESCE(excluded.description, entity.description),
				name_en = COALESCE(excluded.name_en, entity.name_en),
				metadata = excluded.metadata
		`, e.Name, e.EntityType, e.Description, e.NameEN, e.Metadata)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		if err != nil {
			return err
		}
		if id == 0 {
			row := tx.QueryRowContext(ctx, "SELECT id FROM entity WHERE name = ? AND entity_type = ?", e.Name, e.EntityType)
			if err := row.Scan(&id); err != nil {
				return err
			}
		}
		_, err = tx.ExecContext(ctx, "INSERT OR IGNORE INTO entity_node (entity_id, node_id) VALUES (?, ?)", id, nodeID)
		return err
	})
	return id, err
}

// InsertRelationship creates a relationship between two entities.
func (s *Store) InsertRelationship(ctx context.Context, r Relationship) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO relationship (source_entity_id, target_entity_id, relation_type, weight, description, source_node_id, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.SourceEntityID, r.TargetEntityID, r.RelationType, r.Weight, r.Description, r.SourceNodeID, r.Metadata)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// SearchEntitiesByTerms finds entities whose name contains any of the
// given terms as a substring (terms shorter than 4 characters are
// skipped to avoid noise).
func (s *Store) SearchEntitiesByTerms(ctx context.Context, terms []string, limit int) ([]Entity, error) {
	if limit == 0 {
		limit = 50
	}
	var conditions []string
	var args []interface{}
	for _, t := range terms {
		if len(t) < 4 {
			continue
		}
		conditions = append(conditions, "name LIKE ?")
		args = append(args, "%"+t+"%")
	}
	if len(conditions) == 0 {
		return nil, nil
	}
	query := "SELECT id, name, entity_type, description, COALESCE(name_en, ''), metadata FROM entity WHERE " +
		strings.Join(conditions, " OR ") + " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entities []Entity
	for rows.Next() {
		var e Entity
		var metadata sql.NullString
		if err := rows.Scan(&e.ID, &e.Name, &e.EntityType, &e.Description, &e.NameEN, &metadata); err != nil {
			return nil, err
		}
		e.Metadata = metadata.String
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

// GetEntitiesByNames looks up entities by exact (lowercased) name, used by
// the graph builder to resolve a relationship endpoint that was not among
// the entities extracted from the current node.
func (s *Store) GetEntitiesByNames(ctx context.Context, names []string) ([]Entity, error) {
	if len(names) == 0 {
		return nil, nil
	}
	query := "SELECT id, name, entity_type, description, COALESCE(name_en, ''), metadata FROM entity WHERE name IN (?" +
		repeatPlaceholders(len(names)-1) + ")"
	args := make([]interface{}, len(names))
	for i, n := range names {
		args[i] = n
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entities []Entity
	for rows.Next() {
		var e Entity
		var metadata sql.NullString
		if err := rows.Scan(&e.ID, &e.Name, &e.EntityType, &e.Description, &e.NameEN, &metadata); err != nil {
			return nil, err
		}
		e.Metadata = metadata.String
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

// GetRelatedEntities performs a 1-hop expansion from the seed entity IDs.
func (s *Store) GetRelatedEntities(ctx context.Context, entityIDs []int64, limit int) ([]Entity, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}
	if limit == 0 {
		limit = 100
	}
	ph := "?" + repeatPlaceholders(len(entityIDs)-1)
	query := `
		SELECT DISTINCT e.id, e.name, e.entity_type, e.description, COALESCE(e.name_en, ''), e.metadata
		FROM entity e
		JOIN relationship r ON (e.id = r.target_entity_id OR e.id = r.source_entity_id)
		WHERE (r.source_entity_id IN (` + ph + `) OR r.target_entity_id IN (` + ph + `))
		  AND e.id NOT IN (` + ph + `)
		LIMIT ?`

	args := make([]interface{}, 0, len(entityIDs)*3+1)
	for _, id := range entityIDs {
		args = append(args, id)
	}
	for _, id := range entityIDs {
		args = append(args, id)
	}
	for _, id := range entityIDs {
		args = append(args, id)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entities []Entity
	for rows.Next() {
		var e Entity
		var metadata sql.NullString
		if err := rows.Scan(&e.ID, &e.Name, &e.EntityType, &e.Description, &e.NameEN, &metadata); err != nil {
			return nil, err
		}
		e.Metadata = metadata.String
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

// GraphSearch finds nodes reachable via entity_node links for the given
// entities, ranked by the strongest incident relationship weight.
func (s *Store) GraphSearch(ctx context.Context, entityIDs []int64, limit int) ([]GraphHit, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}
	query := `
		SELECT en.node_id, COALESCE(MAX(r.weight), 0.5)
		FROM entity_node en
		LEFT JOIN relationship r ON r.source_entity_id = en.entity_id OR r.target_entity_id = en.entity_id
		WHERE en.entity_id IN (?` + repeatPlaceholders(len(entityIDs)-1) + `)
		GROUP BY en.node_id
		ORDER BY COALESCE(MAX(r.weight), 0.5) DESC
		LIMIT ?`

	args := make([]interface{}, 0, len(entityIDs)+1)
	for _, id := range entityIDs {
		args = append(args, id)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []GraphHit
	for rows.Next() {
		var h GraphHit
		if err := rows.Scan(&h.NodeID, &h.Weight); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// AllEntities returns every entity, used by offline community detection.
func (s *Store) AllEntities(ctx context.Context) ([]Entity, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, entity_type, description, COALESCE(name_en, ''), metadata FROM entity")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entities []Entity
	for rows.Next() {
		var e Entity
		var metadata sql.NullString
		if err := rows.Scan(&e.ID, &e.Name, &e.EntityType, &e.Description, &e.NameEN, &metadata); err != nil {
			return nil, err
		}
		e.Metadata = metadata.String
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

// AllRelationships returns every relationship, used by offline community detection.
func (s *Store) AllRelationships(ctx context.Context) ([]Relationship, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_entity_id, target_entity_id, relation_type, weight, description
		FROM relationship
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rels []Relationship
	for rows.Next() {
		var r Relationship
		var desc sql.NullString
		if err := rows.Scan(&r.ID, &r.SourceEntityID, &r.TargetEntityID, &r.RelationType, &r.Weight, &desc); err != nil {
			return nil, err
		}
		r.Description = desc.String
		rels = append(rels, r)
	}
	return rels, rows.Err()
}

// InsertCommunity stores a community detection result.
func (s *Store) InsertCommunity(ctx context.Context, c Community) (int64, error) {
	res, err := s.db.ExecContext(ctx, "INSERT INTO community (level, summary, entity_ids) VALUES (?, ?, ?)",
		c.Level, c.Summary, c.EntityIDs)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Community is a detected cluster of related entities.
type Community struct {
	ID        int64  `json:"id"`
	Level     int    `json:"level"`
	Summary   string `json:"summary"`
	EntityIDs string `json:"entity_ids"`
}

// GetCommunities returns all communities at a given level.
func (s *Store) GetCommunities(ctx context.Context, level int) ([]Community, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, level, summary, entity_ids FROM community WHERE level = ?", level)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var communities []Community
	for rows.Next() {
		var c Community
		if err := rows.Scan(&c.ID, &c.Level, &c.Summary, &c.EntityIDs); err != nil {
			return nil, err
		}
		communities = append(communities, c)
	}
	return communities, rows.Err()
}

// ClearCommunities removes all community data so detection can rerun clean.
func (s *Store) ClearCommunities(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM community")
	return err
}
