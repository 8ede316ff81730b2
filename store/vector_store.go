package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"math"

	"github.com/ArchyTseng/tiic-law-chat/ids"
)

// VectorPayload is the record searched by the vector store: an embedding
// plus the scoping and provenance columns needed to filter and cite it.
type VectorPayload struct {
	VectorID    ids.ID
	NodeID      ids.ID
	KBID        ids.ID
	FileID      ids.ID
	DocumentID  ids.ID
	Page        int
	ArticleID   string
	SectionPath string
}

// VectorHit is one k-NN search result: a payload plus its similarity score.
type VectorHit struct {
	Payload    VectorPayload
	Score      float64 // cosine similarity, higher is better
	MetricType string
}

// NodeVector pairs a payload with its embedding, the unit the Ingest
// Engine hands to PersistIngest once the Embed stage has finished.
type NodeVector struct {
	Payload   VectorPayload
	Embedding []float32
}

// InsertVector writes one embedding and its payload. Vector IDs are opaque
// and stable; writes are expected to be batched per file by the caller.
func (s *Store) InsertVector(ctx context.Context, payload VectorPayload, embedding []float32) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return insertVectorTx(ctx, tx, payload, embedding)
	})
}

// insertVectorTx writes the vec_node row, its payload, and the
// node_vector_map entry inside an existing transaction.
func insertVectorTx(ctx context.Context, tx *sql.Tx, payload VectorPayload, embedding []float32) error {
	res, err := tx.ExecContext(ctx, "INSERT INTO vec_node (embedding) VALUES (?)", serializeFloat32(embedding))
	if err != nil {
		return err
	}
	rowid, err := res.LastInsertId()
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO vector_payload (vector_id, vec_rowid, node_id, kb_id, file_id, document_id, page, article_id, section_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, payload.VectorID, rowid, payload.NodeID, payload.KBID, payload.FileID, payload.DocumentID,
		payload.Page, payload.ArticleID, payload.SectionPath)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO node_vector_map (node_id, vector_id, kb_id) VALUES (?, ?, ?)
	`, payload.NodeID, payload.VectorID, payload.KBID)
	return err
}

// Search performs a k-NN search over the vectors of a single KB (kb_scope
// always includes at least kb_id). metric_type is always
// "cosine" in this store; it is returned on every hit so callers can
// record it in score_details without depending on this package's internals.
func (s *Store) Search(ctx context.Context, kbID ids.ID, queryEmbedding []float32, topK int) ([]VectorHit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.vector_id, p.node_id, p.kb_id, p.file_id, p.document_id, p.page, p.article_id, p.section_path, v.distance
		FROM vec_node v
		JOIN vector_payload p ON p.vec_rowid = v.rowid
		WHERE v.embedding MATCH ? AND k = ? AND p.kb_id = ?
		ORDER BY v.distance
	`, serializeFloat32(queryEmbedding), topK, kbID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []VectorHit
	for rows.Next() {
		var p VectorPayload
		var articleID, sectionPath sql.NullString
		var distance float64
		if err := rows.Scan(&p.VectorID, &p.NodeID, &p.KBID, &p.FileID, &p.DocumentID, &p.Page,
			&articleID, &sectionPath, &distance); err != nil {
			return nil, err
		}
		p.ArticleID = articleID.String
		p.SectionPath = sectionPath.String
		hits = append(hits, VectorHit{Payload: p, Score: 1.0 - distance, MetricType: "cosine"})
	}
	return hits, rows.Err()
}

// NodeVectorCount returns how many live node_vector_map rows exist for a
// file — used to check invariant |NodeVectorMap(file)| == |Node(file)|.
func (s *Store) NodeVectorCount(ctx context.Context, fileID ids.ID) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM node_vector_map m JOIN node n ON n.id = m.node_id WHERE n.file_id = ?
	`, fileID).Scan(&count)
	return count, err
}

// NodeHasVector reports whether a single node has a live node_vector_map row.
func (s *Store) NodeHasVector(ctx context.Context, nodeID ids.ID) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM node_vector_map WHERE node_id = ?", nodeID).Scan(&count)
	return count > 0, err
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
