package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ArchyTseng/tiic-law-chat/ids"
)

// KnowledgeBase is a named corpus with its own embedding configuration
// and vector collection. Immutable once referenced by a file.
type KnowledgeBase struct {
	ID             ids.ID `json:"id"`
	Name           string `json:"name"`
	EmbedProvider  string `json:"embed_provider"`
	EmbedModel     string `json:"embed_model"`
	EmbedDim       int    `json:"embed_dim"`
	ChunkingConfig string `json:"chunking_config,omitempty"`
}

// KnowledgeFile is an ingested source file. sha256 is the idempotency
// key within a KB.
type KnowledgeFile struct {
	ID           ids.ID `json:"id"`
	KBID         ids.ID `json:"kb_id"`
	FileName     string `json:"file_name"`
	SHA256       string `json:"sha256"`
	IngestStatus string `json:"ingest_status"` // pending, success, failed
	Pages        int    `json:"pages"`
	NodeCount    int    `json:"node_count"`
	Timings      string `json:"timings,omitempty"`
}

// Document is the logical document derived from a file.
type Document struct {
	ID             ids.ID `json:"id"`
	FileID         ids.ID `json:"file_id"`
	KBID           ids.ID `json:"kb_id"`
	PageCount      int    `json:"page_count"`
	ParserMetadata string `json:"parser_metadata,omitempty"`
}

// Node is the smallest addressable evidence unit: an ordered, metadata-rich
// chunk of a parsed document.
type Node struct {
	ID           ids.ID `json:"id"`
	KBID         ids.ID `json:"kb_id"`
	FileID       ids.ID `json:"file_id"`
	DocumentID   ids.ID `json:"document_id"`
	NodeIndex    int    `json:"node_index"`
	Text         string `json:"text"`
	Page         int    `json:"page,omitempty"`
	ArticleID    string `json:"article_id,omitempty"`
	SectionPath  string `json:"section_path,omitempty"`
	StartOffset  int    `json:"start_offset,omitempty"`
	EndOffset    int    `json:"end_offset,omitempty"`
	MetaData     string `json:"meta_data,omitempty"`
}

// KeywordHit is one BM25 match from SearchNodesByKeyword: normalized so
// that a higher score is always better.
type KeywordHit struct {
	NodeID ids.ID
	Score  float64
}

// InsertKB creates a new knowledge base. The caller supplies the ID so
// the admin CLI can report it before the row exists.
func (s *Store) InsertKB(ctx context.Context, kb KnowledgeBase) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kb (id, name, embed_provider, embed_model, embed_dim, chunking_config)
		VALUES (?, ?, ?, ?, ?, ?)
	`, kb.ID, kb.Name, kb.EmbedProvider, kb.EmbedModel, kb.EmbedDim, kb.ChunkingConfig)
	return err
}

// GetKB retrieves a knowledge base by ID.
func (s *Store) GetKB(ctx context.Context, id ids.ID) (*KnowledgeBase, error) {
	kb := &KnowledgeBase{}
	var cfg sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, embed_provider, embed_model, embed_dim, chunking_config
		FROM kb WHERE id = ?
	`, id).Scan(&kb.ID, &kb.Name, &kb.EmbedProvider, &kb.EmbedModel, &kb.EmbedDim, &cfg)
	if err != nil {
		return nil, err
	}
	kb.ChunkingConfig = cfg.String
	return kb, nil
}

// GetKBByName retrieves a knowledge base by its unique name.
func (s *Store) GetKBByName(ctx context.Context, name string) (*KnowledgeBase, error) {
	kb := &KnowledgeBase{}
	var cfg sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, embed_provider, embed_model, embed_dim, chunking_config
		FROM kb WHERE name = ?
	`, name).Scan(&kb.ID, &kb.Name, &kb.EmbedProvider, &kb.EmbedModel, &kb.EmbedDim, &cfg)
	if err != nil {
		return nil, err
	}
	kb.ChunkingConfig = cfg.String
	return kb, nil
}

// FindFileBySHA256 looks up an existing file within a KB by content hash,
// the idempotency check the Ingest Engine uses before reparsing.
func (s *Store) FindFileBySHA256(ctx context.Context, kbID ids.ID, sha256 string) (*KnowledgeFile, error) {
	f := &KnowledgeFile{}
	var timings sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, kb_id, file_name, sha256, ingest_status, pages, node_count, timings
		FROM knowledge_file WHERE kb_id = ? AND sha256 = ?
	`, kbID, sha256).Scan(&f.ID, &f.KBID, &f.FileName, &f.SHA256, &f.IngestStatus, &f.Pages, &f.NodeCount, &timings)
	if err != nil {
		return nil, err
	}
	f.Timings = timings.String
	return f, nil
}

// InsertFile creates a new knowledge_file row in status "pending".
func (s *Store) InsertFile(ctx context.Context, f KnowledgeFile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO knowledge_file (id, kb_id, file_name, sha256, ingest_status, pages, node_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, f.ID, f.KBID, f.FileName, f.SHA256, f.IngestStatus, f.Pages, f.NodeCount)
	return err
}

// UpdateFileStatus sets the terminal ingest_status, page count, node count,
// and per-stage timing snapshot once ingest finishes (success or failed).
func (s *Store) UpdateFileStatus(ctx context.Context, id ids.ID, status string, pages, nodeCount int, timings map[string]int64) error {
	timingsJSON, _ := json.Marshal(timings)
	_, err := s.db.ExecContext(ctx, `
		UPDATE knowledge_file SET ingest_status = ?, pages = ?, node_count = ?, timings = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, status, pages, nodeCount, string(timingsJSON), id)
	return err
}

// GetFile retrieves a knowledge_file by ID.
func (s *Store) GetFile(ctx context.Context, id ids.ID) (*KnowledgeFile, error) {
	f := &KnowledgeFile{}
	var timings sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, kb_id, file_name, sha256, ingest_status, pages, node_count, timings
		FROM knowledge_file WHERE id = ?
	`, id).Scan(&f.ID, &f.KBID, &f.FileName, &f.SHA256, &f.IngestStatus, &f.Pages, &f.NodeCount, &timings)
	if err != nil {
		return nil, err
	}
	f.Timings = timings.String
	return f, nil
}

// ListFiles returns every file in a KB, most recent first.
func (s *Store) ListFiles(ctx context.Context, kbID ids.ID) ([]KnowledgeFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kb_id, file_name, sha256, ingest_status, pages, node_count, timings
		FROM knowledge_file WHERE kb_id = ? ORDER BY created_at DESC
	`, kbID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []KnowledgeFile
	for rows.Next() {
		var f KnowledgeFile
		var timings sql.NullString
		if err := rows.Scan(&f.ID, &f.KBID, &f.FileName, &f.SHA256, &f.IngestStatus, &f.Pages, &f.NodeCount, &timings); err != nil {
			return nil, err
		}
		f.Timings = timings.String
		files = append(files, f)
	}
	return files, rows.Err()
}

// DeleteFile removes a file and cascades to its document, nodes, vectors,
// and graph links.
func (s *Store) DeleteFile(ctx context.Context, id ids.ID) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM knowledge_file WHERE id = ?", id)
	return err
}

// InsertDocument creates the logical document row for a file.
func (s *Store) InsertDocument(ctx context.Context, d Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO document (id, file_id, kb_id, page_count, parser_metadata)
		VALUES (?, ?, ?, ?, ?)
	`, d.ID, d.FileID, d.KBID, d.PageCount, d.ParserMetadata)
	return err
}

// InsertNodes inserts a batch of nodes transactionally. Nodes must already
// carry contiguous node_index values and real IDs (minted by the caller
// via ids.New); there is no ID remapping step here since
// node_vector_map and citations address nodes directly.
func (s *Store) InsertNodes(ctx context.Context, nodes []Node) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return insertNodesTx(ctx, tx, nodes)
	})
}

func insertNodesTx(ctx context.Context, tx *sql.Tx, nodes []Node) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO node (id, kb_id, file_id, document_id, node_index, text, page,
			article_id, section_path, start_offset, end_offset, meta_data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, n := range nodes {
		if _, err := stmt.ExecContext(ctx, n.ID, n.KBID, n.FileID, n.DocumentID, n.NodeIndex,
			n.Text, n.Page, n.ArticleID, n.SectionPath, n.StartOffset, n.EndOffset, n.MetaData); err != nil {
			return fmt.Errorf("inserting node %d: %w", n.NodeIndex, err)
		}
	}
	return nil
}

// PersistIngest writes one file's document, nodes, and vectors in a
// single transaction — the Persist stage of the Ingest Engine. A
// failure at any point rolls the whole batch back, so a file that ends
// "failed" leaves no node, FTS, or vector rows behind for retrieval to
// find (all-or-nothing per file).
func (s *Store) PersistIngest(ctx context.Context, doc Document, nodes []Node, vectors []NodeVector) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO document (id, file_id, kb_id, page_count, parser_metadata)
			VALUES (?, ?, ?, ?, ?)
		`, doc.ID, doc.FileID, doc.KBID, doc.PageCount, doc.ParserMetadata); err != nil {
			return fmt.Errorf("inserting document: %w", err)
		}
		if err := insertNodesTx(ctx, tx, nodes); err != nil {
			return err
		}
		for _, v := range vectors {
			if err := insertVectorTx(ctx, tx, v.Payload, v.Embedding); err != nil {
				return fmt.Errorf("inserting vector for node %s: %w", v.Payload.NodeID, err)
			}
		}
		return nil
	})
}

// GetNode retrieves a single node by ID.
func (s *Store) GetNode(ctx context.Context, id ids.ID) (*Node, error) {
	n := &Node{}
	var meta sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, kb_id, file_id, document_id, node_index, text, page, article_id, section_path,
			start_offset, end_offset, meta_data
		FROM node WHERE id = ?
	`, id).Scan(&n.ID, &n.KBID, &n.FileID, &n.DocumentID, &n.NodeIndex, &n.Text, &n.Page,
		&n.ArticleID, &n.SectionPath, &n.StartOffset, &n.EndOffset, &meta)
	if err != nil {
		return nil, err
	}
	n.MetaData = meta.String
	return n, nil
}

// GetNodesByFile returns every node of a file in node_index order.
func (s *Store) GetNodesByFile(ctx context.Context, fileID ids.ID) ([]Node, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kb_id, file_id, document_id, node_index, text, page, article_id, section_path,
			start_offset, end_offset, meta_data
		FROM node WHERE file_id = ? ORDER BY node_index
	`, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []Node
	for rows.Next() {
		var n Node
		var meta sql.NullString
		if err := rows.Scan(&n.ID, &n.KBID, &n.FileID, &n.DocumentID, &n.NodeIndex, &n.Text, &n.Page,
			&n.ArticleID, &n.SectionPath, &n.StartOffset, &n.EndOffset, &meta); err != nil {
			return nil, err
		}
		n.MetaData = meta.String
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// GetPage returns the concatenated text of every node on a given page of
// a document, truncated to maxChars — the evidence-preview lookup named
// in the external interfaces section.
func (s *Store) GetPage(ctx context.Context, documentID ids.ID, page int, maxChars int) (string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT text FROM node WHERE document_id = ? AND page = ? ORDER BY node_index
	`, documentID, page)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var out string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return "", err
		}
		if out != "" {
			out += "\n\n"
		}
		out += text
		if maxChars > 0 && len(out) >= maxChars {
			out = out[:maxChars]
			break
		}
	}
	return out, rows.Err()
}

// SampleNodes returns up to limit nodes' text, used by the cross-language
// translator to detect the dominant document language of a KB.
func (s *Store) SampleNodes(ctx context.Context, kbID ids.ID, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT text FROM node WHERE kb_id = ? ORDER BY RANDOM() LIMIT ?
	`, kbID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var texts []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, err
		}
		texts = append(texts, text)
	}
	return texts, rows.Err()
}

// SearchNodesByKeyword runs a BM25 full-text search scoped to a KB and
// returns normalized, higher-is-better scores (normalizer
// "fts5_rank_negate": FTS5's rank is negative and lower-is-better, so the
// score leaving this store is -rank, clamped at zero).
func (s *Store) SearchNodesByKeyword(ctx context.Context, kbID ids.ID, query string, topK int) ([]KeywordHit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT n.id, f.rank
		FROM node_fts f
		JOIN node n ON n.rowid = f.rowid
		WHERE node_fts MATCH ? AND n.kb_id = ?
		ORDER BY f.rank
		LIMIT ?
	`, query, kbID, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []KeywordHit
	for rows.Next() {
		var nodeID ids.ID
		var rank float64
		if err := rows.Scan(&nodeID, &rank); err != nil {
			return nil, err
		}
		score := -rank
		if score < 0 {
			score = 0
		}
		hits = append(hits, KeywordHit{NodeID: nodeID, Score: score})
	}
	return hits, rows.Err()
}
