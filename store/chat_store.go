package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/ArchyTseng/tiic-law-chat/ids"
)

// Message.status is the single observable truth of a query's outcome.
const (
	MessageStatusPending = "pending"
	MessageStatusSuccess = "success"
	MessageStatusFailed  = "failed"
	MessageStatusBlocked = "blocked"
)

// Conversation is a sequence of messages.
type Conversation struct {
	ID   ids.ID `json:"id"`
	KBID ids.ID `json:"kb_id"`
}

// Message records one turn of a conversation.
type Message struct {
	ID             ids.ID `json:"id"`
	ConversationID ids.ID `json:"conversation_id"`
	KBID           ids.ID `json:"kb_id"`
	QueryText      string `json:"query_text"`
	Status         string `json:"status"`
}

// RetrievalRecord is the immutable record of one retrieval run.
type RetrievalRecord struct {
	ID                ids.ID `json:"id"`
	MessageID         ids.ID `json:"message_id"`
	KBID              ids.ID `json:"kb_id"`
	QueryText         string `json:"query_text"`
	KeywordTopK       int    `json:"keyword_top_k"`
	VectorTopK        int    `json:"vector_top_k"`
	FusionTopK        int    `json:"fusion_top_k"`
	RerankTopK        int    `json:"rerank_top_k"`
	FusionStrategy    string `json:"fusion_strategy"`
	RerankStrategy    string `json:"rerank_strategy"`
	ProviderSnapshot  string `json:"provider_snapshot,omitempty"`
	TimingMs          string `json:"timing_ms,omitempty"`
}

// RetrievalHit is one persisted hit of a RetrievalRecord.
type RetrievalHit struct {
	RetrievalRecordID ids.ID  `json:"retrieval_record_id"`
	NodeID            ids.ID  `json:"node_id"`
	Source            string  `json:"source"` // keyword, vector, fused, reranked
	Rank              int     `json:"rank"`
	Score             float64 `json:"score"`
	ScoreDetails      string  `json:"score_details,omitempty"`
	Excerpt           string  `json:"excerpt,omitempty"`
	Page              int     `json:"page,omitempty"`
	StartOffset       int     `json:"start_offset,omitempty"`
	EndOffset         int     `json:"end_offset,omitempty"`
}

// GenerationRecord is the immutable record of one generation run.
type GenerationRecord struct {
	ID                ids.ID `json:"id"`
	MessageID         ids.ID `json:"message_id"`
	RetrievalRecordID ids.ID `json:"retrieval_record_id"`
	PromptName        string `json:"prompt_name"`
	PromptVersion     string `json:"prompt_version"`
	ModelProvider     string `json:"model_provider"`
	ModelName         string `json:"model_name"`
	MessagesSnapshot  string `json:"messages_snapshot,omitempty"`
	OutputRaw         string `json:"output_raw,omitempty"`
	OutputStructured  string `json:"output_structured,omitempty"`
	Citations         string `json:"citations,omitempty"`
	Status            string `json:"status"` // success, partial, failed
	ErrorMessage       string `json:"error_message,omitempty"`
}

// EvaluationRecord is the immutable verdict of one evaluator run.
type EvaluationRecord struct {
	ID                  ids.ID `json:"id"`
	MessageID           ids.ID `json:"message_id"`
	RetrievalRecordID   ids.ID `json:"retrieval_record_id"`
	GenerationRecordID  ids.ID `json:"generation_record_id"`
	Status              string `json:"status"` // pass, partial, fail, skipped
	RuleVersion         string `json:"rule_version"`
	Config              string `json:"config,omitempty"`
	Checks              string `json:"checks,omitempty"`
	Scores              string `json:"scores,omitempty"`
	Meta                string `json:"meta,omitempty"`
}

// InsertConversation creates a new conversation.
func (s *Store) InsertConversation(ctx context.Context, c Conversation) error {
	_, err := s.db.ExecContext(ctx, "INSERT INTO conversation (id, kb_id) VALUES (?, ?)", c.ID, c.KBID)
	return err
}

// InsertMessage creates a message in status pending.
func (s *Store) InsertMessage(ctx context.Context, m Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO message (id, conversation_id, kb_id, query_text, status)
		VALUES (?, ?, ?, ?, ?)
	`, m.ID, m.ConversationID, m.KBID, m.QueryText, m.Status)
	return err
}

// UpdateMessageStatus sets the terminal status of a message.
func (s *Store) UpdateMessageStatus(ctx context.Context, id ids.ID, status string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE message SET status = ? WHERE id = ?", status, id)
	return err
}

// InsertRetrievalRecord writes the record and its hits transactionally.
// Per the weak-query policy, hits may be empty while the record itself is
// still written.
func (s *Store) InsertRetrievalRecord(ctx context.Context, r RetrievalRecord, hits []RetrievalHit) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO retrieval_record (id, message_id, kb_id, query_text, keyword_top_k, vector_top_k,
				fusion_top_k, rerank_top_k, fusion_strategy, rerank_strategy, provider_snapshot, timing_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, r.ID, r.MessageID, r.KBID, r.QueryText, r.KeywordTopK, r.VectorTopK, r.FusionTopK, r.RerankTopK,
			r.FusionStrategy, r.RerankStrategy, r.ProviderSnapshot, r.TimingMs)
		if err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO retrieval_hit (retrieval_record_id, node_id, source, rank, score, score_details,
				excerpt, page, start_offset, end_offset)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, h := range hits {
			if _, err := stmt.ExecContext(ctx, r.ID, h.NodeID, h.Source, h.Rank, h.Score, h.ScoreDetails,
				h.Excerpt, h.Page, h.StartOffset, h.EndOffset); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetRetrievalRecord retrieves a retrieval record by ID.
func (s *Store) GetRetrievalRecord(ctx context.Context, id ids.ID) (*RetrievalRecord, error) {
	r := &RetrievalRecord{}
	var snap, timing sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, message_id, kb_id, query_text, keyword_top_k, vector_top_k, fusion_top_k, rerank_top_k,
			fusion_strategy, rerank_strategy, provider_snapshot, timing_ms
		FROM retrieval_record WHERE id = ?
	`, id).Scan(&r.ID, &r.MessageID, &r.KBID, &r.QueryText, &r.KeywordTopK, &r.VectorTopK, &r.FusionTopK,
		&r.RerankTopK, &r.FusionStrategy, &r.RerankStrategy, &snap, &timing)
	if err != nil {
		return nil, err
	}
	r.ProviderSnapshot = snap.String
	r.TimingMs = timing.String
	return r, nil
}

// GetRetrievalHits returns every hit of a retrieval record, ordered by rank.
func (s *Store) GetRetrievalHits(ctx context.Context, recordID ids.ID) ([]RetrievalHit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT retrieval_record_id, node_id, source, rank, score, score_details, excerpt, page, start_offset, end_offset
		FROM retrieval_hit WHERE retrieval_record_id = ? ORDER BY rank
	`, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []RetrievalHit
	for rows.Next() {
		var h RetrievalHit
		var details, excerpt sql.NullString
		if err := rows.Scan(&h.RetrievalRecordID, &h.NodeID, &h.Source, &h.Rank, &h.Score, &details,
			&excerpt, &h.Page, &h.StartOffset, &h.EndOffset); err != nil {
			return nil, err
		}
		h.ScoreDetails = details.String
		h.Excerpt = excerpt.String
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// InsertGenerationRecord writes the (always-written) generation record.
func (s *Store) InsertGenerationRecord(ctx context.Context, g GenerationRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO generation_record (id, message_id, retrieval_record_id, prompt_name, prompt_version,
			model_provider, model_name, messages_snapshot, output_raw, output_structured, citations, status, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, g.ID, g.MessageID, g.RetrievalRecordID, g.PromptName, g.PromptVersion, g.ModelProvider, g.ModelName,
		g.MessagesSnapshot, g.OutputRaw, g.OutputStructured, g.Citations, g.Status, g.ErrorMessage)
	return err
}

// GetGenerationRecord retrieves a generation record by ID.
func (s *Store) GetGenerationRecord(ctx context.Context, id ids.ID) (*GenerationRecord, error) {
	g := &GenerationRecord{}
	var snap, raw, structured, citations, errMsg sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, message_id, retrieval_record_id, prompt_name, prompt_version, model_provider, model_name,
			messages_snapshot, output_raw, output_structured, citations, status, error_message
		FROM generation_record WHERE id = ?
	`, id).Scan(&g.ID, &g.MessageID, &g.RetrievalRecordID, &g.PromptName, &g.PromptVersion, &g.ModelProvider,
		&g.ModelName, &snap, &raw, &structured, &citations, &g.Status, &errMsg)
	if err != nil {
		return nil, err
	}
	g.MessagesSnapshot, g.OutputRaw, g.OutputStructured, g.Citations, g.ErrorMessage =
		snap.String, raw.String, structured.String, citations.String, errMsg.String
	return g, nil
}

// InsertEvaluationRecord writes the (always-written) evaluator verdict.
func (s *Store) InsertEvaluationRecord(ctx context.Context, e EvaluationRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO evaluation_record (id, message_id, retrieval_record_id, generation_record_id, status,
			rule_version, config, checks, scores, meta)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.MessageID, e.RetrievalRecordID, e.GenerationRecordID, e.Status, e.RuleVersion,
		e.Config, e.Checks, e.Scores, e.Meta)
	return err
}

// GetEvaluationRecord retrieves an evaluation record by ID.
func (s *Store) GetEvaluationRecord(ctx context.Context, id ids.ID) (*EvaluationRecord, error) {
	e := &EvaluationRecord{}
	var cfg, checks, scores, meta sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, message_id, retrieval_record_id, generation_record_id, status, rule_version, config, checks, scores, meta
		FROM evaluation_record WHERE id = ?
	`, id).Scan(&e.ID, &e.MessageID, &e.RetrievalRecordID, &e.GenerationRecordID, &e.Status, &e.RuleVersion,
		&cfg, &checks, &scores, &meta)
	if err != nil {
		return nil, err
	}
	e.Config, e.Checks, e.Scores, e.Meta = cfg.String, checks.String, scores.String, meta.String
	return e, nil
}

// MarshalJSON helpers used by callers building score_details/config/etc.
// before handing them to the Insert* methods above.
func MustMarshal(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
