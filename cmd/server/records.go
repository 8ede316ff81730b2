package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ArchyTseng/tiic-law-chat"
	"github.com/ArchyTseng/tiic-law-chat/ids"
)

// POST /chat
// The full envelope variant of /query: conversation continuation, chat
// context overrides, and record IDs for replay.
func (h *handler) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	var req goreason.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	result, err := h.engine.Chat(ctx, req)
	if err != nil {
		writeError(w, statusForErr(err), "chat failed")
		slog.Error("chat error", "error", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func pathID(w http.ResponseWriter, r *http.Request) (ids.ID, bool) {
	id, err := ids.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return ids.Nil, false
	}
	return id, true
}

func writeRecordErr(w http.ResponseWriter, what string, err error) {
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, what+" not found")
		return
	}
	writeError(w, http.StatusInternalServerError, "failed to load "+what)
	slog.Error("record lookup error", "record", what, "error", err)
}

// GET /records/retrieval/{id} — the record plus its persisted hits.
func (h *handler) handleGetRetrievalRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s := h.engine.Store()
	record, err := s.GetRetrievalRecord(r.Context(), id)
	if err != nil {
		writeRecordErr(w, "retrieval record", err)
		return
	}
	hits, err := s.GetRetrievalHits(r.Context(), id)
	if err != nil {
		writeRecordErr(w, "retrieval hits", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"record": record, "hits": hits})
}

// GET /records/generation/{id}
func (h *handler) handleGetGenerationRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	record, err := h.engine.Store().GetGenerationRecord(r.Context(), id)
	if err != nil {
		writeRecordErr(w, "generation record", err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// GET /records/evaluation/{id}
func (h *handler) handleGetEvaluationRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	record, err := h.engine.Store().GetEvaluationRecord(r.Context(), id)
	if err != nil {
		writeRecordErr(w, "evaluation record", err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// GET /records/node/{id} — evidence-preview lookup of a single node.
func (h *handler) handleGetNode(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	node, err := h.engine.Store().GetNode(r.Context(), id)
	if err != nil {
		writeRecordErr(w, "node", err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

// GET /records/page?document_id=...&page=N&max_chars=N — concatenated
// node text of one page, for evidence preview.
func (h *handler) handleGetPage(w http.ResponseWriter, r *http.Request) {
	docID, err := ids.Parse(r.URL.Query().Get("document_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document_id")
		return
	}
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		writeError(w, http.StatusBadRequest, "page must be a positive integer")
		return
	}
	maxChars := 4000
	if v := r.URL.Query().Get("max_chars"); v != "" {
		if maxChars, err = strconv.Atoi(v); err != nil || maxChars < 1 {
			writeError(w, http.StatusBadRequest, "max_chars must be a positive integer")
			return
		}
	}

	text, err := h.engine.Store().GetPage(r.Context(), docID, page, maxChars)
	if err != nil {
		writeRecordErr(w, "page", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"document_id": docID, "page": page, "text": text,
	})
}
