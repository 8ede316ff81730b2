package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/ArchyTseng/tiic-law-chat/ids"
	"github.com/ArchyTseng/tiic-law-chat/llm"
)

// RerankStrategy selects how the fused candidate list is reordered
// before it becomes the Evidence offered to generation.
type RerankStrategy string

const (
	RerankNone         RerankStrategy = "none"
	RerankCrossEncoder RerankStrategy = "cross_encoder"
	RerankLLM          RerankStrategy = "llm"
)

// RerankItem is one fused candidate plus the node text a reranker needs
// to judge relevance.
type RerankItem struct {
	NodeID ids.ID
	Text   string
	Fused  FusedResult
}

// Rerank reorders items according to strategy. RerankNone is a pass
// through that preserves the fused order exactly.
func Rerank(ctx context.Context, strategy RerankStrategy, query string, items []RerankItem, embedder llm.Provider, chatLLM llm.Provider) ([]RerankItem, error) {
	switch strategy {
	case RerankCrossEncoder:
		return rerankCrossEncoder(ctx, query, items, embedder)
	case RerankLLM:
		return rerankLLM(ctx, query, items, chatLLM)
	default:
		return items, nil
	}
}

// rerankCrossEncoder approximates cross-encoder reranking with the
// embedding provider already wired for retrieval: it embeds the query
// and each candidate's text independently, then reorders by cosine
// similarity. This is a cheaper proxy for a true cross-encoder model,
// which this deployment does not carry.
func rerankCrossEncoder(ctx context.Context, query string, items []RerankItem, embedder llm.Provider) ([]RerankItem, error) {
	if embedder == nil || len(items) == 0 {
		return items, nil
	}
	texts := make([]string, len(items)+1)
	texts[0] = query
	for i, it := range items {
		texts[i+1] = it.Text
	}
	embeddings, err := embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("cross_encoder rerank embed: %w", err)
	}
	if len(embeddings) != len(texts) {
		return nil, fmt.Errorf("cross_encoder rerank: expected %d embeddings, got %d", len(texts), len(embeddings))
	}

	queryVec := embeddings[0]
	type scored struct {
		item  RerankItem
		score float64
	}
	out := make([]scored, len(items))
	for i, it := range items {
		out[i] = scored{item: it, score: cosineSimilarity(queryVec, embeddings[i+1])}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })

	result := make([]RerankItem, len(out))
	for i, s := range out {
		result[i] = s.item
	}
	return result, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

type llmRelevanceItem struct {
	Rank      int     `json:"rank"`
	Relevance float64 `json:"relevance"`
}

// rerankLLM asks the chat model to score each candidate's relevance to
// the query on a 0-10 scale, then reorders by that score. Candidates
// the model fails to score keep their fused-order relevance of 0 and
// sort to the end — never dropped, since the model is not a gate.
func rerankLLM(ctx context.Context, query string, items []RerankItem, chatLLM llm.Provider) ([]RerankItem, error) {
	if chatLLM == nil || len(items) == 0 {
		return items, nil
	}

	var b strings.Builder
	for i, it := range items {
		excerpt := it.Text
		if len(excerpt) > 400 {
			excerpt = excerpt[:400]
		}
		fmt.Fprintf(&b, "[%d] %s\n", i, excerpt)
	}

	prompt := fmt.Sprintf(`Question: %s

Candidates:
%s
Score each candidate's relevance to the question from 0 (irrelevant) to 10 (directly answers it).
Return ONLY a JSON array like [{"rank": 0, "relevance": 7.5}, ...] covering every candidate index above. No markdown, no explanation.`, query, b.String())

	resp, err := chatLLM.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: "You are a relevance-scoring assistant. Return only valid JSON."},
			{Role: "user", Content: prompt},
		},
		Temperature:    0,
		ResponseFormat: "json_object",
	})
	if err != nil {
		slog.Warn("retrieval: llm rerank call failed, keeping fused order", "error", err)
		return items, nil
	}

	content := resp.Content
	if idx := strings.Index(content, "["); idx >= 0 {
		content = content[idx:]
	}
	if idx := strings.LastIndex(content, "]"); idx >= 0 {
		content = content[:idx+1]
	}

	var scores []llmRelevanceItem
	if err := json.Unmarshal([]byte(content), &scores); err != nil {
		slog.Warn("retrieval: llm rerank response was not valid JSON, keeping fused order", "error", err)
		return items, nil
	}

	relevance := make([]float64, len(items))
	for _, s := range scores {
		if s.Rank >= 0 && s.Rank < len(items) {
			relevance[s.Rank] = s.Relevance
		}
	}

	type scored struct {
		item  RerankItem
		score float64
	}
	out := make([]scored, len(items))
	for i, it := range items {
		out[i] = scored{item: it, score: relevance[i]}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })

	result := make([]RerankItem, len(out))
	for i, s := range out {
		result[i] = s.item
	}
	return result, nil
}
