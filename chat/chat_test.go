package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/ArchyTseng/tiic-law-chat/evaluator"
	"github.com/ArchyTseng/tiic-law-chat/generation"
	"github.com/ArchyTseng/tiic-law-chat/ids"
	"github.com/ArchyTseng/tiic-law-chat/llm"
	"github.com/ArchyTseng/tiic-law-chat/retrieval"
	"github.com/ArchyTseng/tiic-law-chat/store"
)

// fakeLLM answers every Chat call with a canned response, so these tests
// exercise the orchestrator without a model server.
type fakeLLM struct {
	content string
	err     error
	calls   int
}

func (f *fakeLLM) Chat(_ context.Context, _ llm.ChatRequest) (*llm.ChatResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatResponse{Content: f.content, Model: "fake-model", TotalTokens: 42}, nil
}

func (f *fakeLLM) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0, 0}
	}
	return out, nil
}

func newTestOrchestrator(t *testing.T, provider llm.Provider) (*Orchestrator, *store.Store, store.KnowledgeBase) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "chat_test.db")
	s, err := store.New(dbPath, 4)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	kb := store.KnowledgeBase{ID: ids.New(), Name: "default", EmbedProvider: "ollama", EmbedModel: "nomic-embed-text", EmbedDim: 4}
	if err := s.InsertKB(context.Background(), kb); err != nil {
		t.Fatalf("InsertKB: %v", err)
	}

	retriever := retrieval.New(s, nil, nil, retrieval.Config{WeightKeyword: 1.0, WeightVector: 1.0})
	o := New(s, retriever, provider, Config{
		Generation: generation.Config{Provider: "fake", Model: "fake-model"},
		Evaluator:  evaluator.DefaultConfig(),
	})
	return o, s, kb
}

// seedNode inserts one keyword-searchable node and returns it.
func seedNode(t *testing.T, s *store.Store, kb store.KnowledgeBase, text string) store.Node {
	t.Helper()
	ctx := context.Background()
	file := store.KnowledgeFile{ID: ids.New(), KBID: kb.ID, FileName: "demo.pdf", SHA256: "abc", IngestStatus: "success"}
	if err := s.InsertFile(ctx, file); err != nil {
		t.Fatalf("InsertFile: %v", err)
	}
	doc := store.Document{ID: ids.New(), FileID: file.ID, KBID: kb.ID, PageCount: 1}
	if err := s.InsertDocument(ctx, doc); err != nil {
		t.Fatalf("InsertDocument: %v", err)
	}
	node := store.Node{ID: ids.New(), KBID: kb.ID, FileID: file.ID, DocumentID: doc.ID, NodeIndex: 0, Text: text, Page: 1}
	if err := s.InsertNodes(ctx, []store.Node{node}); err != nil {
		t.Fatalf("InsertNodes: %v", err)
	}
	return node
}

func TestChatBlockedOnEmptyKnowledgeBase(t *testing.T) {
	provider := &fakeLLM{content: `{"answer":"should never be called","citations":[]}`}
	o, s, kb := newTestOrchestrator(t, provider)

	result, err := o.Chat(context.Background(), kb.ID, "What are the rental rules?", Options{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if result.Status != store.MessageStatusBlocked {
		t.Fatalf("expected blocked on empty KB, got %s", result.Status)
	}
	if result.Answer != refusalAnswer {
		t.Fatalf("expected the refusal string, got %q", result.Answer)
	}
	if provider.calls != 0 {
		t.Fatalf("generation must not run when retrieval is blocked; provider saw %d calls", provider.calls)
	}
	found := false
	for _, r := range result.Reasons {
		if r == "no_evidence" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected reason no_evidence, got %v", result.Reasons)
	}

	// The retrieval record is still written, with zero hits.
	record, err := s.GetRetrievalRecord(context.Background(), result.RetrievalRecordID)
	if err != nil {
		t.Fatalf("GetRetrievalRecord: %v", err)
	}
	if record.MessageID != result.MessageID {
		t.Fatalf("record message_id mismatch: %s vs %s", record.MessageID, result.MessageID)
	}
	hits, err := s.GetRetrievalHits(context.Background(), result.RetrievalRecordID)
	if err != nil {
		t.Fatalf("GetRetrievalHits: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected zero persisted hits, got %d", len(hits))
	}
}

func TestChatHappyPathReturnsCitedAnswer(t *testing.T) {
	provider := &fakeLLM{}
	o, s, kb := newTestOrchestrator(t, provider)
	node := seedNode(t, s, kb, "The rental rules require a deposit of two months and thirty days notice.")

	provider.content = fmt.Sprintf(
		`{"answer":"The rental rules require a two month deposit and thirty days notice.","citations":[{"node_id":"%s","rank":1}]}`,
		node.ID)

	result, err := o.Chat(context.Background(), kb.ID, "What are the rental rules?", Options{Debug: true})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if result.Status != store.MessageStatusSuccess {
		t.Fatalf("expected success, got %s (evaluator %s)", result.Status, result.Evaluator.Status)
	}
	if len(result.Citations) == 0 {
		t.Fatal("expected at least one citation")
	}
	if result.Evaluator.Status != "pass" {
		t.Fatalf("expected evaluator pass, got %s", result.Evaluator.Status)
	}
	if result.Debug == nil || len(result.Debug.Hits) == 0 {
		t.Fatal("expected debug hits with Debug: true")
	}
	// Invariant: every citation's node is among the message's hits.
	hitSet := map[ids.ID]bool{}
	for _, h := range result.Debug.Hits {
		hitSet[h.Node.ID] = true
	}
	for _, c := range result.Citations {
		if !hitSet[c.NodeID] {
			t.Fatalf("citation %s not among retrieval hits", c.NodeID)
		}
	}

	// The full evidence chain is persisted and addressable.
	if _, err := s.GetGenerationRecord(context.Background(), result.GenerationRecordID); err != nil {
		t.Fatalf("GetGenerationRecord: %v", err)
	}
	eval, err := s.GetEvaluationRecord(context.Background(), result.EvaluationRecordID)
	if err != nil {
		t.Fatalf("GetEvaluationRecord: %v", err)
	}
	if eval.Status != "pass" {
		t.Fatalf("persisted evaluation status %s, want pass", eval.Status)
	}
}

func TestChatCitationDriftBlocksAnswer(t *testing.T) {
	provider := &fakeLLM{}
	o, s, kb := newTestOrchestrator(t, provider)
	seedNode(t, s, kb, "The rental rules require a deposit of two months.")

	// Model cites a node it was never shown.
	provider.content = fmt.Sprintf(
		`{"answer":"An answer long enough to pass the length check.","citations":[{"node_id":"%s","rank":1}]}`,
		ids.New())

	result, err := o.Chat(context.Background(), kb.ID, "What are the rental rules?", Options{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if result.Status != store.MessageStatusBlocked {
		t.Fatalf("expected blocked when every citation is dropped, got %s", result.Status)
	}
	if result.Evaluator.Status != "fail" {
		t.Fatalf("expected evaluator fail, got %s", result.Evaluator.Status)
	}
	if result.Answer != refusalAnswer {
		t.Fatalf("blocked result must not expose the model answer, got %q", result.Answer)
	}

	// The generation record still exists, marked failed, for replay.
	gen, err := s.GetGenerationRecord(context.Background(), result.GenerationRecordID)
	if err != nil {
		t.Fatalf("GetGenerationRecord: %v", err)
	}
	if gen.Status != "failed" {
		t.Fatalf("generation record status %s, want failed", gen.Status)
	}
}

func TestChatGenerationErrorStillRunsEvaluator(t *testing.T) {
	provider := &fakeLLM{err: errors.New("model unreachable")}
	o, s, kb := newTestOrchestrator(t, provider)
	seedNode(t, s, kb, "The rental rules require a deposit of two months.")

	result, err := o.Chat(context.Background(), kb.ID, "What are the rental rules?", Options{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if result.EvaluationRecordID.IsNil() {
		t.Fatal("evaluator must run and persist a record even when generation fails")
	}
	if result.Status != store.MessageStatusBlocked {
		t.Fatalf("expected blocked, got %s", result.Status)
	}
	gen, err := s.GetGenerationRecord(context.Background(), result.GenerationRecordID)
	if err != nil {
		t.Fatalf("GetGenerationRecord: %v", err)
	}
	if gen.Status != "failed" || gen.ErrorMessage == "" {
		t.Fatalf("generation record = %+v, want failed with an error message", gen)
	}
}

func TestChatRejectsUnknownStrategies(t *testing.T) {
	o, _, kb := newTestOrchestrator(t, &fakeLLM{})

	for _, bad := range []*Context{
		{FusionStrategy: "bogus"},
		{RerankStrategy: "bogus"},
		{PromptName: "bogus"},
	} {
		_, err := o.Chat(context.Background(), kb.ID, "anything", Options{Context: bad})
		if !errors.Is(err, ErrBadContext) {
			t.Fatalf("context %+v: expected ErrBadContext, got %v", bad, err)
		}
	}
}

func TestChatRejectsEmbedOverrideMismatch(t *testing.T) {
	o, _, kb := newTestOrchestrator(t, &fakeLLM{})

	_, err := o.Chat(context.Background(), kb.ID, "anything", Options{
		Context: &Context{EmbedModel: "some-other-model"},
	})
	if !errors.Is(err, ErrBadContext) {
		t.Fatalf("expected ErrBadContext on embed override mismatch, got %v", err)
	}

	// An override matching the KB's recorded config is accepted (the call
	// then proceeds to retrieval and blocks on the empty KB, not on config).
	result, err := o.Chat(context.Background(), kb.ID, "anything", Options{
		Context: &Context{EmbedProvider: "ollama", EmbedModel: "nomic-embed-text", EmbedDim: 4},
	})
	if err != nil {
		t.Fatalf("matching override should be accepted, got %v", err)
	}
	if result.Status != store.MessageStatusBlocked {
		t.Fatalf("expected blocked on empty KB, got %s", result.Status)
	}
}

func TestChatModelAllowlist(t *testing.T) {
	o, _, kb := newTestOrchestrator(t, &fakeLLM{})

	_, err := o.Chat(context.Background(), kb.ID, "anything", Options{
		Context: &Context{ModelName: "unlisted-model"},
	})
	if !errorsIsBadContext(err) {
		t.Fatalf("expected ErrBadContext for an unlisted model, got %v", err)
	}

	o.cfg.AllowedModels = []string{"unlisted-model"}
	result, err := o.Chat(context.Background(), kb.ID, "anything", Options{
		Context: &Context{ModelName: "unlisted-model"},
	})
	if err != nil {
		t.Fatalf("allowlisted model should be accepted, got %v", err)
	}
	if result.Status != store.MessageStatusBlocked {
		t.Fatalf("expected blocked on empty KB, got %s", result.Status)
	}
}

func errorsIsBadContext(err error) bool {
	return errors.Is(err, ErrBadContext)
}

func TestContextUnmarshalForwardsUnknownKeys(t *testing.T) {
	raw := `{"keyword_top_k": 5, "vector_top_k": 0, "graph": true, "custom_flag": "x"}`
	var c Context
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if c.KeywordTopK == nil || *c.KeywordTopK != 5 {
		t.Fatalf("keyword_top_k = %v, want 5", c.KeywordTopK)
	}
	if c.VectorTopK == nil || *c.VectorTopK != 0 {
		t.Fatalf("vector_top_k should be explicitly zero, got %v", c.VectorTopK)
	}
	for _, key := range []string{"graph", "custom_flag"} {
		if _, ok := c.Extra[key]; !ok {
			t.Fatalf("unknown key %q not forwarded to Extra: %v", key, c.Extra)
		}
	}

	opts := c.applyRetrieval(retrieval.SearchOptions{})
	if opts.KeywordTopK != 5 {
		t.Fatalf("applyRetrieval keyword_top_k = %d, want 5", opts.KeywordTopK)
	}
	if !opts.DisableVector {
		t.Fatal("vector_top_k=0 must disable vector recall")
	}
}

func TestContextAppliesEvaluatorConfig(t *testing.T) {
	c := Context{EvaluatorConfig: json.RawMessage(`{"require_citations": false, "min_chars": 5}`)}
	cfg, err := c.applyEvaluator(evaluator.DefaultConfig())
	if err != nil {
		t.Fatalf("applyEvaluator: %v", err)
	}
	if cfg.RequireCitations {
		t.Fatal("require_citations override not applied")
	}
	if cfg.MinChars != 5 {
		t.Fatalf("min_chars = %d, want 5", cfg.MinChars)
	}
}
