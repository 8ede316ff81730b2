// Package goreason wires the Ingest, Retrieval, Generation, and
// Evaluation engines into a single embeddable Engine: construct one
// against a Config, then call Ingest to add evidence and Query to get
// a gated, citation-backed answer. Everything it returns is also
// persisted, so any Answer can be replayed from the store later.
package goreason

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/ArchyTseng/tiic-law-chat/cache"
	"github.com/ArchyTseng/tiic-law-chat/chat"
	"github.com/ArchyTseng/tiic-law-chat/chunker"
	"github.com/ArchyTseng/tiic-law-chat/evaluator"
	"github.com/ArchyTseng/tiic-law-chat/generation"
	"github.com/ArchyTseng/tiic-law-chat/graph"
	"github.com/ArchyTseng/tiic-law-chat/ids"
	"github.com/ArchyTseng/tiic-law-chat/ingest"
	"github.com/ArchyTseng/tiic-law-chat/llm"
	"github.com/ArchyTseng/tiic-law-chat/parser"
	"github.com/ArchyTseng/tiic-law-chat/retrieval"
	"github.com/ArchyTseng/tiic-law-chat/store"
)

// defaultKBName is the knowledge base the embedded single-KB Engine
// provisions on first use. Callers who need multiple knowledge bases
// should drive ingest.Engine/chat.Orchestrator directly against the
// store instead of this convenience wrapper.
const defaultKBName = "default"

// Document is one ingested source file, as returned by Ingest and
// ListDocuments.
type Document struct {
	ID       ids.ID
	FileName string
	Status   string
	Pages    int
	Nodes    int
	Timings  string // per-stage timing snapshot, JSON, as persisted
}

// Citation is one evidence pointer a returned Answer relies on. Quote
// is the sentence or two of the cited node most relevant to the answer,
// for preview rendering without a second node lookup.
type Citation struct {
	NodeID      ids.ID
	Page        int
	ArticleID   string
	SectionPath string
	Quote       string
}

// Answer is the result of a Query call.
type Answer struct {
	Text              string
	Status            string // success, blocked, failed
	Citations         []Citation
	EvaluatorStatus   string
	EvaluatorWarnings []string
	MessageID         ids.ID
	RetrievalTrace    *retrieval.SearchTrace
	Hits              []retrieval.Hit // the fused/reranked chunks the generator actually saw
	PromptTokens      int
	CompletionTokens  int
	TotalTokens       int
}

// Engine is the embeddable entry point: Parse -> Segment -> Embed ->
// Persist on Ingest, Retrieve -> Generate -> Evaluate on Query.
type Engine struct {
	store *store.Store
	ingest *ingest.Engine
	chat   *chat.Orchestrator
	kbID   ids.ID
	cfg    Config
}

// New builds an Engine from cfg: opens the store, constructs the LLM
// providers, and wires the ingest/chat pipelines around them.
func New(cfg Config) (*Engine, error) {
	if cfg.EmbeddingDim == 0 {
		cfg.EmbeddingDim = 768
	}

	s, err := store.New(cfg.resolveDBPath(), cfg.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("goreason: opening store: %w", err)
	}

	chatLLM, err := llm.NewProvider(llm.Config(cfg.Chat))
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("goreason: chat provider: %w", err)
	}
	var embedLLM llm.Provider
	if cfg.Embedding.Provider != "" {
		embedLLM, err = llm.NewProvider(llm.Config(cfg.Embedding))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("goreason: embedding provider: %w", err)
		}
	}

	registry := parser.NewRegistry()
	if cfg.LlamaParse != nil {
		registry.SetLlamaParse(parser.LlamaParseConfig{APIKey: cfg.LlamaParse.APIKey, BaseURL: cfg.LlamaParse.BaseURL})
	}

	var graphB *graph.Builder
	if !cfg.SkipGraph {
		concurrency := cfg.GraphConcurrency
		if concurrency == 0 {
			concurrency = 16
		}
		graphB = graph.NewBuilder(s, chatLLM, embedLLM, concurrency)
	}

	ingestEngine := ingest.New(s, registry, embedLLM, graphB, ingest.Config{
		Chunker:       chunker.Config{MaxTokens: cfg.MaxChunkTokens, Overlap: cfg.ChunkOverlap},
		SkipGraph:     cfg.SkipGraph,
		CaptionImages: cfg.CaptionImages,
	})
	if cfg.CaptionImages && cfg.Vision.Provider != "" {
		visionLLM, verr := llm.NewProvider(llm.Config(cfg.Vision))
		if verr != nil {
			s.Close()
			return nil, fmt.Errorf("goreason: vision provider: %w", verr)
		}
		if v, ok := visionLLM.(llm.VisionProvider); ok {
			ingestEngine = ingestEngine.WithVision(v)
		}
	}

	retriever := retrieval.New(s, embedLLM, chatLLM, retrieval.Config{
		WeightKeyword: cfg.WeightFTS,
		WeightVector:  cfg.WeightVector,
		WeightGraph:   cfg.WeightGraph,
	})

	// Optional Redis-backed response cache; an empty Addr leaves caching
	// disabled and Search runs uncached, exactly as before.
	if cfg.Cache.Addr != "" {
		rdb, cerr := cache.NewRedisClient(context.Background(), cache.RedisConfig{Addr: cfg.Cache.Addr})
		if cerr != nil {
			s.Close()
			return nil, fmt.Errorf("goreason: connecting retrieval cache: %w", cerr)
		}
		cacheCfg := cache.DefaultResponseCacheConfig()
		if cfg.Cache.TTL > 0 {
			cacheCfg.TTL = cfg.Cache.TTL
		}
		retriever = retriever.WithResponseCache(cache.NewResponseCache(rdb, cacheCfg))
	}

	orchestrator := chat.New(s, retriever, chatLLM, chat.Config{
		Generation: generation.Config{Provider: cfg.Chat.Provider, Model: cfg.Chat.Model, Temperature: 0.2, MaxTokens: 2048},
		Evaluator:  evaluator.DefaultConfig(),
		Retrieval: retrieval.SearchOptions{
			MaxResults: 12, WeightKeyword: cfg.WeightFTS, WeightVector: cfg.WeightVector, WeightGraph: cfg.WeightGraph,
		},
	})

	kb, err := s.GetKBByName(context.Background(), defaultKBName)
	if err != nil {
		kb = &store.KnowledgeBase{
			ID: ids.New(), Name: defaultKBName,
			EmbedProvider: cfg.Embedding.Provider, EmbedModel: cfg.Embedding.Model, EmbedDim: cfg.EmbeddingDim,
		}
		if err := s.InsertKB(context.Background(), *kb); err != nil {
			s.Close()
			return nil, fmt.Errorf("goreason: provisioning default knowledge base: %w", err)
		}
	}

	return &Engine{store: s, ingest: ingestEngine, chat: orchestrator, kbID: kb.ID, cfg: cfg}, nil
}

// Close releases the underlying store's database handle.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Ingest parses, segments, embeds, and persists path into the default
// knowledge base, short-circuiting on a prior identical ingest.
func (e *Engine) Ingest(ctx context.Context, path string) (Document, error) {
	result, err := e.ingest.IngestFile(ctx, e.kbID, path)
	if err != nil {
		return Document{}, err
	}
	file, ferr := e.store.GetFile(ctx, result.FileID)
	if ferr != nil {
		return Document{ID: result.FileID, Nodes: result.NodeCount}, nil
	}
	return Document{ID: file.ID, FileName: file.FileName, Status: file.IngestStatus, Pages: file.Pages, Nodes: file.NodeCount, Timings: file.Timings}, nil
}

// IngestDryRun parses and segments path without persisting anything,
// reporting the node count a real Ingest would produce.
func (e *Engine) IngestDryRun(ctx context.Context, path string) (Document, error) {
	result, err := e.ingest.DryRun(ctx, e.kbID, path)
	if err != nil {
		return Document{}, err
	}
	status := "dry_run"
	if result.Idempotent {
		status = "success"
	}
	return Document{ID: result.FileID, FileName: filepath.Base(path), Status: status, Nodes: result.NodeCount}, nil
}

// ChatRequest is the full wire-facing chat input: a question plus the
// optional conversation continuation and per-request context overrides.
type ChatRequest struct {
	Query          string        `json:"query"`
	ConversationID ids.ID        `json:"conversation_id,omitempty"`
	Debug          bool          `json:"debug,omitempty"`
	Context        *chat.Context `json:"context,omitempty"`
}

// Chat runs one orchestrated turn against the default knowledge base
// and returns the raw envelope, record IDs included. Query is the
// simpler wrapper for embedders that only want the answer.
func (e *Engine) Chat(ctx context.Context, req ChatRequest) (*chat.Result, error) {
	return e.chat.Chat(ctx, e.kbID, req.Query, chat.Options{
		ConversationID: req.ConversationID,
		Context:        req.Context,
		Debug:          req.Debug,
	})
}

// Query runs the full retrieve -> generate -> evaluate chain against
// the default knowledge base and returns the gated answer.
func (e *Engine) Query(ctx context.Context, question string) (*Answer, error) {
	result, err := e.chat.Chat(ctx, e.kbID, question, chat.Options{Debug: true})
	if err != nil {
		return nil, err
	}
	nodeByID := make(map[ids.ID]*store.Node)
	if result.Debug != nil {
		for i := range result.Debug.Hits {
			nodeByID[result.Debug.Hits[i].Node.ID] = &result.Debug.Hits[i].Node
		}
	}
	answerWords := significantWords(result.Answer)
	citations := make([]Citation, len(result.Citations))
	for i, c := range result.Citations {
		citations[i] = Citation{NodeID: c.NodeID}
		if n, ok := nodeByID[c.NodeID]; ok {
			citations[i].Page = n.Page
			citations[i].ArticleID = n.ArticleID
			citations[i].SectionPath = n.SectionPath
			citations[i].Quote = extractSnippet(n.Text, answerWords)
		}
	}
	ans := &Answer{
		Text: result.Answer, Status: result.Status, Citations: citations,
		EvaluatorStatus: result.Evaluator.Status, EvaluatorWarnings: result.Evaluator.Warnings,
		MessageID: result.MessageID,
		PromptTokens: result.PromptTokens, CompletionTokens: result.CompletionTokens, TotalTokens: result.TotalTokens,
	}
	if result.Debug != nil {
		ans.RetrievalTrace = result.Debug.RetrievalTrace
		ans.Hits = result.Debug.Hits
	}
	return ans, nil
}

// Store exposes the underlying document/vector store for callers (the
// offline evaluation harness) that need to inspect ingest state directly
// rather than through Ingest/Query.
func (e *Engine) Store() *store.Store {
	return e.store
}

// KBID returns the knowledge base this Engine queries and ingests into.
func (e *Engine) KBID() ids.ID {
	return e.kbID
}

// ListDocuments returns every file ingested into the default knowledge base.
func (e *Engine) ListDocuments(ctx context.Context) ([]Document, error) {
	files, err := e.store.ListFiles(ctx, e.kbID)
	if err != nil {
		return nil, err
	}
	docs := make([]Document, len(files))
	for i, f := range files {
		docs[i] = Document{ID: f.ID, FileName: f.FileName, Status: f.IngestStatus, Pages: f.Pages, Nodes: f.NodeCount}
	}
	return docs, nil
}

// Delete removes a previously ingested file and its nodes/vectors.
func (e *Engine) Delete(ctx context.Context, fileID ids.ID) error {
	return e.store.DeleteFile(ctx, fileID)
}
