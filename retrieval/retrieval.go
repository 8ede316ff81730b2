// Package retrieval implements the Retrieval Engine (C4): hybrid recall
// over keyword, vector, and graph sources, fused and optionally
// reranked into the ordered hit list that becomes generation evidence.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/ArchyTseng/tiic-law-chat/cache"
	"github.com/ArchyTseng/tiic-law-chat/gate"
	"github.com/ArchyTseng/tiic-law-chat/ids"
	"github.com/ArchyTseng/tiic-law-chat/llm"
	"github.com/ArchyTseng/tiic-law-chat/store"
)

// identifierPatterns flags queries containing structured identifiers
// (clause numbers, statute citations, case numbers) so keyword search
// is preferred over semantic similarity for exact-match lookups.
var identifierPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:Art\.?|Article|Sec\.?|Section|§|Cl\.?|Clause)\s*\d+(?:\.\d+)*`),
	regexp.MustCompile(`(?i)(?:No\.?|Case)\s*\d{2,}[-/]\d{2,}`),
	regexp.MustCompile(`\b\d{4}-\d{2,}\b`),
}

func detectIdentifiers(query string) bool {
	for _, p := range identifierPatterns {
		if p.MatchString(query) {
			return true
		}
	}
	return false
}

// Config holds retrieval engine defaults.
type Config struct {
	WeightKeyword float64
	WeightVector  float64
	WeightGraph   float64
	Fusion        FusionStrategy
	Rerank        RerankStrategy
}

// SearchOptions configures a single search call; zero values fall back
// to the Engine's Config. The per-stage caps mirror the caller-facing
// keyword_top_k/vector_top_k/fusion_top_k/rerank_top_k context options;
// a zero keyword, vector or fusion cap means "use MaxResults", and a zero
// RerankTopK means "use FusionTopK". Disabling vector recall outright
// (the vector_top_k=0 contract) is expressed with DisableVector, since
// a zero int here already means "default".
type SearchOptions struct {
	MaxResults    int
	KeywordTopK   int
	VectorTopK    int
	FusionTopK    int
	RerankTopK    int
	DisableVector bool
	WeightKeyword float64
	WeightVector  float64
	WeightGraph   float64
	Fusion        FusionStrategy
	Rerank        RerankStrategy
}

// SearchTrace records the full breakdown of one search operation, kept
// for the debug envelope and the persisted RetrievalRecord.
type SearchTrace struct {
	KeywordTopK         int     `json:"keyword_top_k"`
	VectorTopK          int     `json:"vector_top_k"`
	FusionTopK          int     `json:"fusion_top_k"`
	RerankTopK          int     `json:"rerank_top_k"`
	KeywordResults      int     `json:"keyword_results"`
	VectorResults       int     `json:"vector_results"`
	GraphResults        int     `json:"graph_results"`
	FusedResults        int     `json:"fused_results"`
	FusionStrategy      string  `json:"fusion_strategy"`
	RerankStrategy      string  `json:"rerank_strategy"`
	IdentifiersDetected bool    `json:"identifiers_detected"`
	SynthesisMode       bool    `json:"synthesis_mode"`
	WeightKeyword       float64 `json:"weight_keyword"`
	WeightVector        float64 `json:"weight_vector"`
	WeightGraph         float64 `json:"weight_graph"`
	ElapsedMs           int64   `json:"elapsed_ms"`
}

// Hit is one node returned by Search, with its resolved text for
// evidence rendering and its fused scoring metadata.
type Hit struct {
	Node  store.Node
	Fused FusedResult
}

// Engine performs hybrid retrieval combining keyword, vector, and graph
// search over a single knowledge base.
type Engine struct {
	store     *store.Store
	embedder  llm.Provider
	chatLLM   llm.Provider
	cfg       Config
	respCache *cache.ResponseCache // optional; nil disables caching entirely
}

// New creates a retrieval engine. chatLLM is used for cross-language
// query translation and the "llm" rerank strategy; pass nil to disable both.
func New(s *store.Store, embedder llm.Provider, chatLLM llm.Provider, cfg Config) *Engine {
	if cfg.Fusion == "" {
		cfg.Fusion = FusionRRF
	}
	if cfg.Rerank == "" {
		cfg.Rerank = RerankNone
	}
	return &Engine{store: s, embedder: embedder, chatLLM: chatLLM, cfg: cfg}
}

// WithResponseCache attaches an optional Redis-backed cache of fused
// search results, keyed on (kb_id, query, resolved options). A cache hit
// skips the keyword/vector/graph fan-out and rerank entirely; a miss
// computes and populates it. Pass nil to disable (the zero value).
func (e *Engine) WithResponseCache(c *cache.ResponseCache) *Engine {
	e.respCache = c
	return e
}

// ErrNoEvidence is returned when both keyword and vector recall return
// empty, per the weak-query policy: the caller must answer
// "no_evidence" and still persist the retrieval record, with zero hits.
var ErrNoEvidence = fmt.Errorf("retrieval: no evidence found for query")

// Search runs hybrid retrieval against a single KB and returns the
// fused (and optionally reranked) hit list plus a gate report and trace.
// On an empty keyword+vector recall, it returns ErrNoEvidence alongside
// a gate.Skipped report — the caller should answer "no_evidence" and
// still persist the retrieval record, with zero hits.
func (e *Engine) Search(ctx context.Context, kbID ids.ID, query string, opts SearchOptions) ([]Hit, gate.Report, *SearchTrace, error) {
	opts = e.withDefaults(opts)
	trace := &SearchTrace{
		FusionStrategy: string(opts.Fusion),
		RerankStrategy: string(opts.Rerank),
		WeightKeyword:  opts.WeightKeyword,
		WeightVector:   opts.WeightVector,
		WeightGraph:    opts.WeightGraph,
	}

	if detectIdentifiers(query) {
		opts.WeightKeyword *= 2.0
		opts.WeightVector *= 0.5
		trace.IdentifiersDetected = true
		trace.WeightKeyword = opts.WeightKeyword
		trace.WeightVector = opts.WeightVector
	}

	// Synthesis query detection: widen the retrieval window for exhaustive
	// queries, where relevant facts are scattered across many topically
	// distant nodes rather than concentrated in the top few hits.
	if isSynthesisQuery(query) {
		if opts.MaxResults < 40 {
			opts.MaxResults = 40
		}
		for _, k := range []*int{&opts.KeywordTopK, &opts.VectorTopK, &opts.FusionTopK, &opts.RerankTopK} {
			if *k < 40 {
				*k = 40
			}
		}
		trace.SynthesisMode = true
	}

	trace.KeywordTopK = opts.KeywordTopK
	trace.VectorTopK = opts.VectorTopK
	trace.FusionTopK = opts.FusionTopK
	trace.RerankTopK = opts.RerankTopK
	if opts.DisableVector {
		trace.VectorTopK = 0
	}

	// A query of nothing but stop words has no recallable signal; fail the
	// gate up front with weak_query instead of searching on noise.
	terms := extractSignificantTerms(query)
	if len(terms) == 0 {
		report := gate.Aggregate("retrieval", []gate.Check{
			{Name: "weak_query", Status: gate.Fail, Detail: "query contains no significant terms"},
		}, "weak_query")
		return nil, report, trace, ErrNoEvidence
	}

	var cacheKey string
	if e.respCache != nil {
		cacheKey = e.cacheKey(kbID, query, opts)
		var cached cachedSearchResult
		if e.respCache.Get(ctx, cacheKey, &cached) {
			if cached.NoEvidence {
				return nil, cached.Report, &cached.Trace, ErrNoEvidence
			}
			return cached.Hits, cached.Report, &cached.Trace, nil
		}
	}

	start := time.Now()

	translator := NewTranslator(e.chatLLM, e.store, kbID)
	translated := translator.TranslateTerms(ctx, terms)
	ftsQuery := sanitizeFTSQuery(query, translated)
	entities := extractQueryEntities(query, translated)

	type result struct {
		cands []Candidate
		err   error
	}
	keywordCh := make(chan result, 1)
	vectorCh := make(chan result, 1)
	graphCh := make(chan result, 1)

	go func() { c, err := e.keywordSearch(ctx, kbID, ftsQuery, opts.KeywordTopK); keywordCh <- result{c, err} }()
	go func() {
		if opts.DisableVector {
			vectorCh <- result{nil, nil}
			return
		}
		c, err := e.vectorSearch(ctx, kbID, query, opts.VectorTopK)
		vectorCh <- result{c, err}
	}()
	go func() { c, err := e.graphSearch(ctx, entities, opts.MaxResults); graphCh <- result{c, err} }()

	keywordRes := <-keywordCh
	vectorRes := <-vectorCh
	graphRes := <-graphCh

	checks := []gate.Check{}
	if keywordRes.err != nil {
		checks = append(checks, gate.Check{Name: "keyword_recall", Status: gate.Warn, Detail: keywordRes.err.Error()})
	} else {
		checks = append(checks, gate.Check{Name: "keyword_recall", Status: gate.Pass})
	}
	switch {
	case opts.DisableVector:
		checks = append(checks, gate.Check{Name: "vector_recall", Status: gate.Skipped, Detail: "vector recall disabled by caller"})
	case vectorRes.err != nil:
		checks = append(checks, gate.Check{Name: "vector_recall", Status: gate.Warn, Detail: vectorRes.err.Error()})
	default:
		checks = append(checks, gate.Check{Name: "vector_recall", Status: gate.Pass})
	}

	trace.KeywordResults = len(keywordRes.cands)
	trace.VectorResults = len(vectorRes.cands)
	trace.GraphResults = len(graphRes.cands)

	// Weak-query / empty-recall policy: keyword and vector recall both
	// empty means there is nothing groundable to answer from, regardless
	// of what the supplemental graph source found.
	if len(keywordRes.cands) == 0 && len(vectorRes.cands) == 0 {
		checks = append(checks, gate.Check{Name: "has_evidence", Status: gate.Fail, Detail: "no keyword or vector recall"})
		report := gate.Aggregate("retrieval", checks)
		trace.ElapsedMs = time.Since(start).Milliseconds()
		if e.respCache != nil {
			e.respCache.Set(ctx, cacheKey, cachedSearchResult{Report: report, Trace: *trace, NoEvidence: true})
		}
		return nil, report, trace, ErrNoEvidence
	}
	checks = append(checks, gate.Check{Name: "has_evidence", Status: gate.Pass})

	fused := Fuse(opts.Fusion, keywordRes.cands, vectorRes.cands, graphRes.cands,
		opts.WeightKeyword, opts.WeightVector, opts.WeightGraph, opts.FusionTopK)
	trace.FusedResults = len(fused)

	hits, err := e.resolveAndRerank(ctx, query, fused, opts.Rerank, opts.RerankTopK)
	if err != nil {
		checks = append(checks, gate.Check{Name: "rerank", Status: gate.Warn, Detail: err.Error()})
	}

	trace.ElapsedMs = time.Since(start).Milliseconds()
	report := gate.Aggregate("retrieval", checks)

	slog.Debug("retrieval: search complete",
		"keyword", trace.KeywordResults, "vector", trace.VectorResults, "graph", trace.GraphResults,
		"fused", trace.FusedResults, "elapsed", time.Since(start).Round(time.Millisecond))

	if e.respCache != nil && report.Status != gate.Fail {
		e.respCache.Set(ctx, cacheKey, cachedSearchResult{Hits: hits, Report: report, Trace: *trace})
	}

	return hits, report, trace, nil
}

// cachedSearchResult is the JSON shape stored in the response cache —
// everything Search would otherwise have recomputed.
type cachedSearchResult struct {
	Hits       []Hit       `json:"hits,omitempty"`
	Report     gate.Report `json:"report"`
	Trace      SearchTrace `json:"trace"`
	NoEvidence bool        `json:"no_evidence,omitempty"`
}

// cacheKey canonicalizes the parts of a search that affect its result so
// two calls with the same effective options share a cache entry.
func (e *Engine) cacheKey(kbID ids.ID, query string, opts SearchOptions) string {
	return e.respCache.Key(
		kbID.String(), query,
		string(opts.Fusion), string(opts.Rerank),
		cache.FmtWeight(opts.WeightKeyword), cache.FmtWeight(opts.WeightVector), cache.FmtWeight(opts.WeightGraph),
		fmt.Sprintf("%d:%d:%d:%d:%d:%t", opts.MaxResults, opts.KeywordTopK, opts.VectorTopK, opts.FusionTopK, opts.RerankTopK, opts.DisableVector),
	)
}

func (e *Engine) withDefaults(opts SearchOptions) SearchOptions {
	if opts.MaxResults == 0 {
		opts.MaxResults = 20
	}
	if opts.KeywordTopK == 0 {
		opts.KeywordTopK = opts.MaxResults
	}
	if opts.VectorTopK == 0 {
		opts.VectorTopK = opts.MaxResults
	}
	if opts.FusionTopK == 0 {
		opts.FusionTopK = opts.MaxResults
	}
	if opts.RerankTopK == 0 {
		opts.RerankTopK = opts.FusionTopK
	}
	if opts.WeightKeyword == 0 {
		opts.WeightKeyword = e.cfg.WeightKeyword
	}
	if opts.WeightVector == 0 {
		opts.WeightVector = e.cfg.WeightVector
	}
	if opts.WeightGraph == 0 {
		opts.WeightGraph = e.cfg.WeightGraph
	}
	if opts.Fusion == "" {
		opts.Fusion = e.cfg.Fusion
	}
	if opts.Rerank == "" {
		opts.Rerank = e.cfg.Rerank
	}
	return opts
}

func (e *Engine) keywordSearch(ctx context.Context, kbID ids.ID, ftsQuery string, k int) ([]Candidate, error) {
	hits, err := e.store.SearchNodesByKeyword(ctx, kbID, ftsQuery, k)
	if err != nil {
		return nil, err
	}
	cands := make([]Candidate, len(hits))
	for i, h := range hits {
		cands[i] = Candidate{NodeID: h.NodeID, Source: SourceKeyword, Rank: i + 1, RawScore: h.Score}
	}
	return cands, nil
}

func (e *Engine) vectorSearch(ctx context.Context, kbID ids.ID, query string, k int) ([]Candidate, error) {
	if e.embedder == nil {
		return nil, nil
	}
	embeddings, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return nil, fmt.Errorf("empty embedding returned")
	}
	hits, err := e.store.Search(ctx, kbID, embeddings[0], k)
	if err != nil {
		return nil, err
	}
	cands := make([]Candidate, len(hits))
	for i, h := range hits {
		cands[i] = Candidate{NodeID: h.Payload.NodeID, Source: SourceVector, Rank: i + 1, RawScore: h.Score}
	}
	return cands, nil
}

func (e *Engine) graphSearch(ctx context.Context, entities []string, k int) ([]Candidate, error) {
	if len(entities) == 0 {
		return nil, nil
	}
	found, err := e.store.SearchEntitiesByTerms(ctx, entities, 50)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}
	entityIDs := make([]int64, len(found))
	for i, ent := range found {
		entityIDs[i] = ent.ID
	}
	hits, err := e.store.GraphSearch(ctx, entityIDs, k)
	if err != nil {
		return nil, err
	}
	cands := make([]Candidate, len(hits))
	for i, h := range hits {
		cands[i] = Candidate{NodeID: h.NodeID, Source: SourceGraph, Rank: i + 1, RawScore: h.Weight}
	}
	return cands, nil
}

// resolveAndRerank fetches each fused node's text (needed by rerank and
// by generation evidence) and applies the configured rerank strategy to
// at most rerankTopK fused results.
func (e *Engine) resolveAndRerank(ctx context.Context, query string, fused []FusedResult, strategy RerankStrategy, rerankTopK int) ([]Hit, error) {
	if rerankTopK > 0 && len(fused) > rerankTopK {
		fused = fused[:rerankTopK]
	}
	items := make([]RerankItem, 0, len(fused))
	byNode := make(map[ids.ID]store.Node, len(fused))
	for _, f := range fused {
		node, err := e.store.GetNode(ctx, f.NodeID)
		if err != nil {
			slog.Warn("retrieval: failed to resolve fused node, skipping", "node_id", f.NodeID, "error", err)
			continue
		}
		byNode[f.NodeID] = *node
		items = append(items, RerankItem{NodeID: f.NodeID, Text: node.Text, Fused: f})
	}

	reranked, err := Rerank(ctx, strategy, query, items, e.embedder, e.chatLLM)
	if err != nil {
		reranked = items
	}

	hits := make([]Hit, len(reranked))
	for i, it := range reranked {
		hits[i] = Hit{Node: byNode[it.NodeID], Fused: it.Fused}
	}
	return hits, err
}
