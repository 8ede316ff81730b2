// Package chat implements the Chat Orchestrator (C7): the single public
// entry point that turns one question into a persisted, causally-gated
// evidence chain. It owns no retrieval or generation logic itself — it
// sequences the C4/C5/C6 engines and writes the chat_store records that
// make every answer replayable.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ArchyTseng/tiic-law-chat/evaluator"
	"github.com/ArchyTseng/tiic-law-chat/gate"
	"github.com/ArchyTseng/tiic-law-chat/generation"
	"github.com/ArchyTseng/tiic-law-chat/ids"
	"github.com/ArchyTseng/tiic-law-chat/llm"
	"github.com/ArchyTseng/tiic-law-chat/retrieval"
	"github.com/ArchyTseng/tiic-law-chat/store"
)

// ErrBadContext is wrapped around every rejection of a caller-supplied
// Context, so transport layers can map it to a 400-class status.
var ErrBadContext = errors.New("chat: invalid chat context")

// Config controls model selection and retrieval/evaluator defaults for
// every Chat call that doesn't override them. AllowedModels is the
// model_name allowlist; empty means only the configured default model.
type Config struct {
	Generation    generation.Config
	Evaluator     evaluator.Config
	Retrieval     retrieval.SearchOptions
	AllowedModels []string
}

// EvaluatorSummary is the compact verdict block the envelope returns:
// status, rule_version, and any warnings.
type EvaluatorSummary struct {
	Status      string   `json:"status"`
	RuleVersion string   `json:"rule_version"`
	Warnings    []string `json:"warnings,omitempty"`
}

// Debug carries the optional per-stage breakdown; only populated when
// the caller asks for it (debug=true / return_hits=true).
type Debug struct {
	RetrievalTrace *retrieval.SearchTrace `json:"retrieval_trace,omitempty"`
	Hits           []retrieval.Hit        `json:"hits,omitempty"`
}

// Result is the envelope returned by Chat.
type Result struct {
	ConversationID     ids.ID                `json:"conversation_id"`
	MessageID          ids.ID                `json:"message_id"`
	KBID               ids.ID                `json:"kb_id"`
	RetrievalRecordID  ids.ID                `json:"retrieval_record_id,omitempty"`
	GenerationRecordID ids.ID                `json:"generation_record_id,omitempty"`
	EvaluationRecordID ids.ID                `json:"evaluation_record_id,omitempty"`
	Status             string                `json:"status"`
	Answer             string                `json:"answer,omitempty"`
	Citations          []generation.Citation `json:"citations,omitempty"`
	Reasons            []string              `json:"reasons,omitempty"`
	Evaluator          EvaluatorSummary      `json:"evaluator"`
	Debug              *Debug                `json:"debug,omitempty"`
	PromptTokens       int                   `json:"prompt_tokens,omitempty"`
	CompletionTokens   int                   `json:"completion_tokens,omitempty"`
	TotalTokens        int                   `json:"total_tokens,omitempty"`
}

// Options configures one Chat call.
type Options struct {
	ConversationID ids.ID // zero value means "start a new conversation"
	Retrieval      retrieval.SearchOptions
	Context        *Context
	Debug          bool
}

// Orchestrator runs C7 against one knowledge base.
type Orchestrator struct {
	store     *store.Store
	retriever *retrieval.Engine
	chatLLM   llm.Provider
	cfg       Config
}

// New creates a Chat Orchestrator. chatLLM is the provider used for
// generation calls.
func New(s *store.Store, retriever *retrieval.Engine, chatLLM llm.Provider, cfg Config) *Orchestrator {
	return &Orchestrator{store: s, retriever: retriever, chatLLM: chatLLM, cfg: cfg}
}

// refusalAnswer is returned to the caller (never treated as a generation
// output) whenever the chain is blocked before or after generation.
const refusalAnswer = "I don't have enough grounded evidence to answer that."

// Chat runs the five-step sequence: create the message, run retrieval,
// run generation (gated), run the evaluator (always, once retrieval
// produced something), then settle Message.status from the evaluator
// verdict.
func (o *Orchestrator) Chat(ctx context.Context, kbID ids.ID, question string, opts Options) (*Result, error) {
	start := time.Now()

	if err := opts.Context.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadContext, err)
	}
	genCfg, err := o.resolveGeneration(opts.Context)
	if err != nil {
		return nil, err
	}
	evalCfg, err := o.resolveEvaluator(opts.Context)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadContext, err)
	}
	if err := o.checkEmbedOverride(ctx, kbID, opts.Context); err != nil {
		return nil, err
	}
	debug := opts.Debug || (opts.Context != nil && opts.Context.ReturnHits)

	convID := opts.ConversationID
	if convID.IsNil() {
		convID = ids.New()
		if err := o.store.InsertConversation(ctx, store.Conversation{ID: convID, KBID: kbID}); err != nil {
			return nil, fmt.Errorf("chat: create conversation: %w", err)
		}
	}

	msgID := ids.New()
	if err := o.store.InsertMessage(ctx, store.Message{
		ID: msgID, ConversationID: convID, KBID: kbID, QueryText: question, Status: store.MessageStatusPending,
	}); err != nil {
		return nil, fmt.Errorf("chat: create message: %w", err)
	}

	searchOpts := opts.Retrieval
	if searchOpts == (retrieval.SearchOptions{}) {
		searchOpts = o.cfg.Retrieval
	}
	searchOpts = opts.Context.applyRetrieval(searchOpts)

	// --- C4: Retrieval ---
	hits, retrievalReport, trace, err := o.retriever.Search(ctx, kbID, question, searchOpts)
	if err != nil && err != retrieval.ErrNoEvidence {
		o.store.UpdateMessageStatus(ctx, msgID, store.MessageStatusFailed)
		return nil, fmt.Errorf("chat: retrieval: %w", err)
	}

	retrievalRecordID := ids.New()
	if ierr := o.persistRetrieval(ctx, retrievalRecordID, msgID, kbID, question, hits, trace); ierr != nil {
		slog.Warn("chat: failed to persist retrieval record", "message_id", msgID, "error", ierr)
	}

	result := &Result{ConversationID: convID, MessageID: msgID, KBID: kbID, RetrievalRecordID: retrievalRecordID}
	if debug {
		result.Debug = &Debug{RetrievalTrace: trace, Hits: hits}
	}

	// A retrieval-gate fail skips generation AND the evaluator: with no
	// generation output there is nothing for C6 to judge, so the envelope
	// reports evaluator status "skipped", not "fail". The message itself
	// still ends "blocked", which is what callers must act on.
	if gate.BlocksGeneration(retrievalReport) || err == retrieval.ErrNoEvidence {
		o.store.UpdateMessageStatus(ctx, msgID, store.MessageStatusBlocked)
		result.Status = store.MessageStatusBlocked
		result.Answer = refusalAnswer
		result.Reasons = blockReasons(retrievalReport, "no_evidence")
		result.Evaluator = EvaluatorSummary{Status: string(gate.Skipped), RuleVersion: evaluator.RuleVersion}
		return result, nil
	}

	// --- C5: Generation ---
	evidence := make([]generation.Evidence, len(hits))
	hitIDs := make([]ids.ID, len(hits))
	for i, h := range hits {
		evidence[i] = generation.Evidence{
			Rank: i + 1, NodeID: h.Node.ID, Page: h.Node.Page,
			ArticleID: h.Node.ArticleID, SectionPath: h.Node.SectionPath, Excerpt: h.Node.Text,
		}
		hitIDs[i] = h.Node.ID
	}

	genInput := generation.Input{Question: question, Evidence: evidence, Config: genCfg}
	systemMsg, userMsg := generation.BuildPrompt(genInput)
	resp, genErr := generation.Call(ctx, o.chatLLM, genInput)

	var genOut generation.Output
	if genErr != nil {
		detail := genErr.Error()
		if ctx.Err() != nil {
			detail = "cancelled"
		}
		genOut = generation.Output{Report: gate.Aggregate("generation", []gate.Check{
			{Name: "model_call", Status: gate.Fail, Detail: detail},
		})}
	} else {
		genOut = generation.PostProcess(resp, genInput)
	}

	generationRecordID := ids.New()
	genStatus := "success"
	switch genOut.Report.Status {
	case gate.Fail:
		genStatus = "failed"
	case gate.Partial:
		genStatus = "partial"
	}
	genRecord := store.GenerationRecord{
		ID: generationRecordID, MessageID: msgID, RetrievalRecordID: retrievalRecordID,
		PromptName: generation.DefaultPromptName, PromptVersion: generation.DefaultPromptVersion,
		ModelProvider: genCfg.Provider, ModelName: genCfg.Model,
		MessagesSnapshot: store.MustMarshal([]llm.Message{
			{Role: "system", Content: systemMsg}, {Role: "user", Content: userMsg},
		}),
		OutputRaw: genOut.RawResponse, OutputStructured: store.MustMarshal(genOut),
		Citations: store.MustMarshal(genOut.Citations),
		Status:    genStatus,
	}
	if genOut.ModelUsed != "" {
		genRecord.ModelName = genOut.ModelUsed
	}
	if genErr != nil {
		genRecord.ErrorMessage = genErr.Error()
		if ctx.Err() != nil {
			genRecord.ErrorMessage = "cancelled"
		}
	}
	if ierr := o.store.InsertGenerationRecord(ctx, genRecord); ierr != nil {
		slog.Warn("chat: failed to persist generation record", "message_id", msgID, "error", ierr)
	}
	result.GenerationRecordID = generationRecordID
	result.PromptTokens = genOut.PromptTokens
	result.CompletionTokens = genOut.CompTokens
	result.TotalTokens = genOut.TotalTokens

	// Generation Gate fail does NOT block the evaluator: it must still run
	// so the evaluator can record the failure.

	// --- C6: Evaluator ---
	citationIDs := make([]ids.ID, len(genOut.Citations))
	for i, c := range genOut.Citations {
		citationIDs[i] = c.NodeID
	}
	evalReport, scores := evaluator.Evaluate(evaluator.Input{
		Hits: hitIDs, Citations: citationIDs, Answer: genOut.Answer, Config: evalCfg,
	})

	evaluationRecordID := ids.New()
	warnings := warningsOf(evalReport)
	if ierr := o.store.InsertEvaluationRecord(ctx, store.EvaluationRecord{
		ID: evaluationRecordID, MessageID: msgID, RetrievalRecordID: retrievalRecordID,
		GenerationRecordID: generationRecordID, Status: string(evalReport.Status),
		RuleVersion: evaluator.RuleVersion, Config: store.MustMarshal(evalCfg),
		Checks: store.MustMarshal(evalReport.Checks), Scores: store.MustMarshal(scores),
	}); ierr != nil {
		slog.Warn("chat: failed to persist evaluation record", "message_id", msgID, "error", ierr)
	}
	result.EvaluationRecordID = evaluationRecordID
	result.Evaluator = EvaluatorSummary{Status: string(evalReport.Status), RuleVersion: evaluator.RuleVersion, Warnings: warnings}

	finalStatus := store.MessageStatusSuccess
	if gate.BlocksUserVisibleAnswer(evalReport) {
		finalStatus = store.MessageStatusBlocked
		result.Answer = refusalAnswer
		result.Reasons = blockReasons(evalReport)
	} else {
		result.Answer = genOut.Answer
		result.Citations = genOut.Citations
	}
	result.Status = finalStatus
	o.store.UpdateMessageStatus(ctx, msgID, finalStatus)

	slog.Info("chat: message complete", "message_id", msgID, "status", finalStatus,
		"evaluator_status", evalReport.Status, "elapsed", time.Since(start).Round(time.Millisecond))

	return result, nil
}

// resolveGeneration applies the context's model selection over the
// configured default, honoring the allowlist.
func (o *Orchestrator) resolveGeneration(c *Context) (generation.Config, error) {
	cfg := o.cfg.Generation
	if c == nil {
		return cfg, nil
	}
	if c.ModelProvider != "" && c.ModelProvider != cfg.Provider {
		return cfg, fmt.Errorf("%w: model_provider %q is not wired (have %q)", ErrBadContext, c.ModelProvider, cfg.Provider)
	}
	if c.ModelName != "" && c.ModelName != cfg.Model {
		allowed := false
		for _, m := range o.cfg.AllowedModels {
			if m == c.ModelName {
				allowed = true
				break
			}
		}
		if !allowed {
			return cfg, fmt.Errorf("%w: model_name %q is not on the allowlist", ErrBadContext, c.ModelName)
		}
		cfg.Model = c.ModelName
	}
	return cfg, nil
}

func (o *Orchestrator) resolveEvaluator(c *Context) (evaluator.Config, error) {
	cfg := o.cfg.Evaluator
	if cfg == (evaluator.Config{}) {
		cfg = evaluator.DefaultConfig()
	}
	return c.applyEvaluator(cfg)
}

// checkEmbedOverride enforces the embedding-config contract: query-time
// embedding must match what the knowledge base was ingested with. This
// orchestrator wires a single embedder shared by ingest and retrieval,
// so an override asking for anything else cannot be honored and is
// rejected up front rather than silently searched with the wrong space.
func (o *Orchestrator) checkEmbedOverride(ctx context.Context, kbID ids.ID, c *Context) error {
	if c == nil || (c.EmbedProvider == "" && c.EmbedModel == "" && c.EmbedDim == 0) {
		return nil
	}
	kb, err := o.store.GetKB(ctx, kbID)
	if err != nil {
		return fmt.Errorf("chat: loading knowledge base: %w", err)
	}
	if c.EmbedProvider != "" && c.EmbedProvider != kb.EmbedProvider {
		return fmt.Errorf("%w: embed_provider %q does not match knowledge base's %q", ErrBadContext, c.EmbedProvider, kb.EmbedProvider)
	}
	if c.EmbedModel != "" && c.EmbedModel != kb.EmbedModel {
		return fmt.Errorf("%w: embed_model %q does not match knowledge base's %q", ErrBadContext, c.EmbedModel, kb.EmbedModel)
	}
	if c.EmbedDim != 0 && c.EmbedDim != kb.EmbedDim {
		return fmt.Errorf("%w: embed_dim %d does not match knowledge base's %d", ErrBadContext, c.EmbedDim, kb.EmbedDim)
	}
	return nil
}

func (o *Orchestrator) persistRetrieval(ctx context.Context, recordID, msgID, kbID ids.ID, question string, hits []retrieval.Hit, trace *retrieval.SearchTrace) error {
	record := store.RetrievalRecord{
		ID: recordID, MessageID: msgID, KBID: kbID, QueryText: question,
	}
	if trace != nil {
		record.KeywordTopK = trace.KeywordTopK
		record.VectorTopK = trace.VectorTopK
		record.FusionTopK = trace.FusionTopK
		record.RerankTopK = trace.RerankTopK
		record.FusionStrategy = trace.FusionStrategy
		record.RerankStrategy = trace.RerankStrategy
		record.ProviderSnapshot = store.MustMarshal(map[string]interface{}{
			"weight_keyword": trace.WeightKeyword,
			"weight_vector":  trace.WeightVector,
			"weight_graph":   trace.WeightGraph,
			"normalizer":     "fts5_rank_negate",
		})
		record.TimingMs = store.MustMarshal(map[string]int64{"elapsed_ms": trace.ElapsedMs})
	}

	storeHits := make([]store.RetrievalHit, len(hits))
	for i, h := range hits {
		storeHits[i] = store.RetrievalHit{
			RetrievalRecordID: recordID, NodeID: h.Node.ID, Source: "fused", Rank: i + 1,
			Score: h.Fused.Score, ScoreDetails: store.MustMarshal(h.Fused),
			Excerpt: excerpt(h.Node.Text, 280),
			Page:    h.Node.Page, StartOffset: h.Node.StartOffset, EndOffset: h.Node.EndOffset,
		}
	}
	return o.store.InsertRetrievalRecord(ctx, record, storeHits)
}

func excerpt(text string, n int) string {
	if len(text) <= n {
		return text
	}
	return text[:n]
}

func warningsOf(r gate.Report) []string {
	var warnings []string
	for _, c := range r.Checks {
		if c.Status == gate.Warn {
			warnings = append(warnings, fmt.Sprintf("%s: %s", c.Name, c.Detail))
		}
	}
	return warnings
}

// blockReasons collects the failed checks of a gate report into the
// reason list the refusal envelope carries, with extra fixed reasons
// (e.g. "no_evidence") appended.
func blockReasons(r gate.Report, extra ...string) []string {
	var reasons []string
	for _, c := range r.Checks {
		if c.Status == gate.Fail {
			reasons = append(reasons, c.Name)
		}
	}
	reasons = append(reasons, r.Reasons...)
	reasons = append(reasons, extra...)
	return reasons
}
