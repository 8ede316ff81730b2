package chat

import (
	"encoding/json"
	"fmt"

	"github.com/ArchyTseng/tiic-law-chat/evaluator"
	"github.com/ArchyTseng/tiic-law-chat/generation"
	"github.com/ArchyTseng/tiic-law-chat/retrieval"
)

// Context carries the caller's per-request overrides, the chat_context
// block of the wire contract. Every field is optional; the top-k caps
// are pointers so "absent" and "explicitly zero" stay distinguishable —
// vector_top_k=0 is the documented way to disable vector recall, while
// an absent cap falls back to the orchestrator's defaults. Keys this
// version does not recognize are preserved in Extra rather than dropped.
type Context struct {
	KeywordTopK    *int   `json:"keyword_top_k,omitempty"`
	VectorTopK     *int   `json:"vector_top_k,omitempty"`
	FusionTopK     *int   `json:"fusion_top_k,omitempty"`
	RerankTopK     *int   `json:"rerank_top_k,omitempty"`
	FusionStrategy string `json:"fusion_strategy,omitempty"`
	RerankStrategy string `json:"rerank_strategy,omitempty"`

	EmbedProvider string `json:"embed_provider,omitempty"`
	EmbedModel    string `json:"embed_model,omitempty"`
	EmbedDim      int    `json:"embed_dim,omitempty"`

	ModelProvider string `json:"model_provider,omitempty"`
	ModelName     string `json:"model_name,omitempty"`

	PromptName    string `json:"prompt_name,omitempty"`
	PromptVersion string `json:"prompt_version,omitempty"`

	EvaluatorConfig json.RawMessage `json:"evaluator_config,omitempty"`

	ReturnRecords bool `json:"return_records,omitempty"`
	ReturnHits    bool `json:"return_hits,omitempty"`

	Extra map[string]json.RawMessage `json:"extra,omitempty"`
}

// contextAlias breaks the UnmarshalJSON recursion.
type contextAlias Context

// knownContextKeys are the wire names this version handles itself;
// anything else lands in Extra.
var knownContextKeys = map[string]struct{}{
	"keyword_top_k": {}, "vector_top_k": {}, "fusion_top_k": {}, "rerank_top_k": {},
	"fusion_strategy": {}, "rerank_strategy": {},
	"embed_provider": {}, "embed_model": {}, "embed_dim": {},
	"model_provider": {}, "model_name": {},
	"prompt_name": {}, "prompt_version": {},
	"evaluator_config": {}, "return_records": {}, "return_hits": {},
	"extra": {},
}

// UnmarshalJSON decodes the recognized option keys and forwards every
// unknown key into Extra, per the contract.
func (c *Context) UnmarshalJSON(data []byte) error {
	var alias contextAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		if _, ok := knownContextKeys[k]; ok {
			continue
		}
		if alias.Extra == nil {
			alias.Extra = map[string]json.RawMessage{}
		}
		alias.Extra[k] = v
	}

	*c = Context(alias)
	return nil
}

// validate rejects out-of-range values before any stage runs, so a bad
// context surfaces as a BadRequest instead of a half-run pipeline.
func (c *Context) validate() error {
	if c == nil {
		return nil
	}
	for name, k := range map[string]*int{
		"keyword_top_k": c.KeywordTopK, "vector_top_k": c.VectorTopK,
		"fusion_top_k": c.FusionTopK, "rerank_top_k": c.RerankTopK,
	} {
		if k != nil && *k < 0 {
			return fmt.Errorf("chat: %s must be >= 0, got %d", name, *k)
		}
	}
	switch retrieval.FusionStrategy(c.FusionStrategy) {
	case "", retrieval.FusionUnion, retrieval.FusionRRF, retrieval.FusionWeighted:
	default:
		return fmt.Errorf("chat: unknown fusion_strategy %q", c.FusionStrategy)
	}
	switch retrieval.RerankStrategy(c.RerankStrategy) {
	case "", retrieval.RerankNone, retrieval.RerankCrossEncoder, retrieval.RerankLLM:
	default:
		return fmt.Errorf("chat: unknown rerank_strategy %q", c.RerankStrategy)
	}
	if c.PromptName != "" && c.PromptName != generation.DefaultPromptName {
		return fmt.Errorf("chat: unknown prompt_name %q", c.PromptName)
	}
	if c.PromptVersion != "" && c.PromptVersion != generation.DefaultPromptVersion {
		return fmt.Errorf("chat: unknown prompt_version %q", c.PromptVersion)
	}
	return nil
}

// applyRetrieval folds the context's retrieval knobs into opts.
func (c *Context) applyRetrieval(opts retrieval.SearchOptions) retrieval.SearchOptions {
	if c == nil {
		return opts
	}
	if c.KeywordTopK != nil && *c.KeywordTopK > 0 {
		opts.KeywordTopK = *c.KeywordTopK
	}
	if c.VectorTopK != nil {
		if *c.VectorTopK == 0 {
			opts.DisableVector = true
		} else {
			opts.VectorTopK = *c.VectorTopK
		}
	}
	if c.FusionTopK != nil && *c.FusionTopK > 0 {
		opts.FusionTopK = *c.FusionTopK
	}
	if c.RerankTopK != nil && *c.RerankTopK > 0 {
		opts.RerankTopK = *c.RerankTopK
	}
	if c.FusionStrategy != "" {
		opts.Fusion = retrieval.FusionStrategy(c.FusionStrategy)
	}
	if c.RerankStrategy != "" {
		opts.Rerank = retrieval.RerankStrategy(c.RerankStrategy)
	}
	return opts
}

// applyEvaluator overlays the context's evaluator_config object onto the
// orchestrator's defaults. Unknown keys inside the object are ignored by
// encoding/json, matching "keys defined by checks".
func (c *Context) applyEvaluator(cfg evaluator.Config) (evaluator.Config, error) {
	if c == nil || len(c.EvaluatorConfig) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(c.EvaluatorConfig, &cfg); err != nil {
		return cfg, fmt.Errorf("chat: parsing evaluator_config: %w", err)
	}
	return cfg, nil
}
