// Package generation implements the Generation Engine (C5): it turns a
// question plus a set of retrieval hits into a structured answer with
// citations. Prompt construction, the model call, and citation alignment
// are kept as separate pure(ish) stages so each can be tested in
// isolation, per the split already used by the reasoning engine this
// package supersedes.
package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ArchyTseng/tiic-law-chat/gate"
	"github.com/ArchyTseng/tiic-law-chat/ids"
	"github.com/ArchyTseng/tiic-law-chat/llm"
)

// Evidence is one retrieval hit rendered into the prompt's evidence block.
// Rank is the hit's 1-based position in the fused/reranked retrieval order.
// The model is asked to cite both rank and node_id; PostProcess looks a
// citation up by rank and keeps it only if its node_id matches as well.
type Evidence struct {
	Rank        int
	NodeID      ids.ID
	Page        int
	ArticleID   string
	SectionPath string
	Excerpt     string
}

// Input is everything the engine needs to produce an answer.
type Input struct {
	Question  string
	Evidence  []Evidence
	Config    Config
}

// The one prompt template this engine currently ships. The name/version
// pair is persisted with every generation record so a future template
// change never silently reinterprets old records.
const (
	DefaultPromptName    = "legal_evidence_answer"
	DefaultPromptVersion = "v1"
)

// Config controls model selection and limits for a single call.
// Provider names the wired provider (recorded, not dialed here).
type Config struct {
	Provider    string
	Model       string
	Temperature float64
	MaxTokens   int
}

// Citation is one citation the model attached to its answer, after
// alignment against Input.Evidence.
type Citation struct {
	NodeID ids.ID `json:"node_id"`
	Rank   int    `json:"rank"`
}

// Output is the generation result plus the gate report describing
// whether the model produced well-formed, grounded JSON.
type Output struct {
	Answer       string
	Citations    []Citation
	ModelUsed    string
	RawResponse  string
	PromptTokens int
	CompTokens   int
	TotalTokens  int
	Report       gate.Report
}

// modelAnswer is the strict JSON shape the prompt asks the model for.
type modelAnswer struct {
	Answer    string `json:"answer"`
	Citations []struct {
		NodeID string `json:"node_id"`
		Rank   int    `json:"rank"`
	} `json:"citations"`
}

const systemInstruction = `You are a precise legal document assistant. Answer the question using ONLY the evidence block below.
Rules:
1. State only facts directly supported by the evidence.
2. If the evidence does not contain enough information, say so explicitly in the answer field.
3. Respond with a single JSON object matching this shape exactly, and nothing else:
   {"answer": "<your answer text>", "citations": [{"node_id": "<evidence node_id>", "rank": <evidence rank>}]}
4. Every citation's node_id and rank must be copied verbatim from an evidence entry below. Never invent a node_id.
5. Cite every evidence entry you relied on; omit entries you did not use.`

// BuildPrompt renders the evidence block and the user turn. The system
// instruction is returned separately so the caller can pass it as its
// own chat message, matching the provider's Message{Role, Content} shape.
func BuildPrompt(in Input) (system, user string) {
	var b strings.Builder
	for _, e := range in.Evidence {
		fmt.Fprintf(&b, "[%d] (node_id=%s", e.Rank, e.NodeID)
		if e.Page > 0 {
			fmt.Fprintf(&b, ", page=%d", e.Page)
		}
		if e.ArticleID != "" {
			fmt.Fprintf(&b, ", article=%s", e.ArticleID)
		}
		if e.SectionPath != "" {
			fmt.Fprintf(&b, ", section=%s", e.SectionPath)
		}
		b.WriteString(") ")
		b.WriteString(strings.TrimSpace(e.Excerpt))
		b.WriteString("\n")
	}
	evidence := b.String()
	if evidence == "" {
		evidence = "(no evidence retrieved)\n"
	}

	user = fmt.Sprintf("Evidence:\n%s\nQuestion: %s\n\nRespond with the JSON object described in the system instruction.", evidence, in.Question)
	return systemInstruction, user
}

// Call sends the prompt to the provider. It is a thin transport layer:
// all grounding/format judgement happens in PostProcess.
func Call(ctx context.Context, provider llm.Provider, in Input) (*llm.ChatResponse, error) {
	system, user := BuildPrompt(in)
	start := time.Now()
	resp, err := provider.Chat(ctx, llm.ChatRequest{
		Model:          in.Config.Model,
		Messages:       []llm.Message{{Role: "system", Content: system}, {Role: "user", Content: user}},
		Temperature:    in.Config.Temperature,
		MaxTokens:      in.Config.MaxTokens,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return nil, fmt.Errorf("generation call: %w", err)
	}
	slog.Debug("generation: call complete",
		"model", resp.Model, "tokens", resp.TotalTokens, "elapsed", time.Since(start).Round(time.Millisecond))
	return resp, nil
}

// PostProcess parses the model's raw content as the required JSON shape
// and aligns citations against the evidence that was actually offered.
// A citation whose node_id/rank does not match an evidence entry is
// dropped rather than trusted — the model cannot cite evidence it was
// never shown.
func PostProcess(resp *llm.ChatResponse, in Input) Output {
	out := Output{
		ModelUsed:    resp.Model,
		RawResponse:  resp.Content,
		PromptTokens: resp.PromptTokens,
		CompTokens:   resp.CompletionTokens,
		TotalTokens:  resp.TotalTokens,
	}

	byRank := make(map[int]Evidence, len(in.Evidence))
	for _, e := range in.Evidence {
		byRank[e.Rank] = e
	}

	var parsed modelAnswer
	checks := []gate.Check{}

	if err := json.Unmarshal([]byte(resp.Content), &parsed); err != nil {
		// Malformed model output is non-fatal: the raw text survives and
		// citations stay empty, so the stage is partial, not failed.
		checks = append(checks, gate.Check{Name: "valid_json", Status: gate.Warn, Detail: err.Error()})
		out.Answer = strings.TrimSpace(resp.Content)
		out.Report = gate.Aggregate("generation", checks)
		return out
	}
	checks = append(checks, gate.Check{Name: "valid_json", Status: gate.Pass})
	out.Answer = strings.TrimSpace(parsed.Answer)

	dropped := 0
	for _, c := range parsed.Citations {
		ev, ok := byRank[c.Rank]
		if !ok || ev.NodeID.String() != c.NodeID {
			dropped++
			continue
		}
		out.Citations = append(out.Citations, Citation{NodeID: ev.NodeID, Rank: c.Rank})
	}

	switch {
	case dropped > 0 && len(out.Citations) == 0:
		// Every citation the model offered was ungrounded: nothing it
		// cited survives alignment, so the stage has failed outright.
		checks = append(checks, gate.Check{
			Name: "citations_grounded", Status: gate.Fail,
			Detail: fmt.Sprintf("dropped all %d citation(s); none matched offered evidence", dropped),
		})
	case dropped > 0:
		checks = append(checks, gate.Check{
			Name: "citations_grounded", Status: gate.Warn,
			Detail: fmt.Sprintf("dropped %d citation(s) not present in offered evidence", dropped),
		})
	default:
		checks = append(checks, gate.Check{Name: "citations_grounded", Status: gate.Pass})
	}

	// An answer produced against an empty evidence block is ungroundable
	// by definition, whether or not the model also invented citations.
	if len(in.Evidence) == 0 {
		if out.Answer != "" {
			checks = append(checks, gate.Check{Name: "no_evidence_hallucination", Status: gate.Fail, Detail: "model produced an answer despite an empty evidence block"})
		} else {
			checks = append(checks, gate.Check{Name: "no_evidence_hallucination", Status: gate.Pass, Detail: "no evidence offered, none answered"})
		}
	}

	out.Report = gate.Aggregate("generation", checks)
	return out
}
