package generation

import (
	"strings"
	"testing"

	"github.com/ArchyTseng/tiic-law-chat/gate"
	"github.com/ArchyTseng/tiic-law-chat/ids"
	"github.com/ArchyTseng/tiic-law-chat/llm"
)

func TestBuildPromptIncludesEvidenceAndQuestion(t *testing.T) {
	nodeID := ids.New()
	in := Input{
		Question: "What is the notice period?",
		Evidence: []Evidence{{Rank: 1, NodeID: nodeID, Page: 3, ArticleID: "Art.5", Excerpt: "thirty days notice"}},
	}
	system, user := BuildPrompt(in)
	if system == "" {
		t.Fatal("expected non-empty system instruction")
	}
	for _, want := range []string{nodeID.String(), "thirty days notice", "What is the notice period?"} {
		if !strings.Contains(user, want) {
			t.Errorf("expected prompt to contain %q, got: %s", want, user)
		}
	}
}

func TestBuildPromptHandlesNoEvidence(t *testing.T) {
	system, user := BuildPrompt(Input{Question: "anything?"})
	if system == "" || user == "" {
		t.Fatal("expected non-empty prompt even with zero evidence")
	}
}

func TestPostProcessDropsUngroundedCitation(t *testing.T) {
	ev := Evidence{Rank: 1, NodeID: ids.New()}
	foreign := ids.New()
	resp := &llm.ChatResponse{
		Content: `{"answer":"ok","citations":[{"node_id":"` + foreign.String() + `","rank":1}]}`,
		Model:   "test-model",
	}
	out := PostProcess(resp, Input{Evidence: []Evidence{ev}})
	if len(out.Citations) != 0 {
		t.Fatalf("expected the foreign citation to be dropped, got %+v", out.Citations)
	}
	if out.Report.Status != gate.Fail {
		t.Fatalf("expected fail when every offered citation is dropped, got %s", out.Report.Status)
	}
}

func TestPostProcessPartialWhenSomeCitationsDropped(t *testing.T) {
	kept := Evidence{Rank: 1, NodeID: ids.New()}
	foreign := ids.New()
	resp := &llm.ChatResponse{
		Content: `{"answer":"ok","citations":[{"node_id":"` + kept.NodeID.String() + `","rank":1},{"node_id":"` + foreign.String() + `","rank":2}]}`,
	}
	out := PostProcess(resp, Input{Evidence: []Evidence{kept}})
	if len(out.Citations) != 1 {
		t.Fatalf("expected one surviving citation, got %+v", out.Citations)
	}
	if out.Report.Status != gate.Partial {
		t.Fatalf("expected partial status when some citations remain, got %s", out.Report.Status)
	}
}

func TestPostProcessKeepsGroundedCitation(t *testing.T) {
	ev := Evidence{Rank: 1, NodeID: ids.New()}
	resp := &llm.ChatResponse{
		Content: `{"answer":"ok","citations":[{"node_id":"` + ev.NodeID.String() + `","rank":1}]}`,
	}
	out := PostProcess(resp, Input{Evidence: []Evidence{ev}})
	if len(out.Citations) != 1 || out.Citations[0].NodeID != ev.NodeID {
		t.Fatalf("expected one grounded citation, got %+v", out.Citations)
	}
	if out.Report.Status != gate.Pass {
		t.Fatalf("expected pass, got %s (%+v)", out.Report.Status, out.Report.Checks)
	}
}

func TestPostProcessPartialOnMalformedJSON(t *testing.T) {
	resp := &llm.ChatResponse{Content: "not json at all"}
	out := PostProcess(resp, Input{})
	if out.Report.Status != gate.Partial {
		t.Fatalf("expected partial on malformed JSON, got %s", out.Report.Status)
	}
	if out.Answer != "not json at all" {
		t.Fatalf("expected raw response kept as answer, got %q", out.Answer)
	}
	if len(out.Citations) != 0 {
		t.Fatalf("expected no citations on malformed JSON, got %+v", out.Citations)
	}
}

func TestPostProcessFlagsHallucinationWithNoEvidence(t *testing.T) {
	resp := &llm.ChatResponse{
		Content: `{"answer":"ok","citations":[{"node_id":"` + ids.New().String() + `","rank":1}]}`,
	}
	out := PostProcess(resp, Input{Evidence: nil})
	found := false
	for _, c := range out.Report.Checks {
		if c.Name == "no_evidence_hallucination" && c.Status == gate.Fail {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected no_evidence_hallucination check to fail, got %+v", out.Report.Checks)
	}
}

func TestPostProcessFlagsUncitedAnswerWithNoEvidence(t *testing.T) {
	// Even without invented citations, an answer against an empty
	// evidence block is a hallucination and must fail the stage.
	resp := &llm.ChatResponse{Content: `{"answer":"confident but baseless","citations":[]}`}
	out := PostProcess(resp, Input{Evidence: nil})
	if out.Report.Status != gate.Fail {
		t.Fatalf("expected fail for an uncited no-evidence answer, got %s (%+v)", out.Report.Status, out.Report.Checks)
	}
}
