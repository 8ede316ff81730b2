// Package evaluator implements the Evaluator (C6): a deterministic,
// rule-based engine over retrieval hits and a generation output. Every
// check is a pure function; the engine never calls retrieval or
// generation itself, and never makes a network call.
package evaluator

import (
	"fmt"

	"github.com/ArchyTseng/tiic-law-chat/gate"
	"github.com/ArchyTseng/tiic-law-chat/ids"
)

// RuleVersion is persisted alongside every verdict so that a later change
// to the rule set does not silently reinterpret old records.
const RuleVersion = "v1"

// Config controls the baseline checks. Zero thresholds and a zero
// MinChars fall back to the package defaults in DefaultConfig;
// RequireCitations is used as given.
type Config struct {
	RequireCitations bool    `json:"require_citations"`
	WarnThreshold    float64 `json:"warn_threshold"`
	FailThreshold    float64 `json:"fail_threshold"`
	MinChars         int     `json:"min_chars"`
}

// DefaultConfig returns the baseline thresholds used when a caller's
// ChatContext.evaluator_config does not override them.
func DefaultConfig() Config {
	return Config{
		RequireCitations: true,
		WarnThreshold:    0.5,
		FailThreshold:    0.2,
		MinChars:         20,
	}
}

func (c Config) withDefaults() Config {
	if c.WarnThreshold == 0 {
		c.WarnThreshold = 0.5
	}
	if c.FailThreshold == 0 {
		c.FailThreshold = 0.2
	}
	if c.MinChars == 0 {
		c.MinChars = 20
	}
	return c
}

// Input is everything a check may read. No field here is a live
// connection: hits and citations are already-persisted values.
type Input struct {
	Hits      []ids.ID // node_id of every retrieval hit for the message
	Citations []ids.ID // node_id of every citation the generation post-processor kept
	Answer    string
	Config    Config
}

// Scores is the set of named numeric scores a caller (e.g. the debug
// envelope) may want alongside the pass/fail checks.
type Scores map[string]float64

// Evaluate runs the baseline checks and returns the aggregated gate
// report plus the scores computed along the way. Calling Evaluate twice
// with byte-identical Input yields a byte-identical Report and Scores.
func Evaluate(in Input) (gate.Report, Scores) {
	cfg := in.Config.withDefaults()
	scores := Scores{}

	checks := []gate.Check{
		checkRequireCitations(in, cfg),
		checkCitationCoverage(in, cfg, scores),
		checkMinAnswerLength(in, cfg),
		checkNoEmptyAnswer(in),
	}

	return gate.Aggregate("evaluator", checks), scores
}

func checkRequireCitations(in Input, cfg Config) gate.Check {
	if !cfg.RequireCitations {
		return gate.Check{Name: "require_citations", Status: gate.Skipped}
	}
	if len(in.Citations) >= 1 {
		return gate.Check{Name: "require_citations", Status: gate.Pass}
	}
	return gate.Check{Name: "require_citations", Status: gate.Fail, Detail: "answer carries zero citations"}
}

// citationCoverage is |{citation.node_id} ∩ {hit.node_id}| / max(1, |citations|).
func checkCitationCoverage(in Input, cfg Config, scores Scores) gate.Check {
	if len(in.Citations) == 0 {
		scores["citation_coverage"] = 0
		return gate.Check{Name: "citation_coverage", Status: gate.Skipped, Detail: "no citations to score"}
	}

	hitSet := make(map[ids.ID]struct{}, len(in.Hits))
	for _, h := range in.Hits {
		hitSet[h] = struct{}{}
	}

	matched := 0
	for _, c := range in.Citations {
		if _, ok := hitSet[c]; ok {
			matched++
		}
	}

	denom := len(in.Citations)
	if denom < 1 {
		denom = 1
	}
	coverage := float64(matched) / float64(denom)
	scores["citation_coverage"] = coverage

	detail := fmt.Sprintf("%d/%d citations matched a retrieval hit", matched, len(in.Citations))
	switch {
	case coverage < cfg.FailThreshold:
		return gate.Check{Name: "citation_coverage", Status: gate.Fail, Detail: detail}
	case coverage < cfg.WarnThreshold:
		return gate.Check{Name: "citation_coverage", Status: gate.Warn, Detail: detail}
	default:
		return gate.Check{Name: "citation_coverage", Status: gate.Pass, Detail: detail}
	}
}

func checkMinAnswerLength(in Input, cfg Config) gate.Check {
	if len(in.Answer) >= cfg.MinChars {
		return gate.Check{Name: "min_answer_length", Status: gate.Pass}
	}
	return gate.Check{
		Name:   "min_answer_length",
		Status: gate.Fail,
		Detail: fmt.Sprintf("answer is %d chars, below minimum %d", len(in.Answer), cfg.MinChars),
	}
}

func checkNoEmptyAnswer(in Input) gate.Check {
	for _, r := range in.Answer {
		if r != ' ' && r != '\t' && r != '\n' {
			return gate.Check{Name: "no_empty_answer", Status: gate.Pass}
		}
	}
	return gate.Check{Name: "no_empty_answer", Status: gate.Fail, Detail: "answer is blank"}
}
