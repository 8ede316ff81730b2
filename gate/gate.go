// Package gate implements the Gate Kernel (C8): a pure, network-free
// aggregator that turns a stage's reported checks into one of
// pass/partial/fail/skipped and enforces the causal chain between stages.
// No stage calls a gate directly and no gate calls a stage, keeping the
// causal graph acyclic, per the design notes.
package gate

// Status is the verdict a gate (or a single check) can carry.
type Status string

const (
	Pass    Status = "pass"
	Partial Status = "partial"
	Fail    Status = "fail"
	Skipped Status = "skipped"
	Warn    Status = "warn" // check-level only; never a gate-level status
)

// Check is one named, pure evaluation performed by a stage.
type Check struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Report is what every stage emits: its name, the checks it ran, and
// reasons to surface to the caller. The kernel fills in Status from
// Checks; stages never set it themselves.
type Report struct {
	Name    string   `json:"name"`
	Status  Status   `json:"status"`
	Reasons []string `json:"reasons,omitempty"`
	Checks  []Check  `json:"checks"`
}

// Aggregate computes a gate's Status from its Checks: any fail -> fail;
// any warn and no fail -> partial; all pass -> pass; all skipped -> skipped.
// This is the one place verdict arithmetic happens — stages must not
// reimplement it.
func Aggregate(name string, checks []Check, reasons ...string) Report {
	r := Report{Name: name, Checks: checks, Reasons: reasons}

	if len(checks) == 0 {
		r.Status = Skipped
		return r
	}

	allSkipped := true
	anyFail := false
	anyWarn := false
	for _, c := range checks {
		switch c.Status {
		case Fail:
			anyFail = true
			allSkipped = false
		case Warn:
			anyWarn = true
			allSkipped = false
		case Pass:
			allSkipped = false
		case Skipped:
			// leaves allSkipped untouched
		}
	}

	switch {
	case allSkipped:
		r.Status = Skipped
	case anyFail:
		r.Status = Fail
	case anyWarn:
		r.Status = Partial
	default:
		r.Status = Pass
	}
	return r
}

// Chain is the causal enforcement table:
//   Ingest.fail      blocks Retrieval
//   Retrieval.fail   blocks Generation
//   Generation.fail  does NOT block Evaluator
//   Evaluator.fail   blocks the user-visible answer
//
// These helpers are intentionally tiny and side-effect free; the
// orchestrator (C7) is the only caller that acts on their results.

// BlocksRetrieval reports whether an Ingest gate report should prevent
// retrieval from running against the file's nodes.
func BlocksRetrieval(ingest Report) bool {
	return ingest.Status == Fail
}

// BlocksGeneration reports whether a Retrieval gate report should
// prevent the Generation Engine from running at all.
func BlocksGeneration(retrieval Report) bool {
	return retrieval.Status == Fail
}

// BlocksEvaluator always returns false: a Generation gate failure must
// still let the Evaluator run, so it can record the failure.
func BlocksEvaluator(generation Report) bool {
	return false
}

// BlocksUserVisibleAnswer reports whether an Evaluator gate report
// should prevent the answer from being returned to the caller.
func BlocksUserVisibleAnswer(evaluator Report) bool {
	return evaluator.Status == Fail
}
