package gate

import "testing"

func TestAggregateAnyFailWins(t *testing.T) {
	r := Aggregate("retrieval", []Check{
		{Name: "a", Status: Pass},
		{Name: "b", Status: Fail},
		{Name: "c", Status: Warn},
	})
	if r.Status != Fail {
		t.Errorf("expected Fail, got %s", r.Status)
	}
}

func TestAggregateWarnWithoutFailIsPartial(t *testing.T) {
	r := Aggregate("evaluator", []Check{
		{Name: "a", Status: Pass},
		{Name: "b", Status: Warn},
	})
	if r.Status != Partial {
		t.Errorf("expected Partial, got %s", r.Status)
	}
}

func TestAggregateAllPass(t *testing.T) {
	r := Aggregate("generation", []Check{{Name: "a", Status: Pass}, {Name: "b", Status: Pass}})
	if r.Status != Pass {
		t.Errorf("expected Pass, got %s", r.Status)
	}
}

func TestAggregateAllSkippedOrEmpty(t *testing.T) {
	if r := Aggregate("x", nil); r.Status != Skipped {
		t.Errorf("expected Skipped for no checks, got %s", r.Status)
	}
	if r := Aggregate("x", []Check{{Name: "a", Status: Skipped}}); r.Status != Skipped {
		t.Errorf("expected Skipped when all checks skipped, got %s", r.Status)
	}
}

func TestCausalChain(t *testing.T) {
	if !BlocksRetrieval(Aggregate("ingest", []Check{{Status: Fail}})) {
		t.Error("Ingest.fail must block retrieval")
	}
	if !BlocksGeneration(Aggregate("retrieval", []Check{{Status: Fail}})) {
		t.Error("Retrieval.fail must block generation")
	}
	if BlocksEvaluator(Aggregate("generation", []Check{{Status: Fail}})) {
		t.Error("Generation.fail must not block the evaluator")
	}
	if !BlocksUserVisibleAnswer(Aggregate("evaluator", []Check{{Status: Fail}})) {
		t.Error("Evaluator.fail must block the user-visible answer")
	}
}
