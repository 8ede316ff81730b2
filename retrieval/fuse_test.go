package retrieval

import "testing"

func TestFuseRRFCombinesRankAcrossSources(t *testing.T) {
	shared := mustID(t)
	onlyVec := mustID(t)

	keyword := []Candidate{{NodeID: shared, Source: SourceKeyword, Rank: 1, RawScore: 5}}
	vector := []Candidate{
		{NodeID: shared, Source: SourceVector, Rank: 2, RawScore: 0.8},
		{NodeID: onlyVec, Source: SourceVector, Rank: 1, RawScore: 0.9},
	}

	fused := Fuse(FusionRRF, keyword, vector, nil, 1.0, 1.0, 1.0, 10)
	if len(fused) != 2 {
		t.Fatalf("expected 2 fused results, got %d", len(fused))
	}
	if fused[0].NodeID != shared {
		t.Errorf("expected the node hit by both sources to rank first, got %s", fused[0].NodeID)
	}
	if len(fused[0].Methods) != 2 {
		t.Errorf("expected 2 contributing methods for the shared node, got %v", fused[0].Methods)
	}
}

func TestFuseUnionRanksByDistinctSourceCount(t *testing.T) {
	both := mustID(t)
	single := mustID(t)

	keyword := []Candidate{{NodeID: both, Source: SourceKeyword, Rank: 1, RawScore: 1}}
	vector := []Candidate{
		{NodeID: both, Source: SourceVector, Rank: 1, RawScore: 1},
		{NodeID: single, Source: SourceVector, Rank: 2, RawScore: 0.99},
	}

	fused := Fuse(FusionUnion, keyword, vector, nil, 0, 0, 0, 10)
	if fused[0].NodeID != both {
		t.Errorf("expected node seen by 2 sources to rank above node seen by 1, got %s first", fused[0].NodeID)
	}
}

func TestFuseWeightedHonorsRawScoreMagnitude(t *testing.T) {
	strong := mustID(t)
	weak := mustID(t)

	vector := []Candidate{
		{NodeID: strong, Source: SourceVector, Rank: 1, RawScore: 0.95},
		{NodeID: weak, Source: SourceVector, Rank: 2, RawScore: 0.10},
	}

	fused := Fuse(FusionWeighted, nil, vector, nil, 0, 1.0, 0, 10)
	if fused[0].NodeID != strong {
		t.Errorf("expected the higher raw-score node to rank first, got %s", fused[0].NodeID)
	}
	if fused[0].Score <= fused[1].Score {
		t.Errorf("expected a meaningfully larger score for the stronger candidate")
	}
}

func TestFuseRespectsMaxResults(t *testing.T) {
	vector := []Candidate{
		{NodeID: mustID(t), Source: SourceVector, Rank: 1, RawScore: 1},
		{NodeID: mustID(t), Source: SourceVector, Rank: 2, RawScore: 0.9},
		{NodeID: mustID(t), Source: SourceVector, Rank: 3, RawScore: 0.8},
	}
	fused := Fuse(FusionRRF, nil, vector, nil, 0, 1.0, 0, 2)
	if len(fused) != 2 {
		t.Fatalf("expected maxResults to cap fused output at 2, got %d", len(fused))
	}
}
