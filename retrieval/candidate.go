package retrieval

import "github.com/ArchyTseng/tiic-law-chat/ids"

// Source names one of the three recall methods a Candidate came from.
type Source string

const (
	SourceKeyword Source = "keyword"
	SourceVector  Source = "vector"
	SourceGraph   Source = "graph"
)

// Candidate is the universal tagged intermediate record every recall
// method produces before fusion. RawScore keeps each method's native
// score (already normalized higher-is-better by the store) so later
// fusion strategies can renormalize it without re-querying.
type Candidate struct {
	NodeID   ids.ID
	Source   Source
	Rank     int // 1-based position within its own source's result list
	RawScore float64
}

// FusedResult is one node after fusion: a single score plus the
// per-source rank contributions, kept for the trace/debug envelope.
type FusedResult struct {
	NodeID      ids.ID
	Score       float64
	Methods     []string
	KeywordRank int // 0 = not present
	VectorRank  int
	GraphRank   int
}
