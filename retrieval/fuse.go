package retrieval

import (
	"math"
	"sort"

	"github.com/ArchyTseng/tiic-law-chat/ids"
)

// rrfK is the Reciprocal Rank Fusion constant (standard value from the
// literature, unchanged from the hybrid search this package generalizes).
const rrfK = 60

// FusionStrategy selects how per-source candidate lists are combined
// into one ranked list.
type FusionStrategy string

const (
	FusionRRF      FusionStrategy = "rrf"
	FusionUnion    FusionStrategy = "union"
	FusionWeighted FusionStrategy = "weighted"
)

// fuseState accumulates one node's fused score and per-source metadata
// across however many source lists mention it.
type fuseState struct {
	nodeID ids.ID
	res    FusedResult
	score  float64
}

type fuseTable = map[ids.ID]*fuseState

func newFuseTable() fuseTable {
	return make(fuseTable)
}

func tableEntry(t fuseTable, nodeID ids.ID) *fuseState {
	e, ok := t[nodeID]
	if !ok {
		e = &fuseState{nodeID: nodeID, res: FusedResult{NodeID: nodeID}}
		t[nodeID] = e
	}
	return e
}

func tagRank(r *FusedResult, source Source, rank int) {
	switch source {
	case SourceKeyword:
		r.KeywordRank = rank
	case SourceVector:
		r.VectorRank = rank
	case SourceGraph:
		r.GraphRank = rank
	}
}

// rankOrUnranked treats a zero rank (the field's unset zero value, since
// real ranks are 1-based) as "worse than any ranked result" for tie-break
// ordering, so a candidate that a source never surfaced never outranks
// one it did.
func rankOrUnranked(rank int) int {
	if rank <= 0 {
		return math.MaxInt
	}
	return rank
}

func finalize(t fuseTable, maxResults int) []FusedResult {
	out := make([]FusedResult, 0, len(t))
	for _, e := range t {
		e.res.Score = e.score
		out = append(out, e.res)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if ki, kj := rankOrUnranked(out[i].KeywordRank), rankOrUnranked(out[j].KeywordRank); ki != kj {
			return ki < kj
		}
		if vi, vj := rankOrUnranked(out[i].VectorRank), rankOrUnranked(out[j].VectorRank); vi != vj {
			return vi < vj
		}
		return out[i].NodeID.String() < out[j].NodeID.String()
	})
	if maxResults > 0 && len(out) > maxResults {
		out = out[:maxResults]
	}
	return out
}

// Fuse dispatches to the configured strategy. Every strategy receives
// the same three candidate lists, already ordered best-first by their
// source, and weight knobs for keyword/vector/graph.
func Fuse(strategy FusionStrategy, keyword, vector, graph []Candidate, weightKeyword, weightVector, weightGraph float64, maxResults int) []FusedResult {
	switch strategy {
	case FusionUnion:
		return fuseUnion(keyword, vector, graph, maxResults)
	case FusionWeighted:
		return fuseWeighted(keyword, vector, graph, weightKeyword, weightVector, weightGraph, maxResults)
	default:
		return fuseRRF(keyword, vector, graph, weightKeyword, weightVector, weightGraph, maxResults)
	}
}

// fuseRRF implements Reciprocal Rank Fusion: score = sum(weight_i / (k + rank_i)).
func fuseRRF(keyword, vector, graph []Candidate, weightKeyword, weightVector, weightGraph float64, maxResults int) []FusedResult {
	t := newFuseTable()
	add := func(cands []Candidate, weight float64) {
		for _, c := range cands {
			e := tableEntry(t, c.NodeID)
			e.score += weight / float64(rrfK+c.Rank)
			e.res.Methods = append(e.res.Methods, string(c.Source))
			tagRank(&e.res, c.Source, c.Rank)
		}
	}
	add(keyword, weightKeyword)
	add(vector, weightVector)
	add(graph, weightGraph)
	return finalize(t, maxResults)
}

// fuseUnion takes the simple union of every candidate node, scored only
// by how many distinct sources surfaced it (ties broken by best raw
// score seen) — a strategy with no per-source weighting at all.
func fuseUnion(keyword, vector, graph []Candidate, maxResults int) []FusedResult {
	t := newFuseTable()
	bestSeen := make(map[ids.ID]float64)
	add := func(cands []Candidate) {
		for _, c := range cands {
			e := tableEntry(t, c.NodeID)
			e.score++
			if c.RawScore > bestSeen[c.NodeID] {
				bestSeen[c.NodeID] = c.RawScore
			}
			e.res.Methods = append(e.res.Methods, string(c.Source))
			tagRank(&e.res, c.Source, c.Rank)
		}
	}
	add(keyword)
	add(vector)
	add(graph)

	// Fold the tiebreak into the primary score with a small fractional
	// weight so source-count always dominates, but ties resolve by raw score.
	for nodeID, e := range t {
		e.score += bestSeen[nodeID] / 1e6
	}
	return finalize(t, maxResults)
}

// fuseWeighted min-max normalizes each source's raw scores to [0,1]
// independently, then combines them with the caller's weights. Unlike
// RRF this lets a dominant source's score magnitude, not just its rank,
// influence the fused order.
func fuseWeighted(keyword, vector, graph []Candidate, weightKeyword, weightVector, weightGraph float64, maxResults int) []FusedResult {
	t := newFuseTable()
	add := func(cands []Candidate, weight float64) {
		norm := minMaxNormalize(cands)
		for i, c := range cands {
			e := tableEntry(t, c.NodeID)
			e.score += weight * norm[i]
			e.res.Methods = append(e.res.Methods, string(c.Source))
			tagRank(&e.res, c.Source, c.Rank)
		}
	}
	add(keyword, weightKeyword)
	add(vector, weightVector)
	add(graph, weightGraph)
	return finalize(t, maxResults)
}

// minMaxNormalize scales RawScore into [0,1]. A source with a single
// candidate, or with a flat score distribution, normalizes to 1.0 for
// every entry rather than dividing by zero.
func minMaxNormalize(cands []Candidate) []float64 {
	out := make([]float64, len(cands))
	if len(cands) == 0 {
		return out
	}
	min, max := cands[0].RawScore, cands[0].RawScore
	for _, c := range cands {
		if c.RawScore < min {
			min = c.RawScore
		}
		if c.RawScore > max {
			max = c.RawScore
		}
	}
	spread := max - min
	for i, c := range cands {
		if spread == 0 {
			out[i] = 1.0
			continue
		}
		out[i] = (c.RawScore - min) / spread
	}
	return out
}
