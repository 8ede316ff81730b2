package chunker

import (
	"testing"

	"github.com/ArchyTseng/tiic-law-chat/ids"
	"github.com/ArchyTseng/tiic-law-chat/parser"
)

func TestChunkToNodesProducesContiguousIndex(t *testing.T) {
	c := New(Config{MaxTokens: 1024})
	sections := []parser.Section{
		{Heading: "5.1 Termination", Content: "Either party may terminate with thirty days notice.", PageNumber: 2},
		{Heading: "Liability", Content: "Liability is limited to the contract value.", PageNumber: 3,
			Children: []parser.Section{
				{Heading: "6.1.1 Exceptions", Content: "Gross negligence is not limited.", PageNumber: 3},
			}},
	}

	nodes := c.ChunkToNodes(sections, ids.New(), ids.New(), ids.New())
	if len(nodes) < 3 {
		t.Fatalf("expected at least 3 nodes, got %d", len(nodes))
	}
	for i, n := range nodes {
		if n.NodeIndex != i {
			t.Errorf("expected contiguous node_index, gap at position %d: got %d", i, n.NodeIndex)
		}
		if n.ID.IsNil() {
			t.Errorf("expected node %d to carry a minted ID", i)
		}
	}
	if nodes[0].ArticleID == "" {
		t.Error("expected the first node to carry an article_id from its dotted-numbered heading")
	}
}
