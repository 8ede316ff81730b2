package chunker

import (
	"strings"

	"github.com/ArchyTseng/tiic-law-chat/ids"
	"github.com/ArchyTseng/tiic-law-chat/parser"
	"github.com/ArchyTseng/tiic-law-chat/store"
)

// ChunkToNodes flattens parsed sections directly into a contiguous,
// citable Node sequence. Unlike the hierarchical parent/child chunk
// model, a node carries no synthetic "section summary" entry of its
// own: a section's heading is prefixed to the section's text (so it
// opens the first fragment) and recorded in every fragment's
// section_path, and every fragment becomes one node at the next
// free node_index. This keeps node_index a gapless 0..N-1 range, which
// the retrieval and citation paths rely on.
func (c *Chunker) ChunkToNodes(sections []parser.Section, kbID, fileID, documentID ids.ID) []store.Node {
	var nodes []store.Node
	idx := 0
	for _, sec := range sections {
		c.flattenSection(sec, nil, kbID, fileID, documentID, &nodes, &idx)
	}
	return nodes
}

func (c *Chunker) flattenSection(sec parser.Section, path []string, kbID, fileID, documentID ids.ID, nodes *[]store.Node, idx *int) {
	if sec.Heading != "" {
		path = append(path, sec.Heading)
	}
	sectionPath := strings.Join(path, " / ")
	articleID, _ := ExtractClauseNumber(sec.Heading)
	if articleID == "" {
		articleID, _ = ExtractClauseNumber(firstLine(sec.Content))
	}

	fragments := c.splitContent(contentWithHeading(sec))
	for _, frag := range fragments {
		meta := marshalMeta(sec.Metadata)
		*nodes = append(*nodes, store.Node{
			ID:          ids.New(),
			KBID:        kbID,
			FileID:      fileID,
			DocumentID:  documentID,
			NodeIndex:   *idx,
			Text:        frag,
			Page:        sec.PageNumber,
			ArticleID:   articleID,
			SectionPath: sectionPath,
			MetaData:    meta,
		})
		*idx++
	}

	for _, child := range sec.Children {
		c.flattenSection(child, path, kbID, fileID, documentID, nodes, idx)
	}
}

// contentWithHeading prefixes a section's content with its heading so
// the heading is never lost when the section has no body of its own
// (previously carried by the dropped parent chunk).
func contentWithHeading(sec parser.Section) string {
	content := strings.TrimSpace(sec.Content)
	if sec.Heading == "" {
		return content
	}
	if content == "" {
		return sec.Heading
	}
	return sec.Heading + "\n\n" + content
}

