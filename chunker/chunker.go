// Package chunker segments parsed document sections into the flat,
// metadata-rich Nodes the store persists. Each node carries its section
// breadcrumb and page so a generation citation can point back to an
// exact location in the source file.
package chunker

import (
	"encoding/json"
	"math"
	"strings"
)

// Config controls the chunking behaviour.
type Config struct {
	MaxTokens int // Maximum estimated tokens per node.
	Overlap   int // Token overlap between consecutive nodes split from the same section.
}

// Chunker converts parsed document sections into store-ready nodes.
type Chunker struct {
	cfg Config
}

// New returns a Chunker with the given configuration.
// Zero-value fields are replaced with sensible defaults.
func New(cfg Config) *Chunker {
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.Overlap == 0 {
		cfg.Overlap = 128
	}
	return &Chunker{cfg: cfg}
}

// splitContent breaks a long text into fragments that each fit within
// MaxTokens, splitting at paragraph and then sentence boundaries.
// Consecutive fragments share an overlap of c.cfg.Overlap tokens worth
// of trailing text from the previous fragment.
func (c *Chunker) splitContent(text string) []string {
	if estimateTokens(text) <= c.cfg.MaxTokens {
		return []string{strings.TrimSpace(text)}
	}

	paragraphs := splitParagraphs(text)
	var fragments []string
	var current strings.Builder
	currentTokens := 0
	overlapText := ""

	for _, para := range paragraphs {
		paraTokens := estimateTokens(para)

		// If a single paragraph exceeds MaxTokens, split it by sentences.
		if paraTokens > c.cfg.MaxTokens {
			// Flush current buffer first.
			if current.Len() > 0 {
				fragments = append(fragments, strings.TrimSpace(current.String()))
				overlapText = extractOverlap(current.String(), c.cfg.Overlap)
				current.Reset()
				currentTokens = 0
			}
			sentenceFragments := c.splitBySentences(para, overlapText)
			fragments = append(fragments, sentenceFragments...)
			if len(sentenceFragments) > 0 {
				overlapText = extractOverlap(sentenceFragments[len(sentenceFragments)-1], c.cfg.Overlap)
			}
			continue
		}

		// Would adding this paragraph exceed the limit?
		if currentTokens+paraTokens > c.cfg.MaxTokens && current.Len() > 0 {
			fragments = append(fragments, strings.TrimSpace(current.String()))
			overlapText = extractOverlap(current.String(), c.cfg.Overlap)
			current.Reset()
			currentTokens = 0

			// Start the new fragment with overlap text.
			if overlapText != "" {
				current.WriteString(overlapText)
				current.WriteString("\n\n")
				currentTokens = estimateTokens(overlapText)
			}
		}

		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
		currentTokens += paraTokens
	}

	if current.Len() > 0 {
		fragments = append(fragments, strings.TrimSpace(current.String()))
	}

	return fragments
}

// splitBySentences breaks a paragraph into fragments at sentence
// boundaries, respecting MaxTokens and prepending overlap from the
// previous fragment.
func (c *Chunker) splitBySentences(text string, initialOverlap string) []string {
	sentences := splitSentences(text)
	var fragments []string
	var current strings.Builder
	currentTokens := 0

	if initialOverlap != "" {
		current.WriteString(initialOverlap)
		current.WriteString(" ")
		currentTokens = estimateTokens(initialOverlap)
	}

	for _, sent := range sentences {
		sentTokens := estimateTokens(sent)

		if currentTokens+sentTokens > c.cfg.MaxTokens && current.Len() > 0 {
			fragments = append(fragments, strings.TrimSpace(current.String()))
			overlap := extractOverlap(current.String(), c.cfg.Overlap)
			current.Reset()
			currentTokens = 0
			if overlap != "" {
				current.WriteString(overlap)
				current.WriteString(" ")
				currentTokens = estimateTokens(overlap)
			}
		}

		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sent)
		currentTokens += sentTokens
	}

	if current.Len() > 0 {
		fragments = append(fragments, strings.TrimSpace(current.String()))
	}

	return fragments
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// estimateTokens approximates the token count of text using a simple
// word-based heuristic: tokens ~ words * 1.3.
func estimateTokens(text string) int {
	words := len(strings.Fields(text))
	return int(math.Ceil(float64(words) * 1.3))
}

// splitParagraphs splits text on blank-line boundaries.
func splitParagraphs(text string) []string {
	raw := strings.Split(text, "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitSentences is a simple sentence tokeniser.  It splits on
// period/question-mark/exclamation followed by whitespace or end of
// string; abbreviations are not special-cased.
func splitSentences(text string) []string {
	var sentences []string
	var cur strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		cur.WriteRune(runes[i])
		if runes[i] == '.' || runes[i] == '?' || runes[i] == '!' {
			// Look ahead: if next char is whitespace or end of string,
			// treat as sentence boundary (simple heuristic).
			if i+1 >= len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' || runes[i+1] == '\t' {
				s := strings.TrimSpace(cur.String())
				if s != "" {
					sentences = append(sentences, s)
				}
				cur.Reset()
			}
		}
	}
	if cur.Len() > 0 {
		s := strings.TrimSpace(cur.String())
		if s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// extractOverlap returns the trailing portion of text whose estimated
// token count is at most maxTokens.  It works at the word level.
func extractOverlap(text string, maxTokens int) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}
	// tokens ~ words * 1.3, so max words ~ maxTokens / 1.3
	maxWords := int(float64(maxTokens) / 1.3)
	if maxWords > len(words) {
		maxWords = len(words)
	}
	if maxWords == 0 {
		return ""
	}
	return strings.Join(words[len(words)-maxWords:], " ")
}

// marshalMeta serialises a metadata map to a JSON string.
// Returns "" for nil or empty maps.
func marshalMeta(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}
