package parser

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/richardlehane/mscfb"
	"github.com/richardlehane/msoleps"
)

// LegacyParser handles the pre-OOXML binary Office formats (.doc and
// .ppt). It validates that the file really is an OLE2 compound document
// and reads its SummaryInformation property stream for metadata, but
// content extraction for these formats needs the external LlamaParse
// service — when that is configured its parser replaces this one in the
// registry, and this one's job is to fail with an accurate diagnosis
// instead of a generic "unsupported format".
type LegacyParser struct{}

func (p *LegacyParser) SupportedFormats() []string { return []string{"doc", "ppt"} }

func (p *LegacyParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("legacy: opening %s: %w", path, err)
	}
	defer f.Close()

	doc, err := mscfb.New(f)
	if err != nil {
		return nil, fmt.Errorf("legacy: %s is not an OLE2 compound document: %w", path, err)
	}

	meta := legacyMetadata(doc)
	title := meta["title"]
	if title != "" {
		return nil, fmt.Errorf("legacy: %q (%s) requires the external LlamaParse service; configure llamaparse in config", title, path)
	}
	return nil, fmt.Errorf("legacy: %s requires the external LlamaParse service; configure llamaparse in config", path)
}

// legacyMetadata walks the compound document's streams for the
// SummaryInformation property set (title, author, subject).
func legacyMetadata(doc *mscfb.Reader) map[string]string {
	meta := map[string]string{}
	for entry, err := doc.Next(); err == nil; entry, err = doc.Next() {
		if !strings.Contains(entry.Name, "SummaryInformation") {
			continue
		}
		props := msoleps.New()
		if rerr := props.Reset(doc); rerr != nil {
			continue
		}
		for _, prop := range props.Property {
			switch prop.Name {
			case "Title":
				meta["title"] = prop.String()
			case "Author":
				meta["author"] = prop.String()
			case "Subject":
				meta["subject"] = prop.String()
			}
		}
	}
	return meta
}
