package ingest

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ArchyTseng/tiic-law-chat/llm"
	"github.com/ArchyTseng/tiic-law-chat/parser"
)

const captionPrompt = `Describe this figure from a legal or technical document in one sentence. State what it shows, not how it looks.`

// CaptionImages folds a parse result's extracted images back into their
// sections' text so segmentation sees them. With captioning enabled and
// a vision provider available, the largest image of each page is
// described by the model and inlined as "[Image: <caption>]"; every
// other image (and every image when captioning is off or fails) becomes
// a plain "[image]" marker so readers still know a figure was there.
// This is image understanding over parser-extracted figures, not OCR.
func CaptionImages(ctx context.Context, vision llm.VisionProvider, enabled bool, sections []parser.Section, images []parser.ExtractedImage) []parser.Section {
	if len(images) == 0 {
		return sections
	}

	// One caption call per page: pick the largest image by area.
	largestByPage := map[int]int{} // page -> index into images
	for i, img := range images {
		best, ok := largestByPage[img.PageNumber]
		if !ok || img.Width*img.Height > images[best].Width*images[best].Height {
			largestByPage[img.PageNumber] = i
		}
	}

	captions := make([]string, len(images))
	for _, idx := range largestByPage {
		if !enabled || vision == nil {
			continue
		}
		img := images[idx]
		caption, err := captionOne(ctx, vision, img)
		if err != nil {
			slog.Warn("ingest: image caption failed, keeping plain marker", "page", img.PageNumber, "error", err)
			continue
		}
		captions[idx] = caption
	}

	out := make([]parser.Section, len(sections))
	copy(out, sections)
	for i, img := range images {
		si := img.SectionIndex
		if si < 0 || si >= len(out) {
			continue
		}
		marker := "[image]"
		if captions[i] != "" {
			marker = fmt.Sprintf("[Image: %s]", captions[i])
		}
		out[si].Content = strings.TrimRight(out[si].Content, "\n") + "\n\n" + marker
	}
	return out
}

func captionOne(ctx context.Context, vision llm.VisionProvider, img parser.ExtractedImage) (string, error) {
	dataURL := fmt.Sprintf("data:%s;base64,%s", img.MIMEType, base64.StdEncoding.EncodeToString(img.Data))
	resp, err := vision.ChatWithImages(ctx, llm.VisionChatRequest{
		Messages: []llm.VisionMessage{{
			Role: "user",
			Content: []llm.ContentPart{
				{Type: "text", Text: captionPrompt},
				{Type: "image_url", ImageURL: &llm.ImageURL{URL: dataURL}},
			},
		}},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}
