package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	goreason "github.com/ArchyTseng/tiic-law-chat"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	apiKey := os.Getenv("GOOGLE_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "GOOGLE_API_KEY not set")
		os.Exit(1)
	}

	tmpDir, _ := os.MkdirTemp("", "goreason-e2e-*")
	defer os.RemoveAll(tmpDir)
	dbPath := tmpDir + "/test.db"

	cfg := goreason.Config{
		DBPath: dbPath,
		Chat: goreason.LLMConfig{
			Provider: "gemini",
			Model:    "gemini-2.5-flash",
			APIKey:   apiKey,
		},
		Embedding: goreason.LLMConfig{
			Provider: "gemini",
			Model:    "gemini-embedding-001",
			APIKey:   apiKey,
		},
		WeightVector:   1.0,
		WeightFTS:      1.0,
		WeightGraph:    0.5,
		MaxChunkTokens: 1024,
		ChunkOverlap:   128,
		EmbeddingDim:   3072,
		SkipGraph:      true, // faster for this test
	}

	engine, err := goreason.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	// Ingest
	docPath := "data/corpus/cuad/ACCURAYINC_09_01_2010-EX-10.31-DISTRIBUTOR AGREEMENT.txt"
	fmt.Fprintf(os.Stderr, "\n=== INGESTING %s ===\n", docPath)
	doc, err := engine.Ingest(ctx, docPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ingest error: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "Ingested doc_id=%s\n", doc.ID)

	// Query
	question := "What are the termination conditions in this agreement?"
	fmt.Fprintf(os.Stderr, "\n=== QUERYING: %s ===\n", question)
	answer, err := engine.Query(ctx, question)
	if err != nil {
		fmt.Fprintf(os.Stderr, "query error: %v\n", err)
		os.Exit(1)
	}

	// Print just the enriched hits to stdout
	type sourceView struct {
		NodeID      string   `json:"node_id"`
		ArticleID   string   `json:"article_id,omitempty"`
		SectionPath string   `json:"section_path,omitempty"`
		PageNumber  int      `json:"page_number"`
		Score       float64  `json:"score"`
		Methods     []string `json:"methods,omitempty"`
		Snippet     string   `json:"snippet,omitempty"`
		ContentLen  int      `json:"content_length"`
	}

	fmt.Fprintf(os.Stderr, "\n=== ANSWER ===\n%s\n", answer.Text)

	var sources []sourceView
	for _, h := range answer.Hits {
		sources = append(sources, sourceView{
			NodeID:      h.Node.ID.String(),
			ArticleID:   h.Node.ArticleID,
			SectionPath: h.Node.SectionPath,
			PageNumber:  h.Node.Page,
			Score:       h.Fused.Score,
			Methods:     h.Fused.Methods,
			Snippet:     snippet(h.Node.Text, 280),
			ContentLen:  len(h.Node.Text),
		})
	}

	out, _ := json.MarshalIndent(sources, "", "  ")
	fmt.Println(string(out))
}

func snippet(text string, n int) string {
	if len(text) <= n {
		return text
	}
	return text[:n]
}
