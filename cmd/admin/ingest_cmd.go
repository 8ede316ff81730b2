package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ArchyTseng/tiic-law-chat/chunker"
	"github.com/ArchyTseng/tiic-law-chat/graph"
	"github.com/ArchyTseng/tiic-law-chat/ingest"
	"github.com/ArchyTseng/tiic-law-chat/llm"
	"github.com/ArchyTseng/tiic-law-chat/parser"
	"github.com/ArchyTseng/tiic-law-chat/store"
)

var (
	ingestKBName string
	ingestPath   string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest one file into a knowledge base",
	RunE:  runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestKBName, "kb-name", "default", "name of the knowledge base to ingest into")
	ingestCmd.Flags().StringVar(&ingestPath, "file", "", "path to the source file (required)")
	ingestCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "status=config_error")
		return err
	}

	embedDim := cfg.EmbeddingDim
	if embedDim == 0 {
		embedDim = cfg.KBDefaults.EmbedDim
	}
	s, err := store.New(cfg.ResolveDBPath(), embedDim)
	if err != nil {
		fmt.Fprintln(os.Stderr, "status=store_error")
		return err
	}
	defer s.Close()

	ctx := context.Background()
	kb, err := s.GetKBByName(ctx, ingestKBName)
	if err != nil {
		fmt.Fprintln(os.Stderr, "status=kb_not_found")
		return fmt.Errorf("knowledge base %q not found; run `admin init --kb-name %s` first: %w", ingestKBName, ingestKBName, err)
	}

	var embedLLM llm.Provider
	if cfg.Embedding.Provider != "" {
		embedLLM, err = llm.NewProvider(llm.Config(cfg.Embedding))
		if err != nil {
			fmt.Fprintln(os.Stderr, "status=embed_provider_error")
			return err
		}
	}

	registry := parser.NewRegistry()
	if cfg.LlamaParse != nil {
		registry.SetLlamaParse(parser.LlamaParseConfig{APIKey: cfg.LlamaParse.APIKey, BaseURL: cfg.LlamaParse.BaseURL})
	}

	var graphB *graph.Builder
	if !cfg.SkipGraph {
		chatLLM, cerr := llm.NewProvider(llm.Config(cfg.Chat))
		if cerr == nil {
			concurrency := cfg.GraphConcurrency
			if concurrency == 0 {
				concurrency = 16
			}
			graphB = graph.NewBuilder(s, chatLLM, embedLLM, concurrency)
		}
	}

	engine := ingest.New(s, registry, embedLLM, graphB, ingest.Config{
		Chunker:   chunker.Config{MaxTokens: cfg.MaxChunkTokens, Overlap: cfg.ChunkOverlap},
		SkipGraph: cfg.SkipGraph,
	})

	result, err := engine.IngestFile(ctx, kb.ID, ingestPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "status=%s\n", result.Report.Status)
		return err
	}

	fmt.Printf("file_id=%s node_count=%d idempotent=%t\n", result.FileID, result.NodeCount, result.Idempotent)
	fmt.Fprintf(os.Stderr, "status=%s\n", result.Report.Status)
	return nil
}
