package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ArchyTseng/tiic-law-chat/ids"
	"github.com/ArchyTseng/tiic-law-chat/store"
)

var initKBName string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a knowledge base and its schema",
	RunE:  runInit,
}

func init() {
	initCmd.Flags().StringVar(&initKBName, "kb-name", "default", "name of the knowledge base to create")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
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
	if existing, err := s.GetKBByName(ctx, initKBName); err == nil && existing != nil {
		fmt.Printf("kb_id=%s (already exists)\n", existing.ID)
		fmt.Fprintln(os.Stderr, "status=success")
		return nil
	}

	kb := store.KnowledgeBase{
		ID:            ids.New(),
		Name:          initKBName,
		EmbedProvider: cfg.KBDefaults.EmbedProvider,
		EmbedModel:    cfg.KBDefaults.EmbedModel,
		EmbedDim:      embedDim,
	}
	if err := s.InsertKB(ctx, kb); err != nil {
		fmt.Fprintln(os.Stderr, "status=insert_error")
		return err
	}

	fmt.Printf("kb_id=%s\n", kb.ID)
	fmt.Fprintln(os.Stderr, "status=success")
	return nil
}
