package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/ArchyTseng/tiic-law-chat"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "admin",
	Short: "Operator CLI for the legal RAG core: init, ingest, eval",
	// Each subcommand prints its own stable status=<word> line, so cobra
	// must not also print usage/error text that would obscure it.
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a JSON config file (falls back to goreason.DefaultConfig)")
}

// loadConfig reads --config if given, else returns goreason.DefaultConfig().
func loadConfig() (goreason.Config, error) {
	cfg := goreason.DefaultConfig()
	if configPath == "" {
		return cfg, nil
	}
	f, err := os.Open(configPath)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
