package goreason

import (
	"os"
	"path/filepath"
	"time"
)

// Config holds all configuration for the GoReason engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.goreason/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	// Defaults to "goreason". The file will be <DBName>.db inside the
	// storage directory (~/.goreason/ or working dir).
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when DBPath
	// is not explicitly set. Options: "home" (default) uses ~/.goreason/,
	// "local" uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// LLM providers
	Chat        LLMConfig `json:"chat" yaml:"chat"`
	Embedding   LLMConfig `json:"embedding" yaml:"embedding"`
	Vision      LLMConfig `json:"vision" yaml:"vision"`
	Translation LLMConfig `json:"translation" yaml:"translation"` // optional: fast model for query translation (defaults to Chat)

	// Retrieval weights for RRF
	WeightVector float64 `json:"weight_vector" yaml:"weight_vector"`
	WeightFTS    float64 `json:"weight_fts" yaml:"weight_fts"`
	WeightGraph  float64 `json:"weight_graph" yaml:"weight_graph"`

	// Chunking
	MaxChunkTokens int `json:"max_chunk_tokens" yaml:"max_chunk_tokens"`
	ChunkOverlap   int `json:"chunk_overlap" yaml:"chunk_overlap"`

	// Graph building
	SkipGraph        bool `json:"skip_graph" yaml:"skip_graph"`               // Skip knowledge graph extraction during ingest
	GraphConcurrency int  `json:"graph_concurrency" yaml:"graph_concurrency"` // Max parallel LLM calls for graph extraction (default 16)

	// Image captioning
	CaptionImages bool `json:"caption_images" yaml:"caption_images"` // Opt-in: caption extracted images via vision LLM

	// External parsing
	LlamaParse *LlamaParseConfig `json:"llamaparse,omitempty" yaml:"llamaparse,omitempty"`

	// Embedding dimensions (must match model)
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim"`

	// KBDefaults seeds chunking/embedding config for knowledge bases
	// created without explicit overrides (cmd/admin init).
	KBDefaults KBDefaults `json:"kb_defaults" yaml:"kb_defaults"`

	// Cache configures the optional Redis-backed retrieval cache; a
	// zero-value Addr disables it.
	Cache CacheConfig `json:"cache" yaml:"cache"`
}

// KBDefaults seeds a newly created knowledge base's embedding identity.
type KBDefaults struct {
	EmbedProvider string `json:"embed_provider" yaml:"embed_provider"`
	EmbedModel    string `json:"embed_model" yaml:"embed_model"`
	EmbedDim      int    `json:"embed_dim" yaml:"embed_dim"`
}

// CacheConfig configures the optional Redis-backed retrieval response
// cache. An empty Addr means caching is disabled.
type CacheConfig struct {
	Addr string        `json:"addr" yaml:"addr"`
	TTL  time.Duration `json:"ttl" yaml:"ttl"`
}

// LLMConfig configures a single LLM provider endpoint.
type LLMConfig struct {
	Provider string `json:"provider" yaml:"provider"` // ollama, lmstudio, openrouter, openai, groq, xai, gemini, custom
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`
}

// LlamaParseConfig configures the LlamaParse external parsing service.
type LlamaParseConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"`
	BaseURL string `json:"base_url" yaml:"base_url"`
}

// DefaultConfig returns a Config with sensible defaults for local inference.
// Database is stored in ~/.goreason/goreason.db by default.
func DefaultConfig() Config {
	return Config{
		DBName:     "goreason",
		StorageDir: "home",
		Chat: LLMConfig{
			Provider: "ollama",
			Model:    "llama3.1:8b",
			BaseURL:  "http://localhost:11434",
		},
		Embedding: LLMConfig{
			Provider: "ollama",
			Model:    "nomic-embed-text",
			BaseURL:  "http://localhost:11434",
		},
		Vision: LLMConfig{
			Provider: "ollama",
			Model:    "llama3.2-vision",
			BaseURL:  "http://localhost:11434",
		},
		WeightVector:   1.0,
		WeightFTS:      1.0,
		WeightGraph:    0.5,
		MaxChunkTokens: 1024,
		ChunkOverlap:   128,
		EmbeddingDim:   768,
		KBDefaults: KBDefaults{
			EmbedProvider: "ollama",
			EmbedModel:    "nomic-embed-text",
			EmbedDim:      768,
		},
	}
}

// ResolveDBPath computes the final database path from config fields,
// applying the same DBPath/DBName/StorageDir precedence New uses. CLIs
// that need to open the store directly (cmd/admin) call this instead
// of duplicating the resolution rule.
func (c *Config) ResolveDBPath() string {
	return c.resolveDBPath()
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "goreason"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		dir := filepath.Join(home, ".goreason")
		return filepath.Join(dir, name+".db")
	}
}
