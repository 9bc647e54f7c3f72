package verifyr

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the Verifyr engine.
type Config struct {
	// DBPath is the full path to the SQLite database file. If empty,
	// defaults to ~/.verifyr/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	// Defaults to "verifyr". The file will be <DBName>.db inside the
	// storage directory.
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when DBPath is
	// not explicitly set. Options: "home" (default) uses ~/.verifyr/,
	// "local" uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// DocsRoot is the root directory walked at ingestion time; one
	// sub-directory per product, one PDF per document.
	DocsRoot string `json:"docs_root" yaml:"docs_root"`

	// SourcesFile is an optional JSON file mapping
	// {product: {relative_path: {source_url, source_name}}}, joined onto
	// extracted pages.
	SourcesFile string `json:"sources_file" yaml:"sources_file"`

	// Chat is the default generation provider/model.
	Chat LLMConfig `json:"chat" yaml:"chat"`

	// Embedding is the embedding provider/model. EmbedderName must match
	// between index build time and query time (index_meta enforces this).
	Embedding LLMConfig `json:"embedding" yaml:"embedding"`

	// Chunking
	ChunkTargetTokens  int `json:"chunk_target_tokens" yaml:"chunk_target_tokens"`
	ChunkOverlapTokens int `json:"chunk_overlap_tokens" yaml:"chunk_overlap_tokens"`

	// EmbedderName is the identity of the sentence encoder; stored in
	// index_meta and checked against on every open.
	EmbedderName string `json:"embedder_name" yaml:"embedder_name"`

	// VectorDim is the embedding dimension.
	VectorDim int `json:"vector_dim" yaml:"vector_dim"`

	// RetrieveK is the per-arm candidate count before RRF fusion.
	RetrieveK int `json:"retrieve_k" yaml:"retrieve_k"`

	// RRFK is the RRF smoothing constant. Fixed at 60 by spec; exposed
	// only so LoadConfig can reject a caller who tries to override it.
	RRFK int `json:"rrf_k" yaml:"rrf_k"`

	// DefaultTopKSimple / DefaultTopKComplex select top_k per query
	// complexity (§4.6).
	DefaultTopKSimple  int `json:"default_top_k_simple" yaml:"default_top_k_simple"`
	DefaultTopKComplex int `json:"default_top_k_complex" yaml:"default_top_k_complex"`

	// RequestDeadlineMS / RetrievalDeadlineMS bound the end-to-end
	// request and the retrieval-only soft budget, respectively.
	RequestDeadlineMS   int `json:"request_deadline_ms" yaml:"request_deadline_ms"`
	RetrievalDeadlineMS int `json:"retrieval_deadline_ms" yaml:"retrieval_deadline_ms"`

	// Temperature / MaxOutputTokens are passed to the generation
	// dispatcher on every call.
	Temperature     float64 `json:"temperature" yaml:"temperature"`
	MaxOutputTokens int     `json:"max_output_tokens" yaml:"max_output_tokens"`

	// Pricing maps model_id to per-million-token input/output cost.
	Pricing map[string]ModelPricing `json:"provider_pricing" yaml:"provider_pricing"`

	// MaxConcurrentRequests bounds the request worker pool; requests
	// beyond it are rejected with ErrOverloaded.
	MaxConcurrentRequests int `json:"max_concurrent_requests" yaml:"max_concurrent_requests"`

	// Products is the hand-maintained product/alias map used by the
	// query analyzer's product-detection rule and by GET /products.
	Products map[string]ProductInfo `json:"products" yaml:"products"`

	// APIKey, if set, is the bearer token required on every request
	// except /health.
	APIKey string `json:"api_key" yaml:"api_key"`

	// AllowedOrigins configures CORS. The server's VERIFYR_CORS_ORIGINS
	// environment variable takes precedence when set.
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
}

// LLMConfig configures a single LLM provider endpoint.
type LLMConfig struct {
	Provider string `json:"provider" yaml:"provider"` // ollama, lmstudio, openrouter, openai, groq, xai, gemini, custom
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`
}

// ModelPricing is per-million-token cost for a model_id, used to compute
// cost_usd = prompt_tokens*InputPerMTok/1e6 + completion_tokens*OutputPerMTok/1e6.
type ModelPricing struct {
	InputPerMTok  float64 `json:"input_per_mtok" yaml:"input_per_mtok"`
	OutputPerMTok float64 `json:"output_per_mtok" yaml:"output_per_mtok"`
}

// ProductInfo names the aliases a query analyzer matches against a
// configured product name.
type ProductInfo struct {
	Aliases []string `json:"aliases" yaml:"aliases"`
}

// DefaultConfig returns a Config with sensible defaults for local
// inference. Database is stored in ~/.verifyr/verifyr.db by default.
func DefaultConfig() Config {
	return Config{
		DBName:     "verifyr",
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
		ChunkTargetTokens:     800,
		ChunkOverlapTokens:    200,
		EmbedderName:          "nomic-embed-text",
		VectorDim:             384,
		RetrieveK:             20,
		RRFK:                  60,
		DefaultTopKSimple:     5,
		DefaultTopKComplex:    8,
		RequestDeadlineMS:     60000,
		RetrievalDeadlineMS:   2000,
		Temperature:           0.3,
		MaxOutputTokens:       800,
		MaxConcurrentRequests: 16,
		Pricing:               map[string]ModelPricing{},
		Products:              map[string]ProductInfo{},
	}
}

// LoadConfig reads a JSON or YAML config file (by extension) into a
// Config seeded with DefaultConfig, rejecting unknown keys so a typo'd
// option fails at load time rather than silently being ignored.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("%w: reading config %s: %v", ErrValidation, path, err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(strings.NewReader(string(data)))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && err != io.EOF {
			return cfg, fmt.Errorf("%w: parsing yaml config: %v", ErrValidation, err)
		}
	case ".json":
		dec := json.NewDecoder(strings.NewReader(string(data)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("%w: parsing json config: %v", ErrValidation, err)
		}
	default:
		return cfg, fmt.Errorf("%w: unrecognized config extension %q", ErrValidation, ext)
	}

	if cfg.RRFK != 60 {
		return cfg, fmt.Errorf("%w: rrf_k is fixed at 60, got %d", ErrValidation, cfg.RRFK)
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// applyEnvOverrides applies VERIFYR_*-prefixed environment variables on
// top of a loaded config, matching the teacher's override pattern.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VERIFYR_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("VERIFYR_CHAT_BASE_URL"); v != "" {
		cfg.Chat.BaseURL = v
	}
	if v := os.Getenv("VERIFYR_CHAT_MODEL"); v != "" {
		cfg.Chat.Model = v
	}
	if v := os.Getenv("VERIFYR_CHAT_API_KEY"); v != "" {
		cfg.Chat.APIKey = v
	}
	if v := os.Getenv("VERIFYR_EMBEDDING_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("VERIFYR_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("VERIFYR_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("VERIFYR_MAX_CONCURRENT_REQUESTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConcurrentRequests = n
		}
	}
	// Well-known provider API key fallbacks, as the teacher does for
	// OPENAI_API_KEY / GROQ_API_KEY.
	if cfg.Chat.APIKey == "" {
		switch cfg.Chat.Provider {
		case "openai":
			cfg.Chat.APIKey = os.Getenv("OPENAI_API_KEY")
		case "groq":
			cfg.Chat.APIKey = os.Getenv("GROQ_API_KEY")
		case "xai":
			cfg.Chat.APIKey = os.Getenv("XAI_API_KEY")
		case "gemini":
			cfg.Chat.APIKey = os.Getenv("GEMINI_API_KEY")
		case "openrouter":
			cfg.Chat.APIKey = os.Getenv("OPENROUTER_API_KEY")
		}
	}
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "verifyr"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db"
		}
		dir := filepath.Join(home, ".verifyr")
		return filepath.Join(dir, name+".db")
	}
}
