package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	LogLevel  string          `toml:"log_level"`
	LLM       LLMConfig       `toml:"llm"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Router    RouterConfig    `toml:"router"`
	Retrieval RetrievalConfig `toml:"retrieval"`
	Chunking  ChunkingConfig  `toml:"chunking"`
	Storage   StorageConfig   `toml:"storage"`
	Server    ServerConfig    `toml:"server"`
	Observer  ObserverConfig  `toml:"observer"`
	Corpora   []CorpusConfig  `toml:"corpus"`
}

type LLMConfig struct {
	Provider    string  `toml:"provider"`
	Model       string  `toml:"model"`
	APIKey      string  `toml:"api_key"`
	Temperature float64 `toml:"temperature"`
	MaxAttempts int     `toml:"max_attempts"`
	RPM         int     `toml:"rpm"` // 0 = unlimited
	TPM         int     `toml:"tpm"`
}

type EmbeddingConfig struct {
	Provider   string `toml:"provider"`
	Model      string `toml:"model"`
	Dimensions int    `toml:"dimensions"`
	APIKey     string `toml:"api_key"`
	BatchSize  int    `toml:"batch_size"`
	// MaxAttempts bounds retries of each embedding batch. The router reuses
	// [llm] max_attempts.
	MaxAttempts int `toml:"max_attempts"`
	RPM         int `toml:"rpm"`
	TPM         int `toml:"tpm"`
}

// RouterConfig configures corpus selection. An empty provider, model or key
// falls back to [llm].
type RouterConfig struct {
	Provider       string        `toml:"provider"`
	Model          string        `toml:"model"`
	APIKey         string        `toml:"api_key"`
	MaxSelections  int           `toml:"max_selections"`
	CorpusTimeout  time.Duration `toml:"corpus_timeout"`
	MaxConcurrency int           `toml:"max_concurrency"`
}

type RetrievalConfig struct {
	TopK           int     `toml:"top_k"`
	MergeThreshold float64 `toml:"merge_threshold"`
	TokenBudget    int     `toml:"token_budget"`
	MinScore       float64 `toml:"min_score"`
}

type ChunkingConfig struct {
	LevelSizes []int    `toml:"level_sizes"`
	Overlap    int      `toml:"overlap"`
	Tokenizer  string   `toml:"tokenizer"` // "approx" or "word"
	Extensions []string `toml:"extensions"`
}

type StorageConfig struct {
	Backend     string `toml:"backend"` // "sqlite" or "postgres"
	Root        string `toml:"root"`
	PostgresURL string `toml:"postgres_url"`
}

type ServerConfig struct {
	Addr      string `toml:"addr"`
	AuthToken string `toml:"auth_token"`
}

type ObserverConfig struct {
	Enabled     bool                       `toml:"enabled"`
	ServiceName string                     `toml:"service_name"`
	Pricing     map[string]ObserverPricing `toml:"pricing"`
}

type ObserverPricing struct {
	Input  float64 `toml:"input"`
	Output float64 `toml:"output"`
}

// CorpusConfig is one [[corpus]] entry. ID defaults to the base name of Dir.
type CorpusConfig struct {
	ID          string `toml:"id"`
	Dir         string `toml:"dir"`
	Description string `toml:"description"`
	Flat        bool   `toml:"flat"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		LogLevel:  "info",
		LLM:       LLMConfig{Provider: "gemini", Model: "gemini-2.5-flash", Temperature: 0.1, MaxAttempts: 3},
		Embedding: EmbeddingConfig{Provider: "gemini", Model: "gemini-embedding-001", Dimensions: 768, BatchSize: 64, MaxAttempts: 3},
		Router:    RouterConfig{CorpusTimeout: 60 * time.Second, MaxConcurrency: 4},
		Retrieval: RetrievalConfig{TopK: 12, MergeThreshold: 0.5, TokenBudget: 3000},
		Chunking:  ChunkingConfig{LevelSizes: []int{1536, 512}, Overlap: 20, Tokenizer: "approx", Extensions: []string{".md"}},
		Storage:   StorageConfig{Backend: "sqlite", Root: "."},
		Server:    ServerConfig{Addr: ":8080"},
		Observer:  ObserverConfig{ServiceName: "mergerag"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
// A missing file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = "mergerag.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return cfg, err
	}

	applyEnv(&cfg)

	// Fallbacks
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = cfg.LLM.APIKey
	}
	if cfg.Router.Provider == "" {
		cfg.Router.Provider = cfg.LLM.Provider
	}
	if cfg.Router.Model == "" {
		cfg.Router.Model = cfg.LLM.Model
	}
	if cfg.Router.APIKey == "" {
		cfg.Router.APIKey = cfg.LLM.APIKey
	}
	for i := range cfg.Corpora {
		if cfg.Corpora[i].ID == "" {
			cfg.Corpora[i].ID = filepath.Base(filepath.Clean(cfg.Corpora[i].Dir))
		}
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	str := map[string]*string{
		"MERGERAG_LOG_LEVEL":         &cfg.LogLevel,
		"MERGERAG_LLM_MODEL":         &cfg.LLM.Model,
		"MERGERAG_LLM_API_KEY":       &cfg.LLM.APIKey,
		"MERGERAG_EMBEDDING_MODEL":   &cfg.Embedding.Model,
		"MERGERAG_EMBEDDING_API_KEY": &cfg.Embedding.APIKey,
		"MERGERAG_ROUTER_MODEL":      &cfg.Router.Model,
		"MERGERAG_ROUTER_API_KEY":    &cfg.Router.APIKey,
		"MERGERAG_STORAGE_BACKEND":   &cfg.Storage.Backend,
		"MERGERAG_STORAGE_ROOT":      &cfg.Storage.Root,
		"MERGERAG_POSTGRES_URL":      &cfg.Storage.PostgresURL,
		"MERGERAG_SERVER_ADDR":       &cfg.Server.Addr,
		"MERGERAG_SERVER_AUTH_TOKEN": &cfg.Server.AuthToken,
		"MERGERAG_OBSERVER_SERVICE":  &cfg.Observer.ServiceName,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"MERGERAG_TOP_K":         &cfg.Retrieval.TopK,
		"MERGERAG_TOKEN_BUDGET":  &cfg.Retrieval.TokenBudget,
		"MERGERAG_LLM_RPM":       &cfg.LLM.RPM,
		"MERGERAG_EMBEDDING_RPM": &cfg.Embedding.RPM,
	}
	for key, dst := range ints {
		if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
			*dst = n
		}
	}

	if v := os.Getenv("MERGERAG_OBSERVER_ENABLED"); v == "true" || v == "1" {
		cfg.Observer.Enabled = true
	}
}

// Validate reports configuration that would make startup fail.
func (c Config) Validate() error {
	var errs []error
	if len(c.Corpora) == 0 {
		errs = append(errs, errors.New("no [[corpus]] configured"))
	}
	seen := make(map[string]bool, len(c.Corpora))
	for i, cc := range c.Corpora {
		switch {
		case cc.Dir == "":
			errs = append(errs, fmt.Errorf("corpus %d: dir is required", i))
		case cc.ID == "" || cc.ID == "." || cc.ID == string(filepath.Separator):
			errs = append(errs, fmt.Errorf("corpus %d: cannot derive id from dir %q", i, cc.Dir))
		case seen[cc.ID]:
			errs = append(errs, fmt.Errorf("corpus %d: duplicate id %q", i, cc.ID))
		}
		seen[cc.ID] = true
	}
	if c.Retrieval.TopK < 1 {
		errs = append(errs, fmt.Errorf("retrieval.top_k %d must be positive", c.Retrieval.TopK))
	}
	if c.Retrieval.MergeThreshold <= 0 || c.Retrieval.MergeThreshold > 1 {
		errs = append(errs, fmt.Errorf("retrieval.merge_threshold %v must be in (0, 1]", c.Retrieval.MergeThreshold))
	}
	if len(c.Chunking.LevelSizes) == 0 {
		errs = append(errs, errors.New("chunking.level_sizes is empty"))
	}
	switch strings.ToLower(c.Chunking.Tokenizer) {
	case "approx", "word":
	default:
		errs = append(errs, fmt.Errorf("chunking.tokenizer %q: want approx or word", c.Chunking.Tokenizer))
	}
	switch c.Storage.Backend {
	case "sqlite":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			errs = append(errs, errors.New("storage.postgres_url is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q: want sqlite or postgres", c.Storage.Backend))
	}
	return errors.Join(errs...)
}
