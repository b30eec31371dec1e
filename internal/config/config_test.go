package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mergerag.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.LLM.Provider != "gemini" {
		t.Errorf("expected gemini, got %s", cfg.LLM.Provider)
	}
	if cfg.Retrieval.TopK != 12 || cfg.Retrieval.TokenBudget != 3000 || cfg.Retrieval.MergeThreshold != 0.5 {
		t.Errorf("retrieval defaults = %+v", cfg.Retrieval)
	}
	if len(cfg.Chunking.LevelSizes) != 2 || cfg.Chunking.LevelSizes[0] != 1536 || cfg.Chunking.LevelSizes[1] != 512 {
		t.Errorf("level sizes = %v", cfg.Chunking.LevelSizes)
	}
	if cfg.Embedding.MaxAttempts != 3 {
		t.Errorf("embedding max_attempts = %d, want 3", cfg.Embedding.MaxAttempts)
	}
}

func TestLoadFromTOML(t *testing.T) {
	path := writeConfig(t, `
log_level = "debug"

[router]
corpus_timeout = "15s"

[retrieval]
top_k = 6

[embedding]
max_attempts = 5

[[corpus]]
dir = "./content/standup-fabrique"
description = "Pour consulter l'actualité et les chiffres d'une startup."

[[corpus]]
id = "sre"
dir = "./content/support-sre-fabrique"
description = "Pour les questions techniques."
flat = true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.Retrieval.TopK != 6 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Embedding.MaxAttempts != 5 || cfg.LLM.MaxAttempts != 3 {
		t.Errorf("max_attempts: embedding %d, llm %d", cfg.Embedding.MaxAttempts, cfg.LLM.MaxAttempts)
	}
	if cfg.Router.CorpusTimeout != 15*time.Second {
		t.Errorf("corpus_timeout = %v", cfg.Router.CorpusTimeout)
	}
	// Defaults preserved
	if cfg.Retrieval.TokenBudget != 3000 || cfg.LLM.Provider != "gemini" {
		t.Errorf("defaults lost: %+v", cfg)
	}
	if len(cfg.Corpora) != 2 {
		t.Fatalf("corpora = %+v", cfg.Corpora)
	}
	if cfg.Corpora[0].ID != "standup-fabrique" || cfg.Corpora[0].Flat {
		t.Errorf("corpus 0 = %+v", cfg.Corpora[0])
	}
	if cfg.Corpora[1].ID != "sre" || !cfg.Corpora[1].Flat {
		t.Errorf("corpus 1 = %+v", cfg.Corpora[1])
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadMalformed(t *testing.T) {
	if _, err := Load(writeConfig(t, "[llm\nmodel=")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("MERGERAG_LLM_API_KEY", "env-key")
	t.Setenv("MERGERAG_TOP_K", "4")
	t.Setenv("MERGERAG_OBSERVER_ENABLED", "1")

	cfg, err := Load(writeConfig(t, "[llm]\napi_key = \"file-key\"\n[retrieval]\ntop_k = 9\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.APIKey != "env-key" {
		t.Errorf("expected env-key, got %s", cfg.LLM.APIKey)
	}
	if cfg.Retrieval.TopK != 4 {
		t.Errorf("top_k = %d, want 4", cfg.Retrieval.TopK)
	}
	if !cfg.Observer.Enabled {
		t.Error("observer not enabled")
	}
	// Fallbacks: embedding and router get the LLM key and model.
	if cfg.Embedding.APIKey != "env-key" || cfg.Router.APIKey != "env-key" {
		t.Errorf("fallback keys = %q / %q", cfg.Embedding.APIKey, cfg.Router.APIKey)
	}
	if cfg.Router.Model != cfg.LLM.Model {
		t.Errorf("router model = %q", cfg.Router.Model)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "none.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("backend = %q", cfg.Storage.Backend)
	}
}

func TestValidate(t *testing.T) {
	ok := func() Config {
		c := Default()
		c.Corpora = []CorpusConfig{{ID: "a", Dir: "a"}}
		return c
	}
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "no corpora", mutate: func(c *Config) { c.Corpora = nil }, wantErr: "no [[corpus]]"},
		{name: "missing dir", mutate: func(c *Config) { c.Corpora[0].Dir = "" }, wantErr: "dir is required"},
		{name: "duplicate", mutate: func(c *Config) { c.Corpora = append(c.Corpora, CorpusConfig{ID: "a", Dir: "b"}) }, wantErr: "duplicate id"},
		{name: "top k", mutate: func(c *Config) { c.Retrieval.TopK = 0 }, wantErr: "top_k"},
		{name: "threshold", mutate: func(c *Config) { c.Retrieval.MergeThreshold = 1.5 }, wantErr: "merge_threshold"},
		{name: "tokenizer", mutate: func(c *Config) { c.Chunking.Tokenizer = "bpe" }, wantErr: "tokenizer"},
		{name: "backend", mutate: func(c *Config) { c.Storage.Backend = "redis" }, wantErr: "storage.backend"},
		{name: "postgres url", mutate: func(c *Config) { c.Storage.Backend = "postgres" }, wantErr: "postgres_url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ok()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
