package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Setenv("TINFOIL_API_KEY", "test-key")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Provider.APIKey != "test-key" {
		t.Errorf("APIKey = %q", cfg.Provider.APIKey)
	}
	if cfg.Embedding.Model != "nomic-embed-text" {
		t.Errorf("Embedding.Model = %q", cfg.Embedding.Model)
	}
	if cfg.Chat.Model != "llama3-3-70b" {
		t.Errorf("Chat.Model = %q", cfg.Chat.Model)
	}
	if cfg.Ingest.ChunkSize != 1 || cfg.Ingest.ChunkOverlap != 0 {
		t.Errorf("chunking defaults = %d/%d", cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	}
	if cfg.Retrieval.TopK != 5 {
		t.Errorf("TopK = %d", cfg.Retrieval.TopK)
	}
	if cfg.Cache.Driver != "sqlite" {
		t.Errorf("Cache.Driver = %q", cfg.Cache.Driver)
	}
	if cfg.Offline() {
		t.Error("Offline() = true for a real key")
	}
}

func TestLoad_MissingAPIKey(t *testing.T) {
	t.Setenv("TINFOIL_API_KEY", "")

	// Load succeeds so a later --api-key flag override can fill the key;
	// only Validate rejects the empty key.
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load must not fail on a missing key: %v", err)
	}

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate should reject the missing API key")
	} else if !strings.Contains(err.Error(), "TINFOIL_API_KEY") {
		t.Errorf("error should name the env var, got: %v", err)
	}

	cfg.Provider.APIKey = "flag-key"
	if err := cfg.Validate(); err != nil {
		t.Errorf("key set after Load should validate: %v", err)
	}
}

func TestLoad_OfflineMode(t *testing.T) {
	t.Setenv("TINFOIL_API_KEY", "none")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !cfg.Offline() {
		t.Fatal("Offline() = false for key \"none\"")
	}
	if cfg.EffectiveBaseURL() != "http://localhost:11434/v1" {
		t.Errorf("EffectiveBaseURL() = %q", cfg.EffectiveBaseURL())
	}
	if cfg.EffectiveAPIKey() == "none" {
		t.Error("EffectiveAPIKey() should substitute a placeholder in offline mode")
	}
}

func TestLoad_FileWithEnvExpansion(t *testing.T) {
	t.Setenv("TINFOIL_API_KEY", "from-env")
	t.Setenv("RECALL_CHAT_MODEL", "custom-model")

	path := filepath.Join(t.TempDir(), "recall.yaml")
	body := `
provider:
  api_key: ${TINFOIL_API_KEY}
chat:
  model: ${RECALL_CHAT_MODEL}
ingest:
  chunk_size: 10
  chunk_overlap: 2
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Provider.APIKey != "from-env" {
		t.Errorf("APIKey = %q", cfg.Provider.APIKey)
	}
	if cfg.Chat.Model != "custom-model" {
		t.Errorf("Chat.Model = %q", cfg.Chat.Model)
	}
	if cfg.Ingest.ChunkSize != 10 || cfg.Ingest.ChunkOverlap != 2 {
		t.Errorf("chunking = %d/%d", cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	}
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad chat provider", func(c *Config) { c.Chat.Provider = "gemini" }},
		{"bad cache driver", func(c *Config) { c.Cache.Driver = "memcached" }},
		{"redis without addrs", func(c *Config) { c.Cache.Driver = "redis"; c.Cache.Addrs = nil }},
		{"overlap >= size", func(c *Config) { c.Ingest.ChunkSize = 2; c.Ingest.ChunkOverlap = 2 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{}
			cfg.Provider.APIKey = "k"
			cfg.ApplyDefaults()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
