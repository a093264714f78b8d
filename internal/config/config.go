package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Tinfoil enclave defaults matching the hosted llama3-3-70b deployment.
const (
	defaultBaseURL        = "https://llama3-3-70b.model.tinfoil.sh/v1"
	defaultOfflineBaseURL = "http://localhost:11434/v1"

	// OfflineKey is the TINFOIL_API_KEY value that switches to the local
	// offline endpoint.
	OfflineKey = "none"

	// offlineAPIKey is the placeholder key sent to the local endpoint,
	// which ignores authentication.
	offlineAPIKey = "tinfoil"
)

// Config holds the recall pipeline configuration.
type Config struct {
	Provider  ProviderConfig  `yaml:"provider"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Chat      ChatConfig      `yaml:"chat"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Cache     CacheConfig     `yaml:"cache"`
	HTTP      HTTPConfig      `yaml:"http"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ProviderConfig holds hosted API connection settings shared by the
// embedding and chat clients.
type ProviderConfig struct {
	APIKey         string      `yaml:"api_key"`
	BaseURL        string      `yaml:"base_url"`
	OfflineBaseURL string      `yaml:"offline_base_url"`
	Retry          RetryConfig `yaml:"retry"`
}

// RetryConfig bounds retries of transient provider failures.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms"`
}

// EmbeddingConfig holds embedding model settings.
type EmbeddingConfig struct {
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"` // 0 = provider default
}

// ChatConfig holds chat completion settings.
type ChatConfig struct {
	Provider  string `yaml:"provider"` // openai (default) or anthropic
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
	APIKey    string `yaml:"api_key"` // overrides provider.api_key for chat
}

// IngestConfig holds chunking and batching settings.
type IngestConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
	BatchSize    int `yaml:"batch_size"`
}

// RetrievalConfig holds query-time settings.
type RetrievalConfig struct {
	TopK int `yaml:"top_k"`
}

// CacheConfig holds embedding cache settings.
type CacheConfig struct {
	Driver   string   `yaml:"driver"` // sqlite (default), redis, off
	Addrs    []string `yaml:"addrs"`
	Password string   `yaml:"password"`
}

// HTTPConfig holds server-mode settings.
type HTTPConfig struct {
	ReadTimeoutSec  int      `yaml:"read_timeout_sec"`
	WriteTimeoutSec int      `yaml:"write_timeout_sec"`
	ShutdownSec     int      `yaml:"shutdown_timeout_sec"`
	APIKeys         []string `yaml:"api_keys"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Load reads configuration from an optional YAML file. An empty path yields
// the built-in defaults. The API key always comes from TINFOIL_API_KEY
// unless the file sets provider.api_key explicitly.
func Load(path string) (Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}

		// Substitute env variables of the form ${VAR} / ${VAR:-default}
		data = expandEnvVars(data)

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = os.Getenv("TINFOIL_API_KEY")
	}

	cfg.ApplyDefaults()

	// Not validated here: callers may still override fields (CLI flags)
	// before calling Validate.
	return cfg, nil
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.Provider.BaseURL == "" {
		c.Provider.BaseURL = defaultBaseURL
	}
	if c.Provider.OfflineBaseURL == "" {
		c.Provider.OfflineBaseURL = defaultOfflineBaseURL
	}
	if c.Provider.Retry.MaxAttempts <= 0 {
		c.Provider.Retry.MaxAttempts = 3
	}
	if c.Provider.Retry.InitialBackoffMs <= 0 {
		c.Provider.Retry.InitialBackoffMs = 500
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "nomic-embed-text"
	}
	if c.Chat.Provider == "" {
		c.Chat.Provider = "openai"
	}
	if c.Chat.Model == "" {
		c.Chat.Model = "llama3-3-70b"
	}
	if c.Chat.MaxTokens <= 0 {
		c.Chat.MaxTokens = 1024
	}
	if c.Ingest.ChunkSize <= 0 {
		c.Ingest.ChunkSize = 1
	}
	if c.Ingest.ChunkOverlap < 0 {
		c.Ingest.ChunkOverlap = 0
	}
	if c.Ingest.BatchSize <= 0 {
		c.Ingest.BatchSize = 50
	}
	if c.Retrieval.TopK <= 0 {
		c.Retrieval.TopK = 5
	}
	if c.Cache.Driver == "" {
		c.Cache.Driver = "sqlite"
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 30
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 120
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.Provider.APIKey == "" {
		return fmt.Errorf("provider api key is required: set TINFOIL_API_KEY (or %q for offline mode)", OfflineKey)
	}
	switch c.Chat.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("chat.provider must be \"openai\" or \"anthropic\", got %q", c.Chat.Provider)
	}
	switch c.Cache.Driver {
	case "sqlite", "redis", "off":
	default:
		return fmt.Errorf("cache.driver must be \"sqlite\", \"redis\" or \"off\", got %q", c.Cache.Driver)
	}
	if c.Cache.Driver == "redis" && len(c.Cache.Addrs) == 0 {
		return fmt.Errorf("cache.addrs is required for the redis cache driver")
	}
	if c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("ingest.chunk_overlap (%d) must be smaller than ingest.chunk_size (%d)",
			c.Ingest.ChunkOverlap, c.Ingest.ChunkSize)
	}
	return nil
}

// Offline reports whether the local offline endpoint should be used.
func (c *Config) Offline() bool {
	return strings.EqualFold(c.Provider.APIKey, OfflineKey)
}

// EffectiveBaseURL returns the API endpoint for the current mode.
func (c *Config) EffectiveBaseURL() string {
	if c.Offline() {
		return c.Provider.OfflineBaseURL
	}
	return c.Provider.BaseURL
}

// EffectiveAPIKey returns the API key to send, substituting a placeholder
// in offline mode.
func (c *Config) EffectiveAPIKey() string {
	if c.Offline() {
		return offlineAPIKey
	}
	return c.Provider.APIKey
}

// ChatAPIKey returns the key for the chat generator, falling back to the
// shared provider key.
func (c *Config) ChatAPIKey() string {
	if c.Chat.APIKey != "" {
		return c.Chat.APIKey
	}
	return c.EffectiveAPIKey()
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
