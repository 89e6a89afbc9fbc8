// Package config provides configuration loading for repolens.
//
// Configuration is layered: hardcoded defaults, then an optional YAML file,
// then REPOLENS_* environment variables. See LoadWithFile.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Vector store backends.
const (
	VectorStoreQdrant  = "qdrant"
	VectorStoreChromem = "chromem"
)

// Embedding providers.
const (
	EmbeddingsOpenAI     = "openai"
	EmbeddingsCompatible = "compatible"
)

// Repository record stores.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config holds the complete repolens configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Qdrant        QdrantConfig        `koanf:"qdrant"`
	VectorStore   VectorStoreConfig   `koanf:"vectorstore"`
	Embeddings    EmbeddingsConfig    `koanf:"embeddings"`
	Tokens        TokensConfig        `koanf:"tokens"`
	Indexing      IndexingConfig      `koanf:"indexing"`
	Store         StoreConfig         `koanf:"store"`
	GitHub        GitHubConfig        `koanf:"github"`
	NATS          NATSConfig          `koanf:"nats"`
	Log           LogConfig           `koanf:"log"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"http_host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// QdrantConfig holds the Qdrant gRPC connection settings.
type QdrantConfig struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	APIKey Secret `koanf:"api_key"`
	UseTLS bool   `koanf:"use_tls"`
}

// VectorStoreConfig selects the vector store backend.
type VectorStoreConfig struct {
	Provider   string `koanf:"provider"`
	Collection string `koanf:"collection"`

	// ChromemPath persists the embedded store. Empty keeps it in memory.
	ChromemPath     string `koanf:"chromem_path"`
	ChromemCompress bool   `koanf:"chromem_compress"`
}

// EmbeddingsConfig holds embedding provider settings.
type EmbeddingsConfig struct {
	Provider  string `koanf:"provider"`
	Model     string `koanf:"model"`
	BaseURL   string `koanf:"base_url"`
	APIKey    Secret `koanf:"api_key"`
	Dimension int    `koanf:"dimension"`
	BatchSize int    `koanf:"batch_size"`
}

// TokensConfig selects the token estimator.
type TokensConfig struct {
	Estimator string `koanf:"estimator"`
}

// IndexingConfig holds clone and walk settings.
type IndexingConfig struct {
	ScratchRoot   string   `koanf:"scratch_root"`
	RedactSecrets bool     `koanf:"redact_secrets"`
	AllowlistPath string   `koanf:"allowlist_path"`
	SkipGitignore bool     `koanf:"skip_gitignore"`
	ExtraIgnore   []string `koanf:"extra_ignore"`

	// LockTimeout enables the store-level indexing lock. A run still marked
	// indexing after this long may be taken over. Zero disables the lock.
	LockTimeout Duration `koanf:"lock_timeout"`
}

// StoreConfig selects where repository records live.
type StoreConfig struct {
	Backend     string `koanf:"backend"`
	PostgresDSN Secret `koanf:"postgres_dsn"`
}

// GitHubConfig configures repository metadata lookup.
type GitHubConfig struct {
	Lookup    bool    `koanf:"lookup"`
	Token     Secret  `koanf:"token"`
	RateLimit float64 `koanf:"rate_limit"`
}

// NATSConfig configures status event publishing. An empty URL disables it.
type NATSConfig struct {
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// LogConfig holds the logger level and output format.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool    `koanf:"enable_telemetry"`
	ServiceName     string  `koanf:"service_name"`
	Endpoint        string  `koanf:"endpoint"`
	Protocol        string  `koanf:"protocol"`
	Insecure        bool    `koanf:"insecure"`
	SampleRate      float64 `koanf:"sample_rate"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	switch c.VectorStore.Provider {
	case VectorStoreQdrant:
		if c.Qdrant.Host == "" {
			return errors.New("qdrant host is required")
		}
		if c.Qdrant.Port < 1 || c.Qdrant.Port > 65535 {
			return fmt.Errorf("invalid qdrant port: %d", c.Qdrant.Port)
		}
	case VectorStoreChromem:
	default:
		return fmt.Errorf("unknown vectorstore provider %q (want %s or %s)",
			c.VectorStore.Provider, VectorStoreQdrant, VectorStoreChromem)
	}
	if c.VectorStore.Collection == "" {
		return errors.New("vectorstore collection is required")
	}

	switch c.Embeddings.Provider {
	case EmbeddingsOpenAI:
	case EmbeddingsCompatible:
		if c.Embeddings.BaseURL == "" {
			return errors.New("embeddings base_url is required for the compatible provider")
		}
	default:
		return fmt.Errorf("unknown embeddings provider %q (want %s or %s)",
			c.Embeddings.Provider, EmbeddingsOpenAI, EmbeddingsCompatible)
	}
	if c.Embeddings.Dimension <= 0 {
		return fmt.Errorf("invalid embeddings dimension: %d", c.Embeddings.Dimension)
	}
	if c.Embeddings.BatchSize <= 0 {
		return fmt.Errorf("invalid embeddings batch size: %d", c.Embeddings.BatchSize)
	}

	switch c.Tokens.Estimator {
	case "heuristic", "tiktoken":
	default:
		return fmt.Errorf("unknown token estimator %q", c.Tokens.Estimator)
	}

	switch c.Store.Backend {
	case StoreMemory:
	case StorePostgres:
		if !c.Store.PostgresDSN.IsSet() {
			return errors.New("store postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q (want %s or %s)", c.Store.Backend, StoreMemory, StorePostgres)
	}

	if c.Indexing.LockTimeout < 0 {
		return errors.New("indexing lock timeout must not be negative")
	}

	if c.GitHub.RateLimit <= 0 {
		return fmt.Errorf("invalid github rate limit: %v", c.GitHub.RateLimit)
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}
	if c.Observability.SampleRate < 0 || c.Observability.SampleRate > 1 {
		return fmt.Errorf("sample rate must be between 0 and 1, got %v", c.Observability.SampleRate)
	}

	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9090
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Qdrant.Host == "" {
		cfg.Qdrant.Host = "localhost"
	}
	if cfg.Qdrant.Port == 0 {
		cfg.Qdrant.Port = 6334
	}

	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = VectorStoreQdrant
	}
	if cfg.VectorStore.Collection == "" {
		cfg.VectorStore.Collection = "lingo-dev"
	}

	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = EmbeddingsOpenAI
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "text-embedding-3-small"
	}
	if cfg.Embeddings.Dimension == 0 {
		cfg.Embeddings.Dimension = 1536
	}
	if cfg.Embeddings.BatchSize == 0 {
		cfg.Embeddings.BatchSize = 96
	}

	if cfg.Tokens.Estimator == "" {
		cfg.Tokens.Estimator = "heuristic"
	}

	if cfg.Indexing.ScratchRoot == "" {
		cfg.Indexing.ScratchRoot = ".tmp/repos"
	}

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = StoreMemory
	}

	if cfg.GitHub.RateLimit == 0 {
		cfg.GitHub.RateLimit = 1
	}

	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "repolens.repositories"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "repolens"
	}
	if cfg.Observability.Endpoint == "" {
		cfg.Observability.Endpoint = "localhost:4317"
	}
	if cfg.Observability.Protocol == "" {
		cfg.Observability.Protocol = "grpc"
	}
	if cfg.Observability.SampleRate == 0 {
		cfg.Observability.SampleRate = 1.0
	}
}
