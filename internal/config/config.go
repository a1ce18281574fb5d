// Package config provides configuration loading for coachrag.
//
// Values come from hardcoded defaults, an optional YAML file and COACHRAG_*
// environment variables, in increasing order of precedence. See Load.
package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrConfiguration is wrapped by every validation failure. Configuration
// errors are fatal at startup.
var ErrConfiguration = errors.New("invalid configuration")

// Config holds the complete coachrag configuration.
type Config struct {
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Ingest      IngestConfig      `koanf:"ingest"`
	Retrieval   RetrievalConfig   `koanf:"retrieval"`
	Deletion    DeletionConfig    `koanf:"deletion"`
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
}

// EmbeddingsConfig selects and configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is one of "openai", "fastembed" or "hash".
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	APIKey   Secret `koanf:"api_key"`
	// BaseURL overrides the OpenAI-compatible endpoint (optional).
	BaseURL   string `koanf:"base_url"`
	Dimension int    `koanf:"dimension"`
	CacheDir  string `koanf:"cache_dir"`
}

// VectorStoreConfig selects and configures the vector index.
type VectorStoreConfig struct {
	// Provider is "chromem" (embedded) or "qdrant".
	Provider string `koanf:"provider"`
	// Collection is the index name shared by all users.
	Collection string        `koanf:"collection"`
	Chromem    ChromemConfig `koanf:"chromem"`
	Qdrant     QdrantConfig  `koanf:"qdrant"`
}

// ChromemConfig configures the embedded chromem-go store.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps the index in memory.
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// QdrantConfig configures the Qdrant gRPC client.
type QdrantConfig struct {
	Host         string   `koanf:"host"`
	Port         int      `koanf:"port"`
	APIKey       Secret   `koanf:"api_key"`
	UseTLS       bool     `koanf:"use_tls"`
	MaxRetries   int      `koanf:"max_retries"`
	RetryBackoff Duration `koanf:"retry_backoff"`
}

// IngestConfig controls chunking.
type IngestConfig struct {
	ChunkSize    int `koanf:"chunk_size"`
	ChunkOverlap int `koanf:"chunk_overlap"`
}

// RetrievalConfig controls similarity search.
type RetrievalConfig struct {
	TopK int `koanf:"top_k"`
}

// DeletionConfig controls delete-by-user reconciliation.
type DeletionConfig struct {
	// EnumerationLimit is the topK used when records are enumerated through a
	// filtered similarity query. Hitting it flags the run as truncated.
	EnumerationLimit int `koanf:"enumeration_limit"`
	// PageSize is the page length for cursor-based listing.
	PageSize int `koanf:"page_size"`
	// Workers bounds concurrent per-ID deletes. 1 deletes sequentially.
	Workers   int `koanf:"workers"`
	BatchSize int `koanf:"batch_size"`
	// RatePerSecond caps delete calls per second. 0 disables the limiter.
	RatePerSecond float64 `koanf:"rate_per_second"`
}

// LoggingConfig is the subset of logging settings exposed to users.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig controls OpenTelemetry export.
type TelemetryConfig struct {
	Enabled    bool    `koanf:"enabled"`
	Endpoint   string  `koanf:"endpoint"`
	Protocol   string  `koanf:"protocol"`
	Insecure   bool    `koanf:"insecure"`
	SampleRate float64 `koanf:"sample_rate"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing fields.
func applyDefaults(cfg *Config) {
	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "openai"
	}
	if cfg.Embeddings.Model == "" {
		switch cfg.Embeddings.Provider {
		case "fastembed":
			cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
		case "openai":
			cfg.Embeddings.Model = "text-embedding-3-large"
		}
	}
	if cfg.Embeddings.Dimension == 0 {
		switch cfg.Embeddings.Provider {
		case "fastembed":
			cfg.Embeddings.Dimension = 384
		case "hash":
			cfg.Embeddings.Dimension = 256
		default:
			cfg.Embeddings.Dimension = 3072
		}
	}

	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "chromem"
	}
	if cfg.VectorStore.Collection == "" {
		cfg.VectorStore.Collection = "coaching_feedback"
	}
	if cfg.VectorStore.Qdrant.Host == "" {
		cfg.VectorStore.Qdrant.Host = "localhost"
	}
	if cfg.VectorStore.Qdrant.Port == 0 {
		cfg.VectorStore.Qdrant.Port = 6334
	}
	if cfg.VectorStore.Qdrant.MaxRetries == 0 {
		cfg.VectorStore.Qdrant.MaxRetries = 3
	}
	if cfg.VectorStore.Qdrant.RetryBackoff == 0 {
		cfg.VectorStore.Qdrant.RetryBackoff = Duration(500 * time.Millisecond)
	}

	if cfg.Ingest.ChunkSize == 0 {
		cfg.Ingest.ChunkSize = 500
	}
	if cfg.Ingest.ChunkOverlap == 0 {
		cfg.Ingest.ChunkOverlap = 100
	}

	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 30
	}

	if cfg.Deletion.EnumerationLimit == 0 {
		cfg.Deletion.EnumerationLimit = 10000
	}
	if cfg.Deletion.PageSize == 0 {
		cfg.Deletion.PageSize = 256
	}
	if cfg.Deletion.Workers == 0 {
		cfg.Deletion.Workers = 1
	}
	if cfg.Deletion.BatchSize == 0 {
		cfg.Deletion.BatchSize = 100
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Embeddings.Provider {
	case "openai":
		if !c.Embeddings.APIKey.IsSet() {
			return fmt.Errorf("%w: embeddings.api_key is required for the openai provider", ErrConfiguration)
		}
	case "fastembed", "hash":
	default:
		return fmt.Errorf("%w: unknown embeddings provider %q", ErrConfiguration, c.Embeddings.Provider)
	}
	if c.Embeddings.Dimension <= 0 {
		return fmt.Errorf("%w: embeddings.dimension must be positive", ErrConfiguration)
	}

	if c.VectorStore.Collection == "" {
		return fmt.Errorf("%w: vectorstore.collection is required", ErrConfiguration)
	}
	switch c.VectorStore.Provider {
	case "chromem":
	case "qdrant":
		if c.VectorStore.Qdrant.Host == "" {
			return fmt.Errorf("%w: vectorstore.qdrant.host is required", ErrConfiguration)
		}
		if c.VectorStore.Qdrant.Port <= 0 || c.VectorStore.Qdrant.Port > 65535 {
			return fmt.Errorf("%w: invalid vectorstore.qdrant.port %d", ErrConfiguration, c.VectorStore.Qdrant.Port)
		}
	default:
		return fmt.Errorf("%w: unknown vectorstore provider %q", ErrConfiguration, c.VectorStore.Provider)
	}

	if c.Ingest.ChunkSize <= 0 {
		return fmt.Errorf("%w: ingest.chunk_size must be positive", ErrConfiguration)
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("%w: ingest.chunk_overlap must be in [0, chunk_size)", ErrConfiguration)
	}

	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("%w: retrieval.top_k must be positive", ErrConfiguration)
	}

	if c.Deletion.EnumerationLimit <= 0 || c.Deletion.PageSize <= 0 || c.Deletion.BatchSize <= 0 {
		return fmt.Errorf("%w: deletion limits must be positive", ErrConfiguration)
	}
	if c.Deletion.Workers < 1 {
		return fmt.Errorf("%w: deletion.workers must be >= 1", ErrConfiguration)
	}
	if c.Deletion.RatePerSecond < 0 {
		return fmt.Errorf("%w: deletion.rate_per_second cannot be negative", ErrConfiguration)
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("%w: logging.format must be 'json' or 'console', got %q", ErrConfiguration, c.Logging.Format)
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("%w: telemetry.sample_rate must be between 0 and 1", ErrConfiguration)
	}

	return nil
}
