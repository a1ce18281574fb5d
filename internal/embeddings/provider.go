package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/coachrag/internal/vectorstore"
	"go.uber.org/zap"
)

var (
	// ErrInvalidConfig indicates a provider could not be built from its configuration.
	ErrInvalidConfig = errors.New("invalid embeddings configuration")

	// ErrEmptyInput indicates there was nothing to embed.
	ErrEmptyInput = errors.New("empty embedding input")

	// ErrEmbeddingFailed wraps failures reported by the embedding model.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Provider is an Embedder with a known output dimension.
type Provider interface {
	vectorstore.Embedder
	// Dimension returns the embedding dimension for the current model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// ProviderConfig holds configuration for creating an embedding provider.
type ProviderConfig struct {
	// Provider is "openai", "fastembed" or "hash".
	Provider string
	Model    string
	// APIKey authenticates against the OpenAI endpoint.
	APIKey string
	// BaseURL points the OpenAI client at a compatible server.
	BaseURL string
	// Dimension is required for openai and hash; fastembed derives it from the model.
	Dimension int
	// CacheDir is the fastembed model cache.
	CacheDir string
}

// NewProvider builds the configured provider and wraps it with metrics.
func NewProvider(cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		p   Provider
		err error
	)
	switch cfg.Provider {
	case "openai":
		p, err = NewOpenAIProvider(OpenAIConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   cfg.BaseURL,
			Dimension: cfg.Dimension,
		})
	case "fastembed":
		p, err = NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
	case "hash":
		p, err = NewHashProvider(cfg.Dimension)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	model := cfg.Model
	if model == "" {
		model = cfg.Provider
	}
	return &instrumented{Provider: p, model: model, metrics: NewMetrics(logger)}, nil
}

// instrumented records generation metrics around another Provider.
type instrumented struct {
	Provider
	model   string
	metrics *Metrics
}

func (i *instrumented) EmbedDocuments(ctx context.Context, texts []string) (vecs [][]float32, genErr error) {
	start := time.Now()
	defer func() {
		i.metrics.RecordGeneration(ctx, i.model, "embed_documents", time.Since(start), len(texts), genErr)
	}()
	return i.Provider.EmbedDocuments(ctx, texts)
}

func (i *instrumented) EmbedQuery(ctx context.Context, text string) (vec []float32, genErr error) {
	start := time.Now()
	defer func() {
		i.metrics.RecordGeneration(ctx, i.model, "embed_query", time.Since(start), 1, genErr)
	}()
	return i.Provider.EmbedQuery(ctx, text)
}
