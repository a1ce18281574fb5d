package vectorstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Config selects a backend. Collection, Dimension and RequiredFilter apply
// to whichever backend is chosen.
type Config struct {
	// Provider is "chromem" or "qdrant".
	Provider       string
	Collection     string
	Dimension      int
	RequiredFilter string

	Chromem ChromemConfig
	Qdrant  QdrantConfig
}

// NewStore creates the configured backend.
func NewStore(ctx context.Context, cfg Config, embedder Embedder, logger *zap.Logger) (Store, error) {
	switch cfg.Provider {
	case "", providerChromem:
		c := cfg.Chromem
		c.Collection = cfg.Collection
		c.Dimension = cfg.Dimension
		c.RequiredFilter = cfg.RequiredFilter
		return NewChromemStore(c, embedder, logger)
	case providerQdrant:
		q := cfg.Qdrant
		q.Collection = cfg.Collection
		q.Dimension = cfg.Dimension
		q.RequiredFilter = cfg.RequiredFilter
		return NewQdrantStore(ctx, q, embedder, logger)
	default:
		return nil, fmt.Errorf("%w: unsupported vectorstore provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

// Compile-time capability checks.
var (
	_ Store         = (*ChromemStore)(nil)
	_ VectorQuerier = (*ChromemStore)(nil)
	_ BatchDeleter  = (*ChromemStore)(nil)

	_ Store         = (*QdrantStore)(nil)
	_ Lister        = (*QdrantStore)(nil)
	_ VectorQuerier = (*QdrantStore)(nil)
	_ BatchDeleter  = (*QdrantStore)(nil)
)
