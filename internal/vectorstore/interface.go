package vectorstore

import (
	"context"
	"errors"
)

// Sentinel errors for vector store operations.
var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid vectorstore configuration")

	// ErrEmptyDocuments indicates empty or nil documents.
	ErrEmptyDocuments = errors.New("empty or nil documents")

	// ErrProvider wraps failures reported by the index service.
	ErrProvider = errors.New("vector index provider error")

	// ErrConnectionFailed indicates gRPC connection issues.
	ErrConnectionFailed = errors.New("failed to connect to Qdrant")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("failed to generate embeddings")

	// ErrDimensionMismatch indicates a vector whose length differs from the index dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrMissingFilter is returned when a read does not constrain the
	// required filter key. Stores fail closed instead of scanning every user.
	ErrMissingFilter = errors.New("required filter missing")
)

// Embedder generates vector embeddings from text.
type Embedder interface {
	// EmbedDocuments generates one embedding per text.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Store is the minimal vector index contract.
//
// Implementations:
//   - ChromemStore: embedded chromem-go (default)
//   - QdrantStore: external Qdrant over gRPC
//
// Filters are exact-match on metadata keys. Every filter key must match.
type Store interface {
	// Upsert embeds and stores documents under their IDs, replacing any
	// existing record with the same ID. Returns the number of records written.
	Upsert(ctx context.Context, docs []Document) (int, error)

	// Search returns up to k records most similar to query, ordered by
	// descending similarity.
	Search(ctx context.Context, query string, k int, filters map[string]string) ([]SearchResult, error)

	// DeleteByID removes one record. Deleting a missing ID is not an error.
	DeleteByID(ctx context.Context, id string) error

	// Stats describes the index.
	Stats(ctx context.Context) (*Stats, error)

	// Close releases resources.
	Close() error
}

// Lister is implemented by stores that can page through record IDs.
type Lister interface {
	// ListIDs returns up to limit IDs matching filters starting at cursor,
	// plus the cursor for the next page. An empty next cursor means the
	// listing is exhausted.
	ListIDs(ctx context.Context, filters map[string]string, cursor string, limit int) (ids []string, next string, err error)
}

// VectorQuerier is implemented by stores that accept raw query vectors.
type VectorQuerier interface {
	QueryVector(ctx context.Context, vector []float32, k int, filters map[string]string) ([]SearchResult, error)
	// Dimension is the vector length the index expects.
	Dimension() int
}

// BatchDeleter is implemented by stores that delete many IDs in one call.
type BatchDeleter interface {
	DeleteByIDs(ctx context.Context, ids []string) error
}
