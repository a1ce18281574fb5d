package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const providerChromem = "chromem"

var chromemTracer = otel.Tracer("coachrag.vectorstore.chromem")

// ChromemConfig holds configuration for the embedded chromem-go index.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps everything in memory.
	Path string

	// Compress enables gzip compression of persisted documents.
	Compress bool

	// Collection is the index name.
	Collection string

	// Dimension is the expected embedding length. Must match the embedder.
	Dimension int

	// RequiredFilter, when set, is a metadata key every read must filter on.
	RequiredFilter string
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return ValidateCollectionName(c.Collection)
}

// ChromemStore implements Store, VectorQuerier and BatchDeleter on chromem-go.
//
// Neutral-vector enumeration against this store is complete: QueryVector
// caps k at the collection size, so a filtered query with a large k returns
// every matching record.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	embedder   Embedder
	config     ChromemConfig
	logger     *zap.Logger
}

// NewChromemStore opens (or creates) the configured collection.
func NewChromemStore(config ChromemConfig, embedder Embedder, logger *zap.Logger) (*ChromemStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	var db *chromem.DB
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		path, err := expandPath(config.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(path, 0o700); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", path, err)
		}
		db, err = chromem.NewPersistentDB(path, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
		config.Path = path
	}

	store := &ChromemStore{
		db:       db,
		embedder: embedder,
		config:   config,
		logger:   logger,
	}

	// An embedding func must be passed: chromem-go falls back to its own
	// OpenAI embedder for persisted collections when given nil.
	collection, err := db.GetOrCreateCollection(config.Collection, nil, store.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", config.Collection, err)
	}
	store.collection = collection

	logger.Info("ChromemStore initialized",
		zap.String("path", config.Path),
		zap.Bool("in_memory", config.Path == ""),
		zap.String("collection", config.Collection),
		zap.Int("dimension", config.Dimension),
		zap.Int("documents", collection.Count()),
	)
	return store, nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

func (s *ChromemStore) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.EmbedQuery(ctx, text)
	}
}

// Dimension returns the configured embedding length.
func (s *ChromemStore) Dimension() int {
	return s.config.Dimension
}

// Upsert embeds and stores docs. Existing IDs are overwritten.
func (s *ChromemStore) Upsert(ctx context.Context, docs []Document) (n int, err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Upsert")
	defer span.End()
	defer func(start time.Time) { observe(providerChromem, "upsert", start, err) }(time.Now())

	span.SetAttributes(attribute.Int("document_count", len(docs)))

	if len(docs) == 0 {
		return 0, ErrEmptyDocuments
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		if doc.ID == "" {
			return 0, fmt.Errorf("%w: document at index %d has no ID", ErrInvalidConfig, i)
		}
		texts[i] = doc.Content
	}

	embeddings, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(embeddings) != len(docs) {
		return 0, fmt.Errorf("%w: got %d embeddings for %d documents", ErrEmbeddingFailed, len(embeddings), len(docs))
	}

	chromemDocs := make([]chromem.Document, len(docs))
	for i, doc := range docs {
		if err := checkDimension(embeddings[i], s.config.Dimension); err != nil {
			return 0, err
		}
		chromemDocs[i] = chromem.Document{
			ID:        doc.ID,
			Content:   doc.Content,
			Metadata:  metadataToStrings(doc.Metadata),
			Embedding: embeddings[i],
		}
	}

	// Embeddings are precomputed, so concurrency 1 only covers persistence.
	if err := s.collection.AddDocuments(ctx, chromemDocs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("%w: adding documents: %v", ErrProvider, err)
	}

	RecordsWritten.WithLabelValues(providerChromem).Add(float64(len(docs)))
	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("upserted documents to chromem",
		zap.String("collection", s.config.Collection),
		zap.Int("count", len(docs)),
	)
	return len(docs), nil
}

// Search embeds query and runs a filtered similarity query.
func (s *ChromemStore) Search(ctx context.Context, query string, k int, filters map[string]string) ([]SearchResult, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Search")
	defer span.End()

	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	if err := requireFilter(s.config.RequiredFilter, filters); err != nil {
		observe(providerChromem, "search", time.Now(), err)
		return nil, err
	}

	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return s.query(ctx, "search", vec, k, filters)
}

// QueryVector runs a filtered similarity query with a caller-supplied vector.
// k is capped at the collection size.
func (s *ChromemStore) QueryVector(ctx context.Context, vector []float32, k int, filters map[string]string) ([]SearchResult, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.QueryVector")
	defer span.End()

	if err := requireFilter(s.config.RequiredFilter, filters); err != nil {
		observe(providerChromem, "query_vector", time.Now(), err)
		return nil, err
	}
	return s.query(ctx, "query_vector", vector, k, filters)
}

func (s *ChromemStore) query(ctx context.Context, op string, vector []float32, k int, filters map[string]string) (results []SearchResult, err error) {
	defer func(start time.Time) { observe(providerChromem, op, start, err) }(time.Now())

	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if err := checkDimension(vector, s.config.Dimension); err != nil {
		return nil, err
	}

	// chromem-go requires nResults <= document count.
	count := s.collection.Count()
	if count == 0 {
		return []SearchResult{}, nil
	}
	if k > count {
		k = count
	}

	var where map[string]string
	if len(filters) > 0 {
		where = filters
	}

	matches, err := s.collection.QueryEmbedding(ctx, vector, k, where, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: querying collection %s: %v", ErrProvider, s.config.Collection, err)
	}

	results = make([]SearchResult, 0, len(matches))
	for _, m := range matches {
		results = append(results, SearchResult{
			ID:       m.ID,
			Content:  m.Content,
			Score:    m.Similarity,
			Metadata: metadataFromStrings(m.Metadata),
		})
	}

	s.logger.Debug("queried chromem collection",
		zap.String("operation", op),
		zap.Int("k", k),
		zap.Int("results", len(results)),
	)
	return results, nil
}

// DeleteByID removes one record. Missing IDs are ignored.
func (s *ChromemStore) DeleteByID(ctx context.Context, id string) (err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.DeleteByID")
	defer span.End()
	defer func(start time.Time) { observe(providerChromem, "delete", start, err) }(time.Now())

	if id == "" {
		return fmt.Errorf("id cannot be empty")
	}
	existing := s.existing(ctx, []string{id})
	if len(existing) == 0 {
		return nil
	}
	if err := s.collection.Delete(ctx, nil, nil, existing...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: deleting %s: %v", ErrProvider, id, err)
	}
	return nil
}

// DeleteByIDs removes every listed record present in the collection.
func (s *ChromemStore) DeleteByIDs(ctx context.Context, ids []string) (err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.DeleteByIDs")
	defer span.End()
	defer func(start time.Time) { observe(providerChromem, "delete_batch", start, err) }(time.Now())

	span.SetAttributes(attribute.Int("id_count", len(ids)))

	existing := s.existing(ctx, ids)
	if len(existing) == 0 {
		return nil
	}
	if err := s.collection.Delete(ctx, nil, nil, existing...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: deleting %d documents: %v", ErrProvider, len(existing), err)
	}
	return nil
}

// existing filters ids down to those stored, so deletes stay idempotent on
// persistent collections.
func (s *ChromemStore) existing(ctx context.Context, ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, err := s.collection.GetByID(ctx, id); err == nil {
			out = append(out, id)
		}
	}
	return out
}

// Stats reports the document count and dimension.
func (s *ChromemStore) Stats(ctx context.Context) (*Stats, error) {
	_, span := chromemTracer.Start(ctx, "ChromemStore.Stats")
	defer span.End()

	return &Stats{
		Provider:   providerChromem,
		Collection: s.config.Collection,
		Documents:  s.collection.Count(),
		Dimension:  s.config.Dimension,
	}, nil
}

// Close is a no-op; chromem-go persists on every write.
func (s *ChromemStore) Close() error {
	return nil
}
