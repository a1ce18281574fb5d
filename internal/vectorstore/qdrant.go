package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	providerQdrant = "qdrant"

	// payloadRecordID keeps the caller's record ID; Qdrant point IDs must be
	// UUIDs or integers.
	payloadRecordID = "record_id"
	payloadContent  = "content"
)

var qdrantTracer = otel.Tracer("coachrag.vectorstore.qdrant")

// recordNamespace derives point UUIDs from record IDs. Fixed so that
// re-ingesting a record ID always targets the same point.
var recordNamespace = uuid.MustParse("8f1c7a52-3b0e-4d6a-9a43-5d2f6c1e7b90")

// QdrantConfig holds configuration for the Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	Host string

	// Port is the Qdrant gRPC port (6334), not the HTTP port (6333).
	Port int

	// APIKey authenticates against Qdrant Cloud or secured deployments.
	APIKey string

	UseTLS bool

	// Collection is the index name.
	Collection string

	// Dimension is the embedding length. Must match the embedder.
	Dimension int

	// Distance defaults to cosine.
	Distance qdrant.Distance

	// MaxRetries bounds retries of transient failures. Default: 3
	MaxRetries int

	// RetryBackoff is the initial backoff, doubled per retry. Default: 500ms
	RetryBackoff time.Duration

	// MaxMessageSize is the gRPC message cap in bytes. Default: 50MB
	MaxMessageSize int

	// RequiredFilter, when set, is a payload key every read must filter on.
	// It also gets a keyword payload index.
	RequiredFilter string
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.Distance == 0 {
		c.Distance = qdrant.Distance_Cosine
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return ValidateCollectionName(c.Collection)
}

// IsTransientError reports whether a gRPC error is worth retrying.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// PointID maps a record ID to its deterministic Qdrant point UUID.
func PointID(recordID string) string {
	return uuid.NewSHA1(recordNamespace, []byte(recordID)).String()
}

// QdrantStore implements Store, Lister, VectorQuerier and BatchDeleter over
// Qdrant's native gRPC client.
type QdrantStore struct {
	client   *qdrant.Client
	embedder Embedder
	config   QdrantConfig
	logger   *zap.Logger
}

// NewQdrantStore connects, health-checks and ensures the collection exists
// with a keyword index on the required filter key.
func NewQdrantStore(ctx context.Context, config QdrantConfig, embedder Embedder, logger *zap.Logger) (*QdrantStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if !config.UseTLS && config.APIKey != "" {
		logger.Warn("Qdrant API key sent over plaintext gRPC; enable use_tls outside local development",
			zap.String("host", config.Host))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		APIKey: config.APIKey,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	store := &QdrantStore{
		client:   client,
		embedder: embedder,
		config:   config,
		logger:   logger,
	}

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := store.healthCheck(initCtx); err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := store.ensureCollection(initCtx); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info("QdrantStore initialized",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.Bool("tls", config.UseTLS),
		zap.String("collection", config.Collection),
		zap.Int("dimension", config.Dimension),
	)
	return store, nil
}

func (s *QdrantStore) healthCheck(ctx context.Context) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.HealthCheck")
	defer span.End()

	if _, err := s.client.HealthCheck(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}
	return nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.EnsureCollection")
	defer span.End()

	var exists bool
	err := s.retry(ctx, "collection_exists", func() error {
		var err error
		exists, err = s.client.CollectionExists(ctx, s.config.Collection)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: checking collection %s: %v", ErrProvider, s.config.Collection, err)
	}

	if !exists {
		err = s.retry(ctx, "create_collection", func() error {
			return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
				CollectionName: s.config.Collection,
				VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
					Size:     uint64(s.config.Dimension),
					Distance: s.config.Distance,
				}),
			})
		})
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("%w: creating collection %s: %v", ErrProvider, s.config.Collection, err)
		}
		s.logger.Info("created qdrant collection", zap.String("collection", s.config.Collection))
	}

	if s.config.RequiredFilter != "" {
		// Creating an index that already exists is accepted by Qdrant.
		err = s.retry(ctx, "create_index", func() error {
			_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
				CollectionName: s.config.Collection,
				FieldName:      s.config.RequiredFilter,
				FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
			})
			return err
		})
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("%w: indexing %s: %v", ErrProvider, s.config.RequiredFilter, err)
		}
	}
	return nil
}

// retry runs op with exponential backoff on transient gRPC errors.
func (s *QdrantStore) retry(ctx context.Context, operation string, op func() error) error {
	backoff := s.config.RetryBackoff
	for attempt := 0; ; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if !IsTransientError(err) {
			return err
		}
		if attempt == s.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", operation, s.config.MaxRetries, err)
		}
		RetriesTotal.WithLabelValues(providerQdrant, operation).Inc()
		s.logger.Debug("retrying qdrant call",
			zap.String("operation", operation),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", operation, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

// Dimension returns the configured embedding length.
func (s *QdrantStore) Dimension() int {
	return s.config.Dimension
}

// Upsert embeds docs and writes them as points keyed by PointID(doc.ID).
func (s *QdrantStore) Upsert(ctx context.Context, docs []Document) (n int, err error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Upsert")
	defer span.End()
	defer func(start time.Time) { observe(providerQdrant, "upsert", start, err) }(time.Now())

	span.SetAttributes(
		attribute.Int("document_count", len(docs)),
		attribute.String("collection", s.config.Collection),
	)

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

	points := make([]*qdrant.PointStruct, len(docs))
	for i, doc := range docs {
		if err := checkDimension(embeddings[i], s.config.Dimension); err != nil {
			return 0, err
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(doc.ID)),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: toPayload(doc),
		}
	}

	err = s.retry(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.config.Collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("%w: upserting points to %s: %v", ErrProvider, s.config.Collection, err)
	}

	RecordsWritten.WithLabelValues(providerQdrant).Add(float64(len(points)))
	span.SetStatus(codes.Ok, "success")
	return len(points), nil
}

// Search embeds query and runs a filtered similarity query.
func (s *QdrantStore) Search(ctx context.Context, query string, k int, filters map[string]string) ([]SearchResult, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Search")
	defer span.End()

	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	if err := requireFilter(s.config.RequiredFilter, filters); err != nil {
		observe(providerQdrant, "search", time.Now(), err)
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
func (s *QdrantStore) QueryVector(ctx context.Context, vector []float32, k int, filters map[string]string) ([]SearchResult, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.QueryVector")
	defer span.End()

	if err := requireFilter(s.config.RequiredFilter, filters); err != nil {
		observe(providerQdrant, "query_vector", time.Now(), err)
		return nil, err
	}
	return s.query(ctx, "query_vector", vector, k, filters)
}

func (s *QdrantStore) query(ctx context.Context, op string, vector []float32, k int, filters map[string]string) (results []SearchResult, err error) {
	defer func(start time.Time) { observe(providerQdrant, op, start, err) }(time.Now())

	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if err := checkDimension(vector, s.config.Dimension); err != nil {
		return nil, err
	}

	var points []*qdrant.ScoredPoint
	err = s.retry(ctx, op, func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.config.Collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(k)),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter:         toFilter(filters),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: querying %s: %v", ErrProvider, s.config.Collection, err)
	}

	results = make([]SearchResult, 0, len(points))
	for _, p := range points {
		r := fromPayload(p.GetPayload())
		r.Score = p.GetScore()
		results = append(results, r)
	}
	return results, nil
}

// ListIDs scrolls record IDs matching filters. The cursor is the point UUID
// Qdrant returns as the next page offset.
func (s *QdrantStore) ListIDs(ctx context.Context, filters map[string]string, cursor string, limit int) (ids []string, next string, err error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.ListIDs")
	defer span.End()
	defer func(start time.Time) { observe(providerQdrant, "list", start, err) }(time.Now())

	if err := requireFilter(s.config.RequiredFilter, filters); err != nil {
		return nil, "", err
	}
	if limit <= 0 {
		return nil, "", fmt.Errorf("limit must be positive, got %d", limit)
	}

	var offset *qdrant.PointId
	if cursor != "" {
		offset = qdrant.NewIDUUID(cursor)
	}

	var (
		points     []*qdrant.RetrievedPoint
		nextOffset *qdrant.PointId
	)
	err = s.retry(ctx, "scroll", func() error {
		var err error
		points, nextOffset, err = s.client.ScrollAndOffset(ctx, &qdrant.ScrollPoints{
			CollectionName: s.config.Collection,
			Filter:         toFilter(filters),
			Offset:         offset,
			Limit:          qdrant.PtrOf(uint32(limit)),
			WithPayload:    qdrant.NewWithPayloadInclude(payloadRecordID),
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, "", fmt.Errorf("%w: scrolling %s: %v", ErrProvider, s.config.Collection, err)
	}

	ids = make([]string, 0, len(points))
	for _, p := range points {
		if id := p.GetPayload()[payloadRecordID].GetStringValue(); id != "" {
			ids = append(ids, id)
		}
	}
	if nextOffset != nil {
		next = nextOffset.GetUuid()
	}
	span.SetAttributes(attribute.Int("ids", len(ids)), attribute.Bool("has_next", next != ""))
	return ids, next, nil
}

// DeleteByID removes one record. Qdrant treats missing points as deleted.
func (s *QdrantStore) DeleteByID(ctx context.Context, id string) (err error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.DeleteByID")
	defer span.End()
	defer func(start time.Time) { observe(providerQdrant, "delete", start, err) }(time.Now())

	if id == "" {
		return fmt.Errorf("id cannot be empty")
	}
	if err := s.deletePoints(ctx, []string{id}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// DeleteByIDs removes the listed records in one request.
func (s *QdrantStore) DeleteByIDs(ctx context.Context, ids []string) (err error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.DeleteByIDs")
	defer span.End()
	defer func(start time.Time) { observe(providerQdrant, "delete_batch", start, err) }(time.Now())

	span.SetAttributes(attribute.Int("id_count", len(ids)))
	if len(ids) == 0 {
		return nil
	}
	if err := s.deletePoints(ctx, ids); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (s *QdrantStore) deletePoints(ctx context.Context, ids []string) error {
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(PointID(id))
	}
	err := s.retry(ctx, "delete", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.config.Collection,
			Wait:           qdrant.PtrOf(true),
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Points{
					Points: &qdrant.PointsIdsList{Ids: pointIDs},
				},
			},
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: deleting %d points: %v", ErrProvider, len(ids), err)
	}
	return nil
}

// Stats reports the point count of the collection.
func (s *QdrantStore) Stats(ctx context.Context) (*Stats, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Stats")
	defer span.End()

	var info *qdrant.CollectionInfo
	err := s.retry(ctx, "collection_info", func() error {
		var err error
		info, err = s.client.GetCollectionInfo(ctx, s.config.Collection)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: collection info for %s: %v", ErrProvider, s.config.Collection, err)
	}

	return &Stats{
		Provider:   providerQdrant,
		Collection: s.config.Collection,
		Documents:  int(info.GetPointsCount()),
		Dimension:  s.config.Dimension,
	}, nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func toPayload(doc Document) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(doc.Metadata)+2)
	for k, v := range doc.Metadata {
		switch val := v.(type) {
		case string:
			payload[k] = qdrant.NewValueString(val)
		case int:
			payload[k] = qdrant.NewValueInt(int64(val))
		case int64:
			payload[k] = qdrant.NewValueInt(val)
		case float64:
			payload[k] = qdrant.NewValueDouble(val)
		case bool:
			payload[k] = qdrant.NewValueBool(val)
		case nil:
		default:
			payload[k] = qdrant.NewValueString(stringify(val))
		}
	}
	payload[payloadRecordID] = qdrant.NewValueString(doc.ID)
	payload[payloadContent] = qdrant.NewValueString(doc.Content)
	return payload
}

func fromPayload(payload map[string]*qdrant.Value) SearchResult {
	r := SearchResult{Metadata: make(map[string]interface{}, len(payload))}
	for k, v := range payload {
		switch k {
		case payloadRecordID:
			r.ID = v.GetStringValue()
			continue
		case payloadContent:
			r.Content = v.GetStringValue()
			continue
		}
		switch val := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			r.Metadata[k] = val.StringValue
		case *qdrant.Value_IntegerValue:
			r.Metadata[k] = val.IntegerValue
		case *qdrant.Value_DoubleValue:
			r.Metadata[k] = val.DoubleValue
		case *qdrant.Value_BoolValue:
			r.Metadata[k] = val.BoolValue
		}
	}
	return r
}

// toFilter builds a keyword match per filter entry, all required.
func toFilter(filters map[string]string) *qdrant.Filter {
	if len(filters) == 0 {
		return nil
	}
	conditions := make([]*qdrant.Condition, 0, len(filters))
	for key, value := range filters {
		conditions = append(conditions, qdrant.NewMatchKeyword(key, value))
	}
	return &qdrant.Filter{Must: conditions}
}
