// Package retrieval answers per-user similarity queries.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/coachrag/internal/logging"
	"github.com/fyrsmithlabs/coachrag/internal/records"
	"github.com/fyrsmithlabs/coachrag/internal/vectorstore"
)

// DefaultTopK is the number of matches requested from the store.
const DefaultTopK = 30

// ErrEmptyQuery indicates a blank query.
var ErrEmptyQuery = errors.New("query cannot be empty")

var tracer = otel.Tracer("github.com/fyrsmithlabs/coachrag/internal/retrieval")

// Searcher is the store capability retrieval needs.
type Searcher interface {
	Search(ctx context.Context, query string, k int, filters map[string]string) ([]vectorstore.SearchResult, error)
}

// Config controls retrieval.
type Config struct {
	TopK int
}

// Result is one ranked match.
type Result struct {
	ID       string
	Content  string
	Metadata map[string]interface{}
	// Score is rank based: 1 - i/N for the i-th of N results.
	Score float64
	// RawScore is the store's similarity, kept for diagnostics.
	RawScore float32
}

// Service runs user-filtered searches.
type Service struct {
	store  Searcher
	topK   int
	logger *logging.Logger
}

// New creates a retrieval Service.
func New(store Searcher, cfg Config, logger *logging.Logger) *Service {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{store: store, topK: cfg.TopK, logger: logger.Named("retrieval")}
}

// Search returns userID's records most similar to query, best first. No
// matches is an empty slice, not an error.
func (s *Service) Search(ctx context.Context, userID, query string) ([]Result, error) {
	if err := records.ValidateUserID(userID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	ctx = logging.WithUserID(ctx, userID)
	ctx, span := tracer.Start(ctx, "retrieval.Search")
	defer span.End()
	span.SetAttributes(attribute.Int("top_k", s.topK))

	matches, err := s.store.Search(ctx, query, s.topK, map[string]string{records.KeyUserID: userID})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		s.logger.Error(ctx, "similarity search failed", zap.Error(err))
		if !errors.Is(err, vectorstore.ErrProvider) {
			err = fmt.Errorf("%w: %w", vectorstore.ErrProvider, err)
		}
		return nil, fmt.Errorf("searching records: %w", err)
	}

	kept := matches[:0:0]
	for _, m := range matches {
		if owner := m.MetadataString(records.KeyUserID); owner != userID {
			s.logger.Error(ctx, "store returned record of another user",
				zap.String("record_id", m.ID),
				zap.String("record_user", owner),
			)
			continue
		}
		kept = append(kept, m)
	}

	results := make([]Result, len(kept))
	n := float64(len(kept))
	for i, m := range kept {
		results[i] = Result{
			ID:       m.ID,
			Content:  m.Content,
			Metadata: m.Metadata,
			Score:    1 - float64(i)/n,
			RawScore: m.Score,
		}
	}

	span.SetAttributes(attribute.Int("results", len(results)))
	s.logger.Debug(ctx, "similarity search complete",
		zap.Int("matches", len(matches)),
		zap.Int("results", len(results)),
	)
	return results, nil
}
