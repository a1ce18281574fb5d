// Package ragstore is the user-scoped entry point for ingesting, searching
// and deleting coaching feedback.
//
// A Service owns the lazily opened store handle. Initialize returns a
// Session bound to one user; Sessions are immutable and may be shared
// across goroutines. Every Service method also has an explicit-user form,
// so callers never depend on hidden per-instance user state.
package ragstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/coachrag/internal/chunker"
	"github.com/fyrsmithlabs/coachrag/internal/deletion"
	"github.com/fyrsmithlabs/coachrag/internal/logging"
	"github.com/fyrsmithlabs/coachrag/internal/records"
	"github.com/fyrsmithlabs/coachrag/internal/retrieval"
	"github.com/fyrsmithlabs/coachrag/internal/vectorstore"
)

var (
	// ErrNotInitialized is returned before the store has been opened.
	ErrNotInitialized = errors.New("service not initialized")

	// ErrIntegrity indicates the store wrote a different number of records
	// than were submitted.
	ErrIntegrity = errors.New("data integrity check failed")

	// ErrUserMismatch indicates a request for a user other than the session's.
	ErrUserMismatch = errors.New("user does not match session")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("service closed")
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/coachrag/internal/ragstore")

// Opener obtains the store handle. It is called until it succeeds once.
type Opener func(ctx context.Context) (vectorstore.Store, error)

// Config collects the per-component settings.
type Config struct {
	Chunker   chunker.Config
	Retrieval retrieval.Config
	Deletion  deletion.Config
	// Keys issues document keys. Nil uses records.MonotonicKeys.
	Keys records.KeySource
}

// Service ingests, searches and deletes user records.
type Service struct {
	cfg      Config
	open     Opener
	logger   *logging.Logger
	splitter *chunker.Splitter
	enricher *records.Enricher

	mu        sync.Mutex
	store     vectorstore.Store
	retriever *retrieval.Service
	deleter   *deletion.Service
	closed    bool
}

// New creates a Service. The store is not opened until Initialize.
func New(cfg Config, open Opener, logger *logging.Logger) (*Service, error) {
	if open == nil {
		return nil, fmt.Errorf("%w: store opener is required", vectorstore.ErrInvalidConfig)
	}
	splitter, err := chunker.New(cfg.Chunker)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Service{
		cfg:      cfg,
		open:     open,
		logger:   logger.Named("ragstore"),
		splitter: splitter,
		enricher: records.NewEnricher(cfg.Keys),
	}, nil
}

// Initialize opens the store if needed and returns a Session for userID.
// Concurrent callers share one open; a failed open is retried by the next call.
func (s *Service) Initialize(ctx context.Context, userID string) (*Session, error) {
	if err := records.ValidateUserID(userID); err != nil {
		return nil, err
	}
	if err := s.ensureOpen(ctx); err != nil {
		return nil, err
	}
	return &Session{svc: s, userID: userID}, nil
}

// Open opens the store without binding a user. Administrative callers such
// as Stats need it; per-user work goes through Initialize.
func (s *Service) Open(ctx context.Context) error {
	return s.ensureOpen(ctx)
}

func (s *Service) ensureOpen(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.store != nil {
		return nil
	}

	store, err := s.open(ctx)
	if err != nil {
		s.logger.Error(ctx, "failed to open vector store", zap.Error(err))
		return fmt.Errorf("opening vector store: %w", err)
	}

	s.store = store
	s.retriever = retrieval.New(store, s.cfg.Retrieval, s.logger)
	s.deleter = deletion.New(store, s.cfg.Deletion, s.logger)
	s.logger.Info(ctx, "vector store opened")
	return nil
}

type handles struct {
	store     vectorstore.Store
	retriever *retrieval.Service
	deleter   *deletion.Service
}

func (s *Service) handles() (handles, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return handles{}, ErrClosed
	}
	if s.store == nil {
		return handles{}, ErrNotInitialized
	}
	return handles{store: s.store, retriever: s.retriever, deleter: s.deleter}, nil
}

// IngestDocument chunks text, stores one record per chunk for meta.UserID
// and returns the number of chunks stored. Empty text stores nothing.
func (s *Service) IngestDocument(ctx context.Context, text string, meta records.DocumentMetadata) (int, error) {
	h, err := s.handles()
	if err != nil {
		return 0, err
	}
	if err := records.ValidateUserID(meta.UserID); err != nil {
		return 0, err
	}

	ctx = logging.WithUserID(ctx, meta.UserID)
	ctx = logging.WithOperation(ctx, "ingest_document")
	ctx, span := tracer.Start(ctx, "ragstore.IngestDocument")
	defer span.End()

	chunks := s.splitter.Split(text)
	docs, err := s.enricher.Enrich(chunks, meta)
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		s.logger.Debug(ctx, "document produced no chunks")
		return 0, nil
	}
	span.SetAttributes(attribute.Int("chunks", len(docs)))

	written, err := h.store.Upsert(ctx, docs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upsert failed")
		s.logger.Error(ctx, "failed to store document", zap.Int("chunks", len(docs)), zap.Error(err))
		return 0, fmt.Errorf("storing document: %w", err)
	}
	if written != len(docs) {
		err := fmt.Errorf("%w: stored %d of %d chunks", ErrIntegrity, written, len(docs))
		span.RecordError(err)
		span.SetStatus(codes.Error, "integrity")
		s.logger.Error(ctx, "upsert count mismatch",
			zap.Int("chunks", len(docs)),
			zap.Int("written", written),
		)
		return written, err
	}

	s.logger.Info(ctx, "document ingested",
		zap.String("document_id", docs[0].Metadata[records.KeyDocumentID].(string)),
		zap.Int("chunks", len(docs)),
		zap.Int("chars", len([]rune(text))),
	)
	return len(docs), nil
}

// SimilaritySearch returns userID's records most similar to query.
func (s *Service) SimilaritySearch(ctx context.Context, userID, query string) ([]retrieval.Result, error) {
	h, err := s.handles()
	if err != nil {
		return nil, err
	}
	return h.retriever.Search(ctx, userID, query)
}

// DeleteUserDocuments removes every record of userID.
func (s *Service) DeleteUserDocuments(ctx context.Context, userID string) (deletion.Report, error) {
	h, err := s.handles()
	if err != nil {
		return deletion.Report{}, err
	}
	return h.deleter.DeleteAll(ctx, userID)
}

// Stats describes the underlying index.
func (s *Service) Stats(ctx context.Context) (*vectorstore.Stats, error) {
	h, err := s.handles()
	if err != nil {
		return nil, err
	}
	return h.store.Stats(ctx)
}

// Close closes the store. Later calls return ErrClosed.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}
