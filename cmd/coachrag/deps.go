package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/coachrag/internal/chunker"
	"github.com/fyrsmithlabs/coachrag/internal/config"
	"github.com/fyrsmithlabs/coachrag/internal/deletion"
	"github.com/fyrsmithlabs/coachrag/internal/embeddings"
	"github.com/fyrsmithlabs/coachrag/internal/logging"
	"github.com/fyrsmithlabs/coachrag/internal/ragstore"
	"github.com/fyrsmithlabs/coachrag/internal/records"
	"github.com/fyrsmithlabs/coachrag/internal/retrieval"
	"github.com/fyrsmithlabs/coachrag/internal/telemetry"
	"github.com/fyrsmithlabs/coachrag/internal/vectorstore"
)

// dependencies holds everything a command needs.
type dependencies struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	embedder  embeddings.Provider
	svc       *ragstore.Service
}

// initDependencies wires config, logging, telemetry, the embedder and the
// ragstore service. The vector store itself opens lazily on first use.
func initDependencies(ctx context.Context) (*dependencies, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
	if err != nil {
		return nil, err
	}

	logCfg, err := logging.FromSettings(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	logCfg.Output.OTEL = tel.IsEnabled()
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	embedder, err := embeddings.NewProvider(embeddingsConfig(cfg), logger.Underlying())
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize embeddings: %w", err)
	}

	open := func(ctx context.Context) (vectorstore.Store, error) {
		return vectorstore.NewStore(ctx, storeConfig(cfg, embedder.Dimension()), embedder, logger.Underlying())
	}
	svc, err := ragstore.New(serviceConfig(cfg), open, logger)
	if err != nil {
		_ = embedder.Close()
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	logger.Debug(ctx, "dependencies initialized",
		zap.String("embeddings.provider", cfg.Embeddings.Provider),
		zap.String("vectorstore.provider", cfg.VectorStore.Provider),
		zap.String("collection", cfg.VectorStore.Collection))

	return &dependencies{
		cfg:       cfg,
		logger:    logger,
		telemetry: tel,
		embedder:  embedder,
		svc:       svc,
	}, nil
}

// Close releases resources in reverse order of creation.
func (d *dependencies) Close(ctx context.Context) error {
	var errs []error
	if err := d.svc.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing store: %w", err))
	}
	if err := d.embedder.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing embedder: %w", err))
	}
	if metricsFile != "" {
		if err := prometheus.WriteToTextfile(metricsFile, prometheus.DefaultGatherer); err != nil {
			errs = append(errs, fmt.Errorf("writing metrics file: %w", err))
		}
	}
	if err := d.telemetry.Shutdown(context.WithoutCancel(ctx)); err != nil {
		errs = append(errs, err)
	}
	_ = d.logger.Sync()
	return errors.Join(errs...)
}

func embeddingsConfig(cfg *config.Config) embeddings.ProviderConfig {
	return embeddings.ProviderConfig{
		Provider:  cfg.Embeddings.Provider,
		Model:     cfg.Embeddings.Model,
		APIKey:    cfg.Embeddings.APIKey.Value(),
		BaseURL:   cfg.Embeddings.BaseURL,
		Dimension: cfg.Embeddings.Dimension,
		CacheDir:  cfg.Embeddings.CacheDir,
	}
}

func storeConfig(cfg *config.Config, dimension int) vectorstore.Config {
	q := cfg.VectorStore.Qdrant
	return vectorstore.Config{
		Provider:       cfg.VectorStore.Provider,
		Collection:     cfg.VectorStore.Collection,
		Dimension:      dimension,
		RequiredFilter: records.KeyUserID,
		Chromem: vectorstore.ChromemConfig{
			Path:     cfg.VectorStore.Chromem.Path,
			Compress: cfg.VectorStore.Chromem.Compress,
		},
		Qdrant: vectorstore.QdrantConfig{
			Host:         q.Host,
			Port:         q.Port,
			APIKey:       q.APIKey.Value(),
			UseTLS:       q.UseTLS,
			MaxRetries:   q.MaxRetries,
			RetryBackoff: q.RetryBackoff.Duration(),
		},
	}
}

func serviceConfig(cfg *config.Config) ragstore.Config {
	chunks := chunker.DefaultConfig()
	chunks.ChunkSize = cfg.Ingest.ChunkSize
	chunks.ChunkOverlap = cfg.Ingest.ChunkOverlap

	return ragstore.Config{
		Chunker:   chunks,
		Retrieval: retrieval.Config{TopK: cfg.Retrieval.TopK},
		Deletion: deletion.Config{
			EnumerationLimit: cfg.Deletion.EnumerationLimit,
			PageSize:         cfg.Deletion.PageSize,
			Workers:          cfg.Deletion.Workers,
			BatchSize:        cfg.Deletion.BatchSize,
			RatePerSecond:    cfg.Deletion.RatePerSecond,
		},
	}
}

// withDependencies runs fn with initialized dependencies and closes them after.
// The context carries a fresh request ID and op as the operation name.
func withDependencies(ctx context.Context, op string, fn func(context.Context, *dependencies) error) (err error) {
	ctx = logging.WithOperation(logging.WithRequestID(ctx, uuid.NewString()), op)

	deps, err := initDependencies(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := deps.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, deps)
}
