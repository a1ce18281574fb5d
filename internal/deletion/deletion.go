// Package deletion removes every record belonging to a user.
//
// A run has three phases. ENUMERATE discovers the user's record IDs with a
// cursor listing when the store supports one, otherwise with a filtered
// query against a neutral vector. DELETE-EACH removes them in batches or one
// at a time through a bounded worker pool. REPORT returns per-ID accounting.
// Individual delete failures never abort a run.
package deletion

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/coachrag/internal/logging"
	"github.com/fyrsmithlabs/coachrag/internal/records"
	"github.com/fyrsmithlabs/coachrag/internal/vectorstore"
)

const (
	DefaultEnumerationLimit = 10000
	DefaultPageSize         = 256
	DefaultWorkers          = 1
	DefaultBatchSize        = 100
)

var (
	// ErrEnumerationUnsupported indicates a store that can neither list IDs
	// nor answer raw vector queries.
	ErrEnumerationUnsupported = errors.New("store cannot enumerate records")

	// ErrPaginationStalled indicates a listing that returned a cursor it had
	// already returned.
	ErrPaginationStalled = errors.New("pagination did not advance")
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/coachrag/internal/deletion")

// Strategy names how records were enumerated.
type Strategy string

const (
	StrategyCursor      Strategy = "cursor"
	StrategyVectorQuery Strategy = "vector_query"
)

// Config controls enumeration and delete concurrency.
type Config struct {
	// EnumerationLimit is the topK of the neutral-vector query.
	EnumerationLimit int
	// PageSize is the page length for cursor listing.
	PageSize int
	// Workers is the number of concurrent per-ID deletes.
	Workers int
	// BatchSize is the number of IDs per bulk delete.
	BatchSize int
	// RatePerSecond caps delete calls. Zero disables the limiter.
	RatePerSecond float64
}

func (c *Config) applyDefaults() {
	if c.EnumerationLimit <= 0 {
		c.EnumerationLimit = DefaultEnumerationLimit
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
}

// Report is the outcome of DeleteAll.
type Report struct {
	// Success is true when every record of the user was found and attempted.
	Success bool
	Deleted int
	Total   int
	// Failed lists IDs whose delete failed or was never attempted.
	Failed []string
	// Truncated means an enumeration round hit EnumerationLimit without
	// deleting anything, so records may remain. Success is false then.
	Truncated bool
	Strategy  Strategy
}

// Service deletes a user's records from a store.
type Service struct {
	store   vectorstore.Store
	cfg     Config
	limiter *rate.Limiter
	logger  *logging.Logger
}

// New creates a deletion Service.
func New(store vectorstore.Store, cfg Config, logger *logging.Logger) *Service {
	cfg.applyDefaults()
	if logger == nil {
		logger = logging.NewNop()
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSecond > 0 {
		burst := int(cfg.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	return &Service{store: store, cfg: cfg, limiter: limiter, logger: logger.Named("deletion")}
}

// DeleteAll removes every record of userID. It returns an error only when
// the user's records cannot be enumerated or ctx ends before all deletes
// were attempted; per-record failures are reported in Report.Failed.
// A capped vector-query enumeration is repeated until a round comes back
// under EnumerationLimit or deletes nothing. Failed IDs are never retried.
func (s *Service) DeleteAll(ctx context.Context, userID string) (Report, error) {
	if err := records.ValidateUserID(userID); err != nil {
		return Report{}, err
	}

	ctx = logging.WithUserID(ctx, userID)
	ctx = logging.WithOperation(ctx, "delete_user_documents")
	ctx, span := tracer.Start(ctx, "deletion.DeleteAll")
	defer span.End()

	var (
		report    Report
		attempted = map[string]struct{}{}
		rounds    int
	)
	for {
		enum, err := s.enumerate(ctx, userID)
		report.Strategy = enum.strategy
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "enumeration failed")
			s.logger.Error(ctx, "enumerating records failed", zap.Error(err), zap.Int("round", rounds))
			RunsTotal.WithLabelValues(string(enum.strategy), "error").Inc()
			return report, err
		}
		rounds++

		fresh := make([]string, 0, len(enum.ids))
		for _, id := range enum.ids {
			if _, done := attempted[id]; !done {
				attempted[id] = struct{}{}
				fresh = append(fresh, id)
			}
		}
		if len(fresh) == 0 {
			report.Truncated = enum.truncated
			break
		}

		report.Total += len(fresh)
		deleted, failed := s.deleteIDs(ctx, fresh)
		report.Deleted += deleted
		report.Failed = append(report.Failed, failed...)

		if ctx.Err() != nil || !enum.truncated {
			break
		}
		// A capped round that removed nothing cannot uncover the rest.
		if deleted == 0 {
			report.Truncated = true
			break
		}
		s.logger.Debug(ctx, "enumeration reached limit; enumerating again",
			zap.Int("round", rounds),
			zap.Int("deleted", deleted),
		)
	}
	sort.Strings(report.Failed)

	span.SetAttributes(
		attribute.String("strategy", string(report.Strategy)),
		attribute.Int("records", report.Total),
		attribute.Int("rounds", rounds),
	)
	RecordsTotal.WithLabelValues("deleted").Add(float64(report.Deleted))
	RecordsTotal.WithLabelValues("failed").Add(float64(len(report.Failed)))

	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "interrupted")
		RunsTotal.WithLabelValues(string(report.Strategy), "interrupted").Inc()
		s.logger.Warn(ctx, "deletion interrupted",
			zap.Int("deleted", report.Deleted),
			zap.Int("total", report.Total),
		)
		return report, fmt.Errorf("deleting records: %w", err)
	}

	if report.Truncated {
		TruncatedTotal.Inc()
		RunsTotal.WithLabelValues(string(report.Strategy), "truncated").Inc()
		s.logger.Warn(ctx, "enumeration reached limit; records may remain",
			zap.Int("limit", s.cfg.EnumerationLimit),
			zap.Int("deleted", report.Deleted),
			zap.Int("failed", len(report.Failed)),
		)
		return report, nil
	}

	report.Success = true
	RunsTotal.WithLabelValues(string(report.Strategy), "success").Inc()
	if report.Total == 0 {
		s.logger.Info(ctx, "no records to delete")
		return report, nil
	}
	s.logger.Info(ctx, "deleted user records",
		zap.Int("deleted", report.Deleted),
		zap.Int("failed", len(report.Failed)),
		zap.Int("total", report.Total),
		zap.Int("rounds", rounds),
	)
	return report, nil
}

// deleteIDs removes ids and returns the number deleted and the IDs that
// were not. IDs skipped after ctx ends count as failed.
func (s *Service) deleteIDs(ctx context.Context, ids []string) (int, []string) {
	acc := &accounting{}

	if bd, ok := s.store.(vectorstore.BatchDeleter); ok {
		var fallback []string
		for start := 0; start < len(ids); start += s.cfg.BatchSize {
			end := min(start+s.cfg.BatchSize, len(ids))
			batch := ids[start:end]

			if err := s.limiter.Wait(ctx); err != nil {
				acc.fail(batch...)
				continue
			}
			if err := bd.DeleteByIDs(ctx, batch); err != nil {
				s.logger.Warn(ctx, "batch delete failed, retrying records individually",
					zap.Int("batch_size", len(batch)),
					zap.Error(err),
				)
				fallback = append(fallback, batch...)
				continue
			}
			s.logger.Trace(ctx, "deleted record batch", zap.Int("batch_size", len(batch)))
			acc.ok(len(batch))
		}
		s.deleteEach(ctx, fallback, acc)
	} else {
		s.deleteEach(ctx, ids, acc)
	}

	return acc.deleted, acc.failed
}

// deleteEach issues DeleteByID through a pool of Workers goroutines.
func (s *Service) deleteEach(ctx context.Context, ids []string, acc *accounting) {
	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)

	for _, id := range ids {
		if ctx.Err() != nil {
			acc.fail(id)
			continue
		}
		g.Go(func() error {
			if err := s.limiter.Wait(ctx); err != nil {
				acc.fail(id)
				return nil
			}
			if err := s.store.DeleteByID(ctx, id); err != nil {
				s.logger.Error(ctx, "failed to delete record",
					zap.String("record_id", id),
					zap.Error(err),
				)
				acc.fail(id)
				return nil
			}
			s.logger.Trace(ctx, "deleted record", zap.String("record_id", id))
			acc.ok(1)
			return nil
		})
	}
	_ = g.Wait()
}

type accounting struct {
	mu      sync.Mutex
	deleted int
	failed  []string
}

func (a *accounting) ok(n int) {
	a.mu.Lock()
	a.deleted += n
	a.mu.Unlock()
}

func (a *accounting) fail(ids ...string) {
	a.mu.Lock()
	a.failed = append(a.failed, ids...)
	a.mu.Unlock()
}
