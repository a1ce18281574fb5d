package deletion

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/coachrag/internal/records"
	"github.com/fyrsmithlabs/coachrag/internal/vectorstore"
)

// enumeration is the outcome of one ENUMERATE round.
type enumeration struct {
	ids []string
	// truncated means the query hit EnumerationLimit, so more records may match.
	truncated bool
	strategy  Strategy
}

func (s *Service) enumerate(ctx context.Context, userID string) (enumeration, error) {
	if l, ok := s.store.(vectorstore.Lister); ok {
		ids, err := s.listAll(ctx, l, userID)
		return enumeration{ids: ids, strategy: StrategyCursor}, err
	}
	if q, ok := s.store.(vectorstore.VectorQuerier); ok {
		return s.queryAll(ctx, q, userID)
	}
	return enumeration{}, ErrEnumerationUnsupported
}

// listAll pages through the store until it reports no further cursor.
func (s *Service) listAll(ctx context.Context, l vectorstore.Lister, userID string) ([]string, error) {
	filter := map[string]string{records.KeyUserID: userID}
	seenCursor := map[string]struct{}{}
	seenID := map[string]struct{}{}

	var (
		ids    []string
		cursor string
		pages  int
	)
	for {
		page, next, err := l.ListIDs(ctx, filter, cursor, s.cfg.PageSize)
		if err != nil {
			return nil, fmt.Errorf("listing records (page %d): %w", pages, err)
		}
		pages++

		for _, id := range page {
			if !records.BelongsTo(id, userID) {
				s.logger.Error(ctx, "listing returned record outside user prefix", zap.String("record_id", id))
				continue
			}
			if _, dup := seenID[id]; dup {
				continue
			}
			seenID[id] = struct{}{}
			ids = append(ids, id)
		}

		if next == "" {
			break
		}
		if _, repeated := seenCursor[next]; repeated || next == cursor {
			return nil, fmt.Errorf("%w: cursor %q repeated after %d pages", ErrPaginationStalled, next, pages)
		}
		seenCursor[next] = struct{}{}
		cursor = next
	}

	s.logger.Debug(ctx, "listed records", zap.Int("pages", pages), zap.Int("records", len(ids)))
	return ids, nil
}

// queryAll finds records with a filtered query against a uniform unit
// vector, which every record matches with some similarity.
func (s *Service) queryAll(ctx context.Context, q vectorstore.VectorQuerier, userID string) (enumeration, error) {
	out := enumeration{strategy: StrategyVectorQuery}

	dim := q.Dimension()
	if dim <= 0 {
		return out, fmt.Errorf("%w: store reports dimension %d", ErrEnumerationUnsupported, dim)
	}
	neutral := make([]float32, dim)
	v := float32(1 / math.Sqrt(float64(dim)))
	for i := range neutral {
		neutral[i] = v
	}

	matches, err := q.QueryVector(ctx, neutral, s.cfg.EnumerationLimit, map[string]string{records.KeyUserID: userID})
	if err != nil {
		return out, fmt.Errorf("querying records: %w", err)
	}

	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		if owner := m.MetadataString(records.KeyUserID); owner != userID {
			s.logger.Error(ctx, "query returned record of another user",
				zap.String("record_id", m.ID),
				zap.String("record_user", owner),
			)
			continue
		}
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		out.ids = append(out.ids, m.ID)
	}

	out.truncated = len(matches) >= s.cfg.EnumerationLimit
	return out, nil
}
