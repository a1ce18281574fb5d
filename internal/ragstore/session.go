package ragstore

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/coachrag/internal/records"
	"github.com/fyrsmithlabs/coachrag/internal/retrieval"
)

// Session is a Service bound to one user.
type Session struct {
	svc    *Service
	userID string
}

// UserID returns the session's user.
func (s *Session) UserID() string {
	return s.userID
}

// IngestDocument stores text for the session user. meta.UserID defaults to
// the session user and must match it when set.
func (s *Session) IngestDocument(ctx context.Context, text string, meta records.DocumentMetadata) (int, error) {
	if err := s.check(meta.UserID); err != nil {
		return 0, err
	}
	meta.UserID = s.userID
	return s.svc.IngestDocument(ctx, text, meta)
}

// SimilaritySearch searches the session user's records.
func (s *Session) SimilaritySearch(ctx context.Context, query string) ([]retrieval.Result, error) {
	return s.svc.SimilaritySearch(ctx, s.userID, query)
}

// DeleteUserDocuments deletes the session user's records and reports whether
// the run completed. An empty userID means the session user.
func (s *Session) DeleteUserDocuments(ctx context.Context, userID string) (bool, error) {
	if err := s.check(userID); err != nil {
		return false, err
	}
	report, err := s.svc.DeleteUserDocuments(ctx, s.userID)
	if err != nil {
		return false, err
	}
	return report.Success, nil
}

func (s *Session) check(userID string) error {
	if userID != "" && userID != s.userID {
		return fmt.Errorf("%w: session %q, request %q", ErrUserMismatch, s.userID, userID)
	}
	return nil
}
