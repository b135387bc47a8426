package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mossfield/farmstead/internal/apperror"
)

// perPage is the number of security events shown per page in the event feed.
const perPage = 50

// SecurityLog is the narrow cross-plugin contract for recording events.
// Callers treat Record as fire-and-forget: it never returns an error, so a
// broken audit sink cannot change an authentication outcome.
type SecurityLog interface {
	Record(ctx context.Context, category string, userID *int64, message, sourceAddr string)
}

// AuditService extends SecurityLog with the query side used by the admin
// dashboard.
type AuditService interface {
	SecurityLog

	// ListEvents returns a paginated event feed, optionally filtered by
	// category. Pages are 1-indexed.
	ListEvents(ctx context.Context, category string, page int) ([]SecurityEvent, int, error)

	// GetStats returns aggregate security statistics.
	GetStats(ctx context.Context) (*SecurityStats, error)
}

// auditService implements AuditService.
type auditService struct {
	repo SecurityEventRepository
}

// NewAuditService creates a new audit service with the given repository.
func NewAuditService(repo SecurityEventRepository) AuditService {
	return &auditService{repo: repo}
}

// Record persists a security event. Failures are logged via slog and
// swallowed so they never mask the primary outcome.
func (s *auditService) Record(ctx context.Context, category string, userID *int64, message, sourceAddr string) {
	if category == "" {
		slog.Error("security event dropped: empty category")
		return
	}

	event := &SecurityEvent{
		Category:  category,
		UserID:    userID,
		Message:   message,
		IPAddress: sourceAddr,
	}

	if err := s.repo.Log(ctx, event); err != nil {
		slog.Error("failed to write security event",
			slog.String("category", category),
			slog.String("ip", sourceAddr),
			slog.Any("error", err),
		)
	}
}

// ListEvents returns the paginated event feed. Invalid page numbers are
// clamped to 1.
func (s *auditService) ListEvents(ctx context.Context, category string, page int) ([]SecurityEvent, int, error) {
	if page < 1 {
		page = 1
	}

	offset := (page - 1) * perPage
	events, total, err := s.repo.List(ctx, category, perPage, offset)
	if err != nil {
		return nil, 0, apperror.NewInternal(fmt.Errorf("listing security events: %w", err))
	}

	return events, total, nil
}

// GetStats returns aggregate security statistics for the dashboard.
func (s *auditService) GetStats(ctx context.Context) (*SecurityStats, error) {
	stats, err := s.repo.GetStats(ctx)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("getting security stats: %w", err))
	}

	return stats, nil
}
