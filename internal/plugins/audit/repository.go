package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SecurityEventRepository defines the data access contract for the security
// event log. All SQL lives in the concrete implementation -- no SQL leaks out.
type SecurityEventRepository interface {
	// Log inserts a new security event.
	Log(ctx context.Context, event *SecurityEvent) error

	// List returns paginated events, most recent first, optionally filtered
	// by category. Joins the users table for usernames. Returns the events,
	// total count (for pagination), and any error.
	List(ctx context.Context, category string, limit, offset int) ([]SecurityEvent, int, error)

	// GetStats returns aggregate statistics for the dashboard.
	GetStats(ctx context.Context) (*SecurityStats, error)
}

// securityEventRepository implements SecurityEventRepository with MariaDB queries.
type securityEventRepository struct {
	db *sql.DB
}

// NewSecurityEventRepository creates a new repository backed by the given DB pool.
func NewSecurityEventRepository(db *sql.DB) SecurityEventRepository {
	return &securityEventRepository{db: db}
}

// Log inserts a new security event. A nil UserID is stored as SQL NULL.
func (r *securityEventRepository) Log(ctx context.Context, event *SecurityEvent) error {
	query := `INSERT INTO security_events (category, user_id, message, ip_address, created_at)
	          VALUES (?, ?, ?, ?, ?)`

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	result, err := r.db.ExecContext(ctx, query,
		event.Category, event.UserID, event.Message, event.IPAddress, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting security event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting security event id: %w", err)
	}
	event.ID = id

	return nil
}

// List returns security events ordered by most recent first. An empty
// category returns all events.
func (r *securityEventRepository) List(ctx context.Context, category string, limit, offset int) ([]SecurityEvent, int, error) {
	countQuery := `SELECT COUNT(*) FROM security_events`
	listQuery := `SELECT e.id, e.category, e.user_id, e.message, e.ip_address, e.created_at,
	                     COALESCE(u.username, '') AS username
	              FROM security_events e
	              LEFT JOIN users u ON u.id = e.user_id`

	var args []any
	if category != "" {
		countQuery += ` WHERE category = ?`
		listQuery += ` WHERE e.category = ?`
		args = append(args, category)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting security events: %w", err)
	}

	listQuery += ` ORDER BY e.created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing security events: %w", err)
	}
	defer rows.Close()

	var events []SecurityEvent
	for rows.Next() {
		var e SecurityEvent
		if err := rows.Scan(&e.ID, &e.Category, &e.UserID, &e.Message, &e.IPAddress, &e.CreatedAt, &e.Username); err != nil {
			return nil, 0, fmt.Errorf("scanning security event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating security events: %w", err)
	}

	return events, total, nil
}

// GetStats computes aggregate statistics across the security_events table.
func (r *securityEventRepository) GetStats(ctx context.Context) (*SecurityStats, error) {
	stats := &SecurityStats{}

	query := `SELECT
	            COUNT(*),
	            COUNT(CASE WHEN category = ? AND created_at >= DATE_SUB(NOW(), INTERVAL 1 DAY) THEN 1 END),
	            COUNT(CASE WHEN category = ? AND created_at >= DATE_SUB(NOW(), INTERVAL 1 DAY) THEN 1 END),
	            COUNT(CASE WHEN category = ? AND created_at >= DATE_SUB(NOW(), INTERVAL 1 DAY) THEN 1 END),
	            COUNT(DISTINCT CASE WHEN created_at >= DATE_SUB(NOW(), INTERVAL 1 DAY) THEN ip_address END)
	          FROM security_events`

	err := r.db.QueryRowContext(ctx, query,
		CategoryLoginFailed, CategoryLoginSuccess, CategoryPasswordResetCompleted,
	).Scan(
		&stats.TotalEvents,
		&stats.FailedLogins24h,
		&stats.SuccessfulLogins24h,
		&stats.PasswordResets24h,
		&stats.UniqueIPs24h,
	)
	if err != nil {
		return nil, fmt.Errorf("querying security stats: %w", err)
	}

	return stats, nil
}
