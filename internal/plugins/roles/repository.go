package roles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mossfield/farmstead/internal/apperror"
)

// RoleRepository defines the data access contract for role operations.
// All SQL lives in the concrete implementation -- no SQL leaks out.
type RoleRepository interface {
	// ResolveForUser returns the role assigned to a user, or (nil, nil)
	// when the user exists but has no role. Returns apperror.NotFound when
	// the user does not exist.
	ResolveForUser(ctx context.Context, userID int64) (*Role, error)

	// FindByID returns a role by its ID.
	FindByID(ctx context.Context, id int64) (*Role, error)

	// All returns every role ordered by ID.
	All(ctx context.Context) ([]Role, error)

	// UpdateUserRole sets a user's role_id. This is the sole code path that
	// may alter role assignment.
	UpdateUserRole(ctx context.Context, userID, roleID int64) error
}

// roleRepository implements RoleRepository with hand-written MariaDB queries.
type roleRepository struct {
	db *sql.DB
}

// NewRoleRepository creates a new role repository backed by the given DB pool.
func NewRoleRepository(db *sql.DB) RoleRepository {
	return &roleRepository{db: db}
}

// ResolveForUser resolves a user's role with a single join lookup. A user
// with role_id NULL is a valid state and yields (nil, nil).
func (r *roleRepository) ResolveForUser(ctx context.Context, userID int64) (*Role, error) {
	query := `SELECT r.id, r.name, r.description
	          FROM users u
	          LEFT JOIN roles r ON r.id = u.role_id
	          WHERE u.id = ?`

	var id sql.NullInt64
	var name, description sql.NullString
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&id, &name, &description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("resolving role for user: %w", err)
	}

	if !id.Valid {
		return nil, nil
	}

	return &Role{
		ID:          id.Int64,
		Name:        name.String,
		Description: description.String,
	}, nil
}

// FindByID retrieves a role by its ID.
// Returns apperror.NotFound if no role exists with this ID.
func (r *roleRepository) FindByID(ctx context.Context, id int64) (*Role, error) {
	query := `SELECT id, name, description FROM roles WHERE id = ?`

	role := &Role{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&role.ID, &role.Name, &role.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("role not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying role by id: %w", err)
	}

	return role, nil
}

// All returns the full role enumeration ordered by ID, for admin role pickers.
func (r *roleRepository) All(ctx context.Context) ([]Role, error) {
	query := `SELECT id, name, description FROM roles ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing roles: %w", err)
	}
	defer rows.Close()

	var list []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description); err != nil {
			return nil, fmt.Errorf("scanning role row: %w", err)
		}
		list = append(list, role)
	}

	return list, rows.Err()
}

// UpdateUserRole sets the role_id for a user.
func (r *roleRepository) UpdateUserRole(ctx context.Context, userID, roleID int64) error {
	query := `UPDATE users SET role_id = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, roleID, userID)
	if err != nil {
		return fmt.Errorf("updating user role: %w", err)
	}

	n, _ := result.RowsAffected()
	if n == 0 {
		return apperror.NewNotFound("user not found")
	}

	return nil
}
