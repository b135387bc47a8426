package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/mossfield/farmstead/internal/apperror"
)

// mysqlErrDuplicateEntry is the server error number for a unique-key
// violation, used to detect reset-token collisions.
const mysqlErrDuplicateEntry = 1062

// UserRepository defines the interface for user data access.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	FindByID(ctx context.Context, id int64) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	UpdateLastLogin(ctx context.Context, id int64) error
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error

	// SetResetRequest writes all reset fields in one statement, replacing
	// any outstanding request. ErrDuplicateToken signals a token collision
	// so the caller can retry with a fresh token.
	SetResetRequest(ctx context.Context, id int64, req *PasswordResetRequest) error
	FindByResetToken(ctx context.Context, token string) (*User, error)
	MarkResetVerified(ctx context.Context, id int64) error

	// CompleteReset sets the new password hash and clears the reset
	// request in a single transaction.
	CompleteReset(ctx context.Context, id int64, passwordHash string) error

	UpdateStatus(ctx context.Context, id int64, status string) error
	List(ctx context.Context, offset, limit int) ([]User, error)
	Count(ctx context.Context) (int, error)
	CountAdmins(ctx context.Context) (int, error)
}

// ErrDuplicateToken is returned by SetResetRequest when the generated reset
// token already exists for another user.
var ErrDuplicateToken = errors.New("reset token already in use")

type userRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new MariaDB-backed user repository.
func NewUserRepository(db *sql.DB) UserRepository {
	return &userRepository{db: db}
}

const userColumns = `id, username, email, password_hash, status, role_id,
	reset_token, reset_code, reset_expires_at, reset_verified,
	created_at, last_login_at`

func (r *userRepository) Create(ctx context.Context, user *User) error {
	query := `INSERT INTO users (username, email, password_hash, status, role_id)
		VALUES (?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		user.Username, user.Email, user.PasswordHash, user.Status, user.RoleID)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlErrDuplicateEntry {
			return apperror.NewConflict("username or email already taken")
		}
		return apperror.NewInternal(fmt.Errorf("failed to create user: %w", err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("failed to read new user id: %w", err))
	}
	user.ID = id
	return nil
}

func (r *userRepository) FindByID(ctx context.Context, id int64) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	return r.scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *userRepository) FindByUsername(ctx context.Context, username string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = ?`
	return r.scanUser(r.db.QueryRowContext(ctx, query, username))
}

func (r *userRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = ?`
	return r.scanUser(r.db.QueryRowContext(ctx, query, email))
}

func (r *userRepository) FindByResetToken(ctx context.Context, token string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE reset_token = ?`
	return r.scanUser(r.db.QueryRowContext(ctx, query, token))
}

func (r *userRepository) UpdateLastLogin(ctx context.Context, id int64) error {
	query := `UPDATE users SET last_login_at = NOW() WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return apperror.NewInternal(fmt.Errorf("failed to update last login: %w", err))
	}
	return nil
}

func (r *userRepository) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	query := `UPDATE users SET password_hash = ? WHERE id = ?`
	result, err := r.db.ExecContext(ctx, query, passwordHash, id)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("failed to update password: %w", err))
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperror.NewNotFound("user not found")
	}
	return nil
}

func (r *userRepository) SetResetRequest(ctx context.Context, id int64, req *PasswordResetRequest) error {
	query := `UPDATE users
		SET reset_token = ?, reset_code = ?, reset_expires_at = ?, reset_verified = FALSE
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, req.Token, req.Code, req.ExpiresAt, id)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlErrDuplicateEntry {
			return ErrDuplicateToken
		}
		return apperror.NewInternal(fmt.Errorf("failed to store reset request: %w", err))
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperror.NewNotFound("user not found")
	}
	return nil
}

func (r *userRepository) MarkResetVerified(ctx context.Context, id int64) error {
	query := `UPDATE users SET reset_verified = TRUE WHERE id = ? AND reset_token IS NOT NULL`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("failed to mark reset verified: %w", err))
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperror.NewNotFound("no reset request for user")
	}
	return nil
}

func (r *userRepository) CompleteReset(ctx context.Context, id int64, passwordHash string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE users SET password_hash = ? WHERE id = ?`, passwordHash, id)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("failed to update password: %w", err))
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperror.NewNotFound("user not found")
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE users
		SET reset_token = NULL, reset_code = NULL, reset_expires_at = NULL, reset_verified = FALSE
		WHERE id = ?`, id)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("failed to clear reset request: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return apperror.NewInternal(fmt.Errorf("failed to commit password reset: %w", err))
	}
	return nil
}

func (r *userRepository) UpdateStatus(ctx context.Context, id int64, status string) error {
	query := `UPDATE users SET status = ? WHERE id = ?`
	result, err := r.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("failed to update user status: %w", err))
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperror.NewNotFound("user not found")
	}
	return nil
}

func (r *userRepository) List(ctx context.Context, offset, limit int) ([]User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY username LIMIT ? OFFSET ?`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("failed to list users: %w", err))
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		user, err := r.scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("failed to read users: %w", err))
	}
	return users, nil
}

func (r *userRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	if err != nil {
		return 0, apperror.NewInternal(fmt.Errorf("failed to count users: %w", err))
	}
	return count, nil
}

func (r *userRepository) CountAdmins(ctx context.Context) (int, error) {
	query := `SELECT COUNT(*) FROM users u
		JOIN roles r ON r.id = u.role_id
		WHERE r.name = 'admin' AND u.status = 'active'`

	var count int
	if err := r.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, apperror.NewInternal(fmt.Errorf("failed to count admins: %w", err))
	}
	return count, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func (r *userRepository) scanUser(row scanner) (*User, error) {
	var (
		user          User
		roleID        sql.NullInt64
		resetToken    sql.NullString
		resetCode     sql.NullString
		resetExpires  sql.NullTime
		resetVerified bool
		lastLogin     sql.NullTime
	)

	err := row.Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash,
		&user.Status, &roleID,
		&resetToken, &resetCode, &resetExpires, &resetVerified,
		&user.CreatedAt, &lastLogin,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("user not found")
	}
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("scanning user: %w", err))
	}

	if roleID.Valid {
		user.RoleID = &roleID.Int64
	}
	if lastLogin.Valid {
		user.LastLoginAt = &lastLogin.Time
	}
	if resetToken.Valid {
		user.Reset = &PasswordResetRequest{
			Token:    resetToken.String,
			Verified: resetVerified,
		}
		if resetCode.Valid {
			user.Reset.Code = resetCode.String
		}
		if resetExpires.Valid {
			user.Reset.ExpiresAt = resetExpires.Time
		}
	}
	return &user, nil
}
