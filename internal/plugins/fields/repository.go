package fields

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/mossfield/farmstead/internal/apperror"
)

const mysqlErrDuplicateEntry = 1062

// FieldRepository defines the interface for field data access.
type FieldRepository interface {
	Create(ctx context.Context, field *Field) error
	FindByID(ctx context.Context, id int64) (*Field, error)
	List(ctx context.Context) ([]Field, error)
	Update(ctx context.Context, field *Field) error
	Delete(ctx context.Context, id int64) error
}

type fieldRepository struct {
	db *sql.DB
}

// NewFieldRepository creates a new MariaDB-backed field repository.
func NewFieldRepository(db *sql.DB) FieldRepository {
	return &fieldRepository{db: db}
}

func (r *fieldRepository) Create(ctx context.Context, field *Field) error {
	query := `INSERT INTO fields (name, area_hectares, crop, sown_at) VALUES (?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		field.Name, field.AreaHectares, field.Crop, field.SownAt)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlErrDuplicateEntry {
			return apperror.NewConflict("a field with that name already exists")
		}
		return apperror.NewInternal(fmt.Errorf("creating field: %w", err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("reading new field id: %w", err))
	}
	field.ID = id
	return nil
}

func (r *fieldRepository) FindByID(ctx context.Context, id int64) (*Field, error) {
	query := `SELECT id, name, area_hectares, crop, sown_at, created_at, updated_at
		FROM fields WHERE id = ?`

	field, err := scanField(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("field not found")
	}
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("loading field: %w", err))
	}
	return field, nil
}

func (r *fieldRepository) List(ctx context.Context) ([]Field, error) {
	query := `SELECT id, name, area_hectares, crop, sown_at, created_at, updated_at
		FROM fields ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("listing fields: %w", err))
	}
	defer rows.Close()

	var list []Field
	for rows.Next() {
		field, err := scanField(rows)
		if err != nil {
			return nil, apperror.NewInternal(fmt.Errorf("scanning field: %w", err))
		}
		list = append(list, *field)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("reading fields: %w", err))
	}
	return list, nil
}

func (r *fieldRepository) Update(ctx context.Context, field *Field) error {
	query := `UPDATE fields SET name = ?, area_hectares = ?, crop = ?, sown_at = ? WHERE id = ?`

	// RowsAffected is 0 both for a missing row and for a no-op write, so
	// existence is checked by the caller, not here.
	_, err := r.db.ExecContext(ctx, query,
		field.Name, field.AreaHectares, field.Crop, field.SownAt, field.ID)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlErrDuplicateEntry {
			return apperror.NewConflict("a field with that name already exists")
		}
		return apperror.NewInternal(fmt.Errorf("updating field: %w", err))
	}
	return nil
}

func (r *fieldRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM fields WHERE id = ?`, id)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("deleting field: %w", err))
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperror.NewNotFound("field not found")
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanField(row scanner) (*Field, error) {
	var (
		field  Field
		crop   sql.NullString
		sownAt sql.NullTime
	)

	err := row.Scan(&field.ID, &field.Name, &field.AreaHectares, &crop, &sownAt,
		&field.CreatedAt, &field.UpdatedAt)
	if err != nil {
		return nil, err
	}

	field.Crop = crop.String
	if sownAt.Valid {
		field.SownAt = &sownAt.Time
	}
	return &field, nil
}
