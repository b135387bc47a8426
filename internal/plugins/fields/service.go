package fields

import (
	"context"
	"time"

	"github.com/mossfield/farmstead/internal/apperror"
	"github.com/mossfield/farmstead/internal/validate"
)

const maxFieldNameLen = 128

// FieldService defines the field registry business logic.
type FieldService interface {
	ListFields(ctx context.Context) ([]Field, error)
	GetField(ctx context.Context, id int64) (*Field, error)
	CreateField(ctx context.Context, input FieldInput) (*Field, error)
	UpdateField(ctx context.Context, id int64, input FieldInput) (*Field, error)
	DeleteField(ctx context.Context, id int64) error
}

type fieldService struct {
	repo FieldRepository
}

// NewFieldService creates a new field service.
func NewFieldService(repo FieldRepository) FieldService {
	return &fieldService{repo: repo}
}

func (s *fieldService) ListFields(ctx context.Context) ([]Field, error) {
	return s.repo.List(ctx)
}

func (s *fieldService) GetField(ctx context.Context, id int64) (*Field, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *fieldService) CreateField(ctx context.Context, input FieldInput) (*Field, error) {
	field, err := fieldFromInput(input)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, field); err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, field.ID)
}

func (s *fieldService) UpdateField(ctx context.Context, id int64, input FieldInput) (*Field, error) {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		return nil, err
	}

	field, err := fieldFromInput(input)
	if err != nil {
		return nil, err
	}
	field.ID = id

	if err := s.repo.Update(ctx, field); err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, id)
}

func (s *fieldService) DeleteField(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}

func fieldFromInput(input FieldInput) (*Field, error) {
	if msg := validate.FirstError(
		validate.Required("name", input.Name),
		validate.MaxLength("name", input.Name, maxFieldNameLen),
	); msg != "" {
		return nil, apperror.NewValidation(msg)
	}
	if input.AreaHectares < 0 {
		return nil, apperror.NewValidation("area cannot be negative")
	}

	field := &Field{
		Name:         input.Name,
		AreaHectares: input.AreaHectares,
		Crop:         input.Crop,
	}

	if input.SownAt != "" {
		sown, err := time.Parse("2006-01-02", input.SownAt)
		if err != nil {
			return nil, apperror.NewValidation("sown_at must be a date like 2025-04-30")
		}
		field.SownAt = &sown
	}
	return field, nil
}
