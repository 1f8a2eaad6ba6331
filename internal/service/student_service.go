package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/campus-core/enrollment-api/internal/models"
	appErrors "github.com/campus-core/enrollment-api/pkg/errors"
)

type studentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	Upsert(ctx context.Context, student *models.Student) error
}

// StudentSyncRequest carries one record from the identity directory feed.
type StudentSyncRequest struct {
	Name       string `json:"name" validate:"required"`
	UserNumber string `json:"user_number"`
}

// StudentService applies directory sync records over the local student
// table, overwriting the placeholder rows created on first enrollment.
type StudentService struct {
	repo      studentRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewStudentService constructs StudentService.
func NewStudentService(repo studentRepository, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{repo: repo, validator: validate, logger: logger}
}

// Get returns one directory entry.
func (s *StudentService) Get(ctx context.Context, id string) (*models.Student, error) {
	if id == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student id required")
	}
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

// ApplySync upserts a directory record for the student.
func (s *StudentService) ApplySync(ctx context.Context, id string, req StudentSyncRequest) (*models.Student, error) {
	if id == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student id required")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student sync payload")
	}
	student := &models.Student{ID: id, Name: req.Name, UserNumber: req.UserNumber}
	if err := s.repo.Upsert(ctx, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to apply student sync")
	}
	s.logger.Info("student directory record applied", zap.String("student_id", id))
	return s.Get(ctx, id)
}
