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

type courseRepository interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	List(ctx context.Context) ([]models.Course, error)
	UpsertSnapshot(ctx context.Context, course *models.Course) error
}

// CourseSnapshotRequest carries one section from the catalog feed.
type CourseSnapshotRequest struct {
	Code              string  `json:"code" validate:"required"`
	Title             string  `json:"title"`
	Capacity          int     `json:"capacity" validate:"required,gt=0"`
	Term              string  `json:"term"`
	AcademicYear      string  `json:"academic_year"`
	Section           string  `json:"section"`
	AssignedFacultyID *string `json:"assigned_faculty_id"`
}

// CourseService maintains the local read model of catalog sections.
type CourseService struct {
	repo      courseRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCourseService constructs CourseService.
func NewCourseService(repo courseRepository, validate *validator.Validate, logger *zap.Logger) *CourseService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CourseService{repo: repo, validator: validate, logger: logger}
}

// Get returns one course section.
func (s *CourseService) Get(ctx context.Context, id string) (*models.Course, error) {
	if id == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "course id required")
	}
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrCourseNotFound, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

// List returns all known sections.
func (s *CourseService) List(ctx context.Context) ([]models.Course, error) {
	courses, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	return courses, nil
}

// ApplySnapshot upserts a catalog section snapshot. Capacity must stay
// positive; the enrollment workflows treat it as fixed.
func (s *CourseService) ApplySnapshot(ctx context.Context, id string, req CourseSnapshotRequest) (*models.Course, error) {
	if id == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "course id required")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course snapshot payload")
	}
	course := &models.Course{
		ID:                id,
		Code:              req.Code,
		Title:             req.Title,
		Capacity:          req.Capacity,
		Term:              req.Term,
		AcademicYear:      req.AcademicYear,
		Section:           req.Section,
		AssignedFacultyID: req.AssignedFacultyID,
	}
	if err := s.repo.UpsertSnapshot(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to apply course snapshot")
	}
	s.logger.Info("course snapshot applied",
		zap.String("course_id", id),
		zap.String("code", course.Code),
		zap.Int("capacity", course.Capacity),
	)
	return s.Get(ctx, id)
}
