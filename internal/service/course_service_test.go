package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-core/enrollment-api/internal/models"
	appErrors "github.com/campus-core/enrollment-api/pkg/errors"
)

type mockCourseRepo struct {
	items map[string]*models.Course
}

func (m *mockCourseRepo) FindByID(ctx context.Context, id string) (*models.Course, error) {
	course, ok := m.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *course
	return &cp, nil
}

func (m *mockCourseRepo) List(ctx context.Context) ([]models.Course, error) {
	var result []models.Course
	for _, course := range m.items {
		result = append(result, *course)
	}
	return result, nil
}

func (m *mockCourseRepo) UpsertSnapshot(ctx context.Context, course *models.Course) error {
	if m.items == nil {
		m.items = make(map[string]*models.Course)
	}
	cp := *course
	m.items[course.ID] = &cp
	return nil
}

func TestCourseServiceGetUnknown(t *testing.T) {
	svc := NewCourseService(&mockCourseRepo{}, nil, nil)

	_, err := svc.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrCourseNotFound))
}

func TestCourseServiceApplySnapshot(t *testing.T) {
	repo := &mockCourseRepo{}
	svc := NewCourseService(repo, nil, nil)

	course, err := svc.ApplySnapshot(context.Background(), "c1", CourseSnapshotRequest{
		Code: "CS101", Title: "Intro", Capacity: 30, Term: "Fall", AcademicYear: "2025/2026", Section: "A",
	})
	require.NoError(t, err)
	assert.Equal(t, "CS101", course.Code)
	assert.Equal(t, 30, course.Capacity)
}

func TestCourseServiceRejectsNonPositiveCapacity(t *testing.T) {
	svc := NewCourseService(&mockCourseRepo{}, nil, nil)

	_, err := svc.ApplySnapshot(context.Background(), "c1", CourseSnapshotRequest{Code: "CS101", Capacity: 0})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}
