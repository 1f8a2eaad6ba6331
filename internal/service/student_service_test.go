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

type mockStudentRepo struct {
	items map[string]*models.Student
}

func (m *mockStudentRepo) FindByID(ctx context.Context, id string) (*models.Student, error) {
	student, ok := m.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *student
	return &cp, nil
}

func (m *mockStudentRepo) Upsert(ctx context.Context, student *models.Student) error {
	if m.items == nil {
		m.items = make(map[string]*models.Student)
	}
	cp := *student
	m.items[student.ID] = &cp
	return nil
}

func TestStudentServiceGetUnknown(t *testing.T) {
	svc := NewStudentService(&mockStudentRepo{}, nil, nil)

	_, err := svc.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestStudentServiceApplySyncOverwritesPlaceholder(t *testing.T) {
	repo := &mockStudentRepo{items: map[string]*models.Student{
		"s1": {ID: "s1"},
	}}
	svc := NewStudentService(repo, nil, nil)

	student, err := svc.ApplySync(context.Background(), "s1", StudentSyncRequest{Name: "Ada", UserNumber: "2024001"})
	require.NoError(t, err)
	assert.Equal(t, "Ada", student.Name)
	assert.Equal(t, "2024001", student.UserNumber)
}

func TestStudentServiceApplySyncRequiresName(t *testing.T) {
	svc := NewStudentService(&mockStudentRepo{}, nil, nil)

	_, err := svc.ApplySync(context.Background(), "s1", StudentSyncRequest{})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}
