package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-core/enrollment-api/internal/models"
)

func TestCourseRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newLedgerMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "code", "title", "capacity", "term", "academic_year", "section", "assigned_faculty_id", "created_at", "updated_at"}).
		AddRow("c1", "CS101", "Intro", 30, "Fall", "2025/2026", "A", nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, code, title, capacity, term, academic_year, section, assigned_faculty_id, created_at, updated_at FROM courses WHERE id = $1")).
		WithArgs("c1").
		WillReturnRows(rows)

	course, err := repo.FindByID(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "CS101", course.Code)
	assert.Equal(t, 30, course.Capacity)
	assert.Nil(t, course.AssignedFacultyID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryCapacityForUpdateTx(t *testing.T) {
	db, mock, cleanup := newLedgerMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT capacity FROM courses WHERE id = $1 FOR UPDATE")).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"capacity"}).AddRow(25))
	mock.ExpectCommit()

	tx, err := db.Beginx()
	require.NoError(t, err)

	capacity, err := repo.CapacityForUpdateTx(context.Background(), tx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 25, capacity)

	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryUpsertSnapshot(t *testing.T) {
	db, mock, cleanup := newLedgerMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectExec("INSERT INTO courses").
		WithArgs("c1", "CS101", "Intro", 30, "Fall", "2025/2026", "A", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	course := &models.Course{ID: "c1", Code: "CS101", Title: "Intro", Capacity: 30, Term: "Fall", AcademicYear: "2025/2026", Section: "A"}
	require.NoError(t, repo.UpsertSnapshot(context.Background(), course))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryList(t *testing.T) {
	db, mock, cleanup := newLedgerMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "code", "title", "capacity", "term", "academic_year", "section", "assigned_faculty_id", "created_at", "updated_at"}).
		AddRow("c1", "CS101", "Intro", 30, "Fall", "2025/2026", "A", nil, now, now).
		AddRow("c2", "CS101", "Intro", 30, "Fall", "2025/2026", "B", nil, now, now)
	mock.ExpectQuery("ORDER BY code ASC, section ASC").
		WillReturnRows(rows)

	courses, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, courses, 2)
	assert.Equal(t, "A", courses[0].Section)
	assert.NoError(t, mock.ExpectationsWereMet())
}
