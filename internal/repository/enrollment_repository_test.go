package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-core/enrollment-api/internal/models"
)

func newLedgerMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestEnrollmentRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newLedgerMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "student_id", "course_id", "status", "sequence", "created_at", "updated_at"}).
		AddRow("e1", "s1", "c1", "ENROLLED", int64(7), now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, student_id, course_id, status, sequence, created_at, updated_at FROM enrollments WHERE id = $1")).
		WithArgs("e1").
		WillReturnRows(rows)

	enrollment, err := repo.FindByID(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, "s1", enrollment.StudentID)
	assert.Equal(t, models.EnrollmentStatusEnrolled, enrollment.Status)
	assert.Equal(t, int64(7), enrollment.Sequence)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCreateTx(t *testing.T) {
	db, mock, cleanup := newLedgerMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO enrollments").
		WithArgs(sqlmock.AnyArg(), "s1", "c1", "WAITLISTED").
		WillReturnRows(sqlmock.NewRows([]string{"sequence", "created_at", "updated_at"}).AddRow(int64(12), now, now))
	mock.ExpectCommit()

	tx, err := db.Beginx()
	require.NoError(t, err)

	enrollment := &models.Enrollment{StudentID: "s1", CourseID: "c1", Status: models.EnrollmentStatusWaitlisted}
	require.NoError(t, repo.CreateTx(context.Background(), tx, enrollment))
	require.NoError(t, tx.Commit())

	assert.NotEmpty(t, enrollment.ID)
	assert.Equal(t, int64(12), enrollment.Sequence)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryActiveExistsTx(t *testing.T) {
	db, mock, cleanup := newLedgerMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM enrollments WHERE student_id = $1 AND course_id = $2 AND status <> $3 LIMIT 1")).
		WithArgs("s1", "c1", "DROPPED").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM enrollments WHERE student_id = $1 AND course_id = $2 AND status <> $3 LIMIT 1")).
		WithArgs("s2", "c1", "DROPPED").
		WillReturnRows(sqlmock.NewRows([]string{"1"}))
	mock.ExpectCommit()

	tx, err := db.Beginx()
	require.NoError(t, err)

	exists, err := repo.ActiveExistsTx(context.Background(), tx, "s1", "c1")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.ActiveExistsTx(context.Background(), tx, "s2", "c1")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCountEnrolledTx(t *testing.T) {
	db, mock, cleanup := newLedgerMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM enrollments WHERE course_id = $1 AND status = $2")).
		WithArgs("c1", "ENROLLED").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
	mock.ExpectCommit()

	tx, err := db.Beginx()
	require.NoError(t, err)

	count, err := repo.CountEnrolledTx(context.Background(), tx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryNextWaitlistedTx(t *testing.T) {
	db, mock, cleanup := newLedgerMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("ORDER BY sequence ASC LIMIT 1 FOR UPDATE").
		WithArgs("c1", "WAITLISTED").
		WillReturnRows(sqlmock.NewRows([]string{"id", "student_id", "course_id", "status", "sequence", "created_at", "updated_at"}).
			AddRow("e2", "s2", "c1", "WAITLISTED", int64(3), now, now))
	mock.ExpectQuery("ORDER BY sequence ASC LIMIT 1 FOR UPDATE").
		WithArgs("c2", "WAITLISTED").
		WillReturnRows(sqlmock.NewRows([]string{"id", "student_id", "course_id", "status", "sequence", "created_at", "updated_at"}))
	mock.ExpectCommit()

	tx, err := db.Beginx()
	require.NoError(t, err)

	next, err := repo.NextWaitlistedTx(context.Background(), tx, "c1")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "e2", next.ID)
	assert.Equal(t, int64(3), next.Sequence)

	// Empty waitlist returns nil without error.
	next, err = repo.NextWaitlistedTx(context.Background(), tx, "c2")
	require.NoError(t, err)
	assert.Nil(t, next)

	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryMarkDroppedAndPromote(t *testing.T) {
	db, mock, cleanup := newLedgerMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	droppedAt := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE enrollments SET status = $2, updated_at = NOW() WHERE id = $1 RETURNING updated_at")).
		WithArgs("e1", "DROPPED").
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(droppedAt))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE enrollments SET status = $2, updated_at = NOW() WHERE id = $1 RETURNING updated_at")).
		WithArgs("e2", "ENROLLED").
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(droppedAt))
	mock.ExpectCommit()

	tx, err := db.Beginx()
	require.NoError(t, err)

	updatedAt, err := repo.MarkDroppedTx(context.Background(), tx, "e1")
	require.NoError(t, err)
	assert.WithinDuration(t, droppedAt, updatedAt, time.Second)

	_, err = repo.PromoteTx(context.Background(), tx, "e2")
	require.NoError(t, err)

	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryListByCourse(t *testing.T) {
	db, mock, cleanup := newLedgerMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	rows := sqlmock.NewRows([]string{"enrollment_id", "student_id", "student_name", "user_number", "status", "sequence"}).
		AddRow("e1", "s1", "Ada", "2024001", "ENROLLED", int64(1)).
		AddRow("e2", "s2", "Grace", "2024002", "WAITLISTED", int64(2))
	mock.ExpectQuery("ORDER BY e.sequence ASC").
		WithArgs("c1", "DROPPED").
		WillReturnRows(rows)

	roster, err := repo.ListByCourse(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, roster, 2)
	assert.Equal(t, "Ada", roster[0].StudentName)
	assert.Equal(t, models.EnrollmentStatusWaitlisted, roster[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryListByStudent(t *testing.T) {
	db, mock, cleanup := newLedgerMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "student_id", "course_id", "status", "sequence", "created_at", "updated_at", "course_code", "course_title", "term", "academic_year"}).
		AddRow("e1", "s1", "c1", "DROPPED", int64(1), now, now, "CS101", "Intro", "Fall", "2025/2026").
		AddRow("e2", "s1", "c1", "ENROLLED", int64(5), now, now, "CS101", "Intro", "Fall", "2025/2026")
	mock.ExpectQuery("ORDER BY e.created_at ASC").
		WithArgs("s1").
		WillReturnRows(rows)

	list, err := repo.ListByStudent(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "CS101", list[0].CourseCode)
	assert.Equal(t, models.EnrollmentStatusEnrolled, list[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}
