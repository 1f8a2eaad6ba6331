package repository

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-core/enrollment-api/internal/models"
)

func TestStudentRepositoryEnsureTx(t *testing.T) {
	db, mock, cleanup := newLedgerMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO students").
		WithArgs("s1", "", "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := db.Beginx()
	require.NoError(t, err)

	require.NoError(t, repo.EnsureTx(context.Background(), tx, &models.Student{ID: "s1"}))
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryUpsert(t *testing.T) {
	db, mock, cleanup := newLedgerMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectExec("INSERT INTO students").
		WithArgs("s1", "Ada", "2024001").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Upsert(context.Background(), &models.Student{ID: "s1", Name: "Ada", UserNumber: "2024001"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newLedgerMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	rows := sqlmock.NewRows([]string{"id", "name", "user_number"}).AddRow("s1", "Ada", "2024001")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, COALESCE(user_number, '') AS user_number FROM students WHERE id = $1")).
		WithArgs("s1").
		WillReturnRows(rows)

	student, err := repo.FindByID(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", student.Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}
