package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/campus-core/enrollment-api/internal/models"
)

// StudentRepository maintains the local student directory used for rosters.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs the repository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// FindByID returns a student directory entry.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	const query = `SELECT id, name, COALESCE(user_number, '') AS user_number FROM students WHERE id = $1`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// EnsureTx creates a placeholder directory row if none exists, so a roster
// can resolve the student before the directory sync has delivered the name.
func (r *StudentRepository) EnsureTx(ctx context.Context, tx *sqlx.Tx, student *models.Student) error {
	const query = `INSERT INTO students (id, name, user_number)
        VALUES ($1, $2, NULLIF($3, ''))
        ON CONFLICT (id) DO NOTHING`
	if _, err := tx.ExecContext(ctx, query, student.ID, student.Name, student.UserNumber); err != nil {
		return fmt.Errorf("ensure student: %w", err)
	}
	return nil
}

// Upsert applies a directory sync record, overwriting placeholder rows.
func (r *StudentRepository) Upsert(ctx context.Context, student *models.Student) error {
	const query = `INSERT INTO students (id, name, user_number)
        VALUES ($1, $2, NULLIF($3, ''))
        ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, user_number = EXCLUDED.user_number`
	if _, err := r.db.ExecContext(ctx, query, student.ID, student.Name, student.UserNumber); err != nil {
		return fmt.Errorf("upsert student: %w", err)
	}
	return nil
}
