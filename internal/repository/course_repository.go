package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/campus-core/enrollment-api/internal/models"
)

// CourseRepository reads and reconciles the local course snapshot. The
// catalog service owns course metadata; enrollment only needs id, code and
// capacity plus display fields.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

const courseColumns = `id, code, title, capacity, term, academic_year, section, assigned_faculty_id, created_at, updated_at`

// FindByID returns a course by its ID.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	query := fmt.Sprintf(`SELECT %s FROM courses WHERE id = $1`, courseColumns)
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		return nil, err
	}
	return &course, nil
}

// List returns all known course sections ordered by code then section.
func (r *CourseRepository) List(ctx context.Context) ([]models.Course, error) {
	query := fmt.Sprintf(`SELECT %s FROM courses ORDER BY code ASC, section ASC`, courseColumns)
	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, query); err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	return courses, nil
}

// CapacityForUpdateTx locks the course row within tx and returns its
// capacity. The lock is the serialization point for all ledger writes
// touching the course: concurrent enrolls and drops for the same section
// queue up here, so each unit of work reads post-commit state of the one
// before it.
func (r *CourseRepository) CapacityForUpdateTx(ctx context.Context, tx *sqlx.Tx, id string) (int, error) {
	const query = `SELECT capacity FROM courses WHERE id = $1 FOR UPDATE`
	var capacity int
	if err := tx.GetContext(ctx, &capacity, query, id); err != nil {
		return 0, err
	}
	return capacity, nil
}

// UpsertSnapshot applies a catalog snapshot for one section. Invoked by the
// reconciliation feed; capacity changes outside that feed are out of scope.
func (r *CourseRepository) UpsertSnapshot(ctx context.Context, course *models.Course) error {
	const query = `INSERT INTO courses (id, code, title, capacity, term, academic_year, section, assigned_faculty_id)
        VALUES (:id, :code, :title, :capacity, :term, :academic_year, :section, :assigned_faculty_id)
        ON CONFLICT (id)
        DO UPDATE SET code = EXCLUDED.code, title = EXCLUDED.title, capacity = EXCLUDED.capacity,
            term = EXCLUDED.term, academic_year = EXCLUDED.academic_year, section = EXCLUDED.section,
            assigned_faculty_id = EXCLUDED.assigned_faculty_id, updated_at = NOW()`
	if _, err := r.db.NamedExecContext(ctx, query, course); err != nil {
		return fmt.Errorf("upsert course snapshot: %w", err)
	}
	return nil
}
