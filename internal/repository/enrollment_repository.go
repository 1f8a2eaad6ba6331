package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/campus-core/enrollment-api/internal/models"
)

// EnrollmentRepository is the ledger: one row per enrollment attempt with its
// status history collapsed into the current status. Rows are never deleted;
// DROPPED is terminal and retained for audit.
//
// Methods suffixed Tx run inside a caller-owned transaction. The coordinator
// acquires the course row lock before calling any of them, so reads made here
// see a serialized view of the course's ledger state.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

const enrollmentColumns = `id, student_id, course_id, status, sequence, created_at, updated_at`

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE id = $1`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindByIDForUpdateTx locks and returns an enrollment row within tx.
func (r *EnrollmentRepository) FindByIDForUpdateTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE id = $1 FOR UPDATE`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := tx.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// ActiveExistsTx reports whether a non-DROPPED enrollment exists for the
// (student, course) pair.
func (r *EnrollmentRepository) ActiveExistsTx(ctx context.Context, tx *sqlx.Tx, studentID, courseID string) (bool, error) {
	const query = `SELECT 1 FROM enrollments WHERE student_id = $1 AND course_id = $2 AND status <> $3 LIMIT 1`
	var exists int
	if err := tx.GetContext(ctx, &exists, query, studentID, courseID, models.EnrollmentStatusDropped); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check active enrollment: %w", err)
	}
	return true, nil
}

// ActiveSameCodeExistsTx reports whether the student holds a non-DROPPED
// enrollment in any section sharing the given course code.
func (r *EnrollmentRepository) ActiveSameCodeExistsTx(ctx context.Context, tx *sqlx.Tx, studentID, courseCode string) (bool, error) {
	const query = `SELECT 1 FROM enrollments e
        JOIN courses c ON c.id = e.course_id
        WHERE e.student_id = $1 AND c.code = $2 AND e.status <> $3 LIMIT 1`
	var exists int
	if err := tx.GetContext(ctx, &exists, query, studentID, courseCode, models.EnrollmentStatusDropped); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check same-code enrollment: %w", err)
	}
	return true, nil
}

// CountEnrolledTx returns the committed ENROLLED count for a course as seen
// by the current transaction.
func (r *EnrollmentRepository) CountEnrolledTx(ctx context.Context, tx *sqlx.Tx, courseID string) (int, error) {
	const query = `SELECT COUNT(*) FROM enrollments WHERE course_id = $1 AND status = $2`
	var count int
	if err := tx.GetContext(ctx, &count, query, courseID, models.EnrollmentStatusEnrolled); err != nil {
		return 0, fmt.Errorf("count enrolled: %w", err)
	}
	return count, nil
}

// CreateTx inserts a new ledger row. The database assigns sequence and
// timestamps; the enrollment is updated in place with the returned values.
func (r *EnrollmentRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	const query = `INSERT INTO enrollments (id, student_id, course_id, status)
        VALUES ($1, $2, $3, $4)
        RETURNING sequence, created_at, updated_at`
	row := tx.QueryRowxContext(ctx, query, enrollment.ID, enrollment.StudentID, enrollment.CourseID, enrollment.Status)
	if err := row.Scan(&enrollment.Sequence, &enrollment.CreatedAt, &enrollment.UpdatedAt); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// MarkDroppedTx transitions an enrollment to DROPPED.
func (r *EnrollmentRepository) MarkDroppedTx(ctx context.Context, tx *sqlx.Tx, id string) (time.Time, error) {
	const query = `UPDATE enrollments SET status = $2, updated_at = NOW() WHERE id = $1 RETURNING updated_at`
	var updatedAt time.Time
	if err := tx.QueryRowxContext(ctx, query, id, models.EnrollmentStatusDropped).Scan(&updatedAt); err != nil {
		return time.Time{}, fmt.Errorf("mark dropped: %w", err)
	}
	return updatedAt, nil
}

// NextWaitlistedTx locks and returns the waitlisted row with the lowest
// sequence for the course, or nil when the waitlist is empty.
func (r *EnrollmentRepository) NextWaitlistedTx(ctx context.Context, tx *sqlx.Tx, courseID string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments
        WHERE course_id = $1 AND status = $2
        ORDER BY sequence ASC LIMIT 1 FOR UPDATE`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := tx.GetContext(ctx, &enrollment, query, courseID, models.EnrollmentStatusWaitlisted); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("next waitlisted: %w", err)
	}
	return &enrollment, nil
}

// PromoteTx transitions a waitlisted enrollment to ENROLLED.
func (r *EnrollmentRepository) PromoteTx(ctx context.Context, tx *sqlx.Tx, id string) (time.Time, error) {
	const query = `UPDATE enrollments SET status = $2, updated_at = NOW() WHERE id = $1 RETURNING updated_at`
	var updatedAt time.Time
	if err := tx.QueryRowxContext(ctx, query, id, models.EnrollmentStatusEnrolled).Scan(&updatedAt); err != nil {
		return time.Time{}, fmt.Errorf("promote enrollment: %w", err)
	}
	return updatedAt, nil
}

// ListByStudent returns a student's enrollments with course context, in
// creation order.
func (r *EnrollmentRepository) ListByStudent(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.student_id, e.course_id, e.status, e.sequence, e.created_at, e.updated_at,
        c.code AS course_code, c.title AS course_title, c.term, c.academic_year
        FROM enrollments e
        JOIN courses c ON c.id = e.course_id
        WHERE e.student_id = $1
        ORDER BY e.created_at ASC`
	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, studentID); err != nil {
		return nil, fmt.Errorf("list student enrollments: %w", err)
	}
	return enrollments, nil
}

// ListByCourse returns the roster for a course: non-DROPPED attempts with
// student names, ordered by sequence so faculty see students in enrollment
// order with the waitlist tail last.
func (r *EnrollmentRepository) ListByCourse(ctx context.Context, courseID string) ([]models.RosterEntry, error) {
	const query = `SELECT e.id AS enrollment_id, e.student_id, s.name AS student_name,
        COALESCE(s.user_number, '') AS user_number, e.status, e.sequence
        FROM enrollments e
        JOIN students s ON s.id = e.student_id
        WHERE e.course_id = $1 AND e.status <> $2
        ORDER BY e.sequence ASC`
	var roster []models.RosterEntry
	if err := r.db.SelectContext(ctx, &roster, query, courseID, models.EnrollmentStatusDropped); err != nil {
		return nil, fmt.Errorf("list course roster: %w", err)
	}
	return roster, nil
}
