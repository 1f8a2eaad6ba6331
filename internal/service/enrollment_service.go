package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/campus-core/enrollment-api/internal/models"
	appErrors "github.com/campus-core/enrollment-api/pkg/errors"
	"github.com/campus-core/enrollment-api/pkg/export"
)

type ledgerRepository interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindByIDForUpdateTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Enrollment, error)
	ActiveExistsTx(ctx context.Context, tx *sqlx.Tx, studentID, courseID string) (bool, error)
	ActiveSameCodeExistsTx(ctx context.Context, tx *sqlx.Tx, studentID, courseCode string) (bool, error)
	CountEnrolledTx(ctx context.Context, tx *sqlx.Tx, courseID string) (int, error)
	CreateTx(ctx context.Context, tx *sqlx.Tx, enrollment *models.Enrollment) error
	MarkDroppedTx(ctx context.Context, tx *sqlx.Tx, id string) (time.Time, error)
	NextWaitlistedTx(ctx context.Context, tx *sqlx.Tx, courseID string) (*models.Enrollment, error)
	PromoteTx(ctx context.Context, tx *sqlx.Tx, id string) (time.Time, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error)
	ListByCourse(ctx context.Context, courseID string) ([]models.RosterEntry, error)
}

type courseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	CapacityForUpdateTx(ctx context.Context, tx *sqlx.Tx, id string) (int, error)
}

type studentDirectory interface {
	EnsureTx(ctx context.Context, tx *sqlx.Tx, student *models.Student) error
}

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

// EnrollRequest describes an enrollment attempt.
type EnrollRequest struct {
	StudentID  string `json:"student_id" validate:"required"`
	CourseID   string `json:"course_id" validate:"required"`
	Name       string `json:"-"`
	UserNumber string `json:"-"`
}

// EnrollmentConfig tunes coordinator retry behaviour.
type EnrollmentConfig struct {
	RetryAttempts int
	RetryBackoff  time.Duration
}

// EnrollmentService coordinates admission, waitlisting and drops against the
// ledger. Every Enroll and Drop runs as one transaction that locks the course
// row before reading any ledger state, so concurrent requests for the same
// section serialize on that lock. When two enrollments race for the last
// seat, the transaction granted the lock first wins it; the loser re-reads
// post-commit state and is waitlisted. Sequence is assigned under the same
// lock, so sequence order is arbitration order.
type EnrollmentService struct {
	tx        txProvider
	ledger    ledgerRepository
	courses   courseReader
	students  studentDirectory
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	csv       *export.CSVExporter
	pdf       *export.PDFExporter
	cfg       EnrollmentConfig
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(
	tx txProvider,
	ledger ledgerRepository,
	courses courseReader,
	students studentDirectory,
	cache *CacheService,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg EnrollmentConfig,
) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 25 * time.Millisecond
	}
	return &EnrollmentService{
		tx:        tx,
		ledger:    ledger,
		courses:   courses,
		students:  students,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		csv:       export.NewCSVExporter(),
		pdf:       export.NewPDFExporter(),
		cfg:       cfg,
	}
}

// admit is the capacity gate: a seat is granted only while the committed
// ENROLLED count is below capacity; everyone else joins the waitlist. The
// waitlist is unbounded.
func admit(capacity, enrolled int) models.EnrollmentStatus {
	if enrolled < capacity {
		return models.EnrollmentStatusEnrolled
	}
	return models.EnrollmentStatusWaitlisted
}

// Enroll admits or waitlists a student for a course section. Course existence
// is validated before the transaction begins; capacity is re-read under the
// course row lock inside it. Transient conflicts are retried before the
// request fails as UNAVAILABLE.
func (s *EnrollmentService) Enroll(ctx context.Context, req EnrollRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}

	course, err := s.courses.FindByID(ctx, req.CourseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrCourseNotFound, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	var enrollment *models.Enrollment
	err = s.withRetries(ctx, "enroll", func() error {
		start := time.Now()
		var attemptErr error
		enrollment, attemptErr = s.enrollOnce(ctx, req, course)
		if s.metrics != nil {
			s.metrics.ObserveDBQuery("enroll_unit", time.Since(start))
		}
		return attemptErr
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordAdmission(string(enrollment.Status))
	}
	s.invalidateProjections(ctx, enrollment.CourseID, enrollment.StudentID)
	s.logger.Info("enrollment decided",
		zap.String("enrollment_id", enrollment.ID),
		zap.String("student_id", enrollment.StudentID),
		zap.String("course_id", enrollment.CourseID),
		zap.String("status", string(enrollment.Status)),
		zap.Int64("sequence", enrollment.Sequence),
	)
	return enrollment, nil
}

func (s *EnrollmentService) enrollOnce(ctx context.Context, req EnrollRequest, course *models.Course) (*models.Enrollment, error) {
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// Course row lock: the serialization point for this section.
	capacity, err := s.courses.CapacityForUpdateTx(ctx, tx, req.CourseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = appErrors.Clone(appErrors.ErrCourseNotFound, "")
		}
		return nil, err
	}

	if err = s.students.EnsureTx(ctx, tx, &models.Student{ID: req.StudentID, Name: req.Name, UserNumber: req.UserNumber}); err != nil {
		return nil, err
	}

	var exists bool
	if exists, err = s.ledger.ActiveExistsTx(ctx, tx, req.StudentID, req.CourseID); err != nil {
		return nil, err
	}
	if exists {
		err = appErrors.Clone(appErrors.ErrAlreadyEnrolled, "already enrolled in this course section")
		return nil, err
	}
	if exists, err = s.ledger.ActiveSameCodeExistsTx(ctx, tx, req.StudentID, course.Code); err != nil {
		return nil, err
	}
	if exists {
		err = appErrors.Clone(appErrors.ErrAlreadyEnrolled, "already enrolled in another section of this course")
		return nil, err
	}

	var enrolled int
	if enrolled, err = s.ledger.CountEnrolledTx(ctx, tx, req.CourseID); err != nil {
		return nil, err
	}

	enrollment := &models.Enrollment{
		StudentID: req.StudentID,
		CourseID:  req.CourseID,
		Status:    admit(capacity, enrolled),
	}
	if err = s.ledger.CreateTx(ctx, tx, enrollment); err != nil {
		if uniqueViolation(err) {
			// Lost a duplicate race: exactly one concurrent attempt wins the insert.
			err = appErrors.Clone(appErrors.ErrAlreadyEnrolled, "already enrolled in this course section")
		}
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return enrollment, nil
}

// Drop marks an enrollment DROPPED. Only the owning student (or an admin) may
// drop it. Dropping an already-DROPPED enrollment is a no-op returning the
// current state. When an ENROLLED seat is freed, the lowest-sequence
// waitlisted student for the course is promoted in the same transaction.
func (s *EnrollmentService) Drop(ctx context.Context, enrollmentID, requesterID string, admin bool) (*models.Enrollment, error) {
	if enrollmentID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "enrollment id required")
	}

	var dropped *models.Enrollment
	var promoted *models.Enrollment
	err := s.withRetries(ctx, "drop", func() error {
		start := time.Now()
		var attemptErr error
		dropped, promoted, attemptErr = s.dropOnce(ctx, enrollmentID, requesterID, admin)
		if s.metrics != nil {
			s.metrics.ObserveDBQuery("drop_unit", time.Since(start))
		}
		return attemptErr
	})
	if err != nil {
		return nil, err
	}

	s.invalidateProjections(ctx, dropped.CourseID, dropped.StudentID)
	if promoted != nil {
		if s.metrics != nil {
			s.metrics.RecordPromotion()
		}
		s.invalidateProjections(ctx, promoted.CourseID, promoted.StudentID)
		s.logger.Info("waitlist promotion",
			zap.String("course_id", promoted.CourseID),
			zap.String("enrollment_id", promoted.ID),
			zap.String("student_id", promoted.StudentID),
			zap.Int64("sequence", promoted.Sequence),
		)
	}
	return dropped, nil
}

func (s *EnrollmentService) dropOnce(ctx context.Context, enrollmentID, requesterID string, admin bool) (*models.Enrollment, *models.Enrollment, error) {
	// Ownership is checked before any lock is taken so unauthorized callers
	// never contend for the course row.
	current, err := s.ledger.FindByID(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, nil, err
	}
	if current.StudentID != requesterID && !admin {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "enrollment belongs to another student")
	}
	if current.Status == models.EnrollmentStatusDropped {
		return current, nil, nil
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// Course lock first, enrollment row second: matching the lock order used
	// by Enroll keeps concurrent drops for one section deadlock-free.
	if _, err = s.courses.CapacityForUpdateTx(ctx, tx, current.CourseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = appErrors.Clone(appErrors.ErrCourseNotFound, "")
		}
		return nil, nil, err
	}

	var enrollment *models.Enrollment
	if enrollment, err = s.ledger.FindByIDForUpdateTx(ctx, tx, enrollmentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, nil, err
	}
	if enrollment.Status == models.EnrollmentStatusDropped {
		// A concurrent drop won; keep idempotent semantics and change nothing.
		if err = tx.Commit(); err != nil {
			return nil, nil, err
		}
		return enrollment, nil, nil
	}

	wasEnrolled := enrollment.Status == models.EnrollmentStatusEnrolled
	var updatedAt time.Time
	if updatedAt, err = s.ledger.MarkDroppedTx(ctx, tx, enrollment.ID); err != nil {
		return nil, nil, err
	}
	enrollment.Status = models.EnrollmentStatusDropped
	enrollment.UpdatedAt = updatedAt

	var promoted *models.Enrollment
	if wasEnrolled {
		if promoted, err = s.promoteNext(ctx, tx, enrollment.CourseID); err != nil {
			return nil, nil, err
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, nil, err
	}
	return enrollment, promoted, nil
}

// promoteNext is the waitlist promoter: it moves the lowest-sequence
// WAITLISTED row for the course to ENROLLED, or does nothing when the
// waitlist is empty. It runs inside the same transaction as the drop that
// freed the seat, so readers never observe the course under capacity while a
// waitlist exists.
func (s *EnrollmentService) promoteNext(ctx context.Context, tx *sqlx.Tx, courseID string) (*models.Enrollment, error) {
	next, err := s.ledger.NextWaitlistedTx(ctx, tx, courseID)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return nil, nil
	}
	updatedAt, err := s.ledger.PromoteTx(ctx, tx, next.ID)
	if err != nil {
		return nil, err
	}
	next.Status = models.EnrollmentStatusEnrolled
	next.UpdatedAt = updatedAt
	return next, nil
}

// ListForStudent returns a student's enrollments in creation order.
func (s *EnrollmentService) ListForStudent(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error) {
	if studentID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student id required")
	}
	key := studentProjectionKey(studentID)
	var cached []models.EnrollmentDetail
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return cached, nil
	}
	start := time.Now()
	enrollments, err := s.ledger.ListByStudent(ctx, studentID)
	if s.metrics != nil {
		s.metrics.ObserveDBQuery("list_student_enrollments", time.Since(start))
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	_ = s.cache.Set(ctx, key, enrollments, 0)
	return enrollments, nil
}

// ListForCourse returns the roster for a course ordered by sequence.
func (s *EnrollmentService) ListForCourse(ctx context.Context, courseID string) ([]models.RosterEntry, error) {
	if courseID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "course id required")
	}
	if _, err := s.courses.FindByID(ctx, courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrCourseNotFound, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	key := rosterProjectionKey(courseID)
	var cached []models.RosterEntry
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return cached, nil
	}
	start := time.Now()
	roster, err := s.ledger.ListByCourse(ctx, courseID)
	if s.metrics != nil {
		s.metrics.ObserveDBQuery("list_course_roster", time.Since(start))
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}
	_ = s.cache.Set(ctx, key, roster, 0)
	return roster, nil
}

// ExportRoster renders the course roster as CSV or PDF.
func (s *EnrollmentService) ExportRoster(ctx context.Context, courseID, format string) ([]byte, string, error) {
	roster, err := s.ListForCourse(ctx, courseID)
	if err != nil {
		return nil, "", err
	}

	dataset := export.Dataset{
		Headers: []string{"Seq", "Student ID", "Name", "User Number", "Status"},
	}
	for _, entry := range roster {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Seq":         strconv.FormatInt(entry.Sequence, 10),
			"Student ID":  entry.StudentID,
			"Name":        entry.StudentName,
			"User Number": entry.UserNumber,
			"Status":      string(entry.Status),
		})
	}

	switch format {
	case "pdf":
		payload, err := s.pdf.Render(dataset, fmt.Sprintf("Course roster %s", courseID))
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render roster pdf")
		}
		return payload, "application/pdf", nil
	case "", "csv":
		payload, err := s.csv.Render(dataset)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render roster csv")
		}
		return payload, "text/csv", nil
	default:
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
}

// withRetries re-runs a unit of work aborted by serialization conflicts or
// deadlocks. Each retry re-reads committed state, so retried operations stay
// idempotent from the caller's perspective. Terminal application errors pass
// through untouched.
func (s *EnrollmentService) withRetries(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt < s.cfg.RetryAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !retryableConflict(err) {
			var appErr *appErrors.Error
			if errors.As(err, &appErr) {
				return err
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, fmt.Sprintf("failed to %s", op))
		}
		if s.metrics != nil {
			s.metrics.RecordConflictRetry(op)
		}
		s.logger.Warn("transaction conflict, retrying",
			zap.String("operation", op),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return appErrors.Wrap(ctx.Err(), appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "operation cancelled during retry")
		case <-time.After(s.cfg.RetryBackoff * time.Duration(attempt+1)):
		}
	}
	return appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "persistent conflict, try again later")
}

func (s *EnrollmentService) invalidateProjections(ctx context.Context, courseID, studentID string) {
	_ = s.cache.Invalidate(ctx, rosterProjectionKey(courseID))
	_ = s.cache.Invalidate(ctx, studentProjectionKey(studentID))
}

func rosterProjectionKey(courseID string) string {
	return "enrollment:roster:" + courseID
}

func studentProjectionKey(studentID string) string {
	return "enrollment:student:" + studentID
}

// retryableConflict matches Postgres serialization_failure and
// deadlock_detected, the two abort classes that are safe to re-run.
func retryableConflict(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "40001" || pqErr.Code == "40P01"
}

// uniqueViolation matches the partial unique index over non-DROPPED
// (student, course) pairs.
func uniqueViolation(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "23505"
}
