package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment attempt.
type EnrollmentStatus string

// Possible enrollment statuses. DROPPED is terminal; rows are never deleted.
const (
	EnrollmentStatusEnrolled   EnrollmentStatus = "ENROLLED"
	EnrollmentStatusWaitlisted EnrollmentStatus = "WAITLISTED"
	EnrollmentStatusDropped    EnrollmentStatus = "DROPPED"
)

// Enrollment is one ledger row: a student's attempt to take a course section.
// Sequence is assigned by the database at insert time and orders waitlist
// promotion; among WAITLISTED rows for a course the lowest sequence is
// promoted first.
type Enrollment struct {
	ID        string           `db:"id" json:"id"`
	StudentID string           `db:"student_id" json:"student_id"`
	CourseID  string           `db:"course_id" json:"course_id"`
	Status    EnrollmentStatus `db:"status" json:"status"`
	Sequence  int64            `db:"sequence" json:"sequence"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt time.Time        `db:"updated_at" json:"updated_at"`
}

// EnrollmentDetail enriches Enrollment with course context for student views.
type EnrollmentDetail struct {
	Enrollment
	CourseCode   string `db:"course_code" json:"course_code"`
	CourseTitle  string `db:"course_title" json:"course_title"`
	Term         string `db:"term" json:"term"`
	AcademicYear string `db:"academic_year" json:"academic_year"`
}

// RosterEntry is one line of a faculty-facing course roster, ordered by
// enrollment sequence.
type RosterEntry struct {
	EnrollmentID string           `db:"enrollment_id" json:"enrollment_id"`
	StudentID    string           `db:"student_id" json:"student_id"`
	StudentName  string           `db:"student_name" json:"student_name"`
	UserNumber   string           `db:"user_number" json:"user_number"`
	Status       EnrollmentStatus `db:"status" json:"status"`
	Sequence     int64            `db:"sequence" json:"sequence"`
}
