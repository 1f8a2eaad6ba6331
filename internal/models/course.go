package models

import "time"

// Course is the local snapshot of a catalog section. The catalog service owns
// the record; this copy is reconciled eventually and is read-only to the
// enrollment workflows except for the snapshot upsert feed. Capacity is fixed
// for the section's lifetime from this service's perspective.
type Course struct {
	ID                string    `db:"id" json:"id"`
	Code              string    `db:"code" json:"code"`
	Title             string    `db:"title" json:"title"`
	Capacity          int       `db:"capacity" json:"capacity"`
	Term              string    `db:"term" json:"term"`
	AcademicYear      string    `db:"academic_year" json:"academic_year"`
	Section           string    `db:"section" json:"section"`
	AssignedFacultyID *string   `db:"assigned_faculty_id" json:"assigned_faculty_id,omitempty"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}
