package models

// Student is a directory entry used to render rosters. Identity is owned by
// the auth service; placeholder rows are created on first enrollment so
// rosters resolve before the directory sync catches up.
type Student struct {
	ID         string `db:"id" json:"id"`
	Name       string `db:"name" json:"name"`
	UserNumber string `db:"user_number" json:"user_number"`
}
