package models

import "github.com/golang-jwt/jwt/v5"

// UserRole mirrors the roles issued by the auth service.
type UserRole string

const (
	RoleStudent UserRole = "STUDENT"
	RoleFaculty UserRole = "FACULTY"
	RoleAdmin   UserRole = "ADMIN"
)

// JWTClaims are the verified identity claims carried on each request. Token
// issuance and credential checks happen upstream; this service only parses
// the already-issued token.
type JWTClaims struct {
	UserID     string   `json:"user_id"`
	Role       UserRole `json:"role"`
	Email      string   `json:"email"`
	UserNumber string   `json:"user_number"`
	jwt.RegisteredClaims
}
