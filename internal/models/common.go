package models

import "github.com/golang-jwt/jwt/v5"

// UserRole describes the actor role carried in API claims.
type UserRole string

const (
	RoleAdmin   UserRole = "ADMIN"
	RoleTeacher UserRole = "TEACHER"
	RoleStudent UserRole = "STUDENT"
	RoleStaff   UserRole = "STAFF"
	// RoleSystem marks records written by background sweeps and devices.
	RoleSystem UserRole = "SYSTEM"
)

// CanVerifyAttendance reports whether the role may mark attendance on
// behalf of another subject.
func (r UserRole) CanVerifyAttendance() bool {
	switch r {
	case RoleAdmin, RoleTeacher:
		return true
	default:
		return false
	}
}

// JWTClaims is the token payload for the exposed API. Every request is
// scoped to the tenant carried here.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	TenantID string   `json:"tenant_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	jwt.RegisteredClaims
}

// Pagination describes paged list metadata.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
