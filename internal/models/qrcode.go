package models

import "time"

// QRCodeToken is a tenant-scoped, expiring, usage-bounded check-in code.
// Invariant: current_usage <= max_usage at all times; the increment is a
// single guarded UPDATE so concurrent scans of the last use cannot both
// succeed.
type QRCodeToken struct {
	ID           string    `db:"id" json:"id"`
	TenantID     string    `db:"tenant_id" json:"tenant_id"`
	Code         string    `db:"code" json:"code"`
	BoundContext string    `db:"bound_context" json:"bound_context"`
	IssuedAt     time.Time `db:"issued_at" json:"issued_at"`
	ValidUntil   time.Time `db:"valid_until" json:"valid_until"`
	MaxUsage     int       `db:"max_usage" json:"max_usage"`
	CurrentUsage int       `db:"current_usage" json:"current_usage"`
	Active       bool      `db:"active" json:"active"`
	IssuedBy     string    `db:"issued_by" json:"issued_by"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// RemainingUses returns how many scans the token still accepts.
func (t *QRCodeToken) RemainingUses() int {
	remaining := t.MaxUsage - t.CurrentUsage
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ConsumeResult reports a successful token consumption.
type ConsumeResult struct {
	Token     *QRCodeToken `json:"token"`
	Remaining int          `json:"remaining"`
}
