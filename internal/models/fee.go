package models

import "time"

// FeeStatus is a deterministic function of payments, discounts and the
// clock. It is only ever written by ledger recomputation, never set
// directly by callers.
type FeeStatus string

const (
	FeeStatusPending   FeeStatus = "pending"
	FeeStatusPartial   FeeStatus = "partial"
	FeeStatusPaid      FeeStatus = "paid"
	FeeStatusOverdue   FeeStatus = "overdue"
	FeeStatusCancelled FeeStatus = "cancelled"
	FeeStatusRefunded  FeeStatus = "refunded"
)

// Valid returns true when the status is a supported value.
func (s FeeStatus) Valid() bool {
	switch s {
	case FeeStatusPending, FeeStatusPartial, FeeStatusPaid, FeeStatusOverdue,
		FeeStatusCancelled, FeeStatusRefunded:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status ends the record's lifecycle.
// Terminal records are excluded from recomputation and sweeps.
func (s FeeStatus) Terminal() bool {
	return s == FeeStatusCancelled || s == FeeStatusRefunded
}

// PaymentMethod enumerates accepted payment channels.
type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "cash"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodCheque       PaymentMethod = "cheque"
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodOnline       PaymentMethod = "online"
	PaymentMethodMobile       PaymentMethod = "mobile"
	PaymentMethodScholarship  PaymentMethod = "scholarship"
)

// Valid returns true when the method is a supported value.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodBankTransfer, PaymentMethodCheque,
		PaymentMethodCard, PaymentMethodOnline, PaymentMethodMobile,
		PaymentMethodScholarship:
		return true
	default:
		return false
	}
}

// FeeRecord is one assessed fee obligation for a student in an academic
// period. paid_amount and status are derived by recomputation; the
// version column guards concurrent recomputes.
type FeeRecord struct {
	ID              string    `db:"id" json:"id"`
	TenantID        string    `db:"tenant_id" json:"tenant_id"`
	StudentID       string    `db:"student_id" json:"student_id"`
	FeeType         string    `db:"fee_type" json:"fee_type"`
	AcademicYear    string    `db:"academic_year" json:"academic_year"`
	TotalAmount     float64   `db:"total_amount" json:"total_amount"`
	PaidAmount      float64   `db:"paid_amount" json:"paid_amount"`
	DiscountAmount  float64   `db:"discount_amount" json:"discount_amount"`
	LateFeeAccrued  float64   `db:"late_fee_accrued" json:"late_fee_accrued"`
	DueDate         time.Time `db:"due_date" json:"due_date"`
	GracePeriodDays int       `db:"grace_period_days" json:"grace_period_days"`
	Status          FeeStatus `db:"status" json:"status"`
	Waived          bool      `db:"waived" json:"waived"`
	WaiverReason    *string   `db:"waiver_reason" json:"waiver_reason,omitempty"`
	Description     *string   `db:"description" json:"description,omitempty"`
	Version         int64     `db:"version" json:"version"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// EffectiveDue is the amount owed after discounts.
func (f *FeeRecord) EffectiveDue() float64 {
	due := f.TotalAmount - f.DiscountAmount
	if due < 0 {
		return 0
	}
	return due
}

// GraceDeadline is the instant after which the record becomes overdue.
func (f *FeeRecord) GraceDeadline() time.Time {
	return f.DueDate.AddDate(0, 0, f.GracePeriodDays)
}

// Payment is an immutable payment fact linked to exactly one fee record.
// Reversals are modeled as new negative-amount payments, never edits.
type Payment struct {
	ID          string        `db:"id" json:"id"`
	TenantID    string        `db:"tenant_id" json:"tenant_id"`
	FeeRecordID string        `db:"fee_record_id" json:"fee_record_id"`
	Amount      float64       `db:"amount" json:"amount"`
	Method      PaymentMethod `db:"method" json:"method"`
	Reference   *string       `db:"reference" json:"reference,omitempty"`
	PaidAt      time.Time     `db:"paid_at" json:"paid_at"`
	Verified    bool          `db:"verified" json:"verified"`
	VerifiedBy  *string       `db:"verified_by" json:"verified_by,omitempty"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
}

// FeeFilter scopes fee listing queries.
type FeeFilter struct {
	TenantID  string
	StudentID string
	FeeType   string
	Status    *FeeStatus
	Page      int
	PageSize  int
}

// FeeStats aggregates a tenant's fee position.
type FeeStats struct {
	TotalAssessed    float64 `db:"total_assessed" json:"total_assessed"`
	TotalCollected   float64 `db:"total_collected" json:"total_collected"`
	TotalOutstanding float64 `db:"total_outstanding" json:"total_outstanding"`
	TotalLateFees    float64 `db:"total_late_fees" json:"total_late_fees"`
	OverdueCount     int     `db:"overdue_count" json:"overdue_count"`
	RecordCount      int     `db:"record_count" json:"record_count"`
}

// FeeSnapshotRow feeds rule evaluation: one fee record's position at
// evaluation time.
type FeeSnapshotRow struct {
	FeeRecordID string    `db:"fee_record_id" json:"fee_record_id"`
	StudentID   string    `db:"student_id" json:"student_id"`
	Status      FeeStatus `db:"status" json:"status"`
	Outstanding float64   `db:"outstanding" json:"outstanding"`
	DaysOverdue int       `db:"days_overdue" json:"days_overdue"`
}
