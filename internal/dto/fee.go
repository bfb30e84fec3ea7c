package dto

import "time"

// AssessFeeRequest creates a fee obligation for a student.
type AssessFeeRequest struct {
	StudentID       string    `json:"student_id" binding:"required"`
	FeeType         string    `json:"fee_type" binding:"required"`
	AcademicYear    string    `json:"academic_year,omitempty"`
	TotalAmount     float64   `json:"total_amount" binding:"required,gt=0"`
	DiscountAmount  float64   `json:"discount_amount,omitempty"`
	DueDate         time.Time `json:"due_date" binding:"required"`
	GracePeriodDays int       `json:"grace_period_days,omitempty"`
	Description     *string   `json:"description,omitempty"`
}

// ApplyPaymentRequest records a payment against a fee record. Negative
// amounts reverse earlier payments.
type ApplyPaymentRequest struct {
	Amount    float64    `json:"amount" binding:"required"`
	Method    string     `json:"method" binding:"required"`
	Reference *string    `json:"reference,omitempty"`
	PaidAt    *time.Time `json:"paid_at,omitempty"`
}

// WaiveFeeRequest waives accrued late fees.
type WaiveFeeRequest struct {
	Reason string `json:"reason" binding:"required"`
}
