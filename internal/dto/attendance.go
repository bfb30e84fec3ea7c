package dto

import "time"

// SubmitAttendanceRequest is the wire payload for attendance submission.
// Exactly the fields required by the declared method must be present;
// the service rejects mismatches.
type SubmitAttendanceRequest struct {
	SubjectID string     `json:"subject_id"`
	Date      *time.Time `json:"date,omitempty"`
	Method    string     `json:"method" binding:"required"`
	TimeIn    *time.Time `json:"time_in,omitempty"`
	Notes     *string    `json:"notes,omitempty"`

	// manual
	Status string `json:"status,omitempty"`

	// geolocation
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	AccuracyM *float64 `json:"accuracy_m,omitempty"`

	// qr
	QRCode string `json:"qr_code,omitempty"`

	// biometric (base64-decoded by gin)
	BiometricSample []byte `json:"biometric_sample,omitempty"`

	// rfid
	CardUID string `json:"card_uid,omitempty"`
}

// AmendAttendanceRequest corrects the current record for a day.
type AmendAttendanceRequest struct {
	SubjectID string     `json:"subject_id" binding:"required"`
	Date      *time.Time `json:"date,omitempty"`
	Status    string     `json:"status" binding:"required"`
	Notes     *string    `json:"notes,omitempty"`
}

// VoidAttendanceRequest soft-voids a disputed record.
type VoidAttendanceRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// IssueQRCodeRequest mints a check-in token.
type IssueQRCodeRequest struct {
	BoundContext string    `json:"bound_context" binding:"required"`
	ValidUntil   time.Time `json:"valid_until" binding:"required"`
	MaxUsage     int       `json:"max_usage" binding:"required,min=1"`
}

// ConsumeQRCodeRequest spends one use of a token.
type ConsumeQRCodeRequest struct {
	Code string `json:"code" binding:"required"`
}
