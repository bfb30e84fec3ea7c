package models

import "time"

// AttendanceStatus represents the resolved status of an attendance record.
// Verification and status are orthogonal: a verified late check-in still
// yields StatusLate.
type AttendanceStatus string

const (
	AttendanceStatusPresent AttendanceStatus = "present"
	AttendanceStatusAbsent  AttendanceStatus = "absent"
	AttendanceStatusLate    AttendanceStatus = "late"
	AttendanceStatusHalfDay AttendanceStatus = "half_day"
	AttendanceStatusLeave   AttendanceStatus = "leave"
	AttendanceStatusHoliday AttendanceStatus = "holiday"
)

// Valid returns true when the status is a supported value.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendanceStatusPresent, AttendanceStatusAbsent, AttendanceStatusLate,
		AttendanceStatusHalfDay, AttendanceStatusLeave, AttendanceStatusHoliday:
		return true
	default:
		return false
	}
}

// AttendanceMethod is the closed set of submission channels. Validation
// branches by exhaustive switch on this type, never by raw strings.
type AttendanceMethod string

const (
	MethodManual      AttendanceMethod = "manual"
	MethodQR          AttendanceMethod = "qr"
	MethodGeolocation AttendanceMethod = "geolocation"
	MethodBiometric   AttendanceMethod = "biometric"
	MethodRFID        AttendanceMethod = "rfid"
)

// Valid returns true when the method is a supported value.
func (m AttendanceMethod) Valid() bool {
	switch m {
	case MethodManual, MethodQR, MethodGeolocation, MethodBiometric, MethodRFID:
		return true
	default:
		return false
	}
}

// AttendanceRecord is one verified (or rejected) attendance fact.
// At most one non-superseded record exists per (tenant, subject, date);
// amendments append a superseding record, the prior row keeps its
// superseded_by pointer for audit. Records are soft-voided, never deleted.
type AttendanceRecord struct {
	ID        string           `db:"id" json:"id"`
	TenantID  string           `db:"tenant_id" json:"tenant_id"`
	SubjectID string           `db:"subject_id" json:"subject_id"`
	Date      time.Time        `db:"date" json:"date"`
	Method    AttendanceMethod `db:"method" json:"method"`
	Status    AttendanceStatus `db:"status" json:"status"`

	TimeIn  *time.Time `db:"time_in" json:"time_in,omitempty"`
	TimeOut *time.Time `db:"time_out" json:"time_out,omitempty"`

	// Geolocation verification metadata.
	Latitude  *float64 `db:"latitude" json:"latitude,omitempty"`
	Longitude *float64 `db:"longitude" json:"longitude,omitempty"`
	AccuracyM *float64 `db:"accuracy_m" json:"accuracy_m,omitempty"`

	// QR verification metadata.
	QRTokenID *string `db:"qr_token_id" json:"qr_token_id,omitempty"`

	// Biometric verification metadata.
	Confidence *float64 `db:"confidence" json:"confidence,omitempty"`

	VerifiedBy   string     `db:"verified_by" json:"verified_by"`
	IsVerified   bool       `db:"is_verified" json:"is_verified"`
	Notes        *string    `db:"notes" json:"notes,omitempty"`
	SupersedesID *string    `db:"supersedes_id" json:"supersedes_id,omitempty"`
	SupersededBy *string    `db:"superseded_by" json:"superseded_by,omitempty"`
	Voided       bool       `db:"voided" json:"voided"`
	VoidReason   *string    `db:"void_reason" json:"void_reason,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
	VerifiedAt   *time.Time `db:"verified_at" json:"verified_at,omitempty"`
}

// AttendanceFilter scopes attendance listing queries. TenantID is
// mandatory; queries never cross tenants.
type AttendanceFilter struct {
	TenantID  string
	SubjectID string
	Method    *AttendanceMethod
	Status    *AttendanceStatus
	DateFrom  *time.Time
	DateTo    *time.Time
	Page      int
	PageSize  int
}

// AttendanceStats summarises status counts for a subject or tenant.
type AttendanceStats struct {
	Present     int     `json:"present"`
	Absent      int     `json:"absent"`
	Late        int     `json:"late"`
	HalfDay     int     `json:"half_day"`
	Leave       int     `json:"leave"`
	Holiday     int     `json:"holiday"`
	Total       int     `json:"total"`
	PresentRate float64 `json:"present_rate"`
}

// AttendanceRateRow feeds rule evaluation: one subject's attendance rate
// over the evaluation window.
type AttendanceRateRow struct {
	SubjectID string  `db:"subject_id" json:"subject_id"`
	Total     int     `db:"total" json:"total"`
	Present   int     `db:"present" json:"present"`
	Late      int     `db:"late" json:"late"`
	Rate      float64 `db:"rate" json:"rate"`
}

// AttendanceSchedule carries per-tenant session timing used for late
// derivation. When absent, the engine falls back to configured defaults.
type AttendanceSchedule struct {
	ID            string    `db:"id" json:"id"`
	TenantID      string    `db:"tenant_id" json:"tenant_id"`
	Name          string    `db:"name" json:"name"`
	StartTime     string    `db:"start_time" json:"start_time"` // HH:MM
	EndTime       string    `db:"end_time" json:"end_time"`     // HH:MM
	LateAfterMins int       `db:"late_after_mins" json:"late_after_mins"`
	Active        bool      `db:"active" json:"active"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// Fence is the geographic circle a tenant accepts geolocation check-ins
// from.
type Fence struct {
	TenantID     string  `db:"tenant_id" json:"tenant_id"`
	Latitude     float64 `db:"latitude" json:"latitude"`
	Longitude    float64 `db:"longitude" json:"longitude"`
	RadiusMeters float64 `db:"radius_meters" json:"radius_meters"`
}
