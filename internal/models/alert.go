package models

import (
	"encoding/json"
	"time"

	"github.com/lib/pq"
)

// AlertTarget names the entity family a rule evaluates.
type AlertTarget string

const (
	AlertTargetAttendance AlertTarget = "attendance"
	AlertTargetFee        AlertTarget = "fee"
	AlertTargetAcademic   AlertTarget = "academic"
)

// Valid returns true when the target is a supported value.
func (t AlertTarget) Valid() bool {
	switch t {
	case AlertTargetAttendance, AlertTargetFee, AlertTargetAcademic:
		return true
	default:
		return false
	}
}

// ConditionOperator compares a snapshot field against a rule threshold.
type ConditionOperator string

const (
	OpLessThan       ConditionOperator = "lt"
	OpLessOrEqual    ConditionOperator = "lte"
	OpGreaterThan    ConditionOperator = "gt"
	OpGreaterOrEqual ConditionOperator = "gte"
	OpEqual          ConditionOperator = "eq"
)

// Valid returns true when the operator is a supported value.
func (o ConditionOperator) Valid() bool {
	switch o {
	case OpLessThan, OpLessOrEqual, OpGreaterThan, OpGreaterOrEqual, OpEqual:
		return true
	default:
		return false
	}
}

// Compare applies the operator to value vs threshold.
func (o ConditionOperator) Compare(value, threshold float64) bool {
	switch o {
	case OpLessThan:
		return value < threshold
	case OpLessOrEqual:
		return value <= threshold
	case OpGreaterThan:
		return value > threshold
	case OpGreaterOrEqual:
		return value >= threshold
	case OpEqual:
		return value == threshold
	default:
		return false
	}
}

// Snapshot fields rules may reference per target.
const (
	FieldAttendanceRate = "attendance_rate"
	FieldLateCount      = "late_count"
	FieldDaysOverdue    = "days_overdue"
	FieldOutstanding    = "outstanding_amount"
	FieldGradeAverage   = "grade_average"
)

// NotificationChannel names a delivery channel collaborator.
type NotificationChannel string

const (
	ChannelEmail NotificationChannel = "email"
	ChannelSMS   NotificationChannel = "sms"
	ChannelPush  NotificationChannel = "push"
)

// Valid returns true when the channel is a supported value.
func (c NotificationChannel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush:
		return true
	default:
		return false
	}
}

// AlertRule is a declarative threshold check over entity snapshots.
// CooldownSeconds bounds re-firing per (rule, subject): at most one
// emission per cooldown window.
type AlertRule struct {
	ID              string            `db:"id" json:"id"`
	TenantID        string            `db:"tenant_id" json:"tenant_id"`
	Name            string            `db:"name" json:"name"`
	Target          AlertTarget       `db:"target" json:"target"`
	Field           string            `db:"field" json:"field"`
	Operator        ConditionOperator `db:"operator" json:"operator"`
	Threshold       float64           `db:"threshold" json:"threshold"`
	Channels        pq.StringArray    `db:"channels" json:"channels"`
	CooldownSeconds int64             `db:"cooldown_seconds" json:"cooldown_seconds"`
	Active          bool              `db:"active" json:"active"`
	CreatedAt       time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time         `db:"updated_at" json:"updated_at"`
}

// Cooldown returns the rule's cooldown as a duration.
func (r *AlertRule) Cooldown() time.Duration {
	return time.Duration(r.CooldownSeconds) * time.Second
}

// AlertDeliveryStatus tracks the dispatch outcome of an event.
type AlertDeliveryStatus string

const (
	DeliveryPending   AlertDeliveryStatus = "pending"
	DeliveryDelivered AlertDeliveryStatus = "delivered"
	DeliveryPartial   AlertDeliveryStatus = "partial"
	DeliveryFailed    AlertDeliveryStatus = "failed"
)

// AlertEvent is a produced rule firing. Immutable after delivery
// resolution except for the delivery fields.
type AlertEvent struct {
	ID             string              `db:"id" json:"id"`
	TenantID       string              `db:"tenant_id" json:"tenant_id"`
	RuleID         string              `db:"rule_id" json:"rule_id"`
	RuleName       string              `db:"rule_name" json:"rule_name"`
	SubjectID      string              `db:"subject_id" json:"subject_id"`
	TriggeredAt    time.Time           `db:"triggered_at" json:"triggered_at"`
	Payload        json.RawMessage     `db:"payload" json:"payload"`
	Channels       pq.StringArray      `db:"channels" json:"channels"`
	DeliveryStatus AlertDeliveryStatus `db:"delivery_status" json:"delivery_status"`
	DeliveryError  *string             `db:"delivery_error" json:"delivery_error,omitempty"`
	DeliveredAt    *time.Time          `db:"delivered_at" json:"delivered_at,omitempty"`
	CreatedAt      time.Time           `db:"created_at" json:"created_at"`
}

// AlertEventFilter scopes event listing queries.
type AlertEventFilter struct {
	TenantID  string
	RuleID    string
	SubjectID string
	Status    *AlertDeliveryStatus
	Page      int
	PageSize  int
}
