package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-ops-api/internal/models"
	"github.com/noah-isme/campus-ops-api/pkg/clock"
	"github.com/noah-isme/campus-ops-api/pkg/config"
	appErrors "github.com/noah-isme/campus-ops-api/pkg/errors"
)

type alertStore interface {
	InsertRule(ctx context.Context, rule *models.AlertRule) error
	FindRule(ctx context.Context, tenantID, id string) (*models.AlertRule, error)
	UpdateRule(ctx context.Context, rule *models.AlertRule) error
	ListActiveRules(ctx context.Context, tenantID string, target *models.AlertTarget) ([]models.AlertRule, error)
	RuleTenantIDs(ctx context.Context) ([]string, error)
	InsertEvent(ctx context.Context, event *models.AlertEvent) error
	LastEventAt(ctx context.Context, tenantID, ruleID, subjectID string) (time.Time, error)
	UpdateEventDelivery(ctx context.Context, tenantID, eventID string, status models.AlertDeliveryStatus, deliveryError *string, deliveredAt *time.Time) error
	ListEvents(ctx context.Context, filter models.AlertEventFilter) ([]models.AlertEvent, int, error)
}

type cooldownCache interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
}

type feeSnapshotProvider interface {
	Snapshot(ctx context.Context, tenantID string) ([]models.FeeSnapshotRow, error)
}

type attendanceRateProvider interface {
	RatesSince(ctx context.Context, tenantID string, since time.Time) ([]models.AttendanceRateRow, error)
}

// GradeProvider resolves grade averages for academic-targeted rules.
// Optional: when nil, academic rules evaluate against no subjects.
type GradeProvider interface {
	GradeAverages(ctx context.Context, tenantID string) (map[string]float64, error)
}

// attendanceWindow is how far back attendance-targeted rules look when
// computing rates.
const attendanceWindow = 30 * 24 * time.Hour

// CreateRuleParams carries the inputs for creating an alert rule.
type CreateRuleParams struct {
	TenantID        string
	Name            string
	Target          models.AlertTarget
	Field           string
	Operator        models.ConditionOperator
	Threshold       float64
	Channels        []string
	CooldownSeconds int64
}

// RuleService evaluates alert rules over entity snapshots and emits
// AlertEvents. Cooldown is enforced twice: a redis SETNX fast path for
// cross-process races and the durable last-event timestamp in postgres
// as the source of truth.
type RuleService struct {
	repo       alertStore
	cache      cooldownCache
	fees       feeSnapshotProvider
	attendance attendanceRateProvider
	grades     GradeProvider
	cfg        config.RulesConfig
	clock      clock.Clock
	logger     *zap.Logger
}

// NewRuleService constructs the service. grades may be nil.
func NewRuleService(
	repo alertStore,
	cache cooldownCache,
	fees feeSnapshotProvider,
	attendance attendanceRateProvider,
	grades GradeProvider,
	cfg config.RulesConfig,
	clk clock.Clock,
	logger *zap.Logger,
) *RuleService {
	return &RuleService{
		repo:       repo,
		cache:      cache,
		fees:       fees,
		attendance: attendance,
		grades:     grades,
		cfg:        cfg,
		clock:      clk,
		logger:     logger,
	}
}

// validRuleFields maps each target to the snapshot fields it exposes.
var validRuleFields = map[models.AlertTarget]map[string]bool{
	models.AlertTargetAttendance: {
		models.FieldAttendanceRate: true,
		models.FieldLateCount:      true,
	},
	models.AlertTargetFee: {
		models.FieldDaysOverdue: true,
		models.FieldOutstanding: true,
	},
	models.AlertTargetAcademic: {
		models.FieldGradeAverage: true,
	},
}

// CreateRule validates and stores a new rule.
func (s *RuleService) CreateRule(ctx context.Context, params CreateRuleParams) (*models.AlertRule, error) {
	if params.TenantID == "" || params.Name == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "tenant and name are required")
	}
	if !params.Target.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported target %q", params.Target))
	}
	if !params.Operator.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported operator %q", params.Operator))
	}
	if !validRuleFields[params.Target][params.Field] {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("field %q is not available on target %q", params.Field, params.Target))
	}
	if len(params.Channels) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one notification channel is required")
	}
	for _, ch := range params.Channels {
		if !models.NotificationChannel(ch).Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported channel %q", ch))
		}
	}

	cooldown := params.CooldownSeconds
	if cooldown <= 0 {
		cooldown = int64(s.cfg.DefaultCooldown.Seconds())
	}

	now := s.clock.Now()
	rule := &models.AlertRule{
		ID:              uuid.NewString(),
		TenantID:        params.TenantID,
		Name:            params.Name,
		Target:          params.Target,
		Field:           params.Field,
		Operator:        params.Operator,
		Threshold:       params.Threshold,
		Channels:        params.Channels,
		CooldownSeconds: cooldown,
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.InsertRule(ctx, rule); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "store alert rule")
	}
	return rule, nil
}

// SetRuleActive toggles a rule without losing its definition.
func (s *RuleService) SetRuleActive(ctx context.Context, tenantID, ruleID string, active bool) (*models.AlertRule, error) {
	rule, err := s.repo.FindRule(ctx, tenantID, ruleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "alert rule not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load alert rule")
	}
	rule.Active = active
	rule.UpdatedAt = s.clock.Now()
	if err := s.repo.UpdateRule(ctx, rule); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "update alert rule")
	}
	return rule, nil
}

// ListRules returns a tenant's active rules.
func (s *RuleService) ListRules(ctx context.Context, tenantID string) ([]models.AlertRule, error) {
	rules, err := s.repo.ListActiveRules(ctx, tenantID, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list alert rules")
	}
	return rules, nil
}

// ListEvents returns emitted events for the filter.
func (s *RuleService) ListEvents(ctx context.Context, filter models.AlertEventFilter) ([]models.AlertEvent, *models.Pagination, error) {
	events, total, err := s.repo.ListEvents(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list alert events")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	return events, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// TenantIDs lists tenants with active rules for the sweep scheduler.
func (s *RuleService) TenantIDs(ctx context.Context) ([]string, error) {
	ids, err := s.repo.RuleTenantIDs(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list rule tenants")
	}
	return ids, nil
}

// EvaluateTenant runs every active rule for one tenant against fresh
// snapshots and returns the events it emitted. Rules fire independently;
// within one rule at most one event per (rule, subject) per cooldown
// window.
func (s *RuleService) EvaluateTenant(ctx context.Context, tenantID string) ([]models.AlertEvent, error) {
	rules, err := s.repo.ListActiveRules(ctx, tenantID, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list alert rules")
	}
	if len(rules) == 0 {
		return nil, nil
	}

	var emitted []models.AlertEvent
	for i := range rules {
		rule := rules[i]
		subjects, err := s.snapshotValues(ctx, tenantID, &rule)
		if err != nil {
			s.logger.Warn("rule snapshot failed",
				zap.String("tenantId", tenantID),
				zap.String("ruleId", rule.ID),
				zap.Error(err))
			continue
		}

		for subjectID, value := range subjects {
			if !rule.Operator.Compare(value, rule.Threshold) {
				continue
			}
			event, err := s.emit(ctx, &rule, subjectID, value)
			if err != nil {
				s.logger.Warn("alert emission failed",
					zap.String("tenantId", tenantID),
					zap.String("ruleId", rule.ID),
					zap.String("subjectId", subjectID),
					zap.Error(err))
				continue
			}
			if event != nil {
				emitted = append(emitted, *event)
			}
		}
	}
	return emitted, nil
}

// snapshotValues resolves the rule's field for every subject in scope.
func (s *RuleService) snapshotValues(ctx context.Context, tenantID string, rule *models.AlertRule) (map[string]float64, error) {
	out := make(map[string]float64)
	switch rule.Target {
	case models.AlertTargetAttendance:
		rows, err := s.attendance.RatesSince(ctx, tenantID, s.clock.Now().Add(-attendanceWindow))
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			switch rule.Field {
			case models.FieldAttendanceRate:
				out[row.SubjectID] = row.Rate
			case models.FieldLateCount:
				out[row.SubjectID] = float64(row.Late)
			}
		}
	case models.AlertTargetFee:
		rows, err := s.fees.Snapshot(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			var value float64
			switch rule.Field {
			case models.FieldDaysOverdue:
				value = float64(row.DaysOverdue)
			case models.FieldOutstanding:
				value = row.Outstanding
			default:
				continue
			}
			// A student can hold several fee records; keep the worst one.
			if existing, ok := out[row.StudentID]; !ok || value > existing {
				out[row.StudentID] = value
			}
		}
	case models.AlertTargetAcademic:
		if s.grades == nil {
			return nil, nil
		}
		averages, err := s.grades.GradeAverages(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		for subjectID, avg := range averages {
			out[subjectID] = avg
		}
	}
	return out, nil
}

// emit records one firing unless the (rule, subject) pair is inside its
// cooldown window. Returns nil without error when suppressed.
func (s *RuleService) emit(ctx context.Context, rule *models.AlertRule, subjectID string, value float64) (*models.AlertEvent, error) {
	now := s.clock.Now()
	cooldown := rule.Cooldown()
	if cooldown <= 0 {
		cooldown = s.cfg.DefaultCooldown
	}

	// Durable check first: the last emitted event is the source of truth.
	last, err := s.repo.LastEventAt(ctx, rule.TenantID, rule.ID, subjectID)
	if err == nil && now.Sub(last) < cooldown {
		return nil, nil
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("check cooldown: %w", err)
	}

	// SETNX claims the window against concurrent sweeps. Losing the claim
	// means another process already emitted for this window.
	key := fmt.Sprintf("alert:cooldown:%s:%s:%s", rule.TenantID, rule.ID, subjectID)
	won, err := s.cache.SetNX(ctx, key, now.Format(time.RFC3339), cooldown)
	if err != nil {
		s.logger.Warn("cooldown cache unavailable, relying on durable check",
			zap.String("ruleId", rule.ID),
			zap.Error(err))
	} else if !won {
		return nil, nil
	}

	payload, err := json.Marshal(map[string]interface{}{
		"field":     rule.Field,
		"value":     value,
		"threshold": rule.Threshold,
		"operator":  rule.Operator,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal alert payload: %w", err)
	}

	event := &models.AlertEvent{
		ID:             uuid.NewString(),
		TenantID:       rule.TenantID,
		RuleID:         rule.ID,
		RuleName:       rule.Name,
		SubjectID:      subjectID,
		TriggeredAt:    now,
		Payload:        payload,
		Channels:       rule.Channels,
		DeliveryStatus: models.DeliveryPending,
		CreatedAt:      now,
	}
	if err := s.repo.InsertEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("store alert event: %w", err)
	}

	s.logger.Info("alert fired",
		zap.String("tenantId", rule.TenantID),
		zap.String("ruleId", rule.ID),
		zap.String("ruleName", rule.Name),
		zap.String("subjectId", subjectID),
		zap.Float64("value", value))
	return event, nil
}
