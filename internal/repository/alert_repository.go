package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/campus-ops-api/internal/models"
)

// AlertRepository handles persistence for alert rules and emitted events.
// The last-event lookup doubles as the durable cooldown record when the
// cache is unavailable.
type AlertRepository struct {
	db *sqlx.DB
}

// NewAlertRepository constructs the repository.
func NewAlertRepository(db *sqlx.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

const ruleColumns = `id, tenant_id, name, target, field, operator, threshold, channels, cooldown_seconds, active, created_at, updated_at`

const eventColumns = `id, tenant_id, rule_id, rule_name, subject_id, triggered_at, payload, channels, delivery_status, delivery_error, delivered_at, created_at`

// InsertRule stores a new alert rule.
func (r *AlertRepository) InsertRule(ctx context.Context, rule *models.AlertRule) error {
	query := `INSERT INTO alert_rules (id, tenant_id, name, target, field, operator, threshold, channels, cooldown_seconds, active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := r.db.ExecContext(ctx, query,
		rule.ID, rule.TenantID, rule.Name, rule.Target, rule.Field, rule.Operator,
		rule.Threshold, rule.Channels, rule.CooldownSeconds, rule.Active,
		rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert alert rule: %w", err)
	}
	return nil
}

// FindRule loads a rule scoped to its tenant.
func (r *AlertRepository) FindRule(ctx context.Context, tenantID, id string) (*models.AlertRule, error) {
	query := fmt.Sprintf(`SELECT %s FROM alert_rules WHERE tenant_id = $1 AND id = $2`, ruleColumns)
	var rule models.AlertRule
	if err := r.db.GetContext(ctx, &rule, query, tenantID, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find alert rule: %w", err)
	}
	return &rule, nil
}

// UpdateRule persists rule edits.
func (r *AlertRepository) UpdateRule(ctx context.Context, rule *models.AlertRule) error {
	query := `UPDATE alert_rules
SET name = $1, target = $2, field = $3, operator = $4, threshold = $5,
    channels = $6, cooldown_seconds = $7, active = $8, updated_at = $9
WHERE tenant_id = $10 AND id = $11`
	res, err := r.db.ExecContext(ctx, query,
		rule.Name, rule.Target, rule.Field, rule.Operator, rule.Threshold,
		rule.Channels, rule.CooldownSeconds, rule.Active, rule.UpdatedAt,
		rule.TenantID, rule.ID)
	if err != nil {
		return fmt.Errorf("update alert rule: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListActiveRules returns a tenant's active rules, optionally narrowed
// to one target.
func (r *AlertRepository) ListActiveRules(ctx context.Context, tenantID string, target *models.AlertTarget) ([]models.AlertRule, error) {
	query := fmt.Sprintf(`SELECT %s FROM alert_rules WHERE tenant_id = $1 AND active`, ruleColumns)
	args := []interface{}{tenantID}
	if target != nil && target.Valid() {
		query += " AND target = $2"
		args = append(args, *target)
	}
	query += " ORDER BY created_at ASC"

	var rules []models.AlertRule
	if err := r.db.SelectContext(ctx, &rules, query, args...); err != nil {
		return nil, fmt.Errorf("list active alert rules: %w", err)
	}
	return rules, nil
}

// RuleTenantIDs lists tenants with at least one active rule, so sweeps
// skip idle tenants.
func (r *AlertRepository) RuleTenantIDs(ctx context.Context) ([]string, error) {
	query := `SELECT DISTINCT tenant_id FROM alert_rules WHERE active`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query); err != nil {
		return nil, fmt.Errorf("alert rule tenant ids: %w", err)
	}
	return ids, nil
}

// InsertEvent stores a freshly triggered event in pending state.
func (r *AlertRepository) InsertEvent(ctx context.Context, event *models.AlertEvent) error {
	query := `INSERT INTO alert_events (id, tenant_id, rule_id, rule_name, subject_id, triggered_at, payload, channels, delivery_status, delivery_error, delivered_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := r.db.ExecContext(ctx, query,
		event.ID, event.TenantID, event.RuleID, event.RuleName, event.SubjectID,
		event.TriggeredAt, event.Payload, event.Channels, event.DeliveryStatus,
		event.DeliveryError, event.DeliveredAt, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert alert event: %w", err)
	}
	return nil
}

// LastEventAt returns when the (rule, subject) pair last fired, or
// sql.ErrNoRows when it never has. This is the durable cooldown check
// behind the cache fast path.
func (r *AlertRepository) LastEventAt(ctx context.Context, tenantID, ruleID, subjectID string) (time.Time, error) {
	query := `SELECT triggered_at FROM alert_events
WHERE tenant_id = $1 AND rule_id = $2 AND subject_id = $3
ORDER BY triggered_at DESC LIMIT 1`
	var triggeredAt time.Time
	if err := r.db.GetContext(ctx, &triggeredAt, query, tenantID, ruleID, subjectID); err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, err
		}
		return time.Time{}, fmt.Errorf("last alert event: %w", err)
	}
	return triggeredAt, nil
}

// UpdateEventDelivery records the dispatch outcome of an event.
func (r *AlertRepository) UpdateEventDelivery(ctx context.Context, tenantID, eventID string, status models.AlertDeliveryStatus, deliveryError *string, deliveredAt *time.Time) error {
	query := `UPDATE alert_events SET delivery_status = $1, delivery_error = $2, delivered_at = $3
WHERE tenant_id = $4 AND id = $5`
	res, err := r.db.ExecContext(ctx, query, status, deliveryError, deliveredAt, tenantID, eventID)
	if err != nil {
		return fmt.Errorf("update alert event delivery: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListEvents returns events matching the filter plus a total count.
func (r *AlertRepository) ListEvents(ctx context.Context, filter models.AlertEventFilter) ([]models.AlertEvent, int, error) {
	where := []string{"tenant_id = $1"}
	args := []interface{}{filter.TenantID}
	if filter.RuleID != "" {
		where = append(where, fmt.Sprintf("rule_id = $%d", len(args)+1))
		args = append(args, filter.RuleID)
	}
	if filter.SubjectID != "" {
		where = append(where, fmt.Sprintf("subject_id = $%d", len(args)+1))
		args = append(args, filter.SubjectID)
	}
	if filter.Status != nil {
		where = append(where, fmt.Sprintf("delivery_status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	whereClause := strings.Join(where, " AND ")

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s FROM alert_events WHERE %s
ORDER BY triggered_at DESC
LIMIT %d OFFSET %d`, eventColumns, whereClause, size, offset)

	var events []models.AlertEvent
	if err := r.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list alert events: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM alert_events WHERE %s", whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count alert events: %w", err)
	}
	return events, total, nil
}
