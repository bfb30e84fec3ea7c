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

// FeeRepository handles persistence for fee records and their payments.
// Derived fields (paid_amount, late_fee_accrued, status) are only ever
// written through UpdateDerived, which is guarded by the version column.
type FeeRepository struct {
	db *sqlx.DB
}

// NewFeeRepository constructs the repository.
func NewFeeRepository(db *sqlx.DB) *FeeRepository {
	return &FeeRepository{db: db}
}

const feeColumns = `id, tenant_id, student_id, fee_type, academic_year, total_amount, paid_amount,
discount_amount, late_fee_accrued, due_date, grace_period_days, status, waived, waiver_reason,
description, version, created_at, updated_at`

// Insert stores a newly assessed fee record.
func (r *FeeRepository) Insert(ctx context.Context, rec *models.FeeRecord) error {
	query := `INSERT INTO fee_records (id, tenant_id, student_id, fee_type, academic_year, total_amount, paid_amount,
discount_amount, late_fee_accrued, due_date, grace_period_days, status, waived, waiver_reason,
description, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`
	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.TenantID, rec.StudentID, rec.FeeType, rec.AcademicYear,
		rec.TotalAmount, rec.PaidAmount, rec.DiscountAmount, rec.LateFeeAccrued,
		rec.DueDate, rec.GracePeriodDays, rec.Status, rec.Waived, rec.WaiverReason,
		rec.Description, rec.Version, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert fee record: %w", err)
	}
	return nil
}

// FindByID loads a fee record scoped to its tenant.
func (r *FeeRepository) FindByID(ctx context.Context, tenantID, id string) (*models.FeeRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM fee_records WHERE tenant_id = $1 AND id = $2`, feeColumns)
	var rec models.FeeRecord
	if err := r.db.GetContext(ctx, &rec, query, tenantID, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find fee record: %w", err)
	}
	return &rec, nil
}

// UpdateDerived persists recomputed derived fields with an optimistic
// version check. sql.ErrNoRows means the record changed underneath the
// caller, who should reload and recompute.
func (r *FeeRepository) UpdateDerived(ctx context.Context, rec *models.FeeRecord, expectedVersion int64) error {
	query := `UPDATE fee_records
SET paid_amount = $1, late_fee_accrued = $2, status = $3, waived = $4, waiver_reason = $5,
    version = version + 1, updated_at = $6
WHERE tenant_id = $7 AND id = $8 AND version = $9`
	res, err := r.db.ExecContext(ctx, query,
		rec.PaidAmount, rec.LateFeeAccrued, rec.Status, rec.Waived, rec.WaiverReason,
		rec.UpdatedAt, rec.TenantID, rec.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("update fee record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update fee record: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	rec.Version = expectedVersion + 1
	return nil
}

// InsertPayment appends an immutable payment fact.
func (r *FeeRepository) InsertPayment(ctx context.Context, p *models.Payment) error {
	query := `INSERT INTO payments (id, tenant_id, fee_record_id, amount, method, reference, paid_at, verified, verified_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.TenantID, p.FeeRecordID, p.Amount, p.Method, p.Reference,
		p.PaidAt, p.Verified, p.VerifiedBy, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// ListPayments returns all payments for a fee record in paid order.
func (r *FeeRepository) ListPayments(ctx context.Context, tenantID, feeRecordID string) ([]models.Payment, error) {
	query := `SELECT id, tenant_id, fee_record_id, amount, method, reference, paid_at, verified, verified_by, created_at
FROM payments WHERE tenant_id = $1 AND fee_record_id = $2 ORDER BY paid_at ASC`
	var payments []models.Payment
	if err := r.db.SelectContext(ctx, &payments, query, tenantID, feeRecordID); err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return payments, nil
}

// FindPayment loads a single payment scoped to its tenant.
func (r *FeeRepository) FindPayment(ctx context.Context, tenantID, paymentID string) (*models.Payment, error) {
	query := `SELECT id, tenant_id, fee_record_id, amount, method, reference, paid_at, verified, verified_by, created_at
FROM payments WHERE tenant_id = $1 AND id = $2`
	var p models.Payment
	if err := r.db.GetContext(ctx, &p, query, tenantID, paymentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find payment: %w", err)
	}
	return &p, nil
}

// List returns fee records matching the filter plus a total count.
func (r *FeeRepository) List(ctx context.Context, filter models.FeeFilter) ([]models.FeeRecord, int, error) {
	where := []string{"tenant_id = $1"}
	args := []interface{}{filter.TenantID}
	if filter.StudentID != "" {
		where = append(where, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.FeeType != "" {
		where = append(where, fmt.Sprintf("fee_type = $%d", len(args)+1))
		args = append(args, filter.FeeType)
	}
	if filter.Status != nil && filter.Status.Valid() {
		where = append(where, fmt.Sprintf("status = $%d", len(args)+1))
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

	query := fmt.Sprintf(`SELECT %s FROM fee_records WHERE %s
ORDER BY due_date ASC, created_at DESC
LIMIT %d OFFSET %d`, feeColumns, whereClause, size, offset)

	var rows []models.FeeRecord
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list fee records: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM fee_records WHERE %s", whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count fee records: %w", err)
	}
	return rows, total, nil
}

// SweepCandidates returns non-terminal records whose grace deadline has
// passed or whose status may still move, for periodic recomputation.
func (r *FeeRepository) SweepCandidates(ctx context.Context, tenantID string) ([]models.FeeRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM fee_records
WHERE tenant_id = $1
  AND status NOT IN ('paid', 'cancelled', 'refunded')
ORDER BY due_date ASC`, feeColumns)
	var rows []models.FeeRecord
	if err := r.db.SelectContext(ctx, &rows, query, tenantID); err != nil {
		return nil, fmt.Errorf("fee sweep candidates: %w", err)
	}
	return rows, nil
}

// TenantIDs lists tenants holding at least one non-terminal fee record,
// so sweeps skip idle tenants.
func (r *FeeRepository) TenantIDs(ctx context.Context) ([]string, error) {
	query := `SELECT DISTINCT tenant_id FROM fee_records WHERE status NOT IN ('cancelled', 'refunded')`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query); err != nil {
		return nil, fmt.Errorf("fee tenant ids: %w", err)
	}
	return ids, nil
}

// Stats aggregates a tenant's fee position for the optional academic year.
func (r *FeeRepository) Stats(ctx context.Context, tenantID, academicYear string) (*models.FeeStats, error) {
	where := []string{"tenant_id = $1", "status NOT IN ('cancelled', 'refunded')"}
	args := []interface{}{tenantID}
	if academicYear != "" {
		where = append(where, fmt.Sprintf("academic_year = $%d", len(args)+1))
		args = append(args, academicYear)
	}
	query := fmt.Sprintf(`SELECT
  COALESCE(SUM(total_amount - discount_amount + late_fee_accrued), 0) AS total_assessed,
  COALESCE(SUM(paid_amount), 0) AS total_collected,
  COALESCE(SUM(GREATEST(total_amount - discount_amount + late_fee_accrued - paid_amount, 0)), 0) AS total_outstanding,
  COALESCE(SUM(late_fee_accrued), 0) AS total_late_fees,
  COUNT(*) FILTER (WHERE status = 'overdue') AS overdue_count,
  COUNT(*) AS record_count
FROM fee_records WHERE %s`, strings.Join(where, " AND "))

	var stats models.FeeStats
	if err := r.db.GetContext(ctx, &stats, query, args...); err != nil {
		return nil, fmt.Errorf("fee stats: %w", err)
	}
	return &stats, nil
}

// Snapshot returns per-record positions feeding fee-targeted rule
// evaluation. days_overdue counts from the grace deadline, not due_date.
func (r *FeeRepository) Snapshot(ctx context.Context, tenantID string, now time.Time) ([]models.FeeSnapshotRow, error) {
	query := `SELECT id AS fee_record_id, student_id, status,
  GREATEST(total_amount - discount_amount + late_fee_accrued - paid_amount, 0) AS outstanding,
  GREATEST(EXTRACT(DAY FROM $2::timestamptz - (due_date + grace_period_days * INTERVAL '1 day'))::int, 0) AS days_overdue
FROM fee_records
WHERE tenant_id = $1 AND status NOT IN ('paid', 'cancelled', 'refunded')`
	var rows []models.FeeSnapshotRow
	if err := r.db.SelectContext(ctx, &rows, query, tenantID, now); err != nil {
		return nil, fmt.Errorf("fee snapshot: %w", err)
	}
	return rows, nil
}
