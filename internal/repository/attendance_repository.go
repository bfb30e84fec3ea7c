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

// AttendanceRepository handles persistence for attendance records.
// Records are append-only: amendments insert a superseding row and stamp
// the prior row's superseded_by pointer in one transaction.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

const attendanceColumns = `id, tenant_id, subject_id, date, method, status, time_in, time_out,
latitude, longitude, accuracy_m, qr_token_id, confidence, verified_by, is_verified, notes,
supersedes_id, superseded_by, voided, void_reason, created_at, updated_at, verified_at`

// Insert stores a new attendance record.
func (r *AttendanceRepository) Insert(ctx context.Context, rec *models.AttendanceRecord) error {
	query := `INSERT INTO attendance_records (id, tenant_id, subject_id, date, method, status, time_in, time_out,
latitude, longitude, accuracy_m, qr_token_id, confidence, verified_by, is_verified, notes,
supersedes_id, voided, void_reason, created_at, updated_at, verified_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`
	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.TenantID, rec.SubjectID, rec.Date, rec.Method, rec.Status,
		rec.TimeIn, rec.TimeOut, rec.Latitude, rec.Longitude, rec.AccuracyM,
		rec.QRTokenID, rec.Confidence, rec.VerifiedBy, rec.IsVerified, rec.Notes,
		rec.SupersedesID, rec.Voided, rec.VoidReason, rec.CreatedAt, rec.UpdatedAt, rec.VerifiedAt)
	if err != nil {
		return fmt.Errorf("insert attendance record: %w", err)
	}
	return nil
}

// FindCurrent returns the non-superseded, non-voided record for the
// (tenant, subject, date) key, or sql.ErrNoRows.
func (r *AttendanceRepository) FindCurrent(ctx context.Context, tenantID, subjectID string, date time.Time) (*models.AttendanceRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM attendance_records
WHERE tenant_id = $1 AND subject_id = $2 AND date = $3 AND superseded_by IS NULL AND NOT voided`, attendanceColumns)
	var rec models.AttendanceRecord
	if err := r.db.GetContext(ctx, &rec, query, tenantID, subjectID, date); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find current attendance: %w", err)
	}
	return &rec, nil
}

// InsertSuperseding appends the amendment and stamps the superseded row
// in a single transaction so audit history never loses the link.
func (r *AttendanceRepository) InsertSuperseding(ctx context.Context, rec *models.AttendanceRecord, supersededID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin amend attendance: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`UPDATE attendance_records SET superseded_by = $1, updated_at = $2
WHERE id = $3 AND tenant_id = $4 AND superseded_by IS NULL`,
		rec.ID, rec.UpdatedAt, supersededID, rec.TenantID)
	if err != nil {
		return fmt.Errorf("stamp superseded attendance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("stamp superseded attendance: %w", err)
	}
	if affected == 0 {
		// Already amended by a concurrent writer.
		return sql.ErrNoRows
	}

	query := `INSERT INTO attendance_records (id, tenant_id, subject_id, date, method, status, time_in, time_out,
latitude, longitude, accuracy_m, qr_token_id, confidence, verified_by, is_verified, notes,
supersedes_id, voided, void_reason, created_at, updated_at, verified_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`
	if _, err := tx.ExecContext(ctx, query,
		rec.ID, rec.TenantID, rec.SubjectID, rec.Date, rec.Method, rec.Status,
		rec.TimeIn, rec.TimeOut, rec.Latitude, rec.Longitude, rec.AccuracyM,
		rec.QRTokenID, rec.Confidence, rec.VerifiedBy, rec.IsVerified, rec.Notes,
		rec.SupersedesID, rec.Voided, rec.VoidReason, rec.CreatedAt, rec.UpdatedAt, rec.VerifiedAt); err != nil {
		return fmt.Errorf("insert superseding attendance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit amend attendance: %w", err)
	}
	committed = true
	return nil
}

// Void soft-voids a record on dispute. History is preserved.
func (r *AttendanceRepository) Void(ctx context.Context, tenantID, id, reason string, now time.Time) error {
	query := `UPDATE attendance_records SET voided = true, void_reason = $3, updated_at = $4
WHERE tenant_id = $1 AND id = $2 AND NOT voided`
	res, err := r.db.ExecContext(ctx, query, tenantID, id, reason, now)
	if err != nil {
		return fmt.Errorf("void attendance record: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// List returns attendance rows matching the filter plus a total count.
func (r *AttendanceRepository) List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, int, error) {
	where := []string{"tenant_id = $1"}
	args := []interface{}{filter.TenantID}
	if filter.SubjectID != "" {
		where = append(where, fmt.Sprintf("subject_id = $%d", len(args)+1))
		args = append(args, filter.SubjectID)
	}
	if filter.Method != nil && filter.Method.Valid() {
		where = append(where, fmt.Sprintf("method = $%d", len(args)+1))
		args = append(args, *filter.Method)
	}
	if filter.Status != nil && filter.Status.Valid() {
		where = append(where, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.DateFrom != nil {
		where = append(where, fmt.Sprintf("date >= $%d", len(args)+1))
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		where = append(where, fmt.Sprintf("date <= $%d", len(args)+1))
		args = append(args, *filter.DateTo)
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

	query := fmt.Sprintf(`SELECT %s FROM attendance_records WHERE %s
ORDER BY date DESC, created_at DESC
LIMIT %d OFFSET %d`, attendanceColumns, whereClause, size, offset)

	var rows []models.AttendanceRecord
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list attendance: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM attendance_records WHERE %s", whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count attendance: %w", err)
	}
	return rows, total, nil
}

// Stats aggregates status counts for a subject (or the whole tenant when
// subjectID is empty) within the optional date window.
func (r *AttendanceRepository) Stats(ctx context.Context, tenantID, subjectID string, from, to *time.Time) (*models.AttendanceStats, error) {
	where := []string{"tenant_id = $1", "superseded_by IS NULL", "NOT voided"}
	args := []interface{}{tenantID}
	if subjectID != "" {
		where = append(where, fmt.Sprintf("subject_id = $%d", len(args)+1))
		args = append(args, subjectID)
	}
	if from != nil {
		where = append(where, fmt.Sprintf("date >= $%d", len(args)+1))
		args = append(args, *from)
	}
	if to != nil {
		where = append(where, fmt.Sprintf("date <= $%d", len(args)+1))
		args = append(args, *to)
	}
	query := fmt.Sprintf(`SELECT status, COUNT(*) AS cnt FROM attendance_records WHERE %s GROUP BY status`, strings.Join(where, " AND "))

	rows := []struct {
		Status string `db:"status"`
		Count  int    `db:"cnt"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("attendance stats: %w", err)
	}

	stats := &models.AttendanceStats{}
	for _, row := range rows {
		switch models.AttendanceStatus(row.Status) {
		case models.AttendanceStatusPresent:
			stats.Present += row.Count
		case models.AttendanceStatusAbsent:
			stats.Absent += row.Count
		case models.AttendanceStatusLate:
			stats.Late += row.Count
		case models.AttendanceStatusHalfDay:
			stats.HalfDay += row.Count
		case models.AttendanceStatusLeave:
			stats.Leave += row.Count
		case models.AttendanceStatusHoliday:
			stats.Holiday += row.Count
		}
		stats.Total += row.Count
	}
	if stats.Total > 0 {
		stats.PresentRate = float64(stats.Present+stats.Late) / float64(stats.Total) * 100
	}
	return stats, nil
}

// RatesSince returns per-subject attendance rates over records on or
// after the cutoff, feeding attendance-targeted rule evaluation.
func (r *AttendanceRepository) RatesSince(ctx context.Context, tenantID string, since time.Time) ([]models.AttendanceRateRow, error) {
	query := `SELECT subject_id,
       COUNT(*) AS total,
       COUNT(*) FILTER (WHERE status = 'present') AS present,
       COUNT(*) FILTER (WHERE status = 'late') AS late,
       COALESCE(COUNT(*) FILTER (WHERE status IN ('present', 'late')) * 100.0 / NULLIF(COUNT(*), 0), 0) AS rate
FROM attendance_records
WHERE tenant_id = $1 AND date >= $2 AND superseded_by IS NULL AND NOT voided
GROUP BY subject_id`
	var rows []models.AttendanceRateRow
	if err := r.db.SelectContext(ctx, &rows, query, tenantID, since); err != nil {
		return nil, fmt.Errorf("attendance rates: %w", err)
	}
	return rows, nil
}

// FindFence loads the tenant's geofence, or sql.ErrNoRows when none is
// configured.
func (r *AttendanceRepository) FindFence(ctx context.Context, tenantID string) (*models.Fence, error) {
	query := `SELECT tenant_id, latitude, longitude, radius_meters FROM tenant_fences WHERE tenant_id = $1`
	var fence models.Fence
	if err := r.db.GetContext(ctx, &fence, query, tenantID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find tenant fence: %w", err)
	}
	return &fence, nil
}

// FindSchedule loads the tenant's active attendance schedule, or
// sql.ErrNoRows when none is configured.
func (r *AttendanceRepository) FindSchedule(ctx context.Context, tenantID string) (*models.AttendanceSchedule, error) {
	query := `SELECT id, tenant_id, name, start_time, end_time, late_after_mins, active, created_at, updated_at
FROM attendance_schedules WHERE tenant_id = $1 AND active
ORDER BY updated_at DESC LIMIT 1`
	var schedule models.AttendanceSchedule
	if err := r.db.GetContext(ctx, &schedule, query, tenantID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find attendance schedule: %w", err)
	}
	return &schedule, nil
}
