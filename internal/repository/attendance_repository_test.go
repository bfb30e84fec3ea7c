package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-ops-api/internal/models"
)

func attendanceRowColumns() []string {
	return []string{
		"id", "tenant_id", "subject_id", "date", "method", "status", "time_in", "time_out",
		"latitude", "longitude", "accuracy_m", "qr_token_id", "confidence", "verified_by",
		"is_verified", "notes", "supersedes_id", "superseded_by", "voided", "void_reason",
		"created_at", "updated_at", "verified_at",
	}
}

func TestAttendanceRepositoryFindCurrent(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewAttendanceRepository(db)
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	now := time.Now()
	rows := sqlmock.NewRows(attendanceRowColumns()).
		AddRow("att-1", "tenant-1", "student-1", day, "manual", "present", nil, nil,
			nil, nil, nil, nil, nil, "teacher-1",
			true, nil, nil, nil, false, nil,
			now, now, &now)

	mock.ExpectQuery(regexp.QuoteMeta("superseded_by IS NULL AND NOT voided")).
		WithArgs("tenant-1", "student-1", day).
		WillReturnRows(rows)

	rec, err := repo.FindCurrent(context.Background(), "tenant-1", "student-1", day)
	require.NoError(t, err)
	require.Equal(t, "att-1", rec.ID)
	require.Equal(t, models.AttendanceStatusPresent, rec.Status)

	mock.ExpectQuery(regexp.QuoteMeta("superseded_by IS NULL AND NOT voided")).
		WithArgs("tenant-1", "student-2", day).
		WillReturnError(sql.ErrNoRows)
	_, err = repo.FindCurrent(context.Background(), "tenant-1", "student-2", day)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryInsertSuperseding(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewAttendanceRepository(db)
	now := time.Now()
	rec := &models.AttendanceRecord{
		ID:         "att-2",
		TenantID:   "tenant-1",
		SubjectID:  "student-1",
		Date:       time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		Method:     models.MethodManual,
		Status:     models.AttendanceStatusLate,
		VerifiedBy: "teacher-1",
		IsVerified: true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	prior := "att-1"
	rec.SupersedesID = &prior

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET superseded_by")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO attendance_records")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.InsertSuperseding(context.Background(), rec, prior))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryInsertSupersedingLosesRace(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewAttendanceRepository(db)
	rec := &models.AttendanceRecord{
		ID:       "att-2",
		TenantID: "tenant-1",
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET superseded_by")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.InsertSuperseding(context.Background(), rec, "att-1")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryStats(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewAttendanceRepository(db)
	rows := sqlmock.NewRows([]string{"status", "cnt"}).
		AddRow("present", 16).
		AddRow("late", 2).
		AddRow("absent", 2)

	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY status")).
		WithArgs("tenant-1", "student-1").
		WillReturnRows(rows)

	stats, err := repo.Stats(context.Background(), "tenant-1", "student-1", nil, nil)
	require.NoError(t, err)
	require.Equal(t, 20, stats.Total)
	require.Equal(t, 16, stats.Present)
	require.InDelta(t, 90.0, stats.PresentRate, 0.001)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryRatesSince(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewAttendanceRepository(db)
	rows := sqlmock.NewRows([]string{"subject_id", "total", "present", "late", "rate"}).
		AddRow("student-1", 20, 12, 2, 70.0).
		AddRow("student-2", 20, 19, 1, 100.0)

	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY subject_id")).
		WithArgs("tenant-1", sqlmock.AnyArg()).
		WillReturnRows(rows)

	rates, err := repo.RatesSince(context.Background(), "tenant-1", time.Now().AddDate(0, -1, 0))
	require.NoError(t, err)
	require.Len(t, rates, 2)
	require.Equal(t, 70.0, rates[0].Rate)
	require.NoError(t, mock.ExpectationsWereMet())
}
