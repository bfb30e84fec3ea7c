package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-ops-api/internal/geofence"
	"github.com/noah-isme/campus-ops-api/internal/models"
	"github.com/noah-isme/campus-ops-api/pkg/clock"
	"github.com/noah-isme/campus-ops-api/pkg/config"
	appErrors "github.com/noah-isme/campus-ops-api/pkg/errors"
)

type stubAttendanceStore struct {
	records   map[string]*models.AttendanceRecord
	fence     *models.Fence
	schedule  *models.AttendanceSchedule
	inserted  []*models.AttendanceRecord
	voidedIDs []string
}

func newStubAttendanceStore() *stubAttendanceStore {
	return &stubAttendanceStore{records: make(map[string]*models.AttendanceRecord)}
}

func (s *stubAttendanceStore) currentKey(tenantID, subjectID string, date time.Time) string {
	return tenantID + "/" + subjectID + "/" + date.Format("2006-01-02")
}

func (s *stubAttendanceStore) Insert(_ context.Context, rec *models.AttendanceRecord) error {
	copied := *rec
	s.records[s.currentKey(rec.TenantID, rec.SubjectID, rec.Date)] = &copied
	s.inserted = append(s.inserted, &copied)
	return nil
}

func (s *stubAttendanceStore) FindCurrent(_ context.Context, tenantID, subjectID string, date time.Time) (*models.AttendanceRecord, error) {
	rec, ok := s.records[s.currentKey(tenantID, subjectID, date)]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *rec
	return &copied, nil
}

func (s *stubAttendanceStore) InsertSuperseding(_ context.Context, rec *models.AttendanceRecord, supersededID string) error {
	key := s.currentKey(rec.TenantID, rec.SubjectID, rec.Date)
	prior, ok := s.records[key]
	if !ok || prior.ID != supersededID {
		return sql.ErrNoRows
	}
	prior.SupersededBy = &rec.ID
	copied := *rec
	s.records[key] = &copied
	return nil
}

func (s *stubAttendanceStore) Void(_ context.Context, tenantID, id, reason string, _ time.Time) error {
	for _, rec := range s.records {
		if rec.TenantID == tenantID && rec.ID == id {
			rec.Voided = true
			rec.VoidReason = &reason
			s.voidedIDs = append(s.voidedIDs, id)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (s *stubAttendanceStore) List(_ context.Context, _ models.AttendanceFilter) ([]models.AttendanceRecord, int, error) {
	var out []models.AttendanceRecord
	for _, rec := range s.records {
		out = append(out, *rec)
	}
	return out, len(out), nil
}

func (s *stubAttendanceStore) Stats(_ context.Context, _, _ string, _, _ *time.Time) (*models.AttendanceStats, error) {
	return &models.AttendanceStats{}, nil
}

func (s *stubAttendanceStore) FindFence(_ context.Context, _ string) (*models.Fence, error) {
	if s.fence == nil {
		return nil, sql.ErrNoRows
	}
	return s.fence, nil
}

func (s *stubAttendanceStore) FindSchedule(_ context.Context, _ string) (*models.AttendanceSchedule, error) {
	if s.schedule == nil {
		return nil, sql.ErrNoRows
	}
	return s.schedule, nil
}

type stubQRConsumer struct {
	result   *models.ConsumeResult
	err      error
	consumed int
}

func (s *stubQRConsumer) Consume(_ context.Context, _, _ string) (*models.ConsumeResult, error) {
	s.consumed++
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type stubBiometric struct {
	confidence float64
	err        error
}

func (s *stubBiometric) Verify(_ context.Context, _, _ string, _ []byte) (float64, error) {
	return s.confidence, s.err
}

type stubRFID struct {
	bySubject map[string]string
}

func (s *stubRFID) Resolve(_ context.Context, _, cardUID string) (string, error) {
	subject, ok := s.bySubject[cardUID]
	if !ok {
		return "", sql.ErrNoRows
	}
	return subject, nil
}

func verificationConfig() config.VerificationConfig {
	return config.VerificationConfig{
		GeoAccuracyToleranceM:  50,
		BiometricMinConfidence: 0.85,
		LateGraceWindow:        15 * time.Minute,
		SessionStart:           "08:00",
	}
}

func newAttendanceService(store *stubAttendanceStore, qr qrConsumer, bio BiometricVerifier, rfid RFIDResolver, clk clock.Clock) *AttendanceService {
	cfg := verificationConfig()
	return NewAttendanceService(store, qr, bio, rfid, geofence.NewValidator(cfg.GeoAccuracyToleranceM), cfg, clk, zap.NewNop())
}

func TestAttendanceSubmitManualRequiresAuthorizedRole(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	svc := newAttendanceService(newStubAttendanceStore(), &stubQRConsumer{}, nil, nil, clk)

	_, err := svc.Submit(context.Background(), SubmitAttendanceParams{
		TenantID:  "tenant-1",
		SubjectID: "student-1",
		Method:    models.MethodManual,
		Status:    models.AttendanceStatusPresent,
		ActorID:   "student-1",
		ActorRole: models.RoleStudent,
	})
	require.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestAttendanceSubmitManualAndIdempotentRepeat(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	store := newStubAttendanceStore()
	svc := newAttendanceService(store, &stubQRConsumer{}, nil, nil, clk)

	params := SubmitAttendanceParams{
		TenantID:  "tenant-1",
		SubjectID: "student-1",
		Method:    models.MethodManual,
		Status:    models.AttendanceStatusPresent,
		ActorID:   "teacher-1",
		ActorRole: models.RoleTeacher,
	}

	first, err := svc.Submit(context.Background(), params)
	require.NoError(t, err)
	require.True(t, first.IsVerified)

	second, err := svc.Submit(context.Background(), params)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Len(t, store.inserted, 1)
}

func TestAttendanceSubmitQRDoesNotBurnTokenOnRepeat(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	store := newStubAttendanceStore()
	qr := &stubQRConsumer{result: &models.ConsumeResult{
		Token:     &models.QRCodeToken{ID: "qr-1"},
		Remaining: 9,
	}}
	svc := newAttendanceService(store, qr, nil, nil, clk)

	params := SubmitAttendanceParams{
		TenantID:  "tenant-1",
		SubjectID: "student-1",
		Method:    models.MethodQR,
		QRCode:    "ABCD1234",
		ActorID:   "student-1",
		ActorRole: models.RoleStudent,
	}

	first, err := svc.Submit(context.Background(), params)
	require.NoError(t, err)
	require.NotNil(t, first.QRTokenID)
	require.Equal(t, "qr-1", *first.QRTokenID)

	_, err = svc.Submit(context.Background(), params)
	require.NoError(t, err)
	require.Equal(t, 1, qr.consumed, "repeat submission must not consume another use")
}

func TestAttendanceSubmitGeolocation(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	store := newStubAttendanceStore()
	store.fence = &models.Fence{TenantID: "tenant-1", Latitude: -6.2, Longitude: 106.8, RadiusMeters: 150}
	svc := newAttendanceService(store, &stubQRConsumer{}, nil, nil, clk)

	lat, lon, acc := -6.2, 106.8, 10.0
	rec, err := svc.Submit(context.Background(), SubmitAttendanceParams{
		TenantID:  "tenant-1",
		SubjectID: "student-1",
		Method:    models.MethodGeolocation,
		Latitude:  &lat,
		Longitude: &lon,
		AccuracyM: &acc,
		ActorID:   "student-1",
		ActorRole: models.RoleStudent,
	})
	require.NoError(t, err)
	require.Equal(t, models.AttendanceStatusPresent, rec.Status)

	farLat := -6.5
	_, err = svc.Submit(context.Background(), SubmitAttendanceParams{
		TenantID:  "tenant-1",
		SubjectID: "student-2",
		Method:    models.MethodGeolocation,
		Latitude:  &farLat,
		Longitude: &lon,
		AccuracyM: &acc,
		ActorID:   "student-2",
		ActorRole: models.RoleStudent,
	})
	require.Equal(t, appErrors.ErrOutsideFence.Code, appErrors.FromError(err).Code)

	badAcc := 80.0
	_, err = svc.Submit(context.Background(), SubmitAttendanceParams{
		TenantID:  "tenant-1",
		SubjectID: "student-3",
		Method:    models.MethodGeolocation,
		Latitude:  &lat,
		Longitude: &lon,
		AccuracyM: &badAcc,
		ActorID:   "student-3",
		ActorRole: models.RoleStudent,
	})
	require.Equal(t, appErrors.ErrOutsideFence.Code, appErrors.FromError(err).Code, "poor accuracy fails closed")
}

func TestAttendanceSubmitBiometricThreshold(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	store := newStubAttendanceStore()

	svc := newAttendanceService(store, &stubQRConsumer{}, &stubBiometric{confidence: 0.91}, nil, clk)
	rec, err := svc.Submit(context.Background(), SubmitAttendanceParams{
		TenantID:        "tenant-1",
		SubjectID:       "student-1",
		Method:          models.MethodBiometric,
		BiometricSample: []byte{0x01},
		ActorID:         "student-1",
		ActorRole:       models.RoleStudent,
	})
	require.NoError(t, err)
	require.InDelta(t, 0.91, *rec.Confidence, 0.001)

	svc = newAttendanceService(newStubAttendanceStore(), &stubQRConsumer{}, &stubBiometric{confidence: 0.80}, nil, clk)
	_, err = svc.Submit(context.Background(), SubmitAttendanceParams{
		TenantID:        "tenant-1",
		SubjectID:       "student-1",
		Method:          models.MethodBiometric,
		BiometricSample: []byte{0x01},
		ActorID:         "student-1",
		ActorRole:       models.RoleStudent,
	})
	require.Equal(t, appErrors.ErrLowConfidence.Code, appErrors.FromError(err).Code)
}

func TestAttendanceSubmitRFIDResolvesSubject(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	store := newStubAttendanceStore()
	rfid := &stubRFID{bySubject: map[string]string{"card-9": "student-1"}}
	svc := newAttendanceService(store, &stubQRConsumer{}, nil, rfid, clk)

	rec, err := svc.Submit(context.Background(), SubmitAttendanceParams{
		TenantID:  "tenant-1",
		Method:    models.MethodRFID,
		CardUID:   "card-9",
		ActorID:   "gate-1",
		ActorRole: models.RoleSystem,
	})
	require.NoError(t, err)
	require.Equal(t, "student-1", rec.SubjectID)

	_, err = svc.Submit(context.Background(), SubmitAttendanceParams{
		TenantID:  "tenant-1",
		Method:    models.MethodRFID,
		CardUID:   "card-unknown",
		ActorID:   "gate-1",
		ActorRole: models.RoleSystem,
	})
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestAttendanceLateDerivation(t *testing.T) {
	store := newStubAttendanceStore()

	// 08:20 with an 08:00 start and 15m grace is late.
	clk := clock.NewFixed(time.Date(2026, 3, 2, 8, 20, 0, 0, time.UTC))
	svc := newAttendanceService(store, &stubQRConsumer{result: &models.ConsumeResult{
		Token: &models.QRCodeToken{ID: "qr-1"},
	}}, nil, nil, clk)

	rec, err := svc.Submit(context.Background(), SubmitAttendanceParams{
		TenantID:  "tenant-1",
		SubjectID: "student-1",
		Method:    models.MethodQR,
		QRCode:    "ABCD1234",
		ActorID:   "student-1",
		ActorRole: models.RoleStudent,
	})
	require.NoError(t, err)
	require.Equal(t, models.AttendanceStatusLate, rec.Status)

	// A tenant schedule starting 08:30 makes the same instant on time.
	store2 := newStubAttendanceStore()
	store2.schedule = &models.AttendanceSchedule{StartTime: "08:30", LateAfterMins: 10, Active: true}
	svc2 := newAttendanceService(store2, &stubQRConsumer{result: &models.ConsumeResult{
		Token: &models.QRCodeToken{ID: "qr-1"},
	}}, nil, nil, clk)

	rec, err = svc2.Submit(context.Background(), SubmitAttendanceParams{
		TenantID:  "tenant-1",
		SubjectID: "student-1",
		Method:    models.MethodQR,
		QRCode:    "ABCD1234",
		ActorID:   "student-1",
		ActorRole: models.RoleStudent,
	})
	require.NoError(t, err)
	require.Equal(t, models.AttendanceStatusPresent, rec.Status)
}

func TestAttendanceAmendSupersedes(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	store := newStubAttendanceStore()
	svc := newAttendanceService(store, &stubQRConsumer{}, nil, nil, clk)

	original, err := svc.Submit(context.Background(), SubmitAttendanceParams{
		TenantID:  "tenant-1",
		SubjectID: "student-1",
		Method:    models.MethodManual,
		Status:    models.AttendanceStatusAbsent,
		ActorID:   "teacher-1",
		ActorRole: models.RoleTeacher,
	})
	require.NoError(t, err)

	amended, err := svc.Amend(context.Background(), AmendAttendanceParams{
		TenantID:  "tenant-1",
		SubjectID: "student-1",
		Date:      clk.Now(),
		Status:    models.AttendanceStatusLeave,
		ActorID:   "admin-1",
		ActorRole: models.RoleAdmin,
	})
	require.NoError(t, err)
	require.Equal(t, models.AttendanceStatusLeave, amended.Status)
	require.NotNil(t, amended.SupersedesID)
	require.Equal(t, original.ID, *amended.SupersedesID)

	current, err := store.FindCurrent(context.Background(), "tenant-1", "student-1", amended.Date)
	require.NoError(t, err)
	require.Equal(t, amended.ID, current.ID)
}

func TestAttendanceVoidRequiresReason(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	store := newStubAttendanceStore()
	svc := newAttendanceService(store, &stubQRConsumer{}, nil, nil, clk)

	err := svc.Void(context.Background(), "tenant-1", "att-1", "", models.RoleAdmin)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	err = svc.Void(context.Background(), "tenant-1", "att-1", "disputed", models.RoleStudent)
	require.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}
