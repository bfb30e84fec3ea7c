package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-ops-api/internal/geofence"
	"github.com/noah-isme/campus-ops-api/internal/models"
	"github.com/noah-isme/campus-ops-api/pkg/clock"
	"github.com/noah-isme/campus-ops-api/pkg/config"
	appErrors "github.com/noah-isme/campus-ops-api/pkg/errors"
)

type attendanceStore interface {
	Insert(ctx context.Context, rec *models.AttendanceRecord) error
	FindCurrent(ctx context.Context, tenantID, subjectID string, date time.Time) (*models.AttendanceRecord, error)
	InsertSuperseding(ctx context.Context, rec *models.AttendanceRecord, supersededID string) error
	Void(ctx context.Context, tenantID, id, reason string, now time.Time) error
	List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, int, error)
	Stats(ctx context.Context, tenantID, subjectID string, from, to *time.Time) (*models.AttendanceStats, error)
	FindFence(ctx context.Context, tenantID string) (*models.Fence, error)
	FindSchedule(ctx context.Context, tenantID string) (*models.AttendanceSchedule, error)
}

type qrConsumer interface {
	Consume(ctx context.Context, tenantID, code string) (*models.ConsumeResult, error)
}

// BiometricVerifier matches a subject against a captured sample. The
// engine treats it as an oracle: it receives a score and a subject
// assertion, never raw biometric data.
type BiometricVerifier interface {
	Verify(ctx context.Context, tenantID, subjectID string, sample []byte) (confidence float64, err error)
}

// RFIDResolver maps a card UID to the subject it is assigned to.
type RFIDResolver interface {
	Resolve(ctx context.Context, tenantID, cardUID string) (subjectID string, err error)
}

// SubmitAttendanceParams is a raw attendance submission before
// validation. Exactly the fields required by the declared method must
// be set.
type SubmitAttendanceParams struct {
	TenantID  string
	SubjectID string
	Date      time.Time
	Method    models.AttendanceMethod
	TimeIn    *time.Time
	Notes     *string

	// Actor context.
	ActorID   string
	ActorRole models.UserRole

	// manual
	Status models.AttendanceStatus

	// geolocation
	Latitude  *float64
	Longitude *float64
	AccuracyM *float64

	// qr
	QRCode string

	// biometric
	BiometricSample []byte
	// rfid
	CardUID string
}

// AmendAttendanceParams corrects an existing record by superseding it.
type AmendAttendanceParams struct {
	TenantID  string
	SubjectID string
	Date      time.Time
	Status    models.AttendanceStatus
	Notes     *string
	ActorID   string
	ActorRole models.UserRole
}

// AttendanceService validates submissions, derives status and persists
// verified records. Each submission moves Received -> Validating ->
// Verified or Rejected; rejections surface as typed errors and nothing
// is persisted for them.
type AttendanceService struct {
	repo      attendanceStore
	qr        qrConsumer
	biometric BiometricVerifier
	rfid      RFIDResolver
	geo       *geofence.Validator
	cfg       config.VerificationConfig
	clock     clock.Clock
	logger    *zap.Logger
}

// NewAttendanceService constructs the service. biometric and rfid may be
// nil when the tenant fleet does not use those methods; submissions
// declaring them are then rejected.
func NewAttendanceService(
	repo attendanceStore,
	qr qrConsumer,
	biometric BiometricVerifier,
	rfid RFIDResolver,
	geo *geofence.Validator,
	cfg config.VerificationConfig,
	clk clock.Clock,
	logger *zap.Logger,
) *AttendanceService {
	return &AttendanceService{
		repo:      repo,
		qr:        qr,
		biometric: biometric,
		rfid:      rfid,
		geo:       geo,
		cfg:       cfg,
		clock:     clk,
		logger:    logger,
	}
}

// Submit runs the verification pipeline for one attendance submission.
// On success the verified record is persisted and returned. A repeated
// submission for the same (tenant, subject, date) returns the existing
// record unchanged.
func (s *AttendanceService) Submit(ctx context.Context, params SubmitAttendanceParams) (*models.AttendanceRecord, error) {
	if params.TenantID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "tenant is required")
	}
	if !params.Method.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported attendance method %q", params.Method))
	}

	now := s.clock.Now()
	day := truncateToDay(params.Date)
	if day.IsZero() {
		day = truncateToDay(now)
	}

	rec := &models.AttendanceRecord{
		ID:         uuid.NewString(),
		TenantID:   params.TenantID,
		SubjectID:  params.SubjectID,
		Date:       day,
		Method:     params.Method,
		TimeIn:     params.TimeIn,
		Notes:      params.Notes,
		VerifiedBy: params.ActorID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if rec.TimeIn == nil {
		rec.TimeIn = &now
	}

	// Idempotency: one current record per (tenant, subject, date). The
	// check runs before verification so a duplicate qr submission does
	// not burn a token use. RFID resolves its subject during
	// verification and is re-checked below.
	if params.SubjectID != "" {
		if existing, err := s.repo.FindCurrent(ctx, params.TenantID, params.SubjectID, day); err == nil {
			return existing, nil
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "check existing attendance")
		}
	}

	if err := s.verify(ctx, rec, params); err != nil {
		// Policy rejections are recorded as audit facts; anything else is
		// the caller's input or our infrastructure failing.
		if appErrors.IsPolicyRejection(err) {
			s.logger.Warn("attendance verification rejected",
				zap.String("tenantId", params.TenantID),
				zap.String("subjectId", params.SubjectID),
				zap.String("method", string(params.Method)),
				zap.String("reason", appErrors.FromError(err).Code))
		}
		return nil, err
	}

	if rec.SubjectID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "subject is required")
	}

	// Status can still be forced by a manual submission; every other
	// method derives present vs late from the schedule.
	if rec.Status == "" {
		rec.Status = s.deriveStatus(ctx, rec.TenantID, *rec.TimeIn)
	}

	rec.IsVerified = true
	rec.VerifiedAt = &now

	if params.Method == models.MethodRFID {
		if existing, err := s.repo.FindCurrent(ctx, rec.TenantID, rec.SubjectID, rec.Date); err == nil {
			return existing, nil
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "check existing attendance")
		}
	}

	if err := s.repo.Insert(ctx, rec); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "store attendance record")
	}

	s.logger.Info("attendance verified",
		zap.String("tenantId", rec.TenantID),
		zap.String("subjectId", rec.SubjectID),
		zap.String("method", string(rec.Method)),
		zap.String("status", string(rec.Status)))
	return rec, nil
}

// verify applies the method-specific checks and fills verification
// metadata on the record. The switch is exhaustive over the closed
// method set.
func (s *AttendanceService) verify(ctx context.Context, rec *models.AttendanceRecord, params SubmitAttendanceParams) error {
	switch params.Method {
	case models.MethodManual:
		if !params.ActorRole.CanVerifyAttendance() {
			return appErrors.Clone(appErrors.ErrForbidden, "role may not record manual attendance")
		}
		if !params.Status.Valid() {
			return appErrors.Clone(appErrors.ErrValidation, "manual submissions require a valid status")
		}
		rec.Status = params.Status
		return nil

	case models.MethodQR:
		if params.QRCode == "" {
			return appErrors.Clone(appErrors.ErrValidation, "qr submissions require a code")
		}
		result, err := s.qr.Consume(ctx, params.TenantID, params.QRCode)
		if err != nil {
			return err
		}
		rec.QRTokenID = &result.Token.ID
		return nil

	case models.MethodGeolocation:
		if params.Latitude == nil || params.Longitude == nil || params.AccuracyM == nil {
			return appErrors.Clone(appErrors.ErrValidation, "geolocation submissions require latitude, longitude and accuracy")
		}
		fence, err := s.repo.FindFence(ctx, params.TenantID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrValidation, "tenant has no geofence configured")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load tenant fence")
		}
		point := geofence.Point{Latitude: *params.Latitude, Longitude: *params.Longitude}
		center := geofence.Point{Latitude: fence.Latitude, Longitude: fence.Longitude}
		if !s.geo.WithinFence(point, center, fence.RadiusMeters, *params.AccuracyM) {
			if *params.AccuracyM > s.geo.AccuracyToleranceM {
				return appErrors.Clone(appErrors.ErrOutsideFence, "gps accuracy too poor to verify location")
			}
			return appErrors.ErrOutsideFence
		}
		rec.Latitude = params.Latitude
		rec.Longitude = params.Longitude
		rec.AccuracyM = params.AccuracyM
		return nil

	case models.MethodBiometric:
		if s.biometric == nil {
			return appErrors.Clone(appErrors.ErrValidation, "biometric verification is not configured")
		}
		if len(params.BiometricSample) == 0 {
			return appErrors.Clone(appErrors.ErrValidation, "biometric submissions require a sample")
		}
		confidence, err := s.biometric.Verify(ctx, params.TenantID, params.SubjectID, params.BiometricSample)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, "biometric verifier unavailable")
		}
		if confidence < s.cfg.BiometricMinConfidence {
			return appErrors.ErrLowConfidence
		}
		rec.Confidence = &confidence
		return nil

	case models.MethodRFID:
		if s.rfid == nil {
			return appErrors.Clone(appErrors.ErrValidation, "rfid verification is not configured")
		}
		if params.CardUID == "" {
			return appErrors.Clone(appErrors.ErrValidation, "rfid submissions require a card uid")
		}
		subjectID, err := s.rfid.Resolve(ctx, params.TenantID, params.CardUID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "rfid card is not assigned")
			}
			return appErrors.Wrap(err, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, "rfid resolver unavailable")
		}
		if rec.SubjectID != "" && rec.SubjectID != subjectID {
			return appErrors.Clone(appErrors.ErrForbidden, "rfid card belongs to a different subject")
		}
		rec.SubjectID = subjectID
		return nil

	default:
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported attendance method %q", params.Method))
	}
}

// deriveStatus computes present vs late from the tenant's schedule, or
// from the configured default session start when no schedule exists.
func (s *AttendanceService) deriveStatus(ctx context.Context, tenantID string, timeIn time.Time) models.AttendanceStatus {
	start := s.cfg.SessionStart
	grace := s.cfg.LateGraceWindow

	if schedule, err := s.repo.FindSchedule(ctx, tenantID); err == nil {
		start = schedule.StartTime
		if schedule.LateAfterMins > 0 {
			grace = time.Duration(schedule.LateAfterMins) * time.Minute
		}
	}

	sessionStart, err := sessionStartOn(timeIn, start)
	if err != nil {
		s.logger.Warn("invalid session start, defaulting to present",
			zap.String("tenantId", tenantID),
			zap.String("sessionStart", start))
		return models.AttendanceStatusPresent
	}

	if timeIn.After(sessionStart.Add(grace)) {
		return models.AttendanceStatusLate
	}
	return models.AttendanceStatusPresent
}

// Amend supersedes the current record for (tenant, subject, date) with
// a corrected one. The prior record stays in history.
func (s *AttendanceService) Amend(ctx context.Context, params AmendAttendanceParams) (*models.AttendanceRecord, error) {
	if !params.ActorRole.CanVerifyAttendance() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role may not amend attendance")
	}
	if !params.Status.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "amendment requires a valid status")
	}

	day := truncateToDay(params.Date)
	current, err := s.repo.FindCurrent(ctx, params.TenantID, params.SubjectID, day)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no attendance record to amend")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load attendance record")
	}

	now := s.clock.Now()
	amended := &models.AttendanceRecord{
		ID:           uuid.NewString(),
		TenantID:     current.TenantID,
		SubjectID:    current.SubjectID,
		Date:         current.Date,
		Method:       models.MethodManual,
		Status:       params.Status,
		TimeIn:       current.TimeIn,
		TimeOut:      current.TimeOut,
		Notes:        params.Notes,
		VerifiedBy:   params.ActorID,
		IsVerified:   true,
		SupersedesID: &current.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
		VerifiedAt:   &now,
	}

	if err := s.repo.InsertSuperseding(ctx, amended, current.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "record was amended concurrently")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "store amendment")
	}

	s.logger.Info("attendance amended",
		zap.String("tenantId", amended.TenantID),
		zap.String("subjectId", amended.SubjectID),
		zap.String("supersedes", current.ID),
		zap.String("status", string(amended.Status)))
	return amended, nil
}

// Void soft-voids a record on dispute. The record stays queryable.
func (s *AttendanceService) Void(ctx context.Context, tenantID, recordID, reason string, actorRole models.UserRole) error {
	if !actorRole.CanVerifyAttendance() {
		return appErrors.Clone(appErrors.ErrForbidden, "role may not void attendance")
	}
	if reason == "" {
		return appErrors.Clone(appErrors.ErrValidation, "void requires a reason")
	}
	if err := s.repo.Void(ctx, tenantID, recordID, reason, s.clock.Now()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "attendance record not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "void attendance record")
	}
	return nil
}

// List returns attendance history for the filter.
func (s *AttendanceService) List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, *models.Pagination, error) {
	records, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list attendance")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	return records, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Stats summarises status counts for a subject or the whole tenant.
func (s *AttendanceService) Stats(ctx context.Context, tenantID, subjectID string, from, to *time.Time) (*models.AttendanceStats, error) {
	stats, err := s.repo.Stats(ctx, tenantID, subjectID, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "attendance stats")
	}
	return stats, nil
}

// truncateToDay normalises a timestamp to its UTC calendar day.
func truncateToDay(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// sessionStartOn combines the day of ts with an HH:MM clock string.
func sessionStartOn(ts time.Time, hhmm string) (time.Time, error) {
	parsed, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse session start %q: %w", hhmm, err)
	}
	u := ts.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), parsed.Hour(), parsed.Minute(), 0, 0, time.UTC), nil
}
