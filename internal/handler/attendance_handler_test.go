package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-ops-api/internal/dto"
	"github.com/noah-isme/campus-ops-api/internal/middleware"
	"github.com/noah-isme/campus-ops-api/internal/models"
	"github.com/noah-isme/campus-ops-api/internal/service"
	appErrors "github.com/noah-isme/campus-ops-api/pkg/errors"
)

type attendanceServiceMock struct {
	submitted *service.SubmitAttendanceParams
	submitErr error
	voidErr   error
}

func (m *attendanceServiceMock) Submit(ctx context.Context, params service.SubmitAttendanceParams) (*models.AttendanceRecord, error) {
	m.submitted = &params
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	return &models.AttendanceRecord{ID: "rec-1", TenantID: params.TenantID, SubjectID: params.SubjectID, Status: models.AttendanceStatusPresent}, nil
}

func (m *attendanceServiceMock) Amend(ctx context.Context, params service.AmendAttendanceParams) (*models.AttendanceRecord, error) {
	return &models.AttendanceRecord{ID: "rec-2", Status: params.Status}, nil
}

func (m *attendanceServiceMock) Void(ctx context.Context, tenantID, recordID, reason string, actorRole models.UserRole) error {
	return m.voidErr
}

func (m *attendanceServiceMock) List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, *models.Pagination, error) {
	return []models.AttendanceRecord{}, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize}, nil
}

func (m *attendanceServiceMock) Stats(ctx context.Context, tenantID, subjectID string, from, to *time.Time) (*models.AttendanceStats, error) {
	return &models.AttendanceStats{Total: 10}, nil
}

func attendanceTestContext(t *testing.T, method, target string, payload interface{}) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}
	req, err := http.NewRequest(method, target, &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "teacher-1", TenantID: "tenant-1", Role: models.RoleTeacher})
	return c, w
}

func TestAttendanceHandlerSubmitPassesClaims(t *testing.T) {
	mock := &attendanceServiceMock{}
	handler := NewAttendanceHandler(mock, nil)
	c, w := attendanceTestContext(t, http.MethodPost, "/attendance", dto.SubmitAttendanceRequest{
		SubjectID: "student-1",
		Method:    "manual",
		Status:    "present",
	})

	handler.Submit(c)

	require.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, mock.submitted)
	require.Equal(t, "tenant-1", mock.submitted.TenantID)
	require.Equal(t, "teacher-1", mock.submitted.ActorID)
	require.Equal(t, models.RoleTeacher, mock.submitted.ActorRole)
	require.Equal(t, models.MethodManual, mock.submitted.Method)
}

func TestAttendanceHandlerSubmitRejectionStatus(t *testing.T) {
	mock := &attendanceServiceMock{submitErr: appErrors.ErrOutsideFence}
	handler := NewAttendanceHandler(mock, nil)
	c, w := attendanceTestContext(t, http.MethodPost, "/attendance", dto.SubmitAttendanceRequest{
		SubjectID: "student-1",
		Method:    "geolocation",
	})

	handler.Submit(c)
	require.Equal(t, appErrors.ErrOutsideFence.Status, w.Code)
}

func TestAttendanceHandlerSubmitInvalidBody(t *testing.T) {
	handler := NewAttendanceHandler(&attendanceServiceMock{}, nil)
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/attendance", bytes.NewReader([]byte(`not json`)))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Submit(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAttendanceHandlerSubmitWithoutClaims(t *testing.T) {
	handler := NewAttendanceHandler(&attendanceServiceMock{}, nil)
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	body, _ := json.Marshal(dto.SubmitAttendanceRequest{Method: "manual", Status: "present"})
	req, _ := http.NewRequest(http.MethodPost, "/attendance", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Submit(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAttendanceHandlerVoid(t *testing.T) {
	mock := &attendanceServiceMock{}
	handler := NewAttendanceHandler(mock, nil)
	c, w := attendanceTestContext(t, http.MethodPost, "/attendance/rec-1/void", dto.VoidAttendanceRequest{Reason: "disputed"})
	c.Params = gin.Params{{Key: "id", Value: "rec-1"}}

	handler.Void(c)
	// The engine flushes deferred status writes after the handler chain;
	// invoking the handler directly requires doing it here.
	c.Writer.WriteHeaderNow()
	require.Equal(t, http.StatusNoContent, w.Code)
}
