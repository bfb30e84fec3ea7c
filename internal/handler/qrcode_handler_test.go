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

type qrServiceMock struct {
	issued     *service.IssueQRCodeParams
	consumeErr error
}

func (m *qrServiceMock) Issue(ctx context.Context, params service.IssueQRCodeParams) (*models.QRCodeToken, error) {
	m.issued = &params
	return &models.QRCodeToken{ID: "tok-1", TenantID: params.TenantID, Code: "ABCDEF", MaxUsage: params.MaxUsage}, nil
}

func (m *qrServiceMock) Consume(ctx context.Context, tenantID, code string) (*models.ConsumeResult, error) {
	if m.consumeErr != nil {
		return nil, m.consumeErr
	}
	return &models.ConsumeResult{Token: &models.QRCodeToken{ID: "tok-1", Code: code}, Remaining: 4}, nil
}

func (m *qrServiceMock) Deactivate(ctx context.Context, tenantID, tokenID string) error {
	return nil
}

func (m *qrServiceMock) ListActive(ctx context.Context, tenantID string) ([]models.QRCodeToken, error) {
	return []models.QRCodeToken{{ID: "tok-1", TenantID: tenantID}}, nil
}

func qrTestContext(t *testing.T, method, target string, payload interface{}) (*gin.Context, *httptest.ResponseRecorder) {
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

func TestQRCodeHandlerIssue(t *testing.T) {
	mock := &qrServiceMock{}
	handler := NewQRCodeHandler(mock, nil)
	c, w := qrTestContext(t, http.MethodPost, "/qrcodes", dto.IssueQRCodeRequest{
		BoundContext: "class-10a-0830",
		ValidUntil:   time.Now().Add(time.Hour),
		MaxUsage:     30,
	})

	handler.Issue(c)

	require.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, mock.issued)
	require.Equal(t, "tenant-1", mock.issued.TenantID)
	require.Equal(t, "teacher-1", mock.issued.IssuedBy)
	require.Equal(t, 30, mock.issued.MaxUsage)
}

func TestQRCodeHandlerConsumeExhausted(t *testing.T) {
	handler := NewQRCodeHandler(&qrServiceMock{consumeErr: appErrors.ErrExhausted}, nil)
	c, w := qrTestContext(t, http.MethodPost, "/qrcodes/consume", dto.ConsumeQRCodeRequest{Code: "ABCDEF"})

	handler.Consume(c)
	require.Equal(t, appErrors.ErrExhausted.Status, w.Code)
}

func TestQRCodeHandlerConsume(t *testing.T) {
	handler := NewQRCodeHandler(&qrServiceMock{}, nil)
	c, w := qrTestContext(t, http.MethodPost, "/qrcodes/consume", dto.ConsumeQRCodeRequest{Code: "ABCDEF"})

	handler.Consume(c)
	require.Equal(t, http.StatusOK, w.Code)
}
