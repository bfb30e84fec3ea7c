package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-ops-api/internal/dto"
	"github.com/noah-isme/campus-ops-api/internal/models"
	"github.com/noah-isme/campus-ops-api/internal/service"
	appErrors "github.com/noah-isme/campus-ops-api/pkg/errors"
	"github.com/noah-isme/campus-ops-api/pkg/response"
)

type attendanceService interface {
	Submit(ctx context.Context, params service.SubmitAttendanceParams) (*models.AttendanceRecord, error)
	Amend(ctx context.Context, params service.AmendAttendanceParams) (*models.AttendanceRecord, error)
	Void(ctx context.Context, tenantID, recordID, reason string, actorRole models.UserRole) error
	List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, *models.Pagination, error)
	Stats(ctx context.Context, tenantID, subjectID string, from, to *time.Time) (*models.AttendanceStats, error)
}

// AttendanceHandler exposes attendance submission and history endpoints.
type AttendanceHandler struct {
	service attendanceService
	metrics *service.MetricsService
}

// NewAttendanceHandler builds a new handler.
func NewAttendanceHandler(svc attendanceService, metrics *service.MetricsService) *AttendanceHandler {
	return &AttendanceHandler{service: svc, metrics: metrics}
}

// Submit godoc
// @Summary Submit an attendance record
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body dto.SubmitAttendanceRequest true "Attendance payload"
// @Success 201 {object} response.Envelope
// @Router /attendance [post]
func (h *AttendanceHandler) Submit(c *gin.Context) {
	var req dto.SubmitAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid attendance payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	params := service.SubmitAttendanceParams{
		TenantID:        claims.TenantID,
		SubjectID:       req.SubjectID,
		Method:          models.AttendanceMethod(req.Method),
		TimeIn:          req.TimeIn,
		Notes:           req.Notes,
		ActorID:         claims.UserID,
		ActorRole:       claims.Role,
		Status:          models.AttendanceStatus(req.Status),
		Latitude:        req.Latitude,
		Longitude:       req.Longitude,
		AccuracyM:       req.AccuracyM,
		QRCode:          req.QRCode,
		BiometricSample: req.BiometricSample,
		CardUID:         req.CardUID,
	}
	if req.Date != nil {
		params.Date = *req.Date
	}

	rec, err := h.service.Submit(c.Request.Context(), params)
	if err != nil {
		h.observe(req.Method, appErrors.FromError(err).Code)
		response.Error(c, err)
		return
	}
	h.observe(req.Method, "verified")
	response.Created(c, rec)
}

// Amend godoc
// @Summary Amend the current attendance record for a day
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body dto.AmendAttendanceRequest true "Amendment payload"
// @Success 200 {object} response.Envelope
// @Router /attendance/amend [post]
func (h *AttendanceHandler) Amend(c *gin.Context) {
	var req dto.AmendAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid amendment payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	params := service.AmendAttendanceParams{
		TenantID:  claims.TenantID,
		SubjectID: req.SubjectID,
		Status:    models.AttendanceStatus(req.Status),
		Notes:     req.Notes,
		ActorID:   claims.UserID,
		ActorRole: claims.Role,
	}
	if req.Date != nil {
		params.Date = *req.Date
	}

	rec, err := h.service.Amend(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rec, nil)
}

// Void godoc
// @Summary Void a disputed attendance record
// @Tags Attendance
// @Accept json
// @Produce json
// @Param id path string true "Attendance record ID"
// @Param payload body dto.VoidAttendanceRequest true "Void payload"
// @Success 204 "No Content"
// @Router /attendance/{id}/void [post]
func (h *AttendanceHandler) Void(c *gin.Context) {
	var req dto.VoidAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid void payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.service.Void(c.Request.Context(), claims.TenantID, c.Param("id"), req.Reason, claims.Role); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// List godoc
// @Summary List attendance history
// @Tags Attendance
// @Produce json
// @Param subject_id query string false "Filter by subject"
// @Param method query string false "Filter by method"
// @Param status query string false "Filter by status"
// @Param date_from query string false "RFC3339 lower bound"
// @Param date_to query string false "RFC3339 upper bound"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /attendance [get]
func (h *AttendanceHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	filter := models.AttendanceFilter{
		TenantID:  claims.TenantID,
		SubjectID: c.Query("subject_id"),
		DateFrom:  queryTime(c, "date_from"),
		DateTo:    queryTime(c, "date_to"),
		Page:      queryInt(c, "page", 1),
		PageSize:  queryInt(c, "page_size", 50),
	}
	if raw := c.Query("method"); raw != "" {
		method := models.AttendanceMethod(raw)
		filter.Method = &method
	}
	if raw := c.Query("status"); raw != "" {
		status := models.AttendanceStatus(raw)
		filter.Status = &status
	}

	records, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, pagination)
}

// Stats godoc
// @Summary Summarise attendance status counts
// @Tags Attendance
// @Produce json
// @Param subject_id query string false "Filter by subject"
// @Param date_from query string false "RFC3339 lower bound"
// @Param date_to query string false "RFC3339 upper bound"
// @Success 200 {object} response.Envelope
// @Router /attendance/stats [get]
func (h *AttendanceHandler) Stats(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	stats, err := h.service.Stats(c.Request.Context(), claims.TenantID, c.Query("subject_id"),
		queryTime(c, "date_from"), queryTime(c, "date_to"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

func (h *AttendanceHandler) observe(method, outcome string) {
	if h.metrics != nil {
		h.metrics.ObserveVerification(method, outcome)
	}
}
