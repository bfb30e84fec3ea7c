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

type feeService interface {
	Assess(ctx context.Context, params service.AssessFeeParams) (*models.FeeRecord, error)
	ApplyPayment(ctx context.Context, params service.ApplyPaymentParams) (*models.FeeRecord, error)
	Waive(ctx context.Context, tenantID, feeRecordID, reason string) (*models.FeeRecord, error)
	RecomputeRecord(ctx context.Context, tenantID, feeRecordID string) (*models.FeeRecord, error)
	Get(ctx context.Context, tenantID, feeRecordID string) (*models.FeeRecord, []models.Payment, error)
	List(ctx context.Context, filter models.FeeFilter) ([]models.FeeRecord, *models.Pagination, error)
	Stats(ctx context.Context, tenantID, academicYear string) (*models.FeeStats, error)
	Receipt(ctx context.Context, tenantID, paymentID string) ([]byte, error)
	ReceiptLink(ctx context.Context, tenantID, paymentID string) (string, time.Time, error)
}

// FeeHandler exposes the fee ledger endpoints.
type FeeHandler struct {
	service feeService
}

// NewFeeHandler builds a new handler.
func NewFeeHandler(svc feeService) *FeeHandler {
	return &FeeHandler{service: svc}
}

type feeDetail struct {
	Record   *models.FeeRecord `json:"record"`
	Payments []models.Payment  `json:"payments"`
}

// Assess godoc
// @Summary Assess a fee for a student
// @Tags Fees
// @Accept json
// @Produce json
// @Param payload body dto.AssessFeeRequest true "Fee payload"
// @Success 201 {object} response.Envelope
// @Router /fees [post]
func (h *FeeHandler) Assess(c *gin.Context) {
	var req dto.AssessFeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid fee payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	rec, err := h.service.Assess(c.Request.Context(), service.AssessFeeParams{
		TenantID:        claims.TenantID,
		StudentID:       req.StudentID,
		FeeType:         req.FeeType,
		AcademicYear:    req.AcademicYear,
		TotalAmount:     req.TotalAmount,
		DiscountAmount:  req.DiscountAmount,
		DueDate:         req.DueDate,
		GracePeriodDays: req.GracePeriodDays,
		Description:     req.Description,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, rec)
}

// ApplyPayment godoc
// @Summary Apply a payment to a fee record
// @Tags Fees
// @Accept json
// @Produce json
// @Param id path string true "Fee record ID"
// @Param payload body dto.ApplyPaymentRequest true "Payment payload"
// @Success 200 {object} response.Envelope
// @Router /fees/{id}/payments [post]
func (h *FeeHandler) ApplyPayment(c *gin.Context) {
	var req dto.ApplyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payment payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	rec, err := h.service.ApplyPayment(c.Request.Context(), service.ApplyPaymentParams{
		TenantID:    claims.TenantID,
		FeeRecordID: c.Param("id"),
		Amount:      req.Amount,
		Method:      models.PaymentMethod(req.Method),
		Reference:   req.Reference,
		PaidAt:      req.PaidAt,
		VerifiedBy:  &claims.UserID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rec, nil)
}

// Waive godoc
// @Summary Waive accrued late fees on a record
// @Tags Fees
// @Accept json
// @Produce json
// @Param id path string true "Fee record ID"
// @Param payload body dto.WaiveFeeRequest true "Waiver payload"
// @Success 200 {object} response.Envelope
// @Router /fees/{id}/waive [post]
func (h *FeeHandler) Waive(c *gin.Context) {
	var req dto.WaiveFeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid waiver payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	rec, err := h.service.Waive(c.Request.Context(), claims.TenantID, c.Param("id"), req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rec, nil)
}

// Recompute godoc
// @Summary Recompute derived state for a fee record
// @Tags Fees
// @Produce json
// @Param id path string true "Fee record ID"
// @Success 200 {object} response.Envelope
// @Router /fees/{id}/recompute [post]
func (h *FeeHandler) Recompute(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	rec, err := h.service.RecomputeRecord(c.Request.Context(), claims.TenantID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rec, nil)
}

// Get godoc
// @Summary Get a fee record with its payment history
// @Tags Fees
// @Produce json
// @Param id path string true "Fee record ID"
// @Success 200 {object} response.Envelope
// @Router /fees/{id} [get]
func (h *FeeHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	rec, payments, err := h.service.Get(c.Request.Context(), claims.TenantID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, feeDetail{Record: rec, Payments: payments}, nil)
}

// List godoc
// @Summary List fee records
// @Tags Fees
// @Produce json
// @Param student_id query string false "Filter by student"
// @Param fee_type query string false "Filter by fee type"
// @Param status query string false "Filter by status"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /fees [get]
func (h *FeeHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	filter := models.FeeFilter{
		TenantID:  claims.TenantID,
		StudentID: c.Query("student_id"),
		FeeType:   c.Query("fee_type"),
		Page:      queryInt(c, "page", 1),
		PageSize:  queryInt(c, "page_size", 50),
	}
	if raw := c.Query("status"); raw != "" {
		status := models.FeeStatus(raw)
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
// @Summary Aggregate the tenant's fee position
// @Tags Fees
// @Produce json
// @Param academic_year query string false "Filter by academic year"
// @Success 200 {object} response.Envelope
// @Router /fees/stats [get]
func (h *FeeHandler) Stats(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	stats, err := h.service.Stats(c.Request.Context(), claims.TenantID, c.Query("academic_year"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

// Receipt godoc
// @Summary Download a payment receipt as PDF
// @Tags Fees
// @Produce application/pdf
// @Param paymentId path string true "Payment ID"
// @Success 200 {file} binary
// @Router /fees/payments/{paymentId}/receipt [get]
func (h *FeeHandler) Receipt(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	pdf, err := h.service.Receipt(c.Request.Context(), claims.TenantID, c.Param("paymentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename=receipt-"+c.Param("paymentId")+".pdf")
	c.Data(http.StatusOK, "application/pdf", pdf)
}

type receiptLink struct {
	Token     string    `json:"token"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ReceiptLink godoc
// @Summary Create a shareable signed link for a payment receipt
// @Tags Fees
// @Produce json
// @Param paymentId path string true "Payment ID"
// @Success 200 {object} response.Envelope
// @Router /fees/payments/{paymentId}/receipt-link [get]
func (h *FeeHandler) ReceiptLink(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	token, expiresAt, err := h.service.ReceiptLink(c.Request.Context(), claims.TenantID, c.Param("paymentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, receiptLink{
		Token:     token,
		URL:       "/receipts/" + token,
		ExpiresAt: expiresAt,
	}, nil)
}
