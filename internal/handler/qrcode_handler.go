package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-ops-api/internal/dto"
	"github.com/noah-isme/campus-ops-api/internal/models"
	"github.com/noah-isme/campus-ops-api/internal/service"
	appErrors "github.com/noah-isme/campus-ops-api/pkg/errors"
	"github.com/noah-isme/campus-ops-api/pkg/response"
)

type qrCodeService interface {
	Issue(ctx context.Context, params service.IssueQRCodeParams) (*models.QRCodeToken, error)
	Consume(ctx context.Context, tenantID, code string) (*models.ConsumeResult, error)
	Deactivate(ctx context.Context, tenantID, tokenID string) error
	ListActive(ctx context.Context, tenantID string) ([]models.QRCodeToken, error)
}

// QRCodeHandler exposes check-in token endpoints.
type QRCodeHandler struct {
	service qrCodeService
	metrics *service.MetricsService
}

// NewQRCodeHandler builds a new handler.
func NewQRCodeHandler(svc qrCodeService, metrics *service.MetricsService) *QRCodeHandler {
	return &QRCodeHandler{service: svc, metrics: metrics}
}

// Issue godoc
// @Summary Issue a check-in token
// @Tags QRCodes
// @Accept json
// @Produce json
// @Param payload body dto.IssueQRCodeRequest true "Token payload"
// @Success 201 {object} response.Envelope
// @Router /qrcodes [post]
func (h *QRCodeHandler) Issue(c *gin.Context) {
	var req dto.IssueQRCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid token payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	token, err := h.service.Issue(c.Request.Context(), service.IssueQRCodeParams{
		TenantID:     claims.TenantID,
		BoundContext: req.BoundContext,
		ValidUntil:   req.ValidUntil,
		MaxUsage:     req.MaxUsage,
		IssuedBy:     claims.UserID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, token)
}

// Consume godoc
// @Summary Spend one use of a check-in token
// @Tags QRCodes
// @Accept json
// @Produce json
// @Param payload body dto.ConsumeQRCodeRequest true "Consume payload"
// @Success 200 {object} response.Envelope
// @Router /qrcodes/consume [post]
func (h *QRCodeHandler) Consume(c *gin.Context) {
	var req dto.ConsumeQRCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid consume payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	result, err := h.service.Consume(c.Request.Context(), claims.TenantID, req.Code)
	if err != nil {
		if h.metrics != nil {
			h.metrics.ObserveQRConsume(appErrors.FromError(err).Code)
		}
		response.Error(c, err)
		return
	}
	if h.metrics != nil {
		h.metrics.ObserveQRConsume("consumed")
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Deactivate godoc
// @Summary Deactivate a check-in token
// @Tags QRCodes
// @Produce json
// @Param id path string true "Token ID"
// @Success 204 "No Content"
// @Router /qrcodes/{id} [delete]
func (h *QRCodeHandler) Deactivate(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.service.Deactivate(c.Request.Context(), claims.TenantID, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// List godoc
// @Summary List active check-in tokens
// @Tags QRCodes
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /qrcodes [get]
func (h *QRCodeHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	tokens, err := h.service.ListActive(c.Request.Context(), claims.TenantID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, tokens, nil)
}
