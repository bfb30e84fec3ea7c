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

type alertService interface {
	CreateRule(ctx context.Context, params service.CreateRuleParams) (*models.AlertRule, error)
	SetRuleActive(ctx context.Context, tenantID, ruleID string, active bool) (*models.AlertRule, error)
	ListRules(ctx context.Context, tenantID string) ([]models.AlertRule, error)
	ListEvents(ctx context.Context, filter models.AlertEventFilter) ([]models.AlertEvent, *models.Pagination, error)
	EvaluateTenant(ctx context.Context, tenantID string) ([]models.AlertEvent, error)
}

type eventDispatcher interface {
	Dispatch(ctx context.Context, event models.AlertEvent) error
}

// AlertHandler exposes alert rule and event endpoints.
type AlertHandler struct {
	service    alertService
	dispatcher eventDispatcher
}

// NewAlertHandler builds a new handler.
func NewAlertHandler(svc alertService, dispatcher eventDispatcher) *AlertHandler {
	return &AlertHandler{service: svc, dispatcher: dispatcher}
}

// CreateRule godoc
// @Summary Create an alert rule
// @Tags Alerts
// @Accept json
// @Produce json
// @Param payload body dto.CreateAlertRuleRequest true "Rule payload"
// @Success 201 {object} response.Envelope
// @Router /alerts/rules [post]
func (h *AlertHandler) CreateRule(c *gin.Context) {
	var req dto.CreateAlertRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid rule payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	rule, err := h.service.CreateRule(c.Request.Context(), service.CreateRuleParams{
		TenantID:        claims.TenantID,
		Name:            req.Name,
		Target:          models.AlertTarget(req.Target),
		Field:           req.Field,
		Operator:        models.ConditionOperator(req.Operator),
		Threshold:       req.Threshold,
		Channels:        req.Channels,
		CooldownSeconds: req.CooldownSeconds,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, rule)
}

// SetRuleActive godoc
// @Summary Activate or deactivate an alert rule
// @Tags Alerts
// @Accept json
// @Produce json
// @Param id path string true "Rule ID"
// @Param payload body dto.SetRuleActiveRequest true "Active flag"
// @Success 200 {object} response.Envelope
// @Router /alerts/rules/{id}/active [put]
func (h *AlertHandler) SetRuleActive(c *gin.Context) {
	var req dto.SetRuleActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid rule payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	rule, err := h.service.SetRuleActive(c.Request.Context(), claims.TenantID, c.Param("id"), *req.Active)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rule, nil)
}

// ListRules godoc
// @Summary List the tenant's alert rules
// @Tags Alerts
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /alerts/rules [get]
func (h *AlertHandler) ListRules(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	rules, err := h.service.ListRules(c.Request.Context(), claims.TenantID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rules, nil)
}

// Evaluate godoc
// @Summary Run the tenant's alert rules immediately
// @Tags Alerts
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /alerts/evaluate [post]
func (h *AlertHandler) Evaluate(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	events, err := h.service.EvaluateTenant(c.Request.Context(), claims.TenantID)
	if err != nil {
		response.Error(c, err)
		return
	}
	for _, event := range events {
		if err := h.dispatcher.Dispatch(c.Request.Context(), event); err != nil {
			response.Error(c, err)
			return
		}
	}
	response.JSON(c, http.StatusOK, events, nil)
}

// ListEvents godoc
// @Summary List alert events
// @Tags Alerts
// @Produce json
// @Param rule_id query string false "Filter by rule"
// @Param subject_id query string false "Filter by subject"
// @Param status query string false "Filter by delivery status"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /alerts/events [get]
func (h *AlertHandler) ListEvents(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	filter := models.AlertEventFilter{
		TenantID:  claims.TenantID,
		RuleID:    c.Query("rule_id"),
		SubjectID: c.Query("subject_id"),
		Page:      queryInt(c, "page", 1),
		PageSize:  queryInt(c, "page_size", 50),
	}
	if raw := c.Query("status"); raw != "" {
		status := models.AlertDeliveryStatus(raw)
		filter.Status = &status
	}
	events, pagination, err := h.service.ListEvents(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, events, pagination)
}
