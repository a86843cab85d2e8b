package handler

import (
	"net/http"
	"time"

	"billing/internal/middleware"
	"billing/internal/model"
	"billing/internal/service"
	"billing/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type GenerateInvoiceRequest struct {
	PlanID *string `json:"plan_id"`
}

type SweepRequest struct {
	Kind          string `json:"kind" binding:"omitempty,oneof=all renewals expirations"`
	LookaheadDays *int   `json:"lookahead_days" binding:"omitempty,min=0"`
}

type BillingHandler struct {
	billingService service.BillingService
	settings       service.Settings
	now            func() time.Time
}

func NewBillingHandler(billingService service.BillingService, settings service.Settings) *BillingHandler {
	return &BillingHandler{
		billingService: billingService,
		settings:       settings,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

func (h *BillingHandler) RegisterRoutes(router *gin.RouterGroup, auth gin.HandlerFunc) {
	admin := router.Group("/api/admin", auth, middleware.RequireRole(model.RoleAdmin))
	{
		admin.POST("/seller-applications/:id/approve", h.ApproveApplication)
		admin.POST("/seller-applications/:id/invoice", h.GenerateApprovalInvoice)
		admin.POST("/billing/sweep", h.RunSweep)
	}
}

// ApproveApplication approves a seller application and issues its subscription invoice
// @Summary      Approve seller application
// @Description  Approves a pending application and issues the first subscription invoice. Re-approving returns the open invoice.
// @Tags         billing
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Application ID"
// @Success      201  {object}  response.Response{data=service.InvoiceResponse}
// @Failure      404  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Failure      422  {object}  response.Response
// @Router       /api/admin/seller-applications/{id}/approve [post]
func (h *BillingHandler) ApproveApplication(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	actor, _ := middleware.CurrentUserID(c)

	now := h.now()
	invoice, err := h.billingService.ApproveApplication(c.Request.Context(), id, &actor, now)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, service.ToInvoiceResponse(invoice, now)))
}

// GenerateApprovalInvoice issues the subscription invoice for an approved application
// @Summary      Generate approval invoice
// @Description  Issues the invoice for an approved application, optionally for a specific plan
// @Tags         billing
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                  true   "Application ID"
// @Param        payload  body      GenerateInvoiceRequest  false  "Plan override"
// @Success      201      {object}  response.Response{data=service.InvoiceResponse}
// @Failure      404      {object}  response.Response
// @Router       /api/admin/seller-applications/{id}/invoice [post]
func (h *BillingHandler) GenerateApprovalInvoice(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}

	var req GenerateInvoiceRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
			return
		}
	}
	var planID *uuid.UUID
	if req.PlanID != nil && *req.PlanID != "" {
		parsed, err := uuid.Parse(*req.PlanID)
		if err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid plan_id"))
			return
		}
		planID = &parsed
	}
	actor, _ := middleware.CurrentUserID(c)

	now := h.now()
	invoice, err := h.billingService.GenerateApprovalInvoice(c.Request.Context(), id, planID, &actor, now)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, service.ToInvoiceResponse(invoice, now)))
}

// RunSweep triggers the renewal and/or expiration sweep on demand
// @Summary      Run billing sweep
// @Description  Runs the renewal sweep, the expiration sweep, or both
// @Tags         billing
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      SweepRequest  false  "Sweep options"
// @Success      200      {object}  response.Response{data=service.ScheduledSweepResult}
// @Failure      500      {object}  response.Response
// @Router       /api/admin/billing/sweep [post]
func (h *BillingHandler) RunSweep(c *gin.Context) {
	var req SweepRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
			return
		}
	}
	lookahead := h.settings.RenewalLookaheadDays
	if req.LookaheadDays != nil {
		lookahead = *req.LookaheadDays
	}

	ctx := c.Request.Context()
	now := h.now()
	var result service.ScheduledSweepResult
	var err error
	switch req.Kind {
	case "renewals":
		result.Renewals, err = h.billingService.SweepRenewals(ctx, lookahead, now)
	case "expirations":
		result.Expirations, err = h.billingService.SweepExpirations(ctx, now)
	default:
		result.Renewals, err = h.billingService.SweepRenewals(ctx, lookahead, now)
		if err == nil {
			result.Expirations, err = h.billingService.SweepExpirations(ctx, now)
		}
	}
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}
