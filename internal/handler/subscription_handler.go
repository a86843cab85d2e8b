package handler

import (
	"net/http"
	"time"

	"billing/internal/middleware"
	"billing/internal/model"
	"billing/internal/service"
	"billing/pkg/response"

	"github.com/gin-gonic/gin"
)

type SubscriptionHandler struct {
	subscriptionService service.SubscriptionService
	billingService      service.BillingService
	now                 func() time.Time
}

func NewSubscriptionHandler(subscriptionService service.SubscriptionService, billingService service.BillingService) *SubscriptionHandler {
	return &SubscriptionHandler{
		subscriptionService: subscriptionService,
		billingService:      billingService,
		now:                 func() time.Time { return time.Now().UTC() },
	}
}

func (h *SubscriptionHandler) RegisterRoutes(router *gin.RouterGroup, auth gin.HandlerFunc) {
	router.GET("/api/me/subscription", auth, h.GetMySubscription)
	router.POST("/api/subscriptions/:id/cancel", auth, h.CancelSubscription)

	admin := router.Group("/api/admin/subscriptions", auth, middleware.RequireRole(model.RoleAdmin))
	{
		admin.GET("/:id", h.GetSubscription)
	}
}

// GetMySubscription returns the caller's most recent subscription
// @Summary      Get my subscription
// @Tags         subscriptions
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=service.SubscriptionResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/me/subscription [get]
func (h *SubscriptionHandler) GetMySubscription(c *gin.Context) {
	userID, _ := middleware.CurrentUserID(c)
	sub, err := h.subscriptionService.GetCurrent(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, service.ToSubscriptionResponse(sub)))
}

// GetSubscription returns a subscription by id
// @Summary      Get subscription
// @Tags         subscriptions
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Subscription ID"
// @Success      200  {object}  response.Response{data=service.SubscriptionResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/admin/subscriptions/{id} [get]
func (h *SubscriptionHandler) GetSubscription(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	sub, err := h.subscriptionService.GetSubscription(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, service.ToSubscriptionResponse(sub)))
}

// CancelSubscription cancels a subscription. Owners may cancel their own, admins any.
// @Summary      Cancel subscription
// @Description  Terminal. Cancelling an active subscription hides listings and lapses the seller profile.
// @Tags         subscriptions
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Subscription ID"
// @Success      200  {object}  response.Response{data=service.SubscriptionResponse}
// @Failure      404  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Router       /api/subscriptions/{id}/cancel [post]
func (h *SubscriptionHandler) CancelSubscription(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	actor, _ := middleware.CurrentUserID(c)

	if c.GetString(middleware.ContextUserRole) != model.RoleAdmin {
		sub, err := h.subscriptionService.GetSubscription(ctx, id)
		if err == nil && sub.UserID != actor {
			err = service.ErrSubscriptionNotFound
		}
		if err != nil {
			writeError(c, err)
			return
		}
	}

	sub, err := h.billingService.CancelSubscription(ctx, id, &actor, h.now())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, service.ToSubscriptionResponse(sub)))
}
