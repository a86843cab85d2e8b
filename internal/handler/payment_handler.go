package handler

import (
	"errors"
	"io"
	"net/http"
	"time"

	"billing/internal/cache"
	"billing/internal/gateway"
	"billing/internal/middleware"
	"billing/internal/model"
	"billing/internal/service"
	"billing/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxWebhookBody caps provider callbacks; real payloads are a few KB.
const maxWebhookBody = 1 << 20

type ConfirmPaymentResponse struct {
	Payment      service.PaymentResponse       `json:"payment"`
	Subscription *service.SubscriptionResponse `json:"subscription,omitempty"`
	Outcome      string                        `json:"outcome"`
	AlreadyFinal bool                          `json:"already_final"`
}

type PaymentHandler struct {
	paymentService service.PaymentService
	billingService service.BillingService
	guard          cache.WebhookGuard
	log            *zap.Logger
	now            func() time.Time
}

func NewPaymentHandler(
	paymentService service.PaymentService,
	billingService service.BillingService,
	guard cache.WebhookGuard,
	log *zap.Logger,
) *PaymentHandler {
	if guard == nil {
		guard = cache.NopWebhookGuard{}
	}
	return &PaymentHandler{
		paymentService: paymentService,
		billingService: billingService,
		guard:          guard,
		log:            log.Named("payments"),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

func (h *PaymentHandler) RegisterRoutes(router *gin.RouterGroup, auth gin.HandlerFunc) {
	router.GET("/api/payments/gateways", h.ListGateways)
	router.POST("/api/webhooks/:gateway", h.Webhook)

	me := router.Group("/api/me/payments", auth)
	{
		me.POST("/:reference/verify", h.VerifyPayment)
	}

	router.GET("/api/admin/invoices/:id/payments", auth, middleware.RequireRole(model.RoleAdmin), h.ListInvoicePayments)

	admin := router.Group("/api/admin/payments", auth, middleware.RequireRole(model.RoleAdmin))
	{
		admin.GET("/:reference", h.GetPayment)
		admin.POST("/:reference/verify", h.VerifyPayment)
		admin.POST("/:reference/refund", h.RefundPayment)
	}
}

// ListGateways returns the configured payment providers
// @Summary      List payment gateways
// @Tags         payments
// @Produce      json
// @Success      200  {object}  response.Response{data=[]string}
// @Router       /api/payments/gateways [get]
func (h *PaymentHandler) ListGateways(c *gin.Context) {
	c.JSON(http.StatusOK, response.Success(http.StatusOK, h.paymentService.Gateways()))
}

// GetPayment returns a payment by reference
// @Summary      Get payment
// @Tags         payments
// @Security     BearerAuth
// @Produce      json
// @Param        reference  path      string  true  "Payment reference"
// @Success      200        {object}  response.Response{data=service.PaymentResponse}
// @Failure      404        {object}  response.Response
// @Router       /api/admin/payments/{reference} [get]
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	payment, err := h.paymentService.GetByReference(c.Request.Context(), c.Param("reference"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, service.ToPaymentResponse(payment)))
}

// ListInvoicePayments returns every payment attempt made against an invoice
// @Summary      List invoice payments
// @Tags         payments
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Invoice ID"
// @Success      200  {object}  response.Response{data=[]service.PaymentResponse}
// @Router       /api/admin/invoices/{id}/payments [get]
func (h *PaymentHandler) ListInvoicePayments(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	payments, err := h.paymentService.ListForPayable(c.Request.Context(), model.InvoicePayable{InvoiceID: id})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, payments))
}

// VerifyPayment confirms a payment with its gateway after the customer returns from checkout
// @Summary      Verify payment
// @Description  Queries the gateway and settles the payable when the charge succeeded. Safe to repeat.
// @Tags         payments
// @Security     BearerAuth
// @Produce      json
// @Param        reference  path      string  true  "Payment reference"
// @Success      200        {object}  response.Response{data=ConfirmPaymentResponse}
// @Failure      404        {object}  response.Response
// @Failure      502        {object}  response.Response
// @Router       /api/me/payments/{reference}/verify [post]
func (h *PaymentHandler) VerifyPayment(c *gin.Context) {
	reference := c.Param("reference")
	ctx := c.Request.Context()

	if c.GetString(middleware.ContextUserRole) != model.RoleAdmin {
		payment, err := h.paymentService.GetByReference(ctx, reference)
		if err != nil {
			writeError(c, err)
			return
		}
		if userID, _ := middleware.CurrentUserID(c); payment.UserID != userID {
			writeError(c, service.ErrPaymentNotFound)
			return
		}
	}

	res, err := h.billingService.ConfirmPayment(ctx, "", reference, h.now())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, toConfirmResponse(res)))
}

// Webhook receives provider callbacks. The signature is checked before anything is read from the store.
// @Summary      Payment webhook
// @Description  Authenticates a provider callback and confirms the referenced payment
// @Tags         payments
// @Accept       json
// @Produce      json
// @Param        gateway  path      string  true  "paystack or flutterwave"
// @Success      200      {object}  response.Response
// @Failure      401      {object}  response.Response
// @Router       /api/webhooks/{gateway} [post]
func (h *PaymentHandler) Webhook(c *gin.Context) {
	gatewayName := c.Param("gateway")
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Unreadable payload"))
		return
	}

	reference, err := h.paymentService.AuthenticateWebhook(gatewayName, payload, c.Request.Header)
	if err != nil {
		h.log.Warn("webhook rejected", zap.String("gateway", gatewayName), zap.Error(err))
		status, code := classify(err)
		if status == http.StatusInternalServerError {
			status, code = http.StatusBadRequest, "malformed_payload"
		}
		c.JSON(status, response.Failure(status, code, err.Error()))
		return
	}
	if reference == "" {
		// event types we do not act on
		c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"ignored": true}))
		return
	}

	ctx := c.Request.Context()
	acquired, err := h.guard.Acquire(ctx, gatewayName, reference)
	if err != nil {
		// the conditional update in the store still protects us
		h.log.Warn("webhook guard unavailable", zap.Error(err))
		acquired = true
	}
	if !acquired {
		c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"duplicate": true}))
		return
	}

	res, err := h.billingService.ConfirmPayment(ctx, gatewayName, reference, h.now())
	if err != nil {
		if errors.Is(err, service.ErrPaymentNotFound) {
			h.log.Warn("webhook for unknown payment", zap.String("gateway", gatewayName), zap.String("reference", reference))
			c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"ignored": true}))
			return
		}
		if relErr := h.guard.Release(ctx, gatewayName, reference); relErr != nil {
			h.log.Warn("failed to release webhook guard", zap.Error(relErr))
		}
		h.log.Error("webhook confirmation failed",
			zap.String("gateway", gatewayName),
			zap.String("reference", reference),
			zap.Error(err),
		)
		writeError(c, err)
		return
	}

	if res.Outcome == gateway.StatusPending {
		// let the provider's next delivery through
		_ = h.guard.Release(ctx, gatewayName, reference)
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, toConfirmResponse(res)))
}

// RefundPayment records a refund issued at the gateway
// @Summary      Mark payment refunded
// @Description  Marks a completed payment as refunded. The subscription it paid for is left unchanged.
// @Tags         payments
// @Security     BearerAuth
// @Produce      json
// @Param        reference  path      string  true  "Payment reference"
// @Success      200        {object}  response.Response{data=service.PaymentResponse}
// @Failure      409        {object}  response.Response
// @Router       /api/admin/payments/{reference}/refund [post]
func (h *PaymentHandler) RefundPayment(c *gin.Context) {
	actor, _ := middleware.CurrentUserID(c)

	payment, err := h.billingService.MarkPaymentRefunded(c.Request.Context(), c.Param("reference"), &actor, h.now())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, service.ToPaymentResponse(payment)))
}

func toConfirmResponse(res *service.ConfirmResult) ConfirmPaymentResponse {
	out := ConfirmPaymentResponse{
		Payment:      service.ToPaymentResponse(res.Payment),
		Outcome:      string(res.Outcome),
		AlreadyFinal: res.AlreadyFinal,
	}
	if res.Subscription != nil {
		sub := service.ToSubscriptionResponse(res.Subscription)
		out.Subscription = &sub
	}
	return out
}
