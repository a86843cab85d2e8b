package handler

import (
	"net/http"
	"time"

	"billing/internal/middleware"
	"billing/internal/model"
	"billing/internal/service"
	"billing/pkg/pagination"
	"billing/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type PayInvoiceRequest struct {
	Gateway     string `json:"gateway" binding:"required"`
	Reference   string `json:"reference" binding:"omitempty,max=100"`
	CallbackURL string `json:"callback_url" binding:"omitempty,url"`
}

type PayInvoiceResponse struct {
	Payment          service.PaymentResponse `json:"payment"`
	AuthorizationURL string                  `json:"authorization_url"`
}

type InvoiceHandler struct {
	invoiceService service.InvoiceService
	billingService service.BillingService
	now            func() time.Time
}

func NewInvoiceHandler(invoiceService service.InvoiceService, billingService service.BillingService) *InvoiceHandler {
	return &InvoiceHandler{
		invoiceService: invoiceService,
		billingService: billingService,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

func (h *InvoiceHandler) RegisterRoutes(router *gin.RouterGroup, auth gin.HandlerFunc) {
	admin := router.Group("/api/admin/invoices", auth, middleware.RequireRole(model.RoleAdmin))
	{
		admin.GET("", h.ListInvoices)
		admin.GET("/:id", h.GetInvoice)
		admin.POST("/:id/cancel", h.CancelInvoice)
	}

	me := router.Group("/api/me/invoices", auth)
	{
		me.GET("", h.ListMyInvoices)
		me.GET("/:id", h.GetMyInvoice)
		me.POST("/:id/pay", h.PayInvoice)
	}
}

// ListInvoices returns a paginated list of invoices
// @Summary      List invoices
// @Description  Retrieves invoices filtered by status, kind, invoice number or owner
// @Tags         invoices
// @Security     BearerAuth
// @Produce      json
// @Param        status      query     string  false  "pending, processing, paid, cancelled"
// @Param        kind        query     string  false  "seller_subscription, renewal, commission, other"
// @Param        invoice_no  query     string  false  "Partial invoice number"
// @Param        user_id     query     string  false  "Owner ID"
// @Param        page        query     int     false  "Page number (default 1)"
// @Param        limit       query     int     false  "Number of items per page (default 20)"
// @Success      200         {object}  response.Response{data=pagination.Page[service.InvoiceResponse]}
// @Failure      500         {object}  response.Response
// @Router       /api/admin/invoices [get]
func (h *InvoiceHandler) ListInvoices(c *gin.Context) {
	filter := service.InvoiceFilter{
		Status:    c.Query("status"),
		Kind:      c.Query("kind"),
		InvoiceNo: c.Query("invoice_no"),
	}
	if raw := c.Query("user_id"); raw != "" {
		userID, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid user_id"))
			return
		}
		filter.UserID = &userID
	}
	h.list(c, filter)
}

// ListMyInvoices returns the caller's invoices
// @Summary      List my invoices
// @Tags         invoices
// @Security     BearerAuth
// @Produce      json
// @Param        status  query     string  false  "pending, processing, paid, cancelled"
// @Param        page    query     int     false  "Page number (default 1)"
// @Param        limit   query     int     false  "Number of items per page (default 20)"
// @Success      200     {object}  response.Response{data=pagination.Page[service.InvoiceResponse]}
// @Router       /api/me/invoices [get]
func (h *InvoiceHandler) ListMyInvoices(c *gin.Context) {
	userID, _ := middleware.CurrentUserID(c)
	h.list(c, service.InvoiceFilter{Status: c.Query("status"), UserID: &userID})
}

func (h *InvoiceHandler) list(c *gin.Context, filter service.InvoiceFilter) {
	p := pagination.Parse(c)
	filter.Page = p.Page
	filter.Limit = p.Limit

	invoices, total, err := h.invoiceService.ListInvoices(c.Request.Context(), filter, h.now())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, pagination.NewPage(invoices, total, p)))
}

// GetInvoice returns one invoice
// @Summary      Get invoice
// @Tags         invoices
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Invoice ID"
// @Success      200  {object}  response.Response{data=service.InvoiceResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/admin/invoices/{id} [get]
func (h *InvoiceHandler) GetInvoice(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	invoice, err := h.invoiceService.GetInvoice(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, service.ToInvoiceResponse(invoice, h.now())))
}

// GetMyInvoice returns one of the caller's invoices
// @Summary      Get my invoice
// @Tags         invoices
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Invoice ID"
// @Success      200  {object}  response.Response{data=service.InvoiceResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/me/invoices/{id} [get]
func (h *InvoiceHandler) GetMyInvoice(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	userID, _ := middleware.CurrentUserID(c)

	invoice, err := h.invoiceService.GetInvoice(c.Request.Context(), id)
	if err == nil && invoice.UserID != userID {
		// do not reveal other users' invoices
		err = service.ErrInvoiceNotFound
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, service.ToInvoiceResponse(invoice, h.now())))
}

// CancelInvoice voids a pending invoice
// @Summary      Cancel invoice
// @Tags         invoices
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Invoice ID"
// @Success      200  {object}  response.Response{data=service.InvoiceResponse}
// @Failure      409  {object}  response.Response
// @Router       /api/admin/invoices/{id}/cancel [post]
func (h *InvoiceHandler) CancelInvoice(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	actor, _ := middleware.CurrentUserID(c)

	now := h.now()
	invoice, err := h.invoiceService.Cancel(c.Request.Context(), id, &actor, now)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, service.ToInvoiceResponse(invoice, now)))
}

// PayInvoice starts a gateway payment for one of the caller's invoices
// @Summary      Pay invoice
// @Description  Initializes a payment with the chosen gateway and returns its checkout URL
// @Tags         invoices
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string             true  "Invoice ID"
// @Param        payload  body      PayInvoiceRequest  true  "Gateway selection"
// @Success      201      {object}  response.Response{data=PayInvoiceResponse}
// @Failure      409      {object}  response.Response
// @Failure      502      {object}  response.Response
// @Router       /api/me/invoices/{id}/pay [post]
func (h *InvoiceHandler) PayInvoice(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	var req PayInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}
	userID, _ := middleware.CurrentUserID(c)

	res, err := h.billingService.InitializeInvoicePayment(c.Request.Context(), service.InvoicePaymentParams{
		InvoiceID:   id,
		Gateway:     req.Gateway,
		Reference:   req.Reference,
		CallbackURL: req.CallbackURL,
		Actor:       userID,
		Now:         h.now(),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, PayInvoiceResponse{
		Payment:          service.ToPaymentResponse(res.Payment),
		AuthorizationURL: res.AuthorizationURL,
	}))
}
