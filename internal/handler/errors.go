package handler

import (
	"errors"
	"net/http"

	"billing/internal/gateway"
	"billing/internal/service"
	"billing/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type errorClass struct {
	target error
	status int
	code   string
}

// errorClasses is checked in order; the first errors.Is match wins.
var errorClasses = []errorClass{
	{service.ErrInvoiceNotFound, http.StatusNotFound, "invoice_not_found"},
	{service.ErrApplicationNotFound, http.StatusNotFound, "application_not_found"},
	{service.ErrSubscriptionNotFound, http.StatusNotFound, "subscription_not_found"},
	{service.ErrPaymentNotFound, http.StatusNotFound, "payment_not_found"},
	{service.ErrPlanNotFound, http.StatusNotFound, "plan_not_found"},
	{gateway.ErrUnknownProvider, http.StatusNotFound, "unknown_gateway"},
	{service.ErrForbidden, http.StatusForbidden, "forbidden"},
	{service.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{service.ErrInvoiceNotPayable, http.StatusConflict, "invoice_not_payable"},
	{service.ErrDuplicateReference, http.StatusConflict, "duplicate_reference"},
	{service.ErrTaxRuleOverlap, http.StatusConflict, "tax_rule_overlap"},
	{service.ErrGatewayMismatch, http.StatusBadRequest, "gateway_mismatch"},
	{service.ErrUnsupportedPayable, http.StatusBadRequest, "unsupported_payable"},
	{gateway.ErrInvalidSignature, http.StatusUnauthorized, "invalid_signature"},
	{service.ErrGateway, http.StatusBadGateway, "gateway_error"},
	{service.ErrNoDefaultPlan, http.StatusUnprocessableEntity, "no_default_plan"},
	{service.ErrTaxNotConfigured, http.StatusUnprocessableEntity, "tax_not_configured"},
}

func classify(err error) (int, string) {
	for _, ec := range errorClasses {
		if errors.Is(err, ec.target) {
			return ec.status, ec.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	status, _ := classify(err)
	return status
}

func writeError(c *gin.Context, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		c.JSON(status, response.Failure(status, code, "Internal server error"))
		return
	}
	c.JSON(status, response.Failure(status, code, err.Error()))
}

func paramUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid "+name))
		return uuid.Nil, false
	}
	return id, true
}
