package service

import (
	"errors"

	"billing/internal/lifecycle"
)

var (
	// Configuration errors. Nothing is persisted when these are returned.
	ErrPlanNotFound     = errors.New("plan not found")
	ErrNoDefaultPlan    = errors.New("no default subscription plan configured")
	ErrTaxNotConfigured = errors.New("tax rate not configured")
	ErrTaxRuleOverlap   = errors.New("tax rule overlaps an existing rule")

	// ErrGateway wraps every provider failure surfaced from initialize or verify.
	ErrGateway = errors.New("payment gateway error")

	ErrInvalidTransition     = lifecycle.ErrInvalidTransition
	ErrSellerProfileNotFound = errors.New("seller profile not found")
	ErrUnsupportedPayable    = errors.New("unsupported payable")
	ErrDuplicateReference    = errors.New("duplicate payment reference")

	ErrInvoiceNotFound      = errors.New("invoice not found")
	ErrInvoiceNotPayable    = errors.New("invoice is not payable")
	ErrApplicationNotFound  = errors.New("seller application not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrGatewayMismatch      = errors.New("payment belongs to a different gateway")
	ErrForbidden            = errors.New("not allowed to act on this resource")
)
