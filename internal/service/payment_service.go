package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"billing/internal/gateway"
	"billing/internal/model"
	"billing/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type PaymentResponse struct {
	ID               string  `json:"id"`
	Reference        string  `json:"reference"`
	PayableType      string  `json:"payable_type"`
	PayableID        string  `json:"payable_id"`
	Amount           string  `json:"amount"`
	Currency         string  `json:"currency"`
	Status           string  `json:"status"`
	Gateway          string  `json:"gateway"`
	GatewayReference *string `json:"gateway_reference"`
	AuthorizationURL *string `json:"authorization_url"`
	Channel          *string `json:"channel"`
	FailureReason    string  `json:"failure_reason,omitempty"`
	InitiatedAt      string  `json:"initiated_at"`
	CompletedAt      *string `json:"completed_at"`
	FailedAt         *string `json:"failed_at"`
	RefundedAt       *string `json:"refunded_at"`
}

// InitializeParams describes a charge to start with a provider. Reference is the
// caller's idempotency key; a fresh one is generated when empty.
type InitializeParams struct {
	Reference   string
	Payable     model.Payable
	UserID      uuid.UUID
	Amount      decimal.Decimal
	Currency    string
	Customer    gateway.Customer
	CallbackURL string
	Gateway     string
	Metadata    map[string]string
	Now         time.Time
}

type InitializeResult struct {
	Payment          *model.Payment
	AuthorizationURL string
}

// PaymentService is the gateway adapter contract: initialize creates the local
// pending Payment, verify is a pure provider query.
type PaymentService interface {
	Initialize(ctx context.Context, p InitializeParams) (*InitializeResult, error)
	Verify(ctx context.Context, gatewayName, reference string) (*gateway.VerifyResult, error)
	AuthenticateWebhook(gatewayName string, payload []byte, headers http.Header) (string, error)
	GetByReference(ctx context.Context, reference string) (*model.Payment, error)
	ListForPayable(ctx context.Context, payable model.Payable) ([]PaymentResponse, error)
	Gateways() []string
}

type paymentService struct {
	paymentRepo repository.PaymentRepository
	gateways    *gateway.Registry
	audit       AuditService
	log         *zap.Logger
}

func NewPaymentService(
	paymentRepo repository.PaymentRepository,
	gateways *gateway.Registry,
	audit AuditService,
	log *zap.Logger,
) PaymentService {
	return &paymentService{
		paymentRepo: paymentRepo,
		gateways:    gateways,
		audit:       audit,
		log:         log.Named("payment"),
	}
}

// NewPaymentReference builds a provider-safe idempotency key.
func NewPaymentReference() string {
	return "PAY-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

func (s *paymentService) Initialize(ctx context.Context, p InitializeParams) (*InitializeResult, error) {
	provider, err := s.gateways.Get(p.Gateway)
	if err != nil {
		return nil, err
	}
	if p.Payable == nil {
		return nil, ErrUnsupportedPayable
	}
	if p.Reference == "" {
		p.Reference = NewPaymentReference()
	}

	exists, err := s.paymentRepo.ExistsByReference(ctx, p.Reference)
	if err != nil {
		return nil, fmt.Errorf("failed to check payment reference: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateReference, p.Reference)
	}

	payment := &model.Payment{
		ID:          uuid.New(),
		Reference:   p.Reference,
		UserID:      p.UserID,
		Amount:      p.Amount,
		Currency:    p.Currency,
		Status:      model.PaymentPending,
		Gateway:     provider.Name(),
		InitiatedAt: p.Now,
	}
	payment.SetPayable(p.Payable)

	// Committed before the provider call so a verify can always find it.
	if err := s.paymentRepo.Create(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}
	if err := s.audit.Record(ctx, AuditEntry{
		Actor:      &p.UserID,
		Action:     model.ActionInitializePayment,
		EntityID:   payment.ID.String(),
		EntityName: payment.Reference,
		Details: map[string]interface{}{
			"gateway":      payment.Gateway,
			"payable_type": payment.PayableType,
			"payable_id":   payment.PayableID,
			"amount":       payment.Amount.StringFixed(2),
		},
	}); err != nil {
		s.log.Warn("failed to audit payment initialization", zap.String("reference", payment.Reference), zap.Error(err))
	}

	res, err := provider.Initialize(ctx, gateway.InitializeRequest{
		Reference:   payment.Reference,
		Amount:      payment.Amount,
		Currency:    payment.Currency,
		Customer:    p.Customer,
		CallbackURL: p.CallbackURL,
		Metadata:    p.Metadata,
	})
	if err != nil {
		s.log.Warn("gateway initialize failed",
			zap.String("gateway", payment.Gateway),
			zap.String("reference", payment.Reference),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}

	payment.AuthorizationURL = &res.AuthorizationURL
	if res.ProviderReference != "" {
		payment.GatewayReference = &res.ProviderReference
	}
	if err := s.paymentRepo.Update(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to store authorization url: %w", err)
	}

	return &InitializeResult{Payment: payment, AuthorizationURL: res.AuthorizationURL}, nil
}

func (s *paymentService) Verify(ctx context.Context, gatewayName, reference string) (*gateway.VerifyResult, error) {
	provider, err := s.gateways.Get(gatewayName)
	if err != nil {
		return nil, err
	}
	res, err := provider.Verify(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	return res, nil
}

func (s *paymentService) AuthenticateWebhook(gatewayName string, payload []byte, headers http.Header) (string, error) {
	provider, err := s.gateways.Get(gatewayName)
	if err != nil {
		return "", err
	}
	return provider.VerifyWebhook(payload, headers)
}

func (s *paymentService) GetByReference(ctx context.Context, reference string) (*model.Payment, error) {
	payment, err := s.paymentRepo.FindByReference(ctx, reference)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}
	return payment, nil
}

// ListForPayable returns every attempt against payable, newest first.
func (s *paymentService) ListForPayable(ctx context.Context, payable model.Payable) ([]PaymentResponse, error) {
	payments, err := s.paymentRepo.ListByPayable(ctx, payable)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	out := make([]PaymentResponse, 0, len(payments))
	for i := range payments {
		out = append(out, ToPaymentResponse(&payments[i]))
	}
	return out, nil
}

func (s *paymentService) Gateways() []string {
	return s.gateways.Names()
}

func ToPaymentResponse(p *model.Payment) PaymentResponse {
	return PaymentResponse{
		ID:               p.ID.String(),
		Reference:        p.Reference,
		PayableType:      string(p.PayableType),
		PayableID:        p.PayableID.String(),
		Amount:           p.Amount.StringFixed(2),
		Currency:         p.Currency,
		Status:           string(p.Status),
		Gateway:          p.Gateway,
		GatewayReference: p.GatewayReference,
		AuthorizationURL: p.AuthorizationURL,
		Channel:          p.Channel,
		FailureReason:    p.FailureReason,
		InitiatedAt:      p.InitiatedAt.Format(time.RFC3339),
		CompletedAt:      formatTime(p.CompletedAt),
		FailedAt:         formatTime(p.FailedAt),
		RefundedAt:       formatTime(p.RefundedAt),
	}
}
