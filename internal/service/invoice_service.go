package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"billing/internal/lifecycle"
	"billing/internal/model"
	"billing/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// --- DTOs ---

type InvoiceFilter struct {
	Status    string // pending, processing, paid, cancelled or empty for all
	Kind      string
	InvoiceNo string // partial match on invoice_no
	UserID    *uuid.UUID
	Page      int
	Limit     int
}

type InvoiceLineItemResponse struct {
	Description string `json:"description"`
	Quantity    int64  `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	Amount      string `json:"amount"`
}

type InvoiceResponse struct {
	ID               string                    `json:"id"`
	InvoiceNo        string                    `json:"invoice_no"`
	UserID           string                    `json:"user_id"`
	ApplicationID    *string                   `json:"application_id"`
	PlanID           *string                   `json:"plan_id"`
	PlanName         string                    `json:"plan_name,omitempty"`
	Kind             string                    `json:"kind"`
	BaseAmount       string                    `json:"base_amount"`
	TaxRate          string                    `json:"tax_rate"`
	TaxAmount        string                    `json:"tax_amount"`
	Discount         string                    `json:"discount"`
	TotalAmount      string                    `json:"total_amount"`
	Currency         string                    `json:"currency"`
	Status           string                    `json:"status"`
	Overdue          bool                      `json:"overdue"`
	DueDate          string                    `json:"due_date"`
	LineItems        []InvoiceLineItemResponse `json:"line_items"`
	PaymentReference *string                   `json:"payment_reference"`
	PaymentMethod    *string                   `json:"payment_method"`
	PaidAt           *string                   `json:"paid_at"`
	CancelledAt      *string                   `json:"cancelled_at"`
	CreatedAt        string                    `json:"created_at"`
}

// IssueInvoiceParams describes a new invoice. Plan is required for subscription and
// renewal invoices; LineItems default to one row for the plan price.
type IssueInvoiceParams struct {
	Owner         uuid.UUID
	Plan          *model.Plan
	ApplicationID *uuid.UUID
	Kind          model.InvoiceKind
	LineItems     []model.InvoiceLineItem
	DueDate       time.Time
	Discount      decimal.Decimal
	Currency      string
	Actor         *uuid.UUID
	Now           time.Time
}

// --- Interface ---

type InvoiceService interface {
	Issue(ctx context.Context, p IssueInvoiceParams) (*model.Invoice, error)
	MarkPaid(ctx context.Context, invoiceID uuid.UUID, paymentRef, method string, now time.Time) (*model.Invoice, bool, error)
	IsOverdue(invoice *model.Invoice, now time.Time) bool
	Cancel(ctx context.Context, invoiceID uuid.UUID, actor *uuid.UUID, now time.Time) (*model.Invoice, error)
	GetInvoice(ctx context.Context, id uuid.UUID) (*model.Invoice, error)
	ListInvoices(ctx context.Context, filter InvoiceFilter, now time.Time) ([]InvoiceResponse, int64, error)
}

type invoiceService struct {
	invoiceRepo repository.InvoiceRepository
	taxService  TaxService
	audit       AuditService
	txManager   repository.TransactionManager
	settings    Settings
	log         *zap.Logger
}

func NewInvoiceService(
	invoiceRepo repository.InvoiceRepository,
	taxService TaxService,
	audit AuditService,
	txManager repository.TransactionManager,
	settings Settings,
	log *zap.Logger,
) InvoiceService {
	return &invoiceService{
		invoiceRepo: invoiceRepo,
		taxService:  taxService,
		audit:       audit,
		txManager:   txManager,
		settings:    settings,
		log:         log.Named("invoice"),
	}
}

// --- Implementation ---

func (s *invoiceService) Issue(ctx context.Context, p IssueInvoiceParams) (*model.Invoice, error) {
	needsPlan := p.Kind == model.InvoiceKindSellerSubscription || p.Kind == model.InvoiceKindRenewal
	if needsPlan && p.Plan == nil {
		return nil, ErrPlanNotFound
	}

	items := p.LineItems
	if len(items) == 0 {
		if p.Plan == nil {
			return nil, errors.New("invoice needs a plan or at least one line item")
		}
		items = []model.InvoiceLineItem{{
			Description: fmt.Sprintf("%s subscription (%d days)", p.Plan.Name, p.Plan.DurationDays),
			Quantity:    1,
			UnitPrice:   p.Plan.Price,
		}}
	}

	rate, err := s.taxService.CurrentRate(ctx, p.Now)
	if err != nil {
		return nil, err
	}
	totals := lifecycle.ComputeTotals(lifecycle.SumLineItems(items), rate, p.Discount)

	currency := p.Currency
	if currency == "" && p.Plan != nil {
		currency = p.Plan.Currency
	}
	if currency == "" {
		currency = s.settings.DefaultCurrency
	}

	invoice := &model.Invoice{
		ID:            uuid.New(),
		UserID:        p.Owner,
		ApplicationID: p.ApplicationID,
		Kind:          p.Kind,
		BaseAmount:    totals.Base,
		TaxRate:       totals.TaxRate,
		TaxAmount:     totals.Tax,
		Discount:      totals.Discount,
		TotalAmount:   totals.Total,
		Currency:      currency,
		Status:        model.InvoicePending,
		DueDate:       p.DueDate,
		LineItems:     items,
		GeneratedBy:   p.Actor,
	}
	if p.Plan != nil {
		invoice.PlanID = &p.Plan.ID
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		invoiceNo, err := s.nextInvoiceNo(txCtx, p.Now)
		if err != nil {
			return fmt.Errorf("failed to generate invoice number: %w", err)
		}
		invoice.InvoiceNo = invoiceNo

		if err := s.invoiceRepo.Create(txCtx, invoice); err != nil {
			return fmt.Errorf("failed to create invoice: %w", err)
		}

		return s.audit.Record(txCtx, AuditEntry{
			Actor:      p.Actor,
			Action:     model.ActionIssueInvoice,
			EntityID:   invoice.ID.String(),
			EntityName: invoice.InvoiceNo,
			Details: map[string]interface{}{
				"kind":         invoice.Kind,
				"user_id":      invoice.UserID,
				"total_amount": invoice.TotalAmount.StringFixed(2),
				"currency":     invoice.Currency,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("invoice issued",
		zap.String("invoice_no", invoice.InvoiceNo),
		zap.String("kind", string(invoice.Kind)),
		zap.String("user_id", invoice.UserID.String()),
		zap.String("total", invoice.TotalAmount.StringFixed(2)),
	)
	return invoice, nil
}

// nextInvoiceNo must run in the transaction that inserts the invoice.
func (s *invoiceService) nextInvoiceNo(ctx context.Context, now time.Time) (string, error) {
	prefix := lifecycle.InvoiceNumberPrefix(s.settings.prefix(), now)

	if err := s.invoiceRepo.LockNumbering(ctx, prefix); err != nil {
		return "", err
	}
	count, err := s.invoiceRepo.CountByPrefix(ctx, prefix)
	if err != nil {
		return "", err
	}

	return lifecycle.InvoiceNumber(s.settings.prefix(), now, count+1), nil
}

// MarkPaid settles the invoice. The bool is false when it was already paid.
func (s *invoiceService) MarkPaid(ctx context.Context, invoiceID uuid.UUID, paymentRef, method string, now time.Time) (*model.Invoice, bool, error) {
	var invoice *model.Invoice
	var changed bool
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		invoice, err = s.findForUpdate(txCtx, invoiceID)
		if err != nil {
			return err
		}

		changed, err = lifecycle.MarkPaid(invoice, paymentRef, method, now)
		if err != nil || !changed {
			return err
		}

		if err := s.invoiceRepo.Update(txCtx, invoice); err != nil {
			return fmt.Errorf("failed to update invoice: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return invoice, changed, nil
}

func (s *invoiceService) IsOverdue(invoice *model.Invoice, now time.Time) bool {
	return invoice.IsOverdue(now)
}

func (s *invoiceService) Cancel(ctx context.Context, invoiceID uuid.UUID, actor *uuid.UUID, now time.Time) (*model.Invoice, error) {
	var invoice *model.Invoice
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		invoice, err = s.findForUpdate(txCtx, invoiceID)
		if err != nil {
			return err
		}

		if err := lifecycle.Cancel(invoice, now); err != nil {
			return err
		}
		if err := s.invoiceRepo.Update(txCtx, invoice); err != nil {
			return fmt.Errorf("failed to update invoice: %w", err)
		}

		return s.audit.Record(txCtx, AuditEntry{
			Actor:      actor,
			Action:     model.ActionCancelInvoice,
			EntityID:   invoice.ID.String(),
			EntityName: invoice.InvoiceNo,
		})
	})
	if err != nil {
		return nil, err
	}
	return invoice, nil
}

func (s *invoiceService) GetInvoice(ctx context.Context, id uuid.UUID) (*model.Invoice, error) {
	invoice, err := s.invoiceRepo.FindByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvoiceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load invoice: %w", err)
	}
	return invoice, nil
}

func (s *invoiceService) ListInvoices(ctx context.Context, filter InvoiceFilter, now time.Time) ([]InvoiceResponse, int64, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = 20
	}

	invoices, total, err := s.invoiceRepo.List(ctx, repository.InvoiceListFilter{
		Status:    filter.Status,
		Kind:      filter.Kind,
		InvoiceNo: filter.InvoiceNo,
		UserID:    filter.UserID,
		Page:      filter.Page,
		Limit:     filter.Limit,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch invoices: %w", err)
	}

	result := make([]InvoiceResponse, 0, len(invoices))
	for i := range invoices {
		result = append(result, ToInvoiceResponse(&invoices[i], now))
	}
	return result, total, nil
}

func (s *invoiceService) findForUpdate(ctx context.Context, id uuid.UUID) (*model.Invoice, error) {
	invoice, err := s.invoiceRepo.FindByIDForUpdate(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvoiceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load invoice: %w", err)
	}
	return invoice, nil
}

// --- Mapping ---

func ToInvoiceResponse(inv *model.Invoice, now time.Time) InvoiceResponse {
	resp := InvoiceResponse{
		ID:               inv.ID.String(),
		InvoiceNo:        inv.InvoiceNo,
		UserID:           inv.UserID.String(),
		Kind:             string(inv.Kind),
		BaseAmount:       inv.BaseAmount.StringFixed(2),
		TaxRate:          inv.TaxRate.String(),
		TaxAmount:        inv.TaxAmount.StringFixed(2),
		Discount:         inv.Discount.StringFixed(2),
		TotalAmount:      inv.TotalAmount.StringFixed(2),
		Currency:         inv.Currency,
		Status:           string(inv.Status),
		Overdue:          inv.IsOverdue(now),
		DueDate:          inv.DueDate.Format(time.RFC3339),
		LineItems:        make([]InvoiceLineItemResponse, 0, len(inv.LineItems)),
		PaymentReference: inv.PaymentReference,
		PaymentMethod:    inv.PaymentMethod,
		PaidAt:           formatTime(inv.PaidAt),
		CancelledAt:      formatTime(inv.CancelledAt),
		CreatedAt:        inv.CreatedAt.Format(time.RFC3339),
	}
	if inv.ApplicationID != nil {
		s := inv.ApplicationID.String()
		resp.ApplicationID = &s
	}
	if inv.PlanID != nil {
		s := inv.PlanID.String()
		resp.PlanID = &s
	}
	if inv.Plan != nil {
		resp.PlanName = inv.Plan.Name
	}
	for _, li := range inv.LineItems {
		resp.LineItems = append(resp.LineItems, InvoiceLineItemResponse{
			Description: li.Description,
			Quantity:    li.Quantity,
			UnitPrice:   li.UnitPrice.StringFixed(2),
			Amount:      li.Amount().StringFixed(2),
		})
	}
	return resp
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
