package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// InvoiceStatus is the stored lifecycle state of an invoice.
// Overdue is never stored; see Invoice.IsOverdue.
type InvoiceStatus string

const (
	InvoicePending    InvoiceStatus = "pending"
	InvoiceProcessing InvoiceStatus = "processing" // payment submitted, awaiting confirmation
	InvoicePaid       InvoiceStatus = "paid"
	InvoiceCancelled  InvoiceStatus = "cancelled"
)

// InvoiceKind describes what an invoice bills for.
type InvoiceKind string

const (
	InvoiceKindSellerSubscription InvoiceKind = "seller_subscription"
	InvoiceKindRenewal            InvoiceKind = "renewal"
	InvoiceKindCommission         InvoiceKind = "commission"
	InvoiceKindOther              InvoiceKind = "other"
)

// InvoiceLineItem is one ordered row of an invoice.
type InvoiceLineItem struct {
	Description string          `json:"description"`
	Quantity    int64           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// Amount is quantity * unit price.
func (li InvoiceLineItem) Amount() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(li.Quantity))
}

// Invoice is a billable demand for payment tied to a plan, application or renewal.
// TotalAmount = BaseAmount + TaxAmount - Discount, fixed at issuance.
type Invoice struct {
	ID               uuid.UUID                            `gorm:"type:uuid;primaryKey" json:"id"`
	InvoiceNo        string                               `gorm:"type:varchar(30);uniqueIndex;not null" json:"invoice_no"`
	UserID           uuid.UUID                            `gorm:"type:uuid;not null;index" json:"user_id"`
	User             *User                                `gorm:"foreignKey:UserID" json:"user,omitempty"`
	ApplicationID    *uuid.UUID                           `gorm:"type:uuid;index" json:"application_id"`
	PlanID           *uuid.UUID                           `gorm:"type:uuid;index" json:"plan_id"`
	Plan             *Plan                                `gorm:"foreignKey:PlanID" json:"plan,omitempty"`
	Kind             InvoiceKind                          `gorm:"type:varchar(30);not null;index" json:"kind"`
	BaseAmount       decimal.Decimal                      `gorm:"type:decimal(18,2);not null" json:"base_amount"`
	TaxRate          decimal.Decimal                      `gorm:"type:decimal(10,4);not null;default:0" json:"tax_rate"` // percent, e.g. 7.5
	TaxAmount        decimal.Decimal                      `gorm:"type:decimal(18,2);not null;default:0" json:"tax_amount"`
	Discount         decimal.Decimal                      `gorm:"type:decimal(18,2);not null;default:0" json:"discount"`
	TotalAmount      decimal.Decimal                      `gorm:"type:decimal(18,2);not null" json:"total_amount"`
	Currency         string                               `gorm:"type:varchar(3);not null" json:"currency"`
	Status           InvoiceStatus                        `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	DueDate          time.Time                            `gorm:"not null;index" json:"due_date"`
	LineItems        datatypes.JSONSlice[InvoiceLineItem] `json:"line_items"`
	PaymentReference *string                              `gorm:"type:varchar(100)" json:"payment_reference"`
	PaymentMethod    *string                              `gorm:"type:varchar(50)" json:"payment_method"`
	PaidAt           *time.Time                           `json:"paid_at"`
	CancelledAt      *time.Time                           `json:"cancelled_at"`
	GeneratedBy      *uuid.UUID                           `gorm:"type:uuid" json:"generated_by"` // nil when system generated
	CreatedAt        time.Time                            `json:"created_at"`
	UpdatedAt        time.Time                            `json:"updated_at"`
}

// IsOverdue reports whether an unsettled invoice is past its due date.
func (i *Invoice) IsOverdue(now time.Time) bool {
	if i.Status != InvoicePending && i.Status != InvoiceProcessing {
		return false
	}
	return now.After(i.DueDate)
}
