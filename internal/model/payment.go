package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// PaymentStatus enum constants
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// PayableType is the stored discriminator of the Payable sum type.
type PayableType string

const (
	PayableInvoice PayableType = "invoice"
	PayableOrder   PayableType = "order"
	PayableBanner  PayableType = "banner"
)

// Payable is the entity a payment settles. The set of variants is closed:
// InvoicePayable, OrderPayable, BannerPayable.
type Payable interface {
	payableRef() (PayableType, uuid.UUID)
}

type InvoicePayable struct{ InvoiceID uuid.UUID }
type OrderPayable struct{ OrderID uuid.UUID }
type BannerPayable struct{ BannerID uuid.UUID }

func (p InvoicePayable) payableRef() (PayableType, uuid.UUID) { return PayableInvoice, p.InvoiceID }
func (p OrderPayable) payableRef() (PayableType, uuid.UUID)   { return PayableOrder, p.OrderID }
func (p BannerPayable) payableRef() (PayableType, uuid.UUID)  { return PayableBanner, p.BannerID }

// Payment records an attempted or completed settlement against a payable.
type Payment struct {
	ID               uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	Reference        string          `gorm:"type:varchar(100);uniqueIndex;not null" json:"reference"`
	UserID           uuid.UUID       `gorm:"type:uuid;not null;index" json:"user_id"`
	PayableType      PayableType     `gorm:"type:varchar(20);not null;index:idx_payments_payable,priority:1" json:"payable_type"`
	PayableID        uuid.UUID       `gorm:"type:uuid;not null;index:idx_payments_payable,priority:2" json:"payable_id"`
	Amount           decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"amount"`
	Currency         string          `gorm:"type:varchar(3);not null" json:"currency"`
	Status           PaymentStatus   `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	Gateway          string          `gorm:"type:varchar(30);not null" json:"gateway"`
	GatewayReference *string         `gorm:"type:varchar(100);index" json:"gateway_reference"`
	AuthorizationURL *string         `gorm:"type:text" json:"authorization_url"`
	Channel          *string         `gorm:"type:varchar(50)" json:"channel"`
	Fees             datatypes.JSON  `json:"fees"`
	ProviderPayload  datatypes.JSON  `json:"provider_payload"` // raw verify response, kept for audit
	FailureReason    string          `gorm:"type:text" json:"failure_reason"`
	InitiatedAt      time.Time       `gorm:"not null" json:"initiated_at"`
	CompletedAt      *time.Time      `json:"completed_at"`
	FailedAt         *time.Time      `json:"failed_at"`
	RefundedAt       *time.Time      `json:"refunded_at"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// SetPayable stores the discriminator and id of p.
func (p *Payment) SetPayable(payable Payable) {
	p.PayableType, p.PayableID = payable.payableRef()
}

// Payable resolves the stored discriminator back into its variant.
func (p *Payment) Payable() (Payable, error) {
	switch p.PayableType {
	case PayableInvoice:
		return InvoicePayable{InvoiceID: p.PayableID}, nil
	case PayableOrder:
		return OrderPayable{OrderID: p.PayableID}, nil
	case PayableBanner:
		return BannerPayable{BannerID: p.PayableID}, nil
	default:
		return nil, fmt.Errorf("unknown payable type %q", p.PayableType)
	}
}
