package model

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus enum constants
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// Subscription is the time-bounded grant of seller privileges tied to a plan.
// At most one active row exists per user (partial unique index as backstop).
type Subscription struct {
	ID            uuid.UUID          `gorm:"type:uuid;primaryKey" json:"id"`
	UserID        uuid.UUID          `gorm:"type:uuid;not null;index;uniqueIndex:idx_subscriptions_one_active,where:status = 'active'" json:"user_id"`
	User          *User              `gorm:"foreignKey:UserID" json:"user,omitempty"`
	PlanID        uuid.UUID          `gorm:"type:uuid;not null;index" json:"plan_id"`
	Plan          *Plan              `gorm:"foreignKey:PlanID" json:"plan,omitempty"`
	Status        SubscriptionStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	StartedAt     time.Time          `gorm:"not null" json:"started_at"`
	ExpiresAt     time.Time          `gorm:"not null;index" json:"expires_at"`
	ExpiredAt     *time.Time         `json:"expired_at"`
	CancelledAt   *time.Time         `json:"cancelled_at"`
	AutoRenew     bool               `gorm:"not null" json:"auto_renew"`
	LastInvoiceID *uuid.UUID         `gorm:"type:uuid" json:"last_invoice_id"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}
