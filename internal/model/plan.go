package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Plan is a purchasable seller subscription tier.
type Plan struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	Code         string          `gorm:"type:varchar(50);uniqueIndex;not null" json:"code"`
	Name         string          `gorm:"type:varchar(255);not null" json:"name"`
	Price        decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"price"`
	Currency     string          `gorm:"type:varchar(3);not null" json:"currency"`
	DurationDays int             `gorm:"type:int;not null" json:"duration_days"`
	IsDefault    bool            `gorm:"not null;index" json:"is_default"`
	IsActive     bool            `gorm:"not null" json:"is_active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
