package model

import (
	"time"

	"github.com/google/uuid"
)

// ApplicationStatus enum constants
type ApplicationStatus string

const (
	ApplicationPending  ApplicationStatus = "pending"
	ApplicationApproved ApplicationStatus = "approved"
	ApplicationRejected ApplicationStatus = "rejected"
)

// SellerApplication is a user's request to become a seller. Approval issues the first invoice.
type SellerApplication struct {
	ID         uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     uuid.UUID         `gorm:"type:uuid;not null;index" json:"user_id"`
	User       *User             `gorm:"foreignKey:UserID" json:"user,omitempty"`
	PlanID     *uuid.UUID        `gorm:"type:uuid" json:"plan_id"` // requested plan, default plan when nil
	StoreName  string            `gorm:"type:varchar(255);not null" json:"store_name"`
	Status     ApplicationStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	ReviewedBy *uuid.UUID        `gorm:"type:uuid" json:"reviewed_by"`
	ReviewedAt *time.Time        `json:"reviewed_at"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// VerificationStatus enum constants
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationLapsed   VerificationStatus = "lapsed" // subscription ran out, restorable by payment
)

// SellerProfile carries seller privileges. It is never deleted by billing;
// lapsing only flips VerificationStatus and IsActive.
type SellerProfile struct {
	ID                 uuid.UUID          `gorm:"type:uuid;primaryKey" json:"id"`
	UserID             uuid.UUID          `gorm:"type:uuid;uniqueIndex;not null" json:"user_id"`
	ApplicationID      *uuid.UUID         `gorm:"type:uuid" json:"application_id"`
	StoreName          string             `gorm:"type:varchar(255);not null" json:"store_name"`
	VerificationStatus VerificationStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"verification_status"`
	IsActive           bool               `gorm:"not null" json:"is_active"`
	VerifiedAt         *time.Time         `json:"verified_at"`
	LapsedAt           *time.Time         `json:"lapsed_at"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}
