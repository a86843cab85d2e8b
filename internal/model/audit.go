package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	ActionIssueInvoice         = "ISSUE_INVOICE"
	ActionCancelInvoice        = "CANCEL_INVOICE"
	ActionApproveApplication   = "APPROVE_SELLER_APPLICATION"
	ActionInitializePayment    = "INITIALIZE_PAYMENT"
	ActionCompletePayment      = "COMPLETE_PAYMENT"
	ActionFailPayment          = "FAIL_PAYMENT"
	ActionRefundPayment        = "REFUND_PAYMENT"
	ActionSettleInvoice        = "SETTLE_INVOICE"
	ActionActivateSubscription = "ACTIVATE_SUBSCRIPTION"
	ActionExtendSubscription   = "EXTEND_SUBSCRIPTION"
	ActionExpireSubscription   = "EXPIRE_SUBSCRIPTION"
	ActionCancelSubscription   = "CANCEL_SUBSCRIPTION"
	ActionRevokeSeller         = "REVOKE_SELLER_PRIVILEGES"
	ActionRestoreSeller        = "RESTORE_SELLER_PRIVILEGES"
	ActionCreateTaxRule        = "CREATE_TAX_RULE"
)

// AuditLog tracks Who, What, and When for billing mutations.
type AuditLog struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     *uuid.UUID     `gorm:"type:uuid;index" json:"user_id"` // nil for the scheduler / gateway callbacks
	User       *User          `gorm:"foreignKey:UserID" json:"user"`
	Action     string         `gorm:"type:varchar(50);not null;index" json:"action"`
	EntityID   string         `gorm:"type:varchar(50);index" json:"entity_id"`
	EntityName string         `gorm:"type:varchar(255)" json:"entity_name,omitempty"`
	Details    datatypes.JSON `json:"details"`
	CreatedAt  time.Time      `gorm:"index" json:"created_at"`
}
