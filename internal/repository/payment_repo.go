package repository

import (
	"context"
	"time"

	"billing/internal/model"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PaymentCompletion carries the verified provider data stored on completion.
type PaymentCompletion struct {
	GatewayReference string
	Channel          string
	Fees             datatypes.JSON
	ProviderPayload  datatypes.JSON
	CompletedAt      time.Time
}

type PaymentRepository interface {
	Create(ctx context.Context, payment *model.Payment) error
	Update(ctx context.Context, payment *model.Payment) error
	FindByReference(ctx context.Context, reference string) (*model.Payment, error)
	FindByReferenceForUpdate(ctx context.Context, reference string) (*model.Payment, error)
	ExistsByReference(ctx context.Context, reference string) (bool, error)
	CompleteIfPending(ctx context.Context, id uuid.UUID, c PaymentCompletion) (bool, error)
	FailIfPending(ctx context.Context, id uuid.UUID, reason string, payload datatypes.JSON, at time.Time) (bool, error)
	RefundIfCompleted(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	ListByPayable(ctx context.Context, payable model.Payable) ([]model.Payment, error)
}

type paymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) Create(ctx context.Context, payment *model.Payment) error {
	return GetDB(ctx, r.db).Create(payment).Error
}

func (r *paymentRepository) Update(ctx context.Context, payment *model.Payment) error {
	return GetDB(ctx, r.db).Save(payment).Error
}

func (r *paymentRepository) FindByReference(ctx context.Context, reference string) (*model.Payment, error) {
	var payment model.Payment
	if err := GetDB(ctx, r.db).First(&payment, "reference = ?", reference).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *paymentRepository) FindByReferenceForUpdate(ctx context.Context, reference string) (*model.Payment, error) {
	var payment model.Payment
	if err := forUpdate(GetDB(ctx, r.db)).First(&payment, "reference = ?", reference).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *paymentRepository) ExistsByReference(ctx context.Context, reference string) (bool, error) {
	var count int64
	if err := GetDB(ctx, r.db).Model(&model.Payment{}).Where("reference = ?", reference).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// CompleteIfPending is the single completion point of a payment. Only the caller
// that gets true may settle the payable.
func (r *paymentRepository) CompleteIfPending(ctx context.Context, id uuid.UUID, c PaymentCompletion) (bool, error) {
	updates := map[string]interface{}{
		"status":       model.PaymentCompleted,
		"completed_at": c.CompletedAt,
		"updated_at":   c.CompletedAt,
	}
	if c.GatewayReference != "" {
		updates["gateway_reference"] = c.GatewayReference
	}
	if c.Channel != "" {
		updates["channel"] = c.Channel
	}
	if len(c.Fees) > 0 {
		updates["fees"] = c.Fees
	}
	if len(c.ProviderPayload) > 0 {
		updates["provider_payload"] = c.ProviderPayload
	}

	res := GetDB(ctx, r.db).Model(&model.Payment{}).
		Where("id = ? AND status = ?", id, model.PaymentPending).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *paymentRepository) FailIfPending(ctx context.Context, id uuid.UUID, reason string, payload datatypes.JSON, at time.Time) (bool, error) {
	updates := map[string]interface{}{
		"status":         model.PaymentFailed,
		"failure_reason": reason,
		"failed_at":      at,
		"updated_at":     at,
	}
	if len(payload) > 0 {
		updates["provider_payload"] = payload
	}

	res := GetDB(ctx, r.db).Model(&model.Payment{}).
		Where("id = ? AND status = ?", id, model.PaymentPending).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *paymentRepository) RefundIfCompleted(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := GetDB(ctx, r.db).Model(&model.Payment{}).
		Where("id = ? AND status = ?", id, model.PaymentCompleted).
		Updates(map[string]interface{}{
			"status":      model.PaymentRefunded,
			"refunded_at": at,
			"updated_at":  at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *paymentRepository) ListByPayable(ctx context.Context, payable model.Payable) ([]model.Payment, error) {
	var probe model.Payment
	probe.SetPayable(payable)

	var payments []model.Payment
	if err := GetDB(ctx, r.db).
		Where("payable_type = ? AND payable_id = ?", probe.PayableType, probe.PayableID).
		Order("initiated_at desc").
		Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}
