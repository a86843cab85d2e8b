package repository

import (
	"context"
	"errors"
	"time"

	"billing/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SubscriptionRepository interface {
	Create(ctx context.Context, sub *model.Subscription) error
	Update(ctx context.Context, sub *model.Subscription) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Subscription, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Subscription, error)
	FindActiveByUser(ctx context.Context, userID uuid.UUID) (*model.Subscription, error)
	FindLatestByUser(ctx context.Context, userID uuid.UUID) (*model.Subscription, error)
	ListRenewalDue(ctx context.Context, cutoff time.Time) ([]model.Subscription, error)
	ListExpired(ctx context.Context, now time.Time) ([]model.Subscription, error)
	ExpireIfActive(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
}

type subscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

func (r *subscriptionRepository) Create(ctx context.Context, sub *model.Subscription) error {
	return GetDB(ctx, r.db).Omit(clause.Associations).Create(sub).Error
}

func (r *subscriptionRepository) Update(ctx context.Context, sub *model.Subscription) error {
	return GetDB(ctx, r.db).Omit(clause.Associations).Save(sub).Error
}

func (r *subscriptionRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Subscription, error) {
	var sub model.Subscription
	if err := GetDB(ctx, r.db).Preload("Plan").First(&sub, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Subscription, error) {
	var sub model.Subscription
	if err := forUpdate(GetDB(ctx, r.db)).First(&sub, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

// FindActiveByUser locks and returns the owner's active subscription, or nil when there is none.
func (r *subscriptionRepository) FindActiveByUser(ctx context.Context, userID uuid.UUID) (*model.Subscription, error) {
	var sub model.Subscription
	err := forUpdate(GetDB(ctx, r.db)).
		Where("user_id = ? AND status = ?", userID, model.SubscriptionActive).
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepository) FindLatestByUser(ctx context.Context, userID uuid.UUID) (*model.Subscription, error) {
	var sub model.Subscription
	if err := GetDB(ctx, r.db).Preload("Plan").
		Where("user_id = ?", userID).
		Order("started_at desc").
		First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

// ListRenewalDue returns active, auto-renewing subscriptions expiring at or before cutoff.
func (r *subscriptionRepository) ListRenewalDue(ctx context.Context, cutoff time.Time) ([]model.Subscription, error) {
	var subs []model.Subscription
	if err := GetDB(ctx, r.db).Preload("Plan").
		Where("status = ? AND auto_renew = ? AND expires_at <= ?", model.SubscriptionActive, true, cutoff).
		Order("expires_at asc").
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

// ListExpired returns active subscriptions whose expiry has passed.
func (r *subscriptionRepository) ListExpired(ctx context.Context, now time.Time) ([]model.Subscription, error) {
	var subs []model.Subscription
	if err := GetDB(ctx, r.db).
		Where("status = ? AND expires_at <= ?", model.SubscriptionActive, now).
		Order("expires_at asc").
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

// ExpireIfActive flips an active subscription whose expiry has passed at now to
// expired. It reports false when another caller got there first or a renewal
// moved the expiry forward.
func (r *subscriptionRepository) ExpireIfActive(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	res := GetDB(ctx, r.db).Model(&model.Subscription{}).
		Where("id = ? AND status = ? AND expires_at <= ?", id, model.SubscriptionActive, now).
		Updates(map[string]interface{}{
			"status":     model.SubscriptionExpired,
			"expired_at": now,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
