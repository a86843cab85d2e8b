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
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type SubscriptionResponse struct {
	ID          string  `json:"id"`
	UserID      string  `json:"user_id"`
	PlanID      string  `json:"plan_id"`
	PlanName    string  `json:"plan_name,omitempty"`
	Status      string  `json:"status"`
	StartedAt   string  `json:"started_at"`
	ExpiresAt   string  `json:"expires_at"`
	ExpiredAt   *string `json:"expired_at"`
	CancelledAt *string `json:"cancelled_at"`
	AutoRenew   bool    `json:"auto_renew"`
}

type SubscriptionService interface {
	// Activate extends the owner's active subscription or creates a new one.
	Activate(ctx context.Context, owner uuid.UUID, plan *model.Plan, invoiceID *uuid.UUID, now time.Time) (*model.Subscription, error)
	// Expire is a no-op unless sub is still active and past its expiry in the store.
	Expire(ctx context.Context, sub *model.Subscription, now time.Time) (bool, error)
	// Cancel returns the cancelled subscription and whether it was active before.
	Cancel(ctx context.Context, subID uuid.UUID, actor *uuid.UUID, now time.Time) (*model.Subscription, bool, error)
	IsRenewalDue(sub *model.Subscription, now time.Time, lookaheadDays int) bool
	GetSubscription(ctx context.Context, id uuid.UUID) (*model.Subscription, error)
	GetCurrent(ctx context.Context, userID uuid.UUID) (*model.Subscription, error)
}

type subscriptionService struct {
	subscriptionRepo repository.SubscriptionRepository
	audit            AuditService
	txManager        repository.TransactionManager
	log              *zap.Logger
}

func NewSubscriptionService(
	subscriptionRepo repository.SubscriptionRepository,
	audit AuditService,
	txManager repository.TransactionManager,
	log *zap.Logger,
) SubscriptionService {
	return &subscriptionService{
		subscriptionRepo: subscriptionRepo,
		audit:            audit,
		txManager:        txManager,
		log:              log.Named("subscription"),
	}
}

func (s *subscriptionService) Activate(ctx context.Context, owner uuid.UUID, plan *model.Plan, invoiceID *uuid.UUID, now time.Time) (*model.Subscription, error) {
	if plan == nil {
		return nil, ErrPlanNotFound
	}

	var sub *model.Subscription
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		current, err := s.subscriptionRepo.FindActiveByUser(txCtx, owner)
		if err != nil {
			return fmt.Errorf("failed to load active subscription: %w", err)
		}

		if active, ok := lifecycle.AsActive(current); ok {
			previous := current.ExpiresAt
			active.Extend(plan.DurationDays, invoiceID, now)
			current.PlanID = plan.ID
			if err := s.subscriptionRepo.Update(txCtx, current); err != nil {
				return fmt.Errorf("failed to extend subscription: %w", err)
			}
			sub = current
			return s.audit.Record(txCtx, AuditEntry{
				Action:   model.ActionExtendSubscription,
				EntityID: sub.ID.String(),
				Details: map[string]interface{}{
					"user_id":             owner,
					"plan_id":             plan.ID,
					"previous_expires_at": previous.Format(time.RFC3339),
					"expires_at":          sub.ExpiresAt.Format(time.RFC3339),
				},
			})
		}

		sub = lifecycle.NewSubscription(owner, plan.ID, plan.DurationDays, invoiceID, now).Subscription()
		if err := s.subscriptionRepo.Create(txCtx, sub); err != nil {
			return fmt.Errorf("failed to create subscription: %w", err)
		}
		return s.audit.Record(txCtx, AuditEntry{
			Action:   model.ActionActivateSubscription,
			EntityID: sub.ID.String(),
			Details: map[string]interface{}{
				"user_id":    owner,
				"plan_id":    plan.ID,
				"expires_at": sub.ExpiresAt.Format(time.RFC3339),
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("subscription activated",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("user_id", owner.String()),
		zap.Time("expires_at", sub.ExpiresAt),
	)
	return sub, nil
}

// Expire refreshes sub from the locked row before deciding.
func (s *subscriptionService) Expire(ctx context.Context, sub *model.Subscription, now time.Time) (bool, error) {
	var changed bool
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		current, err := s.subscriptionRepo.FindByIDForUpdate(txCtx, sub.ID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSubscriptionNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock subscription: %w", err)
		}
		*sub = *current

		active, ok := lifecycle.AsActive(sub)
		if !ok || !active.IsExpired(now) {
			return nil
		}

		changed, err = s.subscriptionRepo.ExpireIfActive(txCtx, sub.ID, now)
		if err != nil {
			return fmt.Errorf("failed to expire subscription: %w", err)
		}
		if !changed {
			return nil
		}
		active.Expire(now)

		return s.audit.Record(txCtx, AuditEntry{
			Action:   model.ActionExpireSubscription,
			EntityID: sub.ID.String(),
			Details: map[string]interface{}{
				"user_id":    sub.UserID,
				"expires_at": sub.ExpiresAt.Format(time.RFC3339),
			},
		})
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

func (s *subscriptionService) Cancel(ctx context.Context, subID uuid.UUID, actor *uuid.UUID, now time.Time) (*model.Subscription, bool, error) {
	var sub *model.Subscription
	var wasActive bool
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		sub, err = s.subscriptionRepo.FindByIDForUpdate(txCtx, subID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSubscriptionNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load subscription: %w", err)
		}

		wasActive = sub.Status == model.SubscriptionActive
		if err := lifecycle.CancelSubscription(sub, now); err != nil {
			return err
		}
		if err := s.subscriptionRepo.Update(txCtx, sub); err != nil {
			return fmt.Errorf("failed to cancel subscription: %w", err)
		}

		return s.audit.Record(txCtx, AuditEntry{
			Actor:    actor,
			Action:   model.ActionCancelSubscription,
			EntityID: sub.ID.String(),
			Details:  map[string]interface{}{"user_id": sub.UserID, "was_active": wasActive},
		})
	})
	if err != nil {
		return nil, false, err
	}
	return sub, wasActive, nil
}

func (s *subscriptionService) IsRenewalDue(sub *model.Subscription, now time.Time, lookaheadDays int) bool {
	return lifecycle.IsRenewalDue(sub, now, lookaheadDays)
}

func (s *subscriptionService) GetSubscription(ctx context.Context, id uuid.UUID) (*model.Subscription, error) {
	sub, err := s.subscriptionRepo.FindByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	return sub, nil
}

// GetCurrent returns the most recent subscription of a user, whatever its status.
func (s *subscriptionService) GetCurrent(ctx context.Context, userID uuid.UUID) (*model.Subscription, error) {
	sub, err := s.subscriptionRepo.FindLatestByUser(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	return sub, nil
}

func ToSubscriptionResponse(sub *model.Subscription) SubscriptionResponse {
	resp := SubscriptionResponse{
		ID:          sub.ID.String(),
		UserID:      sub.UserID.String(),
		PlanID:      sub.PlanID.String(),
		Status:      string(sub.Status),
		StartedAt:   sub.StartedAt.Format(time.RFC3339),
		ExpiresAt:   sub.ExpiresAt.Format(time.RFC3339),
		ExpiredAt:   formatTime(sub.ExpiredAt),
		CancelledAt: formatTime(sub.CancelledAt),
		AutoRenew:   sub.AutoRenew,
	}
	if sub.Plan != nil {
		resp.PlanName = sub.Plan.Name
	}
	return resp
}
