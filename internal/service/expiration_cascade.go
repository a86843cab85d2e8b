package service

import (
	"context"
	"fmt"
	"time"

	"billing/internal/model"
	"billing/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type CascadeResult struct {
	ListingsHidden int64
	ProfileLapsed  bool
}

// ExpirationCascade revokes seller privileges and hides listings when a subscription lapses.
// Run inside the transaction that expired or cancelled the subscription.
type ExpirationCascade interface {
	Run(ctx context.Context, userID uuid.UUID, now time.Time) (CascadeResult, error)
}

type expirationCascade struct {
	sellerRepo  repository.SellerRepository
	listingRepo repository.ListingRepository
	audit       AuditService
	log         *zap.Logger
}

func NewExpirationCascade(
	sellerRepo repository.SellerRepository,
	listingRepo repository.ListingRepository,
	audit AuditService,
	log *zap.Logger,
) ExpirationCascade {
	return &expirationCascade{
		sellerRepo:  sellerRepo,
		listingRepo: listingRepo,
		audit:       audit,
		log:         log.Named("cascade"),
	}
}

// Run hides listings first, then lapses the profile. A missing profile returns
// ErrSellerProfileNotFound after the listings were hidden; callers decide whether that rolls back.
func (c *expirationCascade) Run(ctx context.Context, userID uuid.UUID, now time.Time) (CascadeResult, error) {
	var res CascadeResult

	hidden, err := c.listingRepo.ExpireVisibleByUser(ctx, userID, now)
	if err != nil {
		return res, fmt.Errorf("failed to hide listings: %w", err)
	}
	res.ListingsHidden = hidden

	profile, err := c.sellerRepo.FindProfileByUser(ctx, userID)
	if err != nil {
		return res, fmt.Errorf("failed to load seller profile: %w", err)
	}
	if profile == nil {
		return res, fmt.Errorf("user %s: %w", userID, ErrSellerProfileNotFound)
	}

	if profile.VerificationStatus != model.VerificationLapsed || profile.IsActive {
		profile.VerificationStatus = model.VerificationLapsed
		profile.IsActive = false
		profile.LapsedAt = &now
		if err := c.sellerRepo.UpdateProfile(ctx, profile); err != nil {
			return res, fmt.Errorf("failed to lapse seller profile: %w", err)
		}
		res.ProfileLapsed = true
	}

	if err := c.audit.Record(ctx, AuditEntry{
		Action:     model.ActionRevokeSeller,
		EntityID:   profile.ID.String(),
		EntityName: profile.StoreName,
		Details: map[string]interface{}{
			"user_id":         userID,
			"listings_hidden": hidden,
		},
	}); err != nil {
		return res, err
	}

	c.log.Info("seller privileges revoked",
		zap.String("user_id", userID.String()),
		zap.Int64("listings_hidden", hidden),
	)
	return res, nil
}
