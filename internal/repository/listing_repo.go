package repository

import (
	"context"
	"time"

	"billing/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ListingRepository interface {
	Create(ctx context.Context, listing *model.Listing) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Listing, error)
	ExpireVisibleByUser(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error)
}

type listingRepository struct {
	db *gorm.DB
}

func NewListingRepository(db *gorm.DB) ListingRepository {
	return &listingRepository{db: db}
}

func (r *listingRepository) Create(ctx context.Context, listing *model.Listing) error {
	return GetDB(ctx, r.db).Create(listing).Error
}

func (r *listingRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Listing, error) {
	var listing model.Listing
	if err := GetDB(ctx, r.db).First(&listing, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &listing, nil
}

// ExpireVisibleByUser hides every visible listing of a user in one statement.
// Terminal and draft listings are not touched.
func (r *listingRepository) ExpireVisibleByUser(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error) {
	res := GetDB(ctx, r.db).Model(&model.Listing{}).
		Where("user_id = ? AND status IN ?", userID, model.VisibleListingStatuses).
		Updates(map[string]interface{}{
			"status":     model.ListingExpired,
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}
