package repository

import (
	"context"
	"errors"

	"billing/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SellerRepository interface {
	CreateApplication(ctx context.Context, app *model.SellerApplication) error
	FindApplicationByID(ctx context.Context, id uuid.UUID) (*model.SellerApplication, error)
	FindApplicationForUpdate(ctx context.Context, id uuid.UUID) (*model.SellerApplication, error)
	UpdateApplication(ctx context.Context, app *model.SellerApplication) error

	CreateProfile(ctx context.Context, profile *model.SellerProfile) error
	FindProfileByUser(ctx context.Context, userID uuid.UUID) (*model.SellerProfile, error)
	UpdateProfile(ctx context.Context, profile *model.SellerProfile) error
}

type sellerRepository struct {
	db *gorm.DB
}

func NewSellerRepository(db *gorm.DB) SellerRepository {
	return &sellerRepository{db: db}
}

func (r *sellerRepository) CreateApplication(ctx context.Context, app *model.SellerApplication) error {
	return GetDB(ctx, r.db).Omit(clause.Associations).Create(app).Error
}

func (r *sellerRepository) FindApplicationByID(ctx context.Context, id uuid.UUID) (*model.SellerApplication, error) {
	var app model.SellerApplication
	if err := GetDB(ctx, r.db).First(&app, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &app, nil
}

func (r *sellerRepository) FindApplicationForUpdate(ctx context.Context, id uuid.UUID) (*model.SellerApplication, error) {
	var app model.SellerApplication
	if err := forUpdate(GetDB(ctx, r.db)).First(&app, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &app, nil
}

func (r *sellerRepository) UpdateApplication(ctx context.Context, app *model.SellerApplication) error {
	return GetDB(ctx, r.db).Omit(clause.Associations).Save(app).Error
}

func (r *sellerRepository) CreateProfile(ctx context.Context, profile *model.SellerProfile) error {
	return GetDB(ctx, r.db).Create(profile).Error
}

// FindProfileByUser returns nil, nil when the user has no seller profile.
func (r *sellerRepository) FindProfileByUser(ctx context.Context, userID uuid.UUID) (*model.SellerProfile, error) {
	var profile model.SellerProfile
	err := forUpdate(GetDB(ctx, r.db)).First(&profile, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *sellerRepository) UpdateProfile(ctx context.Context, profile *model.SellerProfile) error {
	return GetDB(ctx, r.db).Save(profile).Error
}
