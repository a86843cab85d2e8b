package repository

import (
	"context"

	"billing/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PlanRepository interface {
	Create(ctx context.Context, plan *model.Plan) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Plan, error)
	FindByCode(ctx context.Context, code string) (*model.Plan, error)
	FindDefault(ctx context.Context) (*model.Plan, error)
}

type planRepository struct {
	db *gorm.DB
}

func NewPlanRepository(db *gorm.DB) PlanRepository {
	return &planRepository{db: db}
}

func (r *planRepository) Create(ctx context.Context, plan *model.Plan) error {
	return GetDB(ctx, r.db).Create(plan).Error
}

func (r *planRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Plan, error) {
	var plan model.Plan
	if err := GetDB(ctx, r.db).First(&plan, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *planRepository) FindByCode(ctx context.Context, code string) (*model.Plan, error) {
	var plan model.Plan
	if err := GetDB(ctx, r.db).Where("code = ? AND is_active = ?", code, true).First(&plan).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

// FindDefault returns the active plan flagged as default.
func (r *planRepository) FindDefault(ctx context.Context) (*model.Plan, error) {
	var plan model.Plan
	if err := GetDB(ctx, r.db).
		Where("is_default = ? AND is_active = ?", true, true).
		Order("created_at asc").
		First(&plan).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}
