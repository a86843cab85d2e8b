package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"billing/internal/model"
	"billing/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// --- DTOs ---

type CreateTaxRuleRequest struct {
	Rate          string `json:"rate" binding:"required"`           // fraction, e.g. "0.075"
	EffectiveFrom string `json:"effective_from" binding:"required"` // YYYY-MM-DD
	EffectiveTo   string `json:"effective_to"`                      // YYYY-MM-DD, nullable
	Description   string `json:"description"`
}

type TaxRuleResponse struct {
	ID            string  `json:"id"`
	TaxType       string  `json:"tax_type"`
	Rate          string  `json:"rate"`
	Percent       string  `json:"percent"`
	EffectiveFrom string  `json:"effective_from"`
	EffectiveTo   *string `json:"effective_to"`
	Description   string  `json:"description"`
	CreatedAt     string  `json:"created_at"`
}

// --- Interface ---

// TaxService resolves the VAT percentage applied to new invoices.
type TaxService interface {
	CurrentRate(ctx context.Context, at time.Time) (decimal.Decimal, error)
	GetTaxRules(ctx context.Context) ([]TaxRuleResponse, error)
	CreateTaxRule(ctx context.Context, req CreateTaxRuleRequest, actor *uuid.UUID) (TaxRuleResponse, error)
}

type taxService struct {
	taxRuleRepo repository.TaxRuleRepository
	audit       AuditService
	fallback    *decimal.Decimal
}

// NewTaxService prefers an active VAT rule and falls back to the configured percentage.
func NewTaxService(taxRuleRepo repository.TaxRuleRepository, audit AuditService, fallback *decimal.Decimal) TaxService {
	return &taxService{taxRuleRepo: taxRuleRepo, audit: audit, fallback: fallback}
}

// --- Implementation ---

func (s *taxService) CurrentRate(ctx context.Context, at time.Time) (decimal.Decimal, error) {
	rule, err := s.taxRuleRepo.FindActiveByType(ctx, model.TaxTypeVAT, at)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load tax rule: %w", err)
	}
	if rule != nil {
		return rule.Percent(), nil
	}
	if s.fallback == nil {
		return decimal.Zero, ErrTaxNotConfigured
	}
	return *s.fallback, nil
}

func (s *taxService) GetTaxRules(ctx context.Context) ([]TaxRuleResponse, error) {
	rules, err := s.taxRuleRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tax rules: %w", err)
	}

	res := make([]TaxRuleResponse, 0, len(rules))
	for i := range rules {
		res = append(res, toTaxRuleResponse(&rules[i]))
	}
	return res, nil
}

func (s *taxService) CreateTaxRule(ctx context.Context, req CreateTaxRuleRequest, actor *uuid.UUID) (TaxRuleResponse, error) {
	rate, err := decimal.NewFromString(req.Rate)
	if err != nil {
		return TaxRuleResponse{}, fmt.Errorf("invalid rate: %w", err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return TaxRuleResponse{}, errors.New("rate must be a fraction between 0 and 1")
	}

	effectiveFrom, err := time.Parse("2006-01-02", req.EffectiveFrom)
	if err != nil {
		return TaxRuleResponse{}, fmt.Errorf("invalid effective_from (expected YYYY-MM-DD): %w", err)
	}
	var effectiveTo *time.Time
	if req.EffectiveTo != "" {
		t, err := time.Parse("2006-01-02", req.EffectiveTo)
		if err != nil {
			return TaxRuleResponse{}, fmt.Errorf("invalid effective_to (expected YYYY-MM-DD): %w", err)
		}
		// inclusive of the whole last day
		t = t.Add(24*time.Hour - time.Second)
		if t.Before(effectiveFrom) {
			return TaxRuleResponse{}, errors.New("effective_to must not be before effective_from")
		}
		effectiveTo = &t
	}

	overlapping, err := s.taxRuleRepo.CountOverlapping(ctx, model.TaxTypeVAT, effectiveFrom, effectiveTo)
	if err != nil {
		return TaxRuleResponse{}, fmt.Errorf("failed to check tax rule overlap: %w", err)
	}
	if overlapping > 0 {
		return TaxRuleResponse{}, ErrTaxRuleOverlap
	}

	rule := &model.TaxRule{
		ID:            uuid.New(),
		TaxType:       model.TaxTypeVAT,
		Rate:          rate,
		EffectiveFrom: effectiveFrom,
		EffectiveTo:   effectiveTo,
		Description:   req.Description,
	}
	if err := s.taxRuleRepo.Create(ctx, rule); err != nil {
		return TaxRuleResponse{}, fmt.Errorf("failed to create tax rule: %w", err)
	}

	if err := s.audit.Record(ctx, AuditEntry{
		Actor:      actor,
		Action:     model.ActionCreateTaxRule,
		EntityID:   rule.ID.String(),
		EntityName: rule.TaxType + " " + rate.StringFixed(4),
	}); err != nil {
		return TaxRuleResponse{}, err
	}

	return toTaxRuleResponse(rule), nil
}

// --- Mapping ---

func toTaxRuleResponse(r *model.TaxRule) TaxRuleResponse {
	res := TaxRuleResponse{
		ID:            r.ID.String(),
		TaxType:       r.TaxType,
		Rate:          r.Rate.StringFixed(4),
		Percent:       r.Percent().String(),
		EffectiveFrom: r.EffectiveFrom.Format("2006-01-02"),
		Description:   r.Description,
		CreatedAt:     r.CreatedAt.Format(time.RFC3339),
	}
	if r.EffectiveTo != nil {
		s := r.EffectiveTo.Format("2006-01-02")
		res.EffectiveTo = &s
	}
	return res
}
