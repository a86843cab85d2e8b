package service

import (
	"billing/internal/config"

	"github.com/shopspring/decimal"
)

// Settings are the billing knobs the services consume from configuration.
type Settings struct {
	DefaultPlanCode      string
	TaxRatePercent       *decimal.Decimal // nil when unset
	InvoicePrefix        string
	InvoiceDueDays       int
	RenewalLookaheadDays int
	DefaultCurrency      string
	CallbackURL          string
}

func SettingsFromConfig(cfg *config.Config) Settings {
	s := Settings{
		DefaultPlanCode:      cfg.DefaultPlanCode,
		InvoicePrefix:        cfg.InvoicePrefix,
		InvoiceDueDays:       cfg.InvoiceDueDays,
		RenewalLookaheadDays: cfg.RenewalLookaheadDays,
		DefaultCurrency:      cfg.DefaultCurrency,
		CallbackURL:          cfg.PaymentCallbackURL,
	}
	if rate, ok := cfg.TaxRate(); ok {
		s.TaxRatePercent = &rate
	}
	return s
}

func (s Settings) prefix() string {
	if s.InvoicePrefix == "" {
		return "INV"
	}
	return s.InvoicePrefix
}
