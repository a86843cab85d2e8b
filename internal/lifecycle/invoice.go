package lifecycle

import (
	"fmt"
	"time"

	"billing/internal/model"

	"github.com/shopspring/decimal"
)

var invoiceTransitions = map[model.InvoiceStatus][]model.InvoiceStatus{
	model.InvoicePending:    {model.InvoiceProcessing, model.InvoicePaid, model.InvoiceCancelled},
	model.InvoiceProcessing: {model.InvoicePending, model.InvoicePaid},
}

// CanTransitionInvoice reports whether from -> to is allowed. Paid and cancelled are terminal.
func CanTransitionInvoice(from, to model.InvoiceStatus) bool {
	for _, next := range invoiceTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func transitionInvoice(inv *model.Invoice, to model.InvoiceStatus) error {
	if !CanTransitionInvoice(inv.Status, to) {
		return fmt.Errorf("invoice %s: %s -> %s: %w", inv.InvoiceNo, inv.Status, to, ErrInvalidTransition)
	}
	inv.Status = to
	return nil
}

// Totals is the money breakdown fixed on an invoice at issuance.
type Totals struct {
	Base     decimal.Decimal
	TaxRate  decimal.Decimal // percent
	Tax      decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
}

// ComputeTotals applies a percentage tax rate to base and subtracts discount.
// Tax and total are rounded half away from zero to 2 decimal places.
func ComputeTotals(base, ratePercent, discount decimal.Decimal) Totals {
	tax := base.Mul(ratePercent).Div(decimal.NewFromInt(100)).Round(2)
	return Totals{
		Base:     base.Round(2),
		TaxRate:  ratePercent,
		Tax:      tax,
		Discount: discount.Round(2),
		Total:    base.Add(tax).Sub(discount).Round(2),
	}
}

// SumLineItems returns the base amount of an ordered list of line items.
func SumLineItems(items []model.InvoiceLineItem) decimal.Decimal {
	sum := decimal.Zero
	for _, li := range items {
		sum = sum.Add(li.Amount())
	}
	return sum
}

// InvoiceNumber formats {prefix}-{YYYYMMDD}-{seq:03d}. seq is 1-based.
func InvoiceNumber(prefix string, day time.Time, seq int64) string {
	return fmt.Sprintf("%s%03d", InvoiceNumberPrefix(prefix, day), seq)
}

// InvoiceNumberPrefix is the shared prefix of every invoice number issued on day.
func InvoiceNumberPrefix(prefix string, day time.Time) string {
	return prefix + "-" + day.Format("20060102") + "-"
}

// MarkPaid settles inv. It reports false without touching inv when it is already paid.
func MarkPaid(inv *model.Invoice, reference, method string, now time.Time) (bool, error) {
	if inv.Status == model.InvoicePaid {
		return false, nil
	}
	if err := transitionInvoice(inv, model.InvoicePaid); err != nil {
		return false, err
	}
	inv.PaidAt = &now
	inv.PaymentReference = &reference
	if method != "" {
		inv.PaymentMethod = &method
	}
	return true, nil
}

// MarkProcessing records that a payment was submitted. Already processing is a no-op.
func MarkProcessing(inv *model.Invoice) (bool, error) {
	if inv.Status == model.InvoiceProcessing {
		return false, nil
	}
	if err := transitionInvoice(inv, model.InvoiceProcessing); err != nil {
		return false, err
	}
	return true, nil
}

// RevertToPending undoes MarkProcessing after a failed confirmation.
func RevertToPending(inv *model.Invoice) (bool, error) {
	if inv.Status != model.InvoiceProcessing {
		return false, nil
	}
	inv.Status = model.InvoicePending
	return true, nil
}

// Cancel voids a pending invoice.
func Cancel(inv *model.Invoice, now time.Time) error {
	if err := transitionInvoice(inv, model.InvoiceCancelled); err != nil {
		return err
	}
	inv.CancelledAt = &now
	return nil
}

// IsPayable reports whether a payment may still be started for inv.
func IsPayable(inv *model.Invoice) bool {
	return inv.Status == model.InvoicePending || inv.Status == model.InvoiceProcessing
}
