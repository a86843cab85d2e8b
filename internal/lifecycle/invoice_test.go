package lifecycle

import (
	"errors"
	"testing"
	"time"

	"billing/internal/model"

	"github.com/shopspring/decimal"
)

func TestComputeTotalsAppliesPercentTax(t *testing.T) {
	totals := ComputeTotals(decimal.NewFromInt(10000), decimal.RequireFromString("7.5"), decimal.Zero)

	if !totals.Tax.Equal(decimal.RequireFromString("750.00")) {
		t.Fatalf("expected tax 750.00, got %s", totals.Tax)
	}
	if totals.Total.StringFixed(2) != "10750.00" {
		t.Fatalf("expected total 10750.00, got %s", totals.Total.StringFixed(2))
	}
}

func TestComputeTotalsRoundsAndSubtractsDiscount(t *testing.T) {
	totals := ComputeTotals(decimal.RequireFromString("99.99"), decimal.RequireFromString("7.5"), decimal.RequireFromString("10"))

	// 99.99 * 0.075 = 7.49925
	if totals.Tax.StringFixed(2) != "7.50" {
		t.Fatalf("expected tax 7.50, got %s", totals.Tax.StringFixed(2))
	}
	if totals.Total.StringFixed(2) != "97.49" {
		t.Fatalf("expected total 97.49, got %s", totals.Total.StringFixed(2))
	}
}

func TestInvoiceNumberFormat(t *testing.T) {
	day := time.Date(2024, 3, 9, 15, 0, 0, 0, time.UTC)
	if got := InvoiceNumber("INV", day, 7); got != "INV-20240309-007" {
		t.Fatalf("unexpected invoice number %q", got)
	}
	if got := InvoiceNumber("INV", day, 1234); got != "INV-20240309-1234" {
		t.Fatalf("unexpected invoice number past 999: %q", got)
	}
}

func TestMarkPaidIsIdempotent(t *testing.T) {
	now := time.Now().UTC()
	inv := &model.Invoice{InvoiceNo: "INV-1", Status: model.InvoicePending}

	changed, err := MarkPaid(inv, "ref-1", "card", now)
	if err != nil || !changed {
		t.Fatalf("first MarkPaid: changed=%v err=%v", changed, err)
	}

	later := now.Add(time.Hour)
	changed, err = MarkPaid(inv, "ref-2", "bank", later)
	if err != nil {
		t.Fatalf("second MarkPaid returned error: %v", err)
	}
	if changed {
		t.Fatal("expected second MarkPaid to be a no-op")
	}
	if *inv.PaymentReference != "ref-1" || !inv.PaidAt.Equal(now) {
		t.Fatalf("paid invoice was mutated: ref=%s paid_at=%s", *inv.PaymentReference, inv.PaidAt)
	}
}

func TestCancelledInvoiceCannotBePaid(t *testing.T) {
	inv := &model.Invoice{InvoiceNo: "INV-2", Status: model.InvoicePending}
	if err := Cancel(inv, time.Now()); err != nil {
		t.Fatalf("cancel pending invoice: %v", err)
	}

	_, err := MarkPaid(inv, "ref", "", time.Now())
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if inv.Status != model.InvoiceCancelled {
		t.Fatalf("status changed to %s", inv.Status)
	}
}

func TestProcessingRoundTrip(t *testing.T) {
	inv := &model.Invoice{Status: model.InvoicePending}

	if changed, err := MarkProcessing(inv); err != nil || !changed {
		t.Fatalf("MarkProcessing: changed=%v err=%v", changed, err)
	}
	if err := Cancel(inv, time.Now()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("processing invoice must not be cancellable, got %v", err)
	}
	if changed, _ := RevertToPending(inv); !changed || inv.Status != model.InvoicePending {
		t.Fatalf("expected revert to pending, got %s", inv.Status)
	}
}

func TestIsOverdueIsDerived(t *testing.T) {
	now := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	inv := &model.Invoice{Status: model.InvoicePending, DueDate: now.Add(-time.Minute)}
	if !inv.IsOverdue(now) {
		t.Fatal("pending invoice past due date should be overdue")
	}

	inv.Status = model.InvoicePaid
	if inv.IsOverdue(now) {
		t.Fatal("paid invoice is never overdue")
	}

	inv.Status = model.InvoiceProcessing
	inv.DueDate = now
	if inv.IsOverdue(now) {
		t.Fatal("invoice due exactly now is not overdue yet")
	}
}
