package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"billing/internal/gateway"
	"billing/internal/lifecycle"
	"billing/internal/model"
	"billing/internal/notify"
	"billing/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SweepResult counts one batch run. Failed items are logged individually.
type SweepResult struct {
	Scanned   int `json:"scanned"`
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

type ScheduledSweepResult struct {
	Renewals    SweepResult `json:"renewals"`
	Expirations SweepResult `json:"expirations"`
}

type InvoicePaymentParams struct {
	InvoiceID   uuid.UUID
	Gateway     string
	Reference   string // optional idempotency key
	CallbackURL string // overrides PAYMENT_CALLBACK_URL
	Actor       uuid.UUID
	Now         time.Time
}

// ConfirmResult reports what a confirmation did with a payment.
type ConfirmResult struct {
	Payment      *model.Payment
	Subscription *model.Subscription
	Outcome      gateway.VerifyStatus
	// AlreadyFinal is set when the payment had left pending before this call.
	AlreadyFinal bool
}

// BillingService coordinates invoices, payments, subscriptions and the expiration cascade.
// Every operation takes the acting user (nil for the system) and the current time.
type BillingService interface {
	ApproveApplication(ctx context.Context, applicationID uuid.UUID, actor *uuid.UUID, now time.Time) (*model.Invoice, error)
	GenerateApprovalInvoice(ctx context.Context, applicationID uuid.UUID, planID *uuid.UUID, actor *uuid.UUID, now time.Time) (*model.Invoice, error)
	InitializeInvoicePayment(ctx context.Context, p InvoicePaymentParams) (*InitializeResult, error)
	ConfirmPayment(ctx context.Context, gatewayName, reference string, now time.Time) (*ConfirmResult, error)
	SettlePayment(ctx context.Context, invoiceID uuid.UUID, paymentReference string, now time.Time) (*model.Subscription, error)
	SweepRenewals(ctx context.Context, lookaheadDays int, now time.Time) (SweepResult, error)
	SweepExpirations(ctx context.Context, now time.Time) (SweepResult, error)
	RunScheduledSweep(ctx context.Context, now time.Time) (ScheduledSweepResult, error)
	MarkPaymentRefunded(ctx context.Context, reference string, actor *uuid.UUID, now time.Time) (*model.Payment, error)
	CancelSubscription(ctx context.Context, subscriptionID uuid.UUID, actor *uuid.UUID, now time.Time) (*model.Subscription, error)
}

type BillingDeps struct {
	TxManager        repository.TransactionManager
	Invoices         InvoiceService
	Subscriptions    SubscriptionService
	Payments         PaymentService
	Cascade          ExpirationCascade
	Audit            AuditService
	Notifier         notify.Notifier
	InvoiceRepo      repository.InvoiceRepository
	SubscriptionRepo repository.SubscriptionRepository
	PaymentRepo      repository.PaymentRepository
	PlanRepo         repository.PlanRepository
	SellerRepo       repository.SellerRepository
	UserRepo         repository.UserRepository
	Settings         Settings
	Log              *zap.Logger
}

type billingService struct {
	BillingDeps
	log *zap.Logger
}

func NewBillingService(deps BillingDeps) BillingService {
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	return &billingService{BillingDeps: deps, log: deps.Log.Named("billing")}
}

// --- Approval ---

func (s *billingService) ApproveApplication(ctx context.Context, applicationID uuid.UUID, actor *uuid.UUID, now time.Time) (*model.Invoice, error) {
	var invoice *model.Invoice
	var issued bool
	err := s.TxManager.RunInTx(ctx, func(txCtx context.Context) error {
		app, err := s.findApplication(txCtx, applicationID)
		if err != nil {
			return err
		}

		switch app.Status {
		case model.ApplicationRejected:
			return fmt.Errorf("application %s is rejected: %w", app.ID, ErrInvalidTransition)
		case model.ApplicationPending:
			app.Status = model.ApplicationApproved
			app.ReviewedBy = actor
			app.ReviewedAt = &now
			if err := s.SellerRepo.UpdateApplication(txCtx, app); err != nil {
				return fmt.Errorf("failed to approve application: %w", err)
			}
			if err := s.Audit.Record(txCtx, AuditEntry{
				Actor:      actor,
				Action:     model.ActionApproveApplication,
				EntityID:   app.ID.String(),
				EntityName: app.StoreName,
			}); err != nil {
				return err
			}
		}

		invoice, issued, err = s.generateApprovalInvoice(txCtx, app, nil, actor, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	if issued {
		s.notify(ctx, invoice.UserID, notify.KindInvoiceIssued, invoicePayload(invoice))
	}
	return invoice, nil
}

func (s *billingService) GenerateApprovalInvoice(ctx context.Context, applicationID uuid.UUID, planID *uuid.UUID, actor *uuid.UUID, now time.Time) (*model.Invoice, error) {
	var invoice *model.Invoice
	var issued bool
	err := s.TxManager.RunInTx(ctx, func(txCtx context.Context) error {
		app, err := s.findApplication(txCtx, applicationID)
		if err != nil {
			return err
		}
		if app.Status != model.ApplicationApproved {
			return fmt.Errorf("application %s is %s: %w", app.ID, app.Status, ErrInvalidTransition)
		}
		invoice, issued, err = s.generateApprovalInvoice(txCtx, app, planID, actor, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	if issued {
		s.notify(ctx, invoice.UserID, notify.KindInvoiceIssued, invoicePayload(invoice))
	}
	return invoice, nil
}

// generateApprovalInvoice returns the application's open invoice when one exists.
// The bool reports whether a new invoice was issued.
func (s *billingService) generateApprovalInvoice(ctx context.Context, app *model.SellerApplication, planID *uuid.UUID, actor *uuid.UUID, now time.Time) (*model.Invoice, bool, error) {
	existing, err := s.InvoiceRepo.FindOpenByApplication(ctx, app.ID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up application invoice: %w", err)
	}
	if existing != nil {
		return existing, false, nil
	}

	if planID == nil {
		planID = app.PlanID
	}
	plan, err := s.resolvePlan(ctx, planID)
	if err != nil {
		return nil, false, err
	}

	invoice, err := s.Invoices.Issue(ctx, IssueInvoiceParams{
		Owner:         app.UserID,
		Plan:          plan,
		ApplicationID: &app.ID,
		Kind:          model.InvoiceKindSellerSubscription,
		DueDate:       now.Add(lifecycle.Days(s.Settings.InvoiceDueDays)),
		Actor:         actor,
		Now:           now,
	})
	if err != nil {
		return nil, false, err
	}
	return invoice, true, nil
}

// resolvePlan loads an explicit plan, else the configured default.
func (s *billingService) resolvePlan(ctx context.Context, planID *uuid.UUID) (*model.Plan, error) {
	if planID != nil {
		plan, err := s.PlanRepo.FindByID(ctx, *planID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load plan: %w", err)
		}
		return plan, nil
	}

	var plan *model.Plan
	err := gorm.ErrRecordNotFound
	if s.Settings.DefaultPlanCode != "" {
		plan, err = s.PlanRepo.FindByCode(ctx, s.Settings.DefaultPlanCode)
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		plan, err = s.PlanRepo.FindDefault(ctx)
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoDefaultPlan
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load default plan: %w", err)
	}
	return plan, nil
}

func (s *billingService) findApplication(ctx context.Context, id uuid.UUID) (*model.SellerApplication, error) {
	app, err := s.SellerRepo.FindApplicationForUpdate(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrApplicationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load application: %w", err)
	}
	return app, nil
}

// --- Payment ---

func (s *billingService) InitializeInvoicePayment(ctx context.Context, p InvoicePaymentParams) (*InitializeResult, error) {
	invoice, err := s.Invoices.GetInvoice(ctx, p.InvoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.UserID != p.Actor {
		return nil, ErrForbidden
	}
	if !lifecycle.IsPayable(invoice) {
		return nil, fmt.Errorf("invoice %s is %s: %w", invoice.InvoiceNo, invoice.Status, ErrInvoiceNotPayable)
	}

	user, err := s.UserRepo.GetByID(ctx, invoice.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load invoice owner: %w", err)
	}

	callback := p.CallbackURL
	if callback == "" {
		callback = s.Settings.CallbackURL
	}

	res, err := s.Payments.Initialize(ctx, InitializeParams{
		Reference:   p.Reference,
		Payable:     model.InvoicePayable{InvoiceID: invoice.ID},
		UserID:      invoice.UserID,
		Amount:      invoice.TotalAmount,
		Currency:    invoice.Currency,
		Customer:    gateway.Customer{Email: user.Email, Phone: user.Phone, Name: user.Name},
		CallbackURL: callback,
		Gateway:     p.Gateway,
		Metadata:    map[string]string{"invoice_no": invoice.InvoiceNo, "invoice_id": invoice.ID.String()},
		Now:         p.Now,
	})
	if err != nil {
		return nil, err
	}

	err = s.TxManager.RunInTx(ctx, func(txCtx context.Context) error {
		locked, err := s.InvoiceRepo.FindByIDForUpdate(txCtx, invoice.ID)
		if err != nil {
			return fmt.Errorf("failed to reload invoice: %w", err)
		}
		changed, err := lifecycle.MarkProcessing(locked)
		if err != nil || !changed {
			// settled or cancelled meanwhile; the payment stays pending and verify sorts it out
			return nil
		}
		return s.InvoiceRepo.Update(txCtx, locked)
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

// ConfirmPayment verifies a payment with its provider and applies the outcome.
// Completion happens at most once; only the call that completes the payment settles its payable.
func (s *billingService) ConfirmPayment(ctx context.Context, gatewayName, reference string, now time.Time) (*ConfirmResult, error) {
	payment, err := s.Payments.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if gatewayName != "" && payment.Gateway != gatewayName {
		return nil, fmt.Errorf("%w: %s is a %s payment", ErrGatewayMismatch, reference, payment.Gateway)
	}
	if payment.Status != model.PaymentPending {
		return &ConfirmResult{Payment: payment, Outcome: finalOutcome(payment.Status), AlreadyFinal: true}, nil
	}

	verified, err := s.Payments.Verify(ctx, payment.Gateway, reference)
	if err != nil {
		return nil, err
	}

	result := &ConfirmResult{Payment: payment, Outcome: verified.Status}
	switch verified.Status {
	case gateway.StatusPending:
		return result, nil
	case gateway.StatusFailed:
		return s.failPayment(ctx, result, verified.Message, verified.Raw, now)
	}

	if reason := mismatch(payment, verified); reason != "" {
		s.log.Error("verified payment does not match local record",
			zap.String("reference", reference),
			zap.String("reason", reason),
		)
		result.Outcome = gateway.StatusFailed
		return s.failPayment(ctx, result, reason, verified.Raw, now)
	}

	var activated bool
	err = s.TxManager.RunInTx(ctx, func(txCtx context.Context) error {
		completed, err := s.PaymentRepo.CompleteIfPending(txCtx, payment.ID, repository.PaymentCompletion{
			GatewayReference: verified.ProviderReference,
			Channel:          verified.Channel,
			Fees:             feesJSON(verified),
			ProviderPayload:  datatypes.JSON(verified.Raw),
			CompletedAt:      now,
		})
		if err != nil {
			return fmt.Errorf("failed to complete payment: %w", err)
		}
		if !completed {
			result.AlreadyFinal = true
			return nil
		}

		if err := s.Audit.Record(txCtx, AuditEntry{
			Actor:      &payment.UserID,
			Action:     model.ActionCompletePayment,
			EntityID:   payment.ID.String(),
			EntityName: payment.Reference,
			Details: map[string]interface{}{
				"gateway":           payment.Gateway,
				"gateway_reference": verified.ProviderReference,
				"amount":            verified.Amount.StringFixed(2),
			},
		}); err != nil {
			return err
		}

		if verified.Channel != "" {
			payment.Channel = &verified.Channel
		}
		payable, err := payment.Payable()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnsupportedPayable, err)
		}
		switch p := payable.(type) {
		case model.InvoicePayable:
			result.Subscription, activated, err = s.settle(txCtx, p.InvoiceID, payment, now)
			return err
		case model.OrderPayable, model.BannerPayable:
			// settled by the order and banner subsystems from the payment row
			s.log.Info("payment completed for external payable",
				zap.String("reference", payment.Reference),
				zap.String("payable_type", string(payment.PayableType)),
				zap.String("payable_id", payment.PayableID.String()),
			)
			return nil
		default:
			return fmt.Errorf("%w: %T", ErrUnsupportedPayable, payable)
		}
	})
	if err != nil {
		return nil, err
	}

	if result.AlreadyFinal {
		if reloaded, err := s.Payments.GetByReference(ctx, reference); err == nil {
			result.Payment = reloaded
			result.Outcome = finalOutcome(reloaded.Status)
		}
		return result, nil
	}

	if reloaded, err := s.Payments.GetByReference(ctx, reference); err == nil {
		result.Payment = reloaded
	}
	if activated {
		s.notify(ctx, result.Subscription.UserID, notify.KindSubscriptionActivated, subscriptionPayload(result.Subscription))
	}
	return result, nil
}

func (s *billingService) failPayment(ctx context.Context, result *ConfirmResult, reason string, raw []byte, now time.Time) (*ConfirmResult, error) {
	payment := result.Payment
	var failed bool
	err := s.TxManager.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		failed, err = s.PaymentRepo.FailIfPending(txCtx, payment.ID, reason, datatypes.JSON(raw), now)
		if err != nil {
			return fmt.Errorf("failed to mark payment failed: %w", err)
		}
		if !failed {
			result.AlreadyFinal = true
			return nil
		}

		if payment.PayableType == model.PayableInvoice {
			invoice, err := s.InvoiceRepo.FindByIDForUpdate(txCtx, payment.PayableID)
			if err != nil {
				return fmt.Errorf("failed to load invoice: %w", err)
			}
			if reverted, _ := lifecycle.RevertToPending(invoice); reverted {
				if err := s.InvoiceRepo.Update(txCtx, invoice); err != nil {
					return fmt.Errorf("failed to revert invoice: %w", err)
				}
			}
		}

		return s.Audit.Record(txCtx, AuditEntry{
			Actor:      &payment.UserID,
			Action:     model.ActionFailPayment,
			EntityID:   payment.ID.String(),
			EntityName: payment.Reference,
			Details:    map[string]interface{}{"reason": reason},
		})
	})
	if err != nil {
		return nil, err
	}

	if reloaded, err := s.Payments.GetByReference(ctx, payment.Reference); err == nil {
		result.Payment = reloaded
		if result.AlreadyFinal {
			result.Outcome = finalOutcome(reloaded.Status)
		}
	}
	if failed {
		s.notify(ctx, payment.UserID, notify.KindPaymentFailed, map[string]interface{}{
			"reference": payment.Reference,
			"reason":    reason,
		})
	}
	return result, nil
}

// SettlePayment applies a completed invoice payment. Re-running it for a paid invoice
// returns the current subscription without extending it again.
func (s *billingService) SettlePayment(ctx context.Context, invoiceID uuid.UUID, paymentReference string, now time.Time) (*model.Subscription, error) {
	var sub *model.Subscription
	var activated bool
	err := s.TxManager.RunInTx(ctx, func(txCtx context.Context) error {
		payment, err := s.PaymentRepo.FindByReferenceForUpdate(txCtx, paymentReference)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrPaymentNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load payment: %w", err)
		}
		if payment.PayableType != model.PayableInvoice || payment.PayableID != invoiceID {
			return fmt.Errorf("%w: payment %s pays %s %s", ErrUnsupportedPayable, payment.Reference, payment.PayableType, payment.PayableID)
		}
		if payment.Status != model.PaymentCompleted {
			return fmt.Errorf("payment %s is %s: %w", payment.Reference, payment.Status, ErrInvalidTransition)
		}

		sub, activated, err = s.settle(txCtx, invoiceID, payment, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	if activated {
		s.notify(ctx, sub.UserID, notify.KindSubscriptionActivated, subscriptionPayload(sub))
	}
	return sub, nil
}

// settle runs inside the caller's transaction: mark paid, activate or extend, restore seller.
func (s *billingService) settle(ctx context.Context, invoiceID uuid.UUID, payment *model.Payment, now time.Time) (*model.Subscription, bool, error) {
	method := payment.Gateway
	if payment.Channel != nil && *payment.Channel != "" {
		method = payment.Gateway + ":" + *payment.Channel
	}

	invoice, changed, err := s.Invoices.MarkPaid(ctx, invoiceID, payment.Reference, method, now)
	if err != nil {
		return nil, false, err
	}
	if !changed {
		sub, err := s.SubscriptionRepo.FindActiveByUser(ctx, invoice.UserID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to load subscription: %w", err)
		}
		if sub == nil {
			sub, err = s.SubscriptionRepo.FindLatestByUser(ctx, invoice.UserID)
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, false, fmt.Errorf("failed to load subscription: %w", err)
			}
		}
		return sub, false, nil
	}

	if err := s.Audit.Record(ctx, AuditEntry{
		Action:     model.ActionSettleInvoice,
		EntityID:   invoice.ID.String(),
		EntityName: invoice.InvoiceNo,
		Details:    map[string]interface{}{"payment_reference": payment.Reference},
	}); err != nil {
		return nil, false, err
	}

	if invoice.PlanID == nil {
		return nil, false, nil
	}
	plan, err := s.PlanRepo.FindByID(ctx, *invoice.PlanID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("%w: %s", ErrPlanNotFound, invoice.PlanID)
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load plan: %w", err)
	}

	sub, err := s.Subscriptions.Activate(ctx, invoice.UserID, plan, &invoice.ID, now)
	if err != nil {
		return nil, false, err
	}

	if err := s.restoreSeller(ctx, invoice, now); err != nil {
		return nil, false, err
	}
	return sub, true, nil
}

// restoreSeller verifies the owner's seller profile, creating it from the originating
// application when missing. Lapsed profiles come back without a new application.
func (s *billingService) restoreSeller(ctx context.Context, invoice *model.Invoice, now time.Time) error {
	profile, err := s.SellerRepo.FindProfileByUser(ctx, invoice.UserID)
	if err != nil {
		return fmt.Errorf("failed to load seller profile: %w", err)
	}

	if profile == nil {
		if invoice.ApplicationID == nil {
			s.log.Warn("paid subscription has no seller profile", zap.String("user_id", invoice.UserID.String()))
			return nil
		}
		app, err := s.SellerRepo.FindApplicationByID(ctx, *invoice.ApplicationID)
		if err != nil {
			return fmt.Errorf("failed to load application: %w", err)
		}
		profile = &model.SellerProfile{
			ID:                 uuid.New(),
			UserID:             invoice.UserID,
			ApplicationID:      &app.ID,
			StoreName:          app.StoreName,
			VerificationStatus: model.VerificationVerified,
			IsActive:           true,
			VerifiedAt:         &now,
		}
		if err := s.SellerRepo.CreateProfile(ctx, profile); err != nil {
			return fmt.Errorf("failed to create seller profile: %w", err)
		}
	} else {
		if profile.VerificationStatus == model.VerificationVerified && profile.IsActive {
			return nil
		}
		profile.VerificationStatus = model.VerificationVerified
		profile.IsActive = true
		profile.VerifiedAt = &now
		profile.LapsedAt = nil
		if err := s.SellerRepo.UpdateProfile(ctx, profile); err != nil {
			return fmt.Errorf("failed to restore seller profile: %w", err)
		}
	}

	return s.Audit.Record(ctx, AuditEntry{
		Action:     model.ActionRestoreSeller,
		EntityID:   profile.ID.String(),
		EntityName: profile.StoreName,
		Details:    map[string]interface{}{"invoice_no": invoice.InvoiceNo},
	})
}

func (s *billingService) MarkPaymentRefunded(ctx context.Context, reference string, actor *uuid.UUID, now time.Time) (*model.Payment, error) {
	var payment *model.Payment
	err := s.TxManager.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		payment, err = s.PaymentRepo.FindByReferenceForUpdate(txCtx, reference)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrPaymentNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load payment: %w", err)
		}

		refunded, err := s.PaymentRepo.RefundIfCompleted(txCtx, payment.ID, now)
		if err != nil {
			return fmt.Errorf("failed to refund payment: %w", err)
		}
		if !refunded {
			return fmt.Errorf("payment %s is %s: %w", reference, payment.Status, ErrInvalidTransition)
		}
		payment.Status = model.PaymentRefunded
		payment.RefundedAt = &now

		return s.Audit.Record(txCtx, AuditEntry{
			Actor:      actor,
			Action:     model.ActionRefundPayment,
			EntityID:   payment.ID.String(),
			EntityName: payment.Reference,
		})
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}

// --- Subscriptions ---

// CancelSubscription is terminal. Cancelling an active subscription runs the expiration cascade.
func (s *billingService) CancelSubscription(ctx context.Context, subscriptionID uuid.UUID, actor *uuid.UUID, now time.Time) (*model.Subscription, error) {
	var sub *model.Subscription
	err := s.TxManager.RunInTx(ctx, func(txCtx context.Context) error {
		var wasActive bool
		var err error
		sub, wasActive, err = s.Subscriptions.Cancel(txCtx, subscriptionID, actor, now)
		if err != nil || !wasActive {
			return err
		}

		_, err = s.Cascade.Run(txCtx, sub.UserID, now)
		if errors.Is(err, ErrSellerProfileNotFound) {
			// nothing to revoke
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, sub.UserID, notify.KindSubscriptionCancelled, subscriptionPayload(sub))
	return sub, nil
}

// --- Sweeps ---

func (s *billingService) SweepRenewals(ctx context.Context, lookaheadDays int, now time.Time) (SweepResult, error) {
	var result SweepResult

	cutoff := now.Add(lifecycle.Days(lookaheadDays))
	due, err := s.SubscriptionRepo.ListRenewalDue(ctx, cutoff)
	if err != nil {
		return result, fmt.Errorf("failed to list renewal candidates: %w", err)
	}
	result.Scanned = len(due)

	for i := range due {
		sub := &due[i]
		invoice, err := s.issueRenewal(ctx, sub, lookaheadDays, now)
		switch {
		case err != nil:
			result.Failed++
			s.log.Error("renewal invoice failed",
				zap.String("subscription_id", sub.ID.String()),
				zap.String("user_id", sub.UserID.String()),
				zap.Error(err),
			)
		case invoice == nil:
			result.Skipped++
		default:
			result.Processed++
			s.notify(ctx, invoice.UserID, notify.KindInvoiceIssued, invoicePayload(invoice))
		}
	}

	s.log.Info("renewal sweep finished",
		zap.Int("scanned", result.Scanned),
		zap.Int("created", result.Processed),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

// issueRenewal returns nil, nil when an open renewal invoice already exists.
func (s *billingService) issueRenewal(ctx context.Context, candidate *model.Subscription, lookaheadDays int, now time.Time) (*model.Invoice, error) {
	var invoice *model.Invoice
	err := s.TxManager.RunInTx(ctx, func(txCtx context.Context) error {
		// the row lock serializes concurrent sweeps on the dedup check below
		sub, err := s.SubscriptionRepo.FindByIDForUpdate(txCtx, candidate.ID)
		if err != nil {
			return fmt.Errorf("failed to lock subscription: %w", err)
		}
		if !s.Subscriptions.IsRenewalDue(sub, now, lookaheadDays) {
			return nil
		}

		exists, err := s.InvoiceRepo.HasOpenRenewal(txCtx, sub.UserID, sub.PlanID)
		if err != nil {
			return fmt.Errorf("failed to check open renewals: %w", err)
		}
		if exists {
			return nil
		}

		plan, err := s.PlanRepo.FindByID(txCtx, sub.PlanID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrPlanNotFound, sub.PlanID)
		}
		if err != nil {
			return fmt.Errorf("failed to load plan: %w", err)
		}

		invoice, err = s.Invoices.Issue(txCtx, IssueInvoiceParams{
			Owner:   sub.UserID,
			Plan:    plan,
			Kind:    model.InvoiceKindRenewal,
			DueDate: sub.ExpiresAt,
			Now:     now,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return invoice, nil
}

func (s *billingService) SweepExpirations(ctx context.Context, now time.Time) (SweepResult, error) {
	var result SweepResult

	expired, err := s.SubscriptionRepo.ListExpired(ctx, now)
	if err != nil {
		return result, fmt.Errorf("failed to list expired subscriptions: %w", err)
	}
	result.Scanned = len(expired)

	for i := range expired {
		sub := &expired[i]
		changed, err := s.expireOne(ctx, sub, now)
		switch {
		case err != nil:
			result.Failed++
			s.log.Error("subscription expiration failed",
				zap.String("subscription_id", sub.ID.String()),
				zap.String("user_id", sub.UserID.String()),
				zap.Error(err),
			)
		case !changed:
			result.Skipped++
		default:
			result.Processed++
			s.notify(ctx, sub.UserID, notify.KindSubscriptionExpired, subscriptionPayload(sub))
		}
	}

	s.log.Info("expiration sweep finished",
		zap.Int("scanned", result.Scanned),
		zap.Int("expired", result.Processed),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

// expireOne expires sub and runs the cascade atomically. A cascade failure leaves sub active,
// except for a missing seller profile: listings are still hidden and the expiry stands.
func (s *billingService) expireOne(ctx context.Context, sub *model.Subscription, now time.Time) (bool, error) {
	snapshot := *sub
	var changed bool
	err := s.TxManager.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		changed, err = s.Subscriptions.Expire(txCtx, sub, now)
		if err != nil || !changed {
			return err
		}
		res, err := s.Cascade.Run(txCtx, sub.UserID, now)
		if errors.Is(err, ErrSellerProfileNotFound) {
			s.log.Warn("expired subscription has no seller profile, privilege revocation skipped",
				zap.String("subscription_id", sub.ID.String()),
				zap.String("user_id", sub.UserID.String()),
				zap.Int64("listings_hidden", res.ListingsHidden),
			)
			return nil
		}
		return err
	})
	if err != nil {
		*sub = snapshot
		return false, err
	}
	return changed, nil
}

func (s *billingService) RunScheduledSweep(ctx context.Context, now time.Time) (ScheduledSweepResult, error) {
	var result ScheduledSweepResult
	var errs []error

	renewals, err := s.SweepRenewals(ctx, s.Settings.RenewalLookaheadDays, now)
	if err != nil {
		errs = append(errs, err)
	}
	result.Renewals = renewals

	expirations, err := s.SweepExpirations(ctx, now)
	if err != nil {
		errs = append(errs, err)
	}
	result.Expirations = expirations

	return result, errors.Join(errs...)
}

// --- Helpers ---

// notify never fails the caller; the ledger has already committed.
func (s *billingService) notify(ctx context.Context, userID uuid.UUID, kind notify.Kind, payload map[string]interface{}) {
	if err := s.Notifier.Notify(ctx, userID, kind, payload); err != nil {
		s.log.Warn("notification failed",
			zap.String("kind", string(kind)),
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
	}
}

func invoicePayload(inv *model.Invoice) map[string]interface{} {
	return map[string]interface{}{
		"invoice_id":   inv.ID.String(),
		"invoice_no":   inv.InvoiceNo,
		"kind":         string(inv.Kind),
		"total_amount": inv.TotalAmount.StringFixed(2),
		"currency":     inv.Currency,
		"due_date":     inv.DueDate.Format(time.RFC3339),
	}
}

func subscriptionPayload(sub *model.Subscription) map[string]interface{} {
	return map[string]interface{}{
		"subscription_id": sub.ID.String(),
		"plan_id":         sub.PlanID.String(),
		"status":          string(sub.Status),
		"expires_at":      sub.ExpiresAt.Format(time.RFC3339),
	}
}

func finalOutcome(status model.PaymentStatus) gateway.VerifyStatus {
	switch status {
	case model.PaymentCompleted, model.PaymentRefunded:
		return gateway.StatusSuccess
	case model.PaymentFailed:
		return gateway.StatusFailed
	default:
		return gateway.StatusPending
	}
}

// mismatch compares the verified charge with the local payment. Overpayment is accepted.
func mismatch(p *model.Payment, v *gateway.VerifyResult) string {
	if v.Currency != "" && v.Currency != p.Currency {
		return fmt.Sprintf("currency mismatch: expected %s, provider reported %s", p.Currency, v.Currency)
	}
	if v.Amount.LessThan(p.Amount) {
		return fmt.Sprintf("amount mismatch: expected %s, provider reported %s", p.Amount.StringFixed(2), v.Amount.StringFixed(2))
	}
	return ""
}

func feesJSON(v *gateway.VerifyResult) datatypes.JSON {
	if v.Fees.IsZero() {
		return nil
	}
	return datatypes.JSON(fmt.Sprintf(`{"total":%q,"currency":%q}`, v.Fees.StringFixed(2), v.Currency))
}
