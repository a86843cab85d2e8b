package service

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"billing/internal/database/dbtest"
	"billing/internal/gateway"
	"billing/internal/model"
	"billing/internal/notify"
	"billing/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeProvider struct {
	initErr   error
	verifyErr error
	result    gateway.VerifyResult

	initCalls   int
	verifyCalls int
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Initialize(_ context.Context, req gateway.InitializeRequest) (*gateway.InitializeResult, error) {
	p.initCalls++
	if p.initErr != nil {
		return nil, p.initErr
	}
	return &gateway.InitializeResult{
		AuthorizationURL:  "https://checkout.example/" + req.Reference,
		ProviderReference: "access-" + req.Reference,
	}, nil
}

func (p *fakeProvider) Verify(_ context.Context, reference string) (*gateway.VerifyResult, error) {
	p.verifyCalls++
	if p.verifyErr != nil {
		return nil, p.verifyErr
	}
	res := p.result
	res.Reference = reference
	res.ProviderReference = "txn-" + reference
	return &res, nil
}

func (p *fakeProvider) VerifyWebhook([]byte, http.Header) (string, error) {
	return "", gateway.ErrInvalidSignature
}

type recordingNotifier struct {
	kinds []notify.Kind
	err   error
}

func (n *recordingNotifier) Notify(_ context.Context, _ uuid.UUID, kind notify.Kind, _ map[string]interface{}) error {
	n.kinds = append(n.kinds, kind)
	return n.err
}

func (n *recordingNotifier) count(kind notify.Kind) int {
	c := 0
	for _, k := range n.kinds {
		if k == kind {
			c++
		}
	}
	return c
}

// flakyCascade fails for the listed users and delegates otherwise.
type flakyCascade struct {
	ExpirationCascade
	failFor map[uuid.UUID]bool
}

func (c *flakyCascade) Run(ctx context.Context, userID uuid.UUID, now time.Time) (CascadeResult, error) {
	if c.failFor[userID] {
		return CascadeResult{}, errors.New("listing store unavailable")
	}
	return c.ExpirationCascade.Run(ctx, userID, now)
}

type billingHarness struct {
	db       *gorm.DB
	billing  BillingService
	invoices InvoiceService
	provider *fakeProvider
	notifier *recordingNotifier
	cascade  *flakyCascade

	planRepo     repository.PlanRepository
	sellerRepo   repository.SellerRepository
	listingRepo  repository.ListingRepository
	subRepo      repository.SubscriptionRepository
	userRepo     repository.UserRepository
	paymentRepo  repository.PaymentRepository
	invoiceRepo  repository.InvoiceRepository
	now          time.Time
	ctx          context.Context
	planDuration int
}

func newBillingHarness(t *testing.T) *billingHarness {
	t.Helper()
	db := dbtest.Open(t)
	log := zap.NewNop()
	rate := decimal.RequireFromString("7.5")

	settings := Settings{
		TaxRatePercent:       &rate,
		InvoicePrefix:        "INV",
		InvoiceDueDays:       7,
		RenewalLookaheadDays: 7,
		DefaultCurrency:      "NGN",
		CallbackURL:          "https://market.example/billing/callback",
	}

	h := &billingHarness{
		db:           db,
		provider:     &fakeProvider{},
		notifier:     &recordingNotifier{},
		planRepo:     repository.NewPlanRepository(db),
		sellerRepo:   repository.NewSellerRepository(db),
		listingRepo:  repository.NewListingRepository(db),
		subRepo:      repository.NewSubscriptionRepository(db),
		userRepo:     repository.NewUserRepository(db),
		paymentRepo:  repository.NewPaymentRepository(db),
		invoiceRepo:  repository.NewInvoiceRepository(db),
		now:          time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		ctx:          context.Background(),
		planDuration: 30,
	}

	txManager := repository.NewTransactionManager(db)
	audit := NewAuditService(repository.NewAuditRepository(db))
	taxes := NewTaxService(repository.NewTaxRuleRepository(db), audit, settings.TaxRatePercent)
	h.invoices = NewInvoiceService(h.invoiceRepo, taxes, audit, txManager, settings, log)
	h.cascade = &flakyCascade{
		ExpirationCascade: NewExpirationCascade(h.sellerRepo, h.listingRepo, audit, log),
		failFor:           map[uuid.UUID]bool{},
	}

	h.billing = NewBillingService(BillingDeps{
		TxManager:        txManager,
		Invoices:         h.invoices,
		Subscriptions:    NewSubscriptionService(h.subRepo, audit, txManager, log),
		Payments:         NewPaymentService(h.paymentRepo, gateway.NewRegistry(h.provider), audit, log),
		Cascade:          h.cascade,
		Audit:            audit,
		Notifier:         h.notifier,
		InvoiceRepo:      h.invoiceRepo,
		SubscriptionRepo: h.subRepo,
		PaymentRepo:      h.paymentRepo,
		PlanRepo:         h.planRepo,
		SellerRepo:       h.sellerRepo,
		UserRepo:         h.userRepo,
		Settings:         settings,
		Log:              log,
	})
	return h
}

func (h *billingHarness) seedPlan(t *testing.T) *model.Plan {
	t.Helper()
	plan := &model.Plan{
		ID:           uuid.New(),
		Code:         "standard",
		Name:         "Standard",
		Price:        decimal.NewFromInt(10000),
		Currency:     "NGN",
		DurationDays: h.planDuration,
		IsDefault:    true,
		IsActive:     true,
	}
	if err := h.planRepo.Create(h.ctx, plan); err != nil {
		t.Fatalf("seed plan: %v", err)
	}
	return plan
}

func (h *billingHarness) seedUser(t *testing.T) *model.User {
	t.Helper()
	user := &model.User{
		ID:    uuid.New(),
		Name:  "Ada Seller",
		Email: uuid.NewString() + "@market.example",
		Role:  model.RoleBuyer,
	}
	if err := h.userRepo.Create(h.ctx, user); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

func (h *billingHarness) seedApplication(t *testing.T, userID uuid.UUID) *model.SellerApplication {
	t.Helper()
	app := &model.SellerApplication{
		ID:        uuid.New(),
		UserID:    userID,
		StoreName: "Ada's Store",
		Status:    model.ApplicationPending,
	}
	if err := h.sellerRepo.CreateApplication(h.ctx, app); err != nil {
		t.Fatalf("seed application: %v", err)
	}
	return app
}

func (h *billingHarness) seedProfile(t *testing.T, userID uuid.UUID) *model.SellerProfile {
	t.Helper()
	profile := &model.SellerProfile{
		ID:                 uuid.New(),
		UserID:             userID,
		StoreName:          "Ada's Store",
		VerificationStatus: model.VerificationVerified,
		IsActive:           true,
		VerifiedAt:         &h.now,
	}
	if err := h.sellerRepo.CreateProfile(h.ctx, profile); err != nil {
		t.Fatalf("seed profile: %v", err)
	}
	return profile
}

func (h *billingHarness) seedSubscription(t *testing.T, userID, planID uuid.UUID, expiresAt time.Time) *model.Subscription {
	t.Helper()
	sub := &model.Subscription{
		ID:        uuid.New(),
		UserID:    userID,
		PlanID:    planID,
		Status:    model.SubscriptionActive,
		StartedAt: expiresAt.AddDate(0, 0, -h.planDuration),
		ExpiresAt: expiresAt,
		AutoRenew: true,
	}
	if err := h.subRepo.Create(h.ctx, sub); err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
	return sub
}

func (h *billingHarness) seedListing(t *testing.T, userID uuid.UUID, status model.ListingStatus) *model.Listing {
	t.Helper()
	listing := &model.Listing{ID: uuid.New(), UserID: userID, Title: "Item " + string(status), Status: status}
	if err := h.listingRepo.Create(h.ctx, listing); err != nil {
		t.Fatalf("seed listing: %v", err)
	}
	return listing
}

func (h *billingHarness) succeedWith(amount string) {
	h.provider.result = gateway.VerifyResult{
		Status:   gateway.StatusSuccess,
		Amount:   decimal.RequireFromString(amount),
		Currency: "NGN",
		Channel:  "card",
		Raw:      []byte(`{"status":"success"}`),
	}
}

// pay starts and confirms a payment for inv as its owner.
func (h *billingHarness) pay(t *testing.T, inv *model.Invoice) *ConfirmResult {
	t.Helper()
	started, err := h.billing.InitializeInvoicePayment(h.ctx, InvoicePaymentParams{
		InvoiceID: inv.ID,
		Gateway:   "fake",
		Actor:     inv.UserID,
		Now:       h.now,
	})
	if err != nil {
		t.Fatalf("initialize payment: %v", err)
	}
	res, err := h.billing.ConfirmPayment(h.ctx, "fake", started.Payment.Reference, h.now)
	if err != nil {
		t.Fatalf("confirm payment: %v", err)
	}
	return res
}

func (h *billingHarness) count(t *testing.T, m interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	q := h.db.Model(m)
	if query != "" {
		q = q.Where(query, args...)
	}
	if err := q.Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestApproveApplicationIssuesTaxedInvoice(t *testing.T) {
	h := newBillingHarness(t)
	plan := h.seedPlan(t)
	user := h.seedUser(t)
	app := h.seedApplication(t, user.ID)
	admin := uuid.New()

	inv, err := h.billing.ApproveApplication(h.ctx, app.ID, &admin, h.now)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}

	if got := inv.TotalAmount.StringFixed(2); got != "10750.00" {
		t.Fatalf("expected total 10750.00, got %s", got)
	}
	if got := inv.TaxAmount.StringFixed(2); got != "750.00" {
		t.Fatalf("expected tax 750.00, got %s", got)
	}
	if inv.InvoiceNo != "INV-20260314-001" {
		t.Fatalf("unexpected invoice number %s", inv.InvoiceNo)
	}
	if inv.Kind != model.InvoiceKindSellerSubscription || inv.Status != model.InvoicePending {
		t.Fatalf("unexpected kind/status %s/%s", inv.Kind, inv.Status)
	}
	if inv.PlanID == nil || *inv.PlanID != plan.ID {
		t.Fatalf("invoice not tied to default plan")
	}
	if !inv.DueDate.Equal(h.now.AddDate(0, 0, 7)) {
		t.Fatalf("unexpected due date %s", inv.DueDate)
	}
	if h.notifier.count(notify.KindInvoiceIssued) != 1 {
		t.Fatalf("expected one invoice.issued notification, got %v", h.notifier.kinds)
	}

	stored, err := h.sellerRepo.FindApplicationByID(h.ctx, app.ID)
	if err != nil {
		t.Fatalf("reload application: %v", err)
	}
	if stored.Status != model.ApplicationApproved || stored.ReviewedBy == nil || *stored.ReviewedBy != admin {
		t.Fatalf("application not approved by admin: %+v", stored)
	}

	again, err := h.billing.ApproveApplication(h.ctx, app.ID, &admin, h.now)
	if err != nil {
		t.Fatalf("second approve: %v", err)
	}
	if again.ID != inv.ID {
		t.Fatal("second approval issued a new invoice")
	}
	if n := h.count(t, &model.Invoice{}, ""); n != 1 {
		t.Fatalf("expected 1 invoice, got %d", n)
	}
}

func TestInvoiceNumbersIncrementPerDay(t *testing.T) {
	h := newBillingHarness(t)
	h.seedPlan(t)

	for i, want := range []string{"INV-20260314-001", "INV-20260314-002"} {
		user := h.seedUser(t)
		app := h.seedApplication(t, user.ID)
		inv, err := h.billing.ApproveApplication(h.ctx, app.ID, nil, h.now)
		if err != nil {
			t.Fatalf("approve %d: %v", i, err)
		}
		if inv.InvoiceNo != want {
			t.Fatalf("invoice %d: expected %s, got %s", i, want, inv.InvoiceNo)
		}
	}
}

func TestApproveRejectedApplicationFails(t *testing.T) {
	h := newBillingHarness(t)
	h.seedPlan(t)
	user := h.seedUser(t)
	app := h.seedApplication(t, user.ID)
	app.Status = model.ApplicationRejected
	if err := h.sellerRepo.UpdateApplication(h.ctx, app); err != nil {
		t.Fatalf("reject: %v", err)
	}

	_, err := h.billing.ApproveApplication(h.ctx, app.ID, nil, h.now)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestApprovalWithoutDefaultPlanPersistsNothing(t *testing.T) {
	h := newBillingHarness(t)
	user := h.seedUser(t)
	app := h.seedApplication(t, user.ID)

	_, err := h.billing.ApproveApplication(h.ctx, app.ID, nil, h.now)
	if !errors.Is(err, ErrNoDefaultPlan) {
		t.Fatalf("expected ErrNoDefaultPlan, got %v", err)
	}

	if n := h.count(t, &model.Invoice{}, ""); n != 0 {
		t.Fatalf("expected no invoices, got %d", n)
	}
	if n := h.count(t, &model.AuditLog{}, ""); n != 0 {
		t.Fatalf("expected no audit entries, got %d", n)
	}
	stored, err := h.sellerRepo.FindApplicationByID(h.ctx, app.ID)
	if err != nil {
		t.Fatalf("reload application: %v", err)
	}
	if stored.Status != model.ApplicationPending {
		t.Fatalf("approval was not rolled back: %s", stored.Status)
	}
}

func TestGenerateApprovalInvoiceWithUnknownPlan(t *testing.T) {
	h := newBillingHarness(t)
	h.seedPlan(t)
	user := h.seedUser(t)
	app := h.seedApplication(t, user.ID)
	app.Status = model.ApplicationApproved
	if err := h.sellerRepo.UpdateApplication(h.ctx, app); err != nil {
		t.Fatalf("approve: %v", err)
	}
	missing := uuid.New()

	_, err := h.billing.GenerateApprovalInvoice(h.ctx, app.ID, &missing, nil, h.now)
	if !errors.Is(err, ErrPlanNotFound) {
		t.Fatalf("expected ErrPlanNotFound, got %v", err)
	}

	inv, err := h.billing.GenerateApprovalInvoice(h.ctx, app.ID, nil, nil, h.now)
	if err != nil {
		t.Fatalf("generate with default plan: %v", err)
	}
	if inv.ApplicationID == nil || *inv.ApplicationID != app.ID {
		t.Fatal("invoice not linked to application")
	}
}

func TestConfirmPaymentActivatesSubscriptionOnce(t *testing.T) {
	h := newBillingHarness(t)
	h.seedPlan(t)
	user := h.seedUser(t)
	app := h.seedApplication(t, user.ID)
	h.succeedWith("10750.00")

	inv, err := h.billing.ApproveApplication(h.ctx, app.ID, nil, h.now)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}

	res := h.pay(t, inv)
	if res.Outcome != gateway.StatusSuccess || res.AlreadyFinal {
		t.Fatalf("unexpected outcome %s (final=%v)", res.Outcome, res.AlreadyFinal)
	}
	if res.Payment.Status != model.PaymentCompleted {
		t.Fatalf("payment not completed: %s", res.Payment.Status)
	}
	sub := res.Subscription
	if sub == nil || sub.Status != model.SubscriptionActive {
		t.Fatalf("expected active subscription, got %+v", sub)
	}
	if !sub.ExpiresAt.Equal(h.now.AddDate(0, 0, 30)) {
		t.Fatalf("unexpected expiry %s", sub.ExpiresAt)
	}

	stored, err := h.invoices.GetInvoice(h.ctx, inv.ID)
	if err != nil {
		t.Fatalf("reload invoice: %v", err)
	}
	if stored.Status != model.InvoicePaid || stored.PaymentReference == nil || *stored.PaymentReference != res.Payment.Reference {
		t.Fatalf("invoice not settled by payment: %+v", stored)
	}

	profile, err := h.sellerRepo.FindProfileByUser(h.ctx, user.ID)
	if err != nil || profile == nil {
		t.Fatalf("expected seller profile, err=%v", err)
	}
	if profile.VerificationStatus != model.VerificationVerified || !profile.IsActive {
		t.Fatalf("profile not verified: %+v", profile)
	}

	// a late webhook and a manual settle must not extend again
	again, err := h.billing.ConfirmPayment(h.ctx, "fake", res.Payment.Reference, h.now.Add(time.Hour))
	if err != nil {
		t.Fatalf("second confirm: %v", err)
	}
	if !again.AlreadyFinal {
		t.Fatal("second confirm was not reported as final")
	}
	settled, err := h.billing.SettlePayment(h.ctx, inv.ID, res.Payment.Reference, h.now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("settle again: %v", err)
	}
	if settled == nil || settled.ID != sub.ID || !settled.ExpiresAt.Equal(sub.ExpiresAt) {
		t.Fatalf("re-settlement changed the subscription: %+v", settled)
	}

	if n := h.count(t, &model.Subscription{}, "user_id = ?", user.ID); n != 1 {
		t.Fatalf("expected 1 subscription, got %d", n)
	}
	if h.provider.verifyCalls != 1 {
		t.Fatalf("expected 1 provider verification, got %d", h.provider.verifyCalls)
	}
	if h.notifier.count(notify.KindSubscriptionActivated) != 1 {
		t.Fatalf("expected one activation notification, got %v", h.notifier.kinds)
	}
}

func TestRenewalPaymentExtendsActiveSubscription(t *testing.T) {
	h := newBillingHarness(t)
	plan := h.seedPlan(t)
	user := h.seedUser(t)
	h.seedProfile(t, user.ID)
	sub := h.seedSubscription(t, user.ID, plan.ID, h.now.AddDate(0, 0, 5))
	h.succeedWith("10750.00")

	sweep, err := h.billing.SweepRenewals(h.ctx, 7, h.now)
	if err != nil {
		t.Fatalf("sweep renewals: %v", err)
	}
	if sweep.Processed != 1 {
		t.Fatalf("expected 1 renewal invoice, got %+v", sweep)
	}

	var renewal model.Invoice
	if err := h.db.Where("user_id = ? AND kind = ?", user.ID, model.InvoiceKindRenewal).First(&renewal).Error; err != nil {
		t.Fatalf("load renewal invoice: %v", err)
	}
	if !renewal.DueDate.Equal(sub.ExpiresAt) {
		t.Fatalf("renewal due %s, expected %s", renewal.DueDate, sub.ExpiresAt)
	}

	res := h.pay(t, &renewal)
	if res.Subscription == nil || res.Subscription.ID != sub.ID {
		t.Fatalf("renewal did not extend the existing subscription: %+v", res.Subscription)
	}
	if want := h.now.AddDate(0, 0, 35); !res.Subscription.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %s, got %s", want, res.Subscription.ExpiresAt)
	}
	if n := h.count(t, &model.Subscription{}, "user_id = ?", user.ID); n != 1 {
		t.Fatalf("expected 1 subscription, got %d", n)
	}
}

func TestRenewalOfLapsedSubscriptionStartsFromNow(t *testing.T) {
	h := newBillingHarness(t)
	plan := h.seedPlan(t)
	user := h.seedUser(t)
	profile := h.seedProfile(t, user.ID)
	h.seedListing(t, user.ID, model.ListingActive)
	h.seedSubscription(t, user.ID, plan.ID, h.now.AddDate(0, 0, 2))
	h.succeedWith("10750.00")

	if _, err := h.billing.SweepRenewals(h.ctx, 7, h.now); err != nil {
		t.Fatalf("sweep renewals: %v", err)
	}
	later := h.now.AddDate(0, 0, 3)
	exp, err := h.billing.SweepExpirations(h.ctx, later)
	if err != nil || exp.Processed != 1 {
		t.Fatalf("expected expiration, got %+v err=%v", exp, err)
	}

	var renewal model.Invoice
	if err := h.db.Where("user_id = ? AND kind = ?", user.ID, model.InvoiceKindRenewal).First(&renewal).Error; err != nil {
		t.Fatalf("load renewal invoice: %v", err)
	}
	h.now = later
	res := h.pay(t, &renewal)

	if want := later.AddDate(0, 0, 30); !res.Subscription.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %s, got %s", want, res.Subscription.ExpiresAt)
	}
	if n := h.count(t, &model.Subscription{}, "user_id = ?", user.ID); n != 2 {
		t.Fatalf("expected the expired row plus a new one, got %d", n)
	}
	restored, err := h.sellerRepo.FindProfileByUser(h.ctx, user.ID)
	if err != nil || restored == nil {
		t.Fatalf("reload profile: %v", err)
	}
	if restored.ID != profile.ID || restored.VerificationStatus != model.VerificationVerified || !restored.IsActive {
		t.Fatalf("profile not restored: %+v", restored)
	}
}

func TestSweepRenewalsIssuesOneInvoicePerSubscription(t *testing.T) {
	h := newBillingHarness(t)
	plan := h.seedPlan(t)
	due := h.seedUser(t)
	notDue := h.seedUser(t)
	manual := h.seedUser(t)
	h.seedSubscription(t, due.ID, plan.ID, h.now.AddDate(0, 0, 3))
	h.seedSubscription(t, notDue.ID, plan.ID, h.now.AddDate(0, 0, 20))
	off := h.seedSubscription(t, manual.ID, plan.ID, h.now.AddDate(0, 0, 3))
	off.AutoRenew = false
	if err := h.subRepo.Update(h.ctx, off); err != nil {
		t.Fatalf("disable auto renew: %v", err)
	}

	first, err := h.billing.SweepRenewals(h.ctx, 7, h.now)
	if err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	if first.Scanned != 1 || first.Processed != 1 {
		t.Fatalf("unexpected first sweep %+v", first)
	}

	second, err := h.billing.SweepRenewals(h.ctx, 7, h.now.Add(time.Hour))
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if second.Processed != 0 || second.Skipped != 1 {
		t.Fatalf("unexpected second sweep %+v", second)
	}

	if n := h.count(t, &model.Invoice{}, "kind = ?", model.InvoiceKindRenewal); n != 1 {
		t.Fatalf("expected 1 renewal invoice, got %d", n)
	}
}

func TestSweepExpirationsCascadesAndIsolatesFailures(t *testing.T) {
	h := newBillingHarness(t)
	plan := h.seedPlan(t)

	// A's cascade fails, so its expiry rolls back
	a := h.seedUser(t)
	h.seedProfile(t, a.ID)
	subA := h.seedSubscription(t, a.ID, plan.ID, h.now.Add(-2*time.Hour))
	listingA := h.seedListing(t, a.ID, model.ListingActive)
	h.cascade.failFor[a.ID] = true

	b := h.seedUser(t)
	h.seedProfile(t, b.ID)
	subB := h.seedSubscription(t, b.ID, plan.ID, h.now.Add(-time.Hour))
	active := h.seedListing(t, b.ID, model.ListingActive)
	featured := h.seedListing(t, b.ID, model.ListingFeatured)
	draft := h.seedListing(t, b.ID, model.ListingDraft)
	sold := h.seedListing(t, b.ID, model.ListingSold)
	archived := h.seedListing(t, b.ID, model.ListingArchived)

	c := h.seedUser(t)
	subC := h.seedSubscription(t, c.ID, plan.ID, h.now.AddDate(0, 0, 10))

	res, err := h.billing.SweepExpirations(h.ctx, h.now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Scanned != 2 || res.Processed != 1 || res.Failed != 1 {
		t.Fatalf("unexpected sweep result %+v", res)
	}

	wantStatus := map[uuid.UUID]model.SubscriptionStatus{
		subA.ID: model.SubscriptionActive,
		subB.ID: model.SubscriptionExpired,
		subC.ID: model.SubscriptionActive,
	}
	for id, want := range wantStatus {
		got, err := h.subRepo.FindByID(h.ctx, id)
		if err != nil {
			t.Fatalf("reload subscription: %v", err)
		}
		if got.Status != want {
			t.Fatalf("subscription %s: expected %s, got %s", id, want, got.Status)
		}
	}

	wantListing := map[uuid.UUID]model.ListingStatus{
		listingA.ID: model.ListingActive,
		active.ID:   model.ListingExpired,
		featured.ID: model.ListingExpired,
		draft.ID:    model.ListingDraft,
		sold.ID:     model.ListingSold,
		archived.ID: model.ListingArchived,
	}
	for id, want := range wantListing {
		got, err := h.listingRepo.FindByID(h.ctx, id)
		if err != nil {
			t.Fatalf("reload listing: %v", err)
		}
		if got.Status != want {
			t.Fatalf("listing %s: expected %s, got %s", id, want, got.Status)
		}
	}

	profile, err := h.sellerRepo.FindProfileByUser(h.ctx, b.ID)
	if err != nil || profile == nil {
		t.Fatalf("reload profile: %v", err)
	}
	if profile.VerificationStatus != model.VerificationLapsed || profile.IsActive {
		t.Fatalf("profile not lapsed: %+v", profile)
	}
	if h.notifier.count(notify.KindSubscriptionExpired) != 1 {
		t.Fatalf("expected one expiry notification, got %v", h.notifier.kinds)
	}

	// A is retried once the cascade recovers; B stays expired
	delete(h.cascade.failFor, a.ID)
	again, err := h.billing.SweepExpirations(h.ctx, h.now.Add(time.Hour))
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if again.Scanned != 1 || again.Processed != 1 || again.Failed != 0 {
		t.Fatalf("unexpected second sweep %+v", again)
	}
	for _, id := range []uuid.UUID{subA.ID, subB.ID} {
		got, _ := h.subRepo.FindByID(h.ctx, id)
		if got.Status != model.SubscriptionExpired {
			t.Fatalf("subscription %s: expected expired, got %s", id, got.Status)
		}
	}
}

func TestSweepExpirationsWithoutSellerProfileStillExpires(t *testing.T) {
	h := newBillingHarness(t)
	plan := h.seedPlan(t)
	user := h.seedUser(t)
	sub := h.seedSubscription(t, user.ID, plan.ID, h.now.Add(-time.Hour))
	listing := h.seedListing(t, user.ID, model.ListingActive)

	res, err := h.billing.SweepExpirations(h.ctx, h.now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Processed != 1 || res.Failed != 0 {
		t.Fatalf("unexpected sweep result %+v", res)
	}

	got, err := h.subRepo.FindByID(h.ctx, sub.ID)
	if err != nil {
		t.Fatalf("reload subscription: %v", err)
	}
	if got.Status != model.SubscriptionExpired {
		t.Fatalf("expected expired, got %s", got.Status)
	}
	hidden, err := h.listingRepo.FindByID(h.ctx, listing.ID)
	if err != nil {
		t.Fatalf("reload listing: %v", err)
	}
	if hidden.Status != model.ListingExpired {
		t.Fatalf("expected listing hidden, got %s", hidden.Status)
	}

	again, err := h.billing.SweepExpirations(h.ctx, h.now.Add(time.Hour))
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if again.Scanned != 0 {
		t.Fatalf("expired subscription listed again: %+v", again)
	}
}

func TestExpirationSkipsSubscriptionRenewedAfterListing(t *testing.T) {
	h := newBillingHarness(t)
	plan := h.seedPlan(t)
	user := h.seedUser(t)
	h.seedProfile(t, user.ID)
	sub := h.seedSubscription(t, user.ID, plan.ID, h.now.Add(-time.Hour))
	listing := h.seedListing(t, user.ID, model.ListingActive)

	stale, err := h.subRepo.ListExpired(h.ctx, h.now)
	if err != nil || len(stale) != 1 {
		t.Fatalf("expected one expired subscription, got %d (err %v)", len(stale), err)
	}

	// renewal payment confirmed between listing and expiring
	renewed := h.now.AddDate(0, 0, 30)
	sub.ExpiresAt = renewed
	if err := h.subRepo.Update(h.ctx, sub); err != nil {
		t.Fatalf("extend subscription: %v", err)
	}

	svc := h.billing.(*billingService)
	changed, err := svc.expireOne(h.ctx, &stale[0], h.now)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if changed {
		t.Fatal("renewed subscription was expired")
	}

	got, err := h.subRepo.FindByID(h.ctx, sub.ID)
	if err != nil {
		t.Fatalf("reload subscription: %v", err)
	}
	if got.Status != model.SubscriptionActive || !got.ExpiresAt.Equal(renewed) {
		t.Fatalf("subscription changed: status=%s expires_at=%s", got.Status, got.ExpiresAt)
	}
	kept, _ := h.listingRepo.FindByID(h.ctx, listing.ID)
	if kept.Status != model.ListingActive {
		t.Fatalf("listing hidden: %s", kept.Status)
	}
	profile, err := h.sellerRepo.FindProfileByUser(h.ctx, user.ID)
	if err != nil || profile == nil || !profile.IsActive {
		t.Fatalf("seller revoked: %+v (err %v)", profile, err)
	}
	if h.notifier.count(notify.KindSubscriptionExpired) != 0 {
		t.Fatalf("unexpected expiry notification %v", h.notifier.kinds)
	}
}

func TestNotificationFailureDoesNotFailOperation(t *testing.T) {
	h := newBillingHarness(t)
	h.seedPlan(t)
	user := h.seedUser(t)
	app := h.seedApplication(t, user.ID)
	h.notifier.err = errors.New("broker down")

	inv, err := h.billing.ApproveApplication(h.ctx, app.ID, nil, h.now)
	if err != nil {
		t.Fatalf("approve failed on notification error: %v", err)
	}
	if inv == nil || h.notifier.count(notify.KindInvoiceIssued) != 1 {
		t.Fatal("notification was not attempted")
	}
	if n := h.count(t, &model.Invoice{}, ""); n != 1 {
		t.Fatalf("expected committed invoice, got %d", n)
	}
}

func TestGatewayFailureLeavesPaymentPending(t *testing.T) {
	h := newBillingHarness(t)
	h.seedPlan(t)
	user := h.seedUser(t)
	app := h.seedApplication(t, user.ID)
	inv, err := h.billing.ApproveApplication(h.ctx, app.ID, nil, h.now)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	h.provider.initErr = errors.New("connection reset")

	_, err = h.billing.InitializeInvoicePayment(h.ctx, InvoicePaymentParams{
		InvoiceID: inv.ID,
		Gateway:   "fake",
		Reference: "PAY-RETRY-1",
		Actor:     user.ID,
		Now:       h.now,
	})
	if !errors.Is(err, ErrGateway) {
		t.Fatalf("expected ErrGateway, got %v", err)
	}

	payment, err := h.paymentRepo.FindByReference(h.ctx, "PAY-RETRY-1")
	if err != nil {
		t.Fatalf("payment not persisted: %v", err)
	}
	if payment.Status != model.PaymentPending {
		t.Fatalf("expected pending payment, got %s", payment.Status)
	}
	stored, _ := h.invoices.GetInvoice(h.ctx, inv.ID)
	if stored.Status != model.InvoicePending {
		t.Fatalf("invoice moved to %s after gateway failure", stored.Status)
	}
}

func TestInitializeRejectsDuplicateReferenceAndForeignInvoice(t *testing.T) {
	h := newBillingHarness(t)
	h.seedPlan(t)
	user := h.seedUser(t)
	app := h.seedApplication(t, user.ID)
	inv, err := h.billing.ApproveApplication(h.ctx, app.ID, nil, h.now)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}

	params := InvoicePaymentParams{InvoiceID: inv.ID, Gateway: "fake", Reference: "PAY-DUP", Actor: user.ID, Now: h.now}
	started, err := h.billing.InitializeInvoicePayment(h.ctx, params)
	if err != nil {
		t.Fatalf("first initialize: %v", err)
	}
	if started.AuthorizationURL != "https://checkout.example/PAY-DUP" {
		t.Fatalf("unexpected authorization url %s", started.AuthorizationURL)
	}
	stored, _ := h.invoices.GetInvoice(h.ctx, inv.ID)
	if stored.Status != model.InvoiceProcessing {
		t.Fatalf("expected processing invoice, got %s", stored.Status)
	}

	if _, err := h.billing.InitializeInvoicePayment(h.ctx, params); !errors.Is(err, ErrDuplicateReference) {
		t.Fatalf("expected ErrDuplicateReference, got %v", err)
	}

	params.Reference = ""
	params.Actor = uuid.New()
	if _, err := h.billing.InitializeInvoicePayment(h.ctx, params); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if h.provider.initCalls != 1 {
		t.Fatalf("expected one provider call, got %d", h.provider.initCalls)
	}
}

func TestConfirmPaymentAmountMismatchFailsPayment(t *testing.T) {
	h := newBillingHarness(t)
	h.seedPlan(t)
	user := h.seedUser(t)
	app := h.seedApplication(t, user.ID)
	inv, err := h.billing.ApproveApplication(h.ctx, app.ID, nil, h.now)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	h.succeedWith("100.00")

	res := h.pay(t, inv)
	if res.Outcome != gateway.StatusFailed || res.Payment.Status != model.PaymentFailed {
		t.Fatalf("expected failed payment, got %s/%s", res.Outcome, res.Payment.Status)
	}
	if res.Subscription != nil {
		t.Fatal("mismatched payment activated a subscription")
	}
	stored, _ := h.invoices.GetInvoice(h.ctx, inv.ID)
	if stored.Status != model.InvoicePending {
		t.Fatalf("expected invoice back to pending, got %s", stored.Status)
	}
	if h.notifier.count(notify.KindPaymentFailed) != 1 {
		t.Fatalf("expected payment.failed notification, got %v", h.notifier.kinds)
	}
}

func TestConfirmPaymentPendingLeavesState(t *testing.T) {
	h := newBillingHarness(t)
	h.seedPlan(t)
	user := h.seedUser(t)
	app := h.seedApplication(t, user.ID)
	inv, err := h.billing.ApproveApplication(h.ctx, app.ID, nil, h.now)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	h.provider.result = gateway.VerifyResult{Status: gateway.StatusPending}

	res := h.pay(t, inv)
	if res.Outcome != gateway.StatusPending || res.Payment.Status != model.PaymentPending {
		t.Fatalf("expected pending, got %s/%s", res.Outcome, res.Payment.Status)
	}
	if _, err := h.billing.ConfirmPayment(h.ctx, "other", res.Payment.Reference, h.now); !errors.Is(err, ErrGatewayMismatch) {
		t.Fatalf("expected ErrGatewayMismatch, got %v", err)
	}
}

func TestCancelActiveSubscriptionRevokesSeller(t *testing.T) {
	h := newBillingHarness(t)
	plan := h.seedPlan(t)
	user := h.seedUser(t)
	h.seedProfile(t, user.ID)
	listing := h.seedListing(t, user.ID, model.ListingActive)
	sub := h.seedSubscription(t, user.ID, plan.ID, h.now.AddDate(0, 0, 10))

	cancelled, err := h.billing.CancelSubscription(h.ctx, sub.ID, &user.ID, h.now)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != model.SubscriptionCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	got, _ := h.listingRepo.FindByID(h.ctx, listing.ID)
	if got.Status != model.ListingExpired {
		t.Fatalf("listing still %s after cancellation", got.Status)
	}

	if _, err := h.billing.CancelSubscription(h.ctx, sub.ID, &user.ID, h.now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on second cancel, got %v", err)
	}
}

func TestMarkPaymentRefundedRequiresCompletedPayment(t *testing.T) {
	h := newBillingHarness(t)
	h.seedPlan(t)
	user := h.seedUser(t)
	app := h.seedApplication(t, user.ID)
	inv, err := h.billing.ApproveApplication(h.ctx, app.ID, nil, h.now)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	h.provider.result = gateway.VerifyResult{Status: gateway.StatusPending}
	pending := h.pay(t, inv)

	if _, err := h.billing.MarkPaymentRefunded(h.ctx, pending.Payment.Reference, nil, h.now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	h.succeedWith("10750.00")
	done, err := h.billing.ConfirmPayment(h.ctx, "fake", pending.Payment.Reference, h.now)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	refunded, err := h.billing.MarkPaymentRefunded(h.ctx, done.Payment.Reference, nil, h.now.Add(time.Hour))
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if refunded.Status != model.PaymentRefunded {
		t.Fatalf("expected refunded, got %s", refunded.Status)
	}
}

func TestRunScheduledSweepRunsBothPasses(t *testing.T) {
	h := newBillingHarness(t)
	plan := h.seedPlan(t)
	renewing := h.seedUser(t)
	lapsing := h.seedUser(t)
	h.seedProfile(t, lapsing.ID)
	h.seedSubscription(t, renewing.ID, plan.ID, h.now.AddDate(0, 0, 4))
	h.seedSubscription(t, lapsing.ID, plan.ID, h.now.Add(-time.Minute))

	res, err := h.billing.RunScheduledSweep(h.ctx, h.now)
	if err != nil {
		t.Fatalf("scheduled sweep: %v", err)
	}
	// the lapsing subscription is also inside the renewal window
	if res.Renewals.Processed != 2 {
		t.Fatalf("unexpected renewals %+v", res.Renewals)
	}
	if res.Expirations.Processed != 1 {
		t.Fatalf("unexpected expirations %+v", res.Expirations)
	}
}
