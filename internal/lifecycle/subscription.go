package lifecycle

import (
	"fmt"
	"time"

	"billing/internal/model"

	"github.com/google/uuid"
)

var subscriptionTransitions = map[model.SubscriptionStatus][]model.SubscriptionStatus{
	model.SubscriptionActive:  {model.SubscriptionExpired, model.SubscriptionCancelled},
	model.SubscriptionExpired: {model.SubscriptionCancelled},
}

// CanTransitionSubscription reports whether from -> to is allowed.
// Nothing transitions into active: a lapsed or cancelled owner needs a new subscription.
func CanTransitionSubscription(from, to model.SubscriptionStatus) bool {
	for _, next := range subscriptionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Days converts a plan duration into a time.Duration.
func Days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

// NewSubscription builds a fresh active subscription starting at now.
func NewSubscription(owner, planID uuid.UUID, durationDays int, invoiceID *uuid.UUID, now time.Time) ActiveSubscription {
	return ActiveSubscription{sub: &model.Subscription{
		ID:            uuid.New(),
		UserID:        owner,
		PlanID:        planID,
		Status:        model.SubscriptionActive,
		StartedAt:     now,
		ExpiresAt:     now.Add(Days(durationDays)),
		AutoRenew:     true,
		LastInvoiceID: invoiceID,
	}}
}

// ActiveSubscription wraps a subscription whose stored status is active.
// Extension and expiry are only reachable through it.
type ActiveSubscription struct {
	sub *model.Subscription
}

// AsActive returns the wrapper when sub is active.
func AsActive(sub *model.Subscription) (ActiveSubscription, bool) {
	if sub == nil || sub.Status != model.SubscriptionActive {
		return ActiveSubscription{}, false
	}
	return ActiveSubscription{sub: sub}, true
}

func (a ActiveSubscription) Subscription() *model.Subscription {
	return a.sub
}

// Extend pushes the expiry forward by durationDays, anchored at the current expiry,
// or at now if the subscription is already past it.
func (a ActiveSubscription) Extend(durationDays int, invoiceID *uuid.UUID, now time.Time) time.Time {
	anchor := a.sub.ExpiresAt
	if anchor.Before(now) {
		anchor = now
	}
	a.sub.ExpiresAt = anchor.Add(Days(durationDays))
	if invoiceID != nil {
		a.sub.LastInvoiceID = invoiceID
	}
	return a.sub.ExpiresAt
}

// IsExpired reports whether the expiry has passed at now.
func (a ActiveSubscription) IsExpired(now time.Time) bool {
	return !a.sub.ExpiresAt.After(now)
}

// Expire moves the subscription to expired.
func (a ActiveSubscription) Expire(now time.Time) *model.Subscription {
	a.sub.Status = model.SubscriptionExpired
	a.sub.ExpiredAt = &now
	return a.sub
}

// CancelSubscription moves an active or expired subscription to cancelled and disables renewal.
func CancelSubscription(sub *model.Subscription, now time.Time) error {
	if !CanTransitionSubscription(sub.Status, model.SubscriptionCancelled) {
		return fmt.Errorf("subscription %s: %s -> %s: %w", sub.ID, sub.Status, model.SubscriptionCancelled, ErrInvalidTransition)
	}
	sub.Status = model.SubscriptionCancelled
	sub.CancelledAt = &now
	sub.AutoRenew = false
	return nil
}

// IsRenewalDue is true when sub is active and expires within lookaheadDays of now.
func IsRenewalDue(sub *model.Subscription, now time.Time, lookaheadDays int) bool {
	if sub.Status != model.SubscriptionActive {
		return false
	}
	return !sub.ExpiresAt.After(now.Add(Days(lookaheadDays)))
}
