// Package notify fans billing events out to downstream consumers
// (email service over RabbitMQ, event stream over Kafka, admin websocket feed).
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Kind names a billing event. It doubles as routing key and Kafka message key prefix.
type Kind string

const (
	KindInvoiceIssued         Kind = "invoice.issued"
	KindPaymentFailed         Kind = "payment.failed"
	KindSubscriptionActivated Kind = "subscription.activated"
	KindSubscriptionExpired   Kind = "subscription.expired"
	KindSubscriptionCancelled Kind = "subscription.cancelled"
)

type Event struct {
	ID         uuid.UUID              `json:"id"`
	Kind       Kind                   `json:"kind"`
	UserID     uuid.UUID              `json:"user_id"`
	Payload    map[string]interface{} `json:"payload"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// Notifier is the fire-and-forget interface the billing services call after commit.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, kind Kind, payload map[string]interface{}) error
}

// Publisher delivers one event to one sink.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Dispatcher builds events and hands them to every configured publisher.
// A failing sink does not stop delivery to the others.
type Dispatcher struct {
	publishers map[string]Publisher
	order      []string
	log        *zap.Logger
}

func NewDispatcher(log *zap.Logger) *Dispatcher {
	return &Dispatcher{publishers: make(map[string]Publisher), log: log.Named("notify")}
}

// Register adds a sink under name. Registering nil is ignored.
func (d *Dispatcher) Register(name string, p Publisher) {
	if p == nil {
		return
	}
	if _, exists := d.publishers[name]; !exists {
		d.order = append(d.order, name)
	}
	d.publishers[name] = p
}

func (d *Dispatcher) Notify(ctx context.Context, userID uuid.UUID, kind Kind, payload map[string]interface{}) error {
	event := Event{
		ID:         uuid.New(),
		Kind:       kind,
		UserID:     userID,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	}

	var errs []error
	for _, name := range d.order {
		if err := d.publishers[name].Publish(ctx, event); err != nil {
			d.log.Warn("publish failed",
				zap.String("sink", name),
				zap.String("kind", string(kind)),
				zap.String("user_id", userID.String()),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		d.log.Debug("event published", zap.String("sink", name), zap.String("kind", string(kind)))
	}
	return errors.Join(errs...)
}

// Nop discards every notification.
type Nop struct{}

func (Nop) Notify(context.Context, uuid.UUID, Kind, map[string]interface{}) error { return nil }
