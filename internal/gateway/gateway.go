// Package gateway talks to external payment providers. Clients only initialize
// and verify transactions; they never touch the ledger.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrProvider wraps timeouts, non-2xx responses and malformed payloads.
	ErrProvider         = errors.New("payment provider error")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrUnknownProvider  = errors.New("unknown payment provider")
)

type Customer struct {
	Email string
	Phone string
	Name  string
}

type InitializeRequest struct {
	Reference   string
	Amount      decimal.Decimal // major units
	Currency    string
	Customer    Customer
	CallbackURL string
	Metadata    map[string]string
}

type InitializeResult struct {
	AuthorizationURL  string
	ProviderReference string
}

// VerifyStatus is the normalized settlement state reported by a provider.
type VerifyStatus string

const (
	StatusSuccess VerifyStatus = "success"
	StatusFailed  VerifyStatus = "failed"
	StatusPending VerifyStatus = "pending"
)

type VerifyResult struct {
	Reference         string
	ProviderReference string
	Status            VerifyStatus
	Amount            decimal.Decimal // major units
	Currency          string
	Channel           string
	Fees              decimal.Decimal
	Message           string
	PaidAt            *time.Time
	Raw               json.RawMessage // verbatim provider response
}

// Provider is one payment gateway.
type Provider interface {
	Name() string
	Initialize(ctx context.Context, req InitializeRequest) (*InitializeResult, error)
	Verify(ctx context.Context, reference string) (*VerifyResult, error)
	// VerifyWebhook authenticates an inbound callback and returns the payment reference it is about.
	VerifyWebhook(payload []byte, headers http.Header) (string, error)
}

// Registry resolves providers by name.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
