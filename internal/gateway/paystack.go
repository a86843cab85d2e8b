package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const PaystackName = "paystack"

// Paystack amounts are exchanged in kobo (minor units).
type Paystack struct {
	client httpClient
}

func NewPaystack(baseURL, secretKey string, timeout time.Duration) *Paystack {
	return &Paystack{client: newHTTPClient(baseURL, secretKey, timeout)}
}

func (p *Paystack) Name() string { return PaystackName }

type paystackInitializeRequest struct {
	Email       string            `json:"email"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency,omitempty"`
	Reference   string            `json:"reference"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type paystackEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type paystackInitializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type paystackTransaction struct {
	ID              int64   `json:"id"`
	Status          string  `json:"status"`
	Reference       string  `json:"reference"`
	Amount          int64   `json:"amount"`
	Currency        string  `json:"currency"`
	Channel         string  `json:"channel"`
	Fees            *int64  `json:"fees"`
	GatewayResponse string  `json:"gateway_response"`
	PaidAt          *string `json:"paid_at"`
}

func (p *Paystack) Initialize(ctx context.Context, req InitializeRequest) (*InitializeResult, error) {
	raw, err := p.client.do(ctx, http.MethodPost, "/transaction/initialize", paystackInitializeRequest{
		Email:       req.Customer.Email,
		Amount:      toMinorUnits(req.Amount),
		Currency:    req.Currency,
		Reference:   req.Reference,
		CallbackURL: req.CallbackURL,
		Metadata:    req.Metadata,
	})
	if err != nil {
		return nil, err
	}

	var env paystackEnvelope
	if err := decode(raw, &env); err != nil {
		return nil, err
	}
	if !env.Status {
		return nil, fmt.Errorf("%w: paystack initialize: %s", ErrProvider, env.Message)
	}
	var data paystackInitializeData
	if err := decode(env.Data, &data); err != nil {
		return nil, err
	}
	if data.AuthorizationURL == "" {
		return nil, fmt.Errorf("%w: paystack initialize: missing authorization_url", ErrProvider)
	}

	return &InitializeResult{AuthorizationURL: data.AuthorizationURL, ProviderReference: data.AccessCode}, nil
}

func (p *Paystack) Verify(ctx context.Context, reference string) (*VerifyResult, error) {
	raw, err := p.client.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil)
	if err != nil {
		return nil, err
	}

	var env paystackEnvelope
	if err := decode(raw, &env); err != nil {
		return nil, err
	}
	if !env.Status {
		return nil, fmt.Errorf("%w: paystack verify: %s", ErrProvider, env.Message)
	}
	var tx paystackTransaction
	if err := decode(env.Data, &tx); err != nil {
		return nil, err
	}

	res := &VerifyResult{
		Reference:         tx.Reference,
		ProviderReference: fmt.Sprintf("%d", tx.ID),
		Status:            paystackStatus(tx.Status),
		Amount:            fromMinorUnits(tx.Amount),
		Currency:          strings.ToUpper(tx.Currency),
		Channel:           tx.Channel,
		Message:           tx.GatewayResponse,
		Raw:               json.RawMessage(raw),
	}
	if tx.Fees != nil {
		res.Fees = fromMinorUnits(*tx.Fees)
	}
	if tx.PaidAt != nil {
		if t, err := time.Parse(time.RFC3339, *tx.PaidAt); err == nil {
			res.PaidAt = &t
		}
	}
	return res, nil
}

func paystackStatus(s string) VerifyStatus {
	switch s {
	case "success":
		return StatusSuccess
	case "failed", "abandoned", "reversed":
		return StatusFailed
	default:
		return StatusPending
	}
}

// VerifyWebhook checks x-paystack-signature, the hex HMAC-SHA512 of the body keyed by the secret key.
func (p *Paystack) VerifyWebhook(payload []byte, headers http.Header) (string, error) {
	signature := headers.Get("x-paystack-signature")
	if signature == "" {
		return "", ErrInvalidSignature
	}
	mac := hmac.New(sha512.New, []byte(p.client.secretKey))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return "", ErrInvalidSignature
	}

	var event struct {
		Event string `json:"event"`
		Data  struct {
			Reference string `json:"reference"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return "", fmt.Errorf("malformed paystack webhook: %w", err)
	}
	if event.Data.Reference == "" {
		return "", fmt.Errorf("paystack webhook %q has no reference", event.Event)
	}
	return event.Data.Reference, nil
}
