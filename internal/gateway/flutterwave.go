package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const FlutterwaveName = "flutterwave"

// Flutterwave amounts are exchanged in major units.
type Flutterwave struct {
	client      httpClient
	webhookHash string
}

func NewFlutterwave(baseURL, secretKey, webhookHash string, timeout time.Duration) *Flutterwave {
	return &Flutterwave{client: newHTTPClient(baseURL, secretKey, timeout), webhookHash: webhookHash}
}

func (f *Flutterwave) Name() string { return FlutterwaveName }

type flutterwaveCustomer struct {
	Email       string `json:"email"`
	PhoneNumber string `json:"phonenumber,omitempty"`
	Name        string `json:"name,omitempty"`
}

type flutterwavePaymentRequest struct {
	TxRef       string              `json:"tx_ref"`
	Amount      decimal.Decimal     `json:"amount"`
	Currency    string              `json:"currency"`
	RedirectURL string              `json:"redirect_url,omitempty"`
	Customer    flutterwaveCustomer `json:"customer"`
	Meta        map[string]string   `json:"meta,omitempty"`
}

type flutterwaveEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type flutterwaveTransaction struct {
	ID            int64           `json:"id"`
	TxRef         string          `json:"tx_ref"`
	FlwRef        string          `json:"flw_ref"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	AppFee        decimal.Decimal `json:"app_fee"`
	Status        string          `json:"status"`
	PaymentType   string          `json:"payment_type"`
	ProcessorResp string          `json:"processor_response"`
	CreatedAt     string          `json:"created_at"`
}

func (f *Flutterwave) Initialize(ctx context.Context, req InitializeRequest) (*InitializeResult, error) {
	raw, err := f.client.do(ctx, http.MethodPost, "/v3/payments", flutterwavePaymentRequest{
		TxRef:       req.Reference,
		Amount:      req.Amount,
		Currency:    req.Currency,
		RedirectURL: req.CallbackURL,
		Customer: flutterwaveCustomer{
			Email:       req.Customer.Email,
			PhoneNumber: req.Customer.Phone,
			Name:        req.Customer.Name,
		},
		Meta: req.Metadata,
	})
	if err != nil {
		return nil, err
	}

	var env flutterwaveEnvelope
	if err := decode(raw, &env); err != nil {
		return nil, err
	}
	if env.Status != "success" {
		return nil, fmt.Errorf("%w: flutterwave initialize: %s", ErrProvider, env.Message)
	}
	var data struct {
		Link string `json:"link"`
	}
	if err := decode(env.Data, &data); err != nil {
		return nil, err
	}
	if data.Link == "" {
		return nil, fmt.Errorf("%w: flutterwave initialize: missing link", ErrProvider)
	}

	return &InitializeResult{AuthorizationURL: data.Link, ProviderReference: req.Reference}, nil
}

func (f *Flutterwave) Verify(ctx context.Context, reference string) (*VerifyResult, error) {
	raw, err := f.client.do(ctx, http.MethodGet, "/v3/transactions/verify_by_reference?tx_ref="+url.QueryEscape(reference), nil)
	if err != nil {
		return nil, err
	}

	var env flutterwaveEnvelope
	if err := decode(raw, &env); err != nil {
		return nil, err
	}
	if env.Status != "success" {
		return nil, fmt.Errorf("%w: flutterwave verify: %s", ErrProvider, env.Message)
	}
	var tx flutterwaveTransaction
	if err := decode(env.Data, &tx); err != nil {
		return nil, err
	}

	res := &VerifyResult{
		Reference:         tx.TxRef,
		ProviderReference: tx.FlwRef,
		Status:            flutterwaveStatus(tx.Status),
		Amount:            tx.Amount,
		Currency:          strings.ToUpper(tx.Currency),
		Channel:           tx.PaymentType,
		Fees:              tx.AppFee,
		Message:           tx.ProcessorResp,
		Raw:               json.RawMessage(raw),
	}
	if t, err := time.Parse(time.RFC3339, tx.CreatedAt); err == nil && res.Status == StatusSuccess {
		res.PaidAt = &t
	}
	return res, nil
}

func flutterwaveStatus(s string) VerifyStatus {
	switch s {
	case "successful":
		return StatusSuccess
	case "failed", "cancelled":
		return StatusFailed
	default:
		return StatusPending
	}
}

// VerifyWebhook compares the verif-hash header with the configured secret hash.
func (f *Flutterwave) VerifyWebhook(payload []byte, headers http.Header) (string, error) {
	got := headers.Get("verif-hash")
	if f.webhookHash == "" || subtle.ConstantTimeCompare([]byte(got), []byte(f.webhookHash)) != 1 {
		return "", ErrInvalidSignature
	}

	var event struct {
		Event string `json:"event"`
		Data  struct {
			TxRef string `json:"tx_ref"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return "", fmt.Errorf("malformed flutterwave webhook: %w", err)
	}
	if event.Data.TxRef == "" {
		return "", fmt.Errorf("flutterwave webhook %q has no tx_ref", event.Event)
	}
	return event.Data.TxRef, nil
}
