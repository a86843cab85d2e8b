package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestPaystackInitializeSendsKobo(t *testing.T) {
	var got paystackInitializeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transaction/initialize" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk_test" {
			t.Errorf("missing bearer token")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"status":true,"message":"ok","data":{"authorization_url":"https://checkout.paystack.com/abc","access_code":"abc","reference":"REF-1"}}`))
	}))
	defer srv.Close()

	p := NewPaystack(srv.URL, "sk_test", time.Second)
	res, err := p.Initialize(context.Background(), InitializeRequest{
		Reference: "REF-1",
		Amount:    decimal.RequireFromString("10750.50"),
		Currency:  "NGN",
		Customer:  Customer{Email: "seller@example.com"},
	})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if got.Amount != 1075050 {
		t.Fatalf("expected 1075050 kobo, got %d", got.Amount)
	}
	if res.AuthorizationURL != "https://checkout.paystack.com/abc" || res.ProviderReference != "abc" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestPaystackInitializeSurfacesHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"status":false,"message":"upstream down"}`))
	}))
	defer srv.Close()

	p := NewPaystack(srv.URL, "sk_test", time.Second)
	_, err := p.Initialize(context.Background(), InitializeRequest{Reference: "REF-2", Amount: decimal.NewFromInt(1)})
	if !errors.Is(err, ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}
}

func TestPaystackTimeoutIsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	p := NewPaystack(srv.URL, "sk_test", 20*time.Millisecond)
	if _, err := p.Verify(context.Background(), "REF-3"); !errors.Is(err, ErrProvider) {
		t.Fatalf("expected ErrProvider on timeout, got %v", err)
	}
}

func TestPaystackVerifyNormalizes(t *testing.T) {
	body := `{"status":true,"message":"Verification successful","data":{"id":42,"status":"success","reference":"REF-4","amount":1075000,"currency":"ngn","channel":"card","fees":16125,"gateway_response":"Approved","paid_at":"2024-05-01T10:00:00Z"}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transaction/verify/REF-4" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	res, err := NewPaystack(srv.URL, "sk_test", time.Second).Verify(context.Background(), "REF-4")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Status != StatusSuccess || res.Currency != "NGN" || res.ProviderReference != "42" {
		t.Fatalf("unexpected result %+v", res)
	}
	if !res.Amount.Equal(decimal.NewFromInt(10750)) || !res.Fees.Equal(decimal.RequireFromString("161.25")) {
		t.Fatalf("unexpected amounts: amount=%s fees=%s", res.Amount, res.Fees)
	}
	if string(res.Raw) != body {
		t.Fatal("raw payload must be kept verbatim")
	}
	if res.PaidAt == nil {
		t.Fatal("expected paid_at to be parsed")
	}
}

func TestPaystackStatusMapping(t *testing.T) {
	cases := map[string]VerifyStatus{
		"success":   StatusSuccess,
		"failed":    StatusFailed,
		"abandoned": StatusFailed,
		"ongoing":   StatusPending,
		"":          StatusPending,
	}
	for in, want := range cases {
		if got := paystackStatus(in); got != want {
			t.Errorf("paystackStatus(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestPaystackWebhookSignature(t *testing.T) {
	p := NewPaystack("http://unused", "sk_test", time.Second)
	payload := []byte(`{"event":"charge.success","data":{"reference":"REF-5"}}`)

	mac := hmac.New(sha512.New, []byte("sk_test"))
	mac.Write(payload)
	headers := http.Header{}
	headers.Set("x-paystack-signature", hex.EncodeToString(mac.Sum(nil)))

	ref, err := p.VerifyWebhook(payload, headers)
	if err != nil || ref != "REF-5" {
		t.Fatalf("expected REF-5, got %q (err %v)", ref, err)
	}

	headers.Set("x-paystack-signature", "deadbeef")
	if _, err := p.VerifyWebhook(payload, headers); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}
