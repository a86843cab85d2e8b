package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestFlutterwaveInitializeReturnsLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/payments" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"status":"success","message":"Hosted Link","data":{"link":"https://checkout.flutterwave.com/v3/hosted/pay/xyz"}}`))
	}))
	defer srv.Close()

	f := NewFlutterwave(srv.URL, "FLWSECK", "hash", time.Second)
	res, err := f.Initialize(context.Background(), InitializeRequest{Reference: "REF-1", Amount: decimal.NewFromInt(500), Currency: "NGN"})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if res.AuthorizationURL != "https://checkout.flutterwave.com/v3/hosted/pay/xyz" || res.ProviderReference != "REF-1" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestFlutterwaveInitializeRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"error","message":"Invalid currency"}`))
	}))
	defer srv.Close()

	f := NewFlutterwave(srv.URL, "FLWSECK", "hash", time.Second)
	if _, err := f.Initialize(context.Background(), InitializeRequest{Reference: "REF-2"}); !errors.Is(err, ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}
}

func TestFlutterwaveVerifyByReference(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/transactions/verify_by_reference" || r.URL.Query().Get("tx_ref") != "REF-3" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		_, _ = w.Write([]byte(`{"status":"success","message":"Transaction fetched successfully","data":{"id":99,"tx_ref":"REF-3","flw_ref":"FLW-MOCK-1","amount":10750,"currency":"NGN","app_fee":150.5,"status":"successful","payment_type":"card","created_at":"2024-05-01T10:00:00.000Z"}}`))
	}))
	defer srv.Close()

	res, err := NewFlutterwave(srv.URL, "FLWSECK", "hash", time.Second).Verify(context.Background(), "REF-3")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Status != StatusSuccess || res.ProviderReference != "FLW-MOCK-1" || res.Channel != "card" {
		t.Fatalf("unexpected result %+v", res)
	}
	if !res.Amount.Equal(decimal.NewFromInt(10750)) || !res.Fees.Equal(decimal.RequireFromString("150.5")) {
		t.Fatalf("unexpected amounts: amount=%s fees=%s", res.Amount, res.Fees)
	}
}

func TestFlutterwaveWebhookHash(t *testing.T) {
	f := NewFlutterwave("http://unused", "FLWSECK", "s3cret", time.Second)
	payload := []byte(`{"event":"charge.completed","data":{"tx_ref":"REF-4","status":"successful"}}`)

	headers := http.Header{}
	headers.Set("verif-hash", "s3cret")
	if ref, err := f.VerifyWebhook(payload, headers); err != nil || ref != "REF-4" {
		t.Fatalf("expected REF-4, got %q (err %v)", ref, err)
	}

	headers.Set("verif-hash", "wrong")
	if _, err := f.VerifyWebhook(payload, headers); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry(NewPaystack("http://p", "k", time.Second), NewFlutterwave("http://f", "k", "h", time.Second))

	if names := reg.Names(); len(names) != 2 || names[0] != FlutterwaveName || names[1] != PaystackName {
		t.Fatalf("unexpected names %v", names)
	}
	if _, err := reg.Get("stripe"); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}
