package cache

import (
	"context"
	"testing"
	"time"
)

func TestNewRedisClientDisabledWithoutAddr(t *testing.T) {
	client, err := NewRedisClient(context.Background(), "")
	if err != nil || client != nil {
		t.Fatalf("expected nil client without address, got %v (err %v)", client, err)
	}
}

func TestNewRedisClientFailsOnUnreachableServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := NewRedisClient(ctx, "127.0.0.1:1"); err == nil {
		t.Fatal("expected ping to fail")
	}
}

func TestWebhookKeyIsScopedByGateway(t *testing.T) {
	if webhookKey("paystack", "REF-1") == webhookKey("flutterwave", "REF-1") {
		t.Fatal("keys must differ per gateway")
	}
}

func TestNopGuardAlwaysGrants(t *testing.T) {
	var g WebhookGuard = NopWebhookGuard{}
	for i := 0; i < 2; i++ {
		ok, err := g.Acquire(context.Background(), "paystack", "REF-1")
		if err != nil || !ok {
			t.Fatalf("nop guard refused: ok=%v err=%v", ok, err)
		}
	}
}
