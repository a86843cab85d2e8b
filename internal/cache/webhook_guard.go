// Package cache holds the Redis-backed guard against duplicate webhook deliveries.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// WebhookGuard claims a provider+reference pair for a short window so concurrent
// duplicate deliveries do not all hit the provider's verify endpoint.
// Correctness never depends on it: payment completion is conditional in the database.
type WebhookGuard interface {
	Acquire(ctx context.Context, gateway, reference string) (bool, error)
	Release(ctx context.Context, gateway, reference string) error
}

type redisWebhookGuard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisWebhookGuard(client *redis.Client, ttl time.Duration) WebhookGuard {
	return &redisWebhookGuard{client: client, ttl: ttl}
}

// NewRedisClient connects and pings. An empty addr yields nil, nil.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	if addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func webhookKey(gateway, reference string) string {
	return "billing:webhook:" + gateway + ":" + reference
}

func (g *redisWebhookGuard) Acquire(ctx context.Context, gateway, reference string) (bool, error) {
	return g.client.SetNX(ctx, webhookKey(gateway, reference), 1, g.ttl).Result()
}

// Release drops the claim so a failed delivery can be retried by the provider.
func (g *redisWebhookGuard) Release(ctx context.Context, gateway, reference string) error {
	return g.client.Del(ctx, webhookKey(gateway, reference)).Err()
}

// NopWebhookGuard always grants the claim; used when REDIS_ADDR is unset.
type NopWebhookGuard struct{}

func (NopWebhookGuard) Acquire(context.Context, string, string) (bool, error) { return true, nil }
func (NopWebhookGuard) Release(context.Context, string, string) error         { return nil }
