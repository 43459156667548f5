package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClients keeps publishing and subscribing on separate connections so long-lived
// subscriptions never starve event publishing.
type RedisClients struct {
	Publish   *redis.Client
	Subscribe *redis.Client
}

func NewRedisClients(ctx context.Context, redisURL string) (*RedisClients, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	publishClient := redis.NewClient(opt)
	if err := publishClient.Ping(ctx).Err(); err != nil {
		publishClient.Close()
		return nil, fmt.Errorf("failed to ping Redis (publish): %w", err)
	}

	subOpt := *opt
	subscribeClient := redis.NewClient(&subOpt)
	if err := subscribeClient.Ping(ctx).Err(); err != nil {
		publishClient.Close()
		subscribeClient.Close()
		return nil, fmt.Errorf("failed to ping Redis (subscribe): %w", err)
	}

	return &RedisClients{
		Publish:   publishClient,
		Subscribe: subscribeClient,
	}, nil
}

func (r *RedisClients) Close() {
	r.Publish.Close()
	r.Subscribe.Close()
}
