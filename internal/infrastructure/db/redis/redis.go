// Package redis holds the Redis adapters: the Pub/Sub change feed and its
// publisher, and the location ping dedup store.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

const defaultTimeout = 5 * time.Second

// Config captures the settings for establishing a Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int
	// PoolSize bounds command connections. Each Pub/Sub subscription holds
	// its own connection outside the pool.
	PoolSize int
	// ConnectTimeout bounds the whole startup ping loop.
	ConnectTimeout time.Duration
}

// Connect builds a client and pings it until it answers or ConnectTimeout
// (default 15s) elapses, so the service can start alongside its Redis.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	ping := func() error { return client.Ping(ctx).Err() }
	if err := backoff.Retry(ping, backoff.WithContext(bo, ctx)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}
