// Package ratelimit counts requests in fixed windows stored in redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nkiryanov/mycontacts/internal/apperrors"
)

const (
	defaultLimit     = 10
	defaultWindow    = time.Minute
	defaultKeyPrefix = "rl:"
)

type Config struct {
	// Requests allowed per window for every key
	Limit  int
	Window time.Duration

	// Prefix for redis keys, 'rl:' if not set
	KeyPrefix string
}

type Limiter struct {
	redis  redis.UniversalClient
	limit  int64
	window time.Duration
	prefix string
}

func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Limit <= 0 {
		cfg.Limit = defaultLimit
	}
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}

	return &Limiter{
		redis:  redisClient,
		limit:  int64(cfg.Limit),
		window: cfg.Window,
		prefix: cfg.KeyPrefix,
	}
}

// Count request for the key
// Return apperrors.ErrRateLimited when key exceeded its budget in current window.
// Any other error means redis is not available
func (l *Limiter) Allow(ctx context.Context, key string) error {
	key = l.prefix + key

	// Counter is created with its ttl in the same transaction, so a key can't outlive the window
	var incr *redis.IntCmd
	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, key, 0, l.window)
		incr = pipe.Incr(ctx, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("rate limiter unavailable: %w", err)
	}

	if incr.Val() > l.limit {
		return apperrors.ErrRateLimited
	}

	return nil
}
