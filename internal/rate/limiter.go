package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds rate limiter tuning parameters.
type Config struct {
	Enabled     bool
	MaxFailures int
	Cooldown    time.Duration
}

// Limiter throttles clients that keep presenting rejected nonces, using
// Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// CheckVerify reports ErrRateLimited when client has exhausted its failure
// budget for the current window. An empty client is never throttled.
func (l *Limiter) CheckVerify(ctx context.Context, client string) error {
	if l == nil || !l.config.Enabled || client == "" {
		return nil
	}
	return l.checkCounter(ctx, verifyKey(client), l.config.MaxFailures)
}

// IncrementVerify records a rejected verification for client.
func (l *Limiter) IncrementVerify(ctx context.Context, client string) error {
	if l == nil || !l.config.Enabled || client == "" {
		return nil
	}

	count, err := l.incrementWithTTL(ctx, verifyKey(client), l.config.Cooldown)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxFailures) {
		return ErrRateLimited
	}
	return nil
}

// ResetVerify clears the failure counter for client.
func (l *Limiter) ResetVerify(ctx context.Context, client string) error {
	if l == nil || !l.config.Enabled || client == "" {
		return nil
	}
	if err := l.redis.Del(ctx, verifyKey(client)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Failures returns the current failure counter for client.
func (l *Limiter) Failures(ctx context.Context, client string) (int, error) {
	count, err := l.redis.Get(ctx, verifyKey(client)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) checkCounter(ctx context.Context, key string, maxAttempts int) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count >= int64(maxAttempts) {
		return ErrRateLimited
	}

	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}

func verifyKey(client string) string {
	return "nv:" + client
}
