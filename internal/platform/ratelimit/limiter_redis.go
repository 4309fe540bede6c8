// Package ratelimit contains the Redis-backed notification rate limiter.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/parkkyonghun0510/lc-opd-daily-sub004/pkg/event"
)

// redisClient defines the interface we need from go-redis. This allows
// us to use a fake for testing and to route through the load balancer.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// Config holds the fixed-window limits.
type Config struct {
	Window     time.Duration
	MaxPerUser int
	MaxPerType int
}

// DefaultConfig returns the stock window sizing.
func DefaultConfig() Config {
	return Config{
		Window:     60 * time.Second,
		MaxPerUser: 10,
		MaxPerType: 30,
	}
}

// RedisLimiter implements event.Limiter with fixed-window counters in
// the shared store. Counters carry a TTL equal to the window, so expiry
// is the cleanup mechanism and no sweeper is needed.
//
// Policy choices, both deliberate:
//   - fail OPEN: any store error during the checks admits the event.
//     Notification availability wins over strict limiting.
//   - fail closed across the target set: if any targeted user is at its
//     limit the whole call is rejected and no counter is consumed.
type RedisLimiter struct {
	client redisClient
	cfg    Config
	logger zerolog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewRedisLimiter is the constructor for the RedisLimiter.
func NewRedisLimiter(client redisClient, cfg Config, logger zerolog.Logger) (*RedisLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if cfg.Window <= 0 || cfg.MaxPerUser <= 0 || cfg.MaxPerType <= 0 {
		return nil, fmt.Errorf("invalid rate limit config: %+v", cfg)
	}
	return &RedisLimiter{
		client: client,
		cfg:    cfg,
		logger: logger.With().Str("component", "RedisLimiter").Logger(),
		now:    time.Now,
	}, nil
}

// TryAdmit reports whether an event may proceed. High-priority events
// bypass limiting entirely. For everything else the per-user counters
// of every targeted user and the per-type counter are checked before
// any of them is incremented, so a rejection consumes no budget.
func (l *RedisLimiter) TryAdmit(ctx context.Context, eventType string, userIDs []string, priority event.Priority) bool {
	if priority.Normalize() == event.PriorityHigh {
		return true
	}

	windowStart := l.now().UTC().Truncate(l.cfg.Window).Unix()

	keys := make([]string, 0, len(userIDs)+1)
	maxes := make([]int, 0, len(userIDs)+1)
	for _, id := range userIDs {
		keys = append(keys, fmt.Sprintf("ratelimit:user:%s:%d", id, windowStart))
		maxes = append(maxes, l.cfg.MaxPerUser)
	}
	keys = append(keys, fmt.Sprintf("ratelimit:type:%s:%d", eventType, windowStart))
	maxes = append(maxes, l.cfg.MaxPerType)

	// Check every counter before incrementing any of them.
	for i, key := range keys {
		count, err := l.client.Get(ctx, key).Int()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // no traffic this window
			}
			// Fail open: availability over strictness.
			l.logger.Warn().Err(err).Str("key", key).Msg("Rate limit check failed. Admitting event (fail open).")
			return true
		}
		if count >= maxes[i] {
			l.logger.Debug().Str("key", key).Int("count", count).Int("max", maxes[i]).Msg("Rate limit exceeded.")
			return false
		}
	}

	// All checks passed. Consume budget for every counter; errors here
	// never reject the already-admitted event.
	for _, key := range keys {
		if err := l.client.Incr(ctx, key).Err(); err != nil {
			l.logger.Warn().Err(err).Str("key", key).Msg("Failed to increment rate limit counter.")
			continue
		}
		if err := l.client.Expire(ctx, key, l.cfg.Window).Err(); err != nil {
			l.logger.Warn().Err(err).Str("key", key).Msg("Failed to set TTL on rate limit counter.")
		}
	}
	return true
}
