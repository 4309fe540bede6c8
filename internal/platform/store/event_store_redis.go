// Package store contains the Redis-backed bounded event history.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/parkkyonghun0510/lc-opd-daily-sub004/pkg/event"
)

// redisClient defines the interface we need from go-redis. This allows
// us to use a fake for testing and to route through the load balancer.
type redisClient interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisEventStore implements event.Store over a single Redis list.
// Events are pushed to the head and the list is trimmed to maxLen, so
// the history is a newest-first bounded cache shared by every process.
type RedisEventStore struct {
	client redisClient
	key    string
	maxLen int64
	logger zerolog.Logger
}

// NewRedisEventStore is the constructor for the RedisEventStore.
func NewRedisEventStore(client redisClient, key string, maxLen int, logger zerolog.Logger) (*RedisEventStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if key == "" {
		return nil, fmt.Errorf("history key cannot be empty")
	}
	if maxLen <= 0 {
		return nil, fmt.Errorf("history cap must be positive, got %d", maxLen)
	}
	return &RedisEventStore{
		client: client,
		key:    key,
		maxLen: int64(maxLen),
		logger: logger.With().Str("component", "RedisEventStore").Logger(),
	}, nil
}

// Append pushes the event to the head of the history list and trims the
// tail past the cap. The two commands are individually atomic in Redis;
// a trim racing another append can only leave the list at most one
// entry over the cap until the next write.
func (s *RedisEventStore) Append(ctx context.Context, ev event.Event) (string, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := s.client.LPush(ctx, s.key, payload).Err(); err != nil {
		s.logger.Error().Err(err).Str("key", s.key).Msg("Failed to lpush event to history.")
		return "", fmt.Errorf("failed to lpush event: %w", err)
	}

	if err := s.client.LTrim(ctx, s.key, 0, s.maxLen-1).Err(); err != nil {
		// The event is stored; only the trim failed. Log and carry on,
		// the next successful append trims again.
		s.logger.Warn().Err(err).Str("key", s.key).Msg("Failed to trim event history.")
	}

	return ev.ID, nil
}

// List returns the stored history newest-first. A zero since returns
// everything; otherwise only events strictly after since are included.
func (s *RedisEventStore) List(ctx context.Context, since time.Time) ([]event.Event, error) {
	payloads, err := s.client.LRange(ctx, s.key, 0, -1).Result()
	if err != nil {
		s.logger.Error().Err(err).Str("key", s.key).Msg("Failed to read event history.")
		return nil, fmt.Errorf("failed to read event history: %w", err)
	}

	events := make([]event.Event, 0, len(payloads))
	for _, payload := range payloads {
		var ev event.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			// Poison entry. Skip it rather than failing the whole read.
			s.logger.Warn().Err(err).Str("key", s.key).Msg("Skipping unreadable entry in event history.")
			continue
		}
		if !since.IsZero() && !ev.Timestamp.After(since) {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// Clear drops the stored history.
func (s *RedisEventStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("failed to clear event history: %w", err)
	}
	return nil
}
