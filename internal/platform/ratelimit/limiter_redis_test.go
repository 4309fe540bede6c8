package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkkyonghun0510/lc-opd-daily-sub004/pkg/event"
)

// fakeRedis implements the redisClient slice with in-memory counters.
type fakeRedis struct {
	counters map[string]int
	getErr   error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{counters: make(map[string]int)}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	count, ok := f.counters[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(strconv.Itoa(count), nil)
}

func (f *fakeRedis) Incr(ctx context.Context, key string) *redis.IntCmd {
	f.counters[key]++
	return redis.NewIntResult(int64(f.counters[key]), nil)
}

func (f *fakeRedis) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	return redis.NewBoolResult(true, nil)
}

func setup(t *testing.T) (*fakeRedis, *RedisLimiter) {
	t.Helper()
	rdb := newFakeRedis()
	limiter, err := NewRedisLimiter(rdb, DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	// Pin the clock so every admission lands in the same window.
	fixed := time.Date(2026, 3, 14, 9, 0, 30, 0, time.UTC)
	limiter.now = func() time.Time { return fixed }
	return rdb, limiter
}

func TestTryAdmit_PerUserLimit(t *testing.T) {
	ctx := context.Background()
	_, limiter := setup(t)

	for i := 0; i < 10; i++ {
		require.True(t, limiter.TryAdmit(ctx, event.TypeNotification, []string{"u1"}, event.PriorityNormal),
			"emit %d should be admitted", i+1)
	}

	// 11th normal-priority emit for the same user is rejected.
	assert.False(t, limiter.TryAdmit(ctx, event.TypeNotification, []string{"u1"}, event.PriorityNormal))

	// The 11th high-priority emit still succeeds.
	assert.True(t, limiter.TryAdmit(ctx, event.TypeNotification, []string{"u1"}, event.PriorityHigh))
}

func TestTryAdmit_PerTypeLimit(t *testing.T) {
	ctx := context.Background()
	_, limiter := setup(t)

	// Spread over distinct users so only the type counter fills up.
	for i := 0; i < 30; i++ {
		user := "user-" + strconv.Itoa(i)
		require.True(t, limiter.TryAdmit(ctx, event.TypeReportUpdate, []string{user}, event.PriorityLow))
	}
	assert.False(t, limiter.TryAdmit(ctx, event.TypeReportUpdate, []string{"user-fresh"}, event.PriorityLow))

	// Other event types are unaffected.
	assert.True(t, limiter.TryAdmit(ctx, event.TypeDashboardUpdate, []string{"user-fresh"}, event.PriorityLow))
}

func TestTryAdmit_AllOrNothingAcrossTargets(t *testing.T) {
	ctx := context.Background()
	rdb, limiter := setup(t)

	// Exhaust u1's budget.
	for i := 0; i < 10; i++ {
		require.True(t, limiter.TryAdmit(ctx, event.TypeNotification, []string{"u1"}, event.PriorityNormal))
	}

	// A multi-target emit including the exhausted user is rejected
	// entirely, and must not consume u2's budget.
	before := len(rdb.counters)
	assert.False(t, limiter.TryAdmit(ctx, event.TypeNotification, []string{"u1", "u2"}, event.PriorityNormal))
	assert.Equal(t, before, len(rdb.counters), "rejected emit must not create or consume counters")
}

func TestTryAdmit_FailsOpenOnStoreError(t *testing.T) {
	ctx := context.Background()
	rdb, limiter := setup(t)
	rdb.getErr = errors.New("connection refused")

	assert.True(t, limiter.TryAdmit(ctx, event.TypeNotification, []string{"u1"}, event.PriorityNormal),
		"store errors must admit the event")
}

func TestTryAdmit_WindowRollover(t *testing.T) {
	ctx := context.Background()
	_, limiter := setup(t)

	for i := 0; i < 10; i++ {
		require.True(t, limiter.TryAdmit(ctx, event.TypeNotification, []string{"u1"}, event.PriorityNormal))
	}
	require.False(t, limiter.TryAdmit(ctx, event.TypeNotification, []string{"u1"}, event.PriorityNormal))

	// Advance the clock past the window boundary; the new window key has
	// no traffic so the emit is admitted again.
	limiter.now = func() time.Time { return time.Date(2026, 3, 14, 9, 2, 0, 0, time.UTC) }
	assert.True(t, limiter.TryAdmit(ctx, event.TypeNotification, []string{"u1"}, event.PriorityNormal))
}

func TestNewRedisLimiter_Validation(t *testing.T) {
	_, err := NewRedisLimiter(nil, DefaultConfig(), zerolog.Nop())
	require.Error(t, err)

	bad := DefaultConfig()
	bad.MaxPerUser = 0
	_, err = NewRedisLimiter(newFakeRedis(), bad, zerolog.Nop())
	require.Error(t, err)
}
