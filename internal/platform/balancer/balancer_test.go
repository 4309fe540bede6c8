package balancer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn implements Conn with controllable ping behaviour and an
// in-memory counter store for the routed-client test.
type fakeConn struct {
	mu       sync.Mutex
	pingErr  error
	counters map[string]int64
}

func newFakeConn() *fakeConn {
	return &fakeConn{counters: make(map[string]int64)}
}

func (f *fakeConn) setPingErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingErr = err
}

func (f *fakeConn) Ping(ctx context.Context) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pingErr != nil {
		return redis.NewStatusResult("", f.pingErr)
	}
	return redis.NewStatusResult("PONG", nil)
}

func (f *fakeConn) LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	return redis.NewIntResult(1, nil)
}
func (f *fakeConn) LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd {
	return redis.NewStatusResult("OK", nil)
}
func (f *fakeConn) LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd {
	return redis.NewStringSliceResult(nil, nil)
}
func (f *fakeConn) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	return redis.NewIntResult(0, nil)
}
func (f *fakeConn) Get(ctx context.Context, key string) *redis.StringCmd {
	return redis.NewStringResult("", redis.Nil)
}
func (f *fakeConn) Incr(ctx context.Context, key string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters[key]++
	return redis.NewIntResult(f.counters[key], nil)
}
func (f *fakeConn) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	return redis.NewBoolResult(true, nil)
}
func (f *fakeConn) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	return redis.NewIntResult(0, nil)
}

func testConfig() Config {
	return Config{
		ErrorThreshold: 3,
		CheckInterval:  20 * time.Millisecond,
		OpTimeout:      time.Second,
	}
}

func okOp(ctx context.Context, client Conn) (interface{}, error) { return "ok", nil }

func failOp(ctx context.Context, client Conn) (interface{}, error) {
	return nil, errors.New("boom")
}

func TestExecute_RoutesToHealthyInstance(t *testing.T) {
	ctx := context.Background()
	inst := NewInstance("redis-0", 1, newFakeConn())
	lb, err := New([]*Instance{inst}, testConfig(), zerolog.Nop())
	require.NoError(t, err)

	res := lb.Execute(ctx, okOp)
	assert.True(t, res.Success)
	assert.Equal(t, "ok", res.Data)
	assert.Equal(t, "redis-0", res.InstanceID)
}

func TestExecute_WeightedDistribution(t *testing.T) {
	ctx := context.Background()
	heavy := NewInstance("heavy", 3, newFakeConn())
	light := NewInstance("light", 1, newFakeConn())
	lb, err := New([]*Instance{heavy, light}, testConfig(), zerolog.Nop())
	require.NoError(t, err)

	hits := map[string]int{}
	for i := 0; i < 40; i++ {
		res := lb.Execute(ctx, okOp)
		require.True(t, res.Success)
		hits[res.InstanceID]++
	}
	assert.Equal(t, 30, hits["heavy"], "weight 3 of 4 total")
	assert.Equal(t, 10, hits["light"], "weight 1 of 4 total")
}

func TestExecute_DemotionAfterThreshold(t *testing.T) {
	ctx := context.Background()
	flaky := NewInstance("flaky", 1, newFakeConn())
	steady := NewInstance("steady", 1, newFakeConn())
	lb, err := New([]*Instance{flaky, steady}, testConfig(), zerolog.Nop())
	require.NoError(t, err)

	// Fail enough routed ops on flaky to cross the threshold. Ops
	// alternate between the two instances, so run double the threshold.
	for i := 0; i < 2*testConfig().ErrorThreshold; i++ {
		res := lb.Execute(ctx, func(ctx context.Context, client Conn) (interface{}, error) {
			return nil, errors.New("boom")
		})
		_ = res
		if !flaky.Health().IsHealthy {
			break
		}
	}
	// Both got errors; both may be demoted. Force flaky down and steady
	// back up to assert routing avoids the demoted one.
	flaky.mu.Lock()
	flaky.health = Health{IsHealthy: false, ConsecutiveErrors: 3}
	flaky.mu.Unlock()
	steady.mu.Lock()
	steady.health = Health{IsHealthy: true}
	steady.mu.Unlock()

	for i := 0; i < 10; i++ {
		res := lb.Execute(ctx, okOp)
		require.True(t, res.Success)
		assert.Equal(t, "steady", res.InstanceID, "demoted instance must not be routed to")
	}
}

func TestExecute_AllUnhealthyReturnsFailureResult(t *testing.T) {
	ctx := context.Background()
	inst := NewInstance("redis-0", 1, newFakeConn())
	lb, err := New([]*Instance{inst}, testConfig(), zerolog.Nop())
	require.NoError(t, err)

	for i := 0; i < testConfig().ErrorThreshold; i++ {
		lb.Execute(ctx, failOp)
	}
	require.False(t, inst.Health().IsHealthy)

	res := lb.Execute(ctx, okOp)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrNoHealthyInstances)
}

func TestHealthChecker_PromotesOnSuccessfulPing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	conn := newFakeConn()
	inst := NewInstance("redis-0", 1, conn)
	lb, err := New([]*Instance{inst}, testConfig(), zerolog.Nop())
	require.NoError(t, err)

	// Demote via routed failures.
	for i := 0; i < testConfig().ErrorThreshold; i++ {
		lb.Execute(ctx, failOp)
	}
	require.False(t, inst.Health().IsHealthy)

	lb.Start(ctx)
	t.Cleanup(lb.Stop)

	// The ping succeeds, so the checker promotes the instance and
	// resets the error counter.
	require.Eventually(t, func() bool {
		h := inst.Health()
		return h.IsHealthy && h.ConsecutiveErrors == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHealthChecker_DemotesOnFailedPings(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	conn := newFakeConn()
	conn.setPingErr(errors.New("connection refused"))
	inst := NewInstance("redis-0", 1, conn)
	lb, err := New([]*Instance{inst}, testConfig(), zerolog.Nop())
	require.NoError(t, err)

	lb.Start(ctx)
	t.Cleanup(lb.Stop)

	require.Eventually(t, func() bool {
		return !inst.Health().IsHealthy
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRoutedClient_DelegatesAndDegrades(t *testing.T) {
	ctx := context.Background()
	conn := newFakeConn()
	inst := NewInstance("redis-0", 1, conn)
	lb, err := New([]*Instance{inst}, testConfig(), zerolog.Nop())
	require.NoError(t, err)

	client := NewRoutedClient(lb)

	// Routed Incr reaches the instance.
	n, err := client.Incr(ctx, "counter").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// A key miss is redis.Nil, not an instance fault.
	_, err = client.Get(ctx, "missing").Result()
	assert.ErrorIs(t, err, redis.Nil)
	assert.True(t, inst.Health().IsHealthy)
	assert.Zero(t, inst.Health().ConsecutiveErrors)

	// With every instance demoted the routed command carries the
	// routing error instead of panicking.
	inst.mu.Lock()
	inst.health.IsHealthy = false
	inst.mu.Unlock()
	err = client.LPush(ctx, "list", "v").Err()
	assert.ErrorIs(t, err, ErrNoHealthyInstances)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, testConfig(), zerolog.Nop())
	require.Error(t, err)

	bad := testConfig()
	bad.OpTimeout = 0
	_, err = New([]*Instance{NewInstance("a", 1, newFakeConn())}, bad, zerolog.Nop())
	require.Error(t, err)
}
