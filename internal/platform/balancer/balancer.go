// Package balancer multiplexes Redis operations across one or more
// backing-store instances, tracking per-instance health and routing
// only to healthy instances via weighted round-robin. Health state is
// process-local: each process judges the instances it talks to on its
// own.
package balancer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrNoHealthyInstances is carried in the Result when every instance is
// demoted or inactive. Execute never panics or throws; callers decide
// the fallback.
var ErrNoHealthyInstances = errors.New("no healthy redis instances available")

// Conn is the slice of the go-redis client API the service routes
// through the balancer. *redis.Client satisfies it; tests use fakes.
type Conn interface {
	Ping(ctx context.Context) *redis.StatusCmd
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Health is a snapshot of an instance's health record.
type Health struct {
	IsHealthy         bool
	ConsecutiveErrors int
	LastCheck         time.Time
}

// Instance is one backing-store handle under the balancer.
type Instance struct {
	ID       string
	Weight   int
	IsActive bool
	Client   Conn

	mu      sync.Mutex
	health  Health
	current int // smooth weighted round-robin state
}

// NewInstance creates an active, healthy instance handle. Weights below
// one are clamped to one.
func NewInstance(id string, weight int, client Conn) *Instance {
	if weight < 1 {
		weight = 1
	}
	return &Instance{
		ID:       id,
		Weight:   weight,
		IsActive: true,
		Client:   client,
		health:   Health{IsHealthy: true},
	}
}

// Health returns a copy of the instance's health record.
func (i *Instance) Health() Health {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.health
}

func (i *Instance) isRoutable() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.IsActive && i.health.IsHealthy
}

// Config holds the balancer tunables.
type Config struct {
	// ErrorThreshold is the consecutive-error count at which an
	// instance is demoted.
	ErrorThreshold int
	// CheckInterval is the period of the background health checks.
	CheckInterval time.Duration
	// OpTimeout bounds every routed operation and health ping so a
	// wedged instance cannot stall callers.
	OpTimeout time.Duration
}

// DefaultConfig returns the stock balancer tuning.
func DefaultConfig() Config {
	return Config{
		ErrorThreshold: 3,
		CheckInterval:  10 * time.Second,
		OpTimeout:      2 * time.Second,
	}
}

// Result is the outcome of a routed operation.
type Result struct {
	Success    bool
	Data       interface{}
	Err        error
	InstanceID string
}

// Operation is a unit of work executed against a selected instance.
type Operation func(ctx context.Context, client Conn) (interface{}, error)

// LoadBalancer routes operations across instances and runs the periodic
// health checker.
type LoadBalancer struct {
	instances []*Instance
	cfg       Config
	logger    zerolog.Logger

	pickMu   sync.Mutex
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a LoadBalancer over the given instances.
func New(instances []*Instance, cfg Config, logger zerolog.Logger) (*LoadBalancer, error) {
	if len(instances) == 0 {
		return nil, fmt.Errorf("at least one instance is required")
	}
	if cfg.ErrorThreshold <= 0 || cfg.CheckInterval <= 0 || cfg.OpTimeout <= 0 {
		return nil, fmt.Errorf("invalid balancer config: %+v", cfg)
	}
	return &LoadBalancer{
		instances: instances,
		cfg:       cfg,
		logger:    logger.With().Str("component", "LoadBalancer").Logger(),
		done:      make(chan struct{}),
	}, nil
}

// Execute routes one operation to a healthy instance under the
// configured timeout. With no healthy instance available it returns a
// failure result rather than an error value or panic.
func (lb *LoadBalancer) Execute(ctx context.Context, op Operation) Result {
	inst := lb.pick()
	if inst == nil {
		return Result{Success: false, Err: ErrNoHealthyInstances}
	}

	opCtx, cancel := context.WithTimeout(ctx, lb.cfg.OpTimeout)
	defer cancel()

	data, err := op(opCtx, inst.Client)
	if err != nil {
		lb.recordError(inst, err)
		return Result{Success: false, Err: err, InstanceID: inst.ID}
	}
	return Result{Success: true, Data: data, InstanceID: inst.ID}
}

// pick selects the next instance by smooth weighted round-robin over
// the routable subset.
func (lb *LoadBalancer) pick() *Instance {
	lb.pickMu.Lock()
	defer lb.pickMu.Unlock()

	var best *Instance
	total := 0
	for _, inst := range lb.instances {
		if !inst.isRoutable() {
			continue
		}
		inst.mu.Lock()
		inst.current += inst.Weight
		total += inst.Weight
		inst.mu.Unlock()
		if best == nil || currentOf(inst) > currentOf(best) {
			best = inst
		}
	}
	if best == nil {
		return nil
	}
	best.mu.Lock()
	best.current -= total
	best.mu.Unlock()
	return best
}

func currentOf(i *Instance) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.current
}

// recordError bumps the consecutive-error count and demotes the
// instance at the threshold. Demotion is one-way here: only a
// successful health check promotes an instance back.
func (lb *LoadBalancer) recordError(inst *Instance, err error) {
	inst.mu.Lock()
	inst.health.ConsecutiveErrors++
	demoted := false
	if inst.health.IsHealthy && inst.health.ConsecutiveErrors >= lb.cfg.ErrorThreshold {
		inst.health.IsHealthy = false
		demoted = true
	}
	errorCount := inst.health.ConsecutiveErrors
	inst.mu.Unlock()

	if demoted {
		lb.logger.Warn().Err(err).Str("instance", inst.ID).Int("consecutive_errors", errorCount).
			Msg("Instance demoted after consecutive errors.")
	}
}

// Start launches the background health checker. It runs on its own
// timer, independent of traffic, and never blocks Execute.
func (lb *LoadBalancer) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(lb.cfg.CheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-lb.done:
				return
			case <-ticker.C:
				lb.checkAll(ctx)
			}
		}
	}()
	lb.logger.Info().Dur("interval", lb.cfg.CheckInterval).Msg("Health checker started.")
}

// Stop terminates the health checker.
func (lb *LoadBalancer) Stop() {
	lb.stopOnce.Do(func() { close(lb.done) })
}

// checkAll pings every active instance once. A successful ping resets
// the consecutive-error counter to zero and re-promotes the instance;
// this is the only promotion path.
func (lb *LoadBalancer) checkAll(ctx context.Context) {
	for _, inst := range lb.instances {
		if !inst.IsActive {
			continue
		}
		pingCtx, cancel := context.WithTimeout(ctx, lb.cfg.OpTimeout)
		err := inst.Client.Ping(pingCtx).Err()
		cancel()

		inst.mu.Lock()
		inst.health.LastCheck = time.Now()
		if err == nil {
			promoted := !inst.health.IsHealthy
			inst.health.IsHealthy = true
			inst.health.ConsecutiveErrors = 0
			inst.mu.Unlock()
			if promoted {
				lb.logger.Info().Str("instance", inst.ID).Msg("Instance promoted after successful health check.")
			}
			continue
		}
		inst.mu.Unlock()
		lb.recordError(inst, err)
	}
}

// Instances exposes the instance handles, for status reporting.
func (lb *LoadBalancer) Instances() []*Instance {
	return lb.instances
}
