package balancer

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RoutedClient adapts the balancer back to the Conn command surface, so
// the event store and rate limiter route every call through Execute
// without knowing the balancer exists.
type RoutedClient struct {
	lb *LoadBalancer
}

// NewRoutedClient wraps a LoadBalancer in the Conn interface.
func NewRoutedClient(lb *LoadBalancer) *RoutedClient {
	return &RoutedClient{lb: lb}
}

// route runs op and hands back the command it produced, or a synthetic
// command carrying the routing error when no instance could serve it.
func routed[C redis.Cmder](c *RoutedClient, ctx context.Context, fresh func() C, op Operation) C {
	res := c.lb.Execute(ctx, op)
	if cmd, ok := res.Data.(C); ok {
		return cmd
	}
	cmd := fresh()
	cmd.SetErr(res.Err)
	return cmd
}

func (c *RoutedClient) Ping(ctx context.Context) *redis.StatusCmd {
	return routed(c, ctx, func() *redis.StatusCmd { return redis.NewStatusCmd(ctx) },
		func(ctx context.Context, client Conn) (interface{}, error) {
			cmd := client.Ping(ctx)
			return cmd, cmd.Err()
		})
}

func (c *RoutedClient) LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	return routed(c, ctx, func() *redis.IntCmd { return redis.NewIntCmd(ctx) },
		func(ctx context.Context, client Conn) (interface{}, error) {
			cmd := client.LPush(ctx, key, values...)
			return cmd, cmd.Err()
		})
}

func (c *RoutedClient) LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd {
	return routed(c, ctx, func() *redis.StatusCmd { return redis.NewStatusCmd(ctx) },
		func(ctx context.Context, client Conn) (interface{}, error) {
			cmd := client.LTrim(ctx, key, start, stop)
			return cmd, cmd.Err()
		})
}

func (c *RoutedClient) LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd {
	return routed(c, ctx, func() *redis.StringSliceCmd { return redis.NewStringSliceCmd(ctx) },
		func(ctx context.Context, client Conn) (interface{}, error) {
			cmd := client.LRange(ctx, key, start, stop)
			return cmd, cmd.Err()
		})
}

func (c *RoutedClient) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	return routed(c, ctx, func() *redis.IntCmd { return redis.NewIntCmd(ctx) },
		func(ctx context.Context, client Conn) (interface{}, error) {
			cmd := client.Del(ctx, keys...)
			return cmd, cmd.Err()
		})
}

func (c *RoutedClient) Get(ctx context.Context, key string) *redis.StringCmd {
	return routed(c, ctx, func() *redis.StringCmd { return redis.NewStringCmd(ctx) },
		func(ctx context.Context, client Conn) (interface{}, error) {
			cmd := client.Get(ctx, key)
			if err := cmd.Err(); err != nil && err != redis.Nil {
				// A key miss is an answer, not an instance fault.
				return cmd, err
			}
			return cmd, nil
		})
}

func (c *RoutedClient) Incr(ctx context.Context, key string) *redis.IntCmd {
	return routed(c, ctx, func() *redis.IntCmd { return redis.NewIntCmd(ctx) },
		func(ctx context.Context, client Conn) (interface{}, error) {
			cmd := client.Incr(ctx, key)
			return cmd, cmd.Err()
		})
}

func (c *RoutedClient) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	return routed(c, ctx, func() *redis.BoolCmd { return redis.NewBoolCmd(ctx) },
		func(ctx context.Context, client Conn) (interface{}, error) {
			cmd := client.Expire(ctx, key, expiration)
			return cmd, cmd.Err()
		})
}

func (c *RoutedClient) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	return routed(c, ctx, func() *redis.IntCmd { return redis.NewIntCmd(ctx) },
		func(ctx context.Context, client Conn) (interface{}, error) {
			cmd := client.Publish(ctx, channel, message)
			return cmd, cmd.Err()
		})
}
