// Package relay contains the cross-process event relay adapters. Every
// emitted event is published once to a shared channel; sibling processes
// deliver it to their own local connections. Envelopes are tagged with
// the publishing instance ID so a process never re-delivers its own
// events (no echo loops).
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/parkkyonghun0510/lc-opd-daily-sub004/pkg/event"
)

// wireEnvelope is what travels over the shared channel. The origin tag
// lives here, outside the event itself, so stored events stay clean.
type wireEnvelope struct {
	Origin string      `json:"origin"`
	Event  event.Event `json:"event"`
}

// publisher defines the interface we need from go-redis for the send
// side. This allows us to use a fake for testing.
type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// subscription is the receive side of a redis PubSub. *redis.PubSub
// satisfies it.
type subscription interface {
	Channel(opts ...redis.ChannelOption) <-chan *redis.Message
	Close() error
}

// RedisRelay implements event.Relay over a Redis pub/sub channel.
type RedisRelay struct {
	pub        publisher
	sub        subscription
	channel    string
	instanceID string
	logger     zerolog.Logger

	stopOnce sync.Once
	done     chan struct{}
}

// NewRedisRelay is the constructor for the RedisRelay. A nil sub puts
// the relay in local-only mode: Publish still works best-effort but no
// remote events are received.
func NewRedisRelay(pub publisher, sub subscription, channel, instanceID string, logger zerolog.Logger) (*RedisRelay, error) {
	if pub == nil {
		return nil, fmt.Errorf("redis publisher cannot be nil")
	}
	if channel == "" {
		return nil, fmt.Errorf("relay channel cannot be empty")
	}
	if instanceID == "" {
		return nil, fmt.Errorf("instance ID cannot be empty")
	}
	return &RedisRelay{
		pub:        pub,
		sub:        sub,
		channel:    channel,
		instanceID: instanceID,
		logger:     logger.With().Str("component", "RedisRelay").Str("instance", instanceID).Logger(),
		done:       make(chan struct{}),
	}, nil
}

// Publish sends the origin-tagged envelope to the shared channel.
func (r *RedisRelay) Publish(ctx context.Context, ev event.Event) error {
	payload, err := json.Marshal(wireEnvelope{Origin: r.instanceID, Event: ev})
	if err != nil {
		return fmt.Errorf("failed to marshal relay envelope: %w", err)
	}
	if err := r.pub.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to relay channel: %w", err)
	}
	return nil
}

// Start launches the subscription loop. Events published by this same
// instance are skipped; everything else is handed to handler in arrival
// order. The loop ends on Stop, ctx cancellation, or channel closure.
func (r *RedisRelay) Start(ctx context.Context, handler func(event.Event)) error {
	if r.sub == nil {
		r.logger.Warn().Msg("No subscription configured. Relay running in local-only mode.")
		return nil
	}

	msgs := r.sub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.done:
				return
			case msg, ok := <-msgs:
				if !ok {
					r.logger.Warn().Msg("Relay subscription channel closed. Cross-process delivery stopped.")
					return
				}
				var env wireEnvelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					r.logger.Warn().Err(err).Msg("Skipping unreadable relay envelope.")
					continue
				}
				if env.Origin == r.instanceID {
					// Our own publish; already delivered locally.
					continue
				}
				handler(env.Event)
			}
		}
	}()

	r.logger.Info().Str("channel", r.channel).Msg("Relay subscription started.")
	return nil
}

// Stop terminates the subscription loop and closes the subscription.
func (r *RedisRelay) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		if r.sub != nil {
			if err := r.sub.Close(); err != nil {
				r.logger.Warn().Err(err).Msg("Error closing relay subscription.")
			}
		}
	})
}
