package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/parkkyonghun0510/lc-opd-daily-sub004/pkg/event"
)

const originAttribute = "origin"

// topicPublisher defines the interface for the underlying
// pubsub.Publisher. This allows us to use a mock for testing.
type topicPublisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
}

// messageReceiver defines the interface for the underlying
// pubsub.Subscriber.
type messageReceiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

// PubSubRelay implements event.Relay over a Google Cloud Pub/Sub topic.
// The origin tag travels as a message attribute rather than inside the
// payload, matching how Pub/Sub metadata is meant to be used.
type PubSubRelay struct {
	topic      topicPublisher
	sub        messageReceiver
	instanceID string
	logger     zerolog.Logger

	stopOnce sync.Once
	cancel   context.CancelFunc
}

// NewPubSubRelay is the constructor for the PubSubRelay. A nil sub puts
// the relay in local-only mode.
func NewPubSubRelay(topic topicPublisher, sub messageReceiver, instanceID string, logger zerolog.Logger) (*PubSubRelay, error) {
	if topic == nil {
		return nil, fmt.Errorf("pubsub topic cannot be nil")
	}
	if instanceID == "" {
		return nil, fmt.Errorf("instance ID cannot be empty")
	}
	return &PubSubRelay{
		topic:      topic,
		sub:        sub,
		instanceID: instanceID,
		logger:     logger.With().Str("component", "PubSubRelay").Str("instance", instanceID).Logger(),
	}, nil
}

// Publish serializes the event and sends it to the relay topic, waiting
// for the server acknowledgement.
func (r *PubSubRelay) Publish(ctx context.Context, ev event.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event for relay: %w", err)
	}

	result := r.topic.Publish(ctx, &pubsub.Message{
		Data:       payload,
		Attributes: map[string]string{originAttribute: r.instanceID},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("failed to publish event to relay topic: %w", err)
	}
	return nil
}

// Start launches the receive loop in a goroutine. Messages carrying our
// own origin attribute are acked and dropped.
func (r *PubSubRelay) Start(ctx context.Context, handler func(event.Event)) error {
	if r.sub == nil {
		r.logger.Warn().Msg("No subscription configured. Relay running in local-only mode.")
		return nil
	}

	recvCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	go func() {
		err := r.sub.Receive(recvCtx, func(_ context.Context, msg *pubsub.Message) {
			msg.Ack()
			if msg.Attributes[originAttribute] == r.instanceID {
				return
			}
			var ev event.Event
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				r.logger.Warn().Err(err).Msg("Skipping unreadable relay message.")
				return
			}
			handler(ev)
		})
		if err != nil && recvCtx.Err() == nil {
			// Receive failed outside of shutdown. The service keeps
			// running with local delivery only.
			r.logger.Error().Err(err).Msg("Relay receive loop failed. Cross-process delivery stopped.")
		}
	}()

	r.logger.Info().Msg("Relay subscription started.")
	return nil
}

// Stop cancels the receive loop.
func (r *PubSubRelay) Stop() {
	r.stopOnce.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
	})
}
