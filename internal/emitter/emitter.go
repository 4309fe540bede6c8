// Package emitter implements the emit pipeline: admission control,
// history append, local fan-out, and cross-process relay.
package emitter

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/parkkyonghun0510/lc-opd-daily-sub004/internal/metrics"
	"github.com/parkkyonghun0510/lc-opd-daily-sub004/pkg/event"
)

// Service is the single entry point for publishing events. It
// implements event.Emitter.
type Service struct {
	deps     event.ServiceDependencies
	local    event.LocalDeliverer
	throttle *rate.Limiter
	logger   zerolog.Logger
}

// New creates the emit pipeline. throttle smooths outbound bursts
// before they hit the store and relay; nil disables it.
func New(deps event.ServiceDependencies, local event.LocalDeliverer, throttle *rate.Limiter, logger zerolog.Logger) (*Service, error) {
	if deps.Store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if deps.Relay == nil {
		return nil, errors.New("relay cannot be nil")
	}
	if deps.Limiter == nil {
		return nil, errors.New("limiter cannot be nil")
	}
	if local == nil {
		return nil, errors.New("local deliverer cannot be nil")
	}
	return &Service{
		deps:     deps,
		local:    local,
		throttle: throttle,
		logger:   logger.With().Str("component", "Emitter").Logger(),
	}, nil
}

// Emit admits, records, and delivers one event. Denial by the rate
// limiter returns ErrRateLimited. History append and relay publish are
// best-effort: their failure degrades durability or cross-process
// reach, never local delivery.
func (s *Service) Emit(ctx context.Context, eventType string, data []byte, targets *event.Targets, priority event.Priority) (string, error) {
	priority = priority.Normalize()

	var userIDs []string
	if targets != nil {
		userIDs = targets.UserIDs
	}
	if !s.deps.Limiter.TryAdmit(ctx, eventType, userIDs, priority) {
		metrics.EventsRateLimited.Inc()
		return "", event.ErrRateLimited
	}

	if s.throttle != nil {
		if err := s.throttle.Wait(ctx); err != nil {
			return "", fmt.Errorf("emit cancelled while throttled: %w", err)
		}
	}

	ev := event.New(eventType, data, targets)

	if _, err := s.deps.Store.Append(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("event_id", ev.ID).
			Msg("Failed to append event to history. Continuing with delivery.")
	}

	delivered := s.local.DeliverLocal(ev)

	if err := s.deps.Relay.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("event_id", ev.ID).
			Msg("Relay publish failed. Event delivered locally only.")
	}

	metrics.EventsEmitted.WithLabelValues(eventType).Inc()
	s.logger.Debug().Str("event_id", ev.ID).Str("type", eventType).Int("local_delivered", delivered).
		Msg("Event emitted.")
	return ev.ID, nil
}

// SendEventToUser emits a normal-priority event targeted at one user.
func (s *Service) SendEventToUser(ctx context.Context, userID, eventType string, data []byte) (string, error) {
	return s.Emit(ctx, eventType, data, &event.Targets{UserIDs: []string{userID}}, event.PriorityNormal)
}

// BroadcastEvent emits a normal-priority event to every client.
func (s *Service) BroadcastEvent(ctx context.Context, eventType string, data []byte) (string, error) {
	return s.Emit(ctx, eventType, data, nil, event.PriorityNormal)
}
