// Package polling serves the HTTP fallback read path for clients that
// cannot hold a WebSocket open.
package polling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/parkkyonghun0510/lc-opd-daily-sub004/pkg/event"
)

// Gateway filters the shared event history down to what one caller is
// allowed to see.
type Gateway struct {
	store  event.Store
	logger zerolog.Logger
}

// NewGateway creates a polling gateway over the shared history.
func NewGateway(store event.Store, logger zerolog.Logger) (*Gateway, error) {
	if store == nil {
		return nil, errors.New("store cannot be nil")
	}
	return &Gateway{
		store:  store,
		logger: logger.With().Str("component", "PollingGateway").Logger(),
	}, nil
}

// Poll returns the events after since that target the given identity,
// newest first. A zero since returns the full retained history. The
// read is pure; polling the same cursor twice returns the same slice.
func (g *Gateway) Poll(ctx context.Context, userID string, roles []string, since time.Time) ([]event.Event, error) {
	events, err := g.store.List(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	visible := make([]event.Event, 0, len(events))
	for _, ev := range events {
		if ev.Targets.Matches(userID, roles) {
			visible = append(visible, ev)
		}
	}
	return visible, nil
}
