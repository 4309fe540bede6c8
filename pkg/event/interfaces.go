package event

import (
	"context"
	"errors"
	"time"
)

// ErrRateLimited is returned by Emit when the rate limiter rejects a
// normal- or low-priority event.
var ErrRateLimited = errors.New("event rejected by rate limiter")

// Store is the durable, bounded log of recent events in the shared
// backing store. It is a recent-history cache, not a permanent log:
// insertion past the configured cap trims the oldest entries.
type Store interface {
	// Append pushes an event to the head of the bounded history and
	// returns its ID.
	Append(ctx context.Context, ev Event) (string, error)

	// List returns the bounded history newest-first. A zero since value
	// returns the full history; otherwise only events with timestamps
	// strictly after since are returned.
	List(ctx context.Context, since time.Time) ([]Event, error)

	// Clear drops the stored history.
	Clear(ctx context.Context) error
}

// Relay publishes every emitted event to a shared channel so sibling
// processes deliver it to their local connections. Received events that
// originated from this process are never re-delivered.
type Relay interface {
	Publish(ctx context.Context, ev Event) error

	// Start begins the subscription loop, invoking handler for every
	// event published by a different process instance.
	Start(ctx context.Context, handler func(Event)) error

	Stop()
}

// Limiter admits or rejects an event before it reaches the store and
// broadcast paths. Implementations fail open: a backing-store error
// admits the event.
type Limiter interface {
	TryAdmit(ctx context.Context, eventType string, userIDs []string, priority Priority) bool
}

// LocalDeliverer pushes an event to the subset of connections owned by
// this process that match the event's target filter, returning the
// number of connections reached.
type LocalDeliverer interface {
	DeliverLocal(ev Event) int
}

// Emitter is the single entry point application code uses to trigger a
// notification or update.
type Emitter interface {
	Emit(ctx context.Context, eventType string, data []byte, targets *Targets, priority Priority) (string, error)
	SendEventToUser(ctx context.Context, userID, eventType string, data []byte) (string, error)
	BroadcastEvent(ctx context.Context, eventType string, data []byte) (string, error)
}

// ServiceDependencies holds the external services the event service
// needs to operate. This struct is used for dependency injection.
type ServiceDependencies struct {
	Store   Store
	Relay   Relay
	Limiter Limiter
}
