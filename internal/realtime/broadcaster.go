package realtime

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/parkkyonghun0510/lc-opd-daily-sub004/internal/metrics"
	"github.com/parkkyonghun0510/lc-opd-daily-sub004/pkg/event"
)

// LocalBroadcaster fans events out to the connections registered on
// this process. It implements event.LocalDeliverer.
type LocalBroadcaster struct {
	mu     sync.RWMutex
	conns  map[string]*Connection
	logger zerolog.Logger
}

// NewLocalBroadcaster creates an empty registry.
func NewLocalBroadcaster(logger zerolog.Logger) *LocalBroadcaster {
	return &LocalBroadcaster{
		conns:  make(map[string]*Connection),
		logger: logger.With().Str("component", "LocalBroadcaster").Logger(),
	}
}

// Register adds a connection to the registry.
func (b *LocalBroadcaster) Register(c *Connection) {
	b.mu.Lock()
	b.conns[c.ID] = c
	b.mu.Unlock()
	metrics.OpenConnections.Inc()
}

// Unregister removes a connection. Unknown IDs are a no-op.
func (b *LocalBroadcaster) Unregister(connID string) {
	b.mu.Lock()
	_, ok := b.conns[connID]
	delete(b.conns, connID)
	b.mu.Unlock()
	if ok {
		metrics.OpenConnections.Dec()
	}
}

// ConnectionCount returns the number of registered connections.
func (b *LocalBroadcaster) ConnectionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.conns)
}

// Connections returns a snapshot of the registered connections.
func (b *LocalBroadcaster) Connections() []*Connection {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Connection, 0, len(b.conns))
	for _, c := range b.conns {
		out = append(out, c)
	}
	return out
}

// DeliverLocal queues ev on every matching connection and returns how
// many received it. The matching set is collected under the read lock;
// sends happen outside it so a slow socket never blocks the registry.
// A connection whose send queue is full is closed and dropped rather
// than allowed to stall everyone behind it.
func (b *LocalBroadcaster) DeliverLocal(ev event.Event) int {
	b.mu.RLock()
	matching := make([]*Connection, 0, len(b.conns))
	for _, c := range b.conns {
		if ev.Targets.Matches(c.UserID, c.Roles) {
			matching = append(matching, c)
		}
	}
	b.mu.RUnlock()

	delivered := 0
	for _, c := range matching {
		if c.TrySend(ev) {
			delivered++
			metrics.EventsDelivered.Inc()
			continue
		}
		metrics.EventsDropped.Inc()
		b.logger.Warn().Str("connection", c.ID).Str("user", c.UserID).
			Msg("Send queue full. Dropping slow consumer.")
		c.Close()
		b.Unregister(c.ID)
	}
	return delivered
}
