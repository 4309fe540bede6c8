// Package realtime manages live WebSocket connections and the
// in-process fan-out of events to them.
package realtime

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/parkkyonghun0510/lc-opd-daily-sub004/pkg/event"
)

// wsConn is the slice of the *websocket.Conn API the connection layer
// writes through. Tests use fakes.
type wsConn interface {
	WriteJSON(v interface{}) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Connection is one live client connection. All writes to the socket go
// through a single writer goroutine draining the send channel, so
// delivery order per connection is the order events were queued.
type Connection struct {
	ID     string
	UserID string
	Roles  []string

	ws     wsConn
	send   chan event.Event
	done   chan struct{}
	logger zerolog.Logger

	closeOnce sync.Once

	mu        sync.Mutex
	lastWrite time.Time
}

// NewConnection wraps an upgraded socket. sendBuffer bounds the send
// queue; a full queue marks the client as a slow consumer.
func NewConnection(id, userID string, roles []string, ws wsConn, sendBuffer int, logger zerolog.Logger) *Connection {
	if sendBuffer < 1 {
		sendBuffer = 1
	}
	return &Connection{
		ID:        id,
		UserID:    userID,
		Roles:     roles,
		ws:        ws,
		send:      make(chan event.Event, sendBuffer),
		done:      make(chan struct{}),
		logger:    logger.With().Str("connection", id).Str("user", userID).Logger(),
		lastWrite: time.Now(),
	}
}

// TrySend queues an event without blocking. It returns false when the
// connection is closed or its send queue is full.
func (c *Connection) TrySend(ev event.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

// Close terminates the connection. Safe to call more than once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if err := c.ws.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Error closing socket.")
		}
	})
}

// Done is closed when the connection has been terminated.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// LastWrite returns the time of the last successful write, data or ping.
func (c *Connection) LastWrite() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastWrite
}

func (c *Connection) touch() {
	c.mu.Lock()
	c.lastWrite = time.Now()
	c.mu.Unlock()
}

// writeLoop is the single writer for the socket. It drains the send
// queue, emits heartbeat pings, and closes the connection on any write
// failure.
func (c *Connection) writeLoop(heartbeat, writeTimeout time.Duration) {
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()
	defer c.Close()

	for {
		select {
		case <-c.done:
			return
		case ev := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteJSON(ev); err != nil {
				c.logger.Warn().Err(err).Str("event_id", ev.ID).Msg("Write failed. Closing connection.")
				return
			}
			c.touch()
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				c.logger.Debug().Err(err).Msg("Heartbeat ping failed. Closing connection.")
				return
			}
			c.touch()
		}
	}
}
