package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/parkkyonghun0510/lc-opd-daily-sub004/internal/api"
)

// Config holds the connection-lifecycle tunables.
type Config struct {
	// HeartbeatInterval is the ping period per connection.
	HeartbeatInterval time.Duration
	// WriteTimeout bounds every socket write, data and control.
	WriteTimeout time.Duration
	// SendBuffer is the per-connection send-queue depth.
	SendBuffer int
	// IdleMultiplier sets the reaper cutoff: a connection with no
	// successful write for IdleMultiplier heartbeat periods is closed.
	IdleMultiplier int
}

// DefaultConfig returns the stock connection tuning.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		WriteTimeout:      10 * time.Second,
		SendBuffer:        32,
		IdleMultiplier:    3,
	}
}

// ConnectionManager accepts WebSocket connections and manages their
// lifecycle. It runs its own dedicated HTTP server.
type ConnectionManager struct {
	server      *http.Server
	upgrader    websocket.Upgrader
	broadcaster *LocalBroadcaster
	cfg         Config
	logger      zerolog.Logger
	instanceID  string
	done        chan struct{}
}

// NewConnectionManager creates and wires up a new WebSocket connection
// manager listening on port.
func NewConnectionManager(
	port string,
	instanceID string,
	authMiddleware func(http.Handler) http.Handler,
	broadcaster *LocalBroadcaster,
	cfg Config,
	logger zerolog.Logger,
) (*ConnectionManager, error) {
	if broadcaster == nil {
		return nil, errors.New("broadcaster cannot be nil")
	}
	if authMiddleware == nil {
		return nil, errors.New("auth middleware cannot be nil")
	}
	if cfg.HeartbeatInterval <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleMultiplier < 1 {
		return nil, fmt.Errorf("invalid connection config: %+v", cfg)
	}
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	cm := &ConnectionManager{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// TODO: restrict to the dashboard origin once the
				// gateway forwards it.
				return true
			},
		},
		broadcaster: broadcaster,
		cfg:         cfg,
		logger:      logger.With().Str("component", "ConnectionManager").Str("instance", instanceID).Logger(),
		instanceID:  instanceID,
		done:        make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.Handle("/connect", authMiddleware(http.HandlerFunc(cm.connectHandler)))
	cm.server = &http.Server{
		Addr:    ":" + port,
		Handler: mux,
	}

	return cm, nil
}

// Handler exposes the WebSocket mux, for tests and embedding.
func (cm *ConnectionManager) Handler() http.Handler {
	return cm.server.Handler
}

// InstanceID returns this manager's process-unique identifier.
func (cm *ConnectionManager) InstanceID() string {
	return cm.instanceID
}

// ConnectionCount returns the number of live connections.
func (cm *ConnectionManager) ConnectionCount() int {
	return cm.broadcaster.ConnectionCount()
}

// Start runs the idle reaper and the HTTP server for WebSocket
// connections. It blocks until the server stops.
func (cm *ConnectionManager) Start(ctx context.Context) error {
	go cm.reapIdle(ctx)

	cm.logger.Info().Str("addr", cm.server.Addr).Msg("WebSocket server starting...")
	if err := cm.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("websocket server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server and closes every live
// connection.
func (cm *ConnectionManager) Shutdown(ctx context.Context) error {
	cm.logger.Info().Msg("Shutting down WebSocket service...")
	close(cm.done)

	var finalErr error
	if err := cm.server.Shutdown(ctx); err != nil {
		cm.logger.Error().Err(err).Msg("WebSocket server shutdown failed.")
		finalErr = err
	}

	for _, c := range cm.broadcaster.Connections() {
		c.Close()
	}

	cm.logger.Info().Msg("WebSocket service shut down.")
	return finalErr
}

// connectHandler upgrades a new HTTP request to a WebSocket and manages
// its lifecycle.
func (cm *ConnectionManager) connectHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := api.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		cm.logger.Error().Err(err).Msg("Failed to upgrade connection.")
		return
	}

	conn := NewConnection(uuid.NewString(), id.UserID, id.Roles, ws, cm.cfg.SendBuffer, cm.logger)
	cm.broadcaster.Register(conn)
	defer func() {
		cm.broadcaster.Unregister(conn.ID)
		conn.Close()
	}()

	go conn.writeLoop(cm.cfg.HeartbeatInterval, cm.cfg.WriteTimeout)

	cm.logger.Info().Str("user", id.UserID).Str("connection", conn.ID).Msg("User connected via WebSocket.")

	// Read loop to detect client disconnect. Inbound payloads are not
	// part of the protocol and are discarded.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}

	cm.logger.Info().Str("user", id.UserID).Str("connection", conn.ID).Msg("User disconnected.")
}

// reapIdle periodically closes connections with no successful write for
// IdleMultiplier heartbeat periods. The writer's own ping failures
// close most dead connections; the reaper catches sockets that wedge
// without erroring.
func (cm *ConnectionManager) reapIdle(ctx context.Context) {
	ticker := time.NewTicker(cm.cfg.HeartbeatInterval)
	defer ticker.Stop()

	cutoff := time.Duration(cm.cfg.IdleMultiplier) * cm.cfg.HeartbeatInterval
	for {
		select {
		case <-ctx.Done():
			return
		case <-cm.done:
			return
		case <-ticker.C:
			for _, c := range cm.broadcaster.Connections() {
				if time.Since(c.LastWrite()) > cutoff {
					cm.logger.Warn().Str("connection", c.ID).Str("user", c.UserID).
						Msg("Connection idle past cutoff. Reaping.")
					c.Close()
					cm.broadcaster.Unregister(c.ID)
				}
			}
		}
	}
}
