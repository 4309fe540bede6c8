// Package api defines the HTTP handlers for the event service, the
// identity middleware, and the JSON response helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/parkkyonghun0510/lc-opd-daily-sub004/pkg/event"
)

const maxEmitBodyBytes = 256 * 1024

// Poller is the read path behind GET /api/events/poll.
type Poller interface {
	Poll(ctx context.Context, userID string, roles []string, since time.Time) ([]event.Event, error)
}

// ConnectionCounter reports live WebSocket connections for /api/status.
type ConnectionCounter interface {
	ConnectionCount() int
}

// API holds the dependencies for the stateless HTTP handlers.
type API struct {
	emitter    event.Emitter
	poller     Poller
	counter    ConnectionCounter
	instanceID string
	logger     zerolog.Logger
}

// NewAPI creates a new, stateless API handler.
func NewAPI(emitter event.Emitter, poller Poller, counter ConnectionCounter, instanceID string, logger zerolog.Logger) *API {
	return &API{
		emitter:    emitter,
		poller:     poller,
		counter:    counter,
		instanceID: instanceID,
		logger:     logger.With().Str("component", "API").Logger(),
	}
}

type emitRequest struct {
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data"`
	Targets  *event.Targets  `json:"targets,omitempty"`
	Priority event.Priority  `json:"priority,omitempty"`
}

// EmitHandler accepts an event for delivery.
func (a *API) EmitHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		a.logger.Warn().Msg("EmitHandler: no identity in context")
		WriteJSONError(w, http.StatusUnauthorized, "missing user identity")
		return
	}
	log := a.logger.With().Str("user", id.UserID).Logger()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEmitBodyBytes))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read request body")
		WriteJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req emitRequest
	if err := json.Unmarshal(body, &req); err != nil {
		log.Warn().Err(err).Msg("Failed to unmarshal emit request")
		WriteJSONError(w, http.StatusBadRequest, "invalid request format")
		return
	}
	if req.Type == "" {
		WriteJSONError(w, http.StatusBadRequest, "event type is required")
		return
	}

	eventID, err := a.emitter.Emit(r.Context(), req.Type, req.Data, req.Targets, req.Priority)
	if err != nil {
		if errors.Is(err, event.ErrRateLimited) {
			log.Debug().Str("type", req.Type).Msg("Emit rejected by rate limiter")
			WriteJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		log.Error().Err(err).Str("type", req.Type).Msg("Failed to emit event")
		WriteJSONError(w, http.StatusInternalServerError, "failed to emit event")
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{"eventId": eventID})
}

// PollHandler serves the HTTP fallback read path. The since query
// parameter is an RFC3339Nano cursor; absent means the full retained
// history.
func (a *API) PollHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		WriteJSONError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			WriteJSONError(w, http.StatusBadRequest, "since must be RFC3339Nano")
			return
		}
		since = parsed
	}

	events, err := a.poller.Poll(r.Context(), id.UserID, id.Roles, since)
	if err != nil {
		a.logger.Error().Err(err).Str("user", id.UserID).Msg("Poll failed")
		WriteJSONError(w, http.StatusInternalServerError, "failed to poll events")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"events":     events,
		"serverTime": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// StatusHandler reports this instance's identity and connection count.
func (a *API) StatusHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"instanceId":  a.instanceID,
		"connections": a.counter.ConnectionCount(),
	})
}
