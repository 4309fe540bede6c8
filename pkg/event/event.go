// Package event contains the public domain models, interfaces, and
// configuration for the event-delivery service. It defines the contract
// for interacting with the service.
package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Well-known event types emitted by the dashboard. Type is an open
// string; callers may define their own discriminators.
const (
	TypeNotification    = "notification"
	TypeDashboardUpdate = "dashboardUpdate"
	TypeReportUpdate    = "report-update"
)

// Priority controls rate-limit admission. High-priority events bypass
// the limiter entirely.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Normalize maps unknown priority values to PriorityNormal.
func (p Priority) Normalize() Priority {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return p
	}
	return PriorityNormal
}

// Targets is the recipient filter attached to an event. A nil or empty
// filter means the event is a broadcast to every connected client.
type Targets struct {
	UserIDs []string `json:"userIds,omitempty"`
	Roles   []string `json:"roles,omitempty"`
}

// IsBroadcast reports whether the filter selects every client.
func (t *Targets) IsBroadcast() bool {
	return t == nil || (len(t.UserIDs) == 0 && len(t.Roles) == 0)
}

// Matches reports whether a client with the given identity should
// receive an event carrying this filter. A client matches if its userID
// is targeted OR it holds any targeted role. This is the single
// matching rule shared by the local broadcaster and the polling gateway.
func (t *Targets) Matches(userID string, roles []string) bool {
	if t.IsBroadcast() {
		return true
	}
	for _, id := range t.UserIDs {
		if id == userID {
			return true
		}
	}
	for _, want := range t.Roles {
		for _, have := range roles {
			if want == have {
				return true
			}
		}
	}
	return false
}

// Event is the unit of delivery. Once stored it is immutable; Data is an
// opaque payload forwarded verbatim.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	Targets   *Targets        `json:"targets,omitempty"`
}

// New builds an Event with a fresh ID and the current UTC time.
func New(eventType string, data json.RawMessage, targets *Targets) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
		Targets:   targets,
	}
}
