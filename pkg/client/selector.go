// Package client provides a Go client for the event service that
// prefers the WebSocket push transport and degrades to HTTP polling
// when push cannot be sustained.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/parkkyonghun0510/lc-opd-daily-sub004/pkg/event"
)

// Status is the selector's externally visible connection state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// Transport identifies the active delivery mechanism.
type Transport string

const (
	TransportNone    Transport = "none"
	TransportPush    Transport = "push"
	TransportPolling Transport = "polling"
)

// mode is the selection policy currently in force.
type mode string

const (
	modeAuto      mode = "auto"
	modeForcePush mode = "push"
	modeForcePoll mode = "polling"
)

// Config holds the selector tunables. Zero values get defaults.
type Config struct {
	// PushURL is the WebSocket endpoint, e.g. ws://host:8081/connect.
	PushURL string
	// PollURL is the polling endpoint, e.g. http://host:8080/api/events/poll.
	PollURL string

	UserID string
	Roles  []string

	// MaxPushFailures is the consecutive dial/read failure count after
	// which auto mode falls back to polling. Default 3.
	MaxPushFailures int
	// BackoffBase is the first push retry delay; it doubles per failure
	// up to BackoffCap. Defaults 500ms and 30s.
	BackoffBase time.Duration
	BackoffCap  time.Duration
	// PollInterval is the polling cadence. Default 3s.
	PollInterval time.Duration
	// ErrorAfterPolls is the consecutive poll failure count that flips
	// the status to error. Polling continues regardless. Default 3.
	ErrorAfterPolls int
	// AutoPromote re-attempts push every PromoteInterval while polling.
	// Off by default; promotion is otherwise manual via ForcePush or
	// AutoMode.
	AutoPromote     bool
	PromoteInterval time.Duration

	// OnEvent receives every delivered event, oldest first.
	OnEvent func(event.Event)
	// OnStatusChange fires on every status or transport transition.
	OnStatusChange func(Status, Transport)

	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Logger     zerolog.Logger
}

func (c *Config) applyDefaults() {
	if c.MaxPushFailures <= 0 {
		c.MaxPushFailures = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 3 * time.Second
	}
	if c.ErrorAfterPolls <= 0 {
		c.ErrorAfterPolls = 3
	}
	if c.PromoteInterval <= 0 {
		c.PromoteInterval = time.Minute
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
}

// BackendSelector drives the push-or-poll decision. Exactly one
// transport loop runs at a time; switching cancels the old loop's
// context before the new one starts.
type BackendSelector struct {
	cfg Config

	mu           sync.Mutex
	status       Status
	transport    Transport
	mode         mode
	pushFailures int
	pollFailures int
	cursor       time.Time
	cancelLoop   context.CancelFunc
	rootCtx      context.Context
	rootCancel   context.CancelFunc
	started      bool

	wg     sync.WaitGroup
	logger zerolog.Logger
}

// New creates a selector. Connect starts it.
func New(cfg Config) (*BackendSelector, error) {
	if cfg.PushURL == "" || cfg.PollURL == "" {
		return nil, errors.New("push and poll URLs are required")
	}
	if cfg.UserID == "" {
		return nil, errors.New("user ID is required")
	}
	cfg.applyDefaults()
	return &BackendSelector{
		cfg:       cfg,
		status:    StatusDisconnected,
		transport: TransportNone,
		mode:      modeAuto,
		logger:    cfg.Logger.With().Str("component", "BackendSelector").Logger(),
	}, nil
}

// Status returns the current state and active transport.
func (s *BackendSelector) Status() (Status, Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.transport
}

// Connect starts the selector in auto mode: push first, polling after
// MaxPushFailures consecutive push failures.
func (s *BackendSelector) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("selector already connected")
	}
	s.started = true
	s.rootCtx, s.rootCancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.startLoop(TransportPush)
	return nil
}

// Disconnect tears down the active transport and all timers.
func (s *BackendSelector) Disconnect() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	if s.rootCancel != nil {
		s.rootCancel()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.setState(StatusDisconnected, TransportNone)
}

// ForcePush pins the selector to the push transport and resets the
// failure counters.
func (s *BackendSelector) ForcePush() {
	s.resetTo(modeForcePush, TransportPush)
}

// ForcePolling pins the selector to the polling transport.
func (s *BackendSelector) ForcePolling() {
	s.resetTo(modeForcePoll, TransportPolling)
}

// AutoMode restores automatic selection, starting from push.
func (s *BackendSelector) AutoMode() {
	s.resetTo(modeAuto, TransportPush)
}

func (s *BackendSelector) resetTo(m mode, tr Transport) {
	s.mu.Lock()
	s.mode = m
	s.pushFailures = 0
	s.pollFailures = 0
	started := s.started
	s.mu.Unlock()
	if started {
		s.startLoop(tr)
	}
}

// startLoop replaces the running transport loop with the given one.
func (s *BackendSelector) startLoop(tr Transport) {
	s.mu.Lock()
	if s.cancelLoop != nil {
		s.cancelLoop()
	}
	loopCtx, cancel := context.WithCancel(s.rootCtx)
	s.cancelLoop = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		switch tr {
		case TransportPush:
			s.runPush(loopCtx)
		case TransportPolling:
			s.runPolling(loopCtx)
		}
	}()
}

func (s *BackendSelector) setState(st Status, tr Transport) {
	s.mu.Lock()
	changed := s.status != st || s.transport != tr
	s.status = st
	s.transport = tr
	cb := s.cfg.OnStatusChange
	s.mu.Unlock()
	if changed && cb != nil {
		cb(st, tr)
	}
}

// advanceCursor records the newest event timestamp seen, the since
// value for any subsequent poll.
func (s *BackendSelector) advanceCursor(ts time.Time) {
	s.mu.Lock()
	if ts.After(s.cursor) {
		s.cursor = ts
	}
	s.mu.Unlock()
}

// runPush dials and reads the WebSocket until the loop is cancelled. A
// dial or read failure counts toward the fallback threshold; retries
// back off exponentially.
func (s *BackendSelector) runPush(ctx context.Context) {
	backoff := s.cfg.BackoffBase

	for {
		if ctx.Err() != nil {
			return
		}
		s.setState(StatusConnecting, TransportPush)

		err := s.pushSession(ctx)
		if ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		s.pushFailures++
		failures := s.pushFailures
		m := s.mode
		s.mu.Unlock()
		s.logger.Debug().Err(err).Int("failures", failures).Msg("Push attempt ended.")

		if m == modeAuto && failures >= s.cfg.MaxPushFailures {
			s.logger.Info().Int("failures", failures).Msg("Falling back to polling.")
			s.startLoop(TransportPolling)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.cfg.BackoffCap {
			backoff = s.cfg.BackoffCap
		}
	}
}

// pushSession runs one dial-and-read cycle. A healthy session resets
// the failure counter.
func (s *BackendSelector) pushSession(ctx context.Context) error {
	header := http.Header{}
	header.Set("X-User-ID", s.cfg.UserID)
	if len(s.cfg.Roles) > 0 {
		header.Set("X-User-Roles", strings.Join(s.cfg.Roles, ","))
	}

	conn, resp, err := s.cfg.Dialer.DialContext(ctx, s.cfg.PushURL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("push dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()

	// Unblock the read loop when the selector is cancelled or switched.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	s.mu.Lock()
	s.pushFailures = 0
	s.mu.Unlock()
	s.setState(StatusConnected, TransportPush)

	for {
		var ev event.Event
		if err := conn.ReadJSON(&ev); err != nil {
			return fmt.Errorf("push read failed: %w", err)
		}
		s.advanceCursor(ev.Timestamp)
		if s.cfg.OnEvent != nil {
			s.cfg.OnEvent(ev)
		}
	}
}

// runPolling polls the HTTP endpoint until cancelled. Repeated failures
// mark the status as error but never stop the loop; with AutoPromote a
// timer periodically hands control back to push.
func (s *BackendSelector) runPolling(ctx context.Context) {
	s.setState(StatusConnecting, TransportPolling)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	var promote <-chan time.Time
	if s.cfg.AutoPromote {
		pt := time.NewTicker(s.cfg.PromoteInterval)
		defer pt.Stop()
		promote = pt.C
	}

	// Immediate first poll so fallback does not wait a full interval.
	s.pollOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-promote:
			s.mu.Lock()
			s.pushFailures = 0
			s.mu.Unlock()
			s.logger.Info().Msg("Attempting promotion back to push.")
			s.startLoop(TransportPush)
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

func (s *BackendSelector) pollOnce(ctx context.Context) {
	s.mu.Lock()
	cursor := s.cursor
	s.mu.Unlock()

	url := s.cfg.PollURL
	if !cursor.IsZero() {
		url += "?since=" + cursor.UTC().Format(time.RFC3339Nano)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		s.recordPollResult(fmt.Errorf("failed to build poll request: %w", err))
		return
	}
	req.Header.Set("X-User-ID", s.cfg.UserID)
	if len(s.cfg.Roles) > 0 {
		req.Header.Set("X-User-Roles", strings.Join(s.cfg.Roles, ","))
	}

	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		s.recordPollResult(fmt.Errorf("poll request failed: %w", err))
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		s.recordPollResult(fmt.Errorf("poll returned status %d", resp.StatusCode))
		return
	}

	var body struct {
		Events []event.Event `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		s.recordPollResult(fmt.Errorf("failed to decode poll response: %w", err))
		return
	}
	s.recordPollResult(nil)

	// The server returns newest first; deliver oldest first.
	for i := len(body.Events) - 1; i >= 0; i-- {
		ev := body.Events[i]
		s.advanceCursor(ev.Timestamp)
		if s.cfg.OnEvent != nil {
			s.cfg.OnEvent(ev)
		}
	}
}

func (s *BackendSelector) recordPollResult(err error) {
	if err == nil {
		s.mu.Lock()
		s.pollFailures = 0
		s.mu.Unlock()
		s.setState(StatusConnected, TransportPolling)
		return
	}

	s.mu.Lock()
	s.pollFailures++
	failures := s.pollFailures
	s.mu.Unlock()
	s.logger.Warn().Err(err).Int("failures", failures).Msg("Poll failed.")

	if failures >= s.cfg.ErrorAfterPolls {
		s.setState(StatusError, TransportPolling)
	}
}
