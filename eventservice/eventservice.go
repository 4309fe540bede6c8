// Package eventservice wires the emit pipeline, the polling gateway,
// and the HTTP API into one runnable service.
package eventservice

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/parkkyonghun0510/lc-opd-daily-sub004/eventservice/config"
	"github.com/parkkyonghun0510/lc-opd-daily-sub004/internal/api"
	"github.com/parkkyonghun0510/lc-opd-daily-sub004/internal/emitter"
	"github.com/parkkyonghun0510/lc-opd-daily-sub004/internal/polling"
	"github.com/parkkyonghun0510/lc-opd-daily-sub004/internal/realtime"
	"github.com/parkkyonghun0510/lc-opd-daily-sub004/pkg/event"
)

// Wrapper owns the API HTTP server and the service components behind
// it. The WebSocket server runs separately in the ConnectionManager.
type Wrapper struct {
	server      *http.Server
	relay       event.Relay
	broadcaster *realtime.LocalBroadcaster
	emitter     event.Emitter
	logger      zerolog.Logger

	httpReadyChan chan struct{}
	ready         atomic.Bool
	addr          atomic.Value // string, set once the listener is up
}

// New creates and wires up the event service using the already
// constructed platform dependencies.
func New(
	cfg *config.AppConfig,
	deps event.ServiceDependencies,
	broadcaster *realtime.LocalBroadcaster,
	connManager *realtime.ConnectionManager,
	authMiddleware func(http.Handler) http.Handler,
	logger zerolog.Logger,
) (*Wrapper, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if broadcaster == nil || connManager == nil {
		return nil, errors.New("broadcaster and connection manager cannot be nil")
	}
	if authMiddleware == nil {
		return nil, errors.New("auth middleware cannot be nil")
	}

	var throttle *rate.Limiter
	if cfg.Throttle.EventsPerSecond > 0 {
		burst := cfg.Throttle.Burst
		if burst < 1 {
			burst = 1
		}
		throttle = rate.NewLimiter(rate.Limit(cfg.Throttle.EventsPerSecond), burst)
	}

	emitterSvc, err := emitter.New(deps, broadcaster, throttle, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create emitter: %w", err)
	}

	gateway, err := polling.NewGateway(deps.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create polling gateway: %w", err)
	}

	w := &Wrapper{
		relay:         deps.Relay,
		broadcaster:   broadcaster,
		emitter:       emitterSvc,
		logger:        logger.With().Str("component", "EventService").Logger(),
		httpReadyChan: make(chan struct{}),
	}

	apiHandler := api.NewAPI(emitterSvc, gateway, connManager, connManager.InstanceID(), logger)

	mux := http.NewServeMux()
	mux.Handle("POST /api/events", authMiddleware(http.HandlerFunc(apiHandler.EmitHandler)))
	mux.Handle("GET /api/events/poll", authMiddleware(http.HandlerFunc(apiHandler.PollHandler)))
	mux.Handle("GET /api/status", http.HandlerFunc(apiHandler.StatusHandler))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /readyz", func(rw http.ResponseWriter, r *http.Request) {
		if !w.ready.Load() {
			rw.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		rw.WriteHeader(http.StatusOK)
	})

	w.server = &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: mux,
	}

	return w, nil
}

// Emitter returns the emit pipeline entry point, for in-process
// producers such as report schedulers.
func (w *Wrapper) Emitter() event.Emitter {
	return w.emitter
}

// Ready is closed once the HTTP listener is active.
func (w *Wrapper) Ready() <-chan struct{} {
	return w.httpReadyChan
}

// Addr returns the listener address once Ready fires.
func (w *Wrapper) Addr() string {
	if v, ok := w.addr.Load().(string); ok {
		return v
	}
	return ""
}

// Start subscribes the relay and runs the API server. It blocks until
// the server stops.
func (w *Wrapper) Start(ctx context.Context) error {
	// The relay handler is the same local fan-out the emitter uses, so
	// remote events reach local connections exactly once.
	if err := w.relay.Start(ctx, func(ev event.Event) {
		w.broadcaster.DeliverLocal(ev)
	}); err != nil {
		return fmt.Errorf("failed to start relay subscription: %w", err)
	}

	ln, err := net.Listen("tcp", w.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", w.server.Addr, err)
	}
	w.addr.Store(ln.Addr().String())
	w.logger.Info().Str("addr", ln.Addr().String()).Msg("HTTP listener is active.")
	w.ready.Store(true)
	close(w.httpReadyChan)

	if err := w.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the relay subscription and the API server.
func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info().Msg("Shutting down service components...")
	w.ready.Store(false)

	w.relay.Stop()

	var finalErr error
	if err := w.server.Shutdown(ctx); err != nil {
		w.logger.Error().Err(err).Msg("HTTP server shutdown failed.")
		finalErr = err
	}

	w.logger.Info().Msg("All components shut down.")
	return finalErr
}
