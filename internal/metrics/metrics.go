// Package metrics provides Prometheus instrumentation for the event
// service, exposed on /metrics of the API server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OpenConnections tracks live WebSocket connections on this instance.
	OpenConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "eventservice",
			Subsystem: "realtime",
			Name:      "open_connections",
			Help:      "Current number of open WebSocket connections",
		},
	)

	// EventsDelivered counts events written to a connection's send queue.
	EventsDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "eventservice",
			Subsystem: "realtime",
			Name:      "events_delivered_total",
			Help:      "Total events handed to connection send queues",
		},
	)

	// EventsDropped counts connections closed for falling behind.
	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "eventservice",
			Subsystem: "realtime",
			Name:      "slow_consumers_dropped_total",
			Help:      "Total connections closed because their send queue was full",
		},
	)

	// EventsEmitted counts events accepted by the emit pipeline, by type.
	EventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eventservice",
			Subsystem: "emitter",
			Name:      "events_emitted_total",
			Help:      "Total events accepted by the emit pipeline",
		},
		[]string{"type"},
	)

	// EventsRateLimited counts emits rejected by the rate limiter.
	EventsRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "eventservice",
			Subsystem: "emitter",
			Name:      "events_rate_limited_total",
			Help:      "Total emits rejected by the rate limiter",
		},
	)
)
