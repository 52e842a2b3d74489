// Package metrics exposes Prometheus collectors for the chat server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesPersisted counts messages accepted by the ingestion pipeline.
	MessagesPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pairchat_messages_persisted_total",
			Help: "Total messages persisted",
		},
	)

	// ReadReceiptsRecorded counts read receipts that actually wrote state.
	// Idempotent no-op reads are not counted.
	ReadReceiptsRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pairchat_read_receipts_recorded_total",
			Help: "Total read receipts recorded",
		},
	)

	// ConnectionsActive tracks currently open WebSocket connections.
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pairchat_connections_active",
			Help: "Currently open WebSocket connections",
		},
	)

	// EventsDropped counts broadcast events dropped because a subscriber's
	// buffer was full.
	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pairchat_events_dropped_total",
			Help: "Broadcast events dropped due to slow consumers",
		},
	)

	// HTTPRequestsTotal counts REST requests by method, path and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pairchat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)
