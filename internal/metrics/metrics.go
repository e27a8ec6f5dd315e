// Package metrics registers the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Relay metrics
	MessagesAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_appended_total",
			Help: "Total messages appended to session logs",
		},
		[]string{"kind"}, // chat, join, leave, broadcast
	)

	SessionsTornDown = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_sessions_torn_down_total",
			Help: "Total sessions removed by the cleanup scheduler",
		},
	)

	// Push channel metrics
	PushConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_push_connections",
			Help: "Currently registered push sockets",
		},
	)

	DeliveriesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_push_deliveries_dropped_total",
			Help: "Push events that could not be queued",
		},
		[]string{"reason"}, // "queue_closed", "buffer_full"
	)
)
