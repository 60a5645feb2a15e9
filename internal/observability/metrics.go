package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EscrowOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_escrow", Name: "operations_total", Help: "Escrow operations by result"},
		[]string{"op", "result"},
	)
	EscrowOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "ride_escrow", Name: "operation_duration_seconds", Help: "Escrow operation latency seconds", Buckets: prometheus.DefBuckets},
		[]string{"op"},
	)
	EscrowPayouts = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_escrow", Name: "payouts_micro_units_total", Help: "Micro-units paid out of escrow"},
		[]string{"op"},
	)
	EscrowHeld    = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_escrow", Name: "held_micro_units", Help: "Micro-units currently held for open rides"})
	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_escrow", Name: "ws_connections", Help: "Number of connected websocket sessions"})
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_escrow", Name: "events_dropped_total", Help: "Events that failed to publish"})
	RateLimited   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_escrow", Name: "rate_limited_total", Help: "Requests rejected by the rate limiter"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_escrow", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_escrow",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
