package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cuisine_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cuisine_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// CacheLookups counts cache-aside lookups by namespace and result (hit, miss, error).
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cuisine_cache_lookups_total",
		Help: "Cache lookups by namespace and result",
	}, []string{"namespace", "result"})

	// PlacesRequests counts outbound calls to the places provider.
	PlacesRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cuisine_places_requests_total",
		Help: "Places provider requests by endpoint and outcome",
	}, []string{"endpoint", "outcome"})

	// FeedBuilds counts feed snapshot rebuilds by view.
	FeedBuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cuisine_feed_builds_total",
		Help: "Feed snapshot rebuilds by view",
	}, []string{"view"})

	// FeedBuildLatency records how long assembling a snapshot takes.
	FeedBuildLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cuisine_feed_build_latency_seconds",
		Help:    "Feed snapshot build latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"view"})

	// ToggleOutcomes counts toggle commands by kind and outcome (applied, noop, rolled_back).
	ToggleOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cuisine_toggle_outcomes_total",
		Help: "Toggle commands by kind and outcome",
	}, []string{"kind", "outcome"})

	// RemindersDispatched counts reminder deliveries by channel and outcome.
	RemindersDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cuisine_reminders_dispatched_total",
		Help: "Reminder deliveries by channel and outcome",
	}, []string{"channel", "outcome"})

	// WebSocketConnectionsTotal is the gauge of total WebSocket connections.
	WebSocketConnectionsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cuisine_websocket_connections_total",
		Help: "Total number of active WebSocket connections",
	})

	// WebSocketEventsTotal counts WebSocket events by type.
	WebSocketEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cuisine_websocket_events_total",
		Help: "Total WebSocket events by type",
	}, []string{"event_type"})

	// WebSocketBackpressureDrops counts messages dropped due to backpressure by hub and reason.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cuisine_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"hub", "reason"})
)

// TrackQuery returns a function that records query latency when called (e.g. defer).
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}

// TrackFeedBuild counts a rebuild and returns a func recording its latency.
func TrackFeedBuild(view string) func() {
	FeedBuilds.WithLabelValues(view).Inc()
	start := time.Now()
	return func() {
		FeedBuildLatency.WithLabelValues(view).Observe(time.Since(start).Seconds())
	}
}
