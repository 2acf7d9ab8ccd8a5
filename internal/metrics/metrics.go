// Package metrics defines the Prometheus instruments for the connection
// workflow and the collection caches.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectAttemptsTotal counts connection attempts by outcome of the
	// initiation step: "started", "rejected", "blocked", "request_error".
	ConnectAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connect_attempts_total",
			Help: "Connection attempts by initiation outcome",
		},
		[]string{"outcome"},
	)

	// CompletionsTotal counts attempt completions by trigger ("message" or
	// "closed") and result ("success" or "failure").
	CompletionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connect_completions_total",
			Help: "Connection attempt completions by trigger and result",
		},
		[]string{"trigger", "result"},
	)

	// CrossOriginMessagesDropped counts completion messages discarded
	// because their origin did not match ours.
	CrossOriginMessagesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "connect_cross_origin_messages_dropped_total",
			Help: "Completion messages dropped by the origin check",
		},
	)

	// CollectionCacheHits counts collection reads by collection
	// ("apps"/"sessions") and source ("redis"/"origin").
	CollectionCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collection_cache_hits_total",
			Help: "Collection cache reads by collection and source",
		},
		[]string{"collection", "source"},
	)

	// CollectionInvalidations counts explicit collection cache
	// invalidations by result ("ok"/"error").
	CollectionInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collection_invalidations_total",
			Help: "Collection cache invalidations by result",
		},
		[]string{"result"},
	)

	// CircuitBreakerState tracks circuit breaker state per component
	// (0=closed, 1=half-open, 2=open).
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)

	// CircuitBreakerStateChanges counts state transitions per component and
	// new state.
	CircuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_changes_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "state"},
	)

	// DBQueryDuration tracks query latency grouped by the leading SQL verb
	// to keep cardinality bounded.
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"query"},
	)

	// DBErrorsTotal counts failed database queries by query name.
	DBErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_errors_total",
			Help: "Database query errors",
		},
		[]string{"query"},
	)

	// WebsocketConnections tracks currently attached dashboard sockets.
	WebsocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections",
			Help: "Currently connected dashboard websockets",
		},
	)
)
