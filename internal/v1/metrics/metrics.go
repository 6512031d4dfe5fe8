package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the bingo lobby coordinator.
// Declared at package scope so the room, transport, and mapqueue packages
// can record against them without threading a metrics handle everywhere.
//
// Naming convention: namespace_subsystem_name
// - namespace: bingo (application-level grouping)
// - subsystem: connection, room, request, claim, mapqueue, reconnect, rate_limit, circuit_breaker, redis
// - name: specific metric (active, total, seconds, etc.)
//
// Metric Types:
// - Gauge: Current state (connections, rooms, queue depth)
// - Counter: Cumulative events (claims processed, errors)
// - Histogram: Latency distributions (map fetch time, request handling time)

var (
	// ActiveConnections tracks the current number of open TCP game connections.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bingo",
		Subsystem: "connection",
		Name:      "active",
		Help:      "Current number of active TCP connections",
	})

	// ActiveRooms tracks the current number of non-terminated rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bingo",
		Subsystem: "room",
		Name:      "active",
		Help:      "Current number of active rooms",
	})

	// RoomMembers tracks the number of members in each room, labeled by join code.
	RoomMembers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "bingo",
		Subsystem: "room",
		Name:      "members",
		Help:      "Number of members in each room",
	}, []string{"room_id"})

	// RequestsTotal tracks the total number of client requests handled, by type and outcome.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bingo",
		Subsystem: "request",
		Name:      "total",
		Help:      "Total client requests processed",
	}, []string{"request_type", "status"})

	// RequestDuration tracks the time spent handling a request, by type.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bingo",
		Subsystem: "request",
		Name:      "duration_seconds",
		Help:      "Time spent handling a client request",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"request_type"})

	// ClaimsTotal tracks cell-claim arbitration outcomes.
	ClaimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bingo",
		Subsystem: "claim",
		Name:      "total",
		Help:      "Total cell claims arbitrated, by outcome",
	}, []string{"outcome"})

	// BingosAnnounced tracks the total number of bingos declared across all rooms.
	BingosAnnounced = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bingo",
		Subsystem: "room",
		Name:      "bingos_total",
		Help:      "Total bingos announced",
	})

	// MapQueueDepth tracks the current number of prefetched maps waiting per mode.
	MapQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "bingo",
		Subsystem: "mapqueue",
		Name:      "depth",
		Help:      "Current number of prefetched maps queued, by selection mode",
	}, []string{"mode"})

	// MapFetchDuration tracks the latency of a map-catalogue fetch call.
	MapFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bingo",
		Subsystem: "mapqueue",
		Name:      "fetch_duration_seconds",
		Help:      "Duration of a map catalogue fetch call",
		Buckets:   prometheus.DefBuckets,
	}, []string{"mode", "status"})

	// ReconnectsTotal tracks reconnect outcomes (resumed vs. expired linger window).
	ReconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bingo",
		Subsystem: "reconnect",
		Name:      "total",
		Help:      "Total reconnect attempts, by outcome",
	}, []string{"outcome"})

	// CircuitBreakerState tracks the current state of a circuit breaker.
	// 0: Closed (Healthy), 1: Open (Failure), 2: Half-Open (Recovering)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "bingo",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	// CircuitBreakerFailures tracks the total number of requests rejected by a breaker.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bingo",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total requests rejected by the circuit breaker",
	}, []string{"service"})

	// RateLimitExceeded tracks the total number of requests that exceeded a rate limit scope.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bingo",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total number of requests that exceeded the rate limit",
	}, []string{"scope"})

	// RateLimitRequests tracks the total number of requests checked against a rate limiter scope.
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bingo",
		Subsystem: "rate_limit",
		Name:      "requests_total",
		Help:      "Total number of requests checked against the rate limiter",
	}, []string{"scope"})

	// RedisOperationsTotal tracks the total number of Redis operations issued by the bus.
	RedisOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bingo",
		Subsystem: "redis",
		Name:      "operations_total",
		Help:      "Total number of Redis operations",
	}, []string{"operation", "status"})

	// RedisOperationDuration tracks the duration of Redis operations issued by the bus.
	RedisOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bingo",
		Subsystem: "redis",
		Name:      "operation_duration_seconds",
		Help:      "Duration of Redis operations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
)

func IncConnection() {
	ActiveConnections.Inc()
}

func DecConnection() {
	ActiveConnections.Dec()
}
