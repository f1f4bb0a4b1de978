// Package metrics declares the Prometheus instrumentation for the floor
// manager, kept centrally so every package can import and update it
// without introducing cross-package coupling.
//
// Naming convention: namespace_subsystem_name
// - namespace: floor_manager (application-level grouping)
// - subsystem: floor, router, subscription, directory, circuit_breaker,
//   rate_limit, redis (feature-level grouping)
// - name: specific metric (grants_total, queue_depth, etc.)
//
// Metric Types:
// - Gauge: Current state (queue depth, active subscriptions)
// - Counter: Cumulative events (grants, revocations, routed envelopes)
// - Histogram: Latency/duration distributions (delivery time, Redis operation time)
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FloorGrants counts every time the floor is granted to a speaker,
	// whether immediately on request or via queue promotion.
	FloorGrants = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "floor_manager",
		Subsystem: "floor",
		Name:      "grants_total",
		Help:      "Total number of floor grants",
	}, []string{"conversation_id"})

	// FloorReleases counts voluntary yields.
	FloorReleases = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "floor_manager",
		Subsystem: "floor",
		Name:      "releases_total",
		Help:      "Total number of voluntary floor releases (yieldFloor)",
	}, []string{"conversation_id"})

	// FloorRevocations counts involuntary revocations, labeled by reason token.
	FloorRevocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "floor_manager",
		Subsystem: "floor",
		Name:      "revocations_total",
		Help:      "Total number of involuntary floor revocations",
	}, []string{"conversation_id", "reason"})

	// FloorQueueDepth tracks the current pending-request queue length per conversation.
	FloorQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "floor_manager",
		Subsystem: "floor",
		Name:      "queue_depth",
		Help:      "Current number of pending floor requests",
	}, []string{"conversation_id"})

	// FloorQueueOverflow counts refused requests due to a full queue.
	FloorQueueOverflow = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "floor_manager",
		Subsystem: "floor",
		Name:      "queue_overflow_total",
		Help:      "Total number of floor requests refused due to queue overflow",
	}, []string{"conversation_id"})

	// SubscriptionActive tracks current live subscriptions per conversation.
	SubscriptionActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "floor_manager",
		Subsystem: "subscription",
		Name:      "active",
		Help:      "Current number of active transition subscriptions",
	}, []string{"conversation_id"})

	// SubscriptionLag counts dropped-oldest events due to a full subscriber buffer.
	SubscriptionLag = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "floor_manager",
		Subsystem: "subscription",
		Name:      "lag_total",
		Help:      "Total number of transitions dropped due to subscriber lag",
	}, []string{"conversation_id"})

	// TransitionsPublished counts transitions handed to the hub for fan-out.
	TransitionsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "floor_manager",
		Subsystem: "subscription",
		Name:      "transitions_published_total",
		Help:      "Total number of transitions published to subscribers",
	}, []string{"conversation_id", "kind"})

	// RouterDeliveries counts per-recipient delivery attempts, labeled by outcome.
	RouterDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "floor_manager",
		Subsystem: "router",
		Name:      "deliveries_total",
		Help:      "Total number of per-recipient envelope deliveries",
	}, []string{"event_type", "status"})

	// RouterDeliveryDuration tracks handler invocation latency.
	RouterDeliveryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "floor_manager",
		Subsystem: "router",
		Name:      "delivery_duration_seconds",
		Help:      "Time spent delivering an event to one recipient handler",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// RouterDispatchRejected counts deliveries rejected at the dispatch
	// queue because it was already at capacity (backpressure).
	RouterDispatchRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "floor_manager",
		Subsystem: "router",
		Name:      "dispatch_rejected_total",
		Help:      "Total number of deliveries rejected due to dispatch queue backpressure",
	}, []string{"event_type"})

	// CircuitBreakerState tracks the current state of a recipient's delivery
	// circuit breaker (0: Closed, 1: Half-Open, 2: Open).
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "floor_manager",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of a recipient's delivery circuit breaker (0: Closed, 1: Half-Open, 2: Open)",
	}, []string{"speaker_uri"})

	// CircuitBreakerFailures counts deliveries rejected by an open breaker.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "floor_manager",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total deliveries rejected by an open circuit breaker",
	}, []string{"speaker_uri"})

	// DirectoryManifests tracks the current number of stored manifests by status.
	DirectoryManifests = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "floor_manager",
		Subsystem: "directory",
		Name:      "manifests",
		Help:      "Current number of stored manifests",
	}, []string{"status"})

	// DirectorySearches counts getManifests calls, labeled by whether any matched.
	DirectorySearches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "floor_manager",
		Subsystem: "directory",
		Name:      "searches_total",
		Help:      "Total number of directory search requests",
	}, []string{"result"})

	// RateLimitExceeded tracks the total number of requests that exceeded the rate limit
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "floor_manager",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total number of requests that exceeded the rate limit",
	}, []string{"endpoint", "reason"})

	// RateLimitRequests tracks the total number of requests checked against the rate limiter
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "floor_manager",
		Subsystem: "rate_limit",
		Name:      "requests_total",
		Help:      "Total number of requests checked against the rate limiter",
	}, []string{"endpoint"})

	// RedisOperationsTotal tracks the total number of Redis operations performed
	// through bus.Service (CounterVec)
	RedisOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "floor_manager",
		Subsystem: "redis",
		Name:      "operations_total",
		Help:      "Total number of Redis operations",
	}, []string{"operation", "status"})

	// RedisOperationDuration tracks the duration of Redis operations (HistogramVec)
	RedisOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "floor_manager",
		Subsystem: "redis",
		Name:      "operation_duration_seconds",
		Help:      "Duration of Redis operations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
)
