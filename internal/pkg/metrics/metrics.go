// Package metrics provides Prometheus metrics for the cluster action
// engine: actions in flight, wait-loop iterations, lock contention, policy
// check latency, plus the k8s client's circuit breaker state, scrapeable
// at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cluster_engine"

var (
	// ActionsInFlight is the current number of actions being executed,
	// by kind (e.g. CLUSTER_SCALE_OUT, NODE_CREATE).
	ActionsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "actions_in_flight",
			Help:      "Number of actions currently executing, by kind.",
		},
		[]string{"kind"},
	)

	// ActionDurationSeconds tracks execute() wall-clock time by kind and
	// terminal result code.
	ActionDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "action_duration_seconds",
			Help:      "Action execution duration in seconds, by kind and result.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16), // 10ms to ~164s
		},
		[]string{"kind", "result"},
	)

	// WaitLoopIterationsTotal counts wait_for_dependents poll ticks, by
	// parent action kind — a proxy for fan-out contention and slow children.
	WaitLoopIterationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wait_loop_iterations_total",
			Help:      "Total wait_for_dependents poll iterations, by parent action kind.",
		},
		[]string{"kind"},
	)

	// LockContentionTotal counts Acquire calls that found the scope already
	// held by another owner.
	LockContentionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_contention_total",
			Help:      "Total lock acquisitions that found the scope already held.",
		},
		[]string{"scope"},
	)

	// PolicyCheckDurationSeconds tracks Policy.Check latency by policy type
	// and phase (BEFORE/AFTER).
	PolicyCheckDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "policy_check_duration_seconds",
			Help:      "Policy check duration in seconds, by policy type and phase.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~2s
		},
		[]string{"type", "phase"},
	)

	// CircuitBreakerState tracks current circuit breaker state (0=closed, 1=open, 2=half-open).
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Current circuit breaker state (0=closed, 1=open, 2=half-open).",
		},
		[]string{"cluster_id"},
	)

	// CircuitBreakerTransitionsTotal counts circuit breaker state transitions.
	CircuitBreakerTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_transitions_total",
			Help:      "Total number of circuit breaker state transitions.",
		},
		[]string{"cluster_id", "from_state", "to_state"},
	)

	// CircuitBreakerFailuresTotal counts circuit breaker failures.
	CircuitBreakerFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_failures_total",
			Help:      "Total number of circuit breaker failures.",
		},
		[]string{"cluster_id"},
	)
)
