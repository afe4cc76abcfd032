// Package metrics registers every Prometheus series the coordinator
// exposes on /metrics, using the promauto vector style.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChallengesCreated counts challenges created, labeled by game type.
	ChallengesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "handshake_challenges_created_total",
		Help: "Total number of challenges created",
	}, []string{"game_type"})

	// ChallengeTransitions is a counter of state transitions by from/to
	// state. No code path in this repository increments it, so it stays
	// at zero.
	ChallengeTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "handshake_challenge_transitions_total",
		Help: "Total number of challenge state transitions",
	}, []string{"from", "to"})

	// SessionsCreated counts sessions created from accepted handshakes.
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "handshake_sessions_created_total",
		Help: "Total number of sessions created",
	})

	// PushDeliveries counts push attempts by outcome (success/failure).
	PushDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "handshake_push_deliveries_total",
		Help: "Total number of push delivery attempts",
	}, []string{"outcome"})

	// PushTokensPruned counts dead tokens removed after vendor rejection.
	PushTokensPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "handshake_push_tokens_pruned_total",
		Help: "Total number of push tokens removed after vendor rejection",
	})

	// PresenceOnlineUsers tracks the current count of online users as
	// observed by this process (best-effort, not cluster-wide exact).
	PresenceOnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "handshake_presence_online_users",
		Help: "Approximate number of users with at least one live connection",
	})

	// HubConnections tracks live WebSocket connections on this process.
	HubConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "handshake_hub_connections",
		Help: "Current number of live WebSocket connections on this process",
	})

	// SchedulerJobLatency tracks delay between a job's scheduled fire
	// time and its actual handler invocation.
	SchedulerJobLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "handshake_scheduler_job_latency_seconds",
		Help:    "Delay between scheduled fire time and handler invocation",
		Buckets: prometheus.DefBuckets,
	})

	// SchedulerJobsFired counts fired jobs by kind (timeout, recurring).
	SchedulerJobsFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "handshake_scheduler_jobs_fired_total",
		Help: "Total number of scheduled jobs fired",
	}, []string{"kind"})

	// LockContention counts failed lock acquisitions by key namespace.
	LockContention = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "handshake_lock_contention_total",
		Help: "Total number of lock acquisition failures",
	}, []string{"resource"})

	// SharedStoreLatency tracks round-trip latency to the shared store.
	SharedStoreLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "handshake_sharedstore_latency_seconds",
		Help:    "Round-trip latency of shared-store operations",
		Buckets: prometheus.DefBuckets,
	})
)
