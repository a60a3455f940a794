// Package metrics exposes Prometheus collectors for model calls and reading cycles.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "oracle_engine"

var (
	LLMCallTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "call_total",
			Help:      "Model calls by generation profile and outcome",
		},
		[]string{"profile", "outcome"},
	)

	LLMCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "call_duration_seconds",
			Help:      "Model call duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"profile"},
	)

	LLMTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "tokens_used_total",
			Help:      "Tokens consumed by successful model calls",
		},
		[]string{"profile", "type"}, // type: prompt/completion
	)

	LLMCostUSD = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "cost_usd_total",
			Help:      "Estimated model spend in USD",
		},
	)

	RetryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "invoker",
			Name:      "retry_total",
			Help:      "Failed attempts absorbed by the invoker, by error class",
		},
		[]string{"class"},
	)

	CredentialRotations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "invoker",
			Name:      "credential_rotations_total",
			Help:      "Credential rotations after quota exhaustion",
		},
	)

	PoolCooldowns = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "invoker",
			Name:      "pool_cooldowns_total",
			Help:      "Full credential sweeps that ended in a cooldown",
		},
	)

	CycleTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "total",
			Help:      "Reading cycles by final status",
		},
		[]string{"status"},
	)

	CycleQCRounds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "qc_rounds",
			Help:      "Critique rounds needed before approval",
			Buckets:   []float64{1, 2, 3, 5, 8, 13},
		},
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "duration_seconds",
			Help:      "Reading cycle duration in seconds",
			Buckets:   []float64{30, 60, 120, 300, 600, 1200, 3600},
		},
	)
)
