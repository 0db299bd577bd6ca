package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "content_comb"

var (
	RateLimitDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_decisions_total",
			Help:      "Rate limiter decisions by outcome (allowed, denied, fail_open)",
		},
		[]string{"decision"},
	)

	SourceFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_source_fetches_total",
			Help:      "Discovery source fetches by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	DiscoveredItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_items_total",
			Help:      "Items passing through discovery stages",
		},
		[]string{"stage"},
	)

	PublishAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_attempts_total",
			Help:      "Publish attempts by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	TaskRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_runs_total",
			Help:      "Background task executions by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Background task duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"type"},
	)
)
