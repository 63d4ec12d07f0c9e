package trace

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workflow_core",
		Subsystem: "trace",
		Name:      "events_emitted_total",
		Help:      "Tracer events accepted by the dispatcher.",
	}, []string{"level"})

	eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "workflow_core",
		Subsystem: "trace",
		Name:      "events_dropped_total",
		Help:      "Tracer events dropped because the buffer was full.",
	})

	// StagesExecuted counts stage executions by terminal status.
	StagesExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workflow_core",
		Subsystem: "engine",
		Name:      "stages_executed_total",
		Help:      "Stage executions by terminal status.",
	}, []string{"status"})

	// StageDuration observes wall time of stage executions.
	StageDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "workflow_core",
		Subsystem: "engine",
		Name:      "stage_duration_seconds",
		Help:      "Stage execution wall time.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 3, 10),
	})

	// ReleasesFired counts releases started by the release scheduler.
	ReleasesFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workflow_core",
		Subsystem: "scheduler",
		Name:      "releases_fired_total",
		Help:      "Releases fired by the cron scheduler, by workflow.",
	}, []string{"workflow"})
)
