// Package metrics holds the Prometheus collectors for fetching, icon lookups
// and scheduled tasks.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "aurora"

// Metrics groups every collector the service exports.
type Metrics struct {
	// Scheduler
	TaskRunsTotal       *prometheus.CounterVec
	TaskDurationSeconds *prometheus.HistogramVec
	TaskTicksSkipped    *prometheus.CounterVec
	TasksRunning        prometheus.Gauge

	// Fetcher
	FeedFetchesTotal     *prometheus.CounterVec
	EntriesInsertedTotal prometheus.Counter

	// Icons
	IconLookupsTotal *prometheus.CounterVec
	IconsCleanedUp   prometheus.Counter
}

// New registers all collectors on reg. A nil reg gets a private registry,
// so tests can build as many instances as they like.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	m := &Metrics{}
	m.initTaskMetrics(factory)
	m.initFetchMetrics(factory)
	m.initIconMetrics(factory)
	return m
}

func (m *Metrics) initTaskMetrics(factory promauto.Factory) {
	m.TaskRunsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "task_runs_total",
			Help:      "Task executions by task type, trigger and result",
		},
		[]string{"task", "trigger", "result"},
	)
	m.TaskDurationSeconds = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "task_duration_seconds",
			Help:      "Duration of task executions in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16), // 10ms to ~5.5min
		},
		[]string{"task"},
	)
	m.TaskTicksSkipped = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "ticks_skipped_total",
			Help:      "Cron ticks that did not run a task body",
		},
		[]string{"task", "reason"},
	)
	m.TasksRunning = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tasks_running",
			Help:      "Task bodies currently executing",
		},
	)
}

func (m *Metrics) initFetchMetrics(factory promauto.Factory) {
	m.FeedFetchesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetcher",
			Name:      "feed_fetches_total",
			Help:      "Feed fetches by outcome",
		},
		[]string{"outcome"},
	)
	m.EntriesInsertedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetcher",
			Name:      "entries_inserted_total",
			Help:      "New entries stored by the fetcher",
		},
	)
}

func (m *Metrics) initIconMetrics(factory promauto.Factory) {
	m.IconLookupsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "icons",
			Name:      "lookups_total",
			Help:      "Icon lookups by outcome",
		},
		[]string{"outcome"},
	)
	m.IconsCleanedUp = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "icons",
			Name:      "cleaned_up_total",
			Help:      "Icon cache records removed by cleanup",
		},
	)
}
