package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TaskMetrics tracks scheduled task executions per task type.
type TaskMetrics struct {
	duration *prometheus.HistogramVec
	outcomes *prometheus.CounterVec
}

const (
	TaskOutcomeDone  = "done"
	TaskOutcomeRetry = "retry"
	TaskOutcomeDead  = "dead"
)

// NewTaskMetrics registers the task worker metrics on reg.
func NewTaskMetrics(reg prometheus.Registerer) *TaskMetrics {
	if reg == nil {
		return &TaskMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "herfa_task_duration_seconds",
		Help:    "Handler duration for scheduled tasks.",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "herfa_task_outcomes_total",
		Help: "Scheduled task attempts by type and outcome.",
	}, []string{"type", "outcome"})
	reg.MustRegister(duration, outcomes)
	return &TaskMetrics{duration: duration, outcomes: outcomes}
}

// Observe records one handler attempt.
func (m *TaskMetrics) Observe(taskType, outcome string, took time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	label := normalizeLabel(taskType)
	m.duration.WithLabelValues(label).Observe(took.Seconds())
	m.outcomes.WithLabelValues(label, normalizeLabel(outcome)).Inc()
}
