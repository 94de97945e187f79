package orchestrator

import (
	"sync"
	"time"

	"github.com/fyrsmithlabs/taskrelay/internal/termination"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for task execution.
type Metrics struct {
	TasksTotal         *prometheus.CounterVec
	PhaseDuration      *prometheus.HistogramVec
	ArtifactsDelivered *prometheus.CounterVec
	TerminationTotal   *prometheus.CounterVec
}

// NewMetrics creates and registers the executor metrics.
//
// This function uses sync.Once so the collectors are registered once with
// the default registry no matter how many executors are built.
//
// Metrics:
//   - taskrelay_tasks_total{status} - Tasks finished, by final status
//   - taskrelay_phase_duration_seconds{phase,status} - Phase wall time
//   - taskrelay_artifacts_delivered_total{status} - Upload outcomes
//   - taskrelay_termination_total{reason} - Why planning loops stopped
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			TasksTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "taskrelay_tasks_total",
					Help: "Total number of tasks finished",
				},
				[]string{"status"}, // "completed", "degraded", "failed"
			),

			PhaseDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "taskrelay_phase_duration_seconds",
					Help:    "Duration of task phases in seconds",
					Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
				},
				[]string{"phase", "status"},
			),

			ArtifactsDelivered: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "taskrelay_artifacts_delivered_total",
					Help: "Total number of artifact uploads",
				},
				[]string{"status"}, // "ok" or "failed"
			),

			TerminationTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "taskrelay_termination_total",
					Help: "Total number of planning loops stopped, by reason",
				},
				[]string{"reason"},
			),
		}
	})
	return globalMetrics
}

// RecordTask counts a finished task.
func (m *Metrics) RecordTask(status PhaseStatus) {
	if m == nil {
		return
	}
	m.TasksTotal.WithLabelValues(string(status)).Inc()
}

// RecordPhase observes a phase duration.
func (m *Metrics) RecordPhase(phase Phase, status PhaseStatus, d time.Duration) {
	if m == nil {
		return
	}
	m.PhaseDuration.WithLabelValues(string(phase), string(status)).Observe(d.Seconds())
}

// RecordManifest counts upload outcomes.
func (m *Metrics) RecordManifest(manifest Manifest) {
	if m == nil {
		return
	}
	for _, e := range manifest {
		m.ArtifactsDelivered.WithLabelValues(string(e.Status)).Inc()
	}
}

// RecordTermination counts why a loop stopped.
func (m *Metrics) RecordTermination(reason termination.Reason) {
	if m == nil {
		return
	}
	m.TerminationTotal.WithLabelValues(string(reason)).Inc()
}
