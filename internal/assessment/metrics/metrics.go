package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal tracks finished assessments per strategy and result
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drcheck_runs_total",
			Help: "Total number of finished recovery assessments",
		},
		[]string{"strategy", "result"},
	)

	// StepDuration tracks how long each state of the recovery state machine takes
	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drcheck_step_duration_seconds",
			Help:    "Duration of recovery assessment steps in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 2400},
		},
		[]string{"strategy", "step"},
	)

	// PollAttempts tracks attempts spent in bounded waits
	PollAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drcheck_poll_attempts_total",
			Help: "Total number of poll attempts spent waiting",
		},
		[]string{"wait"},
	)

	// InstancesTerminated tracks instances killed through the substrate
	InstancesTerminated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drcheck_instances_terminated_total",
			Help: "Total number of instances terminated",
		},
		[]string{"role"},
	)

	// RestoreOutcomes tracks classified restore attempts
	RestoreOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drcheck_restore_outcomes_total",
			Help: "Total number of restore attempts by classified outcome",
		},
		[]string{"phase", "outcome"},
	)

	// KnownHosts tracks the number of hosts the run can reach for cleanup
	KnownHosts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "drcheck_known_hosts",
			Help: "Number of entries in the known hosts map",
		},
	)
)

// WriteTextfile writes every registered metric to path in the Prometheus
// text exposition format.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
