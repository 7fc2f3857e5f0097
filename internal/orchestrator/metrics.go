package orchestrator

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	loopsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autopilot",
			Subsystem: "orchestrator",
			Name:      "loops_total",
			Help:      "Closed loops finished, by final status.",
		},
		[]string{"status"},
	)

	loopDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "autopilot",
			Subsystem: "orchestrator",
			Name:      "loop_duration_seconds",
			Help:      "Wall time of finished loops.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		},
		[]string{"mode"},
	)

	actionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autopilot",
			Subsystem: "orchestrator",
			Name:      "actions_total",
			Help:      "Executed actions, by type and terminal status.",
		},
		[]string{"type", "status"},
	)

	approvalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autopilot",
			Subsystem: "orchestrator",
			Name:      "approvals_total",
			Help:      "Approval gate outcomes.",
		},
		[]string{"decision"},
	)

	verificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autopilot",
			Subsystem: "orchestrator",
			Name:      "verifications_total",
			Help:      "Verification verdicts.",
		},
		[]string{"verdict"},
	)
)

var metricsOnce sync.Once

// registerMetrics registers the collectors exactly once per process.
func registerMetrics() {
	metricsOnce.Do(func() {
		prometheus.MustRegister(
			loopsTotal,
			loopDuration,
			actionsTotal,
			approvalsTotal,
			verificationsTotal,
		)
	})
}
