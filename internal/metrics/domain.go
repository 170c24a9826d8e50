package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProbeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "botplane",
			Name:      "probe_duration_seconds",
			Help:      "Wall-clock duration of host /health probes.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 8},
		},
		[]string{"result"},
	)

	HostTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botplane",
			Name:      "host_status_transitions_total",
			Help:      "Host status writes made by the reconciler.",
		},
		[]string{"status"},
	)

	AlertsRaised = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botplane",
			Name:      "alerts_total",
			Help:      "Alerts considered by the reconciler, by outcome.",
		},
		[]string{"kind", "outcome"},
	)

	LifecycleActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botplane",
			Name:      "lifecycle_actions_total",
			Help:      "Bot lifecycle actions by transport path and result.",
		},
		[]string{"action", "path", "result"},
	)

	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botplane",
			Name:      "provider_calls_total",
			Help:      "Cloud provider API calls by operation and error kind.",
		},
		[]string{"provider", "op", "kind"},
	)

	PreflightDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botplane",
			Name:      "preflight_decisions_total",
			Help:      "Trade preflight outcomes.",
		},
		[]string{"ok"},
	)

	MigrationPhases = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botplane",
			Name:      "migration_phases_total",
			Help:      "Migration phases by result.",
		},
		[]string{"phase", "result"},
	)
)
