package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gateway call metrics
var (
	// APICallDuration tracks the duration of control-plane calls
	APICallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deck_api_call_duration_seconds",
			Help:    "Duration of control-plane API calls by path and outcome",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "outcome"},
	)

	// APICallsTotal counts control-plane calls by path and outcome
	// (success, remote_error, auth_expired, network_error)
	APICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deck_api_calls_total",
			Help: "Total control-plane API calls by path and outcome",
		},
		[]string{"path", "outcome"},
	)
)

// Reconciliation metrics
var (
	// PollsTotal counts reconciliation passes by result
	// (unchanged, changed, empty, error, skipped)
	PollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deck_polls_total",
			Help: "Total node poll passes by result",
		},
		[]string{"result"},
	)

	// NodesPatched counts per-node view patches applied
	NodesPatched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deck_nodes_patched_total",
			Help: "Total per-node view patches applied by the reconciler",
		},
	)

	// NodesRemoved counts stale node views removed
	NodesRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deck_nodes_removed_total",
			Help: "Total stale node views removed by the reconciler",
		},
	)

	// ForcedReconciliations counts reconciliations forced by mutations
	ForcedReconciliations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deck_forced_reconciliations_total",
			Help: "Total reconciliations forced by rental mutations",
		},
	)

	// SnapshotNodes tracks the size of the current node snapshot
	SnapshotNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "deck_snapshot_nodes",
			Help: "Number of nodes in the current snapshot",
		},
	)
)

// Session metrics
var (
	// SessionsEnded counts session teardowns by reason
	// (logout, expired, inactivity, unauthorized)
	SessionsEnded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deck_sessions_ended_total",
			Help: "Total session teardowns by reason",
		},
		[]string{"reason"},
	)

	// SessionsStarted counts sessions started by source (login, restore)
	SessionsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deck_sessions_started_total",
			Help: "Total sessions started by source",
		},
		[]string{"source"},
	)
)

// Rental workflow metrics
var (
	// MutationsTotal counts rental mutations by operation and outcome
	MutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deck_mutations_total",
			Help: "Total rental mutations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)
)

// RecordAPICall records one gateway call with its duration and outcome
func RecordAPICall(path, outcome string, duration time.Duration) {
	APICallDuration.WithLabelValues(path, outcome).Observe(duration.Seconds())
	APICallsTotal.WithLabelValues(path, outcome).Inc()
}

// RecordPoll records the result of one reconciliation pass
func RecordPoll(result string) {
	PollsTotal.WithLabelValues(result).Inc()
}

// RecordSessionStarted increments the session started counter
func RecordSessionStarted(source string) {
	SessionsStarted.WithLabelValues(source).Inc()
}

// RecordSessionEnded increments the session ended counter
func RecordSessionEnded(reason string) {
	SessionsEnded.WithLabelValues(reason).Inc()
}

// RecordMutation records a rental mutation outcome
func RecordMutation(operation, outcome string) {
	MutationsTotal.WithLabelValues(operation, outcome).Inc()
}
