package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics groups the engine's collectors on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	MatchesSubmitted   prometheus.Counter
	SessionAssignments *prometheus.CounterVec
	SummaryPersists    *prometheus.CounterVec
	Reconciles         *prometheus.CounterVec
	StaleRowsRemoved   prometheus.Counter
	ReconcileDuration  prometheus.Histogram
}

// New registers the tracker collectors plus Go/process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		MatchesSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tracker",
			Name:      "matches_submitted_total",
			Help:      "Match records appended to the Matches table.",
		}),
		SessionAssignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tracker",
			Name:      "session_assignments_total",
			Help:      "Session assignment decisions by reason.",
		}, []string{"reason"}),
		SummaryPersists: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tracker",
			Name:      "summary_persist_total",
			Help:      "Session summary upserts by result.",
		}, []string{"result"}),
		Reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tracker",
			Name:      "reconcile_total",
			Help:      "Session recomputations by action.",
		}, []string{"action"}),
		StaleRowsRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tracker",
			Name:      "stale_session_player_rows_removed_total",
			Help:      "SessionPlayers rows deleted because the player no longer appears in the session.",
		}),
		ReconcileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tracker",
			Name:      "reconcile_all_duration_seconds",
			Help:      "Wall time of bulk reconciliation runs.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		m.MatchesSubmitted,
		m.SessionAssignments,
		m.SummaryPersists,
		m.Reconciles,
		m.StaleRowsRemoved,
		m.ReconcileDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}
