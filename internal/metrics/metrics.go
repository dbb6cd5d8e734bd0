// Package metrics exposes the event loop's observable state as Prometheus
// gauges and counters. Every setter here is called synchronously from
// inside the raft event loop, the sole mutator of replica state, so the
// only concurrency concern is promhttp reading already-published values
// from a second goroutine, which the prometheus client handles internally.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds one replica's gauges and counters. Construct one per
// Node with New and pass a distinct id so metrics from a multi-replica
// test binary don't collide on the default registry.
type Collector struct {
	Term               prometheus.Gauge
	Role               *prometheus.GaugeVec
	LogLength          prometheus.Gauge
	CommitIndex        prometheus.Gauge
	LastApplied        prometheus.Gauge
	VotesGranted       prometheus.Counter
	ElectionsStarted   prometheus.Counter
	ProposalsRetried   prometheus.Counter
	ProposalsCommitted prometheus.Counter
}

// New registers a fresh set of collectors for replica id against reg.
func New(reg prometheus.Registerer, id string) *Collector {
	f := promauto.With(reg)
	labels := prometheus.Labels{"replica": id}

	return &Collector{
		Term: f.NewGauge(prometheus.GaugeOpts{
			Name:        "raftkv_current_term",
			Help:        "Current Raft term of this replica.",
			ConstLabels: labels,
		}),
		Role: f.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "raftkv_role",
			Help:        "1 for the replica's current role, 0 otherwise, labeled by role name.",
			ConstLabels: labels,
		}, []string{"role"}),
		LogLength: f.NewGauge(prometheus.GaugeOpts{
			Name:        "raftkv_log_length",
			Help:        "Number of entries in the local log.",
			ConstLabels: labels,
		}),
		CommitIndex: f.NewGauge(prometheus.GaugeOpts{
			Name:        "raftkv_commit_index",
			Help:        "Highest log index known committed (-1 if none).",
			ConstLabels: labels,
		}),
		LastApplied: f.NewGauge(prometheus.GaugeOpts{
			Name:        "raftkv_last_applied",
			Help:        "Highest log index applied to the state machine (-1 if none).",
			ConstLabels: labels,
		}),
		VotesGranted: f.NewCounter(prometheus.CounterOpts{
			Name:        "raftkv_votes_granted_total",
			Help:        "Votes this replica has granted to candidates.",
			ConstLabels: labels,
		}),
		ElectionsStarted: f.NewCounter(prometheus.CounterOpts{
			Name:        "raftkv_elections_started_total",
			Help:        "Elections this replica has started, as a candidate.",
			ConstLabels: labels,
		}),
		ProposalsRetried: f.NewCounter(prometheus.CounterOpts{
			Name:        "raftkv_proposals_retried_total",
			Help:        "Leader-side proposal retransmissions due to consensus timeout.",
			ConstLabels: labels,
		}),
		ProposalsCommitted: f.NewCounter(prometheus.CounterOpts{
			Name:        "raftkv_proposals_committed_total",
			Help:        "Proposals that reached quorum and committed.",
			ConstLabels: labels,
		}),
	}
}

// SetRole zeroes every role gauge but the active one, so dashboards can
// graph role as a step function without needing state sync logic.
func (c *Collector) SetRole(active string, all []string) {
	for _, r := range all {
		v := 0.0
		if r == active {
			v = 1.0
		}
		c.Role.WithLabelValues(r).Set(v)
	}
}

// Handler returns the HTTP handler to mount on a debug listener.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
