package adminhttp

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the node's exported counters/gauges, grouped the way the
// domain groups them: storage, index, replication, election.
var (
	KeysTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kvnode_keys_total",
		Help: "Number of keys currently stored",
	})

	WALAppendsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kvnode_wal_appends_total",
		Help: "Total WAL entries appended",
	})

	LastAppliedSeq = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kvnode_last_applied_seq",
		Help: "Sequence number of the most recently applied WAL entry",
	})

	IsPrimary = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kvnode_is_primary",
		Help: "Whether this node currently holds the PRIMARY role (1) or not (0)",
	})

	CurrentTerm = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kvnode_current_term",
		Help: "Current election term",
	})

	ReplicationLagTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kvnode_replication_lag_events_total",
		Help: "Total number of seq-gap events that triggered a snapshot resync, by follower",
	}, []string{"follower"})

	RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kvnode_request_duration_seconds",
		Help:    "Client wire-protocol request duration by request tag",
		Buckets: prometheus.DefBuckets,
	}, []string{"tag"})
)

func init() {
	prometheus.MustRegister(
		KeysTotal,
		WALAppendsTotal,
		LastAppliedSeq,
		IsPrimary,
		CurrentTerm,
		ReplicationLagTotal,
		RequestDuration,
	)
}
