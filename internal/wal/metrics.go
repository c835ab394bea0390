package wal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics tracks commit, entry, and checkpoint counts for a WAL instance.
type metrics struct {
	commits            prometheus.Counter
	entriesWritten     prometheus.Counter
	checkpoints        prometheus.Counter
	checkpointFailures prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &metrics{
		commits: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "aethervault",
			Subsystem: "wal",
			Name:      "commits_total",
			Help:      "commits_total counts calls to Commit that durably advanced wal_sequence.",
		}),
		entriesWritten: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "aethervault",
			Subsystem: "wal",
			Name:      "entries_written_total",
			Help:      "entries_written_total counts individual WAL entries committed, excluding noop padding.",
		}),
		checkpoints: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "aethervault",
			Subsystem: "wal",
			Name:      "checkpoints_total",
			Help:      "checkpoints_total counts successful materialisations of WAL entries into segments.",
		}),
		checkpointFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "aethervault",
			Subsystem: "wal",
			Name:      "checkpoint_failures_total",
			Help:      "checkpoint_failures_total counts checkpoint attempts that returned an error.",
		}),
	}
}
