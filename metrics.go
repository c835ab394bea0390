package aethervault

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics tracks vault-level counters and gauges, separate from the WAL's
// own internal metrics: frame lifecycle, checkpoint/compaction activity,
// and search latency.
type metrics struct {
	appends        prometheus.Counter
	commits        prometheus.Counter
	checkpoints    prometheus.Counter
	compactions    prometheus.Counter
	tombstoned     prometheus.Counter
	corrupt        prometheus.Counter
	walOccupancy   prometheus.Gauge
	lexPostingsSz  prometheus.Gauge
	vecGraphNodes  prometheus.Gauge
	searchLatency  prometheus.Histogram
	checkpointDur  prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &metrics{
		appends: f.NewCounter(prometheus.CounterOpts{
			Namespace: "aethervault", Name: "appends_total",
			Help: "appends_total counts Put/Delete calls staged for commit.",
		}),
		commits: f.NewCounter(prometheus.CounterOpts{
			Namespace: "aethervault", Name: "commits_total",
			Help: "commits_total counts successful Commit calls.",
		}),
		checkpoints: f.NewCounter(prometheus.CounterOpts{
			Namespace: "aethervault", Name: "checkpoints_total",
			Help: "checkpoints_total counts WAL-to-segment materialisations.",
		}),
		compactions: f.NewCounter(prometheus.CounterOpts{
			Namespace: "aethervault", Name: "compactions_total",
			Help: "compactions_total counts completed compact() runs.",
		}),
		tombstoned: f.NewCounter(prometheus.CounterOpts{
			Namespace: "aethervault", Name: "frames_tombstoned_total",
			Help: "frames_tombstoned_total counts frames retired via Delete.",
		}),
		corrupt: f.NewCounter(prometheus.CounterOpts{
			Namespace: "aethervault", Name: "frames_corrupt_total",
			Help: "frames_corrupt_total counts frames quarantined by doctor after a checksum mismatch.",
		}),
		walOccupancy: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "aethervault", Name: "wal_occupancy_ratio",
			Help: "wal_occupancy_ratio is the fraction of the WAL region written since the last checkpoint.",
		}),
		lexPostingsSz: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "aethervault", Name: "lex_postings_bytes",
			Help: "lex_postings_bytes is registered but not updated by this package; it stays at 0.",
		}),
		vecGraphNodes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "aethervault", Name: "vec_graph_nodes",
			Help: "vec_graph_nodes is the number of frames currently embedded in the vector index.",
		}),
		searchLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "aethervault", Name: "search_latency_seconds",
			Help:    "search_latency_seconds observes end-to-end Search call latency.",
			Buckets: prometheus.DefBuckets,
		}),
		checkpointDur: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "aethervault", Name: "checkpoint_duration_seconds",
			Help:    "checkpoint_duration_seconds observes time spent materialising a checkpoint.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *metrics) newSearchTimer() *prometheus.Timer {
	return prometheus.NewTimer(m.searchLatency)
}

func (m *metrics) newCheckpointTimer() *prometheus.Timer {
	return prometheus.NewTimer(m.checkpointDur)
}
