package cache

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// lastSyncTimestamp is a Gauge that captures the timestamp of the
	// last successful mirror sync
	lastSyncTimestamp *prometheus.GaugeVec
	// syncCount is a Counter vector of mirror syncs
	syncCount *prometheus.CounterVec
	// syncLatency is a Histogram vector that keeps track of mirror
	// sync durations
	syncLatency *prometheus.HistogramVec
)

// EnableMetrics will enable metrics collection for mirror syncs.
// Available metrics are...
//   - hg_last_sync_timestamp - (tags: repo,node)
//     A Gauge that captures the Timestamp of the last successful sync per repo and node.
//   - hg_sync_count - (tags: repo,node,success)
//     A Counter for each sync attempt, tagged with the result (success=true|false)
//   - hg_sync_latency_seconds - (tags: repo,node)
//     A Histogram that keeps track of the sync latency per repo and node.
func EnableMetrics(metricsNamespace string, registerer prometheus.Registerer) {
	lastSyncTimestamp = promauto.With(registerer).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "hg_last_sync_timestamp",
		Help:      "Timestamp of the last successful mirror sync",
	},
		[]string{
			// identifier of the repository
			"repo",
			// name of the target node
			"node",
		},
	)

	syncCount = promauto.With(registerer).NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "hg_sync_count",
		Help:      "Count of mirror sync operations",
	},
		[]string{
			// identifier of the repository
			"repo",
			// name of the target node
			"node",
			// Whether the sync was successful or not
			"success",
		},
	)

	syncLatency = promauto.With(registerer).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "hg_sync_latency_seconds",
		Help:      "Latency for mirror sync",
		Buckets:   []float64{0.5, 1, 5, 10, 20, 30, 60, 90, 120, 150, 300},
	},
		[]string{
			// identifier of the repository
			"repo",
			// name of the target node
			"node",
		},
	)
}

// recordSync records a mirror sync attempt by updating all the
// relevant metrics
func recordSync(repo, node string, success bool) {
	// if metrics not enabled return
	if lastSyncTimestamp == nil || syncCount == nil {
		return
	}
	if success {
		lastSyncTimestamp.With(prometheus.Labels{
			"repo": repo,
			"node": node,
		}).Set(float64(time.Now().Unix()))
	}
	syncCount.With(prometheus.Labels{
		"repo":    repo,
		"node":    node,
		"success": strconv.FormatBool(success),
	}).Inc()
}

func updateSyncLatency(repo, node string, start time.Time) {
	// if metrics not enabled return
	if syncLatency == nil {
		return
	}
	syncLatency.WithLabelValues(repo, node).Observe(time.Since(start).Seconds())
}
