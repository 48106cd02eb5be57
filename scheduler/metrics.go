package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	checkCount    *prometheus.CounterVec
	lastCheckTime *prometheus.GaugeVec
	tickLatency   prometheus.Histogram
)

// EnableMetrics will enable metrics collection for the sync loop.
// Available metrics are...
//   - repo_sync_check_total - (tags: repo,branch,status)
//     A Counter for each repository check tagged with its outcome
//   - repo_sync_last_check_timestamp_seconds - (tags: repo,branch)
//     Timestamp of the last check of the repository
//   - repo_sync_tick_duration_seconds
//     A Histogram of the time taken to process all repositories once
func EnableMetrics(metricsNamespace string, registerer prometheus.Registerer) {
	checkCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "repo_sync_check_total",
		Help:      "Count of repository drift checks by outcome",
	},
		[]string{"repo", "branch", "status"},
	)

	lastCheckTime = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "repo_sync_last_check_timestamp_seconds",
		Help:      "Timestamp of the last drift check of the repository",
	},
		[]string{"repo", "branch"},
	)

	tickLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "repo_sync_tick_duration_seconds",
		Help:      "Time taken to check all the repositories once",
		Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	})

	registerer.MustRegister(
		checkCount,
		lastCheckTime,
		tickLatency,
	)
}

// recordCheck records outcome of a single repository check
func recordCheck(res Result) {
	// if metrics not enabled return
	if checkCount == nil || lastCheckTime == nil {
		return
	}
	checkCount.WithLabelValues(res.Repo, res.Branch, string(res.Status)).Inc()
	lastCheckTime.WithLabelValues(res.Repo, res.Branch).Set(float64(res.CheckedAt.Unix()))
}

func recordTick(start time.Time) {
	if tickLatency == nil {
		return
	}
	tickLatency.Observe(time.Since(start).Seconds())
}
