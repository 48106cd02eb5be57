package repository

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// opCount is a Counter vector of git operations
	opCount *prometheus.CounterVec
	// opLatency is a Histogram vector that keeps track of git operation durations
	opLatency *prometheus.HistogramVec
)

// EnableMetrics will enable metrics collection for repository operations.
// Available metrics are...
//   - repo_sync_git_operation_count - (tags: repo,op,success)
//     A Counter for each clone, fetch, update and ls-remote, tagged with the result (success=true|false)
//   - repo_sync_git_operation_latency_seconds - (tags: repo,op)
//     A Histogram that keeps track of the git operation latency per repo.
func EnableMetrics(metricsNamespace string, registerer prometheus.Registerer) {
	opCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "repo_sync_git_operation_count",
		Help:      "Count of git operations",
	},
		[]string{
			// name of the repository
			"repo",
			// clone, fetch, update, ls-remote or sync if it failed before git was invoked
			"op",
			// Whether the operation was successful or not
			"success",
		},
	)

	opLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "repo_sync_git_operation_latency_seconds",
		Help:      "Latency of git operations",
		Buckets:   []float64{0.5, 1, 5, 10, 20, 30, 60, 90, 120, 150, 300},
	},
		[]string{
			"repo",
			"op",
		},
	)

	registerer.MustRegister(
		opCount,
		opLatency,
	)
}

// recordOp records a git operation by updating all the relevant metrics
func recordOp(repo, op string, success bool, start time.Time) {
	// if metrics not enabled return
	if opCount == nil || opLatency == nil {
		return
	}
	opCount.With(prometheus.Labels{
		"repo":    repo,
		"op":      op,
		"success": strconv.FormatBool(success),
	}).Inc()
	opLatency.WithLabelValues(repo, op).Observe(time.Since(start).Seconds())
}
