// Package metrics exposes Prometheus instrumentation for the ledger core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueRuns counts completed minute-queue runs.
	QueueRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credex_queue_runs_total",
		Help: "Completed minute-queue processor runs.",
	})

	// QueueSkips counts ticks skipped because a lease was held.
	QueueSkips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credex_queue_skips_total",
		Help: "Queue ticks skipped due to a held lease.",
	})

	// CredexesProcessed counts credexes fed through the loop finder.
	CredexesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credex_credexes_processed_total",
		Help: "Accepted credexes admitted into the cycle index.",
	})

	// CredexFailures counts per-item failures inside queue batches.
	CredexFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credex_credex_failures_total",
		Help: "Credexes whose netting attempt failed and was deferred.",
	})

	// LoopsNetted counts completed netting events (loop anchors written).
	LoopsNetted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credex_loops_netted_total",
		Help: "Debt loops detected and cleared.",
	})

	// ClearedTotal accumulates internal units of debt cleared by netting.
	ClearedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credex_cleared_cxx_total",
		Help: "Internal units of outstanding debt cancelled by netting.",
	})

	// RebaseRuns counts completed daily rebase passes.
	RebaseRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credex_rebase_runs_total",
		Help: "Completed daily rebase passes.",
	})

	// RebaseFailures counts aborted daily rebase passes.
	RebaseFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credex_rebase_failures_total",
		Help: "Daily rebase passes that aborted and will retry.",
	})

	// RebaseDuration observes wall time of the whole daily pass.
	RebaseDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "credex_rebase_duration_seconds",
		Help:    "Duration of the daily rebase pass.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})
)
