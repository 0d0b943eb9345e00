package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Transfer metrics
var (
	FilesTransferred = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shareingest_files_transferred_total",
			Help: "Total number of remote files copied into staging",
		},
	)

	FilesFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shareingest_files_failed_total",
			Help: "Total number of files whose transfer exhausted its retries",
		},
	)

	FilesTrashed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shareingest_files_trashed_total",
			Help: "Total number of staged files moved to quarantine as unsupported",
		},
	)

	TransferAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shareingest_transfer_attempts_total",
			Help: "Transfer tool invocations by outcome",
		},
		[]string{"outcome"}, // "ok", "error", "empty"
	)

	TransferDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shareingest_transfer_duration_seconds",
			Help:    "Wall-clock duration of a single file transfer including retries",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)
)

// Scheduler metrics
var (
	BatchTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shareingest_batch_timeouts_total",
			Help: "Total number of batches abandoned at their deadline",
		},
	)

	BatchesCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shareingest_batches_completed_total",
			Help: "Total number of batches checkpointed",
		},
	)

	JobsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shareingest_jobs_finished_total",
			Help: "Jobs reaching a terminal status",
		},
		[]string{"status"},
	)

	JobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shareingest_jobs_active",
			Help: "Number of ingestion jobs currently running",
		},
	)
)

// Mount metrics
var (
	MountOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shareingest_mount_operations_total",
			Help: "Mount and unmount invocations by outcome",
		},
		[]string{"operation", "status"},
	)
)
