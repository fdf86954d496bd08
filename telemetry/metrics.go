// Package telemetry instruments backend operations with Prometheus
// metrics and, for longer-lived processes, periodic OpenTelemetry export
// (spec.md §4.16's observability stack, carried as ambient infrastructure
// the way every backend already carries structured logging).
package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var registerOnce sync.Once

var sizeBuckets = []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 67108864}

// Metrics holds the Prometheus collectors this module exports. Grounded on
// the RED-metrics (rate/errors/duration) shape used elsewhere in the
// example pack for storage operations.
var (
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mscfile_operations_total",
			Help: "Backend operations by scheme, operation, and outcome",
		},
		[]string{"scheme", "op", "status"},
	)

	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mscfile_operation_duration_seconds",
			Help:    "Backend operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"scheme", "op"},
	)

	BytesTransferred = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mscfile_bytes_transferred_total",
			Help: "Bytes read from or written to a backend",
		},
		[]string{"scheme", "direction"},
	)

	TransferSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mscfile_transfer_size_bytes",
			Help:    "Size distribution of individual read/write operations",
			Buckets: sizeBuckets,
		},
		[]string{"scheme", "direction"},
	)
)

// Register installs this package's collectors into reg. Safe to call more
// than once; subsequent calls are no-ops, matching the idempotent-register
// pattern every long-running exporter in the pack uses.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(OperationsTotal, OperationDuration, BytesTransferred, TransferSize)
	})
}

// Observe records one completed operation's outcome and latency.
func Observe(scheme, op string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	OperationsTotal.WithLabelValues(scheme, op, status).Inc()
	OperationDuration.WithLabelValues(scheme, op).Observe(time.Since(start).Seconds())
}

// ObserveBytes records n bytes moved in direction ("read" or "write") on scheme.
func ObserveBytes(scheme, direction string, n int64) {
	if n <= 0 {
		return
	}
	BytesTransferred.WithLabelValues(scheme, direction).Add(float64(n))
	TransferSize.WithLabelValues(scheme, direction).Observe(float64(n))
}
