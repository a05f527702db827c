package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ObjectStoreMetrics holds metrics for archive uploads and other object
// store operations. It implements objectstore.MetricsRecorder.
type ObjectStoreMetrics struct {
	// LatencyHistogram tracks operation latency. Labels: operation, status.
	LatencyHistogram *prometheus.HistogramVec

	// RequestsTotal counts operations. Labels: operation, status.
	RequestsTotal *prometheus.CounterVec

	// BytesTotal counts bytes transferred. Labels: direction (read, write).
	BytesTotal *prometheus.CounterVec
}

// Bytes direction label values.
const (
	DirectionRead  = "read"
	DirectionWrite = "write"
)

// DefaultObjectStoreLatencyBuckets are latency buckets for object store operations.
// Optimized for S3/GCS/Azure blob operations which typically range from tens of ms to seconds.
var DefaultObjectStoreLatencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0,
}

// NewObjectStoreMetrics creates object store metrics registered with the
// default registry.
func NewObjectStoreMetrics() *ObjectStoreMetrics {
	return newObjectStoreMetrics(promauto.With(prometheus.DefaultRegisterer))
}

// NewObjectStoreMetricsWithRegistry creates object store metrics registered with reg.
func NewObjectStoreMetricsWithRegistry(reg prometheus.Registerer) *ObjectStoreMetrics {
	return newObjectStoreMetrics(promauto.With(reg))
}

func newObjectStoreMetrics(f promauto.Factory) *ObjectStoreMetrics {
	return &ObjectStoreMetrics{
		LatencyHistogram: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "objectstore",
			Name:      "operation_latency_seconds",
			Help:      "Object store operation latency in seconds, broken down by operation and status.",
			Buckets:   DefaultObjectStoreLatencyBuckets,
		}, []string{"operation", "status"}),
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "objectstore",
			Name:      "operations_total",
			Help:      "Total object store operations, broken down by operation and status.",
		}, []string{"operation", "status"}),
		BytesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "objectstore",
			Name:      "bytes_total",
			Help:      "Total bytes transferred by direction (read/write).",
		}, []string{"direction"}),
	}
}

// RecordOp records one operation. Bytes of successful puts count as
// written and of successful gets as read.
func (m *ObjectStoreMetrics) RecordOp(op string, durationSeconds float64, success bool, bytes int64) {
	status := StatusFailure
	if success {
		status = StatusSuccess
	}
	m.LatencyHistogram.WithLabelValues(op, status).Observe(durationSeconds)
	m.RequestsTotal.WithLabelValues(op, status).Inc()

	if !success || bytes <= 0 {
		return
	}
	switch op {
	case "put":
		m.BytesTotal.WithLabelValues(DirectionWrite).Add(float64(bytes))
	case "get":
		m.BytesTotal.WithLabelValues(DirectionRead).Add(float64(bytes))
	}
}
