package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// WALMetrics holds metrics for WAL writes. It implements wal.MetricsRecorder.
type WALMetrics struct {
	// AppendsTotal counts appended frames.
	AppendsTotal prometheus.Counter

	// AppendBytesTotal counts encoded frame bytes appended.
	AppendBytesTotal prometheus.Counter

	// FsyncLatencyHistogram tracks fsync latency in seconds.
	FsyncLatencyHistogram prometheus.Histogram
}

// DefaultWALFsyncLatencyBuckets range from fast local disks to slow
// network volumes.
var DefaultWALFsyncLatencyBuckets = []float64{
	0.0001, // 100us
	0.0005, // 500us
	0.001,  // 1ms
	0.005,  // 5ms
	0.01,   // 10ms
	0.025,  // 25ms
	0.05,   // 50ms
	0.1,    // 100ms
	0.25,   // 250ms
	0.5,    // 500ms
	1.0,    // 1s
}

// NewWALMetrics creates WAL metrics registered with the default registry.
func NewWALMetrics() *WALMetrics {
	return newWALMetrics(promauto.With(prometheus.DefaultRegisterer))
}

// NewWALMetricsWithRegistry creates WAL metrics registered with reg.
func NewWALMetricsWithRegistry(reg prometheus.Registerer) *WALMetrics {
	return newWALMetrics(promauto.With(reg))
}

func newWALMetrics(f promauto.Factory) *WALMetrics {
	return &WALMetrics{
		AppendsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "wal",
			Name:      "appends_total",
			Help:      "Total WAL frames appended.",
		}),
		AppendBytesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "wal",
			Name:      "append_bytes_total",
			Help:      "Total encoded WAL bytes appended.",
		}),
		FsyncLatencyHistogram: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "wal",
			Name:      "fsync_latency_seconds",
			Help:      "WAL fsync latency in seconds.",
			Buckets:   DefaultWALFsyncLatencyBuckets,
		}),
	}
}

// RecordAppend records one appended frame of the given encoded size.
func (m *WALMetrics) RecordAppend(bytes int) {
	m.AppendsTotal.Inc()
	m.AppendBytesTotal.Add(float64(bytes))
}

// RecordSync records one fsync.
func (m *WALMetrics) RecordSync(durationSeconds float64) {
	m.FsyncLatencyHistogram.Observe(durationSeconds)
}
