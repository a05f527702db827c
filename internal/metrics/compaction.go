package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric name.
const Namespace = "sdb"

// Status label values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// CompactionMetrics holds metrics for WAL compaction runs. It implements
// compaction.MetricsRecorder.
type CompactionMetrics struct {
	// RunsTotal counts finished runs. Labels: status.
	RunsTotal *prometheus.CounterVec

	// RunDurationHistogram tracks whole-run duration in seconds.
	RunDurationHistogram prometheus.Histogram

	// PassDurationHistogram tracks pass duration in seconds. Labels: pass (index, write).
	PassDurationHistogram *prometheus.HistogramVec

	// RecordsTotal counts records scanned per pass. Labels: pass.
	RecordsTotal *prometheus.CounterVec

	// EmittedTotal counts records written to compacted logs.
	EmittedTotal prometheus.Counter

	// SkippedTotal counts records with no key. Labels: table.
	SkippedTotal *prometheus.CounterVec

	// DroppedTotal counts records of dead keys. Labels: table.
	DroppedTotal *prometheus.CounterVec

	// SurvivorsGauge is the live key count after the last run. Labels: table.
	SurvivorsGauge *prometheus.GaugeVec
}

// DefaultCompactionDurationBuckets cover small catalogs (ms) to very large
// ones (minutes).
var DefaultCompactionDurationBuckets = []float64{
	0.001, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600,
}

// NewCompactionMetrics creates compaction metrics registered with the
// default registry.
func NewCompactionMetrics() *CompactionMetrics {
	return newCompactionMetrics(promauto.With(prometheus.DefaultRegisterer))
}

// NewCompactionMetricsWithRegistry creates compaction metrics registered with reg.
func NewCompactionMetricsWithRegistry(reg prometheus.Registerer) *CompactionMetrics {
	return newCompactionMetrics(promauto.With(reg))
}

func newCompactionMetrics(f promauto.Factory) *CompactionMetrics {
	return &CompactionMetrics{
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "compaction",
			Name:      "runs_total",
			Help:      "Total compaction runs by status.",
		}, []string{"status"}),
		RunDurationHistogram: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "compaction",
			Name:      "run_duration_seconds",
			Help:      "Compaction run duration in seconds.",
			Buckets:   DefaultCompactionDurationBuckets,
		}),
		PassDurationHistogram: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "compaction",
			Name:      "pass_duration_seconds",
			Help:      "Compaction pass duration in seconds.",
			Buckets:   DefaultCompactionDurationBuckets,
		}, []string{"pass"}),
		RecordsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "compaction",
			Name:      "records_total",
			Help:      "Records scanned by compaction pass.",
		}, []string{"pass"}),
		EmittedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "compaction",
			Name:      "records_emitted_total",
			Help:      "Records written to compacted WALs.",
		}),
		SkippedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "compaction",
			Name:      "records_skipped_total",
			Help:      "Records skipped because they carry no key.",
		}, []string{"table"}),
		DroppedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "compaction",
			Name:      "records_dropped_total",
			Help:      "Records dropped because their key did not survive.",
		}, []string{"table"}),
		SurvivorsGauge: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "compaction",
			Name:      "survivors",
			Help:      "Live keys per table after the last compaction run.",
		}, []string{"table"}),
	}
}

// RecordRun records a finished run.
func (m *CompactionMetrics) RecordRun(status string, durationSeconds float64) {
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDurationHistogram.Observe(durationSeconds)
}

// RecordPass records a completed pass.
func (m *CompactionMetrics) RecordPass(pass string, durationSeconds float64, records int64) {
	m.PassDurationHistogram.WithLabelValues(pass).Observe(durationSeconds)
	m.RecordsTotal.WithLabelValues(pass).Add(float64(records))
}

// RecordEmitted adds n written records.
func (m *CompactionMetrics) RecordEmitted(n int64) {
	m.EmittedTotal.Add(float64(n))
}

// RecordSkipped counts a keyless record.
func (m *CompactionMetrics) RecordSkipped(table string) {
	m.SkippedTotal.WithLabelValues(table).Inc()
}

// RecordDropped counts a dead-key record.
func (m *CompactionMetrics) RecordDropped(table string) {
	m.DroppedTotal.WithLabelValues(table).Inc()
}

// SetSurvivors sets the live key count of a table.
func (m *CompactionMetrics) SetSurvivors(table string, n int) {
	m.SurvivorsGauge.WithLabelValues(table).Set(float64(n))
}
