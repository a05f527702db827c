// Package metrics provides Prometheus metrics for compaction runs, WAL
// writes and archive uploads.
//
// Each metric set has a constructor registering with the default registry
// and a WithRegistry variant for tests and isolated runs:
//
//	reg := prometheus.NewRegistry()
//	cm := metrics.NewCompactionMetricsWithRegistry(reg)
//	wm := metrics.NewWALMetricsWithRegistry(reg)
//
//	storage := compaction.NewFileStorage(wal.Config{Metrics: wm})
//	c := compaction.New(registry, storage, cfg).WithMetrics(cm)
//
// A one-shot compaction writes its metrics with WriteTextfile for a node
// exporter textfile collector; Server exposes /metrics while a run is in
// progress.
package metrics
