package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dray-io/sdbcompact/internal/compaction"
	"github.com/dray-io/sdbcompact/internal/config"
	"github.com/dray-io/sdbcompact/internal/logging"
	"github.com/dray-io/sdbcompact/internal/metadata"
	"github.com/dray-io/sdbcompact/internal/metrics"
	"github.com/dray-io/sdbcompact/internal/objectstore"
	"github.com/dray-io/sdbcompact/internal/objectstore/s3"
)

func runCompact(args []string) {
	fs := flag.NewFlagSet("compact", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	mnodeDir := fs.String("mnode-dir", "", "Override mnode data directory")
	sourceDir := fs.String("source", "", "Override source WAL directory")
	targetDir := fs.String("target", "", "Override target WAL directory")
	codec := fs.String("codec", "", "Override target codec (none, snappy, lz4, zstd)")
	archive := fs.Bool("archive", false, "Archive the source segment before compacting")
	metricsFile := fs.String("metrics-file", "", "Write Prometheus textfile metrics to this path")
	jsonOutput := fs.Bool("json", false, "Output the summary in JSON format")
	quiet := fs.Bool("quiet", false, "Suppress log output")

	fs.Usage = func() {
		fmt.Println(`Usage: sdbcompact compact [options]

Rewrite the mnode WAL into the target directory, keeping every record
whose key is still live at the end of the log. The mnode must be stopped.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Apply CLI overrides
	if *mnodeDir != "" {
		cfg.Mnode.Dir = *mnodeDir
	}
	if *sourceDir != "" {
		cfg.Compaction.SourceDir = *sourceDir
	}
	if *targetDir != "" {
		cfg.Compaction.TargetDir = *targetDir
	}
	if *codec != "" {
		cfg.WAL.Codec = *codec
	}
	if *archive {
		cfg.Archive.Enabled = true
	}
	if *metricsFile != "" {
		cfg.Observability.MetricsFile = *metricsFile
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg, *quiet)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := compact(ctx, cfg, logger)
	if err != nil {
		logger.Errorf("compaction failed", map[string]any{"error": err.Error()})
		stop()
		os.Exit(1)
	}

	if err := printResult(os.Stdout, res, *jsonOutput); err != nil {
		fmt.Fprintf(os.Stderr, "failed to print result: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// compact runs one compaction with cfg while holding the mnode directory
// lock. Metrics go to a private registry
// that is served on MetricsAddr during the run and written to MetricsFile
// afterwards, whatever the outcome.
func compact(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*compaction.Result, error) {
	reg := prometheus.NewRegistry()
	logger = logger.WithVgID(cfg.Mnode.VgID)

	lock, err := compaction.AcquireDirLock(cfg.Mnode.Dir, "sdbcompact "+version)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warnf("failed to release mnode lock", map[string]any{"error": err.Error()})
		}
	}()

	walCfg := cfg.WALConfig()
	walCfg.Metrics = metrics.NewWALMetricsWithRegistry(reg)

	registry, err := metadata.NewRegistry(cfg.Compaction.HashSessions)
	if err != nil {
		return nil, err
	}

	c := compaction.New(registry, compaction.NewFileStorage(walCfg), compaction.Config{
		SourceDir: cfg.SourcePath(),
		TargetDir: cfg.TargetPath(),
	}).
		WithLogger(logger).
		WithMetrics(metrics.NewCompactionMetricsWithRegistry(reg))

	if cfg.Archive.Enabled {
		store, err := openArchiveStore(ctx, cfg, reg)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		c.WithArchiver(compaction.NewObjectArchiver(store, cfg.Archive.Prefix, cfg.Mnode.VgID))
	}

	if cfg.Observability.MetricsAddr != "" {
		srv := metrics.NewServerWithRegistry(cfg.Observability.MetricsAddr, reg)
		if err := srv.Start(); err != nil {
			return nil, fmt.Errorf("metrics server: %w", err)
		}
		defer srv.Close()
		logger.Infof("metrics server listening", map[string]any{"addr": srv.Addr()})
	}

	res, runErr := c.Compact(ctx)

	if path := cfg.Observability.MetricsFile; path != "" {
		if err := metrics.WriteTextfile(path, reg); err != nil {
			logger.Warnf("failed to write metrics textfile", map[string]any{
				"path":  path,
				"error": err.Error(),
			})
		}
	}
	return res, runErr
}

// openArchiveStore connects to the archive bucket and instruments it with
// object store metrics registered on reg.
func openArchiveStore(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (objectstore.Store, error) {
	store, err := s3.New(ctx, s3.Config{
		Bucket:          cfg.Archive.Bucket,
		Region:          cfg.Archive.Region,
		Endpoint:        cfg.Archive.Endpoint,
		AccessKeyID:     cfg.Archive.AccessKey,
		SecretAccessKey: cfg.Archive.SecretKey,
		UsePathStyle:    cfg.Archive.UsePathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("archive store: %w", err)
	}
	if err := store.VerifyBucket(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("archive store: %w", err)
	}
	return objectstore.NewInstrumentedStore(store, metrics.NewObjectStoreMetricsWithRegistry(reg)), nil
}

type resultSummary struct {
	RunID         string         `json:"runId"`
	SourceDir     string         `json:"sourceDir"`
	TargetDir     string         `json:"targetDir"`
	SourceRecords int64          `json:"sourceRecords"`
	Emitted       int64          `json:"emitted"`
	Skipped       int64          `json:"skipped"`
	Dropped       int64          `json:"dropped"`
	Survivors     map[string]int `json:"survivors"`
	ArchiveKey    string         `json:"archiveKey,omitempty"`
	DurationMs    int64          `json:"durationMs"`
}

func printResult(w io.Writer, res *compaction.Result, jsonOutput bool) error {
	if jsonOutput {
		data, err := json.MarshalIndent(resultSummary{
			RunID:         res.RunID,
			SourceDir:     res.SourceDir,
			TargetDir:     res.TargetDir,
			SourceRecords: res.SourceRecords,
			Emitted:       res.Emitted,
			Skipped:       res.Skipped,
			Dropped:       res.Dropped,
			Survivors:     res.Survivors,
			ArchiveKey:    res.ArchiveKey,
			DurationMs:    res.Duration.Milliseconds(),
		}, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Run ID:\t%s\n", res.RunID)
	fmt.Fprintf(tw, "Source:\t%s\n", res.SourceDir)
	fmt.Fprintf(tw, "Target:\t%s\n", res.TargetDir)
	fmt.Fprintf(tw, "Records:\t%d read, %d written, %d skipped, %d dropped\n",
		res.SourceRecords, res.Emitted, res.Skipped, res.Dropped)
	if res.ArchiveKey != "" {
		fmt.Fprintf(tw, "Archive:\t%s\n", res.ArchiveKey)
	}
	fmt.Fprintf(tw, "Duration:\t%s\n", res.Duration)
	if err := tw.Flush(); err != nil {
		return err
	}

	names := make([]string, 0, len(res.Survivors))
	for name := range res.Survivors {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TABLE\tLIVE KEYS")
	for _, name := range names {
		fmt.Fprintf(tw, "%s\t%d\n", name, res.Survivors[name])
	}
	return tw.Flush()
}
