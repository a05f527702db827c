package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dray-io/sdbcompact/internal/compaction"
	"github.com/dray-io/sdbcompact/internal/config"
	"github.com/dray-io/sdbcompact/internal/logging"
	"github.com/dray-io/sdbcompact/internal/metrics"
)

func runArchive(args []string) {
	if len(args) < 1 {
		printArchiveUsage()
		os.Exit(1)
	}

	action := args[0]
	fs := flag.NewFlagSet("archive "+action, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOutput := fs.Bool("json", false, "Output in JSON format")
	key := fs.String("key", "", "Archive object key to restore")
	target := fs.String("target", "", "Directory to restore into (default: the configured source)")
	quiet := fs.Bool("quiet", false, "Suppress log output")

	if err := fs.Parse(args[1:]); err != nil {
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Archive.Bucket == "" {
		fmt.Fprintln(os.Stderr, "archive.bucket is not configured")
		os.Exit(1)
	}
	logger := newLogger(cfg, *quiet)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLoggerCtx(ctx, logger.WithVgID(cfg.Mnode.VgID))

	reg := prometheus.NewRegistry()
	store, err := openArchiveStore(ctx, cfg, reg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer store.Close()
	archiver := compaction.NewObjectArchiver(store, cfg.Archive.Prefix, cfg.Mnode.VgID)

	switch action {
	case "list":
		err = listArchives(ctx, archiver, os.Stdout, *jsonOutput)
	case "restore":
		if *key == "" {
			fmt.Fprintln(os.Stderr, "-key is required")
			os.Exit(1)
		}
		dir := *target
		if dir == "" {
			dir = cfg.SourcePath()
		}
		err = restoreArchive(ctx, cfg, archiver, *key, dir)
	default:
		fmt.Fprintf(os.Stderr, "unknown archive action: %s\n\n", action)
		printArchiveUsage()
		os.Exit(1)
	}

	if path := cfg.Observability.MetricsFile; path != "" {
		if werr := metrics.WriteTextfile(path, reg); werr != nil {
			logger.Warnf("failed to write metrics textfile", map[string]any{"path": path, "error": werr.Error()})
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "archive %s failed: %v\n", action, err)
		stop()
		os.Exit(1)
	}
}

func printArchiveUsage() {
	fmt.Println(`Usage: sdbcompact archive <list|restore> [options]

Actions:
  list       List the archived segments of the configured vgroup
  restore    Download an archived segment into an empty WAL directory

Options:
  -config    Path to configuration file
  -json      Output in JSON format (list)
  -key       Archive object key (restore)
  -target    Directory to restore into (restore)
  -quiet     Suppress log output`)
}

type archiveEntry struct {
	Key          string `json:"key"`
	Size         int64  `json:"size"`
	RunID        string `json:"runId,omitempty"`
	LastModified string `json:"lastModified,omitempty"`
}

func listArchives(ctx context.Context, archiver *compaction.ObjectArchiver, w io.Writer, jsonOutput bool) error {
	objects, err := archiver.List(ctx)
	if err != nil {
		return err
	}

	entries := make([]archiveEntry, 0, len(objects))
	for _, obj := range objects {
		e := archiveEntry{Key: obj.Key, Size: obj.Size, RunID: obj.Metadata["run-id"]}
		if obj.LastModified > 0 {
			e.LastModified = time.UnixMilli(obj.LastModified).UTC().Format(time.RFC3339)
		}
		entries = append(entries, e)
	}

	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tSIZE\tMODIFIED")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", e.Key, e.Size, e.LastModified)
	}
	return tw.Flush()
}

// restoreArchive downloads key into dir while holding the mnode lock.
func restoreArchive(ctx context.Context, cfg *config.Config, archiver *compaction.ObjectArchiver, key, dir string) error {
	lock, err := compaction.AcquireDirLock(cfg.Mnode.Dir, "sdbcompact restore "+version)
	if err != nil {
		return err
	}
	defer lock.Release()

	_, err = archiver.Restore(ctx, key, dir)
	return err
}
