package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/goccy/go-json"

	"github.com/dray-io/sdbcompact/internal/compaction"
	"github.com/dray-io/sdbcompact/internal/metadata"
	"github.com/dray-io/sdbcompact/internal/wal"
)

func runDump(args []string) {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	dir := fs.String("dir", "", "WAL directory to dump (default: the configured source)")
	table := fs.String("table", "", "Only print records of this table")
	jsonOutput := fs.Bool("json", false, "Output one JSON object per record")

	fs.Usage = func() {
		fmt.Println(`Usage: sdbcompact dump [options]

Print the records of a WAL directory with their decoded keys.

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
	if *dir == "" {
		*dir = cfg.SourcePath()
	}

	registry, err := metadata.NewRegistry(cfg.Compaction.HashSessions)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build table registry: %v\n", err)
		os.Exit(1)
	}

	opts := dumpOptions{WAL: cfg.WALConfig(), Table: *table, JSON: *jsonOutput}
	if err := dump(context.Background(), *dir, registry, os.Stdout, opts); err != nil {
		fmt.Fprintf(os.Stderr, "dump failed: %v\n", err)
		os.Exit(1)
	}
}

type dumpOptions struct {
	// WAL carries the configured buffer and frame limits. It is always
	// opened read-only.
	WAL   wal.Config
	Table string
	JSON  bool
}

type dumpEntry struct {
	Seq     int64  `json:"seq"`
	Version uint64 `json:"version"`
	Type    int32  `json:"type"`
	Table   string `json:"table,omitempty"`
	Action  string `json:"action"`
	Key     string `json:"key,omitempty"`
	Size    int    `json:"size"`
	Error   string `json:"error,omitempty"`
}

// dump prints every record in dir. Unlike compaction it never stops on a
// bad record; unknown tables and decode failures are reported inline.
// Sequence numbers start at 0, matching the ones in compaction errors.
func dump(ctx context.Context, dir string, registry *compaction.Registry, w io.Writer, opts dumpOptions) error {
	walCfg := opts.WAL
	walCfg.ReadOnly = true
	log, err := wal.Open(dir, walCfg)
	if err != nil {
		return err
	}
	defer log.Close()

	var (
		tw  *tabwriter.Writer
		enc *json.Encoder
	)
	if opts.JSON {
		enc = json.NewEncoder(w)
	} else {
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "SEQ\tVERSION\tTABLE\tACTION\tKEY\tSIZE")
	}

	var seq int64
	err = log.Replay(ctx, func(rec wal.Record) error {
		entry := describe(registry, seq, rec)
		seq++
		if opts.Table != "" && entry.Table != opts.Table {
			return nil
		}
		if enc != nil {
			return enc.Encode(entry)
		}
		key := entry.Key
		if entry.Error != "" {
			key = "<" + entry.Error + ">"
		}
		table := entry.Table
		if table == "" {
			table = "?"
		}
		_, err := fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%d\n",
			entry.Seq, entry.Version, table, entry.Action, key, entry.Size)
		return err
	})
	if err != nil {
		return err
	}
	if tw != nil {
		return tw.Flush()
	}
	return nil
}

func describe(registry *compaction.Registry, seq int64, rec wal.Record) dumpEntry {
	id, action := compaction.SplitType(rec.Type)
	entry := dumpEntry{
		Seq:     seq,
		Version: rec.Version,
		Type:    rec.Type,
		Action:  action.String(),
		Size:    len(rec.Payload),
	}

	table, err := registry.Lookup(id)
	if err != nil {
		entry.Error = "unknown table"
		return entry
	}
	entry.Table = table.Name()

	row, err := table.Decode(rec.Payload)
	if err != nil {
		entry.Error = "decode: " + err.Error()
		return entry
	}
	key, err := compaction.ExtractKey(table.KeyType(), row)
	switch {
	case errors.Is(err, compaction.ErrKeyTypeMismatch):
		entry.Error = "key type mismatch"
	case err != nil:
		entry.Error = err.Error()
	case len(key) == 0:
		entry.Error = "no key"
	default:
		entry.Key = compaction.FormatKey(table.KeyType(), key)
	}
	return entry
}
