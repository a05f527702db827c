package compaction

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dray-io/sdbcompact/internal/logging"
)

// Lifecycle errors. Each one wraps the underlying cause.
var (
	ErrOpenSource    = errors.New("compaction: open source wal failed")
	ErrArchive       = errors.New("compaction: archive source wal failed")
	ErrTargetDir     = errors.New("compaction: create target dir failed")
	ErrTargetLog     = errors.New("compaction: target wal failed")
	ErrRunInProgress = errors.New("compaction: run already in progress")
)

// Run statuses reported to the metrics recorder.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// MetricsRecorder receives compaction measurements.
type MetricsRecorder interface {
	RecordRun(status string, durationSeconds float64)
	RecordPass(pass string, durationSeconds float64, records int64)
	RecordEmitted(n int64)
	RecordSkipped(table string)
	RecordDropped(table string)
	SetSurvivors(table string, n int)
}

// Archiver copies the source log somewhere durable before it is compacted.
type Archiver interface {
	Archive(ctx context.Context, runID, sourceDir string) (key string, err error)
}

// Config names the directories a run reads from and writes to.
type Config struct {
	SourceDir string
	TargetDir string
}

// Result summarizes a successful run.
type Result struct {
	RunID     string
	SourceDir string
	TargetDir string

	// SourceRecords counts records with a resolved table in the source.
	SourceRecords int64
	// Emitted is the number of records written to the target.
	Emitted int64
	// Skipped counts records with no key identity.
	Skipped int64
	// Dropped counts records whose key did not survive.
	Dropped int64
	// Survivors is the live key count per table name.
	Survivors map[string]int

	ArchiveKey string

	IndexDuration time.Duration
	WriteDuration time.Duration
	Duration      time.Duration
}

// Compactor rewrites a source WAL into a target directory holding only the
// records of keys that are still live.
//
// The registry is borrowed: its survivor indexes are reset at the start of
// every run and hold the final survivor sets afterwards.
type Compactor struct {
	registry *Registry
	storage  LogStorage
	cfg      Config
	logger   *logging.Logger
	metrics  MetricsRecorder
	archiver Archiver

	running atomic.Bool
}

// New creates a Compactor.
func New(registry *Registry, storage LogStorage, cfg Config) *Compactor {
	return &Compactor{
		registry: registry,
		storage:  storage,
		cfg:      cfg,
		logger:   logging.Global(),
	}
}

// WithLogger sets the logger used for run progress.
func (c *Compactor) WithLogger(l *logging.Logger) *Compactor {
	if l != nil {
		c.logger = l
	}
	return c
}

// WithMetrics sets the metrics recorder.
func (c *Compactor) WithMetrics(m MetricsRecorder) *Compactor {
	c.metrics = m
	return c
}

// WithArchiver enables archiving the source log before compaction.
func (c *Compactor) WithArchiver(a Archiver) *Compactor {
	c.archiver = a
	return c
}

// Compact runs both passes. ctx is checked between lifecycle steps only;
// once a pass starts it runs to completion or failure.
func (c *Compactor) Compact(ctx context.Context) (*Result, error) {
	if !c.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer c.running.Store(false)

	start := time.Now()
	r := newRun(c.registry, c.storage, c.metrics, c.logger)
	result, err := c.execute(ctx, r)
	r.release()

	elapsed := time.Since(start)
	status := StatusSuccess
	if err != nil {
		status = StatusFailure
		r.logger.Errorf("compact mnode wal failed", map[string]any{
			"error":  err.Error(),
			"source": c.cfg.SourceDir,
			"target": c.cfg.TargetDir,
		})
	}
	if c.metrics != nil {
		c.metrics.RecordRun(status, elapsed.Seconds())
	}
	if err != nil {
		return nil, err
	}

	result.Duration = elapsed
	r.logger.Infof("finish to compact mnode wal", map[string]any{
		"newWalCount": result.Emitted,
		"dropped":     result.Dropped,
		"skipped":     result.Skipped,
		"durationMs":  elapsed.Milliseconds(),
	})
	return result, nil
}

func (c *Compactor) execute(ctx context.Context, r *run) (*Result, error) {
	c.registry.Reset()
	r.logger.Infof("start compact mnode wal", map[string]any{
		"source": c.cfg.SourceDir,
		"target": c.cfg.TargetDir,
		"tables": c.registry.Len(),
	})

	result := &Result{
		RunID:     r.id,
		SourceDir: c.cfg.SourceDir,
		TargetDir: c.cfg.TargetDir,
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	same, err := SameDir(c.cfg.SourceDir, c.cfg.TargetDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTargetDir, err)
	}
	if same {
		return nil, fmt.Errorf("%w: %w: %s", ErrTargetDir, ErrTargetIsSource, c.cfg.TargetDir)
	}

	src, err := c.storage.Open(c.cfg.SourceDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOpenSource, c.cfg.SourceDir, err)
	}
	r.source = src

	if c.archiver != nil {
		actx := logging.WithLoggerCtx(logging.WithRunIDCtx(ctx, r.id), r.logger)
		key, err := c.archiver.Archive(actx, r.id, c.cfg.SourceDir)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrArchive, err)
		}
		result.ArchiveKey = key
		r.logger.Infof("source wal archived", map[string]any{"key": key})
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := EnsureDir(c.cfg.TargetDir); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTargetDir, err)
	}
	dst, err := c.storage.Create(c.cfg.TargetDir)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", ErrTargetLog, c.cfg.TargetDir, err)
	}
	r.target = dst

	passCtx := context.WithoutCancel(ctx)

	start := time.Now()
	if err := r.buildSurvivors(passCtx); err != nil {
		r.logUnknownTable(err)
		return nil, err
	}
	result.IndexDuration = time.Since(start)
	c.recordPass(PassIndex, result.IndexDuration, r.sourceRecords)
	r.logger.Infof("survivor index built", map[string]any{
		"records":    r.sourceRecords,
		"skipped":    r.skipped,
		"durationMs": result.IndexDuration.Milliseconds(),
	})

	if err := r.closeSource(); err != nil {
		return nil, fmt.Errorf("compaction: close source wal: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src, err = c.storage.Open(c.cfg.SourceDir)
	if err != nil {
		return nil, fmt.Errorf("%w: reopen %s: %w", ErrOpenSource, c.cfg.SourceDir, err)
	}
	r.source = src

	start = time.Now()
	if err := r.writeSurvivors(passCtx); err != nil {
		r.logUnknownTable(err)
		return nil, err
	}
	result.WriteDuration = time.Since(start)
	c.recordPass(PassWrite, result.WriteDuration, r.emitted+r.dropped)
	if err := r.closeSource(); err != nil {
		return nil, fmt.Errorf("compaction: close source wal: %w", err)
	}

	if err := r.target.Flush(true); err != nil {
		return nil, fmt.Errorf("%w: flush: %w", ErrTargetLog, err)
	}
	if err := r.closeTarget(); err != nil {
		return nil, fmt.Errorf("%w: close: %w", ErrTargetLog, err)
	}

	result.SourceRecords = r.sourceRecords
	result.Emitted = r.emitted
	result.Skipped = r.skipped
	result.Dropped = r.dropped
	result.Survivors = make(map[string]int, c.registry.Len())
	for _, t := range c.registry.Tables() {
		n := t.index.Len()
		result.Survivors[t.name] = n
		if c.metrics != nil {
			c.metrics.SetSurvivors(t.name, n)
		}
	}
	if c.metrics != nil {
		c.metrics.RecordEmitted(r.emitted)
	}
	return result, nil
}

func (c *Compactor) recordPass(pass string, d time.Duration, records int64) {
	if c.metrics != nil {
		c.metrics.RecordPass(pass, d.Seconds(), records)
	}
}

func (r *run) logUnknownTable(err error) {
	if !errors.Is(err, ErrUnknownTable) {
		return
	}
	var recErr *RecordError
	if errors.As(err, &recErr) {
		id, _ := SplitType(recErr.Type)
		r.logger.Errorf("sdb table not registered, wal corrupted", map[string]any{
			"pass":    recErr.Pass,
			"seq":     recErr.Seq,
			"type":    recErr.Type,
			"tableId": int32(id),
		})
	}
}
