package compaction

import (
	"context"
	"errors"
	"fmt"

	"github.com/dray-io/sdbcompact/internal/logging"
	"github.com/dray-io/sdbcompact/internal/wal"
	"github.com/google/uuid"
)

// ErrDecode wraps failures returned by a table decoder.
var ErrDecode = errors.New("compaction: decode failed")

// Action is the mutation kind carried in the low digit of a type tag.
type Action int32

const (
	// ActionDelete removes a key. Every other action is an upsert.
	ActionDelete Action = 0
	// ActionInsert creates a row.
	ActionInsert Action = 1
	// ActionUpdate replaces a row.
	ActionUpdate Action = 2
)

// IsDelete reports whether the action removes its key.
func (a Action) IsDelete() bool {
	return a == ActionDelete
}

func (a Action) String() string {
	switch a {
	case ActionDelete:
		return "delete"
	case ActionInsert:
		return "insert"
	case ActionUpdate:
		return "update"
	default:
		return fmt.Sprintf("action(%d)", int32(a))
	}
}

// SplitType splits a type tag into its table and action.
func SplitType(tag int32) (TableID, Action) {
	return TableID(tag / 10), Action(tag % 10)
}

// TypeTag builds the type tag for a table and action.
func TypeTag(id TableID, a Action) int32 {
	return int32(id)*10 + int32(a)
}

// RecordError locates a record that aborted a pass.
type RecordError struct {
	Pass    string
	Seq     int64
	Version uint64
	Type    int32
	Table   string
	Err     error
}

func (e *RecordError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("compaction: %s pass record %d (version %d, type %d): %v", e.Pass, e.Seq, e.Version, e.Type, e.Err)
	}
	return fmt.Sprintf("compaction: %s pass record %d (version %d, type %d, table %s): %v", e.Pass, e.Seq, e.Version, e.Type, e.Table, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// Pass names used in logs, errors and metrics.
const (
	PassIndex = "index"
	PassWrite = "write"
)

// run is the state of one compaction: the two log handles, the borrowed
// registry and the counters reported in the Result.
type run struct {
	id       string
	registry *Registry
	storage  LogStorage
	metrics  MetricsRecorder
	logger   *logging.Logger

	source Log
	target Log

	sourceRecords int64
	emitted       int64
	skipped       int64
	dropped       int64
}

func newRun(registry *Registry, storage LogStorage, metrics MetricsRecorder, logger *logging.Logger) *run {
	id := uuid.NewString()
	return &run{
		id:       id,
		registry: registry,
		storage:  storage,
		metrics:  metrics,
		logger:   logger.WithRunID(id),
	}
}

// resolved is a decoded record ready for index operations.
type resolved struct {
	table  *Table
	action Action
	key    []byte
}

// resolve decodes rec and extracts its key. A nil key means skip.
func (r *run) resolve(pass string, seq int64, rec wal.Record) (resolved, error) {
	id, action := SplitType(rec.Type)
	fail := func(table string, err error) (resolved, error) {
		return resolved{}, &RecordError{Pass: pass, Seq: seq, Version: rec.Version, Type: rec.Type, Table: table, Err: err}
	}

	t, err := r.registry.Lookup(id)
	if err != nil {
		return fail("", err)
	}
	row, err := t.decoder.Decode(rec.Payload)
	if err != nil {
		return fail(t.name, fmt.Errorf("%w: %w", ErrDecode, err))
	}
	key, err := ExtractKey(t.keyType, row)
	if err != nil {
		return fail(t.name, err)
	}
	return resolved{table: t, action: action, key: key}, nil
}

// buildSurvivors replays the source once and applies every record to its
// table's survivor index: deletes remove the key, anything else upserts it.
func (r *run) buildSurvivors(ctx context.Context) error {
	var seq int64
	err := r.source.Replay(ctx, func(rec wal.Record) error {
		defer func() { seq++ }()

		res, err := r.resolve(PassIndex, seq, rec)
		if err != nil {
			return err
		}
		r.sourceRecords++

		if len(res.key) == 0 {
			r.skipped++
			r.logger.Debugf("key empty, record skipped", map[string]any{
				"table":   res.table.name,
				"keyType": res.table.keyType.String(),
				"action":  res.action.String(),
				"version": rec.Version,
			})
			if r.metrics != nil {
				r.metrics.RecordSkipped(res.table.name)
			}
			return nil
		}

		if res.action.IsDelete() {
			res.table.index.Remove(res.key)
		} else {
			res.table.index.Put(res.key, Marker{Version: rec.Version, Seq: seq})
		}
		return nil
	})
	return err
}

// writeSurvivors replays the source again and appends, unchanged, every record
// whose key is still live to the target.
func (r *run) writeSurvivors(ctx context.Context) error {
	var seq int64
	return r.source.Replay(ctx, func(rec wal.Record) error {
		defer func() { seq++ }()

		res, err := r.resolve(PassWrite, seq, rec)
		if err != nil {
			return err
		}
		if len(res.key) == 0 {
			return nil
		}

		if !res.table.index.Contains(res.key) {
			r.dropped++
			if r.metrics != nil {
				r.metrics.RecordDropped(res.table.name)
			}
			return nil
		}

		if err := r.target.Append(rec); err != nil {
			return fmt.Errorf("compaction: append record %d to target: %w", seq, err)
		}
		r.emitted++
		return nil
	})
}

// closeSource releases the source handle if one is open.
func (r *run) closeSource() error {
	if r.source == nil {
		return nil
	}
	err := r.source.Close()
	r.source = nil
	return err
}

// closeTarget releases the target handle if one is open.
func (r *run) closeTarget() error {
	if r.target == nil {
		return nil
	}
	err := r.target.Close()
	r.target = nil
	return err
}

// release closes whatever is still open, source before target.
func (r *run) release() {
	if err := r.closeSource(); err != nil {
		r.logger.Warnf("failed to close source wal", map[string]any{"error": err.Error()})
	}
	if err := r.closeTarget(); err != nil {
		r.logger.Warnf("failed to close target wal", map[string]any{"error": err.Error()})
	}
}
