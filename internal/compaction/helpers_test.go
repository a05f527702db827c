package compaction_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/dray-io/sdbcompact/internal/compaction"
	"github.com/dray-io/sdbcompact/internal/logging"
	"github.com/dray-io/sdbcompact/internal/wal"
	"github.com/stretchr/testify/require"
)

var errBadPayload = errors.New("bad payload")

// textRow is keyed by the payload text before the first '|'.
type textRow struct {
	key any
}

func (r textRow) ObjKey() any { return r.key }

// textDecoder understands payloads of the form "key|anything". A payload
// starting with '~' has no key; one starting with '!' fails to decode.
var textDecoder = compaction.DecoderFunc(func(payload []byte) (compaction.Row, error) {
	s := string(payload)
	switch {
	case strings.HasPrefix(s, "!"):
		return nil, errBadPayload
	case strings.HasPrefix(s, "~"):
		return textRow{}, nil
	}
	key, _, _ := strings.Cut(s, "|")
	return textRow{key: key}, nil
})

// newTestRegistry registers string-keyed tables 1 and 2.
func newTestRegistry(t *testing.T) *compaction.Registry {
	t.Helper()
	reg := compaction.NewRegistry()
	for _, d := range []compaction.TableDesc{
		{Name: "users", ID: 1, KeyType: compaction.KeyInlineString, HashSessions: 16, Decoder: textDecoder},
		{Name: "dbs", ID: 2, KeyType: compaction.KeyInlineString, HashSessions: 16, Decoder: textDecoder},
	} {
		require.NoError(t, reg.Register(d))
	}
	return reg
}

func rec(version uint64, typ int32, payload string) wal.Record {
	return wal.Record{Version: version, Type: typ, Payload: []byte(payload)}
}

func writeLog(t *testing.T, dir string, recs ...wal.Record) {
	t.Helper()
	l, err := wal.Open(dir, wal.Config{VgID: 1})
	require.NoError(t, err)
	for _, r := range recs {
		require.NoError(t, l.Append(r))
	}
	require.NoError(t, l.Close())
}

func readLog(t *testing.T, dir string) []wal.Record {
	t.Helper()
	l, err := wal.Open(dir, wal.Config{ReadOnly: true})
	require.NoError(t, err)
	defer l.Close()

	out := []wal.Record{}
	err = l.Replay(context.Background(), func(r wal.Record) error {
		out = append(out, wal.Record{Version: r.Version, Type: r.Type, Payload: append([]byte(nil), r.Payload...)})
		return nil
	})
	require.NoError(t, err)
	return out
}

type dirs struct {
	source string
	target string
}

func newDirs(t *testing.T) dirs {
	root := t.TempDir()
	return dirs{
		source: filepath.Join(root, "wal"),
		target: filepath.Join(root, "wal_tmp"),
	}
}

func newCompactor(reg *compaction.Registry, storage compaction.LogStorage, d dirs) *compaction.Compactor {
	return compaction.New(reg, storage, compaction.Config{SourceDir: d.source, TargetDir: d.target}).
		WithLogger(logging.Discard())
}

func compactLog(t *testing.T, d dirs, recs ...wal.Record) (*compaction.Result, []wal.Record) {
	t.Helper()
	writeLog(t, d.source, recs...)
	c := newCompactor(newTestRegistry(t), compaction.NewFileStorage(wal.Config{VgID: 1}), d)
	res, err := c.Compact(context.Background())
	require.NoError(t, err)
	return res, readLog(t, d.target)
}

// recordingMetrics captures every MetricsRecorder call.
type recordingMetrics struct {
	mu        sync.Mutex
	runs      []string
	passes    map[string]int64
	emitted   int64
	skipped   map[string]int
	dropped   map[string]int
	survivors map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		passes:    make(map[string]int64),
		skipped:   make(map[string]int),
		dropped:   make(map[string]int),
		survivors: make(map[string]int),
	}
}

func (m *recordingMetrics) RecordRun(status string, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, status)
}

func (m *recordingMetrics) RecordPass(pass string, _ float64, records int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.passes[pass] = records
}

func (m *recordingMetrics) RecordEmitted(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emitted += n
}

func (m *recordingMetrics) RecordSkipped(table string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skipped[table]++
}

func (m *recordingMetrics) RecordDropped(table string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped[table]++
}

func (m *recordingMetrics) SetSurvivors(table string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.survivors[table] = n
}

// faultStorage wraps a LogStorage and injects failures.
type faultStorage struct {
	inner compaction.LogStorage

	mu        sync.Mutex
	opens     int
	openErrAt int // fail the Nth Open (1-based); 0 disables
	createErr error
	flushErr  error
	openHook  func()
	closed    []string
}

func (s *faultStorage) Open(dir string) (compaction.Log, error) {
	s.mu.Lock()
	s.opens++
	n := s.opens
	hook := s.openHook
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	if s.openErrAt == n {
		return nil, errors.New("injected open failure")
	}
	l, err := s.inner.Open(dir)
	if err != nil {
		return nil, err
	}
	return &faultLog{Log: l, name: "source", s: s}, nil
}

func (s *faultStorage) Create(dir string) (compaction.Log, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	l, err := s.inner.Create(dir)
	if err != nil {
		return nil, err
	}
	return &faultLog{Log: l, name: "target", s: s}, nil
}

func (s *faultStorage) closes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.closed...)
}

type faultLog struct {
	compaction.Log
	name string
	s    *faultStorage
}

func (l *faultLog) Flush(durable bool) error {
	if l.s.flushErr != nil {
		return l.s.flushErr
	}
	return l.Log.Flush(durable)
}

func (l *faultLog) Close() error {
	l.s.mu.Lock()
	l.s.closed = append(l.s.closed, l.name)
	l.s.mu.Unlock()
	return l.Log.Close()
}
