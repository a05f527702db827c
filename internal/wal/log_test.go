package wal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingMetrics struct {
	appends int
	bytes   int
	syncs   int
}

func (m *recordingMetrics) RecordAppend(bytes int) {
	m.appends++
	m.bytes += bytes
}

func (m *recordingMetrics) RecordSync(float64) {
	m.syncs++
}

func replayAll(t *testing.T, l *Log) []Record {
	t.Helper()
	var out []Record
	err := l.Replay(context.Background(), func(rec Record) error {
		payload := append([]byte(nil), rec.Payload...)
		out = append(out, Record{Version: rec.Version, Type: rec.Type, Payload: payload})
		return nil
	})
	require.NoError(t, err)
	return out
}

func sampleRecords(n int) []Record {
	recs := make([]Record, n)
	for i := range recs {
		recs[i] = Record{
			Version: uint64(i + 1),
			Type:    int32(40 + i%3),
			Payload: []byte(fmt.Sprintf("user-%03d|payload", i)),
		}
	}
	return recs
}

func TestOpenCreatesDirectoryAndHeader(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "mnode", "wal")

	l, err := Open(dir, Config{VgID: 1, Codec: CodecSnappy})
	require.NoError(t, err)
	defer l.Close()

	info, err := os.Stat(SegmentPath(dir))
	require.NoError(t, err)
	assert.Equal(t, int64(HeaderSize), info.Size())

	h := l.Header()
	assert.Equal(t, MagicBytes, string(h.Magic[:]))
	assert.Equal(t, Version, h.Version)
	assert.Equal(t, CodecSnappy, h.Codec)
	assert.Equal(t, uint32(1), h.VgID)
	assert.NotZero(t, h.CreatedAtUnixMs)
}

func TestAppendReplayPreservesOrder(t *testing.T) {
	for _, codec := range []Codec{CodecNone, CodecSnappy, CodecLZ4, CodecZstd} {
		t.Run(codec.String(), func(t *testing.T) {
			dir := t.TempDir()
			l, err := Open(dir, Config{Codec: codec})
			require.NoError(t, err)

			want := sampleRecords(25)
			for _, rec := range want {
				require.NoError(t, l.Append(rec))
			}
			require.NoError(t, l.Close())

			ro, err := Open(dir, Config{ReadOnly: true})
			require.NoError(t, err)
			defer ro.Close()

			assert.Equal(t, codec, ro.Header().Codec)
			assert.Equal(t, want, replayAll(t, ro))
		})
	}
}

func TestReplaySeesBufferedAppends(t *testing.T) {
	l, err := Open(t.TempDir(), Config{})
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.Append(Record{Version: 7, Type: 41, Payload: []byte("root")}))

	got := replayAll(t, l)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(7), got[0].Version)
	assert.Equal(t, int32(41), got[0].Type)
}

func TestReplayStopsOnVisitorError(t *testing.T) {
	l, err := Open(t.TempDir(), Config{})
	require.NoError(t, err)
	defer l.Close()

	for _, rec := range sampleRecords(5) {
		require.NoError(t, l.Append(rec))
	}

	stop := errors.New("stop")
	calls := 0
	err = l.Replay(context.Background(), func(Record) error {
		calls++
		if calls == 2 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 2, calls)
}

func TestReplayHonorsCanceledContext(t *testing.T) {
	l, err := Open(t.TempDir(), Config{})
	require.NoError(t, err)
	defer l.Close()
	require.NoError(t, l.Append(Record{Type: 41, Payload: []byte("a")}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = l.Replay(ctx, func(Record) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReopenAppendsAfterExistingFrames(t *testing.T) {
	dir := t.TempDir()
	recs := sampleRecords(4)

	l, err := Open(dir, Config{Codec: CodecZstd})
	require.NoError(t, err)
	require.NoError(t, l.Append(recs[0]))
	require.NoError(t, l.Append(recs[1]))
	logID := l.Header().LogID
	require.NoError(t, l.Close())

	// The codec in the header wins over the config on reopen.
	l, err = Open(dir, Config{Codec: CodecNone})
	require.NoError(t, err)
	assert.Equal(t, logID, l.Header().LogID)
	assert.Equal(t, CodecZstd, l.Header().Codec)
	require.NoError(t, l.Append(recs[2]))
	require.NoError(t, l.Append(recs[3]))
	require.NoError(t, l.Close())

	ro, err := Open(dir, Config{ReadOnly: true})
	require.NoError(t, err)
	defer ro.Close()
	assert.Equal(t, recs, replayAll(t, ro))
}

func TestOpenReadOnlyMissingSegment(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "absent"), Config{ReadOnly: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, Config{})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	ro, err := Open(dir, Config{ReadOnly: true})
	require.NoError(t, err)
	defer ro.Close()

	assert.ErrorIs(t, ro.Append(Record{Type: 41}), ErrReadOnly)
	assert.NoError(t, ro.Flush(true))
}

func TestCreateDiscardsRecords(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, Config{})
	require.NoError(t, err)
	for _, rec := range sampleRecords(3) {
		require.NoError(t, l.Append(rec))
	}
	before := l.Header().LogID
	require.NoError(t, l.Close())

	l, err = Create(dir, Config{Codec: CodecLZ4})
	require.NoError(t, err)
	defer l.Close()

	assert.NotEqual(t, before, l.Header().LogID)
	assert.Equal(t, CodecLZ4, l.Header().Codec)
	assert.Equal(t, int64(HeaderSize), l.Size())
	assert.Empty(t, replayAll(t, l))

	require.NoError(t, l.Append(Record{Version: 99, Type: 51, Payload: []byte("db")}))
	got := replayAll(t, l)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(99), got[0].Version)
}

func TestCreateOverwritesUnreadableSegment(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(SegmentPath(dir), []byte("SDBW"), 0o644))

	_, err := Open(dir, Config{})
	require.ErrorIs(t, err, ErrTruncatedHeader)

	l, err := Create(dir, Config{VgID: 2})
	require.NoError(t, err)
	require.NoError(t, l.Append(Record{Version: 1, Type: 11, Payload: []byte("root")}))
	require.NoError(t, l.Close())

	ro, err := Open(dir, Config{ReadOnly: true})
	require.NoError(t, err)
	defer ro.Close()
	assert.Equal(t, uint32(2), ro.Header().VgID)
	assert.Len(t, replayAll(t, ro), 1)
}

func TestCreateRejectsReadOnly(t *testing.T) {
	_, err := Create(t.TempDir(), Config{ReadOnly: true})
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestClosedLog(t *testing.T) {
	l, err := Open(t.TempDir(), Config{})
	require.NoError(t, err)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	assert.ErrorIs(t, l.Append(Record{}), ErrClosed)
	assert.ErrorIs(t, l.Flush(false), ErrClosed)
	assert.ErrorIs(t, l.Replay(context.Background(), func(Record) error { return nil }), ErrClosed)
}

func TestSyncModesAndMetrics(t *testing.T) {
	tests := []struct {
		name      string
		mode      SyncMode
		wantSyncs int
	}{
		{"on flush", SyncOnFlush, 1},
		{"none", SyncNone, 0},
		{"always", SyncAlways, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &recordingMetrics{}
			l, err := Open(t.TempDir(), Config{Sync: tt.mode, Metrics: m})
			require.NoError(t, err)
			defer l.Close()

			for _, rec := range sampleRecords(3) {
				require.NoError(t, l.Append(rec))
			}
			require.NoError(t, l.Flush(true))

			assert.Equal(t, 3, m.appends)
			assert.Equal(t, int(l.Size())-HeaderSize, m.bytes)
			assert.Equal(t, tt.wantSyncs, m.syncs)
		})
	}
}

func TestAppendRejectsOversizedPayload(t *testing.T) {
	l, err := Open(t.TempDir(), Config{MaxFrameSize: 8})
	require.NoError(t, err)
	defer l.Close()

	err = l.Append(Record{Type: 41, Payload: make([]byte, 9)})
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestAppendRejectsOversizedEncodedBody(t *testing.T) {
	l, err := Open(t.TempDir(), Config{Codec: CodecSnappy, MaxFrameSize: 16})
	require.NoError(t, err)
	defer l.Close()

	// Sixteen distinct bytes do not compress; snappy adds framing on top.
	payload := make([]byte, 16)
	for i := range payload {
		payload[i] = byte(i)
	}
	err = l.Append(Record{Type: 41, Payload: payload})
	require.ErrorIs(t, err, ErrFrameTooLarge)
	assert.Equal(t, int64(HeaderSize), l.Size())
	assert.Empty(t, replayAll(t, l))
}

func TestParseCodecAndSyncMode(t *testing.T) {
	for _, c := range []Codec{CodecNone, CodecSnappy, CodecLZ4, CodecZstd} {
		got, err := ParseCodec(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	_, err := ParseCodec("gzip")
	assert.ErrorIs(t, err, ErrUnknownCodec)

	assert.Equal(t, SyncNone, ParseSyncMode("none"))
	assert.Equal(t, SyncAlways, ParseSyncMode("always"))
	assert.Equal(t, SyncOnFlush, ParseSyncMode("flush"))
	assert.Equal(t, SyncOnFlush, ParseSyncMode(""))
}
