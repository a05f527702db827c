package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type opCall struct {
	op      string
	success bool
	bytes   int64
}

type recordingMetrics struct {
	calls []opCall
}

func (m *recordingMetrics) RecordOp(op string, durationSeconds float64, success bool, bytes int64) {
	m.calls = append(m.calls, opCall{op: op, success: success, bytes: bytes})
}

func TestInstrumentedStoreRecordsOperations(t *testing.T) {
	ctx := context.Background()
	m := &recordingMetrics{}
	s := NewInstrumentedStore(NewMockStore(), m)

	data := []byte("segment bytes")
	require.NoError(t, s.Put(ctx, "a/1", bytes.NewReader(data), int64(len(data)), "application/octet-stream"))
	require.NoError(t, s.PutWithOptions(ctx, "a/2", bytes.NewReader(data), int64(len(data)), "application/octet-stream", PutOptions{IfNoneMatch: "*"}))

	rc, err := s.Get(ctx, "a/1")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.NoError(t, rc.Close())
	assert.Equal(t, data, got)

	_, err = s.Head(ctx, "a/2")
	require.NoError(t, err)
	objs, err := s.List(ctx, "a/")
	require.NoError(t, err)
	assert.Len(t, objs, 2)
	require.NoError(t, s.Delete(ctx, "a/2"))

	assert.Equal(t, []opCall{
		{OpPut, true, int64(len(data))},
		{OpPut, true, int64(len(data))},
		{OpGet, true, int64(len(data))},
		{OpHead, true, 0},
		{OpList, true, 0},
		{OpDelete, true, 0},
	}, m.calls)
}

func TestInstrumentedStoreRecordsFailures(t *testing.T) {
	ctx := context.Background()
	m := &recordingMetrics{}
	s := NewInstrumentedStore(NewMockStore(), m)

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Head(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.Len(t, m.calls, 2)
	assert.Equal(t, opCall{OpGet, false, 0}, m.calls[0])
	assert.Equal(t, opCall{OpHead, false, 0}, m.calls[1])
}

func TestInstrumentedStoreNilMetrics(t *testing.T) {
	ctx := context.Background()
	inner := NewMockStore()
	s := NewInstrumentedStore(inner, nil)

	require.NoError(t, s.Put(ctx, "k", bytes.NewReader([]byte("v")), 1, "text/plain"))
	rc, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.NoError(t, s.Close())
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }
func (failingReader) Close() error             { return nil }

func TestInstrumentedReadCloserReadError(t *testing.T) {
	m := &recordingMetrics{}
	rc := &instrumentedReadCloser{ReadCloser: failingReader{}, metrics: m}

	_, err := rc.Read(make([]byte, 4))
	require.Error(t, err)
	require.NoError(t, rc.Close())

	require.Len(t, m.calls, 1)
	assert.False(t, m.calls[0].success)
}
