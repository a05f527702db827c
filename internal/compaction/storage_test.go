package compaction

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dray-io/sdbcompact/internal/wal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDir(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "a", "b")

	require.NoError(t, EnsureDir(dir))
	require.NoError(t, EnsureDir(dir), "existing directory is success")

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	file := filepath.Join(root, "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	assert.ErrorIs(t, EnsureDir(file), ErrNotDirectory)
}

func TestFileStorageOpenIsReadOnly(t *testing.T) {
	dir := t.TempDir()
	fs := NewFileStorage(wal.Config{})

	l, err := fs.Create(dir)
	require.NoError(t, err)
	require.NoError(t, l.Append(wal.Record{Version: 1, Type: 11, Payload: []byte("a")}))
	require.NoError(t, l.Close())

	src, err := fs.Open(dir)
	require.NoError(t, err)
	defer src.Close()
	assert.ErrorIs(t, src.Append(wal.Record{Version: 2, Type: 11}), wal.ErrReadOnly)

	var n int
	require.NoError(t, src.Replay(context.Background(), func(wal.Record) error {
		n++
		return nil
	}))
	assert.Equal(t, 1, n)
}

func TestFileStorageCreateTruncates(t *testing.T) {
	dir := t.TempDir()
	fs := NewFileStorage(wal.Config{})

	l, err := fs.Create(dir)
	require.NoError(t, err)
	require.NoError(t, l.Append(wal.Record{Version: 1, Type: 11, Payload: []byte("old")}))
	require.NoError(t, l.Close())

	l, err = fs.Create(dir)
	require.NoError(t, err)
	require.NoError(t, l.Close())

	src, err := fs.Open(dir)
	require.NoError(t, err)
	defer src.Close()
	require.NoError(t, src.Replay(context.Background(), func(wal.Record) error {
		t.Fatal("created log must start empty")
		return nil
	}))
}

func TestFileStorageOpenMissing(t *testing.T) {
	_, err := NewFileStorage(wal.Config{}).Open(filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
