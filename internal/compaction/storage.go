package compaction

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dray-io/sdbcompact/internal/wal"
)

// ErrNotDirectory is returned by EnsureDir when the path exists but is not a directory.
var ErrNotDirectory = errors.New("compaction: path exists and is not a directory")

// ErrTargetIsSource is returned when the target directory resolves to the source.
var ErrTargetIsSource = errors.New("compaction: target dir is the source dir")

// Log is the sequential record store the compactor reads and writes.
type Log interface {
	// Replay calls fn once per record in append order, stopping at the first error.
	Replay(ctx context.Context, fn func(wal.Record) error) error
	// Append adds rec at the end of the log unchanged.
	Append(rec wal.Record) error
	// Flush pushes buffered records to storage, fsyncing when durable is set.
	Flush(durable bool) error
	// Close releases the handle.
	Close() error
}

// LogStorage opens logs by directory.
type LogStorage interface {
	// Open opens an existing log for read-only replay.
	Open(dir string) (Log, error)
	// Create opens the log in dir, creating it if needed, and discards any
	// records it already holds.
	Create(dir string) (Log, error)
}

// FileStorage serves logs from local segment files.
type FileStorage struct {
	cfg wal.Config
}

// NewFileStorage creates a LogStorage over internal/wal segments. cfg.ReadOnly
// is ignored; Open and Create set it as needed.
func NewFileStorage(cfg wal.Config) *FileStorage {
	return &FileStorage{cfg: cfg}
}

// Open opens the segment in dir read-only.
func (s *FileStorage) Open(dir string) (Log, error) {
	cfg := s.cfg
	cfg.ReadOnly = true
	l, err := wal.Open(dir, cfg)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Create truncates or creates the segment in dir. Whatever the file held
// before is never parsed.
func (s *FileStorage) Create(dir string) (Log, error) {
	cfg := s.cfg
	cfg.ReadOnly = false
	l, err := wal.Create(dir, cfg)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// EnsureDir creates dir and its parents. An existing directory is not an error.
func EnsureDir(dir string) error {
	if info, err := os.Stat(dir); err == nil {
		if !info.IsDir() {
			return fmt.Errorf("%w: %s", ErrNotDirectory, dir)
		}
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// SameDir reports whether a and b name the same directory, either by path
// or, when both exist, by file identity.
func SameDir(a, b string) (bool, error) {
	absA, err := filepath.Abs(a)
	if err != nil {
		return false, err
	}
	absB, err := filepath.Abs(b)
	if err != nil {
		return false, err
	}
	if filepath.Clean(absA) == filepath.Clean(absB) {
		return true, nil
	}

	infoA, err := os.Stat(absA)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	infoB, err := os.Stat(absB)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return os.SameFile(infoA, infoB), nil
}

var _ LogStorage = (*FileStorage)(nil)
