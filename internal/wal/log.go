// Package wal implements the single-segment write-ahead log that backs the
// metadata store. A log directory holds one segment file made of a fixed
// header followed by checksummed, optionally compressed frames, one per
// mutation record, in append order.
package wal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Log is an open segment. All methods are safe for concurrent use, but a
// Replay visitor must not call back into the same Log.
type Log struct {
	mu     sync.Mutex
	dir    string
	path   string
	cfg    Config
	file   *os.File
	w      *bufio.Writer
	header Header
	size   int64
	closed bool
}

// SegmentPath returns the segment file path for a log directory.
func SegmentPath(dir string) string {
	return filepath.Join(dir, SegmentFile)
}

// Open opens the log in dir. Unless cfg.ReadOnly is set, the directory and
// segment are created when missing; a read-only open of a missing segment
// returns an error wrapping os.ErrNotExist.
func Open(dir string, cfg Config) (*Log, error) {
	path := SegmentPath(dir)

	if cfg.ReadOnly {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("wal: open %s: %w", path, err)
		}
		l, err := attach(f, dir, path, cfg)
		if err != nil {
			f.Close()
			return nil, err
		}
		return l, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("wal: create dir %s: %w", dir, err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}
	l, err := attach(f, dir, path, cfg)
	if err != nil {
		f.Close()
		return nil, err
	}
	return l, nil
}

// Create opens the segment in dir for writing, truncating whatever it held
// and writing a fresh header. The old contents are never parsed, so a torn
// or foreign file in dir does not prevent the log from being rebuilt.
func Create(dir string, cfg Config) (*Log, error) {
	if cfg.ReadOnly {
		return nil, ErrReadOnly
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("wal: create dir %s: %w", dir, err)
	}
	path := SegmentPath(dir)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: create %s: %w", path, err)
	}
	l, err := attach(f, dir, path, cfg)
	if err != nil {
		f.Close()
		return nil, err
	}
	return l, nil
}

// attach reads or initializes the header of an open segment file.
func attach(f *os.File, dir, path string, cfg Config) (*Log, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("wal: stat %s: %w", path, err)
	}

	l := &Log{
		dir:  dir,
		path: path,
		cfg:  cfg,
		file: f,
	}

	if info.Size() == 0 && !cfg.ReadOnly {
		if err := l.writeFreshHeader(); err != nil {
			return nil, err
		}
	} else {
		h, err := DecodeHeaderFromReader(io.NewSectionReader(f, 0, HeaderSize))
		if err != nil {
			return nil, fmt.Errorf("wal: %s: %w", path, err)
		}
		l.header = *h
		l.size = info.Size()
	}

	if !cfg.ReadOnly {
		if _, err := f.Seek(l.size, io.SeekStart); err != nil {
			return nil, fmt.Errorf("wal: seek %s: %w", path, err)
		}
		l.w = bufio.NewWriterSize(f, cfg.bufferSize())
	}
	return l, nil
}

// writeFreshHeader truncates the segment and writes a header with a new log ID.
func (l *Log) writeFreshHeader() error {
	if err := l.file.Truncate(0); err != nil {
		return fmt.Errorf("wal: truncate %s: %w", l.path, err)
	}

	l.header = Header{
		Version:         Version,
		Codec:           l.cfg.Codec,
		VgID:            l.cfg.VgID,
		LogID:           uuid.New(),
		CreatedAtUnixMs: time.Now().UnixMilli(),
	}
	copy(l.header.Magic[:], MagicBytes)

	buf := make([]byte, HeaderSize)
	encodeHeader(buf, &l.header)
	if _, err := l.file.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("wal: write header %s: %w", l.path, err)
	}
	l.size = HeaderSize
	return nil
}

// Dir returns the log directory.
func (l *Log) Dir() string {
	return l.dir
}

// Header returns a copy of the segment header.
func (l *Log) Header() Header {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.header
}

// Size returns the logical segment size in bytes, including buffered frames.
func (l *Log) Size() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Replay invokes fn for every record in append order and stops at the first
// error returned by fn, which Replay returns unchanged. Buffered appends are
// flushed first so they are visible to the scan. The context is checked
// between records.
func (l *Log) Replay(ctx context.Context, fn func(Record) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if l.w != nil {
		if err := l.w.Flush(); err != nil {
			return fmt.Errorf("wal: flush before replay: %w", err)
		}
	}

	section := io.NewSectionReader(l.file, HeaderSize, l.size-HeaderSize)
	fr := newFrameReader(section, l.header.Codec, l.cfg.bufferSize(), l.cfg.maxFrameSize())
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := fr.next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("wal: replay %s: %w", l.path, err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

// Append writes rec at the end of the log, keeping its Version and Type.
func (l *Log) Append(rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if l.cfg.ReadOnly {
		return ErrReadOnly
	}
	if len(rec.Payload) > l.cfg.maxFrameSize() {
		return fmt.Errorf("%w: payload %d bytes", ErrFrameTooLarge, len(rec.Payload))
	}

	frame, err := EncodeFrame(rec, l.header.Codec)
	if err != nil {
		return fmt.Errorf("wal: encode frame: %w", err)
	}
	// Compression can grow incompressible payloads past the limit.
	if body := len(frame) - FrameHeaderSize; body > l.cfg.maxFrameSize() {
		return fmt.Errorf("%w: encoded body %d bytes", ErrFrameTooLarge, body)
	}
	if _, err := l.w.Write(frame); err != nil {
		return fmt.Errorf("wal: append to %s: %w", l.path, err)
	}
	l.size += int64(len(frame))
	if l.cfg.Metrics != nil {
		l.cfg.Metrics.RecordAppend(len(frame))
	}

	if l.cfg.Sync == SyncAlways {
		return l.flushLocked(true)
	}
	return nil
}

// Flush writes buffered frames to the file and, when durable is set and the
// sync mode allows it, fsyncs the segment.
func (l *Log) Flush(durable bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if l.cfg.ReadOnly {
		return nil
	}
	return l.flushLocked(durable)
}

func (l *Log) flushLocked(durable bool) error {
	if err := l.w.Flush(); err != nil {
		return fmt.Errorf("wal: flush %s: %w", l.path, err)
	}
	if !durable || l.cfg.Sync == SyncNone {
		return nil
	}

	start := time.Now()
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("wal: fsync %s: %w", l.path, err)
	}
	if l.cfg.Metrics != nil {
		l.cfg.Metrics.RecordSync(time.Since(start).Seconds())
	}
	return nil
}

// Close flushes buffered frames and closes the segment. Closing twice is a no-op.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	var flushErr error
	if l.w != nil {
		flushErr = l.w.Flush()
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("wal: close %s: %w", l.path, err)
	}
	if flushErr != nil {
		return fmt.Errorf("wal: flush %s: %w", l.path, flushErr)
	}
	return nil
}
