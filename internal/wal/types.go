package wal

import (
	"github.com/google/uuid"
)

// MagicBytes is the magic string that identifies an sdb WAL segment.
const MagicBytes = "SDBWAL1"

// Version is the current segment format version.
const Version uint16 = 1

// HeaderSize is the fixed size of the segment header in bytes.
const HeaderSize = 38

// FrameHeaderSize is the fixed size of the header preceding each frame body.
const FrameHeaderSize = 24

// SegmentFile is the name of the segment file inside a log directory.
const SegmentFile = "segment.wal"

// DefaultMaxFrameSize bounds a single frame body when the config leaves it unset.
const DefaultMaxFrameSize = 16 * 1024 * 1024

// Codec identifies the compression applied to frame bodies.
type Codec uint8

const (
	// CodecNone stores payloads as-is.
	CodecNone Codec = iota
	// CodecSnappy compresses payloads with snappy block encoding.
	CodecSnappy
	// CodecLZ4 compresses payloads with the lz4 frame format.
	CodecLZ4
	// CodecZstd compresses payloads with zstd.
	CodecZstd
)

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecSnappy:
		return "snappy"
	case CodecLZ4:
		return "lz4"
	case CodecZstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// ParseCodec converts a config string to a Codec.
func ParseCodec(s string) (Codec, error) {
	switch s {
	case "", "none":
		return CodecNone, nil
	case "snappy":
		return CodecSnappy, nil
	case "lz4":
		return CodecLZ4, nil
	case "zstd":
		return CodecZstd, nil
	default:
		return CodecNone, ErrUnknownCodec
	}
}

// SyncMode controls when appended frames are forced to stable storage.
type SyncMode int

const (
	// SyncOnFlush fsyncs only when Flush(true) is called.
	SyncOnFlush SyncMode = iota
	// SyncNone never fsyncs, even on Flush(true).
	SyncNone
	// SyncAlways fsyncs after every Append.
	SyncAlways
)

// ParseSyncMode converts a config string to a SyncMode.
func ParseSyncMode(s string) SyncMode {
	switch s {
	case "none":
		return SyncNone
	case "always":
		return SyncAlways
	default:
		return SyncOnFlush
	}
}

// Header is the segment file header (38 bytes).
type Header struct {
	// Magic must be "SDBWAL1".
	Magic [7]byte
	// Version is the format version, currently 1.
	Version uint16
	// Codec is the frame body compression for the whole segment.
	Codec Codec
	// VgID is the vgroup that owns the log (1 for the mnode).
	VgID uint32
	// LogID changes every time the log is created.
	LogID uuid.UUID
	// CreatedAtUnixMs is the creation timestamp in milliseconds.
	CreatedAtUnixMs int64
}

// Record is one mutation stored in the log.
//
// Payload is owned by the log for the duration of a Replay callback only;
// visitors must copy anything they keep.
type Record struct {
	// Version is the sequence number assigned by the original writer.
	Version uint64
	// Type is the type tag: logical table * 10 + action.
	Type int32
	// Payload is the encoded row.
	Payload []byte
}

// MetricsRecorder receives WAL I/O measurements.
type MetricsRecorder interface {
	RecordAppend(bytes int)
	RecordSync(durationSeconds float64)
}

// Config configures how a log is opened.
type Config struct {
	// VgID is written into the header of newly created segments.
	VgID uint32

	// Codec compresses frame bodies of newly created segments.
	// Existing segments keep the codec recorded in their header.
	Codec Codec

	// Sync selects the fsync policy.
	Sync SyncMode

	// ReadOnly opens an existing segment for replay only.
	// Opening a missing segment read-only fails instead of creating it.
	ReadOnly bool

	// BufferSize sizes the read and write buffers. Zero uses 64KB.
	BufferSize int

	// MaxFrameSize rejects frames whose body exceeds it. Zero uses DefaultMaxFrameSize.
	MaxFrameSize int

	// Metrics is optional.
	Metrics MetricsRecorder
}

func (c Config) bufferSize() int {
	if c.BufferSize <= 0 {
		return 64 * 1024
	}
	return c.BufferSize
}

func (c Config) maxFrameSize() int {
	if c.MaxFrameSize <= 0 {
		return DefaultMaxFrameSize
	}
	return c.MaxFrameSize
}
