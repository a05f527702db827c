package wal

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// crc32cTable is the Castagnoli polynomial table used for CRC32C.
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

// zstdCodecs returns process-wide stateless zstd encoder/decoder pairs.
// EncodeAll and DecodeAll are safe for concurrent use.
func zstdCodecs() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEncoder, zstdErr = zstd.NewWriter(nil)
		if zstdErr != nil {
			return
		}
		zstdDecoder, zstdErr = zstd.NewReader(nil)
	})
	return zstdEncoder, zstdDecoder, zstdErr
}

// encodeHeader writes the 38-byte header and returns bytes written.
func encodeHeader(buf []byte, h *Header) int {
	offset := 0

	// Magic (7 bytes)
	copy(buf[offset:], MagicBytes)
	offset += 7

	// Version (2 bytes)
	binary.BigEndian.PutUint16(buf[offset:], h.Version)
	offset += 2

	// Codec (1 byte)
	buf[offset] = byte(h.Codec)
	offset++

	// VgID (4 bytes)
	binary.BigEndian.PutUint32(buf[offset:], h.VgID)
	offset += 4

	// LogID (16 bytes UUID)
	copy(buf[offset:], h.LogID[:])
	offset += 16

	// CreatedAtUnixMs (8 bytes)
	binary.BigEndian.PutUint64(buf[offset:], uint64(h.CreatedAtUnixMs))
	offset += 8

	return offset
}

// EncodeFrame returns the on-disk frame for rec with its body compressed by codec.
func EncodeFrame(rec Record, codec Codec) ([]byte, error) {
	body, err := compress(rec.Payload, codec)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, FrameHeaderSize+len(body))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(body)))
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(rec.Payload)))
	binary.BigEndian.PutUint32(buf[8:12], uint32(rec.Type))
	binary.BigEndian.PutUint64(buf[12:20], rec.Version)
	copy(buf[FrameHeaderSize:], body)

	binary.BigEndian.PutUint32(buf[20:24], frameChecksum(buf[4:20], body))
	return buf, nil
}

// frameChecksum covers raw length, type, version and the stored body.
func frameChecksum(fields, body []byte) uint32 {
	crc := crc32.Checksum(fields, crc32cTable)
	return crc32.Update(crc, crc32cTable, body)
}

func compress(data []byte, codec Codec) ([]byte, error) {
	switch codec {
	case CodecNone:
		return data, nil

	case CodecSnappy:
		return snappy.Encode(nil, data), nil

	case CodecLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("lz4 writer: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("lz4 writer: %w", err)
		}
		return buf.Bytes(), nil

	case CodecZstd:
		enc, _, err := zstdCodecs()
		if err != nil {
			return nil, fmt.Errorf("zstd encoder: %w", err)
		}
		return enc.EncodeAll(data, nil), nil

	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCodec, codec)
	}
}

func decompress(data []byte, codec Codec, rawLen int) ([]byte, error) {
	switch codec {
	case CodecNone:
		return data, nil

	case CodecSnappy:
		return snappy.Decode(nil, data)

	case CodecLZ4:
		reader := lz4.NewReader(bytes.NewReader(data))
		out := bytes.NewBuffer(make([]byte, 0, rawLen))
		if _, err := io.Copy(out, reader); err != nil {
			return nil, fmt.Errorf("lz4 reader: %w", err)
		}
		return out.Bytes(), nil

	case CodecZstd:
		_, dec, err := zstdCodecs()
		if err != nil {
			return nil, fmt.Errorf("zstd decoder: %w", err)
		}
		return dec.DecodeAll(data, make([]byte, 0, rawLen))

	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCodec, codec)
	}
}
