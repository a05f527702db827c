package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	ErrInvalidMagic       = errors.New("wal: invalid magic bytes")
	ErrUnsupportedVersion = errors.New("wal: unsupported segment version")
	ErrTruncatedHeader    = errors.New("wal: truncated segment header")
	ErrTruncatedFrame     = errors.New("wal: truncated frame")
	ErrInvalidCRC         = errors.New("wal: CRC32C checksum mismatch")
	ErrFrameTooLarge      = errors.New("wal: frame exceeds max frame size")
	ErrLengthMismatch     = errors.New("wal: decoded payload length mismatch")
	ErrUnknownCodec       = errors.New("wal: unknown codec")
	ErrReadOnly           = errors.New("wal: log opened read-only")
	ErrClosed             = errors.New("wal: log is closed")
)

// parseHeader parses the 38-byte segment header.
func parseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, ErrTruncatedHeader
	}

	header := &Header{}
	offset := 0

	copy(header.Magic[:], data[offset:offset+7])
	if string(header.Magic[:]) != MagicBytes {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrInvalidMagic, string(header.Magic[:]), MagicBytes)
	}
	offset += 7

	header.Version = binary.BigEndian.Uint16(data[offset : offset+2])
	if header.Version != Version {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrUnsupportedVersion, header.Version, Version)
	}
	offset += 2

	header.Codec = Codec(data[offset])
	if header.Codec > CodecZstd {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCodec, header.Codec)
	}
	offset++

	header.VgID = binary.BigEndian.Uint32(data[offset : offset+4])
	offset += 4

	copy(header.LogID[:], data[offset:offset+16])
	offset += 16

	header.CreatedAtUnixMs = int64(binary.BigEndian.Uint64(data[offset : offset+8]))

	return header, nil
}

// DecodeHeaderFromReader reads and parses only the segment header.
func DecodeHeaderFromReader(r io.Reader) (*Header, error) {
	data := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, data); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, ErrTruncatedHeader
		}
		return nil, fmt.Errorf("reading header: %w", err)
	}
	return parseHeader(data)
}

// frameReader decodes consecutive frames from a segment body.
type frameReader struct {
	r            *bufio.Reader
	codec        Codec
	maxFrameSize int
	hdr          [FrameHeaderSize]byte
	// offset is the file offset of the next frame, for error messages.
	offset int64
}

func newFrameReader(r io.Reader, codec Codec, bufSize, maxFrameSize int) *frameReader {
	return &frameReader{
		r:            bufio.NewReaderSize(r, bufSize),
		codec:        codec,
		maxFrameSize: maxFrameSize,
		offset:       HeaderSize,
	}
}

// next returns the next record, or io.EOF at a clean end of segment.
func (fr *frameReader) next() (Record, error) {
	n, err := io.ReadFull(fr.r, fr.hdr[:])
	if err == io.EOF {
		return Record{}, io.EOF
	}
	if err == io.ErrUnexpectedEOF {
		return Record{}, fmt.Errorf("%w: %d header bytes at offset %d", ErrTruncatedFrame, n, fr.offset)
	}
	if err != nil {
		return Record{}, fmt.Errorf("reading frame at offset %d: %w", fr.offset, err)
	}

	bodyLen := binary.BigEndian.Uint32(fr.hdr[0:4])
	rawLen := binary.BigEndian.Uint32(fr.hdr[4:8])
	if int64(bodyLen) > int64(fr.maxFrameSize) || int64(rawLen) > int64(fr.maxFrameSize) {
		return Record{}, fmt.Errorf("%w: body %d raw %d at offset %d", ErrFrameTooLarge, bodyLen, rawLen, fr.offset)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(fr.r, body); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return Record{}, fmt.Errorf("%w: body at offset %d", ErrTruncatedFrame, fr.offset)
		}
		return Record{}, fmt.Errorf("reading frame body at offset %d: %w", fr.offset, err)
	}

	stored := binary.BigEndian.Uint32(fr.hdr[20:24])
	if computed := frameChecksum(fr.hdr[4:20], body); stored != computed {
		return Record{}, fmt.Errorf("%w at offset %d: stored %08x, computed %08x", ErrInvalidCRC, fr.offset, stored, computed)
	}

	payload, err := decompress(body, fr.codec, int(rawLen))
	if err != nil {
		return Record{}, fmt.Errorf("decompressing frame at offset %d: %w", fr.offset, err)
	}
	if len(payload) != int(rawLen) {
		return Record{}, fmt.Errorf("%w at offset %d: got %d, want %d", ErrLengthMismatch, fr.offset, len(payload), rawLen)
	}

	fr.offset += int64(FrameHeaderSize) + int64(bodyLen)

	return Record{
		Type:    int32(binary.BigEndian.Uint32(fr.hdr[8:12])),
		Version: binary.BigEndian.Uint64(fr.hdr[12:20]),
		Payload: payload,
	}, nil
}
