package metadata

import (
	"fmt"

	"github.com/dray-io/sdbcompact/internal/compaction"
	"github.com/dray-io/sdbcompact/internal/wal"
	"github.com/vmihailenco/msgpack/v5"
)

// rowPtr constrains P to a pointer to T that is a compaction.Row.
type rowPtr[T any] interface {
	*T
	compaction.Row
}

// msgpackDecoder decodes a msgpack payload into a fresh T.
type msgpackDecoder[T any, P rowPtr[T]] struct{}

func (msgpackDecoder[T, P]) Decode(payload []byte) (compaction.Row, error) {
	var row T
	if err := msgpack.Unmarshal(payload, &row); err != nil {
		return nil, err
	}
	return P(&row), nil
}

// Encode serializes a row as a record payload.
func Encode(row compaction.Row) ([]byte, error) {
	payload, err := msgpack.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("metadata: encode %T: %w", row, err)
	}
	return payload, nil
}

// NewRecord builds a WAL record carrying row for the given table and action.
func NewRecord(table compaction.TableID, action compaction.Action, version uint64, row compaction.Row) (wal.Record, error) {
	payload, err := Encode(row)
	if err != nil {
		return wal.Record{}, err
	}
	return wal.Record{
		Version: version,
		Type:    compaction.TypeTag(table, action),
		Payload: payload,
	}, nil
}
