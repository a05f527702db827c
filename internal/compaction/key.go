package compaction

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
)

// ErrKeyTypeMismatch is returned when a row's key reference does not have the
// Go type its table's key type requires.
var ErrKeyTypeMismatch = errors.New("compaction: key reference does not match key type")

// KeyType selects how a row's key reference becomes key bytes.
type KeyType int

const (
	// KeyFixedInt32 keys are 4-byte integers.
	KeyFixedInt32 KeyType = iota
	// KeyInlineString keys are strings stored in the row itself.
	KeyInlineString
	// KeyIndirectString keys are strings the row points to.
	KeyIndirectString
)

func (k KeyType) String() string {
	switch k {
	case KeyFixedInt32:
		return "int32"
	case KeyInlineString:
		return "string"
	case KeyIndirectString:
		return "var-string"
	default:
		return "unknown"
	}
}

func (k KeyType) valid() bool {
	return k >= KeyFixedInt32 && k <= KeyIndirectString
}

// ExtractKey returns an owned copy of the row's key bytes. A nil result with a
// nil error means the row has no key and must be skipped; callers also skip a
// zero-length key. String keys end at the first NUL byte.
func ExtractKey(keyType KeyType, row Row) ([]byte, error) {
	if row == nil {
		return nil, nil
	}
	ref := row.ObjKey()
	if ref == nil {
		return nil, nil
	}

	switch keyType {
	case KeyFixedInt32:
		v, ok := ref.(int32)
		if !ok {
			return nil, fmt.Errorf("%w: %s key is %T", ErrKeyTypeMismatch, keyType, ref)
		}
		key := make([]byte, 4)
		binary.LittleEndian.PutUint32(key, uint32(v))
		return key, nil

	case KeyInlineString:
		s, ok := ref.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s key is %T", ErrKeyTypeMismatch, keyType, ref)
		}
		return cString(s), nil

	case KeyIndirectString:
		p, ok := ref.(*string)
		if !ok {
			return nil, fmt.Errorf("%w: %s key is %T", ErrKeyTypeMismatch, keyType, ref)
		}
		if p == nil {
			return nil, nil
		}
		return cString(*p), nil

	default:
		return nil, fmt.Errorf("%w: key type %d", ErrKeyTypeMismatch, keyType)
	}
}

func cString(s string) []byte {
	b := []byte(s)
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return b
}

// FormatKey renders key bytes for logs and dumps.
func FormatKey(keyType KeyType, key []byte) string {
	if keyType == KeyFixedInt32 && len(key) == 4 {
		return strconv.FormatInt(int64(int32(binary.LittleEndian.Uint32(key))), 10)
	}
	return string(key)
}
