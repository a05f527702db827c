// Package compaction implements offline compaction of the metadata-store WAL.
// This file implements the table registry: one descriptor per logical record
// type, each owning the survivor index built during the first pass.
package compaction

import (
	"errors"
	"fmt"
	"sort"
)

// Registry errors.
var (
	// ErrDuplicateTable is returned when a table ID is registered twice.
	ErrDuplicateTable = errors.New("compaction: table already registered")

	// ErrUnknownTable is returned when the log references a table that was never
	// registered. A run that hits it aborts: the log and the registry disagree.
	ErrUnknownTable = errors.New("compaction: unknown table")

	// ErrInvalidTable is returned for a descriptor that cannot be registered.
	ErrInvalidTable = errors.New("compaction: invalid table descriptor")
)

// maxTableName mirrors the fixed-width name buffer of the on-disk catalog.
const maxTableName = 11

// TableID identifies a logical record type (a metadata table).
type TableID int32

// Row is a decoded payload.
type Row interface {
	// ObjKey returns the embedded key reference: int32 for KeyFixedInt32,
	// string for KeyInlineString, *string for KeyIndirectString. A nil
	// reference means the row has no indexable identity.
	ObjKey() any
}

// Decoder turns a record payload into a Row. Decoders must be deterministic:
// both passes decode every payload and must derive the same key.
type Decoder interface {
	Decode(payload []byte) (Row, error)
}

// DecoderFunc adapts a function to the Decoder interface.
type DecoderFunc func(payload []byte) (Row, error)

// Decode calls f(payload).
func (f DecoderFunc) Decode(payload []byte) (Row, error) {
	return f(payload)
}

// TableDesc describes a table at registration time.
type TableDesc struct {
	Name         string
	ID           TableID
	KeyType      KeyType
	HashSessions int
	Decoder      Decoder
}

// Table is a registered descriptor together with its survivor index.
type Table struct {
	name    string
	id      TableID
	keyType KeyType
	decoder Decoder
	index   *SurvivorIndex
}

// Name returns the table's short name.
func (t *Table) Name() string { return t.name }

// ID returns the table's logical type identifier.
func (t *Table) ID() TableID { return t.id }

// KeyType returns how keys are extracted from rows of this table.
func (t *Table) KeyType() KeyType { return t.keyType }

// Index returns the table's survivor index.
func (t *Table) Index() *SurvivorIndex { return t.index }

// Decode decodes payload with the table's decoder.
func (t *Table) Decode(payload []byte) (Row, error) {
	return t.decoder.Decode(payload)
}

// Registry maps table IDs to tables. It is populated before a run starts and
// is not safe for concurrent registration.
type Registry struct {
	tables map[TableID]*Table
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tables: make(map[TableID]*Table)}
}

// Register adds a table. Registration must cover every table that can appear
// in the log before any replay starts.
func (r *Registry) Register(desc TableDesc) error {
	if desc.Decoder == nil {
		return fmt.Errorf("%w: %q has no decoder", ErrInvalidTable, desc.Name)
	}
	if desc.ID < 0 {
		return fmt.Errorf("%w: %q has negative id %d", ErrInvalidTable, desc.Name, desc.ID)
	}
	if !desc.KeyType.valid() {
		return fmt.Errorf("%w: %q has key type %d", ErrInvalidTable, desc.Name, desc.KeyType)
	}
	if existing, ok := r.tables[desc.ID]; ok {
		return fmt.Errorf("%w: id %d (%s)", ErrDuplicateTable, desc.ID, existing.name)
	}

	name := desc.Name
	if len(name) > maxTableName {
		name = name[:maxTableName]
	}

	r.tables[desc.ID] = &Table{
		name:    name,
		id:      desc.ID,
		keyType: desc.KeyType,
		decoder: desc.Decoder,
		index:   NewSurvivorIndex(desc.HashSessions),
	}
	return nil
}

// Lookup returns the table registered under id.
func (r *Registry) Lookup(id TableID) (*Table, error) {
	t, ok := r.tables[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrUnknownTable, id)
	}
	return t, nil
}

// Tables returns the registered tables ordered by ID.
func (r *Registry) Tables() []*Table {
	out := make([]*Table, 0, len(r.tables))
	for _, t := range r.tables {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].id < out[j].id
	})
	return out
}

// Len returns the number of registered tables.
func (r *Registry) Len() int {
	return len(r.tables)
}

// Reset empties every survivor index so a new run starts from scratch.
func (r *Registry) Reset() {
	for _, t := range r.tables {
		t.index.Reset()
	}
}
