// Package metadata defines the tables of the management node catalog: their
// row types, payload codec and registration with the compaction registry.
package metadata

import (
	"fmt"

	"github.com/dray-io/sdbcompact/internal/compaction"
)

// Catalog table IDs. They are the logical type in a record's type tag.
const (
	TableCluster compaction.TableID = iota
	TableDnode
	TableMnode
	TableAccount
	TableUser
	TableDB
	TableVGroup
	TableSTable
	TableCTable
	TableFunc
)

// DefaultHashSessions are the survivor index capacity hints per table.
var DefaultHashSessions = map[string]int{
	"cluster":  8,
	"dnodes":   128,
	"mnodes":   8,
	"accounts": 8,
	"users":    128,
	"dbs":      128,
	"vgroups":  1024,
	"stables":  1024,
	"ctables":  16384,
	"funcs":    128,
}

// Descriptors returns the catalog table descriptors in ID order. Capacity
// hints missing from hashSessions fall back to DefaultHashSessions.
func Descriptors(hashSessions map[string]int) []compaction.TableDesc {
	descs := []compaction.TableDesc{
		{Name: "cluster", ID: TableCluster, KeyType: compaction.KeyInlineString, Decoder: msgpackDecoder[ClusterRow, *ClusterRow]{}},
		{Name: "dnodes", ID: TableDnode, KeyType: compaction.KeyFixedInt32, Decoder: msgpackDecoder[DnodeRow, *DnodeRow]{}},
		{Name: "mnodes", ID: TableMnode, KeyType: compaction.KeyFixedInt32, Decoder: msgpackDecoder[MnodeRow, *MnodeRow]{}},
		{Name: "accounts", ID: TableAccount, KeyType: compaction.KeyInlineString, Decoder: msgpackDecoder[AccountRow, *AccountRow]{}},
		{Name: "users", ID: TableUser, KeyType: compaction.KeyInlineString, Decoder: msgpackDecoder[UserRow, *UserRow]{}},
		{Name: "dbs", ID: TableDB, KeyType: compaction.KeyInlineString, Decoder: msgpackDecoder[DBRow, *DBRow]{}},
		{Name: "vgroups", ID: TableVGroup, KeyType: compaction.KeyFixedInt32, Decoder: msgpackDecoder[VGroupRow, *VGroupRow]{}},
		{Name: "stables", ID: TableSTable, KeyType: compaction.KeyIndirectString, Decoder: msgpackDecoder[STableRow, *STableRow]{}},
		{Name: "ctables", ID: TableCTable, KeyType: compaction.KeyIndirectString, Decoder: msgpackDecoder[CTableRow, *CTableRow]{}},
		{Name: "funcs", ID: TableFunc, KeyType: compaction.KeyInlineString, Decoder: msgpackDecoder[FuncRow, *FuncRow]{}},
	}
	for i := range descs {
		n, ok := hashSessions[descs[i].Name]
		if !ok {
			n = DefaultHashSessions[descs[i].Name]
		}
		descs[i].HashSessions = n
	}
	return descs
}

// RegisterTables registers every catalog table with reg.
func RegisterTables(reg *compaction.Registry, hashSessions map[string]int) error {
	for _, desc := range Descriptors(hashSessions) {
		if err := reg.Register(desc); err != nil {
			return fmt.Errorf("metadata: register %s: %w", desc.Name, err)
		}
	}
	return nil
}

// NewRegistry returns a registry holding every catalog table.
func NewRegistry(hashSessions map[string]int) (*compaction.Registry, error) {
	reg := compaction.NewRegistry()
	if err := RegisterTables(reg, hashSessions); err != nil {
		return nil, err
	}
	return reg, nil
}
