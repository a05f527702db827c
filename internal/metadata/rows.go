package metadata

// Row types for the metadata catalog. Each row names its key field through
// ObjKey; the key type must match the table's registration in tables.go.

// ClusterRow is the single cluster identity row.
type ClusterRow struct {
	ClusterID   string `msgpack:"clusterId"`
	CreatedTime int64  `msgpack:"createdTime"`
}

func (r *ClusterRow) ObjKey() any { return r.ClusterID }

// DnodeRow describes a data node.
type DnodeRow struct {
	DnodeID     int32  `msgpack:"dnodeId"`
	Ep          string `msgpack:"ep"`
	Status      int8   `msgpack:"status"`
	CreatedTime int64  `msgpack:"createdTime"`
}

func (r *DnodeRow) ObjKey() any { return r.DnodeID }

// MnodeRow describes a management node replica.
type MnodeRow struct {
	MnodeID     int32 `msgpack:"mnodeId"`
	Role        int8  `msgpack:"role"`
	CreatedTime int64 `msgpack:"createdTime"`
}

func (r *MnodeRow) ObjKey() any { return r.MnodeID }

// AccountRow is a tenant account.
type AccountRow struct {
	User        string `msgpack:"user"`
	MaxUsers    int32  `msgpack:"maxUsers"`
	MaxDbs      int32  `msgpack:"maxDbs"`
	CreatedTime int64  `msgpack:"createdTime"`
}

func (r *AccountRow) ObjKey() any { return r.User }

// UserRow is a login user.
type UserRow struct {
	User        string `msgpack:"user"`
	Acct        string `msgpack:"acct"`
	Superuser   bool   `msgpack:"superuser"`
	CreatedTime int64  `msgpack:"createdTime"`
}

func (r *UserRow) ObjKey() any { return r.User }

// DBRow is a database. Name is the account-qualified name.
type DBRow struct {
	Name        string `msgpack:"name"`
	Acct        string `msgpack:"acct"`
	Replica     int8   `msgpack:"replica"`
	DaysPerFile int32  `msgpack:"daysPerFile"`
	Keep        int32  `msgpack:"keep"`
	CreatedTime int64  `msgpack:"createdTime"`
}

func (r *DBRow) ObjKey() any { return r.Name }

// VGroupRow is a vnode group and the dnodes hosting it.
type VGroupRow struct {
	VgID        int32   `msgpack:"vgId"`
	DB          string  `msgpack:"db"`
	DnodeIDs    []int32 `msgpack:"dnodeIds"`
	CreatedTime int64   `msgpack:"createdTime"`
}

func (r *VGroupRow) ObjKey() any { return r.VgID }

// STableRow is a super table. Its name is held by reference; a row without
// a name has no identity.
type STableRow struct {
	Name        *string  `msgpack:"name"`
	UID         uint64   `msgpack:"uid"`
	Version     int32    `msgpack:"version"`
	Columns     []string `msgpack:"columns"`
	Tags        []string `msgpack:"tags"`
	CreatedTime int64    `msgpack:"createdTime"`
}

func (r *STableRow) ObjKey() any { return r.Name }

// CTableRow is a child or normal table.
type CTableRow struct {
	Name        *string `msgpack:"name"`
	UID         uint64  `msgpack:"uid"`
	SuperTable  string  `msgpack:"superTable,omitempty"`
	VgID        int32   `msgpack:"vgId"`
	TID         int32   `msgpack:"tid"`
	CreatedTime int64   `msgpack:"createdTime"`
}

func (r *CTableRow) ObjKey() any { return r.Name }

// FuncRow is a user-defined function.
type FuncRow struct {
	Name        string `msgpack:"name"`
	Path        string `msgpack:"path"`
	OutputType  int8   `msgpack:"outputType"`
	BufSize     int32  `msgpack:"bufSize"`
	CreatedTime int64  `msgpack:"createdTime"`
}

func (r *FuncRow) ObjKey() any { return r.Name }
