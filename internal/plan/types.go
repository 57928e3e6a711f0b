package plan

import "strings"

// StoragePath tags which physical path a scan operator took.
type StoragePath string

const (
	PathRowStoreIndex StoragePath = "row-store-index"
	PathRowStoreScan  StoragePath = "row-store-scan"
	PathAnalyticStore StoragePath = "analytic-store"
	PathUnknown       StoragePath = "unknown"
)

// TableKind distinguishes hybrid-capable tables from plain storage.
type TableKind string

const (
	KindHybrid   TableKind = "hybrid"
	KindStandard TableKind = "standard"
	KindColumnar TableKind = "columnar"
)

type ColumnDef struct {
	Pos  int
	Name string
	Type string
}

// IndexDef holds an index's columns in leading order, already resolved to
// names via the catalog.
type IndexDef struct {
	Name    string
	Columns []string
}

type TableDef struct {
	ID         int64
	Name       string
	Kind       TableKind
	Columns    map[int]ColumnDef
	PrimaryKey []string
	Indexes    []IndexDef
}

// Hybrid reports whether the table offers the low-latency row-store path.
func (t *TableDef) Hybrid() bool {
	return t.Kind == KindHybrid
}

// IndexedColumns returns the set of columns covered by any index or the
// primary key, lower-cased.
func (t *TableDef) IndexedColumns() map[string]bool {
	cols := make(map[string]bool)
	for _, c := range t.PrimaryKey {
		cols[strings.ToLower(c)] = true
	}
	for _, idx := range t.Indexes {
		for _, c := range idx.Columns {
			cols[strings.ToLower(c)] = true
		}
	}
	return cols
}

// LeadingIndexColumns returns the first column of the primary key and of each
// index, lower-cased.
func (t *TableDef) LeadingIndexColumns() map[string]bool {
	cols := make(map[string]bool)
	if len(t.PrimaryKey) > 0 {
		cols[strings.ToLower(t.PrimaryKey[0])] = true
	}
	for _, idx := range t.Indexes {
		if len(idx.Columns) > 0 {
			cols[strings.ToLower(idx.Columns[0])] = true
		}
	}
	return cols
}

// ScanOperator is one physical table access in the plan. Table is nil when
// the operator referenced a tableId missing from the catalog; such operators
// stay in Scans for volume rules but are skipped by index-alignment rules.
type ScanOperator struct {
	Operator     string
	TableID      int64
	Table        *TableDef
	PushedFilter bool
	// Pushed-filter columns resolved to names; empty when nothing was pushed
	// or the positions did not resolve.
	FilterColumns []string

	EstimatedRows int64
	RowsScanned   int64
	RowsProduced  int64
	ElapsedMs     int64
	IOBytes       int64
	RangeCount    int
	SkewPct       float64

	StoragePath  StoragePath
	UnderRoutine bool
}

// IndexAccess reports whether the operator went through an index, either by
// storage path or by operator name.
func (s *ScanOperator) IndexAccess() bool {
	if s.StoragePath == PathRowStoreIndex {
		return true
	}
	return strings.Contains(strings.ToUpper(s.Operator), "INDEX")
}

// Profile is the typed view of one query's plan export.
type Profile struct {
	QueryID string
	Tables  map[int64]*TableDef
	Scans   []ScanOperator
	// Operators whose table reference did not resolve via the catalog.
	Unresolved int
}

// TableByName looks a table up by its catalog name, case-insensitively.
func (p *Profile) TableByName(name string) *TableDef {
	for _, t := range p.Tables {
		if strings.EqualFold(t.Name, name) {
			return t
		}
	}
	return nil
}

// HasTableKind reports whether any cataloged table has the given kind.
func (p *Profile) HasTableKind(kind TableKind) bool {
	for _, t := range p.Tables {
		if t.Kind == kind {
			return true
		}
	}
	return false
}
