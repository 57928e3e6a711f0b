package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrIdentifierMismatch marks an export whose embedded query identifier does
// not match the record under analysis. Callers must not fall back to the
// profile in that case; they would be analyzing the wrong query.
var ErrIdentifierMismatch = errors.New("plan export query identifier mismatch")

// Wire format of a plan export. Exports are nested documents keyed by step
// identifier; each step carries its own catalog and operator tree. Optional
// sections decode to nil and yield empty collections, never an error.
type exportDoc struct {
	QueryID string             `json:"queryId"`
	Steps   map[string]stepDoc `json:"steps"`
	Workers *workersDoc        `json:"workers"`
}

type stepDoc struct {
	Catalog   *catalogDoc   `json:"catalog"`
	Operators []operatorDoc `json:"operators"`
}

type catalogDoc struct {
	Tables []tableDoc `json:"tables"`
}

type tableDoc struct {
	ID         int64       `json:"id"`
	Name       string      `json:"name"`
	Kind       string      `json:"kind"`
	Columns    []columnDoc `json:"columns"`
	PrimaryKey []int       `json:"primaryKey"`
	Indexes    []indexDoc  `json:"secondaryIndexes"`
}

type columnDoc struct {
	Pos  int    `json:"pos"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type indexDoc struct {
	Name    string `json:"name"`
	Columns []int  `json:"columnPositions"`
}

type operatorDoc struct {
	ID            int64         `json:"id"`
	RSO           string        `json:"rso"`
	TableID       *int64        `json:"tableId"`
	PushedFilter  *bool         `json:"pushedFilter"`
	FilterColumns []int         `json:"filterColumnPositions"`
	EstimatedRows *int64        `json:"estimatedRows"`
	RowsScanned   *int64        `json:"rowsScanned"`
	RowsProduced  *int64        `json:"rowsProduced"`
	ElapsedMs     *int64        `json:"elapsedMs"`
	IOBytes       *int64        `json:"ioBytes"`
	RangeCount    *int          `json:"rangeCount"`
	StoragePath   string        `json:"storagePath"`
	Children      []operatorDoc `json:"children"`
}

type workersDoc struct {
	ScanStats []workerScanDoc `json:"scanStats"`
}

type workerScanDoc struct {
	OperatorID int64    `json:"operatorId"`
	SkewPct    *float64 `json:"skewPct"`
}

// Parse decodes a plan export and resolves its operator references against
// the embedded catalog. queryID is the identifier of the telemetry record the
// export is supposed to describe; a differing embedded identifier yields
// ErrIdentifierMismatch and no Profile.
func Parse(data []byte, queryID string) (*Profile, error) {
	var doc exportDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid plan export: %w", err)
	}
	if doc.QueryID == "" {
		return nil, fmt.Errorf("plan export carries no query identifier")
	}
	if doc.QueryID != queryID {
		return nil, fmt.Errorf("%w: export is for %s, record is %s", ErrIdentifierMismatch, doc.QueryID, queryID)
	}

	profile := &Profile{
		QueryID: doc.QueryID,
		Tables:  make(map[int64]*TableDef),
	}

	// Step keys are sorted so that repeated parses of the same document walk
	// operators in the same order.
	stepIDs := make([]string, 0, len(doc.Steps))
	for id := range doc.Steps {
		stepIDs = append(stepIDs, id)
	}
	sort.Strings(stepIDs)

	for _, id := range stepIDs {
		resolveCatalog(doc.Steps[id].Catalog, profile)
	}
	for _, id := range stepIDs {
		for i := range doc.Steps[id].Operators {
			walkOperators(&doc.Steps[id].Operators[i], false, profile)
		}
	}

	if doc.Workers != nil {
		applyWorkerStats(doc.Workers, doc.Steps, stepIDs, profile)
	}

	return profile, nil
}

func resolveCatalog(catalog *catalogDoc, profile *Profile) {
	if catalog == nil {
		return
	}
	for _, t := range catalog.Tables {
		if t.ID == 0 || t.Name == "" {
			continue
		}
		def := &TableDef{
			ID:      t.ID,
			Name:    strings.ToUpper(strings.ReplaceAll(t.Name, `"`, "")),
			Kind:    tableKind(t.Kind),
			Columns: make(map[int]ColumnDef, len(t.Columns)),
		}
		for _, c := range t.Columns {
			def.Columns[c.Pos] = ColumnDef{Pos: c.Pos, Name: c.Name, Type: c.Type}
		}
		def.PrimaryKey = resolveColumns(t.PrimaryKey, def)
		for _, idx := range t.Indexes {
			cols := resolveColumns(idx.Columns, def)
			if len(cols) != len(idx.Columns) {
				// A partially resolvable index cannot support alignment
				// checks; drop it rather than report on half an index.
				continue
			}
			def.Indexes = append(def.Indexes, IndexDef{Name: idx.Name, Columns: cols})
		}
		profile.Tables[t.ID] = def
	}
}

func resolveColumns(positions []int, def *TableDef) []string {
	var cols []string
	for _, pos := range positions {
		if c, ok := def.Columns[pos]; ok {
			cols = append(cols, c.Name)
		}
	}
	return cols
}

func tableKind(kind string) TableKind {
	switch strings.ToLower(kind) {
	case "hybrid":
		return KindHybrid
	case "columnar":
		return KindColumnar
	default:
		return KindStandard
	}
}

func walkOperators(node *operatorDoc, underRoutine bool, profile *Profile) {
	nested := underRoutine || isRoutineNode(node.RSO)

	if node.TableID != nil {
		scan := ScanOperator{
			Operator:      node.RSO,
			TableID:       *node.TableID,
			PushedFilter:  node.PushedFilter != nil && *node.PushedFilter,
			EstimatedRows: int64Value(node.EstimatedRows),
			RowsScanned:   int64Value(node.RowsScanned),
			RowsProduced:  int64Value(node.RowsProduced),
			ElapsedMs:     int64Value(node.ElapsedMs),
			IOBytes:       int64Value(node.IOBytes),
			StoragePath:   storagePath(node.StoragePath),
			UnderRoutine:  nested,
		}
		if node.RangeCount != nil {
			scan.RangeCount = *node.RangeCount
		}
		if table, ok := profile.Tables[*node.TableID]; ok {
			scan.Table = table
			for _, pos := range node.FilterColumns {
				if c, ok := table.Columns[pos]; ok {
					scan.FilterColumns = append(scan.FilterColumns, c.Name)
				}
			}
		} else {
			profile.Unresolved++
		}
		profile.Scans = append(profile.Scans, scan)
	}

	for i := range node.Children {
		walkOperators(&node.Children[i], nested, profile)
	}
}

func isRoutineNode(rso string) bool {
	return strings.Contains(strings.ToUpper(rso), "ROUTINE")
}

func storagePath(tag string) StoragePath {
	switch StoragePath(strings.ToLower(tag)) {
	case PathRowStoreIndex, PathRowStoreScan, PathAnalyticStore:
		return StoragePath(strings.ToLower(tag))
	default:
		return PathUnknown
	}
}

func int64Value(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

// applyWorkerStats merges per-operator skew figures from the worker stats
// section onto the extracted scans. Operator ids are matched by re-walking the
// operator trees in the same order Parse extracted them.
func applyWorkerStats(workers *workersDoc, steps map[string]stepDoc, stepIDs []string, profile *Profile) {
	skewByOp := make(map[int64]float64)
	for _, ws := range workers.ScanStats {
		if ws.SkewPct != nil && *ws.SkewPct > 0 {
			skewByOp[ws.OperatorID] = *ws.SkewPct
		}
	}
	if len(skewByOp) == 0 {
		return
	}

	scanIdx := 0
	var visit func(node *operatorDoc)
	visit = func(node *operatorDoc) {
		if node.TableID != nil {
			if scanIdx < len(profile.Scans) {
				if skew, ok := skewByOp[node.ID]; ok {
					profile.Scans[scanIdx].SkewPct = skew
				}
			}
			scanIdx++
		}
		for i := range node.Children {
			visit(&node.Children[i])
		}
	}
	for _, id := range stepIDs {
		for i := range steps[id].Operators {
			visit(&steps[id].Operators[i])
		}
	}
}
