package plan

import (
	"errors"
	"strings"
	"testing"
)

const sampleExport = `{
  "queryId": "01b7-0001",
  "steps": {
    "1": {
      "catalog": {
        "tables": [
          {
            "id": 42,
            "name": "orders",
            "kind": "hybrid",
            "columns": [
              {"pos": 1, "name": "order_id", "type": "NUMBER"},
              {"pos": 2, "name": "customer_id", "type": "NUMBER"},
              {"pos": 3, "name": "created_at", "type": "TIMESTAMP"}
            ],
            "primaryKey": [1],
            "secondaryIndexes": [
              {"name": "idx_customer", "columnPositions": [2, 3]}
            ]
          }
        ]
      },
      "operators": [
        {
          "id": 1,
          "rso": "Result",
          "children": [
            {
              "id": 2,
              "rso": "IndexRangeScan",
              "tableId": 42,
              "pushedFilter": true,
              "filterColumnPositions": [2],
              "rowsScanned": 120,
              "rowsProduced": 5,
              "elapsedMs": 3,
              "storagePath": "row-store-index"
            }
          ]
        }
      ]
    }
  },
  "workers": {
    "scanStats": [
      {"operatorId": 2, "skewPct": 62.5}
    ]
  }
}`

func requireParse(t *testing.T, data, queryID string) *Profile {
	t.Helper()
	profile, err := Parse([]byte(data), queryID)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return profile
}

func TestParse_ResolvesCatalogAndScans(t *testing.T) {
	profile := requireParse(t, sampleExport, "01b7-0001")

	table, ok := profile.Tables[42]
	if !ok {
		t.Fatal("table 42 not in catalog")
	}
	if table.Name != "ORDERS" {
		t.Errorf("Name = %q, want ORDERS", table.Name)
	}
	if !table.Hybrid() {
		t.Error("expected hybrid table")
	}
	if len(table.PrimaryKey) != 1 || table.PrimaryKey[0] != "order_id" {
		t.Errorf("PrimaryKey = %v", table.PrimaryKey)
	}
	if len(table.Indexes) != 1 || table.Indexes[0].Name != "idx_customer" {
		t.Fatalf("Indexes = %v", table.Indexes)
	}
	if got := table.Indexes[0].Columns; len(got) != 2 || got[0] != "customer_id" {
		t.Errorf("index columns = %v", got)
	}

	if len(profile.Scans) != 1 {
		t.Fatalf("expected 1 scan, got %d", len(profile.Scans))
	}
	scan := profile.Scans[0]
	if scan.Table != table {
		t.Error("scan not resolved to catalog table")
	}
	if !scan.PushedFilter {
		t.Error("expected pushed filter")
	}
	if len(scan.FilterColumns) != 1 || scan.FilterColumns[0] != "customer_id" {
		t.Errorf("FilterColumns = %v", scan.FilterColumns)
	}
	if scan.RowsScanned != 120 || scan.RowsProduced != 5 {
		t.Errorf("rows = %d/%d", scan.RowsScanned, scan.RowsProduced)
	}
	if scan.StoragePath != PathRowStoreIndex {
		t.Errorf("StoragePath = %q", scan.StoragePath)
	}
	if !scan.IndexAccess() {
		t.Error("expected index access")
	}
}

func TestParse_AppliesWorkerSkew(t *testing.T) {
	profile := requireParse(t, sampleExport, "01b7-0001")
	if got := profile.Scans[0].SkewPct; got != 62.5 {
		t.Errorf("SkewPct = %v, want 62.5", got)
	}
}

func TestParse_IdentifierMismatch(t *testing.T) {
	_, err := Parse([]byte(sampleExport), "different-query")
	if !errors.Is(err, ErrIdentifierMismatch) {
		t.Fatalf("err = %v, want ErrIdentifierMismatch", err)
	}
}

func TestParse_MissingIdentifier(t *testing.T) {
	_, err := Parse([]byte(`{"steps": {}}`), "01b7-0001")
	if err == nil {
		t.Fatal("expected error for export without query identifier")
	}
	if errors.Is(err, ErrIdentifierMismatch) {
		t.Fatal("missing identifier should not be classified as mismatch")
	}
}

func TestParse_MalformedDocument(t *testing.T) {
	_, err := Parse([]byte(`{"queryId": `), "01b7-0001")
	if err == nil {
		t.Fatal("expected error for malformed export")
	}
	if !strings.Contains(err.Error(), "invalid plan export") {
		t.Errorf("err = %v", err)
	}
}

func TestParse_UnresolvedTableKeepsScan(t *testing.T) {
	export := `{
	  "queryId": "q1",
	  "steps": {
	    "1": {
	      "operators": [
	        {"id": 1, "rso": "TableScan", "tableId": 99, "rowsScanned": 1000}
	      ]
	    }
	  }
	}`
	profile := requireParse(t, export, "q1")
	if len(profile.Scans) != 1 {
		t.Fatalf("expected 1 scan, got %d", len(profile.Scans))
	}
	if profile.Scans[0].Table != nil {
		t.Error("expected nil table for unresolved reference")
	}
	if profile.Unresolved != 1 {
		t.Errorf("Unresolved = %d, want 1", profile.Unresolved)
	}
}

func TestParse_RoutineNesting(t *testing.T) {
	export := `{
	  "queryId": "q1",
	  "steps": {
	    "1": {
	      "catalog": {"tables": [{"id": 7, "name": "t", "kind": "standard"}]},
	      "operators": [
	        {
	          "id": 1,
	          "rso": "RoutineCall",
	          "children": [
	            {"id": 2, "rso": "TableScan", "tableId": 7}
	          ]
	        },
	        {"id": 3, "rso": "TableScan", "tableId": 7}
	      ]
	    }
	  }
	}`
	profile := requireParse(t, export, "q1")
	if len(profile.Scans) != 2 {
		t.Fatalf("expected 2 scans, got %d", len(profile.Scans))
	}
	if !profile.Scans[0].UnderRoutine {
		t.Error("scan under routine call not flagged")
	}
	if profile.Scans[1].UnderRoutine {
		t.Error("top-level scan wrongly flagged as under routine")
	}
}

func TestParse_PartiallyResolvableIndexDropped(t *testing.T) {
	export := `{
	  "queryId": "q1",
	  "steps": {
	    "1": {
	      "catalog": {
	        "tables": [
	          {
	            "id": 7,
	            "name": "t",
	            "kind": "hybrid",
	            "columns": [{"pos": 1, "name": "a", "type": "NUMBER"}],
	            "secondaryIndexes": [
	              {"name": "idx_bad", "columnPositions": [1, 9]},
	              {"name": "idx_good", "columnPositions": [1]}
	            ]
	          }
	        ]
	      },
	      "operators": []
	    }
	  }
	}`
	profile := requireParse(t, export, "q1")
	table := profile.Tables[7]
	if len(table.Indexes) != 1 {
		t.Fatalf("expected 1 index, got %d", len(table.Indexes))
	}
	if table.Indexes[0].Name != "idx_good" {
		t.Errorf("kept index = %q, want idx_good", table.Indexes[0].Name)
	}
}

func TestProfile_HasTableKind(t *testing.T) {
	profile := requireParse(t, sampleExport, "01b7-0001")
	if !profile.HasTableKind(KindHybrid) {
		t.Error("expected hybrid kind present")
	}
	if profile.HasTableKind(KindColumnar) {
		t.Error("unexpected columnar kind")
	}
}

func TestTableDef_LeadingIndexColumns(t *testing.T) {
	table := &TableDef{
		PrimaryKey: []string{"Order_ID", "created_at"},
		Indexes: []IndexDef{
			{Name: "idx", Columns: []string{"Customer_ID", "created_at"}},
		},
	}
	leading := table.LeadingIndexColumns()
	if !leading["order_id"] || !leading["customer_id"] {
		t.Errorf("leading = %v", leading)
	}
	if leading["created_at"] {
		t.Error("non-leading column included")
	}
}
