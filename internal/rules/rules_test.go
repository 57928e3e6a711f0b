package rules

import (
	"reflect"
	"testing"

	"htdiag/internal/plan"
	"htdiag/internal/sqlprops"
	"htdiag/internal/telemetry"
)

// --- Helpers ---

func i64(v int64) *int64 { return &v }
func b(v bool) *bool     { return &v }

func baseRecord() telemetry.QueryRecord {
	return telemetry.QueryRecord{
		QueryID: "q1",
		SQLText: "SELECT * FROM orders WHERE order_id = :id",
		TotalMs: 12,
	}
}

func inputFor(rec telemetry.QueryRecord) Input {
	return Input{Record: rec, SQL: sqlprops.Analyze(rec.SQLText)}
}

func hybridOrders() *plan.TableDef {
	return &plan.TableDef{
		ID:         42,
		Name:       "ORDERS",
		Kind:       plan.KindHybrid,
		PrimaryKey: []string{"order_id"},
		Indexes:    []plan.IndexDef{{Name: "idx_customer", Columns: []string{"customer_id"}}},
	}
}

func profileWith(scans ...plan.ScanOperator) *plan.Profile {
	p := &plan.Profile{QueryID: "q1", Tables: make(map[int64]*plan.TableDef)}
	for i := range scans {
		if t := scans[i].Table; t != nil {
			p.Tables[t.ID] = t
		}
	}
	p.Scans = scans
	return p
}

func findRule(findings []Finding, id string) *Finding {
	for i := range findings {
		if findings[i].Rule == id {
			return &findings[i]
		}
	}
	return nil
}

func requireRule(t *testing.T, findings []Finding, id string) Finding {
	t.Helper()
	f := findRule(findings, id)
	if f == nil {
		t.Fatalf("rule %s not triggered; findings: %v", id, findings)
	}
	return *f
}

func requireNoRule(t *testing.T, findings []Finding, id string) {
	t.Helper()
	if f := findRule(findings, id); f != nil {
		t.Fatalf("rule %s unexpectedly triggered: %s", id, f.Message)
	}
}

// --- Telemetry-only rules ---

func TestQueryFailed(t *testing.T) {
	rec := baseRecord()
	rec.ErrorCode = "100038"
	rec.ErrorMessage = "numeric value out of range"

	f := requireRule(t, Evaluate(inputFor(rec)), "QUERY_FAILED")
	if f.Severity != Error {
		t.Errorf("severity = %v, want Error", f.Severity)
	}
}

func TestHighTotalLatency_Boundary(t *testing.T) {
	rec := baseRecord()
	rec.TotalMs = HighLatencyMs
	requireNoRule(t, Evaluate(inputFor(rec)), "HIGH_TOTAL_LATENCY")

	rec.TotalMs = HighLatencyMs + 1
	requireRule(t, Evaluate(inputFor(rec)), "HIGH_TOTAL_LATENCY")
}

func TestWorkerBottleneck_NilMeansUnknown(t *testing.T) {
	rec := baseRecord()
	requireNoRule(t, Evaluate(inputFor(rec)), "WORKER_EXEC_BOTTLENECK")

	rec.WorkerExecMs = i64(WorkerBottleneckMs + 1)
	requireRule(t, Evaluate(inputFor(rec)), "WORKER_EXEC_BOTTLENECK")
}

func TestHighBackendIO_Boundary(t *testing.T) {
	rec := baseRecord()
	rec.BackendIOBytes = i64(HighBackendIOBytes)
	requireNoRule(t, Evaluate(inputFor(rec)), "HIGH_BACKEND_IO")

	rec.BackendIOBytes = i64(HighBackendIOBytes + 1)
	requireRule(t, Evaluate(inputFor(rec)), "HIGH_BACKEND_IO")
}

func TestSlowCompilation_Boundary(t *testing.T) {
	rec := baseRecord()
	rec.CompileMs = i64(SlowCompileMs)
	requireNoRule(t, Evaluate(inputFor(rec)), "SLOW_COMPILATION")

	rec.CompileMs = i64(SlowCompileMs + 1)
	requireRule(t, Evaluate(inputFor(rec)), "SLOW_COMPILATION")
}

func TestNoBoundParameters(t *testing.T) {
	rec := baseRecord()
	rec.SQLText = `SELECT * FROM orders WHERE order_id = 12345`
	requireRule(t, Evaluate(inputFor(rec)), "NO_BOUND_PARAMETERS")

	rec.SQLText = `SELECT * FROM orders WHERE order_id = :id`
	requireNoRule(t, Evaluate(inputFor(rec)), "NO_BOUND_PARAMETERS")
}

func TestNoWhereFilter_SelectOnly(t *testing.T) {
	rec := baseRecord()
	rec.SQLText = `SELECT * FROM orders`
	requireRule(t, Evaluate(inputFor(rec)), "NO_WHERE_FILTER")

	// DML without a filter is a different concern; the rule stays out of it.
	rec.SQLText = `INSERT INTO orders_archive SELECT * FROM orders_staging`
	rec.QueryKind = "INSERT"
	requireNoRule(t, Evaluate(inputFor(rec)), "NO_WHERE_FILTER")
}

func TestCTEJoinBlocksFK(t *testing.T) {
	rec := baseRecord()
	rec.SQLText = `WITH r AS (SELECT * FROM orders WHERE status = :s)
	               SELECT * FROM r JOIN customers c ON r.customer_id = c.id`
	requireRule(t, Evaluate(inputFor(rec)), "CTE_JOIN_BLOCKS_FK")
}

func TestFullSortNoLimit_NeedsVolume(t *testing.T) {
	rec := baseRecord()
	rec.SQLText = `SELECT * FROM orders WHERE status = :s ORDER BY created_at`

	rec.RowsProduced = i64(LargeResultRows - 1)
	requireNoRule(t, Evaluate(inputFor(rec)), "FULL_SORT_NO_LIMIT")

	rec.RowsProduced = i64(LargeResultRows)
	requireRule(t, Evaluate(inputFor(rec)), "FULL_SORT_NO_LIMIT")
}

func TestFullSortNoLimit_FallsBackToPlanVolume(t *testing.T) {
	rec := baseRecord()
	rec.SQLText = `SELECT * FROM orders ORDER BY created_at`
	rec.RowsProduced = nil

	in := inputFor(rec)
	in.Plan = profileWith(plan.ScanOperator{
		Operator: "TableScan", TableID: 42, Table: hybridOrders(),
		RowsScanned: LargeResultRows + 500,
	})
	requireRule(t, Evaluate(in), "FULL_SORT_NO_LIMIT")

	// No row volume from either source: stay silent.
	in.Plan = nil
	requireNoRule(t, Evaluate(in), "FULL_SORT_NO_LIMIT")
}

// --- Plan-dependent rules ---

func TestPlanRules_SilentWithoutPlan(t *testing.T) {
	rec := baseRecord()
	rec.UsedSpecializedStorage = b(false)
	findings := Evaluate(inputFor(rec))

	for _, id := range []string{
		"SPECIALIZED_PATH_UNUSED", "INDEX_EXPECTED_NOT_USED", "INDEX_WEAK_COVERAGE",
		"WIDE_INDEX_RANGE_SCAN", "ANALYTIC_STORE_FALLBACK", "MIXED_STORAGE_JOIN",
		"SCAN_SKEW", "ROUTINE_MASKS_TABLE_ACCESS",
	} {
		requireNoRule(t, findings, id)
	}
}

func TestSpecializedPathUnused(t *testing.T) {
	rec := baseRecord()
	rec.UsedSpecializedStorage = b(false)

	in := inputFor(rec)
	in.Plan = profileWith(plan.ScanOperator{
		Operator: "TableScan", TableID: 42, Table: hybridOrders(),
	})
	requireRule(t, Evaluate(in), "SPECIALIZED_PATH_UNUSED")

	rec.UsedSpecializedStorage = b(true)
	in = inputFor(rec)
	in.Plan = profileWith(plan.ScanOperator{
		Operator: "TableScan", TableID: 42, Table: hybridOrders(),
	})
	requireNoRule(t, Evaluate(in), "SPECIALIZED_PATH_UNUSED")
}

func TestIndexExpectedNotUsed(t *testing.T) {
	rec := baseRecord()
	rec.SQLText = `SELECT * FROM orders WHERE customer_id = :id`

	in := inputFor(rec)
	in.Plan = profileWith(plan.ScanOperator{
		Operator: "TableScan", TableID: 42, Table: hybridOrders(),
		PushedFilter: false, RowsScanned: 500000, RowsProduced: 12,
	})
	f := requireRule(t, Evaluate(in), "INDEX_EXPECTED_NOT_USED")
	if f.Severity != Error {
		t.Errorf("severity = %v, want Error", f.Severity)
	}
	if f.Detail["column"] != "customer_id" {
		t.Errorf("column = %v, want customer_id", f.Detail["column"])
	}
}

func TestIndexExpectedNotUsed_PushedFilterClears(t *testing.T) {
	rec := baseRecord()
	rec.SQLText = `SELECT * FROM orders WHERE customer_id = :id`

	in := inputFor(rec)
	in.Plan = profileWith(plan.ScanOperator{
		Operator: "IndexRangeScan", TableID: 42, Table: hybridOrders(),
		PushedFilter: true, FilterColumns: []string{"customer_id"},
		RowsScanned: 20, RowsProduced: 12,
		StoragePath: plan.PathRowStoreIndex,
	})
	requireNoRule(t, Evaluate(in), "INDEX_EXPECTED_NOT_USED")
}

func TestIndexExpectedNotUsed_NonIndexedPredicate(t *testing.T) {
	rec := baseRecord()
	rec.SQLText = `SELECT * FROM orders WHERE status = :s`

	in := inputFor(rec)
	in.Plan = profileWith(plan.ScanOperator{
		Operator: "TableScan", TableID: 42, Table: hybridOrders(),
		RowsScanned: 500000, RowsProduced: 12,
	})
	requireNoRule(t, Evaluate(in), "INDEX_EXPECTED_NOT_USED")
}

func TestIndexWeakCoverage(t *testing.T) {
	rec := baseRecord()
	rec.SQLText = `SELECT * FROM orders WHERE status = :s`

	in := inputFor(rec)
	in.Plan = profileWith(plan.ScanOperator{
		Operator: "IndexRangeScan", TableID: 42, Table: hybridOrders(),
		PushedFilter: true, FilterColumns: []string{"status"},
		StoragePath: plan.PathRowStoreIndex,
	})
	f := requireRule(t, Evaluate(in), "INDEX_WEAK_COVERAGE")
	if f.Severity != Info {
		t.Errorf("severity = %v, want Info", f.Severity)
	}
}

func TestIndexWeakCoverage_LeadingColumnMatches(t *testing.T) {
	rec := baseRecord()
	rec.SQLText = `SELECT * FROM orders WHERE customer_id = :id`

	in := inputFor(rec)
	in.Plan = profileWith(plan.ScanOperator{
		Operator: "IndexRangeScan", TableID: 42, Table: hybridOrders(),
		PushedFilter: true, FilterColumns: []string{"customer_id"},
		StoragePath: plan.PathRowStoreIndex,
	})
	requireNoRule(t, Evaluate(in), "INDEX_WEAK_COVERAGE")
}

func TestWideIndexRangeScan(t *testing.T) {
	in := inputFor(baseRecord())
	in.Plan = profileWith(plan.ScanOperator{
		Operator: "IndexRangeScan", TableID: 42, Table: hybridOrders(),
		PushedFilter: true, StoragePath: plan.PathRowStoreIndex,
		RowsScanned: 600000, RowsProduced: 100,
	})
	f := requireRule(t, Evaluate(in), "WIDE_INDEX_RANGE_SCAN")
	if f.Detail["ratio"].(float64) != 6000 {
		t.Errorf("ratio = %v, want 6000", f.Detail["ratio"])
	}
}

func TestWideIndexRangeScan_FractionalRatioAboveBoundary(t *testing.T) {
	in := inputFor(baseRecord())
	in.Plan = profileWith(plan.ScanOperator{
		Operator: "IndexRangeScan", TableID: 42, Table: hybridOrders(),
		PushedFilter: true, StoragePath: plan.PathRowStoreIndex,
		RowsScanned: 25450, RowsProduced: 500, // 50.9x
	})
	f := requireRule(t, Evaluate(in), "WIDE_INDEX_RANGE_SCAN")
	if f.Detail["ratio"].(float64) != 50.9 {
		t.Errorf("ratio = %v, want 50.9", f.Detail["ratio"])
	}

	in.Plan.Scans[0].RowsScanned = 25000 // exactly 50x: not above the bar
	requireNoRule(t, Evaluate(in), "WIDE_INDEX_RANGE_SCAN")
}

func TestIndexWeakCoverage_DetailStableAcrossRuns(t *testing.T) {
	table := &plan.TableDef{
		ID:         42,
		Name:       "ORDERS",
		Kind:       plan.KindHybrid,
		PrimaryKey: []string{"order_id"},
		Indexes: []plan.IndexDef{
			{Name: "idx_customer", Columns: []string{"customer_id"}},
			{Name: "idx_created", Columns: []string{"created_at"}},
			{Name: "idx_region", Columns: []string{"region"}},
		},
	}
	rec := baseRecord()
	rec.SQLText = `SELECT * FROM orders WHERE status = :s`

	input := func() Input {
		in := inputFor(rec)
		in.Plan = profileWith(plan.ScanOperator{
			Operator: "IndexRangeScan", TableID: 42, Table: table,
			PushedFilter: true, FilterColumns: []string{"status"},
			StoragePath: plan.PathRowStoreIndex,
		})
		return in
	}

	first := Evaluate(input())
	f := requireRule(t, first, "INDEX_WEAK_COVERAGE")
	want := []string{"created_at", "customer_id", "order_id", "region"}
	if !reflect.DeepEqual(f.Detail["leadingColumns"], want) {
		t.Fatalf("leadingColumns = %v, want %v", f.Detail["leadingColumns"], want)
	}

	for i := 0; i < 50; i++ {
		if !reflect.DeepEqual(first, Evaluate(input())) {
			t.Fatal("findings (including Detail payloads) differ between identical evaluations")
		}
	}
}

func TestWideIndexRangeScan_SelectiveScanClears(t *testing.T) {
	in := inputFor(baseRecord())
	in.Plan = profileWith(plan.ScanOperator{
		Operator: "IndexRangeScan", TableID: 42, Table: hybridOrders(),
		PushedFilter: true, StoragePath: plan.PathRowStoreIndex,
		RowsScanned: 11000, RowsProduced: 5000,
	})
	requireNoRule(t, Evaluate(in), "WIDE_INDEX_RANGE_SCAN")
}

func TestWideIndexRangeScan_ZeroProducedTreatedAsOne(t *testing.T) {
	in := inputFor(baseRecord())
	in.Plan = profileWith(plan.ScanOperator{
		Operator: "IndexRangeScan", TableID: 42, Table: hybridOrders(),
		PushedFilter: true, StoragePath: plan.PathRowStoreIndex,
		RowsScanned: 20000, RowsProduced: 0,
	})
	requireRule(t, Evaluate(in), "WIDE_INDEX_RANGE_SCAN")
}

func TestAnalyticStoreFallback(t *testing.T) {
	in := inputFor(baseRecord())
	in.Plan = profileWith(plan.ScanOperator{
		Operator: "TableScan", TableID: 42, Table: hybridOrders(),
		StoragePath: plan.PathAnalyticStore, RowsScanned: 2_000_000,
	})
	requireRule(t, Evaluate(in), "ANALYTIC_STORE_FALLBACK")
}

func TestAnalyticStoreFallback_StandardTableIgnored(t *testing.T) {
	standard := &plan.TableDef{ID: 7, Name: "EVENTS", Kind: plan.KindStandard}
	in := inputFor(baseRecord())
	in.Plan = profileWith(plan.ScanOperator{
		Operator: "TableScan", TableID: 7, Table: standard,
		StoragePath: plan.PathAnalyticStore,
	})
	requireNoRule(t, Evaluate(in), "ANALYTIC_STORE_FALLBACK")
}

func TestMixedStorageJoin(t *testing.T) {
	standard := &plan.TableDef{ID: 7, Name: "EVENTS", Kind: plan.KindStandard}
	in := inputFor(baseRecord())
	in.Plan = profileWith(
		plan.ScanOperator{Operator: "TableScan", TableID: 42, Table: hybridOrders()},
		plan.ScanOperator{Operator: "TableScan", TableID: 7, Table: standard},
	)
	requireRule(t, Evaluate(in), "MIXED_STORAGE_JOIN")
}

func TestScanSkew_Boundary(t *testing.T) {
	in := inputFor(baseRecord())
	in.Plan = profileWith(plan.ScanOperator{
		Operator: "TableScan", TableID: 42, Table: hybridOrders(), SkewPct: SkewInfoPct,
	})
	requireNoRule(t, Evaluate(in), "SCAN_SKEW")

	in.Plan.Scans[0].SkewPct = SkewInfoPct + 0.5
	requireRule(t, Evaluate(in), "SCAN_SKEW")
}

func TestOversizedWarehouse(t *testing.T) {
	rec := baseRecord()
	rec.WarehouseSize = "XL"
	rec.RowsProduced = i64(3)
	requireRule(t, Evaluate(inputFor(rec)), "OVERSIZED_WAREHOUSE")

	rec.WarehouseSize = "XS"
	requireNoRule(t, Evaluate(inputFor(rec)), "OVERSIZED_WAREHOUSE")
}

func TestOversizedWarehouse_LargeScanClears(t *testing.T) {
	rec := baseRecord()
	rec.WarehouseSize = "XL"
	rec.RowsProduced = i64(3)

	in := inputFor(rec)
	in.Plan = profileWith(plan.ScanOperator{
		Operator: "TableScan", TableID: 42, Table: hybridOrders(),
		RowsScanned: PointLookupMaxScanRows + 1,
	})
	requireNoRule(t, Evaluate(in), "OVERSIZED_WAREHOUSE")
}

func TestRoutineMasksTableAccess(t *testing.T) {
	in := inputFor(baseRecord())
	in.Plan = profileWith(plan.ScanOperator{
		Operator: "TableScan", TableID: 42, Table: hybridOrders(), UnderRoutine: true,
	})
	requireRule(t, Evaluate(in), "ROUTINE_MASKS_TABLE_ACCESS")
}

// --- Catalog behavior ---

func TestEvaluate_CatalogOrderAndDeterminism(t *testing.T) {
	rec := baseRecord()
	rec.TotalMs = 5000
	rec.CompileMs = i64(400)
	rec.SQLText = `SELECT * FROM orders WHERE customer_id = 123`

	first := Evaluate(inputFor(rec))
	second := Evaluate(inputFor(rec))
	if len(first) != len(second) {
		t.Fatalf("runs differ in length: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Rule != second[i].Rule {
			t.Errorf("order differs at %d: %s vs %s", i, first[i].Rule, second[i].Rule)
		}
	}

	order := map[string]int{}
	for i, r := range Catalog {
		order[r.ID] = i
	}
	for i := 1; i < len(first); i++ {
		if order[first[i-1].Rule] >= order[first[i].Rule] {
			t.Errorf("findings not in catalog order: %s before %s", first[i-1].Rule, first[i].Rule)
		}
	}
}

func TestPenaltyFor(t *testing.T) {
	if got := PenaltyFor("INDEX_EXPECTED_NOT_USED"); got != 30 {
		t.Errorf("penalty = %d, want 30", got)
	}
	if got := PenaltyFor("QUERY_FAILED"); got != 100 {
		t.Errorf("penalty = %d, want 100", got)
	}
	if got := PenaltyFor("does-not-exist"); got != 0 {
		t.Errorf("penalty for unknown rule = %d, want 0", got)
	}
}
