package rules

import (
	"fmt"
	"sort"
	"strings"

	"htdiag/internal/plan"
	"htdiag/internal/sqlprops"
	"htdiag/internal/telemetry"
)

const (
	HighLatencyMs          = 1000
	WorkerBottleneckMs     = 500
	HighBackendIOBytes     = 10_000_000
	SlowCompileMs          = 200
	WideScanMinRows        = 10_000
	WideScanRatio          = 50
	LargeResultRows        = 10_000
	SkewInfoPct            = 50.0
	PointLookupMaxRows     = 100
	PointLookupMaxScanRows = 1000
)

// warehouseTiers orders sizes smallest-first; anything above tier 0 counts as
// oversized for a point-lookup workload.
var warehouseTiers = map[string]int{
	"XS": 0, "S": 1, "M": 2, "L": 3, "XL": 4, "2XL": 5, "3XL": 6, "4XL": 7,
}

// Input bundles everything a rule may look at. Plan is nil when no export was
// supplied; plan-dependent rules no-op in that case.
type Input struct {
	Record telemetry.QueryRecord
	Plan   *plan.Profile
	SQL    sqlprops.Properties
}

// Rule is one entry of the closed catalog. Check is a pure function of Input;
// rules never read other rules' output. Penalty is deducted from the score
// per triggered finding.
type Rule struct {
	ID       string
	Severity Severity
	Penalty  int
	Check    func(in Input) *Finding
}

// Catalog is the fixed, ordered rule list. Evaluation and output order is
// catalog order.
var Catalog = []Rule{
	{ID: "QUERY_FAILED", Severity: Error, Penalty: 100, Check: checkQueryFailed},
	{ID: "HIGH_TOTAL_LATENCY", Severity: Warning, Penalty: 10, Check: checkHighTotalLatency},
	{ID: "WORKER_EXEC_BOTTLENECK", Severity: Warning, Penalty: 10, Check: checkWorkerBottleneck},
	{ID: "HIGH_BACKEND_IO", Severity: Warning, Penalty: 10, Check: checkHighBackendIO},
	{ID: "SLOW_COMPILATION", Severity: Warning, Penalty: 10, Check: checkSlowCompilation},
	{ID: "NO_BOUND_PARAMETERS", Severity: Warning, Penalty: 10, Check: checkNoBoundParameters},
	{ID: "NO_WHERE_FILTER", Severity: Warning, Penalty: 10, Check: checkNoWhereFilter},
	{ID: "CTE_JOIN_BLOCKS_FK", Severity: Warning, Penalty: 10, Check: checkCTEJoinBlocksFK},
	{ID: "FULL_SORT_NO_LIMIT", Severity: Warning, Penalty: 10, Check: checkFullSortNoLimit},
	{ID: "SPECIALIZED_PATH_UNUSED", Severity: Warning, Penalty: 15, Check: checkSpecializedPathUnused},
	{ID: "INDEX_EXPECTED_NOT_USED", Severity: Error, Penalty: 30, Check: checkIndexExpectedNotUsed},
	{ID: "INDEX_WEAK_COVERAGE", Severity: Info, Penalty: 0, Check: checkIndexWeakCoverage},
	{ID: "WIDE_INDEX_RANGE_SCAN", Severity: Warning, Penalty: 15, Check: checkWideIndexRangeScan},
	{ID: "ANALYTIC_STORE_FALLBACK", Severity: Warning, Penalty: 15, Check: checkAnalyticStoreFallback},
	{ID: "MIXED_STORAGE_JOIN", Severity: Info, Penalty: 0, Check: checkMixedStorageJoin},
	{ID: "SCAN_SKEW", Severity: Info, Penalty: 0, Check: checkScanSkew},
	{ID: "OVERSIZED_WAREHOUSE", Severity: Info, Penalty: 0, Check: checkOversizedWarehouse},
	{ID: "ROUTINE_MASKS_TABLE_ACCESS", Severity: Warning, Penalty: 10, Check: checkRoutineMasksAccess},
}

var penalties = func() map[string]int {
	m := make(map[string]int, len(Catalog))
	for _, r := range Catalog {
		m[r.ID] = r.Penalty
	}
	return m
}()

// PenaltyFor returns the score deduction for a rule id, 0 for unknown ids.
func PenaltyFor(rule string) int {
	return penalties[rule]
}

// Evaluate runs the full catalog in order and returns the triggered findings,
// in catalog order. Repeated invocations over the same Input produce
// identical output.
func Evaluate(in Input) []Finding {
	var findings []Finding
	for _, rule := range Catalog {
		if f := rule.Check(in); f != nil {
			f.Rule = rule.ID
			f.Severity = rule.Severity
			findings = append(findings, *f)
		}
	}
	return findings
}

func checkQueryFailed(in Input) *Finding {
	if !in.Record.Failed() {
		return nil
	}
	msg := fmt.Sprintf("query failed with error %s", in.Record.ErrorCode)
	if in.Record.ErrorMessage != "" {
		msg += ": " + in.Record.ErrorMessage
	}
	return &Finding{
		Message: msg,
		Detail:  map[string]any{"errorCode": in.Record.ErrorCode},
	}
}

func checkHighTotalLatency(in Input) *Finding {
	if in.Record.TotalMs <= HighLatencyMs {
		return nil
	}
	return &Finding{
		Message: fmt.Sprintf("total duration %dms exceeds the %dms latency budget", in.Record.TotalMs, HighLatencyMs),
		Detail:  map[string]any{"totalMs": in.Record.TotalMs, "thresholdMs": HighLatencyMs},
	}
}

func checkWorkerBottleneck(in Input) *Finding {
	w := in.Record.WorkerExecMs
	if w == nil || *w <= WorkerBottleneckMs {
		return nil
	}
	return &Finding{
		Message: fmt.Sprintf("worker execution took %dms of %dms total; execution is worker-bound", *w, in.Record.TotalMs),
		Detail:  map[string]any{"workerExecMs": *w, "totalMs": in.Record.TotalMs, "thresholdMs": WorkerBottleneckMs},
	}
}

func checkHighBackendIO(in Input) *Finding {
	io := in.Record.BackendIOBytes
	if io == nil || *io <= HighBackendIOBytes {
		return nil
	}
	return &Finding{
		Message: fmt.Sprintf("backend storage layer moved %.1f MB for one query", float64(*io)/(1024*1024)),
		Detail:  map[string]any{"backendIoBytes": *io, "thresholdBytes": int64(HighBackendIOBytes)},
	}
}

func checkSlowCompilation(in Input) *Finding {
	c := in.Record.CompileMs
	if c == nil || *c <= SlowCompileMs {
		return nil
	}
	return &Finding{
		Message: fmt.Sprintf("compilation took %dms; repeated compilations suggest poor plan cache reuse", *c),
		Detail:  map[string]any{"compileMs": *c, "thresholdMs": SlowCompileMs},
	}
}

func checkNoBoundParameters(in Input) *Finding {
	if !in.SQL.UsesLiteral {
		return nil
	}
	return &Finding{
		Message: "query compares against embedded literals instead of bound parameters; plan cache reuse will be low",
		Detail:  map[string]any{"usesBoundParam": in.SQL.UsesBoundParam},
	}
}

func checkNoWhereFilter(in Input) *Finding {
	if in.SQL.HasNarrowing || !isSelectLike(in.Record.SQLText) {
		return nil
	}
	return &Finding{
		Message: "no narrowing clause (WHERE/IN/EXISTS/HAVING/QUALIFY); query likely scans whole tables",
	}
}

func checkCTEJoinBlocksFK(in Input) *Finding {
	if !in.SQL.HasCTEWithJoin {
		return nil
	}
	return &Finding{
		// Textual heuristic; a commented-out JOIN can trip it.
		Message: "WITH ... AS combined with JOIN can defeat foreign-key join optimization; consider inlining the CTE",
	}
}

func checkFullSortNoLimit(in Input) *Finding {
	if !in.SQL.HasOrderByNoLimit {
		return nil
	}
	rows, known := resultRows(in)
	if !known || rows < LargeResultRows {
		return nil
	}
	return &Finding{
		Message: fmt.Sprintf("ORDER BY without LIMIT sorts %d rows in full; add LIMIT/FETCH to bound the sort", rows),
		Detail:  map[string]any{"rows": rows, "thresholdRows": int64(LargeResultRows)},
	}
}

// resultRows prefers the telemetry row count and falls back to the widest
// scan in the plan.
func resultRows(in Input) (int64, bool) {
	if in.Record.RowsProduced != nil {
		return *in.Record.RowsProduced, true
	}
	if in.Plan == nil {
		return 0, false
	}
	var max int64
	found := false
	for i := range in.Plan.Scans {
		if in.Plan.Scans[i].RowsScanned > max {
			max = in.Plan.Scans[i].RowsScanned
			found = true
		}
	}
	return max, found
}

func checkSpecializedPathUnused(in Input) *Finding {
	used := in.Record.UsedSpecializedStorage
	if used == nil || *used || in.Plan == nil {
		return nil
	}
	var hybrid *plan.TableDef
	for i := range in.Plan.Scans {
		if t := in.Plan.Scans[i].Table; t != nil && t.Hybrid() {
			hybrid = t
			break
		}
	}
	if hybrid == nil {
		return nil
	}
	return &Finding{
		Message: fmt.Sprintf("query targets hybrid-capable table %s but never took the specialized storage path", hybrid.Name),
		Detail:  map[string]any{"table": hybrid.Name},
	}
}

func checkIndexExpectedNotUsed(in Input) *Finding {
	if in.Plan == nil {
		return nil
	}
	for i := range in.Plan.Scans {
		scan := &in.Plan.Scans[i]
		if scan.Table == nil || !scan.Table.Hybrid() || scan.PushedFilter {
			continue
		}
		indexed := scan.Table.IndexedColumns()
		var matched string
		for _, col := range in.SQL.EqualityColumns {
			if indexed[col] {
				matched = col
				break
			}
		}
		if matched == "" {
			continue
		}
		return &Finding{
			Message: fmt.Sprintf("equality predicate on indexed column %s of %s, but the scan pushed no filter (rowsScanned=%d, rowsProduced=%d)",
				matched, scan.Table.Name, scan.RowsScanned, scan.RowsProduced),
			Detail: map[string]any{
				"table":        scan.Table.Name,
				"column":       matched,
				"rowsScanned":  scan.RowsScanned,
				"rowsProduced": scan.RowsProduced,
			},
		}
	}
	return nil
}

func checkIndexWeakCoverage(in Input) *Finding {
	if in.Plan == nil || len(in.SQL.EqualityColumns) == 0 {
		return nil
	}
	for i := range in.Plan.Scans {
		scan := &in.Plan.Scans[i]
		if scan.Table == nil || !scan.PushedFilter || !scan.IndexAccess() {
			continue
		}
		if len(scan.Table.Indexes) == 0 && len(scan.Table.PrimaryKey) == 0 {
			continue
		}
		leading := scan.Table.LeadingIndexColumns()
		covered := false
		for _, col := range in.SQL.EqualityColumns {
			if leading[col] {
				covered = true
				break
			}
		}
		if covered {
			continue
		}
		// The runtime plan confirms index use, so static coverage being weak
		// is guidance, not a defect. Informational to avoid over-correcting.
		return &Finding{
			Message: fmt.Sprintf("index used on %s although equality predicates miss every index's leading column; static coverage may be conservative here",
				scan.Table.Name),
			Detail: map[string]any{
				"table":            scan.Table.Name,
				"equalityColumns":  in.SQL.EqualityColumns,
				"leadingColumns":   keys(leading),
				"pushedFilterCols": scan.FilterColumns,
			},
		}
	}
	return nil
}

func checkWideIndexRangeScan(in Input) *Finding {
	if in.Plan == nil {
		return nil
	}
	for i := range in.Plan.Scans {
		scan := &in.Plan.Scans[i]
		if !scan.IndexAccess() || scan.RowsScanned <= WideScanMinRows {
			continue
		}
		produced := scan.RowsProduced
		if produced < 1 {
			produced = 1
		}
		ratio := float64(scan.RowsScanned) / float64(produced)
		if ratio <= WideScanRatio {
			continue
		}
		return &Finding{
			Message: fmt.Sprintf("index range scan on %s covers %d rows to return %d (%.1fx scanned vs returned); index selectivity is poor for this query",
				scanTableName(scan), scan.RowsScanned, scan.RowsProduced, ratio),
			Detail: map[string]any{
				"table":        scanTableName(scan),
				"rowsScanned":  scan.RowsScanned,
				"rowsProduced": scan.RowsProduced,
				"ratio":        ratio,
			},
		}
	}
	return nil
}

func checkAnalyticStoreFallback(in Input) *Finding {
	if in.Plan == nil {
		return nil
	}
	for i := range in.Plan.Scans {
		scan := &in.Plan.Scans[i]
		if scan.StoragePath != plan.PathAnalyticStore || scan.Table == nil || !scan.Table.Hybrid() {
			continue
		}
		return &Finding{
			Message: fmt.Sprintf("hybrid table %s was read from the analytic store copy (%d rows); it behaves like a standard table for this workload",
				scan.Table.Name, scan.RowsScanned),
			Detail: map[string]any{"table": scan.Table.Name, "rowsScanned": scan.RowsScanned},
		}
	}
	return nil
}

func checkMixedStorageJoin(in Input) *Finding {
	if in.Plan == nil {
		return nil
	}
	if !in.Plan.HasTableKind(plan.KindHybrid) {
		return nil
	}
	if !in.Plan.HasTableKind(plan.KindStandard) && !in.Plan.HasTableKind(plan.KindColumnar) {
		return nil
	}
	return &Finding{
		Message: "statement joins hybrid-capable and standard/columnar tables; row-store latency benefits will not carry through the join",
	}
}

func checkScanSkew(in Input) *Finding {
	if in.Plan == nil {
		return nil
	}
	for i := range in.Plan.Scans {
		scan := &in.Plan.Scans[i]
		if scan.SkewPct <= SkewInfoPct {
			continue
		}
		return &Finding{
			Message: fmt.Sprintf("scan on %s is skewed: %.0f%% of work landed on one worker range", scanTableName(scan), scan.SkewPct),
			Detail:  map[string]any{"table": scanTableName(scan), "skewPct": scan.SkewPct},
		}
	}
	return nil
}

func checkOversizedWarehouse(in Input) *Finding {
	tier, ok := warehouseTiers[strings.ToUpper(in.Record.WarehouseSize)]
	if !ok || tier == 0 {
		return nil
	}
	if !pointLookupDominated(in) {
		return nil
	}
	return &Finding{
		Message: fmt.Sprintf("warehouse size %s for a point-lookup workload producing %d rows; the smallest tier would serve it",
			strings.ToUpper(in.Record.WarehouseSize), *in.Record.RowsProduced),
		Detail: map[string]any{"warehouseSize": strings.ToUpper(in.Record.WarehouseSize), "rowsProduced": *in.Record.RowsProduced},
	}
}

// pointLookupDominated: few rows out and, when the plan is available, no scan
// reading beyond point-lookup volume.
func pointLookupDominated(in Input) bool {
	if in.Record.RowsProduced == nil || *in.Record.RowsProduced > PointLookupMaxRows {
		return false
	}
	if in.Plan != nil {
		for i := range in.Plan.Scans {
			if in.Plan.Scans[i].RowsScanned > PointLookupMaxScanRows {
				return false
			}
		}
	}
	return true
}

func checkRoutineMasksAccess(in Input) *Finding {
	if in.Plan == nil {
		return nil
	}
	for i := range in.Plan.Scans {
		scan := &in.Plan.Scans[i]
		if !scan.UnderRoutine {
			continue
		}
		return &Finding{
			Message: fmt.Sprintf("table access on %s is nested under a routine call; its cost is hidden from statement-level telemetry",
				scanTableName(scan)),
			Detail: map[string]any{"table": scanTableName(scan), "operator": scan.Operator},
		}
	}
	return nil
}

func isSelectLike(sql string) bool {
	s := strings.ToUpper(strings.TrimSpace(sql))
	return strings.HasPrefix(s, "SELECT") || strings.HasPrefix(s, "WITH")
}

func scanTableName(scan *plan.ScanOperator) string {
	if scan.Table != nil {
		return scan.Table.Name
	}
	return fmt.Sprintf("table#%d", scan.TableID)
}

// keys returns the map's keys sorted; finding payloads must not vary with
// map iteration order.
func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
