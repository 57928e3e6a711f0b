// Package score folds a run's findings into a workload-fit score, a letter
// grade and a single root-cause classification.
package score

import (
	"htdiag/internal/rules"
	"htdiag/internal/telemetry"
)

type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
	GradeF Grade = "F"
)

// Root causes form a closed set; classification picks the first whose
// condition holds, so at most one cause is ever reported.
const (
	CauseQueryFailed       = "query failed before completion"
	CauseAnalyticMisplaced = "analytic workload misplaced on transactional storage"
	CauseMissingIndex      = "predicate lacks supporting index"
	CauseBackendBottleneck = "backend-storage-layer bottleneck"
	CauseCompileOverhead   = "compilation overhead dominates"
	CauseSlowOLTP          = "slow but correctly-shaped OLTP query"
	CauseWellOptimized     = "well-optimized point lookup"
	CauseUndetermined      = "no dominant cause identified"
)

// Result is the scored summary of one run.
type Result struct {
	Score     int    `json:"score"`
	Grade     Grade  `json:"grade"`
	Errors    int    `json:"errors"`
	Warnings  int    `json:"warnings"`
	Passed    bool   `json:"passed"`
	RootCause string `json:"rootCause"`
}

// Evaluate scores a run. The score starts at 100 and loses each triggered
// rule's penalty, floored at 0. Passed means no error-severity findings.
func Evaluate(rec telemetry.QueryRecord, findings []rules.Finding) Result {
	res := Result{Score: 100, Passed: true}

	triggered := make(map[string]bool, len(findings))
	for _, f := range findings {
		triggered[f.Rule] = true
		res.Score -= rules.PenaltyFor(f.Rule)
		switch f.Severity {
		case rules.Error:
			res.Errors++
			res.Passed = false
		case rules.Warning:
			res.Warnings++
		}
	}
	if res.Score < 0 {
		res.Score = 0
	}

	res.Grade = gradeFor(res.Score)
	res.RootCause = classify(rec, triggered, res)
	return res
}

func gradeFor(score int) Grade {
	switch {
	case score >= 90:
		return GradeA
	case score >= 75:
		return GradeB
	case score >= 60:
		return GradeC
	case score >= 40:
		return GradeD
	default:
		return GradeF
	}
}

// classify walks an ordered decision list; earlier causes dominate later
// ones regardless of how many findings point each way.
func classify(rec telemetry.QueryRecord, hit map[string]bool, res Result) string {
	switch {
	case hit["QUERY_FAILED"]:
		return CauseQueryFailed

	case hit["ANALYTIC_STORE_FALLBACK"],
		hit["WIDE_INDEX_RANGE_SCAN"],
		hit["FULL_SORT_NO_LIMIT"] && hit["HIGH_TOTAL_LATENCY"]:
		return CauseAnalyticMisplaced

	case hit["INDEX_EXPECTED_NOT_USED"], hit["SPECIALIZED_PATH_UNUSED"]:
		return CauseMissingIndex

	case hit["HIGH_BACKEND_IO"],
		hit["WORKER_EXEC_BOTTLENECK"] && backendDominatesWorker(rec):
		return CauseBackendBottleneck

	case hit["SLOW_COMPILATION"] && compileDominatesTotal(rec):
		return CauseCompileOverhead

	case hit["HIGH_TOTAL_LATENCY"]:
		return CauseSlowOLTP

	case res.Errors == 0 && res.Warnings == 0 && pointLookupShaped(rec):
		return CauseWellOptimized

	default:
		return CauseUndetermined
	}
}

func backendDominatesWorker(rec telemetry.QueryRecord) bool {
	if rec.BackendStoreMs == nil || rec.WorkerExecMs == nil {
		return false
	}
	return *rec.BackendStoreMs*2 > *rec.WorkerExecMs
}

func compileDominatesTotal(rec telemetry.QueryRecord) bool {
	return rec.CompileMs != nil && *rec.CompileMs*2 > rec.TotalMs
}

func pointLookupShaped(rec telemetry.QueryRecord) bool {
	if rec.TotalMs > 100 {
		return false
	}
	return rec.RowsProduced != nil && *rec.RowsProduced <= 100
}
