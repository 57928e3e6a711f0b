// Package comparator attributes the latency difference between two runs of
// the same statement to a primary (and optional secondary) cause.
package comparator

import (
	"fmt"

	"htdiag/internal/rules"
	"htdiag/internal/score"
	"htdiag/internal/telemetry"
)

// Run bundles one analyzed execution for comparison.
type Run struct {
	Record   telemetry.QueryRecord
	Findings []rules.Finding
	Score    score.Result
}

// Comparator holds the discriminator thresholds. The zero value is not
// usable; construct via New.
type Comparator struct {
	// VolumeRatio is the rows/bytes ratio above which the runs are deemed to
	// have processed different data volumes.
	VolumeRatio float64
	// BackendRatio flags a backend-storage latency change; it only fires when
	// worker and compile times stayed within StableRatio of each other.
	BackendRatio float64
	StableRatio  float64
	// CompileRatio flags an execution-environment change, gated on the
	// absolute compile delta exceeding CompileMinDeltaMs. A warehouse-size
	// difference flags the environment cause on its own.
	CompileRatio      float64
	CompileMinDeltaMs int64

	// AllowFingerprintMismatch disables the same-statement guard.
	AllowFingerprintMismatch bool
}

func New() *Comparator {
	return &Comparator{
		VolumeRatio:       2.0,
		BackendRatio:      3.0,
		StableRatio:       1.5,
		CompileRatio:      2.0,
		CompileMinDeltaMs: 100,
	}
}

// Compare attributes the duration difference between two runs. It is
// symmetric: swapping a and b flips deltas but never the causes. The
// same-statement guard needs both fingerprints; an absent one is unknown,
// not different.
func (c *Comparator) Compare(a, b Run) Result {
	if !c.AllowFingerprintMismatch &&
		a.Record.Fingerprint != "" && b.Record.Fingerprint != "" &&
		a.Record.Fingerprint != b.Record.Fingerprint {
		return Result{
			Comparable: false,
			Reason: fmt.Sprintf("runs have different statement fingerprints (%s vs %s); they are not the same query",
				a.Record.Fingerprint, b.Record.Fingerprint),
		}
	}

	res := Result{
		Comparable:      true,
		DurationDeltaMs: b.Record.TotalMs - a.Record.TotalMs,
		Metrics:         metricDeltas(a.Record, b.Record),
	}

	causes := c.crossedDiscriminators(a.Record, b.Record)
	if len(causes) > 0 {
		res.Primary = causes[0]
	} else {
		res.Primary = CauseUndetermined
	}
	if len(causes) > 1 {
		res.Secondary = causes[1]
	} else if cacheMiss(a.Record, b.Record) {
		res.Secondary = CausePlanCache
	}

	return res
}

// crossedDiscriminators evaluates the ordered discriminator list and returns
// every cause whose threshold was crossed, most significant first.
func (c *Comparator) crossedDiscriminators(a, b telemetry.QueryRecord) []string {
	var causes []string

	if symRatio(a.RowsProduced, b.RowsProduced) > c.VolumeRatio ||
		symRatio(a.BytesScanned, b.BytesScanned) > c.VolumeRatio {
		causes = append(causes, CauseDataVolume)
	}

	if symRatio(a.BackendStoreMs, b.BackendStoreMs) > c.BackendRatio &&
		symRatio(a.WorkerExecMs, b.WorkerExecMs) <= c.StableRatio &&
		symRatio(a.CompileMs, b.CompileMs) <= c.StableRatio {
		causes = append(causes, CauseBackendLatency)
	}

	if (symRatio(a.CompileMs, b.CompileMs) > c.CompileRatio &&
		absDelta(a.CompileMs, b.CompileMs) > c.CompileMinDeltaMs) ||
		a.WarehouseSize != b.WarehouseSize {
		causes = append(causes, CauseEnvironment)
	}

	return causes
}

func cacheMiss(a, b telemetry.QueryRecord) bool {
	if a.PlanCacheHit == nil || b.PlanCacheHit == nil {
		return false
	}
	return *a.PlanCacheHit != *b.PlanCacheHit
}

// symRatio is max/min of the two values, order-independent. Missing values
// and non-positive denominators yield 1.0 so absent metrics never trigger a
// discriminator.
func symRatio(a, b *int64) float64 {
	if a == nil || b == nil {
		return 1.0
	}
	hi, lo := *a, *b
	if lo > hi {
		hi, lo = lo, hi
	}
	if lo <= 0 {
		if hi <= 0 {
			return 1.0
		}
		lo = 1
	}
	return float64(hi) / float64(lo)
}

func absDelta(a, b *int64) int64 {
	if a == nil || b == nil {
		return 0
	}
	d := *b - *a
	if d < 0 {
		d = -d
	}
	return d
}

func metricDeltas(a, b telemetry.QueryRecord) []MetricDelta {
	totalA, totalB := a.TotalMs, b.TotalMs
	pairs := []struct {
		name string
		a, b *int64
	}{
		{"totalMs", &totalA, &totalB},
		{"compileMs", a.CompileMs, b.CompileMs},
		{"serverExecMs", a.ServerExecMs, b.ServerExecMs},
		{"workerExecMs", a.WorkerExecMs, b.WorkerExecMs},
		{"backendStoreMs", a.BackendStoreMs, b.BackendStoreMs},
		{"rowsProduced", a.RowsProduced, b.RowsProduced},
		{"bytesScanned", a.BytesScanned, b.BytesScanned},
		{"backendIoBytes", a.BackendIOBytes, b.BackendIOBytes},
	}

	deltas := make([]MetricDelta, 0, len(pairs))
	for _, p := range pairs {
		md := MetricDelta{Name: p.name, A: p.a, B: p.b}
		if p.a != nil && p.b != nil {
			md.Delta = *p.b - *p.a
			md.Ratio = symRatio(p.a, p.b)
		}
		deltas = append(deltas, md)
	}
	return deltas
}
