// Package analyzer orchestrates one diagnostic pass: validate the telemetry
// record, derive SQL properties, parse the optional plan export, evaluate the
// rule catalog, score the run and map findings to remediation actions.
package analyzer

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"htdiag/internal/actions"
	"htdiag/internal/comparator"
	"htdiag/internal/plan"
	"htdiag/internal/rules"
	"htdiag/internal/score"
	"htdiag/internal/sqlprops"
	"htdiag/internal/telemetry"
)

// Analyzer runs diagnostics. SQL defaults to the pattern analyzer.
type Analyzer struct {
	SQL sqlprops.Analyzer
}

func New() *Analyzer {
	return &Analyzer{SQL: sqlprops.PatternAnalyzer{}}
}

// Analyze diagnoses one run. planExport may be nil; the analysis then runs on
// telemetry and SQL text alone and plan-dependent rules stay silent. A
// malformed or mismatched export is an error, never a silent degrade: the
// caller asked for plan-level analysis and must learn it did not happen.
func (a *Analyzer) Analyze(ctx context.Context, rec telemetry.QueryRecord, planExport []byte) (rep *Report) {
	defer func() {
		if r := recover(); r != nil {
			rep = errorReport(CodeAnalysisError, fmt.Sprintf("analysis panicked: %v", r))
		}
	}()

	if err := rec.Validate(); err != nil {
		return errorReport(CodeInvalidInput, err.Error())
	}

	var (
		profile *plan.Profile
		props   sqlprops.Properties
	)
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		props = a.SQL.Analyze(rec.SQLText)
		return nil
	})
	g.Go(func() error {
		if len(planExport) == 0 {
			return nil
		}
		p, err := plan.Parse(planExport, rec.QueryID)
		if err != nil {
			return err
		}
		profile = p
		return nil
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, plan.ErrIdentifierMismatch) {
			return errorReport(CodeIdentifierMismatch, err.Error())
		}
		return errorReport(CodeInvalidInput, err.Error())
	}

	in := rules.Input{Record: rec, Plan: profile, SQL: props}
	findings := rules.Evaluate(in)

	return &Report{
		Status:       StatusOK,
		Record:       rec,
		PlanAttached: profile != nil,
		SQL:          props,
		Findings:     findings,
		Score:        score.Evaluate(rec, findings),
		Actions:      actions.ForFindings(findings),
	}
}

// PairInput is one side of a differential analysis.
type PairInput struct {
	Record     telemetry.QueryRecord
	PlanExport []byte
}

// AnalyzePair diagnoses both runs concurrently and attributes the latency
// difference between them. force disables the same-fingerprint guard.
func (a *Analyzer) AnalyzePair(ctx context.Context, baseline, candidate PairInput, force bool) *PairReport {
	var repA, repB *Report
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		repA = a.Analyze(gctx, baseline.Record, baseline.PlanExport)
		return nil
	})
	g.Go(func() error {
		repB = a.Analyze(gctx, candidate.Record, candidate.PlanExport)
		return nil
	})
	g.Wait()

	for _, rep := range []*Report{repA, repB} {
		if rep.Status == StatusError {
			return &PairReport{
				Status:    StatusError,
				Code:      rep.Code,
				Message:   rep.Message,
				Baseline:  repA,
				Candidate: repB,
			}
		}
	}

	cmp := comparator.New()
	cmp.AllowFingerprintMismatch = force
	result := cmp.Compare(runFor(repA), runFor(repB))

	pair := &PairReport{
		Status:     StatusOK,
		Baseline:   repA,
		Candidate:  repB,
		Comparison: &result,
	}
	if !result.Comparable {
		pair.Status = StatusError
		pair.Code = CodeIncomparableRuns
		pair.Message = result.Reason
	}
	return pair
}

func runFor(rep *Report) comparator.Run {
	return comparator.Run{
		Record:   rep.Record,
		Findings: rep.Findings,
		Score:    rep.Score,
	}
}
