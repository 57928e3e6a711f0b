package output

import (
	"fmt"
	"io"

	"htdiag/internal/analyzer"
	"htdiag/internal/rules"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
)

type textWriter struct {
	w   io.Writer
	err error
}

func (tw *textWriter) printf(format string, args ...any) {
	if tw.err != nil {
		return
	}
	_, tw.err = fmt.Fprintf(tw.w, format, args...)
}

func RenderReportText(w io.Writer, rep *analyzer.Report) error {
	tw := &textWriter{w: w}

	if rep.Status == analyzer.StatusError {
		tw.printf("%s%s%s%s %s\n", colorBold, colorRed, rep.Code, colorReset, rep.Message)
		return tw.err
	}

	tw.printf("%s%sQuery %s%s\n\n", colorBold, colorCyan, rep.Record.QueryID, colorReset)
	tw.printf("  Duration:  %d ms\n", rep.Record.TotalMs)
	if rep.Record.RowsProduced != nil {
		tw.printf("  Rows:      %d\n", *rep.Record.RowsProduced)
	}
	if rep.Record.WarehouseSize != "" {
		tw.printf("  Warehouse: %s\n", rep.Record.WarehouseSize)
	}
	if !rep.PlanAttached {
		tw.printf("  %s(no plan export attached; plan-level checks skipped)%s\n", colorDim, colorReset)
	}
	tw.printf("\n")

	tw.printf("%s%sScore%s %s%d (%s)%s\n", colorBold, colorCyan, colorReset,
		gradeColor(string(rep.Score.Grade)), rep.Score.Score, rep.Score.Grade, colorReset)
	tw.printf("  Root cause: %s\n\n", rep.Score.RootCause)

	if len(rep.Findings) == 0 {
		tw.printf("%s%sNo findings.%s\n", colorBold, colorGreen, colorReset)
		return tw.err
	}

	tw.printf("%s%sFindings (%d)%s\n\n", colorBold, colorCyan, len(rep.Findings), colorReset)
	for _, f := range rep.Findings {
		label, color := severityFormat(f.Severity)
		tw.printf("  %s%-8s%s %s\n", color, label, colorReset, f.Rule)
		tw.printf("  %s%s%s\n\n", colorDim, f.Message, colorReset)
	}

	if len(rep.Actions) > 0 {
		tw.printf("%s%sSuggested Actions (%d)%s\n\n", colorBold, colorCyan, len(rep.Actions), colorReset)
		for _, a := range rep.Actions {
			tw.printf("  %s%-22s%s impact=%s risk=%s\n", colorBold, a.ID, colorReset, a.EstimatedImpact, a.RiskLevel)
			tw.printf("  %s→ %s%s\n\n", colorDim, a.SuggestedChange, colorReset)
		}
	}

	return tw.err
}

func severityFormat(s rules.Severity) (string, string) {
	switch s {
	case rules.Error:
		return "ERROR", colorRed
	case rules.Warning:
		return "WARNING", colorYellow
	default:
		return "INFO", colorCyan
	}
}

func gradeColor(grade string) string {
	switch grade {
	case "A", "B":
		return colorGreen
	case "C":
		return colorYellow
	default:
		return colorRed
	}
}

func RenderPairText(w io.Writer, pair *analyzer.PairReport) error {
	tw := &textWriter{w: w}

	if pair.Status == analyzer.StatusError {
		tw.printf("%s%s%s%s %s\n", colorBold, colorRed, pair.Code, colorReset, pair.Message)
		return tw.err
	}

	cmp := pair.Comparison
	tw.printf("%s%sComparison%s\n\n", colorBold, colorCyan, colorReset)
	tw.printf("  Baseline:  %s  score %d (%s)\n",
		pair.Baseline.Record.QueryID, pair.Baseline.Score.Score, pair.Baseline.Score.Grade)
	tw.printf("  Candidate: %s  score %d (%s)\n",
		pair.Candidate.Record.QueryID, pair.Candidate.Score.Score, pair.Candidate.Score.Grade)
	tw.printf("  Duration delta: %s\n\n", deltaLabel(cmp.DurationDeltaMs))

	tw.printf("%s%sAttribution%s\n\n", colorBold, colorCyan, colorReset)
	tw.printf("  Primary:   %s\n", cmp.Primary)
	if cmp.Secondary != "" {
		tw.printf("  Secondary: %s\n", cmp.Secondary)
	}
	tw.printf("\n")

	tw.printf("%s%sMetrics%s\n\n", colorBold, colorCyan, colorReset)
	for _, m := range cmp.Metrics {
		if m.A == nil || m.B == nil {
			continue
		}
		tw.printf("  %-16s %d → %d (%+d)\n", m.Name, *m.A, *m.B, m.Delta)
	}

	return tw.err
}

func deltaLabel(deltaMs int64) string {
	switch {
	case deltaMs > 0:
		return fmt.Sprintf("%s+%d ms ↑%s", colorRed, deltaMs, colorReset)
	case deltaMs < 0:
		return fmt.Sprintf("%s%d ms ↓%s", colorGreen, deltaMs, colorReset)
	default:
		return "0 ms"
	}
}
