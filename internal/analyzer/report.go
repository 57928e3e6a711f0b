package analyzer

import (
	"htdiag/internal/actions"
	"htdiag/internal/comparator"
	"htdiag/internal/rules"
	"htdiag/internal/score"
	"htdiag/internal/sqlprops"
	"htdiag/internal/telemetry"
)

type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Code narrows a StatusError report to a closed set of machine-readable
// failure classes.
type Code string

const (
	CodeInvalidInput       Code = "INVALID_INPUT"
	CodeIdentifierMismatch Code = "IDENTIFIER_MISMATCH"
	CodeIncomparableRuns   Code = "INCOMPARABLE_RUNS"
	CodeAnalysisError      Code = "ANALYSIS_ERROR"
)

// Report is the full diagnostic output for one run. When Status is error
// only Code and Message are meaningful.
type Report struct {
	Status  Status `json:"status"`
	Code    Code   `json:"code,omitempty"`
	Message string `json:"message,omitempty"`

	Record telemetry.QueryRecord `json:"record"`
	// PlanAttached records whether a plan export was supplied and parsed;
	// when false, findings come from telemetry and SQL text alone.
	PlanAttached bool               `json:"planAttached"`
	SQL          sqlprops.Properties `json:"sqlProperties"`

	Findings []rules.Finding  `json:"findings"`
	Score    score.Result     `json:"score"`
	Actions  []actions.Action `json:"actions"`
}

// PairReport is the output of a two-run differential analysis.
type PairReport struct {
	Status  Status `json:"status"`
	Code    Code   `json:"code,omitempty"`
	Message string `json:"message,omitempty"`

	Baseline   *Report            `json:"baseline,omitempty"`
	Candidate  *Report            `json:"candidate,omitempty"`
	Comparison *comparator.Result `json:"comparison,omitempty"`
}

func errorReport(code Code, msg string) *Report {
	return &Report{Status: StatusError, Code: code, Message: msg}
}
