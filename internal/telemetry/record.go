package telemetry

import (
	"encoding/json"
	"fmt"
	"strings"
)

// QueryRecord is the flat telemetry for one executed query. Optional metrics
// are pointers so that "not reported" stays distinguishable from a measured
// zero; a sub-millisecond point lookup legitimately reports 0ms.
type QueryRecord struct {
	QueryID     string `json:"queryId"`
	Fingerprint string `json:"fingerprint,omitempty"`
	SQLText     string `json:"sqlText"`
	QueryKind   string `json:"queryKind,omitempty"`

	// Durations, milliseconds.
	TotalMs        int64  `json:"totalMs"`
	CompileMs      *int64 `json:"compileMs,omitempty"`
	ServerExecMs   *int64 `json:"serverExecMs,omitempty"`
	WorkerExecMs   *int64 `json:"workerExecMs,omitempty"`
	BackendStoreMs *int64 `json:"backendStoreMs,omitempty"`

	RowsProduced   *int64 `json:"rowsProduced,omitempty"`
	BytesScanned   *int64 `json:"bytesScanned,omitempty"`
	BackendIOBytes *int64 `json:"backendIoBytes,omitempty"`

	UsedSpecializedStorage *bool `json:"usedSpecializedStorage,omitempty"`
	PlanCacheHit           *bool `json:"planCacheHit,omitempty"`

	WarehouseSize string `json:"warehouseSize,omitempty"`
	ErrorCode     string `json:"errorCode,omitempty"`
	ErrorMessage  string `json:"errorMessage,omitempty"`
}

// ParseRecord decodes and validates a telemetry record document.
func ParseRecord(data []byte) (QueryRecord, error) {
	var rec QueryRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return QueryRecord{}, fmt.Errorf("invalid telemetry record: %w", err)
	}
	if err := rec.Validate(); err != nil {
		return QueryRecord{}, err
	}
	return rec, nil
}

func (r *QueryRecord) Validate() error {
	if strings.TrimSpace(r.QueryID) == "" {
		return fmt.Errorf("telemetry record missing queryId")
	}
	if strings.TrimSpace(r.SQLText) == "" {
		return fmt.Errorf("telemetry record %s missing sqlText", r.QueryID)
	}
	if r.TotalMs < 0 {
		return fmt.Errorf("telemetry record %s has negative totalMs %d", r.QueryID, r.TotalMs)
	}
	// Fixed order so a record with several bad durations always reports the
	// same one.
	for _, d := range []struct {
		name  string
		value *int64
	}{
		{"compileMs", r.CompileMs},
		{"serverExecMs", r.ServerExecMs},
		{"workerExecMs", r.WorkerExecMs},
		{"backendStoreMs", r.BackendStoreMs},
	} {
		if d.value != nil && *d.value < 0 {
			return fmt.Errorf("telemetry record %s has negative %s %d", r.QueryID, d.name, *d.value)
		}
	}
	return nil
}

// Failed reports whether the query ended in an error.
func (r *QueryRecord) Failed() bool {
	return r.ErrorCode != ""
}
