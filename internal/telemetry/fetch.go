package telemetry

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const fetchQuery = `
SELECT query_id, fingerprint, sql_text, query_kind,
       total_ms, compile_ms, server_exec_ms, worker_exec_ms, backend_store_ms,
       rows_produced, bytes_scanned, backend_io_bytes,
       used_specialized_storage, plan_cache_hit,
       warehouse_size, error_code, error_message,
       plan_export
FROM query_telemetry
WHERE query_id = $1`

// Fetch loads one query's telemetry record, plus its raw plan export when the
// store has one, from a Postgres-compatible telemetry store. The export is
// returned undecoded; parsing belongs to the plan package.
func Fetch(ctx context.Context, connStr, queryID string) (QueryRecord, []byte, error) {
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		return QueryRecord{}, nil, fmt.Errorf("connecting to telemetry store: %w", err)
	}
	defer conn.Close(ctx)

	var rec QueryRecord
	var planExport []byte

	err = conn.QueryRow(ctx, fetchQuery, queryID).Scan(
		&rec.QueryID, &rec.Fingerprint, &rec.SQLText, &rec.QueryKind,
		&rec.TotalMs, &rec.CompileMs, &rec.ServerExecMs, &rec.WorkerExecMs, &rec.BackendStoreMs,
		&rec.RowsProduced, &rec.BytesScanned, &rec.BackendIOBytes,
		&rec.UsedSpecializedStorage, &rec.PlanCacheHit,
		&rec.WarehouseSize, &rec.ErrorCode, &rec.ErrorMessage,
		&planExport,
	)
	if err == pgx.ErrNoRows {
		return QueryRecord{}, nil, fmt.Errorf("query %s not found in telemetry store", queryID)
	}
	if err != nil {
		return QueryRecord{}, nil, fmt.Errorf("fetching telemetry for %s: %w", queryID, err)
	}

	if err := rec.Validate(); err != nil {
		return QueryRecord{}, nil, err
	}
	return rec, planExport, nil
}
