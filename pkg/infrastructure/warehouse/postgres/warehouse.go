// Package postgres implements the activity warehouse on PostgreSQL.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/desirelines/pipeline/pkg/apperrors"
	"github.com/desirelines/pipeline/pkg/domain/activity"
	"github.com/desirelines/pipeline/pkg/warehouse"
)

//go:embed schema.sql
var schema string

const stageSQL = `INSERT INTO activities_staging (id, type, start_date, start_date_local, distance, payload)
        VALUES ($1,$2,$3,$4,$5,$6)`

// mergeSQL consumes the staged rows of one id and upserts the newest of them.
const mergeSQL = `WITH staged AS (
            DELETE FROM activities_staging WHERE id = $1
            RETURNING id, type, start_date, start_date_local, distance, payload, staged_at
        )
        INSERT INTO activities (id, type, start_date, start_date_local, distance, payload, updated_at)
        SELECT DISTINCT ON (id) id, type, start_date, start_date_local, distance, payload, now()
        FROM staged
        ORDER BY id, start_date DESC, staged_at DESC
        ON CONFLICT (id) DO UPDATE SET
            type = EXCLUDED.type,
            start_date = EXCLUDED.start_date,
            start_date_local = EXCLUDED.start_date_local,
            distance = EXCLUDED.distance,
            payload = EXCLUDED.payload,
            updated_at = EXCLUDED.updated_at`

const lookupSQL = `SELECT 'primary', type, start_date_local, distance FROM activities WHERE id = $1
        UNION ALL
        SELECT 'archive', type, start_date_local, distance FROM deleted_activities WHERE id = $1
        UNION ALL
        (SELECT 'staging', type, start_date_local, distance FROM activities_staging WHERE id = $1 ORDER BY staged_at DESC LIMIT 1)`

const archiveSQL = `INSERT INTO deleted_activities (id, type, start_date, start_date_local, distance, payload, updated_at, deleted_at, delete_event_time, correlation_id)
        SELECT id, type, start_date, start_date_local, distance, payload, updated_at, now(), $2, $3
        FROM activities WHERE id = $1
        ON CONFLICT (id) DO NOTHING`

const removeSQL = `DELETE FROM activities WHERE id = $1`

// Warehouse provides Postgres-backed storage for detailed activity records.
type Warehouse struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// New connects to dsn and verifies the connection.
func New(ctx context.Context, dsn string, timeout time.Duration) (*Warehouse, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewWithPool(pool, timeout), nil
}

// NewWithPool wraps an existing pool.
func NewWithPool(pool *pgxpool.Pool, timeout time.Duration) *Warehouse {
	return &Warehouse{pool: pool, timeout: timeout}
}

// EnsureSchema creates the three tables if they are missing.
func (w *Warehouse) EnsureSchema(ctx context.Context) error {
	if _, err := w.pool.Exec(ctx, schema); err != nil {
		return &apperrors.WarehouseError{Op: "ensure_schema", Err: err}
	}
	return nil
}

func (w *Warehouse) Write(ctx context.Context, rec *activity.Record) (warehouse.Stats, error) {
	ctx, cancel := warehouse.WithTimeout(ctx, w.timeout)
	defer cancel()
	start := time.Now()

	payload, err := json.Marshal(rec)
	if err != nil {
		return warehouse.Stats{}, &apperrors.WarehouseError{Op: "encode", Err: err}
	}

	staged, err := w.pool.Exec(ctx, stageSQL,
		rec.ID,
		string(rec.Type),
		rec.StartDate,
		warehouse.FormatLocalStart(rec.StartDateLocal),
		rec.Distance,
		payload,
	)
	if err != nil {
		return warehouse.Stats{}, &apperrors.WarehouseError{Op: "stage", Err: err}
	}

	merged, err := w.pool.Exec(ctx, mergeSQL, rec.ID)
	if err != nil {
		return warehouse.Stats{}, &apperrors.WarehouseError{Op: "merge", Err: err}
	}

	return warehouse.Stats{
		StagedRows:    staged.RowsAffected(),
		RowsAffected:  merged.RowsAffected(),
		ExecutionTime: time.Since(start),
	}, nil
}

func (w *Warehouse) LookupMetadata(ctx context.Context, activityID int64) (warehouse.LookupResult, error) {
	ctx, cancel := warehouse.WithTimeout(ctx, w.timeout)
	defer cancel()

	rows, err := w.pool.Query(ctx, lookupSQL, activityID)
	if err != nil {
		return warehouse.LookupResult{}, &apperrors.WarehouseError{Op: "lookup", Err: err}
	}
	defer rows.Close()

	var hits []warehouse.LookupResult
	for rows.Next() {
		var (
			source, typ, startLocal string
			distance                float64
		)
		if err := rows.Scan(&source, &typ, &startLocal, &distance); err != nil {
			return warehouse.LookupResult{}, &apperrors.WarehouseError{Op: "lookup", Err: err}
		}
		hit, err := toLookupResult(activityID, source, typ, startLocal, distance)
		if err != nil {
			return warehouse.LookupResult{}, &apperrors.WarehouseError{Op: "lookup", Err: err}
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return warehouse.LookupResult{}, &apperrors.WarehouseError{Op: "lookup", Err: err}
	}

	return warehouse.Resolve(activityID, hits)
}

func (w *Warehouse) ArchiveAndRemove(ctx context.Context, del warehouse.Deletion) (outcome warehouse.Outcome, err error) {
	ctx, cancel := warehouse.WithTimeout(ctx, w.timeout)
	defer cancel()

	tx, err := w.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return warehouse.Skipped, &apperrors.WarehouseError{Op: "archive", Err: err}
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	var eventTime any
	if !del.EventTime.IsZero() {
		eventTime = del.EventTime
	}
	archived, err := tx.Exec(ctx, archiveSQL, del.ActivityID, eventTime, del.CorrelationID)
	if err != nil {
		return warehouse.Skipped, &apperrors.WarehouseError{Op: "archive", Err: err}
	}

	removed, err := tx.Exec(ctx, removeSQL, del.ActivityID)
	if err != nil {
		return warehouse.Skipped, &apperrors.WarehouseError{Op: "remove", Err: err}
	}

	if err = tx.Commit(ctx); err != nil {
		return warehouse.Skipped, &apperrors.WarehouseError{Op: "commit", Err: err}
	}

	if archived.RowsAffected() == 0 && removed.RowsAffected() == 0 {
		return warehouse.Skipped, nil
	}
	return warehouse.Processed, nil
}

func (w *Warehouse) Close() error {
	w.pool.Close()
	return nil
}

func toLookupResult(id int64, source, typ, startLocal string, distance float64) (warehouse.LookupResult, error) {
	start, err := warehouse.ParseLocalStart(startLocal)
	if err != nil {
		return warehouse.LookupResult{}, fmt.Errorf("parse start_date_local %q: %w", startLocal, err)
	}
	return warehouse.LookupResult{
		Activity: activity.Summary{
			ID:             id,
			Type:           activity.Type(typ),
			StartDateLocal: start,
			Distance:       distance,
		},
		Source: warehouse.Source(source),
	}, nil
}
