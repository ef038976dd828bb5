// Package sqlite implements the activity warehouse on an embedded SQLite
// database for local runs and tests.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/desirelines/pipeline/pkg/apperrors"
	"github.com/desirelines/pipeline/pkg/domain/activity"
	"github.com/desirelines/pipeline/pkg/warehouse"
)

const schema = `
CREATE TABLE IF NOT EXISTS activities (
    id INTEGER PRIMARY KEY,
    type TEXT NOT NULL,
    start_date INTEGER NOT NULL,
    start_date_local TEXT NOT NULL,
    distance REAL NOT NULL,
    payload TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS activities_staging (
    id INTEGER NOT NULL,
    type TEXT NOT NULL,
    start_date INTEGER NOT NULL,
    start_date_local TEXT NOT NULL,
    distance REAL NOT NULL,
    payload TEXT NOT NULL,
    staged_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_staging_id ON activities_staging(id, staged_at);

CREATE TABLE IF NOT EXISTS deleted_activities (
    id INTEGER PRIMARY KEY,
    type TEXT NOT NULL,
    start_date INTEGER NOT NULL,
    start_date_local TEXT NOT NULL,
    distance REAL NOT NULL,
    payload TEXT NOT NULL,
    updated_at INTEGER NOT NULL,
    deleted_at INTEGER NOT NULL,
    delete_event_time INTEGER,
    correlation_id TEXT
);
`

// Warehouse stores activity records in SQLite. Timestamps are unix
// nanoseconds except start_date_local, which keeps the upstream text.
type Warehouse struct {
	db      *sql.DB
	timeout time.Duration
	now     func() time.Time
}

// New opens the database at dsn and creates the schema.
func New(dsn string, timeout time.Duration) (*Warehouse, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Warehouse{db: db, timeout: timeout, now: time.Now}, nil
}

func (w *Warehouse) Write(ctx context.Context, rec *activity.Record) (warehouse.Stats, error) {
	ctx, cancel := warehouse.WithTimeout(ctx, w.timeout)
	defer cancel()
	start := time.Now()

	payload, err := json.Marshal(rec)
	if err != nil {
		return warehouse.Stats{}, &apperrors.WarehouseError{Op: "encode", Err: err}
	}

	staged, err := w.db.ExecContext(ctx, `
		INSERT INTO activities_staging (id, type, start_date, start_date_local, distance, payload, staged_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		string(rec.Type),
		rec.StartDate.UnixNano(),
		warehouse.FormatLocalStart(rec.StartDateLocal),
		rec.Distance,
		string(payload),
		w.now().UnixNano(),
	)
	if err != nil {
		return warehouse.Stats{}, &apperrors.WarehouseError{Op: "stage", Err: err}
	}
	stagedRows, _ := staged.RowsAffected()

	merged, err := w.merge(ctx, rec.ID)
	if err != nil {
		return warehouse.Stats{}, &apperrors.WarehouseError{Op: "merge", Err: err}
	}

	return warehouse.Stats{StagedRows: stagedRows, RowsAffected: merged, ExecutionTime: time.Since(start)}, nil
}

func (w *Warehouse) merge(ctx context.Context, id int64) (int64, error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO activities (id, type, start_date, start_date_local, distance, payload, updated_at)
		SELECT id, type, start_date, start_date_local, distance, payload, ?
		FROM (
			SELECT *, ROW_NUMBER() OVER (PARTITION BY id ORDER BY start_date DESC, staged_at DESC) AS rn
			FROM activities_staging
			WHERE id = ?
		)
		WHERE rn = 1
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			start_date = excluded.start_date,
			start_date_local = excluded.start_date_local,
			distance = excluded.distance,
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`, w.now().UnixNano(), id)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx, `DELETE FROM activities_staging WHERE id = ?`, id); err != nil {
		return 0, err
	}
	return affected, tx.Commit()
}

func (w *Warehouse) LookupMetadata(ctx context.Context, activityID int64) (warehouse.LookupResult, error) {
	ctx, cancel := warehouse.WithTimeout(ctx, w.timeout)
	defer cancel()

	rows, err := w.db.QueryContext(ctx, `
		SELECT 'primary', type, start_date_local, distance FROM activities WHERE id = ?
		UNION ALL
		SELECT 'archive', type, start_date_local, distance FROM deleted_activities WHERE id = ?
		UNION ALL
		SELECT * FROM (
			SELECT 'staging', type, start_date_local, distance FROM activities_staging
			WHERE id = ? ORDER BY staged_at DESC LIMIT 1
		)
	`, activityID, activityID, activityID)
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
		start, err := warehouse.ParseLocalStart(startLocal)
		if err != nil {
			return warehouse.LookupResult{}, &apperrors.WarehouseError{Op: "lookup", Err: err}
		}
		hits = append(hits, warehouse.LookupResult{
			Activity: activity.Summary{ID: activityID, Type: activity.Type(typ), StartDateLocal: start, Distance: distance},
			Source:   warehouse.Source(source),
		})
	}
	if err := rows.Err(); err != nil {
		return warehouse.LookupResult{}, &apperrors.WarehouseError{Op: "lookup", Err: err}
	}

	return warehouse.Resolve(activityID, hits)
}

func (w *Warehouse) ArchiveAndRemove(ctx context.Context, del warehouse.Deletion) (warehouse.Outcome, error) {
	ctx, cancel := warehouse.WithTimeout(ctx, w.timeout)
	defer cancel()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return warehouse.Skipped, &apperrors.WarehouseError{Op: "archive", Err: err}
	}
	defer tx.Rollback()

	var eventTime sql.NullInt64
	if !del.EventTime.IsZero() {
		eventTime = sql.NullInt64{Int64: del.EventTime.UnixNano(), Valid: true}
	}

	archived, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO deleted_activities (
			id, type, start_date, start_date_local, distance, payload, updated_at,
			deleted_at, delete_event_time, correlation_id
		)
		SELECT id, type, start_date, start_date_local, distance, payload, updated_at, ?, ?, ?
		FROM activities
		WHERE id = ?
	`, w.now().UnixNano(), eventTime, del.CorrelationID, del.ActivityID)
	if err != nil {
		return warehouse.Skipped, &apperrors.WarehouseError{Op: "archive", Err: err}
	}

	removed, err := tx.ExecContext(ctx, `DELETE FROM activities WHERE id = ?`, del.ActivityID)
	if err != nil {
		return warehouse.Skipped, &apperrors.WarehouseError{Op: "remove", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return warehouse.Skipped, &apperrors.WarehouseError{Op: "commit", Err: err}
	}

	archivedRows, _ := archived.RowsAffected()
	removedRows, _ := removed.RowsAffected()
	if archivedRows == 0 && removedRows == 0 {
		return warehouse.Skipped, nil
	}
	return warehouse.Processed, nil
}

func (w *Warehouse) Close() error {
	return w.db.Close()
}
