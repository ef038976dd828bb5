// Package bigquery implements the activity warehouse on BigQuery.
package bigquery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/desirelines/pipeline/pkg/apperrors"
	"github.com/desirelines/pipeline/pkg/domain/activity"
	"github.com/desirelines/pipeline/pkg/warehouse"
)

// Warehouse writes detailed records to a dataset holding activities,
// activities_staging and deleted_activities. Staging is append-only.
type Warehouse struct {
	client  *bigquery.Client
	project string
	dataset string
	columns []string
	timeout time.Duration
	logger  *slog.Logger
}

// New reads the primary table schema once so MERGE can name every column.
func New(ctx context.Context, client *bigquery.Client, dataset string, timeout time.Duration, logger *slog.Logger) (*Warehouse, error) {
	if logger == nil {
		logger = slog.Default()
	}
	md, err := client.Dataset(dataset).Table(warehouse.TablePrimary).Metadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("read %s.%s schema: %w", dataset, warehouse.TablePrimary, err)
	}
	columns := make([]string, 0, len(md.Schema))
	for _, f := range md.Schema {
		columns = append(columns, f.Name)
	}
	return &Warehouse{
		client:  client,
		project: client.Project(),
		dataset: dataset,
		columns: columns,
		timeout: timeout,
		logger:  logger,
	}, nil
}

func (w *Warehouse) table(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", w.project, w.dataset, name)
}

func (w *Warehouse) Write(ctx context.Context, rec *activity.Record) (warehouse.Stats, error) {
	ctx, cancel := warehouse.WithTimeout(ctx, w.timeout)
	defer cancel()

	row, err := newStagedRow(rec, time.Now())
	if err != nil {
		return warehouse.Stats{}, &apperrors.WarehouseError{Op: "encode", Err: err}
	}

	inserter := w.client.Dataset(w.dataset).Table(warehouse.TableStaging).Inserter()
	if err := inserter.Put(ctx, row); err != nil {
		return warehouse.Stats{}, &apperrors.WarehouseError{Op: "stage", Err: err}
	}

	affected, elapsed, err := w.exec(ctx, buildMergeSQL(w.table(warehouse.TablePrimary), w.table(warehouse.TableStaging), w.columns),
		bigquery.QueryParameter{Name: "id", Value: rec.ID})
	if err != nil {
		return warehouse.Stats{}, &apperrors.WarehouseError{Op: "merge", Err: err}
	}

	w.logger.Info("Merged activity into warehouse",
		"activity_id", rec.ID,
		"rows_affected", affected,
		"execution_time_ms", elapsed.Milliseconds(),
	)
	return warehouse.Stats{StagedRows: 1, RowsAffected: affected, ExecutionTime: elapsed}, nil
}

type lookupRow struct {
	Source         string    `bigquery:"source"`
	Type           string    `bigquery:"type"`
	StartDateLocal time.Time `bigquery:"start_date_local"`
	Distance       float64   `bigquery:"distance"`
}

func (w *Warehouse) LookupMetadata(ctx context.Context, activityID int64) (warehouse.LookupResult, error) {
	ctx, cancel := warehouse.WithTimeout(ctx, w.timeout)
	defer cancel()

	q := w.client.Query(buildLookupSQL(w.table(warehouse.TablePrimary), w.table(warehouse.TableArchive), w.table(warehouse.TableStaging)))
	q.Parameters = []bigquery.QueryParameter{{Name: "id", Value: activityID}}

	it, err := q.Read(ctx)
	if err != nil {
		return warehouse.LookupResult{}, &apperrors.WarehouseError{Op: "lookup", Err: err}
	}

	var hits []warehouse.LookupResult
	for {
		var row lookupRow
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return warehouse.LookupResult{}, &apperrors.WarehouseError{Op: "lookup", Err: err}
		}
		hits = append(hits, warehouse.LookupResult{
			Activity: activity.Summary{
				ID:             activityID,
				Type:           activity.Type(row.Type),
				StartDateLocal: row.StartDateLocal.UTC(),
				Distance:       row.Distance,
			},
			Source: warehouse.Source(row.Source),
		})
	}

	return warehouse.Resolve(activityID, hits)
}

func (w *Warehouse) ArchiveAndRemove(ctx context.Context, del warehouse.Deletion) (warehouse.Outcome, error) {
	ctx, cancel := warehouse.WithTimeout(ctx, w.timeout)
	defer cancel()

	primary := w.table(warehouse.TablePrimary)
	idParam := bigquery.QueryParameter{Name: "id", Value: del.ActivityID}

	archived, _, err := w.exec(ctx, buildArchiveSQL(primary, w.table(warehouse.TableArchive)),
		idParam,
		bigquery.QueryParameter{Name: "event_time", Value: bigquery.NullTimestamp{Timestamp: del.EventTime, Valid: !del.EventTime.IsZero()}},
		bigquery.QueryParameter{Name: "correlation_id", Value: del.CorrelationID},
	)
	if err != nil {
		return warehouse.Skipped, &apperrors.WarehouseError{Op: "archive", Err: err}
	}

	if archived == 0 {
		// already archived by an earlier attempt; the primary row may remain
		exists, err := w.existsInPrimary(ctx, del.ActivityID)
		if err != nil {
			return warehouse.Skipped, &apperrors.WarehouseError{Op: "archive", Err: err}
		}
		if !exists {
			return warehouse.Skipped, nil
		}
	}

	if _, _, err := w.exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = @id", primary), idParam); err != nil {
		return warehouse.Skipped, &apperrors.WarehouseError{Op: "remove", Err: err}
	}
	return warehouse.Processed, nil
}

func (w *Warehouse) existsInPrimary(ctx context.Context, id int64) (bool, error) {
	q := w.client.Query(fmt.Sprintf("SELECT COUNT(*) AS n FROM %s WHERE id = @id", w.table(warehouse.TablePrimary)))
	q.Parameters = []bigquery.QueryParameter{{Name: "id", Value: id}}
	it, err := q.Read(ctx)
	if err != nil {
		return false, err
	}
	var row struct {
		N int64 `bigquery:"n"`
	}
	if err := it.Next(&row); err != nil {
		return false, err
	}
	return row.N > 0, nil
}

func (w *Warehouse) Close() error {
	return w.client.Close()
}

// exec runs a DML statement and reports affected rows and job duration.
func (w *Warehouse) exec(ctx context.Context, sql string, params ...bigquery.QueryParameter) (int64, time.Duration, error) {
	q := w.client.Query(sql)
	q.Parameters = params

	job, err := q.Run(ctx)
	if err != nil {
		return 0, 0, err
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return 0, 0, err
	}
	if err := status.Err(); err != nil {
		return 0, 0, err
	}

	var affected int64
	var elapsed time.Duration
	if st := status.Statistics; st != nil {
		elapsed = st.EndTime.Sub(st.StartTime)
		if qs, ok := st.Details.(*bigquery.QueryStatistics); ok {
			affected = qs.NumDMLAffectedRows
		}
	}
	return affected, elapsed, nil
}

// stagedRow is a detailed record flattened to the staging table's columns.
type stagedRow struct {
	values map[string]bigquery.Value
}

func newStagedRow(rec *activity.Record, stagedAt time.Time) (*stagedRow, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var values map[string]bigquery.Value
	if err := dec.Decode(&values); err != nil {
		return nil, err
	}
	values["staged_at"] = stagedAt.UTC().Format(time.RFC3339Nano)
	return &stagedRow{values: values}, nil
}

// Save implements bigquery.ValueSaver. An empty insert id lets the client
// generate one, so a retried write lands as a second staged row.
func (r *stagedRow) Save() (map[string]bigquery.Value, string, error) {
	return r.values, "", nil
}

func buildMergeSQL(primary, staging string, columns []string) string {
	var set []string
	for _, c := range columns {
		if c == "id" {
			continue
		}
		set = append(set, fmt.Sprintf("%s = source.%s", c, c))
	}
	sort.Strings(set)

	return fmt.Sprintf(`MERGE %s AS target
USING (
    SELECT * EXCEPT(row_num, staged_at) FROM (
        SELECT *, ROW_NUMBER() OVER (PARTITION BY id ORDER BY start_date DESC, staged_at DESC) AS row_num
        FROM %s
        WHERE id = @id
    ) WHERE row_num = 1
) AS source
ON target.id = source.id
WHEN MATCHED THEN
    UPDATE SET %s
WHEN NOT MATCHED THEN
    INSERT ROW`, primary, staging, strings.Join(set, ", "))
}

func buildLookupSQL(primary, archive, staging string) string {
	return fmt.Sprintf(`SELECT source, type, start_date_local, distance FROM (
    SELECT 1 AS priority, 'primary' AS source, type, start_date_local, distance FROM %s WHERE id = @id
    UNION ALL
    SELECT 2, 'archive', type, start_date_local, distance FROM %s WHERE id = @id
    UNION ALL
    SELECT 3, 'staging', type, start_date_local, distance FROM %s WHERE id = @id
)
ORDER BY priority
LIMIT 1`, primary, archive, staging)
}

func buildArchiveSQL(primary, archive string) string {
	return fmt.Sprintf(`INSERT INTO %s
SELECT *, CURRENT_TIMESTAMP() AS deleted_at, @event_time AS delete_event_time, @correlation_id AS correlation_id
FROM %s
WHERE id = @id
  AND NOT EXISTS (SELECT 1 FROM %s WHERE id = @id)`, archive, primary, archive)
}
