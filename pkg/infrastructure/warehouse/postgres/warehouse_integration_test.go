//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/desirelines/pipeline/pkg/apperrors"
	"github.com/desirelines/pipeline/pkg/domain/activity"
	"github.com/desirelines/pipeline/pkg/warehouse"
)

func newTestWarehouse(t *testing.T) (*Warehouse, *pgxpool.Pool) {
	t.Helper()
	ctx := context.Background()

	pg, err := postgrescontainer.Run(ctx, "postgres:16-alpine",
		postgrescontainer.WithDatabase("desirelines"),
		postgrescontainer.WithUsername("pipeline"),
		postgrescontainer.WithPassword("pipeline"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitForDatabase(ctx, connStr))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	w := NewWithPool(pool, 10*time.Second)
	require.NoError(t, w.EnsureSchema(ctx))
	return w, pool
}

func record(id int64, distance float64, start time.Time) *activity.Record {
	return &activity.Record{
		ID:             id,
		Name:           "Morning Ride",
		Type:           activity.TypeRide,
		SportType:      "Ride",
		Distance:       distance,
		StartDate:      start,
		StartDateLocal: start.Add(-5 * time.Hour),
	}
}

func TestWarehouse_StageThenMerge(t *testing.T) {
	ctx := context.Background()
	w, pool := newTestWarehouse(t)
	start := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)

	stats, err := w.Write(ctx, record(42, 10000, start))
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.StagedRows)
	assert.Equal(t, int64(1), stats.RowsAffected)

	_, err = w.Write(ctx, record(42, 12000, start))
	require.NoError(t, err)

	var count int
	var distance float64
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*), max(distance) FROM activities WHERE id = 42`).Scan(&count, &distance))
	assert.Equal(t, 1, count)
	assert.Equal(t, 12000.0, distance)

	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM activities_staging`).Scan(&count))
	assert.Zero(t, count, "merged rows leave staging")

	got, err := w.LookupMetadata(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, warehouse.SourcePrimary, got.Source)
	assert.Equal(t, "2023-05-01", got.Activity.DateStr())
}

func TestWarehouse_LookupReasons(t *testing.T) {
	ctx := context.Background()
	w, pool := newTestWarehouse(t)

	_, err := w.LookupMetadata(ctx, 1)
	nf, ok := apperrors.AsNotFound(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ReasonNeverAggregated, nf.Reason)

	_, err = pool.Exec(ctx, stageSQL, int64(2), "Ride", time.Now(), "2023-01-01T08:00:00Z", 1000.0, []byte(`{}`))
	require.NoError(t, err)

	_, err = w.LookupMetadata(ctx, 2)
	nf, ok = apperrors.AsNotFound(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ReasonNotYetSynced, nf.Reason)
}

func TestWarehouse_ArchiveAndRemove(t *testing.T) {
	ctx := context.Background()
	w, _ := newTestWarehouse(t)
	_, err := w.Write(ctx, record(7, 5000, time.Date(2023, 2, 1, 9, 0, 0, 0, time.UTC)))
	require.NoError(t, err)

	del := warehouse.Deletion{ActivityID: 7, EventTime: time.Now().UTC(), CorrelationID: "corr-1"}

	out, err := w.ArchiveAndRemove(ctx, del)
	require.NoError(t, err)
	assert.Equal(t, warehouse.Processed, out)

	got, err := w.LookupMetadata(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, warehouse.SourceArchive, got.Source)

	out, err = w.ArchiveAndRemove(ctx, del)
	require.NoError(t, err)
	assert.Equal(t, warehouse.Skipped, out, "second delete finds nothing to move")
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
