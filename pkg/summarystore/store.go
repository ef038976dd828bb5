// Package summarystore persists the per-year summary document and its
// derived timeseries in blob storage.
package summarystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	shared "github.com/desirelines/pipeline/pkg"
	"github.com/desirelines/pipeline/pkg/apperrors"
	"github.com/desirelines/pipeline/pkg/domain/pacing"
	"github.com/desirelines/pipeline/pkg/domain/summary"
)

// ObjectPath returns the blob path of one document kind for a year.
func ObjectPath(year int, kind string) string {
	return fmt.Sprintf(shared.SummaryObjectFormat, year, kind)
}

// Snapshot is a summary as read, together with the generation it was read at.
type Snapshot struct {
	Year       int
	Summary    *summary.YearSummary
	Generation int64
}

// Exists reports whether the summary had been written before.
func (s *Snapshot) Exists() bool { return s.Generation != 0 }

type Store struct {
	Logger *slog.Logger

	blobs  shared.VersionedBlobStore
	bucket string
}

func New(blobs shared.VersionedBlobStore, bucket string) *Store {
	return &Store{Logger: slog.Default(), blobs: blobs, bucket: bucket}
}

// Read loads the summary for year. A missing object yields an empty summary
// at generation 0. An undecodable document stays a retryable StorageError:
// deliveries for the year are redelivered until the object is repaired.
func (s *Store) Read(ctx context.Context, year int) (*Snapshot, error) {
	path := ObjectPath(year, shared.KindSummary)
	data, gen, err := s.blobs.ReadVersioned(ctx, s.bucket, path)
	if errors.Is(err, shared.ErrObjectNotFound) {
		return &Snapshot{Year: year, Summary: summary.New()}, nil
	}
	if err != nil {
		return nil, &apperrors.StorageError{Op: "read", Path: path, Err: err}
	}

	doc := summary.New()
	if err := json.Unmarshal(data, doc); err != nil {
		s.Logger.Error("Summary document is corrupt, deliveries for this year will be redelivered until it is repaired",
			"bucket", s.bucket, "path", path, "generation", gen, "error", err)
		return nil, &apperrors.StorageError{Op: "decode", Path: path, Err: err}
	}
	return &Snapshot{Year: year, Summary: doc, Generation: gen}, nil
}

// Write replaces the summary unconditionally.
func (s *Store) Write(ctx context.Context, doc *summary.YearSummary, year int) error {
	path := ObjectPath(year, shared.KindSummary)
	data, err := json.Marshal(doc)
	if err != nil {
		return &apperrors.StorageError{Op: "encode", Path: path, Err: err}
	}
	if err := s.blobs.Write(ctx, s.bucket, path, data); err != nil {
		return &apperrors.StorageError{Op: "write", Path: path, Err: err}
	}
	return nil
}

// Replace writes doc only if the stored summary is still at the snapshot's
// generation. The returned error matches apperrors.ErrConflict otherwise.
func (s *Store) Replace(ctx context.Context, snap *Snapshot, doc *summary.YearSummary) (int64, error) {
	path := ObjectPath(snap.Year, shared.KindSummary)
	data, err := json.Marshal(doc)
	if err != nil {
		return 0, &apperrors.StorageError{Op: "encode", Path: path, Err: err}
	}
	gen, err := s.blobs.WriteIfGeneration(ctx, s.bucket, path, data, snap.Generation)
	if err != nil {
		return 0, &apperrors.StorageError{Op: "replace", Path: path, Err: err}
	}
	return gen, nil
}

// WriteTimeseries stores one derived document of the given kind.
func (s *Store) WriteTimeseries(ctx context.Context, year int, kind string, body any) error {
	path := ObjectPath(year, kind)
	data, err := json.Marshal(body)
	if err != nil {
		return &apperrors.StorageError{Op: "encode", Path: path, Err: err}
	}
	if err := s.blobs.Write(ctx, s.bucket, path, data); err != nil {
		return &apperrors.StorageError{Op: "write", Path: path, Err: err}
	}
	return nil
}

// WritePacing stores distances.json and pacings.json for the year.
func (s *Store) WritePacing(ctx context.Context, year int, res pacing.Result) error {
	if err := s.WriteTimeseries(ctx, year, shared.KindDistances, res.Distances); err != nil {
		return err
	}
	return s.WriteTimeseries(ctx, year, shared.KindPacings, res.Pacings)
}
