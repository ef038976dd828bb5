package mocks

import (
	"context"
	"sync"
	"time"

	shared "github.com/desirelines/pipeline/pkg"
	"github.com/desirelines/pipeline/pkg/domain/activity"
	"github.com/desirelines/pipeline/pkg/execution"
	"github.com/desirelines/pipeline/pkg/outcome"
	"github.com/desirelines/pipeline/pkg/warehouse"
)

// --- Instant Timer ---

// InstantTimer satisfies backoff.Timer and fires immediately. Requested
// waits are recorded so tests can assert on the retry schedule.
type InstantTimer struct {
	mu    sync.Mutex
	waits []time.Duration
	c     chan time.Time
}

func NewInstantTimer() *InstantTimer {
	return &InstantTimer{c: make(chan time.Time, 1)}
}

func (t *InstantTimer) Start(d time.Duration) {
	t.mu.Lock()
	t.waits = append(t.waits, d)
	t.mu.Unlock()
	t.c <- time.Now()
}

func (t *InstantTimer) Stop() {}

func (t *InstantTimer) C() <-chan time.Time { return t.c }

func (t *InstantTimer) Waits() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]time.Duration(nil), t.waits...)
}

// --- Mock Publisher ---
type MockPublisher struct {
	PublishFunc func(ctx context.Context, topic string, data []byte, attrs map[string]string) (string, error)
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, data []byte, attrs map[string]string) (string, error) {
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, topic, data, attrs)
	}
	return "msg-id", nil
}

// --- Mock Storage ---
type MockBlobStore struct {
	WriteFunc func(ctx context.Context, bucket, object string, data []byte) error
	ReadFunc  func(ctx context.Context, bucket, object string) ([]byte, error)
}

func (m *MockBlobStore) Write(ctx context.Context, bucket, object string, data []byte) error {
	if m.WriteFunc != nil {
		return m.WriteFunc(ctx, bucket, object, data)
	}
	return nil
}
func (m *MockBlobStore) Read(ctx context.Context, bucket, object string) ([]byte, error) {
	if m.ReadFunc != nil {
		return m.ReadFunc(ctx, bucket, object)
	}
	return nil, shared.ErrObjectNotFound
}

// MockVersionedBlobStore reports every object as missing unless a func is set.
type MockVersionedBlobStore struct {
	WriteFunc             func(ctx context.Context, bucket, object string, data []byte) error
	ReadFunc              func(ctx context.Context, bucket, object string) ([]byte, error)
	ReadVersionedFunc     func(ctx context.Context, bucket, object string) ([]byte, int64, error)
	WriteIfGenerationFunc func(ctx context.Context, bucket, object string, data []byte, generation int64) (int64, error)
}

func (m *MockVersionedBlobStore) Write(ctx context.Context, bucket, object string, data []byte) error {
	if m.WriteFunc != nil {
		return m.WriteFunc(ctx, bucket, object, data)
	}
	return nil
}
func (m *MockVersionedBlobStore) Read(ctx context.Context, bucket, object string) ([]byte, error) {
	if m.ReadFunc != nil {
		return m.ReadFunc(ctx, bucket, object)
	}
	data, _, err := m.ReadVersioned(ctx, bucket, object)
	return data, err
}
func (m *MockVersionedBlobStore) ReadVersioned(ctx context.Context, bucket, object string) ([]byte, int64, error) {
	if m.ReadVersionedFunc != nil {
		return m.ReadVersionedFunc(ctx, bucket, object)
	}
	return nil, 0, shared.ErrObjectNotFound
}
func (m *MockVersionedBlobStore) WriteIfGeneration(ctx context.Context, bucket, object string, data []byte, generation int64) (int64, error) {
	if m.WriteIfGenerationFunc != nil {
		return m.WriteIfGenerationFunc(ctx, bucket, object, data, generation)
	}
	return generation + 1, nil
}

// --- Mock Activity Source ---
type MockActivitySource struct {
	GetActivitySummaryFunc func(ctx context.Context, id int64) (activity.Summary, error)
	GetActivityRecordFunc  func(ctx context.Context, id int64) (*activity.Record, error)
	RecordsByYearFunc      func(ctx context.Context, year int) ([]activity.Record, error)
}

func (m *MockActivitySource) GetActivitySummary(ctx context.Context, id int64) (activity.Summary, error) {
	if m.GetActivitySummaryFunc != nil {
		return m.GetActivitySummaryFunc(ctx, id)
	}
	return activity.Summary{}, nil
}
func (m *MockActivitySource) GetActivityRecord(ctx context.Context, id int64) (*activity.Record, error) {
	if m.GetActivityRecordFunc != nil {
		return m.GetActivityRecordFunc(ctx, id)
	}
	return &activity.Record{ID: id}, nil
}
func (m *MockActivitySource) RecordsByYear(ctx context.Context, year int) ([]activity.Record, error) {
	if m.RecordsByYearFunc != nil {
		return m.RecordsByYearFunc(ctx, year)
	}
	return nil, nil
}

// --- Mock Warehouse ---
type MockWarehouse struct {
	WriteFunc            func(ctx context.Context, rec *activity.Record) (warehouse.Stats, error)
	LookupMetadataFunc   func(ctx context.Context, id int64) (warehouse.LookupResult, error)
	ArchiveAndRemoveFunc func(ctx context.Context, d warehouse.Deletion) (warehouse.Outcome, error)
	CloseFunc            func() error
}

func (m *MockWarehouse) Write(ctx context.Context, rec *activity.Record) (warehouse.Stats, error) {
	if m.WriteFunc != nil {
		return m.WriteFunc(ctx, rec)
	}
	return warehouse.Stats{StagedRows: 1, RowsAffected: 1}, nil
}
func (m *MockWarehouse) LookupMetadata(ctx context.Context, id int64) (warehouse.LookupResult, error) {
	if m.LookupMetadataFunc != nil {
		return m.LookupMetadataFunc(ctx, id)
	}
	return warehouse.LookupResult{}, nil
}
func (m *MockWarehouse) ArchiveAndRemove(ctx context.Context, d warehouse.Deletion) (warehouse.Outcome, error) {
	if m.ArchiveAndRemoveFunc != nil {
		return m.ArchiveAndRemoveFunc(ctx, d)
	}
	return warehouse.Processed, nil
}
func (m *MockWarehouse) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// --- Mock Ledger ---
type MockLedger struct {
	StartFunc  func(ctx context.Context, rec *execution.Record) (string, error)
	FinishFunc func(ctx context.Context, id string, res *outcome.Result, handlerErr error) error
}

func (m *MockLedger) Start(ctx context.Context, rec *execution.Record) (string, error) {
	if m.StartFunc != nil {
		return m.StartFunc(ctx, rec)
	}
	return "exec-id", nil
}
func (m *MockLedger) Finish(ctx context.Context, id string, res *outcome.Result, handlerErr error) error {
	if m.FinishFunc != nil {
		return m.FinishFunc(ctx, id, res, handlerErr)
	}
	return nil
}
