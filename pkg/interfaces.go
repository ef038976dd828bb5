package shared

import (
	"context"
	"errors"
)

// ErrObjectNotFound is returned by blob stores for a missing object.
var ErrObjectNotFound = errors.New("object not found")

// --- Messaging Interfaces ---

type Publisher interface {
	Publish(ctx context.Context, topic string, data []byte, attrs map[string]string) (string, error)
}

// --- Storage Interfaces ---

type BlobStore interface {
	Write(ctx context.Context, bucket, object string, data []byte) error
	Read(ctx context.Context, bucket, object string) ([]byte, error)
}

// VersionedBlobStore adds generation based optimistic concurrency.
// Generation 0 means "the object does not exist".
type VersionedBlobStore interface {
	BlobStore
	ReadVersioned(ctx context.Context, bucket, object string) ([]byte, int64, error)
	WriteIfGeneration(ctx context.Context, bucket, object string, data []byte, generation int64) (int64, error)
}
