// Package storage provides the blob store report artifacts are written
// to. The core is storage-layer agnostic; backends implement BlobStore.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Get for keys that were never put (or were
// deleted).
var ErrNotFound = errors.New("blob not found")

// BlobStore is the artifact store interface. Keys are slash-separated
// paths such as "reports/<id>.csv".
type BlobStore interface {
	// Put streams r into the blob at key, replacing any existing content,
	// and returns the number of bytes written.
	Put(ctx context.Context, key string, r io.Reader) (int64, error)

	// Get opens the blob at key for reading. The caller closes it.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the blob at key. Deleting a missing key is not an
	// error.
	Delete(ctx context.Context, key string) error
}
