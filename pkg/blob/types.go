package blob

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a key has no blob behind it.
var ErrNotFound = errors.New("blob not found")

// Store is where the archiver parks journal segments once they age out
// of SQLite. Keys are slash-separated paths, e.g.
// events/2026/08/25/1756100000_1756103600_<uuid>.jsonl.gz.
type Store interface {
	// Put uploads content under key, replacing any existing blob.
	Put(ctx context.Context, key string, reader io.Reader) error

	// Get retrieves the blob at key, or ErrNotFound.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// List returns all keys under prefix, lexically sorted.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes a blob, or returns ErrNotFound.
	Delete(ctx context.Context, key string) error
}
