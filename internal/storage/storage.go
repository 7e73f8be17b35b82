package storage

import (
	"context"
	"io"
)

// Store is the durable home for audio blobs. Refs persisted on chunks and
// enrollments are object names within the configured bucket.
type Store interface {
	Upload(ctx context.Context, objectName string, contentType string, r io.Reader) (ref string, err error)
	Fetch(ctx context.Context, objectName string) ([]byte, error)
}
