package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Get when no document exists for a reference
var ErrNotFound = errors.New("document not found")

// DocumentStore persists rendered documents. Put returns the reference that
// is recorded on the certificate and later passed to Get.
type DocumentStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
	Get(ctx context.Context, ref string) (io.ReadCloser, error)
}
