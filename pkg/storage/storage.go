package storage

import (
	"context"
	"io"
	"time"
)

// AttachmentStore is the blob store behind message attachments.
type AttachmentStore interface {
	// Write stores content from the reader under the given key. size may be
	// -1 when unknown.
	Write(ctx context.Context, key string, r io.Reader, size int64, contentType string) error

	// Read retrieves content for the given key. The caller closes the
	// returned ReadCloser.
	Read(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the content with the given key. Deleting a missing key
	// is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether content with the given key exists.
	Exists(ctx context.Context, key string) (bool, error)

	// URL returns a URL for accessing the content. For S3 this is a
	// presigned URL valid for the given duration; for local storage it is a
	// file path.
	URL(ctx context.Context, key string, expires time.Duration) (string, error)
}
