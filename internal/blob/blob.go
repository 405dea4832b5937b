// Package blob is the object-storage boundary for attachments: a
// content-addressable-by-path store with upload, download, and public URL
// resolution. Production runs on S3; the disk store backs development and
// tests.
package blob

import (
	"context"
	"io"
)

type Store interface {
	Upload(ctx context.Context, path string, body io.Reader, contentType string) error
	Download(ctx context.Context, path string) (io.ReadCloser, error)
	PublicURL(ctx context.Context, path string) (string, error)
}
